// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package signaling exchanges WebRTC session descriptions without a
// signaling server. Descriptions travel as copy-paste tokens: base64
// envelopes carrying the SDP, a session id, and a creation time. A
// Controller implements transport.Negotiator on top of them, relays
// tokens between instances of one origin over a broadcaster, and
// persists its state so a restart resumes the handshake.
package signaling
