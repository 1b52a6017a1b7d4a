// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for peerlink
// binaries.
//
// Configuration comes from a single file named by either the
// PEERLINK_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no directory discovery and no
// environment-variable override of individual values: what the file
// says is what runs.
//
// [Config] holds the transport endpoints (WebSocket, WebTransport,
// push relay), ICE server entries for WebRTC, the preferred messaging
// mode, and the storage backend for persisted handshake state.
// [Default] returns a configuration suitable for local two-tab
// experiments: no endpoints configured, memory storage, progressive
// mode.
//
// This package depends on no other peerlink packages.
package config
