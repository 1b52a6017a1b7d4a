// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides peer-to-peer messaging channels with a
// graceful degradation ladder and no dedicated relay dependency.
//
// [Handle] is the stateful object a caller holds: one underlying
// driver connection at a time, a state machine over [State], and FIFO
// buffering of sends issued before the connection is ready. Drivers
// are [StartFunc] values: each knows how to establish one channel
// kind and reports inbound traffic through [Events] callbacks.
//
// Four drivers ship with the package: [StartWebRTC] (pion data
// channel negotiated through a [Negotiator] instead of a signaling
// server), [StartWebTransport] (datagrams), [StartWebSocket], and
// [StartPush] (server-push event stream inbound, HTTP POST outbound).
// [StartProgressive] chains the first three in fixed priority order,
// falling to the next tier on failure and surfacing the last error
// only when every configured tier fails.
//
// [Controller] sits above handles: it tracks the user's preferred
// [Mode] (persisted in storage, propagated across instances via a
// broadcast topic), serializes concurrent switch requests, and adopts
// a new handle only after it has connected, rolling back to the
// previous handle otherwise.
//
// Cancellation is context-based throughout: each connect attempt owns
// one context, threaded into the active driver, and cancelling it is
// the sole teardown mechanism. Every wait inside a driver (channel
// open, offer wait, gather wait, stream read) honors that context.
package transport
