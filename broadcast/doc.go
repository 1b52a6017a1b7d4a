// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package broadcast provides same-origin, cross-tab style message
// passing between peerlink instances.
//
// [Broadcaster] is a topic-based publish/subscribe contract.
// [MemoryBroadcaster] is the in-process implementation (the
// BroadcastChannel analogue). [StoreBroadcaster] is the fallback for
// environments without a broadcast channel: it publishes by writing a
// frame to a transient storage key and immediately removing it, and
// subscribers observe the write through the store's watch capability
// (the storage-event analogue).
//
// Delivery is best-effort in both implementations: a slow subscriber
// loses frames rather than blocking publishers, and nothing is
// retained for subscribers that attach late. Consumers that need
// reliability layer retries on top (the signaling package's handshake
// retry queue does exactly this).
package broadcast
