// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the key-value persistence layer behind
// peerlink's durable state: the preferred messaging mode, the peer
// signaling snapshot, and the transient cross-tab relay slot.
//
// [Store] is the minimal Get/Set/Delete contract. [Watchable] is an
// optional capability: stores that implement it deliver [WatchEvent]s
// for changes to a key, modeling browser storage events. Watching is
// message passing over an eventually-consistent medium, never a lock;
// consumers must tolerate missed events and duplicates.
//
// Three implementations:
//
//   - [MemoryStore] — map-backed, implements Watchable. The default
//     for tests and for single-process use where cross-instance
//     signaling goes through a shared MemoryStore.
//   - [FileStore] — one file per key under a root directory, values
//     zstd-compressed (handshake snapshots carry several kilobytes of
//     SDP that compresses well). Writes are atomic (temp + rename).
//   - [SQLiteStore] — single-table KV over a lib/sqlitepool connection
//     pool. Used by the CLI for durable snapshots.
package storage
