// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used for persisted state
// (the signaling snapshot and mode preference written to storage).
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2): the same
// snapshot always serializes to identical bytes, which keeps
// change-detection in the storage layer trivial. Decoding ignores
// unknown fields so older snapshots survive upgrades.
package codec
