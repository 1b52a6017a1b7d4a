// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import "context"

// Keys used by peerlink components. Kept in one place so operators can
// inspect or clear them.
const (
	// KeyMode holds the persisted preferred messaging mode.
	KeyMode = "peerlink/mode"

	// KeySignalingSnapshot holds the CBOR-encoded peer signaling
	// snapshot, rewritten after every mutation.
	KeySignalingSnapshot = "peerlink/signaling"

	// KeyHandshakeRelay is the transient cross-tab broadcast slot:
	// written with a handshake frame, then immediately removed. Only
	// the write matters; watchers react to the Set event.
	KeyHandshakeRelay = "peerlink/handshake-relay"
)

// Store is the minimal key-value contract.
type Store interface {
	// Get returns the value for key. The second result is false when
	// the key is absent.
	Get(key string) ([]byte, bool, error)

	// Set writes the value for key, replacing any previous value.
	Set(key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
}

// WatchEvent describes one observed change to a watched key.
type WatchEvent struct {
	Key     string
	Value   []byte
	Deleted bool
}

// Watchable is an optional Store capability: delivery of change
// events for a key. Events may be dropped when a subscriber falls
// behind; subscribers requiring completeness must re-read the store.
type Watchable interface {
	// Watch returns a channel of change events for key. The channel
	// closes when ctx is cancelled.
	Watch(ctx context.Context, key string) (<-chan WatchEvent, error)
}
