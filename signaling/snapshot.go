// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"fmt"
	"time"

	"github.com/goguma-chat/peerlink/lib/codec"
	"github.com/goguma-chat/peerlink/storage"
	"github.com/goguma-chat/peerlink/transport"
)

// Snapshot is the controller's persisted handshake state, rewritten
// after every mutation so a restarted instance resumes where it left
// off. Local tokens are stored in wire form.
type Snapshot struct {
	Role      transport.Role `cbor:"role"`
	SessionID string         `cbor:"sessionId"`

	// LocalOffer and LocalAnswer are this side's outstanding tokens.
	// At most one of them is set; a host carries an offer, a guest an
	// answer.
	LocalOffer  string `cbor:"localOffer,omitempty"`
	LocalAnswer string `cbor:"localAnswer,omitempty"`

	// AwaitingOffer is true on the guest side until a remote offer has
	// been applied. AwaitingAnswer is true while a published offer has
	// no applied answer. Publishing a fresh offer clears any previous
	// wait.
	AwaitingOffer  bool `cbor:"awaitingOffer,omitempty"`
	AwaitingAnswer bool `cbor:"awaitingAnswer,omitempty"`

	// Applied holds fingerprints of remote tokens already consumed,
	// so rebroadcasts and duplicate pastes are idempotent.
	Applied []string `cbor:"applied,omitempty"`

	Connected bool      `cbor:"connected,omitempty"`
	LastError string    `cbor:"lastError,omitempty"`
	UpdatedAt time.Time `cbor:"updatedAt"`
}

// loadSnapshot reads the persisted snapshot. Absence is not an error;
// ok is false.
func loadSnapshot(store storage.Store) (Snapshot, bool, error) {
	value, ok, err := store.Get(storage.KeySignalingSnapshot)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("reading signaling snapshot: %w", err)
	}
	if !ok {
		return Snapshot{}, false, nil
	}
	var snapshot Snapshot
	if err := codec.Unmarshal(value, &snapshot); err != nil {
		return Snapshot{}, false, fmt.Errorf("decoding signaling snapshot: %w", err)
	}
	return snapshot, true, nil
}

// saveSnapshot persists the snapshot.
func saveSnapshot(store storage.Store, snapshot Snapshot) error {
	value, err := codec.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding signaling snapshot: %w", err)
	}
	if err := store.Set(storage.KeySignalingSnapshot, value); err != nil {
		return fmt.Errorf("writing signaling snapshot: %w", err)
	}
	return nil
}
