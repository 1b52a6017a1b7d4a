// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goguma-chat/peerlink/storage"
)

// WatchableStore is the store capability StoreBroadcaster needs:
// plain KV plus change notification.
type WatchableStore interface {
	storage.Store
	storage.Watchable
}

// Compile-time interface check.
var _ Broadcaster = (*StoreBroadcaster)(nil)

// StoreBroadcaster publishes through a shared store's transient relay
// key: each frame is written and then immediately removed, and
// subscribers react to the write event. This mirrors the
// localStorage-event fallback used when no broadcast channel exists.
type StoreBroadcaster struct {
	store WatchableStore
	key   string
}

// storeFrame is the envelope written to the relay key.
type storeFrame struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// NewStoreBroadcaster creates a StoreBroadcaster over the shared
// store, using the standard transient relay key.
func NewStoreBroadcaster(store WatchableStore) *StoreBroadcaster {
	return &StoreBroadcaster{store: store, key: storage.KeyHandshakeRelay}
}

func (b *StoreBroadcaster) Publish(_ context.Context, topic string, payload []byte) error {
	frame, err := json.Marshal(storeFrame{Topic: topic, Payload: json.RawMessage(payload)})
	if err != nil {
		return fmt.Errorf("broadcast: encoding frame: %w", err)
	}
	if err := b.store.Set(b.key, frame); err != nil {
		return fmt.Errorf("broadcast: writing relay key: %w", err)
	}
	// The write is the signal; the slot is cleared right away so the
	// store never accumulates handshake material.
	if err := b.store.Delete(b.key); err != nil {
		return fmt.Errorf("broadcast: clearing relay key: %w", err)
	}
	return nil
}

func (b *StoreBroadcaster) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	events, err := b.store.Watch(ctx, b.key)
	if err != nil {
		return nil, fmt.Errorf("broadcast: watching relay key: %w", err)
	}

	frames := make(chan []byte, subscribeBuffer)
	go func() {
		defer close(frames)
		for event := range events {
			if event.Deleted {
				continue
			}
			var frame storeFrame
			if err := json.Unmarshal(event.Value, &frame); err != nil {
				continue
			}
			if frame.Topic != topic {
				continue
			}
			select {
			case frames <- []byte(frame.Payload):
			default:
			}
		}
	}()
	return frames, nil
}
