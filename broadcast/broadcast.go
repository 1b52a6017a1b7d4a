// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package broadcast

import (
	"context"
	"sync"
)

// subscribeBuffer is the per-subscriber channel capacity. Frames
// beyond it are dropped rather than blocking the publisher.
const subscribeBuffer = 16

// Broadcaster is a topic-based publish/subscribe channel shared by
// all peerlink instances of one origin. Publishing delivers to every
// current subscriber of the topic, including subscribers owned by the
// publishing instance; receivers deduplicate.
type Broadcaster interface {
	// Publish delivers payload to current subscribers of topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe returns a channel of payloads published to topic.
	// The channel closes when ctx is cancelled.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
}

// Compile-time interface check.
var _ Broadcaster = (*MemoryBroadcaster)(nil)

// MemoryBroadcaster is an in-process Broadcaster. Instances in the
// same process sharing one MemoryBroadcaster behave like tabs sharing
// a BroadcastChannel.
type MemoryBroadcaster struct {
	mu     sync.Mutex
	topics map[string][]chan []byte
}

// NewMemoryBroadcaster creates an empty MemoryBroadcaster.
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{topics: make(map[string][]chan []byte)}
}

func (b *MemoryBroadcaster) Publish(_ context.Context, topic string, payload []byte) error {
	copied := make([]byte, len(payload))
	copy(copied, payload)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subscriber := range b.topics[topic] {
		select {
		case subscriber <- copied:
		default:
		}
	}
	return nil
}

func (b *MemoryBroadcaster) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	frames := make(chan []byte, subscribeBuffer)

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], frames)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		subscribers := b.topics[topic]
		for index, subscriber := range subscribers {
			if subscriber == frames {
				b.topics[topic] = append(subscribers[:index], subscribers[index+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(frames)
	}()

	return frames, nil
}
