// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sync"
)

// Compile-time interface checks.
var (
	_ Store     = (*MemoryStore)(nil)
	_ Watchable = (*MemoryStore)(nil)
)

// watchBuffer is the per-subscriber event channel capacity. Events
// beyond it are dropped rather than blocking the writer.
const watchBuffer = 16

// MemoryStore is a map-backed Store with change notification. Two
// components sharing one MemoryStore see each other's writes the way
// two browser tabs share localStorage.
type MemoryStore struct {
	mu       sync.Mutex
	values   map[string][]byte
	watchers map[string][]chan WatchEvent
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string][]byte),
		watchers: make(map[string][]chan WatchEvent),
	}
}

func (s *MemoryStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	return copied, true, nil
}

func (s *MemoryStore) Set(key string, value []byte) error {
	copied := make([]byte, len(value))
	copy(copied, value)

	s.mu.Lock()
	s.values[key] = copied
	s.notifyLocked(WatchEvent{Key: key, Value: copied})
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.notifyLocked(WatchEvent{Key: key, Deleted: true})
	}
	s.mu.Unlock()
	return nil
}

// Watch subscribes to changes of key until ctx is cancelled.
func (s *MemoryStore) Watch(ctx context.Context, key string) (<-chan WatchEvent, error) {
	events := make(chan WatchEvent, watchBuffer)

	s.mu.Lock()
	s.watchers[key] = append(s.watchers[key], events)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		subscribers := s.watchers[key]
		for index, subscriber := range subscribers {
			if subscriber == events {
				s.watchers[key] = append(subscribers[:index], subscribers[index+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(events)
	}()

	return events, nil
}

// notifyLocked fans an event out to subscribers of the key. Slow
// subscribers lose events instead of blocking the writer.
func (s *MemoryStore) notifyLocked(event WatchEvent) {
	for _, subscriber := range s.watchers[event.Key] {
		select {
		case subscriber <- event:
		default:
		}
	}
}
