// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package main

import "sync"

// streamBuffer is the per-subscriber frame capacity. A subscriber
// that falls this far behind starts losing frames rather than
// blocking the room.
const streamBuffer = 64

// hub fans frames out to the event streams of each room. Rooms exist
// while they have subscribers; nothing is retained for late joiners.
type hub struct {
	mu    sync.Mutex
	rooms map[string]map[chan []byte]struct{}
}

func newHub() *hub {
	return &hub{rooms: make(map[string]map[chan []byte]struct{})}
}

// subscribe registers a stream in room and returns its frame channel.
func (h *hub) subscribe(room string) chan []byte {
	frames := make(chan []byte, streamBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[chan []byte]struct{})
	}
	h.rooms[room][frames] = struct{}{}
	return frames
}

// unsubscribe removes a stream, dropping the room when it empties.
func (h *hub) unsubscribe(room string, frames chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[room], frames)
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
}

// broadcast delivers one wire-ready SSE frame to every stream in room.
func (h *hub) broadcast(room string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for frames := range h.rooms[room] {
		select {
		case frames <- frame:
		default:
		}
	}
}

// subscriberCount reports the number of open streams in room.
func (h *hub) subscriberCount(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}
