// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "fmt"

// Mode selects which driver family a Controller instantiates.
type Mode string

const (
	// ModeUDP uses WebTransport datagrams exclusively.
	ModeUDP Mode = "udp"
	// ModeProgressive tries WebRTC, then WebTransport, then WebSocket.
	ModeProgressive Mode = "progressive"
	// ModeWebSocket uses a websocket endpoint exclusively.
	ModeWebSocket Mode = "websocket"
	// ModePush uses the server-push relay contract.
	ModePush Mode = "push"
)

// ParseMode validates a stored or user-supplied mode string.
func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case ModeUDP, ModeProgressive, ModeWebSocket, ModePush:
		return Mode(value), nil
	}
	return "", fmt.Errorf("transport: unknown mode %q", value)
}

// State is the lifecycle position of a Handle. Exactly one Handle
// owns the authoritative value; transitions happen through driver
// state callbacks or the handle's own Connect/Disconnect entry
// points.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	// StateDegraded means the link reported partial failure (for
	// example ICE disconnected) without full teardown.
	StateDegraded State = "degraded"
	// StateRecovering means the link is actively re-establishing
	// (ICE restart in flight). Sends queue as during connecting.
	StateRecovering State = "recovering"
	StateClosed     State = "closed"
	StateError      State = "error"
)

// live reports whether the state represents a usable or in-progress
// connection (anything except idle/closed/error).
func (s State) live() bool {
	switch s {
	case StateConnecting, StateConnected, StateDegraded, StateRecovering:
		return true
	}
	return false
}
