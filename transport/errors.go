// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send when the handle is in a state
// that neither forwards nor queues (idle, closed, error).
var ErrNotConnected = errors.New("transport is not connected")

// UnavailableError marks a transport tier that is not configured or
// not supported in the current environment. It is an expected
// condition: the progressive chain falls through it without logging a
// fault, and a push-mode switch failing with it retries in
// progressive mode.
type UnavailableError struct {
	// Tier names the transport kind ("webrtc", "webtransport",
	// "websocket", "push").
	Tier string

	// Reason explains why the tier cannot be used.
	Reason string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("transport: %s unavailable: %s", e.Tier, e.Reason)
}

// IsUnavailable reports whether err (anywhere in its chain) is an
// UnavailableError.
func IsUnavailable(err error) bool {
	var unavailable *UnavailableError
	return errors.As(err, &unavailable)
}
