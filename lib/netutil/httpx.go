// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O helpers shared by peerlink's
// relay-facing code. Response reads are bounded so a misbehaving
// server cannot force unbounded allocation. These helpers are for
// whole API responses, not streaming bodies, which are read
// incrementally.
package netutil

import (
	"io"
)

// MaxResponseSize bounds JSON API response body reads: 16 MB.
// Legitimate relay responses are orders of magnitude smaller.
const MaxResponseSize int64 = 16 << 20

// ReadResponse reads a response body up to MaxResponseSize bytes. Use
// instead of io.ReadAll for HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// ErrorBody reads an HTTP error response body for inclusion in a
// diagnostic message. Read errors are ignored; a partial body is still
// useful.
func ErrorBody(body io.Reader) string {
	data, _ := ReadResponse(io.LimitReader(body, 4096))
	return string(data)
}
