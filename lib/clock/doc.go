// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the scheduling-heavy parts of
// peerlink: handshake retry ticks, token TTL checks, ICE-restart
// delays, and push-stream reconnect backoff.
//
// Production code injects [Real]; tests inject [Fake] and drive time
// forward with Advance, so no test ever sleeps to wait for a retry
// interval or a token to expire.
package clock
