// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the
// select-with-timeout safety valve so individual tests never hang
// forever on a channel that a bug left unserviced. These helpers are
// the only place the test suite touches the real wall clock; timer
// logic itself is tested against lib/clock's fake.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since a test that cannot receive its setup signal cannot proceed.
package testutil
