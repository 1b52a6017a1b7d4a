// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"testing"
)

// unavailableStart reports the tier unconfigured.
func unavailableStart(tier string) StartFunc {
	return func(ctx context.Context, options Options, events Events) (Conn, error) {
		return nil, &UnavailableError{Tier: tier, Reason: "not configured"}
	}
}

// failingStart fails with cause and counts attempts.
func failingStart(cause error, attempts *int) StartFunc {
	return func(ctx context.Context, options Options, events Events) (Conn, error) {
		*attempts++
		return nil, cause
	}
}

// succeedingStart returns conn and records that it ran.
func succeedingStart(conn Conn, ran *bool) StartFunc {
	return func(ctx context.Context, options Options, events Events) (Conn, error) {
		*ran = true
		return conn, nil
	}
}

func TestProgressiveFallsThroughToLaterTier(t *testing.T) {
	cause := errors.New("webtransport handshake failed")
	var attempts int
	var websocketRan bool
	errs := make(chan error, 4)

	options := Options{Drivers: &DriverSet{
		WebRTC:       unavailableStart("webrtc"),
		WebTransport: failingStart(cause, &attempts),
		WebSocket:    succeedingStart(&recordConn{}, &websocketRan),
	}}
	events := Events{OnError: func(err error) { errs <- err }}

	conn, err := StartProgressive(context.Background(), options, events)
	if err != nil {
		t.Fatalf("StartProgressive: %v", err)
	}
	if conn == nil {
		t.Fatal("StartProgressive returned nil conn")
	}
	if !websocketRan {
		t.Fatal("websocket tier never attempted")
	}
	if attempts != 1 {
		t.Fatalf("webtransport attempted %d times, want 1", attempts)
	}

	// The failing tier's error was surfaced non-fatally; the skipped
	// unavailable tier was not.
	select {
	case got := <-errs:
		if !errors.Is(got, cause) {
			t.Fatalf("surfaced error: got %v, want %v", got, cause)
		}
	default:
		t.Fatal("failing tier error was not surfaced")
	}
	select {
	case got := <-errs:
		t.Fatalf("unexpected extra error surfaced: %v", got)
	default:
	}
}

func TestProgressiveAllUnavailable(t *testing.T) {
	options := Options{Drivers: &DriverSet{
		WebRTC:       unavailableStart("webrtc"),
		WebTransport: unavailableStart("webtransport"),
		WebSocket:    unavailableStart("websocket"),
	}}

	_, err := StartProgressive(context.Background(), options, Events{})
	if err == nil {
		t.Fatal("StartProgressive succeeded with no tiers configured")
	}
	if !IsUnavailable(err) {
		t.Fatalf("error is not UnavailableError: %v", err)
	}
}

func TestProgressiveReturnsLastError(t *testing.T) {
	last := errors.New("websocket refused")
	var ignored int

	options := Options{Drivers: &DriverSet{
		WebRTC:       unavailableStart("webrtc"),
		WebTransport: failingStart(errors.New("webtransport refused"), &ignored),
		WebSocket:    failingStart(last, &ignored),
	}}

	_, err := StartProgressive(context.Background(), options, Events{})
	if !errors.Is(err, last) {
		t.Fatalf("StartProgressive: got %v, want last tier error %v", err, last)
	}
}

func TestProgressiveStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var websocketRan bool

	options := Options{Drivers: &DriverSet{
		WebRTC: unavailableStart("webrtc"),
		WebTransport: func(ctx context.Context, options Options, events Events) (Conn, error) {
			cancel()
			return nil, errors.New("interrupted")
		},
		WebSocket: succeedingStart(&recordConn{}, &websocketRan),
	}}

	_, err := StartProgressive(ctx, options, Events{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("StartProgressive: got %v, want context.Canceled", err)
	}
	if websocketRan {
		t.Fatal("websocket tier attempted after cancellation")
	}
}
