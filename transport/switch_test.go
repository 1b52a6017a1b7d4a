// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goguma-chat/peerlink/broadcast"
	"github.com/goguma-chat/peerlink/lib/testutil"
	"github.com/goguma-chat/peerlink/storage"
)

func TestSwitchModePersistsAndConnects(t *testing.T) {
	store := storage.NewMemoryStore()
	bus := broadcast.NewMemoryBroadcaster()
	conn := &recordConn{}
	var ran bool

	options := Options{Drivers: &DriverSet{WebSocket: succeedingStart(conn, &ran)}}
	controller := NewController(store, bus, ModeProgressive, options, ControllerCallbacks{}, nil)
	defer controller.Teardown()

	if err := controller.SwitchMode(context.Background(), ModeWebSocket); err != nil {
		t.Fatalf("SwitchMode: %v", err)
	}
	if got := controller.Mode(); got != ModeWebSocket {
		t.Fatalf("mode: got %s, want %s", got, ModeWebSocket)
	}
	if !ran {
		t.Fatal("websocket driver never started")
	}

	value, ok, err := store.Get(storage.KeyMode)
	if err != nil || !ok {
		t.Fatalf("stored mode missing: ok=%v err=%v", ok, err)
	}
	if string(value) != string(ModeWebSocket) {
		t.Fatalf("stored mode: got %q, want %q", value, ModeWebSocket)
	}

	if err := controller.Send(Text("hi")); err != nil {
		t.Fatalf("Send through controller: %v", err)
	}
	if got := conn.messages(); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("forwarded sends: %v", got)
	}
}

func TestSwitchModeInitialConnectNotifies(t *testing.T) {
	store := storage.NewMemoryStore()
	bus := broadcast.NewMemoryBroadcaster()
	conn := &recordConn{}
	var ran bool

	// Progressive from a cold start: WebRTC is unconfigured, the
	// datagram tier carries the connection. The default mode already
	// being progressive must not swallow the notification.
	modeChanges := make(chan Mode, 4)
	options := Options{Drivers: &DriverSet{
		WebRTC:       unavailableStart("webrtc"),
		WebTransport: succeedingStart(conn, &ran),
	}}
	controller := NewController(store, bus, ModeProgressive, options, ControllerCallbacks{
		OnModeChange: func(m Mode) { modeChanges <- m },
	}, nil)
	defer controller.Teardown()

	if err := controller.SwitchMode(context.Background(), ModeProgressive); err != nil {
		t.Fatalf("SwitchMode: %v", err)
	}
	if !ran {
		t.Fatal("webtransport tier never started")
	}
	if got := testutil.RequireReceive(t, modeChanges, 5*time.Second, "initial mode change"); got != ModeProgressive {
		t.Fatalf("mode change: got %s, want %s", got, ModeProgressive)
	}

	// Switching to the mode already live is a no-op and stays silent.
	if err := controller.SwitchMode(context.Background(), ModeProgressive); err != nil {
		t.Fatalf("repeat SwitchMode: %v", err)
	}
	select {
	case m := <-modeChanges:
		t.Fatalf("unexpected mode change to %s from no-op switch", m)
	default:
	}
}

func TestSwitchModeFailureKeepsCurrent(t *testing.T) {
	store := storage.NewMemoryStore()
	bus := broadcast.NewMemoryBroadcaster()
	conn := &recordConn{}
	var ran bool
	cause := errors.New("datagram endpoint refused")
	var attempts int

	modeChanges := make(chan Mode, 4)
	options := Options{Drivers: &DriverSet{
		WebSocket:    succeedingStart(conn, &ran),
		WebTransport: failingStart(cause, &attempts),
	}}
	controller := NewController(store, bus, ModeProgressive, options, ControllerCallbacks{
		OnModeChange: func(m Mode) { modeChanges <- m },
	}, nil)
	defer controller.Teardown()

	if err := controller.SwitchMode(context.Background(), ModeWebSocket); err != nil {
		t.Fatalf("SwitchMode websocket: %v", err)
	}
	testutil.RequireReceive(t, modeChanges, 5*time.Second, "initial mode change")

	err := controller.SwitchMode(context.Background(), ModeUDP)
	if !errors.Is(err, cause) {
		t.Fatalf("SwitchMode udp: got %v, want %v", err, cause)
	}

	// The failed switch left mode, stored preference, and the live
	// handle untouched, and announced nothing.
	if got := controller.Mode(); got != ModeWebSocket {
		t.Fatalf("mode after failed switch: got %s, want %s", got, ModeWebSocket)
	}
	value, _, _ := store.Get(storage.KeyMode)
	if string(value) != string(ModeWebSocket) {
		t.Fatalf("stored mode after failed switch: got %q", value)
	}
	if err := controller.Send(Text("still works")); err != nil {
		t.Fatalf("Send after failed switch: %v", err)
	}
	select {
	case m := <-modeChanges:
		t.Fatalf("unexpected mode change to %s after failed switch", m)
	default:
	}
}

func TestSwitchModePushFallsBackToProgressive(t *testing.T) {
	store := storage.NewMemoryStore()
	bus := broadcast.NewMemoryBroadcaster()
	conn := &recordConn{}
	var ran bool

	options := Options{Drivers: &DriverSet{
		Push:         unavailableStart("push"),
		WebRTC:       unavailableStart("webrtc"),
		WebTransport: unavailableStart("webtransport"),
		WebSocket:    succeedingStart(conn, &ran),
	}}
	controller := NewController(store, bus, ModeProgressive, options, ControllerCallbacks{}, nil)
	defer controller.Teardown()

	if err := controller.SwitchMode(context.Background(), ModePush); err != nil {
		t.Fatalf("SwitchMode push: %v", err)
	}
	if got := controller.Mode(); got != ModeProgressive {
		t.Fatalf("mode after fallback: got %s, want %s", got, ModeProgressive)
	}
	if !ran {
		t.Fatal("progressive fallback never reached the websocket tier")
	}
}

func TestRefreshFollowsStoredMode(t *testing.T) {
	store := storage.NewMemoryStore()
	bus := broadcast.NewMemoryBroadcaster()
	conn := &recordConn{}
	var ran bool

	if err := store.Set(storage.KeyMode, []byte(ModeUDP)); err != nil {
		t.Fatalf("seeding stored mode: %v", err)
	}

	options := Options{Drivers: &DriverSet{WebTransport: succeedingStart(conn, &ran)}}
	controller := NewController(store, bus, ModeProgressive, options, ControllerCallbacks{}, nil)
	defer controller.Teardown()

	if err := controller.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := controller.Mode(); got != ModeUDP {
		t.Fatalf("mode after refresh: got %s, want %s", got, ModeUDP)
	}
	if !ran {
		t.Fatal("webtransport driver never started")
	}
}

func TestRunFollowsSiblingAnnouncements(t *testing.T) {
	store := storage.NewMemoryStore()
	bus := broadcast.NewMemoryBroadcaster()

	options := Options{Drivers: &DriverSet{
		WebSocket: func(ctx context.Context, o Options, e Events) (Conn, error) {
			return &recordConn{}, nil
		},
	}}

	follower := NewController(store, bus, ModeProgressive, options, ControllerCallbacks{}, nil)
	defer follower.Teardown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- follower.Run(ctx) }()

	// Give the follower a moment to subscribe before announcing.
	time.Sleep(50 * time.Millisecond)

	leader := NewController(store, bus, ModeProgressive, options, ControllerCallbacks{}, nil)
	defer leader.Teardown()
	if err := leader.SwitchMode(context.Background(), ModeWebSocket); err != nil {
		t.Fatalf("leader SwitchMode: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for follower.Mode() != ModeWebSocket {
		if time.Now().After(deadline) {
			t.Fatalf("follower never adopted announced mode, stuck at %s", follower.Mode())
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := testutil.RequireReceive(t, runDone, 5*time.Second, "Run exit"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run exit: got %v, want context.Canceled", err)
	}
}
