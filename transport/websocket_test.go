// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goguma-chat/peerlink/lib/testutil"
)

// echoServer upgrades and echoes every frame back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer socket.Close()
		for {
			messageType, data, err := socket.ReadMessage()
			if err != nil {
				return
			}
			if err := socket.WriteMessage(messageType, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketUnavailableWithoutEndpoint(t *testing.T) {
	_, err := StartWebSocket(context.Background(), Options{}, Events{})
	if !IsUnavailable(err) {
		t.Fatalf("StartWebSocket without URL: got %v, want UnavailableError", err)
	}
}

func TestWebSocketEcho(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages := make(chan Message, 8)
	conn, err := StartWebSocket(ctx, Options{WebSocketURL: wsURL(server)}, Events{
		OnMessage: func(m Message) { messages <- m },
	})
	if err != nil {
		t.Fatalf("StartWebSocket: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(Text("hello")); err != nil {
		t.Fatalf("Send text: %v", err)
	}
	echo := testutil.RequireReceive(t, messages, 5*time.Second, "text echo")
	if echo.Binary || echo.Text() != "hello" {
		t.Fatalf("text echo: got binary=%v %q", echo.Binary, echo.Text())
	}

	if err := conn.Send(Bytes([]byte{0x01, 0x02})); err != nil {
		t.Fatalf("Send binary: %v", err)
	}
	echo = testutil.RequireReceive(t, messages, 5*time.Second, "binary echo")
	if !echo.Binary || len(echo.Data) != 2 {
		t.Fatalf("binary echo: got binary=%v len=%d", echo.Binary, len(echo.Data))
	}
}

func TestWebSocketCancelClosesCleanly(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	states := make(chan State, 4)
	_, err := StartWebSocket(ctx, Options{WebSocketURL: wsURL(server)}, Events{
		OnState: func(s State) { states <- s },
	})
	if err != nil {
		t.Fatalf("StartWebSocket: %v", err)
	}

	cancel()
	if got := testutil.RequireReceive(t, states, 5*time.Second, "close state"); got != StateClosed {
		t.Fatalf("state after cancel: got %s, want %s", got, StateClosed)
	}
}

func TestWebSocketServerDropIsError(t *testing.T) {
	server := echoServer(t)

	states := make(chan State, 4)
	errs := make(chan error, 4)
	conn, err := StartWebSocket(context.Background(), Options{WebSocketURL: wsURL(server)}, Events{
		OnState: func(s State) { states <- s },
		OnError: func(err error) { errs <- err },
	})
	if err != nil {
		t.Fatalf("StartWebSocket: %v", err)
	}
	defer conn.Close()

	server.CloseClientConnections()
	if got := testutil.RequireReceive(t, states, 5*time.Second, "error state"); got != StateError {
		t.Fatalf("state after drop: got %s, want %s", got, StateError)
	}
	if err := testutil.RequireReceive(t, errs, 5*time.Second, "read error"); err == nil || errors.Is(err, context.Canceled) {
		t.Fatalf("read error: got %v", err)
	}
	server.Close()
}
