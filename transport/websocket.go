// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// webSocketHandshakeTimeout bounds the opening handshake.
const webSocketHandshakeTimeout = 10 * time.Second

// StartWebSocket opens a socket to the configured endpoint and
// forwards message, error, and close events onto the transport
// callbacks.
func StartWebSocket(ctx context.Context, options Options, events Events) (Conn, error) {
	if options.WebSocketURL == "" {
		return nil, &UnavailableError{Tier: "websocket", Reason: "no endpoint configured"}
	}

	dialer := websocket.Dialer{HandshakeTimeout: webSocketHandshakeTimeout}
	socket, _, err := dialer.DialContext(ctx, options.WebSocketURL, options.Headers)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", options.WebSocketURL, err)
	}

	driver := &webSocketConn{socket: socket}

	// Closing the socket is what unblocks the read pump when the
	// driver context is cancelled.
	go func() {
		<-ctx.Done()
		socket.Close()
	}()

	go func() {
		for {
			messageType, data, err := socket.ReadMessage()
			if err != nil {
				switch {
				case ctx.Err() != nil:
					events.state(StateClosed)
				case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
					events.state(StateClosed)
				default:
					events.error(fmt.Errorf("websocket read: %w", err))
					events.state(StateError)
				}
				return
			}
			events.message(Message{
				Binary: messageType == websocket.BinaryMessage,
				Data:   data,
			})
		}
	}()

	return driver, nil
}

type webSocketConn struct {
	socket *websocket.Conn

	// writeMu serializes writers; gorilla permits one concurrent
	// writer only.
	writeMu sync.Mutex
}

func (d *webSocketConn) Send(message Message) error {
	messageType := websocket.TextMessage
	if message.Binary {
		messageType = websocket.BinaryMessage
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.socket.WriteMessage(messageType, message.Data)
}

func (d *webSocketConn) Close() error {
	d.writeMu.Lock()
	d.socket.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	d.writeMu.Unlock()
	return d.socket.Close()
}
