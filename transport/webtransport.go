// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"

	"github.com/quic-go/webtransport-go"
)

// StartWebTransport connects a datagram session to the configured
// endpoint. Inbound datagrams are pumped into the message callback;
// outbound payloads go out as single datagrams (the session does not
// fragment, so callers keep payloads under the path MTU).
func StartWebTransport(ctx context.Context, options Options, events Events) (Conn, error) {
	if options.WebTransportURL == "" {
		return nil, &UnavailableError{Tier: "webtransport", Reason: "no endpoint configured"}
	}

	var dialer webtransport.Dialer
	_, session, err := dialer.Dial(ctx, options.WebTransportURL, options.Headers)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", options.WebTransportURL, err)
	}

	driver := &webTransportConn{session: session}

	go func() {
		for {
			data, err := session.ReceiveDatagram(ctx)
			if err != nil {
				if ctx.Err() != nil {
					events.state(StateClosed)
				} else {
					events.error(fmt.Errorf("webtransport receive: %w", err))
					events.state(StateError)
				}
				return
			}
			events.message(Message{Binary: true, Data: data})
		}
	}()

	return driver, nil
}

type webTransportConn struct {
	session *webtransport.Session
}

func (d *webTransportConn) Send(message Message) error {
	return d.session.SendDatagram(message.Data)
}

func (d *webTransportConn) Close() error {
	return d.session.CloseWithError(0, "")
}
