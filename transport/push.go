// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/goguma-chat/peerlink/lib/netutil"
)

// pushReconnectMaxInterval caps the backoff between event-stream
// reconnect attempts.
const pushReconnectMaxInterval = 30 * time.Second

// TypingSender is implemented by drivers that carry an out-of-band
// typing signal alongside regular messages. Callers type-assert the
// Conn to reach it.
type TypingSender interface {
	SendTyping(ctx context.Context) error
}

// pushEnvelope is the JSON body of an outbound message POST and the
// payload of an inbound "message" event.
type pushEnvelope struct {
	Binary bool   `json:"binary,omitempty"`
	Data   []byte `json:"data"`
}

// StartPush connects to the relay's server-sent-events stream and
// sends by POSTing back to the relay. The initial stream connect is
// synchronous and fatal on failure; once established, stream drops are
// retried with capped backoff while the driver reports Degraded, so a
// relay restart never tears the handle down.
func StartPush(ctx context.Context, options Options, events Events) (Conn, error) {
	if options.PushBaseURL == "" {
		return nil, &UnavailableError{Tier: "push", Reason: "no relay configured"}
	}
	if options.PushRoom == "" {
		return nil, &UnavailableError{Tier: "push", Reason: "no room configured"}
	}

	driver := &pushConn{
		ctx:     ctx,
		base:    strings.TrimRight(options.PushBaseURL, "/"),
		room:    options.PushRoom,
		token:   options.PushToken,
		client:  options.httpClient(),
		events:  events,
		options: options,
	}

	body, err := driver.openStream(ctx)
	if err != nil {
		return nil, err
	}

	go driver.readLoop(body)
	return driver, nil
}

type pushConn struct {
	ctx     context.Context
	base    string
	room    string
	token   string
	client  *http.Client
	events  Events
	options Options
}

// openStream issues the events GET and validates the response.
func (d *pushConn) openStream(ctx context.Context) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/v1/rooms/%s/events", d.base, d.room)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building events request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := netutil.ErrorBody(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("event stream returned %s: %s", resp.Status, detail)
	}
	return resp.Body, nil
}

// readLoop consumes the event stream, reconnecting with backoff after
// the first successful connect. Reconnect attempts surface as a
// Degraded/Connected pair rather than a teardown.
func (d *pushConn) readLoop(body io.ReadCloser) {
	logger := d.options.logger()

	for {
		err := d.consume(body)
		body.Close()
		if d.ctx.Err() != nil {
			d.events.state(StateClosed)
			return
		}
		logger.Warn("event stream dropped", "error", err)
		d.events.state(StateDegraded)

		policy := backoff.NewExponentialBackOff()
		policy.MaxInterval = pushReconnectMaxInterval
		policy.MaxElapsedTime = 0

		reconnect := func() error {
			next, err := d.openStream(d.ctx)
			if err != nil {
				return err
			}
			body = next
			return nil
		}
		if err := backoff.Retry(reconnect, backoff.WithContext(policy, d.ctx)); err != nil {
			if d.ctx.Err() != nil {
				d.events.state(StateClosed)
			} else {
				d.events.error(fmt.Errorf("reconnecting event stream: %w", err))
				d.events.state(StateError)
			}
			return
		}
		logger.Info("event stream reconnected")
		d.events.state(StateConnected)
	}
}

// consume parses one stream connection until it drops. The format is
// the standard SSE framing: "event:" and "data:" lines, a blank line
// dispatches.
func (d *pushConn) consume(body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	eventType := ""
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				d.dispatch(eventType, data.String())
			}
			eventType = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// Comment line, used by relays as a keepalive.
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (d *pushConn) dispatch(eventType, data string) {
	switch eventType {
	case "", "message":
		var envelope pushEnvelope
		if err := json.Unmarshal([]byte(data), &envelope); err != nil {
			d.events.error(fmt.Errorf("decoding pushed message: %w", err))
			return
		}
		d.events.message(Message{Binary: envelope.Binary, Data: envelope.Data})
	case "typing":
		// Surfaced as a zero-length text message; the chat layer keys
		// off the event type it re-encodes, not the transport.
	}
}

// post issues an authorized JSON POST to a relay endpoint.
func (d *pushConn) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding relay payload: %w", err)
	}

	url := fmt.Sprintf("%s/v1/rooms/%s/%s", d.base, d.room, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to relay: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("relay returned %s: %s", resp.Status, netutil.ErrorBody(resp.Body))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (d *pushConn) Send(message Message) error {
	return d.post(d.ctx, "messages", pushEnvelope{Binary: message.Binary, Data: message.Data})
}

// SendTyping posts the out-of-band typing signal.
func (d *pushConn) SendTyping(ctx context.Context) error {
	return d.post(ctx, "typing", struct{}{})
}

func (d *pushConn) Close() error {
	// The stream request is bound to the driver context; cancellation
	// closes it. Nothing else to release.
	return nil
}

var _ TypingSender = (*pushConn)(nil)
