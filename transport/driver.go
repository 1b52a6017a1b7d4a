// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/pion/webrtc/v4"

	"github.com/goguma-chat/peerlink/lib/clock"
)

// Conn is what a driver returns once its channel is established. It
// carries no state of its own; the owning Handle decides what state
// transitions mean.
type Conn interface {
	// Send transmits one payload.
	Send(message Message) error

	// Close tears the channel down.
	Close() error
}

// Events are the callbacks a driver invokes to report inbound
// traffic, state transitions, and errors. Any field may be nil; the
// emit helpers are nil-safe.
type Events struct {
	OnMessage func(Message)
	OnState   func(State)
	OnError   func(error)
}

func (e Events) message(m Message) {
	if e.OnMessage != nil {
		e.OnMessage(m)
	}
}

func (e Events) state(s State) {
	if e.OnState != nil {
		e.OnState(s)
	}
}

func (e Events) error(err error) {
	if e.OnError != nil {
		e.OnError(err)
	}
}

// StartFunc is the driver contract: establish one channel kind, or
// fail. A driver either returns a working Conn or an error — it never
// partially mutates shared transport state. Cancelling ctx is the
// sole teardown mechanism and must unblock every wait inside the
// driver.
type StartFunc func(ctx context.Context, options Options, events Events) (Conn, error)

// Role identifies a peer's side of the WebRTC handshake.
type Role string

const (
	// RoleHost initiates the offer and opens the data channel.
	RoleHost Role = "host"
	// RoleGuest responds with an answer and waits for the channel.
	RoleGuest Role = "guest"
)

// Negotiator is the WebRTC driver's signaling hook: instead of
// talking to a signaling server, the driver hands descriptions to a
// Negotiator, which exchanges them out of band (copy-paste tokens,
// cross-tab broadcast). The signaling package provides the
// implementation.
type Negotiator interface {
	// Role reports which side of the handshake this peer plays.
	Role() Role

	// Negotiate publishes a local offer and blocks until the remote
	// answer arrives. Host path. Used both for the initial handshake
	// and for ICE restarts.
	Negotiate(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)

	// AwaitOffer blocks until a remote invite has been supplied.
	// Guest path.
	AwaitOffer(ctx context.Context) (webrtc.SessionDescription, error)

	// SubmitAnswer publishes the local answer to the remote offer.
	// Guest path.
	SubmitAnswer(ctx context.Context, answer webrtc.SessionDescription) error
}

// RelayLocator supplies additional ICE servers (typically TURN relays
// with fresh credentials) when the WebRTC driver schedules an ICE
// restart after a failure.
type RelayLocator func(ctx context.Context) ([]webrtc.ICEServer, error)

// Options carries everything a driver might need. Each driver reads
// only its own fields; a tier whose fields are absent reports itself
// unavailable rather than failing.
type Options struct {
	// Negotiator configures the WebRTC tier; the driver takes its side
	// of the handshake from Negotiator.Role.
	Negotiator   Negotiator
	ICEServers   []webrtc.ICEServer
	RelayLocator RelayLocator

	// WebTransportURL is the https endpoint for the datagram tier.
	WebTransportURL string

	// WebSocketURL is the ws/wss endpoint for the websocket tier.
	WebSocketURL string

	// PushBaseURL and PushRoom locate the push relay; PushToken is
	// sent as a bearer token.
	PushBaseURL string
	PushRoom    string
	PushToken   string

	// Headers are added to HTTP-derived dials (websocket,
	// webtransport, push).
	Headers http.Header

	// HTTPClient overrides the client used by the push tier.
	HTTPClient *http.Client

	// Logger and Clock default to slog discard and the real clock.
	Logger *slog.Logger
	Clock  clock.Clock

	// Drivers overrides the tier implementations; tests inject mock
	// StartFuncs here. Nil fields fall back to the real drivers.
	Drivers *DriverSet
}

// DriverSet names a StartFunc per transport tier.
type DriverSet struct {
	WebRTC       StartFunc
	WebTransport StartFunc
	WebSocket    StartFunc
	Push         StartFunc
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (o Options) clock() clock.Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return clock.Real()
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

// drivers resolves the effective driver set, filling nil overrides
// with the real implementations.
func (o Options) drivers() DriverSet {
	set := DriverSet{
		WebRTC:       StartWebRTC,
		WebTransport: StartWebTransport,
		WebSocket:    StartWebSocket,
		Push:         StartPush,
	}
	if o.Drivers == nil {
		return set
	}
	if o.Drivers.WebRTC != nil {
		set.WebRTC = o.Drivers.WebRTC
	}
	if o.Drivers.WebTransport != nil {
		set.WebTransport = o.Drivers.WebTransport
	}
	if o.Drivers.WebSocket != nil {
		set.WebSocket = o.Drivers.WebSocket
	}
	if o.Drivers.Push != nil {
		set.Push = o.Drivers.Push
	}
	return set
}
