// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// iceGatherTimeout bounds ICE candidate gathering before the local
// description is handed to the negotiator.
const iceGatherTimeout = 15 * time.Second

// dataChannelOpenTimeout bounds the wait for the messages channel to
// open after descriptions are exchanged.
const dataChannelOpenTimeout = 30 * time.Second

// iceRestartDelay is how long the driver waits after an ICE failure
// before attempting a restart, giving transient network blips a
// chance to clear on their own.
const iceRestartDelay = 2 * time.Second

// messagesChannelLabel is the single data channel both peers use.
const messagesChannelLabel = "messages"

// StartWebRTC establishes a peer-to-peer data channel. Signaling goes
// through the Negotiator rather than a signaling server: the host
// publishes an offer and waits for an answer, the guest waits for a
// remote invite and responds. All ICE candidates are gathered before
// a description is published, so the exchange is a single round-trip.
func StartWebRTC(ctx context.Context, options Options, events Events) (Conn, error) {
	if options.Negotiator == nil {
		return nil, &UnavailableError{Tier: "webrtc", Reason: "no negotiator configured"}
	}

	role := options.Negotiator.Role()
	if role != RoleHost && role != RoleGuest {
		return nil, &UnavailableError{Tier: "webrtc", Reason: "no handshake role selected"}
	}

	// Loopback candidates keep same-machine sessions (and tests)
	// working without any STUN server.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: options.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	driver := &webRTCConn{
		pc:      pc,
		ctx:     ctx,
		options: options,
		events:  events,
	}
	pc.OnICEConnectionStateChange(driver.handleICEState)

	channel, err := driver.establish(role)
	if err != nil {
		pc.Close()
		return nil, err
	}
	driver.channel = channel

	channel.OnMessage(func(msg webrtc.DataChannelMessage) {
		events.message(Message{Binary: !msg.IsString, Data: msg.Data})
	})
	channel.OnClose(func() {
		events.state(StateClosed)
	})

	// Cancellation is the sole teardown mechanism.
	go func() {
		<-ctx.Done()
		pc.Close()
	}()

	return driver, nil
}

// webRTCConn is the established driver connection plus the restart
// machinery that outlives the initial handshake.
type webRTCConn struct {
	pc      *webrtc.PeerConnection
	channel *webrtc.DataChannel
	ctx     context.Context
	options Options
	events  Events

	restartMu      sync.Mutex
	restartPending bool
}

// establish runs the role-specific half of the handshake and returns
// the open data channel.
func (d *webRTCConn) establish(role Role) (*webrtc.DataChannel, error) {
	if role == RoleHost {
		return d.establishHost()
	}
	return d.establishGuest()
}

func (d *webRTCConn) establishHost() (*webrtc.DataChannel, error) {
	ordered := true
	channel, err := d.pc.CreateDataChannel(messagesChannelLabel, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, fmt.Errorf("creating data channel: %w", err)
	}

	offer, err := d.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating SDP offer: %w", err)
	}
	if err := d.setLocalAndGather(offer); err != nil {
		return nil, err
	}

	answer, err := d.options.Negotiator.Negotiate(d.ctx, *d.pc.LocalDescription())
	if err != nil {
		return nil, fmt.Errorf("negotiating offer: %w", err)
	}
	if err := d.pc.SetRemoteDescription(answer); err != nil {
		return nil, fmt.Errorf("setting remote answer: %w", err)
	}

	if err := d.waitChannelOpen(channel); err != nil {
		return nil, err
	}
	return channel, nil
}

func (d *webRTCConn) establishGuest() (*webrtc.DataChannel, error) {
	// Register before setting the remote description: the host's
	// channel can arrive as soon as ICE connects.
	inbound := make(chan *webrtc.DataChannel, 1)
	d.pc.OnDataChannel(func(channel *webrtc.DataChannel) {
		select {
		case inbound <- channel:
		default:
		}
	})

	remoteOffer, err := d.options.Negotiator.AwaitOffer(d.ctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for remote invite: %w", err)
	}
	if err := d.pc.SetRemoteDescription(remoteOffer); err != nil {
		return nil, fmt.Errorf("setting remote offer: %w", err)
	}

	answer, err := d.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating SDP answer: %w", err)
	}
	if err := d.setLocalAndGather(answer); err != nil {
		return nil, err
	}
	if err := d.options.Negotiator.SubmitAnswer(d.ctx, *d.pc.LocalDescription()); err != nil {
		return nil, fmt.Errorf("submitting answer: %w", err)
	}

	clk := d.options.clock()
	select {
	case channel := <-inbound:
		if err := d.waitChannelOpen(channel); err != nil {
			return nil, err
		}
		return channel, nil
	case <-clk.After(dataChannelOpenTimeout):
		return nil, fmt.Errorf("host did not open a data channel within %s", dataChannelOpenTimeout)
	case <-d.ctx.Done():
		return nil, d.ctx.Err()
	}
}

// setLocalAndGather sets the local description and waits for ICE
// gathering to complete, so the published description carries every
// candidate.
func (d *webRTCConn) setLocalAndGather(description webrtc.SessionDescription) error {
	gatherComplete := webrtc.GatheringCompletePromise(d.pc)
	if err := d.pc.SetLocalDescription(description); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}

	clk := d.options.clock()
	select {
	case <-gatherComplete:
		return nil
	case <-clk.After(iceGatherTimeout):
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-d.ctx.Done():
		return d.ctx.Err()
	}
}

func (d *webRTCConn) waitChannelOpen(channel *webrtc.DataChannel) error {
	if channel.ReadyState() == webrtc.DataChannelStateOpen {
		return nil
	}
	opened := make(chan struct{})
	channel.OnOpen(func() { close(opened) })

	clk := d.options.clock()
	select {
	case <-opened:
		return nil
	case <-clk.After(dataChannelOpenTimeout):
		return fmt.Errorf("data channel did not open within %s", dataChannelOpenTimeout)
	case <-d.ctx.Done():
		return d.ctx.Err()
	}
}

// handleICEState maps ICE transitions onto the transport state
// machine and schedules restarts on failure.
func (d *webRTCConn) handleICEState(state webrtc.ICEConnectionState) {
	logger := d.options.logger()
	logger.Info("ICE state change", "state", state.String())

	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		d.events.state(StateConnected)
	case webrtc.ICEConnectionStateDisconnected:
		d.events.state(StateDegraded)
		d.scheduleRestart()
	case webrtc.ICEConnectionStateFailed:
		d.events.state(StateRecovering)
		d.scheduleRestart()
	case webrtc.ICEConnectionStateClosed:
		d.events.state(StateClosed)
	}
}

// scheduleRestart arms a single delayed ICE restart. Only the host
// renegotiates; the guest rides out the restart and answers through
// its negotiator when the fresh offer arrives.
func (d *webRTCConn) scheduleRestart() {
	if d.options.Negotiator.Role() != RoleHost {
		return
	}

	d.restartMu.Lock()
	if d.restartPending {
		d.restartMu.Unlock()
		return
	}
	d.restartPending = true
	d.restartMu.Unlock()

	d.options.clock().AfterFunc(iceRestartDelay, d.restartICE)
}

// restartICE renegotiates with a fresh ufrag/pwd pair (which also
// discards the failed candidate pairs), first asking the relay
// locator for additional ICE servers.
func (d *webRTCConn) restartICE() {
	defer func() {
		d.restartMu.Lock()
		d.restartPending = false
		d.restartMu.Unlock()
	}()

	if d.ctx.Err() != nil {
		return
	}
	logger := d.options.logger()
	d.events.state(StateRecovering)

	if d.options.RelayLocator != nil {
		servers, err := d.options.RelayLocator(d.ctx)
		if err != nil {
			logger.Warn("relay locator failed", "error", err)
		} else if len(servers) > 0 {
			configuration := d.pc.GetConfiguration()
			configuration.ICEServers = append(configuration.ICEServers, servers...)
			if err := d.pc.SetConfiguration(configuration); err != nil {
				logger.Warn("updating ICE servers failed", "error", err)
			}
		}
	}

	offer, err := d.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		d.failRestart(fmt.Errorf("creating restart offer: %w", err))
		return
	}
	if err := d.setLocalAndGather(offer); err != nil {
		d.failRestart(err)
		return
	}

	answer, err := d.options.Negotiator.Negotiate(d.ctx, *d.pc.LocalDescription())
	if err != nil {
		d.failRestart(fmt.Errorf("renegotiating: %w", err))
		return
	}
	if err := d.pc.SetRemoteDescription(answer); err != nil {
		d.failRestart(fmt.Errorf("setting restart answer: %w", err))
		return
	}
	// Success shows up as the ICE state flipping back to connected.
}

func (d *webRTCConn) failRestart(err error) {
	if d.ctx.Err() != nil {
		return
	}
	d.events.error(err)
	d.events.state(StateError)
}

func (d *webRTCConn) Send(message Message) error {
	if message.Binary {
		return d.channel.Send(message.Data)
	}
	return d.channel.SendText(string(message.Data))
}

func (d *webRTCConn) Close() error {
	return d.pc.Close()
}
