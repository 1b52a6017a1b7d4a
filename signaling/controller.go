// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/goguma-chat/peerlink/broadcast"
	"github.com/goguma-chat/peerlink/lib/clock"
	"github.com/goguma-chat/peerlink/storage"
	"github.com/goguma-chat/peerlink/transport"
)

// HandshakeTopic carries token frames between instances of one
// origin, so a token pasted in one tab reaches the tab that owns the
// connection.
const HandshakeTopic = "handshake"

// ErrHandshakeExpired is returned by Negotiate when the published
// offer's TTL elapses with no answer applied.
var ErrHandshakeExpired = errors.New("signaling: handshake expired before an answer arrived")

// ErrSessionMismatch is returned when an answer token references a
// session other than the outstanding offer's.
var ErrSessionMismatch = errors.New("signaling: token belongs to a different session")

// ErrNoRole is returned by handshake operations before SetRole.
var ErrNoRole = errors.New("signaling: no handshake role selected")

// handshakeFrame is the broadcast payload for one token.
type handshakeFrame struct {
	Instance string `json:"instance"`
	Token    string `json:"token"`
}

// Options configure a Controller. Store is required.
type Options struct {
	Store    storage.Store
	Bus      broadcast.Broadcaster
	RoomID   string
	Metadata map[string]string
	Logger   *slog.Logger
	Clock    clock.Clock
}

// Controller implements transport.Negotiator over copy-paste tokens.
// The host side publishes offer tokens and waits for answers; the
// guest side waits for an offer and answers it. Tokens arrive either
// pasted directly (ApplyToken) or relayed from a sibling instance over
// the broadcaster. All handshake state is persisted after every
// mutation.
type Controller struct {
	store    storage.Store
	bus      broadcast.Broadcaster
	roomID   string
	metadata map[string]string
	logger   *slog.Logger
	clk      clock.Clock
	instance string

	mu            sync.Mutex
	role          transport.Role
	sessionID     string
	localOffer    *outstanding
	localAnswer   *outstanding
	awaitingOffer bool
	awaiting      bool
	applied       map[string]struct{}
	connected     bool
	lastError     string
	answerCh      chan webrtc.SessionDescription
	offerCh       chan Token
}

// Compile-time interface check.
var _ transport.Negotiator = (*Controller)(nil)

// NewController creates a Controller, rehydrating any persisted
// handshake state. An unexpired outstanding local token resumes its
// rebroadcast; an expired one is dropped with the expiry recorded.
func NewController(options Options) (*Controller, error) {
	if options.Store == nil {
		return nil, errors.New("signaling: store is required")
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}

	c := &Controller{
		store:    options.Store,
		bus:      options.Bus,
		roomID:   options.RoomID,
		metadata: options.Metadata,
		logger:   logger,
		clk:      clk,
		instance: uuid.NewString(),
		applied:  make(map[string]struct{}),
		offerCh:  make(chan Token, 1),
	}

	snapshot, ok, err := loadSnapshot(c.store)
	if err != nil {
		return nil, err
	}
	if ok {
		c.rehydrate(snapshot)
	}
	return c, nil
}

// rehydrate restores controller state from a persisted snapshot.
func (c *Controller) rehydrate(snapshot Snapshot) {
	c.role = snapshot.Role
	c.sessionID = snapshot.SessionID
	c.connected = snapshot.Connected
	c.lastError = snapshot.LastError
	c.awaitingOffer = snapshot.AwaitingOffer
	c.awaiting = snapshot.AwaitingAnswer
	for _, fingerprint := range snapshot.Applied {
		c.applied[fingerprint] = struct{}{}
	}

	now := c.clk.Now()
	requeue := func(encoded string) *outstanding {
		token, err := parseToken(encoded)
		if err != nil {
			c.logger.Warn("dropping unreadable persisted token", "error", err)
			return nil
		}
		if token.Expired(now) {
			c.lastError = ErrHandshakeExpired.Error()
			return nil
		}
		entry := newOutstanding(encoded, token.CreatedAt)
		c.startRetry(entry)
		return entry
	}
	if snapshot.LocalOffer != "" {
		c.localOffer = requeue(snapshot.LocalOffer)
		if c.localOffer == nil {
			c.awaiting = false
		}
	}
	if snapshot.LocalAnswer != "" {
		c.localAnswer = requeue(snapshot.LocalAnswer)
	}
}

// Role reports the configured handshake side.
func (c *Controller) Role() transport.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// SessionID returns the active handshake session.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Connected reports whether MarkConnected has been called for the
// active session.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// LastError returns the recorded handshake failure, if any.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// SetRole selects the handshake side and resets all session state
// under a fresh session id. Outstanding tokens stop rebroadcasting.
func (c *Controller) SetRole(role transport.Role) error {
	if role != transport.RoleHost && role != transport.RoleGuest {
		return fmt.Errorf("signaling: unknown role %q", role)
	}

	c.mu.Lock()
	c.stopOutstandingLocked()
	c.role = role
	c.sessionID = uuid.NewString()
	c.awaitingOffer = role == transport.RoleGuest
	c.awaiting = false
	c.applied = make(map[string]struct{})
	c.connected = false
	c.lastError = ""
	c.answerCh = nil
	// Drain any stale offer left from a previous session.
	select {
	case <-c.offerCh:
	default:
	}
	err := c.persistLocked()
	c.mu.Unlock()
	return err
}

// OfferToken returns the outstanding offer in wire form, for the user
// to copy. Empty when none is outstanding.
func (c *Controller) OfferToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.localOffer == nil {
		return ""
	}
	return c.localOffer.encoded
}

// AnswerToken returns the outstanding answer in wire form.
func (c *Controller) AnswerToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.localAnswer == nil {
		return ""
	}
	return c.localAnswer.encoded
}

// Negotiate publishes offer as a token and blocks until an answer is
// applied, the token expires, or ctx is cancelled. Publishing a fresh
// offer supersedes any previous one: its rebroadcast stops and its
// pending wait is abandoned. Host side only.
func (c *Controller) Negotiate(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	if c.role != transport.RoleHost {
		c.mu.Unlock()
		return webrtc.SessionDescription{}, ErrNoRole
	}

	encoded, err := EncodeToken(Token{
		Kind:        KindOffer,
		Description: offer,
		SessionID:   c.sessionID,
		RoomID:      c.roomID,
		Metadata:    c.metadata,
		CreatedAt:   c.clk.Now(),
	})
	if err != nil {
		c.mu.Unlock()
		return webrtc.SessionDescription{}, err
	}

	if c.localOffer != nil {
		c.localOffer.stop()
	}
	entry := newOutstanding(encoded, c.clk.Now())
	c.localOffer = entry
	c.awaiting = true
	c.lastError = ""
	answerCh := make(chan webrtc.SessionDescription, 1)
	c.answerCh = answerCh
	if err := c.persistLocked(); err != nil {
		c.mu.Unlock()
		return webrtc.SessionDescription{}, err
	}
	c.mu.Unlock()

	c.publish(entry)
	c.startRetry(entry)

	select {
	case answer := <-answerCh:
		return answer, nil
	case <-c.clk.After(TokenTTL):
		c.expireOffer(entry)
		return webrtc.SessionDescription{}, ErrHandshakeExpired
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
}

// expireOffer records expiry if entry is still the outstanding offer.
func (c *Controller) expireOffer(entry *outstanding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.localOffer != entry {
		return
	}
	entry.stop()
	c.localOffer = nil
	c.awaiting = false
	c.lastError = ErrHandshakeExpired.Error()
	if err := c.persistLocked(); err != nil {
		c.logger.Warn("persisting expiry failed", "error", err)
	}
}

// AwaitOffer blocks until a remote offer token has been applied.
// Guest side only.
func (c *Controller) AwaitOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	role := c.role
	c.mu.Unlock()
	if role != transport.RoleGuest {
		return webrtc.SessionDescription{}, ErrNoRole
	}

	select {
	case token := <-c.offerCh:
		return token.Description, nil
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
}

// SubmitAnswer publishes the local answer token for the session
// adopted from the applied offer. Guest side only.
func (c *Controller) SubmitAnswer(_ context.Context, answer webrtc.SessionDescription) error {
	c.mu.Lock()
	if c.role != transport.RoleGuest {
		c.mu.Unlock()
		return ErrNoRole
	}
	if c.sessionID == "" {
		c.mu.Unlock()
		return errors.New("signaling: no offer applied yet")
	}

	encoded, err := EncodeToken(Token{
		Kind:        KindAnswer,
		Description: answer,
		SessionID:   c.sessionID,
		RoomID:      c.roomID,
		Metadata:    c.metadata,
		CreatedAt:   c.clk.Now(),
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}

	if c.localAnswer != nil {
		c.localAnswer.stop()
	}
	entry := newOutstanding(encoded, c.clk.Now())
	c.localAnswer = entry
	if err := c.persistLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	c.publish(entry)
	c.startRetry(entry)
	return nil
}

// ApplyToken consumes a pasted or relayed token. The expected kind
// follows the role: hosts accept answers, guests accept offers.
// Duplicates (by fingerprint) are idempotent. Decoding failures leave
// all persisted state untouched.
func (c *Controller) ApplyToken(encoded string) error {
	c.mu.Lock()
	role := c.role
	c.mu.Unlock()

	var expect Kind
	switch role {
	case transport.RoleHost:
		expect = KindAnswer
	case transport.RoleGuest:
		expect = KindOffer
	default:
		return ErrNoRole
	}

	token, err := DecodeToken(encoded, expect, c.clk.Now())
	if err != nil {
		return err
	}
	fingerprint := Fingerprint(encoded)

	c.mu.Lock()
	if _, seen := c.applied[fingerprint]; seen {
		c.mu.Unlock()
		return nil
	}

	switch expect {
	case KindAnswer:
		if token.SessionID != c.sessionID {
			c.mu.Unlock()
			return fmt.Errorf("%w: got %s", ErrSessionMismatch, token.SessionID)
		}
		c.applied[fingerprint] = struct{}{}
		c.awaiting = false
		if c.localOffer != nil {
			c.localOffer.stop()
		}
		answerCh := c.answerCh
		c.answerCh = nil
		err := c.persistLocked()
		c.mu.Unlock()
		if answerCh != nil {
			answerCh <- token.Description
		}
		return err

	default: // KindOffer
		c.sessionID = token.SessionID
		c.awaitingOffer = false
		c.applied[fingerprint] = struct{}{}
		err := c.persistLocked()
		c.mu.Unlock()
		select {
		case c.offerCh <- token:
		default:
			// A stale unconsumed offer is superseded.
			select {
			case <-c.offerCh:
			default:
			}
			c.offerCh <- token
		}
		return err
	}
}

// MarkConnected records handshake completion and stops all
// rebroadcasts.
func (c *Controller) MarkConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	c.lastError = ""
	c.stopOutstandingLocked()
	return c.persistLocked()
}

// Run relays tokens from sibling instances until ctx is cancelled.
// Own frames and tokens that fail to apply (expired rebroadcasts,
// foreign sessions) are skipped.
func (c *Controller) Run(ctx context.Context) error {
	if c.bus == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	frames, err := c.bus.Subscribe(ctx, HandshakeTopic)
	if err != nil {
		return fmt.Errorf("subscribing to handshake relay: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-frames:
			if !ok {
				return ctx.Err()
			}
			var frame handshakeFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				c.logger.Warn("ignoring malformed handshake frame", "error", err)
				continue
			}
			if frame.Instance == c.instance {
				continue
			}
			if err := c.ApplyToken(frame.Token); err != nil {
				c.logger.Debug("relayed token not applied", "error", err)
			}
		}
	}
}

// Close stops rebroadcasts. The controller is not reusable after.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopOutstandingLocked()
}

func (c *Controller) stopOutstandingLocked() {
	if c.localOffer != nil {
		c.localOffer.stop()
		c.localOffer = nil
	}
	if c.localAnswer != nil {
		c.localAnswer.stop()
		c.localAnswer = nil
	}
}

// persistLocked writes the current snapshot.
func (c *Controller) persistLocked() error {
	snapshot := Snapshot{
		Role:           c.role,
		SessionID:      c.sessionID,
		AwaitingOffer:  c.awaitingOffer,
		AwaitingAnswer: c.awaiting,
		Connected:      c.connected,
		LastError:      c.lastError,
		UpdatedAt:      c.clk.Now(),
	}
	if c.localOffer != nil {
		snapshot.LocalOffer = c.localOffer.encoded
	}
	if c.localAnswer != nil {
		snapshot.LocalAnswer = c.localAnswer.encoded
	}
	for fingerprint := range c.applied {
		snapshot.Applied = append(snapshot.Applied, fingerprint)
	}
	return saveSnapshot(c.store, snapshot)
}

// publish sends one token frame, when a broadcaster is configured.
func (c *Controller) publish(entry *outstanding) {
	if c.bus == nil {
		return
	}
	frame, _ := json.Marshal(handshakeFrame{Instance: c.instance, Token: entry.encoded})
	if err := c.bus.Publish(context.Background(), HandshakeTopic, frame); err != nil {
		c.logger.Warn("publishing handshake token failed", "error", err)
	}
}

// tokenRemaining returns the token's remaining lifetime at now.
func tokenRemaining(createdAt, now time.Time) time.Duration {
	return TokenTTL - now.Sub(createdAt)
}
