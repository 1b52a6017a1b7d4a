// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/goguma-chat/peerlink/broadcast"
	"github.com/goguma-chat/peerlink/lib/clock"
	"github.com/goguma-chat/peerlink/lib/testutil"
	"github.com/goguma-chat/peerlink/storage"
	"github.com/goguma-chat/peerlink/transport"
)

func newTestController(t *testing.T, options Options) *Controller {
	t.Helper()
	if options.Store == nil {
		options.Store = storage.NewMemoryStore()
	}
	controller, err := NewController(options)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(controller.Close)
	return controller
}

// waitOfferToken polls until the controller has published an offer.
func waitOfferToken(t *testing.T, controller *Controller) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if token := controller.OfferToken(); token != "" {
			return token
		}
		if time.Now().After(deadline) {
			t.Fatal("no offer token published")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// answerFor builds the guest-side answer to an encoded offer.
func answerFor(t *testing.T, encodedOffer string) string {
	t.Helper()
	offer, err := DecodeToken(encodedOffer, KindOffer, time.Now())
	if err != nil {
		t.Fatalf("decoding offer fixture: %v", err)
	}
	encoded, err := EncodeToken(Token{
		Kind:        KindAnswer,
		Description: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: minimalSDP},
		SessionID:   offer.SessionID,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("encoding answer fixture: %v", err)
	}
	return encoded
}

func TestHostNegotiate(t *testing.T) {
	controller := newTestController(t, Options{})
	if err := controller.SetRole(transport.RoleHost); err != nil {
		t.Fatalf("SetRole: %v", err)
	}

	type result struct {
		answer webrtc.SessionDescription
		err    error
	}
	done := make(chan result, 1)
	go func() {
		answer, err := controller.Negotiate(context.Background(), testDescription())
		done <- result{answer, err}
	}()

	offerToken := waitOfferToken(t, controller)
	if err := controller.ApplyToken(answerFor(t, offerToken)); err != nil {
		t.Fatalf("ApplyToken: %v", err)
	}

	got := testutil.RequireReceive(t, done, 5*time.Second, "negotiate result")
	if got.err != nil {
		t.Fatalf("Negotiate: %v", got.err)
	}
	if got.answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer type: got %s", got.answer.Type)
	}

	snapshot, ok, err := loadSnapshot(controller.store)
	if err != nil || !ok {
		t.Fatalf("snapshot missing: ok=%v err=%v", ok, err)
	}
	if snapshot.AwaitingAnswer {
		t.Fatal("snapshot still awaiting answer after apply")
	}
}

func TestApplyTokenFailuresLeaveSnapshotUntouched(t *testing.T) {
	controller := newTestController(t, Options{})
	if err := controller.SetRole(transport.RoleHost); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	go controller.Negotiate(context.Background(), testDescription())
	offerToken := waitOfferToken(t, controller)

	before, _, err := controller.store.Get(storage.KeySignalingSnapshot)
	if err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}

	expired, err := EncodeToken(Token{
		Kind:        KindAnswer,
		Description: testDescription(),
		SessionID:   controller.SessionID(),
		CreatedAt:   time.Now().Add(-TokenTTL - time.Minute),
	})
	if err != nil {
		t.Fatalf("encoding expired fixture: %v", err)
	}
	foreign, err := EncodeToken(Token{
		Kind:        KindAnswer,
		Description: testDescription(),
		SessionID:   "someone-else",
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("encoding foreign fixture: %v", err)
	}

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"malformed", "garbage", ErrTokenMalformed},
		{"wrong kind", offerToken, ErrTokenKindMismatch},
		{"expired", expired, ErrTokenExpired},
		{"foreign session", foreign, ErrSessionMismatch},
	}
	for _, tc := range cases {
		if err := controller.ApplyToken(tc.token); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}

	after, _, err := controller.store.Get(storage.KeySignalingSnapshot)
	if err != nil {
		t.Fatalf("re-reading snapshot: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("failed applies mutated the snapshot")
	}
}

func TestGuestFlow(t *testing.T) {
	controller := newTestController(t, Options{})
	if err := controller.SetRole(transport.RoleGuest); err != nil {
		t.Fatalf("SetRole: %v", err)
	}

	offerEncoded, err := EncodeToken(Token{
		Kind:        KindOffer,
		Description: testDescription(),
		SessionID:   "host-session",
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("encoding offer fixture: %v", err)
	}
	if err := controller.ApplyToken(offerEncoded); err != nil {
		t.Fatalf("ApplyToken: %v", err)
	}
	if got := controller.SessionID(); got != "host-session" {
		t.Fatalf("adopted session: got %q", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	offer, err := controller.AwaitOffer(ctx)
	if err != nil {
		t.Fatalf("AwaitOffer: %v", err)
	}
	if offer.SDP != minimalSDP {
		t.Fatal("offer SDP did not survive")
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: minimalSDP}
	if err := controller.SubmitAnswer(ctx, answer); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if controller.AnswerToken() == "" {
		t.Fatal("no answer token outstanding")
	}

	if err := controller.MarkConnected(); err != nil {
		t.Fatalf("MarkConnected: %v", err)
	}
	if !controller.Connected() {
		t.Fatal("controller not marked connected")
	}
}

func TestDuplicateApplyIsIdempotent(t *testing.T) {
	controller := newTestController(t, Options{})
	if err := controller.SetRole(transport.RoleHost); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	go controller.Negotiate(context.Background(), testDescription())
	offerToken := waitOfferToken(t, controller)

	answer := answerFor(t, offerToken)
	if err := controller.ApplyToken(answer); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := controller.ApplyToken(answer); err != nil {
		t.Fatalf("duplicate apply: %v", err)
	}
}

func TestNegotiateExpires(t *testing.T) {
	clk := clock.Fake(time.Unix(1_700_000_000, 0))
	controller := newTestController(t, Options{Clock: clk})
	if err := controller.SetRole(transport.RoleHost); err != nil {
		t.Fatalf("SetRole: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := controller.Negotiate(context.Background(), testDescription())
		done <- err
	}()
	waitOfferToken(t, controller)

	// The expiry timer arms just after the token becomes visible.
	time.Sleep(50 * time.Millisecond)
	clk.Advance(TokenTTL + time.Second)

	if err := testutil.RequireReceive(t, done, 5*time.Second, "negotiate expiry"); !errors.Is(err, ErrHandshakeExpired) {
		t.Fatalf("Negotiate: got %v, want ErrHandshakeExpired", err)
	}
	if controller.LastError() != ErrHandshakeExpired.Error() {
		t.Fatalf("last error: got %q", controller.LastError())
	}
	if controller.OfferToken() != "" {
		t.Fatal("expired offer still outstanding")
	}
}

func TestRehydrateResumesOutstandingOffer(t *testing.T) {
	store := storage.NewMemoryStore()
	first := newTestController(t, Options{Store: store})
	if err := first.SetRole(transport.RoleHost); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go first.Negotiate(ctx, testDescription())
	offerToken := waitOfferToken(t, first)

	second := newTestController(t, Options{Store: store})
	if got := second.OfferToken(); got != offerToken {
		t.Fatal("rehydrated controller lost the outstanding offer")
	}
	if got := second.Role(); got != transport.RoleHost {
		t.Fatalf("rehydrated role: got %s", got)
	}
	if got := second.SessionID(); got != first.SessionID() {
		t.Fatal("rehydrated controller changed session")
	}
}

func TestRehydrateDropsExpiredOffer(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)

	stale, err := EncodeToken(Token{
		Kind:        KindOffer,
		Description: testDescription(),
		SessionID:   "old-session",
		CreatedAt:   now.Add(-TokenTTL - time.Minute),
	})
	if err != nil {
		t.Fatalf("encoding stale fixture: %v", err)
	}
	if err := saveSnapshot(store, Snapshot{
		Role:           transport.RoleHost,
		SessionID:      "old-session",
		LocalOffer:     stale,
		AwaitingAnswer: true,
		UpdatedAt:      now.Add(-TokenTTL),
	}); err != nil {
		t.Fatalf("seeding snapshot: %v", err)
	}

	controller := newTestController(t, Options{Store: store, Clock: clock.Fake(now)})
	if controller.OfferToken() != "" {
		t.Fatal("expired offer resumed")
	}
	if controller.LastError() != ErrHandshakeExpired.Error() {
		t.Fatalf("last error: got %q", controller.LastError())
	}
}

func TestRunRelaysTokensBetweenInstances(t *testing.T) {
	bus := broadcast.NewMemoryBroadcaster()
	controller := newTestController(t, Options{Bus: bus})
	if err := controller.SetRole(transport.RoleHost); err != nil {
		t.Fatalf("SetRole: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go controller.Run(ctx)

	done := make(chan error, 1)
	go func() {
		_, err := controller.Negotiate(context.Background(), testDescription())
		done <- err
	}()
	offerToken := waitOfferToken(t, controller)

	// Give Run a moment to subscribe, then relay the answer the way a
	// sibling tab would.
	time.Sleep(50 * time.Millisecond)
	frame, _ := json.Marshal(handshakeFrame{Instance: "sibling-tab", Token: answerFor(t, offerToken)})
	if err := bus.Publish(context.Background(), HandshakeTopic, frame); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if err := testutil.RequireReceive(t, done, 5*time.Second, "negotiate via relay"); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
}
