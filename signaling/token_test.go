// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

// minimalSDP parses but carries nothing.
const minimalSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func testDescription() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: minimalSDP}
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Now()
	encoded, err := EncodeToken(Token{
		Kind:        KindOffer,
		Description: testDescription(),
		SessionID:   "session-1",
		RoomID:      "lobby",
		Metadata:    map[string]string{"name": "alice"},
		CreatedAt:   now,
	})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}

	token, err := DecodeToken(encoded, KindOffer, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if token.Type != TokenType {
		t.Fatalf("type: got %q, want %q", token.Type, TokenType)
	}
	if token.SessionID != "session-1" || token.RoomID != "lobby" {
		t.Fatalf("identity fields: session=%q room=%q", token.SessionID, token.RoomID)
	}
	if token.Metadata["name"] != "alice" {
		t.Fatalf("metadata: %v", token.Metadata)
	}
	if token.Description.SDP != minimalSDP {
		t.Fatalf("SDP did not survive the round trip")
	}
}

func TestDecodeTokenMalformed(t *testing.T) {
	now := time.Now()
	valid := func(mutate func(*Token)) string {
		token := Token{
			Kind:        KindOffer,
			Description: testDescription(),
			SessionID:   "session-1",
			CreatedAt:   now,
		}
		mutate(&token)
		encoded, err := EncodeToken(token)
		if err != nil {
			t.Fatalf("EncodeToken: %v", err)
		}
		return encoded
	}

	cases := map[string]string{
		"not base64":      "!!!not-base64!!!",
		"not json":        base64.StdEncoding.EncodeToString([]byte("not json")),
		"wrong type tag":  tokenWithType(t, "something-else"),
		"empty session":   valid(func(tok *Token) { tok.SessionID = "" }),
		"empty SDP":       valid(func(tok *Token) { tok.Description.SDP = "" }),
		"unparseable SDP": valid(func(tok *Token) { tok.Description.SDP = "not an sdp" }),
	}
	for name, encoded := range cases {
		if _, err := DecodeToken(encoded, KindOffer, now); !errors.Is(err, ErrTokenMalformed) {
			t.Errorf("%s: got %v, want ErrTokenMalformed", name, err)
		}
	}
}

// tokenWithType builds an otherwise-valid token with an arbitrary type
// tag, bypassing EncodeToken's validation.
func tokenWithType(t *testing.T, typeTag string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"type":        typeTag,
		"kind":        KindOffer,
		"description": testDescription(),
		"sessionId":   "session-1",
		"createdAt":   time.Now(),
	})
	if err != nil {
		t.Fatalf("building fixture: %v", err)
	}
	return base64.StdEncoding.EncodeToString(body)
}

func TestDecodeTokenKindMismatch(t *testing.T) {
	now := time.Now()
	encoded, err := EncodeToken(Token{
		Kind:        KindOffer,
		Description: testDescription(),
		SessionID:   "session-1",
		CreatedAt:   now,
	})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	if _, err := DecodeToken(encoded, KindAnswer, now); !errors.Is(err, ErrTokenKindMismatch) {
		t.Fatalf("got %v, want ErrTokenKindMismatch", err)
	}
}

func TestDecodeTokenExpired(t *testing.T) {
	created := time.Now()
	encoded, err := EncodeToken(Token{
		Kind:        KindAnswer,
		Description: testDescription(),
		SessionID:   "session-1",
		CreatedAt:   created,
	})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}

	if _, err := DecodeToken(encoded, KindAnswer, created.Add(TokenTTL-time.Second)); err != nil {
		t.Fatalf("token rejected before TTL: %v", err)
	}
	if _, err := DecodeToken(encoded, KindAnswer, created.Add(TokenTTL+time.Second)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("got %v, want ErrTokenExpired", err)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("token-a")
	b := Fingerprint("token-b")
	if a == b {
		t.Fatal("distinct tokens share a fingerprint")
	}
	if a != Fingerprint("token-a") {
		t.Fatal("fingerprint is not stable")
	}
}
