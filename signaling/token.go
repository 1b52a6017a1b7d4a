// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/zeebo/blake3"
)

// TokenType is the envelope type tag. Tokens carrying any other tag
// are rejected as malformed before anything else is inspected.
const TokenType = "goguma-peer-invite"

// TokenTTL is how long a token stays applicable after creation.
const TokenTTL = 10 * time.Minute

// Kind distinguishes the two handshake directions.
type Kind string

const (
	KindOffer  Kind = "offer"
	KindAnswer Kind = "answer"
)

// Decoding failures, distinguishable with errors.Is. None of them
// mutates any persisted state; a bad paste leaves the handshake where
// it was.
var (
	ErrTokenMalformed    = errors.New("signaling: malformed handshake token")
	ErrTokenExpired      = errors.New("signaling: handshake token expired")
	ErrTokenKindMismatch = errors.New("signaling: handshake token kind mismatch")
)

// Token is the copy-paste handshake envelope. The wire form is the
// base64 (standard alphabet) encoding of its JSON serialization.
type Token struct {
	Type        string                    `json:"type"`
	Kind        Kind                      `json:"kind"`
	Description webrtc.SessionDescription `json:"description"`
	SessionID   string                    `json:"sessionId"`
	RoomID      string                    `json:"roomId,omitempty"`
	Metadata    map[string]string         `json:"metadata,omitempty"`
	CreatedAt   time.Time                 `json:"createdAt"`
}

// Expired reports whether the token's TTL has elapsed at now.
func (t Token) Expired(now time.Time) bool {
	return now.Sub(t.CreatedAt) > TokenTTL
}

// EncodeToken serializes a token to its wire form.
func EncodeToken(token Token) (string, error) {
	token.Type = TokenType
	if token.Kind != KindOffer && token.Kind != KindAnswer {
		return "", fmt.Errorf("%w: unknown kind %q", ErrTokenMalformed, token.Kind)
	}
	body, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("encoding token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(body), nil
}

// DecodeToken parses and validates a pasted token. The expected kind
// is checked after structural validation, so a well-formed token of
// the wrong kind reports the mismatch rather than a parse failure.
// The embedded SDP must itself parse.
func DecodeToken(encoded string, expect Kind, now time.Time) (Token, error) {
	token, err := parseToken(encoded)
	if err != nil {
		return Token{}, err
	}
	if token.Kind != expect {
		return Token{}, fmt.Errorf("%w: got %s, want %s", ErrTokenKindMismatch, token.Kind, expect)
	}
	if token.Expired(now) {
		return Token{}, fmt.Errorf("%w: created %s", ErrTokenExpired, token.CreatedAt.Format(time.RFC3339))
	}
	return token, nil
}

// parseToken performs the kind-independent structural validation.
func parseToken(encoded string) (Token, error) {
	body, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if token.Type != TokenType {
		return Token{}, fmt.Errorf("%w: unexpected type %q", ErrTokenMalformed, token.Type)
	}
	if token.Kind != KindOffer && token.Kind != KindAnswer {
		return Token{}, fmt.Errorf("%w: unknown kind %q", ErrTokenMalformed, token.Kind)
	}
	if token.SessionID == "" {
		return Token{}, fmt.Errorf("%w: missing session id", ErrTokenMalformed)
	}
	if token.Description.SDP == "" {
		return Token{}, fmt.Errorf("%w: missing SDP", ErrTokenMalformed)
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(token.Description.SDP)); err != nil {
		return Token{}, fmt.Errorf("%w: invalid SDP: %v", ErrTokenMalformed, err)
	}
	return token, nil
}

// Fingerprint identifies a token's wire form for deduplication.
func Fingerprint(encoded string) string {
	sum := blake3.Sum256([]byte(encoded))
	return hex.EncodeToString(sum[:8])
}
