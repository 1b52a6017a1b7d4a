// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

// Message is an opaque payload crossing the transport. The transport
// never interprets it; application-level framing (chat messages,
// typing indicators, handshake frames, heartbeats) belongs to the
// caller.
type Message struct {
	// Binary selects the wire representation on transports that
	// distinguish text from binary frames.
	Binary bool

	// Data is the payload. For text messages it is the UTF-8 bytes.
	Data []byte
}

// Text builds a text message.
func Text(s string) Message {
	return Message{Data: []byte(s)}
}

// Bytes builds a binary message.
func Bytes(b []byte) Message {
	return Message{Binary: true, Data: b}
}

// Text returns the payload as a string.
func (m Message) Text() string {
	return string(m.Data)
}
