// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// peerlink-relay serves the push transport contract: clients receive
// room traffic over a server-sent-events stream and send by POSTing
// back.
//
//	GET  /v1/rooms/{roomID}/events    text/event-stream
//	POST /v1/rooms/{roomID}/messages  {"binary":bool,"data":base64}
//	POST /v1/rooms/{roomID}/typing    {}
//
// With --token, every request must carry it as a bearer token.
//
// Usage:
//
//	peerlink-relay --listen :8443 --token sekrit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/pflag"

	"github.com/goguma-chat/peerlink/lib/version"
)

// keepaliveInterval spaces the SSE comment lines that keep idle
// streams from being reaped by intermediaries.
const keepaliveInterval = 15 * time.Second

// maxMessageBytes bounds a single posted message body.
const maxMessageBytes = 1 << 20

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("peerlink-relay", pflag.ContinueOnError)
	listen := flags.String("listen", ":8443", "listen address")
	token := flags.String("token", "", "require this bearer token on every request")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Printf("peerlink-relay %s\n", version.Info())
		return 0
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	server := &http.Server{
		Addr:              *listen,
		Handler:           newRouter(*token, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("relay listening", "address", *listen)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("relay failed", "error", err)
		return 1
	}
	return 0
}

// newRouter assembles the relay's route tree.
func newRouter(token string, logger *slog.Logger) http.Handler {
	relay := &relay{hub: newHub(), logger: logger}
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	if token != "" {
		router.Use(bearerAuth(token))
	}
	router.Route("/v1/rooms/{roomID}", func(router chi.Router) {
		router.Get("/events", relay.events)
		router.Post("/messages", relay.messages)
		router.Post("/typing", relay.typing)
	})
	return router
}

// bearerAuth rejects requests missing the expected bearer token.
func bearerAuth(token string) func(http.Handler) http.Handler {
	expect := "Bearer " + token
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != expect {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type relay struct {
	hub    *hub
	logger *slog.Logger
}

// messageEnvelope mirrors the client's send payload.
type messageEnvelope struct {
	Binary bool   `json:"binary,omitempty"`
	Data   []byte `json:"data"`
}

// events serves one SSE stream for the room.
func (s *relay) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	room := chi.URLParam(r, "roomID")

	frames := s.hub.subscribe(room)
	defer s.hub.unsubscribe(room, frames)
	s.logger.Info("stream opened", "room", room, "streams", s.hub.subscriberCount(room))
	defer s.logger.Info("stream closed", "room", room)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case frame := <-frames:
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// messages validates and rebroadcasts one posted message.
func (s *relay) messages(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "roomID")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > maxMessageBytes {
		http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
		return
	}
	var envelope messageEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "malformed message", http.StatusBadRequest)
		return
	}

	// Re-marshal rather than echoing the raw body, so subscribers see
	// a canonical single-line frame.
	frame, err := json.Marshal(envelope)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.hub.broadcast(room, []byte(fmt.Sprintf("event: message\ndata: %s\n\n", frame)))
	w.WriteHeader(http.StatusAccepted)
}

// typing rebroadcasts the out-of-band typing signal.
func (s *relay) typing(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "roomID")
	s.hub.broadcast(room, []byte("event: typing\ndata: {}\n\n"))
	w.WriteHeader(http.StatusAccepted)
}
