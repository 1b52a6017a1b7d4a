// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// peerlink is an interactive peer-to-peer chat client. It connects
// with whichever transport the configured mode selects and exchanges
// WebRTC handshakes as copy-paste tokens.
//
// Usage:
//
//	peerlink --config peerlink.yaml --role host
//	peerlink --config peerlink.yaml --role guest
//	peerlink --config peerlink.yaml --mode push --room lobby
//
// In the chat prompt, /mode switches transports, /state shows the
// connection state, /quit exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"

	"github.com/goguma-chat/peerlink/broadcast"
	"github.com/goguma-chat/peerlink/lib/config"
	"github.com/goguma-chat/peerlink/lib/version"
	"github.com/goguma-chat/peerlink/signaling"
	"github.com/goguma-chat/peerlink/storage"
	"github.com/goguma-chat/peerlink/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("peerlink", pflag.ContinueOnError)
	configPath := flags.String("config", "", "configuration file (default: $"+config.EnvVar+")")
	modeFlag := flags.String("mode", "", "messaging mode override (udp, progressive, websocket, push)")
	roleFlag := flags.String("role", "", "webrtc handshake role (host or guest)")
	room := flags.String("room", "", "room id for push mode and invite tokens")
	name := flags.String("name", "", "display name carried in invite metadata")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Printf("peerlink %s\n", version.Info())
		return 0
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "peerlink: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, closeStore, err := openStore(cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "peerlink: %v\n", err)
		return 1
	}
	defer closeStore()

	// Prefer relaying through storage watch events so separate
	// processes sharing a store follow along; a memory store gets the
	// in-process channel.
	var bus broadcast.Broadcaster
	if watchable, ok := store.(broadcast.WatchableStore); ok {
		bus = broadcast.NewStoreBroadcaster(watchable)
	} else {
		bus = broadcast.NewMemoryBroadcaster()
	}

	var metadata map[string]string
	if *name != "" {
		metadata = map[string]string{"name": *name}
	}
	peer, err := signaling.NewController(signaling.Options{
		Store:    store,
		Bus:      bus,
		RoomID:   *room,
		Metadata: metadata,
		Logger:   logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "peerlink: %v\n", err)
		return 1
	}
	defer peer.Close()

	if *roleFlag != "" {
		role := transport.Role(*roleFlag)
		if err := peer.SetRole(role); err != nil {
			fmt.Fprintf(os.Stderr, "peerlink: %v\n", err)
			return 2
		}
	}

	rl, err := readline.New("you> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "peerlink: %v\n", err)
		return 1
	}
	defer rl.Close()

	controller := transport.NewController(store, bus, transport.Mode(cfg.DefaultMode), transportOptions(cfg, peer, *room, logger), transport.ControllerCallbacks{
		Handle: transport.HandleCallbacks{
			OnMessage: func(m transport.Message) {
				if m.Binary {
					fmt.Fprintf(rl.Stdout(), "peer> [%d bytes]\n", len(m.Data))
					return
				}
				fmt.Fprintf(rl.Stdout(), "peer> %s\n", m.Text())
			},
			OnStateChange: func(s transport.State) {
				fmt.Fprintf(rl.Stdout(), "[transport: %s]\n", s)
				if s == transport.StateConnected {
					if err := peer.MarkConnected(); err != nil {
						logger.Warn("recording connected state failed", "error", err)
					}
				}
			},
			OnError: func(err error) {
				fmt.Fprintf(rl.Stdout(), "[transport error: %v]\n", err)
			},
		},
		OnModeChange: func(m transport.Mode) {
			fmt.Fprintf(rl.Stdout(), "[mode: %s]\n", m)
		},
	}, logger)
	defer controller.Teardown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go controller.Run(ctx)
	go peer.Run(ctx)

	connectDone := make(chan error, 1)
	go func() {
		if *modeFlag != "" {
			mode, err := transport.ParseMode(*modeFlag)
			if err != nil {
				connectDone <- err
				return
			}
			connectDone <- controller.SwitchMode(ctx, mode)
			return
		}
		connectDone <- controller.Refresh(ctx)
	}()

	if err := runHandshake(rl, peer); err != nil {
		fmt.Fprintf(os.Stderr, "peerlink: handshake: %v\n", err)
		return 1
	}
	if err := <-connectDone; err != nil {
		fmt.Fprintf(os.Stderr, "peerlink: connect: %v\n", err)
		return 1
	}

	return chatLoop(ctx, rl, controller)
}

// runHandshake walks the user through the token exchange for the
// selected role. Roleless sessions (websocket, push, udp) skip it.
func runHandshake(rl *readline.Instance, peer *signaling.Controller) error {
	switch peer.Role() {
	case transport.RoleHost:
		token := awaitToken(peer.OfferToken)
		fmt.Fprintf(rl.Stdout(), "Share this invite token with your peer:\n\n%s\n\n", token)
		pasted, err := prompt(rl, "paste answer token: ")
		if err != nil {
			return err
		}
		return peer.ApplyToken(pasted)

	case transport.RoleGuest:
		pasted, err := prompt(rl, "paste invite token: ")
		if err != nil {
			return err
		}
		if err := peer.ApplyToken(pasted); err != nil {
			return err
		}
		token := awaitToken(peer.AnswerToken)
		fmt.Fprintf(rl.Stdout(), "Send this answer token back to the host:\n\n%s\n\n", token)
		return nil
	}
	return nil
}

// awaitToken polls until the controller exposes a token. The token
// appears as soon as the driver hands its description to the
// negotiator.
func awaitToken(get func() string) string {
	for {
		if token := get(); token != "" {
			return token
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func prompt(rl *readline.Instance, label string) (string, error) {
	rl.SetPrompt(label)
	defer rl.SetPrompt("you> ")
	line, err := rl.Readline()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// chatLoop reads lines and forwards them until /quit or EOF.
func chatLoop(ctx context.Context, rl *readline.Instance, controller *transport.Controller) int {
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return 0
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "peerlink: %v\n", err)
			return 1
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case line == "/quit":
			return 0
		case line == "/state":
			if handle := controller.Handle(); handle != nil {
				fmt.Fprintf(rl.Stdout(), "[%s via %s]\n", handle.State(), controller.Mode())
			} else {
				fmt.Fprintln(rl.Stdout(), "[not connected]")
			}
		case strings.HasPrefix(line, "/mode "):
			mode, err := transport.ParseMode(strings.TrimSpace(strings.TrimPrefix(line, "/mode ")))
			if err != nil {
				fmt.Fprintf(rl.Stdout(), "[%v]\n", err)
				continue
			}
			if err := controller.SwitchMode(ctx, mode); err != nil {
				fmt.Fprintf(rl.Stdout(), "[switch failed, keeping %s: %v]\n", controller.Mode(), err)
			}
		default:
			if err := controller.Send(transport.Text(line)); err != nil {
				fmt.Fprintf(rl.Stdout(), "[send failed: %v]\n", err)
			}
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv(config.EnvVar) != "" {
		return config.Load()
	}
	return config.Default(), nil
}

func openStore(cfg config.Storage) (storage.Store, func(), error) {
	switch cfg.Backend {
	case "file":
		store, err := storage.NewFileStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "sqlite":
		store, err := storage.OpenSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		return storage.NewMemoryStore(), func() {}, nil
	}
}

func transportOptions(cfg *config.Config, peer *signaling.Controller, room string, logger *slog.Logger) transport.Options {
	options := transport.Options{
		Negotiator:      peer,
		WebTransportURL: cfg.Endpoints.WebTransportURL,
		WebSocketURL:    cfg.Endpoints.WebSocketURL,
		PushBaseURL:     cfg.Endpoints.PushBaseURL,
		PushRoom:        room,
		PushToken:       cfg.Endpoints.PushToken,
		Logger:          logger,
	}
	for _, server := range cfg.ICE.Servers {
		options.ICEServers = append(options.ICEServers, webrtc.ICEServer{
			URLs:       server.URLs,
			Username:   server.Username,
			Credential: server.Credential,
		})
	}
	return options
}
