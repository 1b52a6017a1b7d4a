// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/goguma-chat/peerlink/broadcast"
	"github.com/goguma-chat/peerlink/storage"
)

// ModeTopic is the broadcast topic carrying mode-change announcements
// between instances of one origin.
const ModeTopic = "mode"

// modeFrame is the broadcast payload for a mode change. Instance
// identifies the publisher so it can ignore its own frames.
type modeFrame struct {
	Mode     Mode   `json:"mode"`
	Instance string `json:"instance"`
}

// ControllerCallbacks extend HandleCallbacks with the mode-change
// notification. OnModeChange fires once per adopted handle, including
// the first connect; a failed switch leaves the previous mode
// untouched and emits nothing, and a switch to an already-live mode is
// a no-op.
type ControllerCallbacks struct {
	Handle       HandleCallbacks
	OnModeChange func(Mode)
}

// Controller owns the single active Handle and serializes mode
// switches. Successful switches are persisted to the store and
// announced on the broadcaster, so sibling instances follow along.
type Controller struct {
	store     storage.Store
	bus       broadcast.Broadcaster
	options   Options
	callbacks ControllerCallbacks
	logger    *slog.Logger
	instance  string

	mu     sync.Mutex
	mode   Mode
	handle *Handle
}

// NewController creates a Controller starting from defaultMode. No
// connection is made until the first SwitchMode or Refresh.
func NewController(store storage.Store, bus broadcast.Broadcaster, defaultMode Mode, options Options, callbacks ControllerCallbacks, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		store:     store,
		bus:       bus,
		options:   options,
		callbacks: callbacks,
		logger:    logger,
		instance:  uuid.NewString(),
		mode:      defaultMode,
	}
}

// Mode returns the active mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Handle returns the active handle, or nil before the first switch.
func (c *Controller) Handle() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Send forwards to the active handle.
func (c *Controller) Send(message Message) error {
	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()
	if handle == nil {
		return ErrNotConnected
	}
	return handle.Send(message)
}

// SwitchMode connects a handle for mode, replacing the current one.
// The old handle keeps serving until the new connection succeeds: a
// failed switch leaves everything as it was and returns the cause.
// Push degrading to unavailable falls back to progressive. Switches
// are serialized; concurrent callers queue.
func (c *Controller) SwitchMode(ctx context.Context, mode Mode) error {
	return c.switchTo(ctx, mode, true)
}

// Refresh re-reads the persisted mode preference and switches to it.
// Absent or unparseable values keep the current mode.
func (c *Controller) Refresh(ctx context.Context) error {
	value, ok, err := c.store.Get(storage.KeyMode)
	if err != nil {
		return fmt.Errorf("reading stored mode: %w", err)
	}
	if !ok {
		return c.switchTo(ctx, c.Mode(), true)
	}
	mode, err := ParseMode(string(value))
	if err != nil {
		c.logger.Warn("ignoring invalid stored mode", "value", string(value))
		return c.switchTo(ctx, c.Mode(), true)
	}
	return c.switchTo(ctx, mode, true)
}

// Run follows mode announcements from sibling instances until ctx is
// cancelled. Announcements switch the local handle without
// re-persisting or re-announcing.
func (c *Controller) Run(ctx context.Context) error {
	frames, err := c.bus.Subscribe(ctx, ModeTopic)
	if err != nil {
		return fmt.Errorf("subscribing to mode announcements: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-frames:
			if !ok {
				return ctx.Err()
			}
			var frame modeFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				c.logger.Warn("ignoring malformed mode announcement", "error", err)
				continue
			}
			if frame.Instance == c.instance {
				continue
			}
			if _, err := ParseMode(string(frame.Mode)); err != nil {
				c.logger.Warn("ignoring unknown announced mode", "mode", string(frame.Mode))
				continue
			}
			if err := c.switchTo(ctx, frame.Mode, false); err != nil {
				c.logger.Warn("following announced mode failed", "mode", string(frame.Mode), "error", err)
			}
		}
	}
}

// Teardown disconnects the active handle.
func (c *Controller) Teardown() {
	c.mu.Lock()
	handle := c.handle
	c.handle = nil
	c.mu.Unlock()
	if handle != nil {
		handle.Disconnect()
	}
}

// switchTo performs one serialized switch. announce controls whether
// the result is persisted and broadcast (local switches yes, switches
// following a sibling's announcement no).
func (c *Controller) switchTo(ctx context.Context, mode Mode, announce bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil && c.mode == mode && c.handle.State().live() {
		return nil
	}

	handle, effective, err := c.connectLocked(ctx, mode)
	if err != nil {
		return err
	}

	previous := c.handle
	c.handle = handle
	c.mode = effective
	c.logger.Info("transport mode active", "mode", string(effective))

	if previous != nil {
		previous.Disconnect()
	}
	if announce {
		if err := c.store.Set(storage.KeyMode, []byte(effective)); err != nil {
			c.logger.Warn("persisting mode failed", "error", err)
		}
		frame, _ := json.Marshal(modeFrame{Mode: effective, Instance: c.instance})
		if err := c.bus.Publish(ctx, ModeTopic, frame); err != nil {
			c.logger.Warn("announcing mode failed", "error", err)
		}
	}
	if c.callbacks.OnModeChange != nil {
		c.callbacks.OnModeChange(effective)
	}
	return nil
}

// connectLocked builds and connects a candidate handle for mode. A
// candidate that fails to connect is disconnected and discarded; the
// caller's current handle is never touched. Push falling over as
// unavailable retries once as progressive.
func (c *Controller) connectLocked(ctx context.Context, mode Mode) (*Handle, Mode, error) {
	start, err := c.startFor(mode)
	if err != nil {
		return nil, "", err
	}

	candidate := NewHandle(mode, start, c.callbacks.Handle, c.logger)
	options := c.options
	if err := candidate.Connect(ctx, &options); err != nil {
		candidate.Disconnect()
		if mode == ModePush && IsUnavailable(err) {
			c.logger.Info("push relay unavailable, falling back to progressive")
			return c.connectLocked(ctx, ModeProgressive)
		}
		return nil, "", fmt.Errorf("connecting %s transport: %w", mode, err)
	}
	return candidate, mode, nil
}

// startFor maps a mode onto its driver.
func (c *Controller) startFor(mode Mode) (StartFunc, error) {
	drivers := c.options.drivers()
	switch mode {
	case ModeUDP:
		return drivers.WebTransport, nil
	case ModeProgressive:
		return StartProgressive, nil
	case ModeWebSocket:
		return drivers.WebSocket, nil
	case ModePush:
		return drivers.Push, nil
	}
	return nil, fmt.Errorf("transport: unknown mode %q", mode)
}
