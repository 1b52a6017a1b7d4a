// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// HandleCallbacks are the page-level listeners a caller registers on
// a Handle. Callbacks run on transport goroutines; they must not call
// back into the Handle synchronously.
type HandleCallbacks struct {
	OnMessage     func(Message)
	OnStateChange func(State)
	OnError       func(error)
}

// Handle wraps one underlying driver connection behind a state
// machine. It owns the FIFO buffer of sends issued before the
// connection is ready and the cancellation context threaded into the
// active driver.
type Handle struct {
	mode      Mode
	start     StartFunc
	callbacks HandleCallbacks
	logger    *slog.Logger

	mu        sync.Mutex
	state     State
	conn      Conn
	cancel    context.CancelFunc
	options   Options
	pending   []pendingSend
	attempt   uint64
	readyCh   chan struct{}
	readyDone bool
	readyErr  error
}

// pendingSend is one queued payload awaiting a connection.
type pendingSend struct {
	message Message
}

// NewHandle creates an idle Handle for the given mode and driver.
func NewHandle(mode Mode, start StartFunc, callbacks HandleCallbacks, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handle{
		mode:      mode,
		start:     start,
		callbacks: callbacks,
		logger:    logger,
		state:     StateIdle,
	}
}

// Mode returns the driver family this handle wraps.
func (h *Handle) Mode() Mode { return h.mode }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Connect establishes the underlying channel. Passing nil options
// while already connected is an idempotent no-op. A call made while
// another Connect is in flight records the new options (adopted by
// future attempts) and waits for the in-flight attempt. Cancelling
// ctx aborts the attempt it is waiting on.
func (h *Handle) Connect(ctx context.Context, options *Options) error {
	h.mu.Lock()

	if options != nil {
		h.options = *options
	}

	switch h.state {
	case StateConnected:
		if options == nil {
			h.mu.Unlock()
			return nil
		}
	case StateConnecting, StateRecovering:
		ready := h.readyCh
		attempt := h.attempt
		h.mu.Unlock()
		return h.await(ctx, attempt, ready)
	}

	// Quietly retire whatever came before this attempt.
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	if h.conn != nil {
		h.conn.Close()
		h.conn = nil
	}

	h.attempt++
	attempt := h.attempt
	runCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.readyCh = make(chan struct{})
	h.readyDone = false
	h.readyErr = nil
	notify := h.setStateLocked(StateConnecting)
	options2 := h.options
	ready := h.readyCh
	h.mu.Unlock()

	if notify != nil {
		notify()
	}

	go h.run(runCtx, attempt, options2)
	return h.await(ctx, attempt, ready)
}

// WaitReady blocks until the current connect attempt settles.
func (h *Handle) WaitReady(ctx context.Context) error {
	h.mu.Lock()
	ready := h.readyCh
	attempt := h.attempt
	if ready == nil {
		h.mu.Unlock()
		return ErrNotConnected
	}
	h.mu.Unlock()
	return h.await(ctx, attempt, ready)
}

// await waits for an attempt's ready channel. Cancelling ctx aborts
// that attempt.
func (h *Handle) await(ctx context.Context, attempt uint64, ready <-chan struct{}) error {
	select {
	case <-ready:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.readyErr
	case <-ctx.Done():
		h.abortAttempt(attempt, ctx.Err())
		return ctx.Err()
	}
}

// run drives one connect attempt to completion.
func (h *Handle) run(ctx context.Context, attempt uint64, options Options) {
	events := Events{
		OnMessage: func(m Message) { h.deliver(attempt, m) },
		OnState:   func(s State) { h.driverState(attempt, s) },
		OnError:   func(err error) { h.driverError(attempt, err) },
	}

	conn, err := h.start(ctx, options, events)

	h.mu.Lock()
	if attempt != h.attempt {
		h.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		notify := h.failLocked(err)
		h.mu.Unlock()
		if notify != nil {
			notify()
		}
		return
	}

	h.conn = conn
	notify := h.finishConnectLocked(attempt, conn)
	h.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// finishConnectLocked drains the pending queue in FIFO order, then
// marks the handle connected and settles the ready channel. New sends
// arriving during the drain keep queueing (state is still
// connecting), preserving overall order.
func (h *Handle) finishConnectLocked(attempt uint64, conn Conn) func() {
	for len(h.pending) > 0 {
		queue := h.pending
		h.pending = nil
		h.mu.Unlock()

		var sendErr error
		for _, entry := range queue {
			if sendErr = conn.Send(entry.message); sendErr != nil {
				break
			}
		}
		if sendErr != nil {
			h.emitError(fmt.Errorf("transport: flushing queued sends: %w", sendErr))
		}

		h.mu.Lock()
		if attempt != h.attempt {
			return nil
		}
	}

	notify := h.setStateLocked(StateConnected)
	h.settleReadyLocked(nil)
	return notify
}

// Send forwards immediately when connected, queues while a connection
// attempt or recovery is in flight, and fails otherwise.
func (h *Handle) Send(message Message) error {
	h.mu.Lock()
	switch h.state {
	case StateConnected:
		conn := h.conn
		h.mu.Unlock()
		return conn.Send(message)
	case StateConnecting, StateRecovering:
		h.pending = append(h.pending, pendingSend{message: message})
		h.mu.Unlock()
		return nil
	default:
		h.mu.Unlock()
		return ErrNotConnected
	}
}

// Disconnect tears down the active connection and rejects queued
// sends. The cancellation context is retired, so the handle can be
// reused for a future Connect.
func (h *Handle) Disconnect() {
	h.mu.Lock()
	h.attempt++ // invalidates in-flight attempts and their callbacks
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	conn := h.conn
	h.conn = nil
	dropped := len(h.pending)
	h.pending = nil
	h.settleReadyLocked(ErrNotConnected)
	notify := h.setStateLocked(StateClosed)
	h.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if notify != nil {
		notify()
	}
	if dropped > 0 {
		h.emitError(fmt.Errorf("transport: %d queued sends dropped: %w", dropped, ErrNotConnected))
	}
}

// deliver forwards an inbound message if the attempt is still
// current.
func (h *Handle) deliver(attempt uint64, message Message) {
	h.mu.Lock()
	current := attempt == h.attempt
	h.mu.Unlock()
	if current && h.callbacks.OnMessage != nil {
		h.callbacks.OnMessage(message)
	}
}

// driverState applies a driver-reported transition to the state
// machine.
func (h *Handle) driverState(attempt uint64, s State) {
	h.mu.Lock()
	if attempt != h.attempt {
		h.mu.Unlock()
		return
	}

	var notify func()
	switch s {
	case StateConnected:
		// Self-healed link (ICE reconnected or completed).
		if h.state == StateDegraded || h.state == StateRecovering {
			conn := h.conn
			queue := h.pending
			h.pending = nil
			notify = h.setStateLocked(StateConnected)
			h.mu.Unlock()
			if notify != nil {
				notify()
			}
			for _, entry := range queue {
				if err := conn.Send(entry.message); err != nil {
					h.emitError(fmt.Errorf("transport: flushing queued sends: %w", err))
					break
				}
			}
			return
		}
	case StateDegraded, StateRecovering:
		if h.state.live() {
			notify = h.setStateLocked(s)
		}
	case StateClosed:
		if h.state.live() {
			dropped := len(h.pending)
			h.pending = nil
			h.conn = nil
			h.settleReadyLocked(ErrNotConnected)
			notify = h.setStateLocked(StateClosed)
			h.mu.Unlock()
			if notify != nil {
				notify()
			}
			if dropped > 0 {
				h.emitError(fmt.Errorf("transport: %d queued sends dropped: %w", dropped, ErrNotConnected))
			}
			return
		}
	case StateError:
		notify = h.failLocked(errors.New("transport: driver reported unrecoverable failure"))
	}
	h.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// driverError surfaces a non-fatal driver error to the caller.
func (h *Handle) driverError(attempt uint64, err error) {
	h.mu.Lock()
	current := attempt == h.attempt
	h.mu.Unlock()
	if current {
		h.emitError(err)
	}
}

// failLocked moves the handle to the terminal error state: queued
// sends are rejected, the ready channel settles with the cause, and
// the dropped count surfaces through OnError. Returns the deferred
// notifications.
func (h *Handle) failLocked(cause error) func() {
	dropped := len(h.pending)
	h.pending = nil
	if h.conn != nil {
		h.conn.Close()
		h.conn = nil
	}
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.settleReadyLocked(cause)
	notify := h.setStateLocked(StateError)
	if dropped == 0 {
		return notify
	}
	return func() {
		if notify != nil {
			notify()
		}
		h.emitError(fmt.Errorf("transport: %d queued sends dropped: %w", dropped, ErrNotConnected))
	}
}

// abortAttempt cancels a specific in-flight attempt (caller context
// expired while waiting on it).
func (h *Handle) abortAttempt(attempt uint64, cause error) {
	h.mu.Lock()
	if attempt != h.attempt || h.readyDone {
		h.mu.Unlock()
		return
	}
	h.attempt++
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.pending = nil
	h.settleReadyLocked(cause)
	notify := h.setStateLocked(StateClosed)
	h.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// settleReadyLocked resolves the current ready channel exactly once.
func (h *Handle) settleReadyLocked(err error) {
	if h.readyCh == nil || h.readyDone {
		return
	}
	h.readyErr = err
	h.readyDone = true
	close(h.readyCh)
}

// setStateLocked records a transition and returns the deferred
// OnStateChange notification, or nil when nothing changed. Callers
// invoke the returned func after releasing the lock.
func (h *Handle) setStateLocked(s State) func() {
	if h.state == s {
		return nil
	}
	h.state = s
	h.logger.Debug("transport state change", "mode", h.mode, "state", string(s))
	callback := h.callbacks.OnStateChange
	if callback == nil {
		return nil
	}
	return func() { callback(s) }
}

func (h *Handle) emitError(err error) {
	if h.callbacks.OnError != nil {
		h.callbacks.OnError(err)
	}
}
