// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock pinned to initial. Time moves only when
// Advance is called.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a deterministic Clock for tests. Timers and tickers
// registered against it fire during Advance, in deadline order.
// AfterFunc callbacks run synchronously inside Advance; do not call
// Advance from within a callback.
//
// Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

// fakeWaiter is a pending After, AfterFunc, or Ticker registration.
type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time // nil for AfterFunc waiters
	callback func()         // nil for channel waiters
	interval time.Duration  // non-zero only for tickers
	stopped  bool
	fired    bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After registers a one-shot waiter. If d <= 0 the channel receives
// immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.waiters = append(c.waiters, &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	return channel
}

// AfterFunc registers f to run when the clock advances past d. If
// d <= 0, f runs synchronously before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	if d <= 0 {
		c.mu.Unlock()
		f()
		noop := &fakeWaiter{fired: true}
		return c.timerFor(noop)
	}
	w := &fakeWaiter{
		deadline: c.current.Add(d),
		callback: f,
	}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	return c.timerFor(w)
}

// NewTicker registers a repeating waiter. Panics if d <= 0, matching
// time.NewTicker.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	w := &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
		interval: d,
	}
	c.waiters = append(c.waiters, w)
	return &Ticker{
		C: channel,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			w.stopped = true
		},
	}
}

// Advance moves the clock forward by d, firing every waiter whose
// deadline falls within the window, in deadline order. Tickers are
// rescheduled at deadline + interval and may fire multiple times in
// one Advance.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)

	for {
		w := c.nextDueLocked(target)
		if w == nil {
			break
		}
		c.current = w.deadline
		if w.interval > 0 {
			w.deadline = w.deadline.Add(w.interval)
		} else {
			w.fired = true
		}

		if w.channel != nil {
			// Capacity-1 channel: drop the tick if the consumer has
			// not drained the previous one.
			select {
			case w.channel <- c.current:
			default:
			}
			continue
		}

		// Run callbacks without the lock so they can register new
		// timers.
		callback := w.callback
		c.mu.Unlock()
		callback()
		c.mu.Lock()
	}

	c.current = target
	c.compactLocked()
	c.mu.Unlock()
}

// nextDueLocked returns the live waiter with the earliest deadline at
// or before target, or nil.
func (c *FakeClock) nextDueLocked(target time.Time) *fakeWaiter {
	var next *fakeWaiter
	for _, w := range c.waiters {
		if w.stopped || w.fired || w.deadline.After(target) {
			continue
		}
		if next == nil || w.deadline.Before(next.deadline) {
			next = w
		}
	}
	return next
}

// compactLocked drops fired and stopped waiters.
func (c *FakeClock) compactLocked() {
	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			live = append(live, w)
		}
	}
	c.waiters = live
}

func (c *FakeClock) timerFor(w *fakeWaiter) *Timer {
	return &Timer{
		stopFunc: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if w.stopped || w.fired {
				return false
			}
			w.stopped = true
			return true
		},
		resetFunc: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			active := !w.stopped && !w.fired
			w.stopped = false
			w.fired = false
			w.deadline = c.current.Add(d)
			if !active {
				c.waiters = append(c.waiters, w)
			}
			return active
		},
	}
}
