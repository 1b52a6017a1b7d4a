// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"sync"
	"time"
)

// retryInterval is the spacing between rebroadcasts of an outstanding
// token. Rebroadcasting covers the race where a token is pasted into a
// tab whose relay subscription is not up yet.
const retryInterval = 2 * time.Second

// outstanding is one local token awaiting consumption by the remote
// side. Its rebroadcast runs until stop is called or the TTL elapses.
type outstanding struct {
	encoded   string
	createdAt time.Time

	stopOnce sync.Once
	done     chan struct{}
}

func newOutstanding(encoded string, createdAt time.Time) *outstanding {
	return &outstanding{
		encoded:   encoded,
		createdAt: createdAt,
		done:      make(chan struct{}),
	}
}

// stop ends the rebroadcast. Idempotent.
func (o *outstanding) stop() {
	o.stopOnce.Do(func() { close(o.done) })
}

// startRetry launches the rebroadcast loop for entry. Without a
// broadcaster there is nothing to rebroadcast to.
func (c *Controller) startRetry(entry *outstanding) {
	if c.bus == nil {
		return
	}
	go func() {
		ticker := c.clk.NewTicker(retryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-entry.done:
				return
			case now := <-ticker.C:
				if tokenRemaining(entry.createdAt, now) <= 0 {
					return
				}
				c.publish(entry)
			}
		}
	}()
}
