// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "context"

// StartProgressive attempts the transport tiers in fixed priority
// order: WebRTC, then WebTransport, then WebSocket. A tier that is
// not configured (its driver reports UnavailableError) is skipped
// silently; a tier that fails for any other reason has its error
// emitted (non-fatally) before the next tier is tried. When every
// configured tier fails, the last error is returned.
//
// The order is not configurable; callers control participation only
// by supplying or omitting per-tier configuration.
func StartProgressive(ctx context.Context, options Options, events Events) (Conn, error) {
	drivers := options.drivers()
	logger := options.logger()

	tiers := []struct {
		name  string
		start StartFunc
	}{
		{"webrtc", drivers.WebRTC},
		{"webtransport", drivers.WebTransport},
		{"websocket", drivers.WebSocket},
	}

	var lastErr error
	for _, tier := range tiers {
		conn, err := tier.start(ctx, options, events)
		if err == nil {
			logger.Info("progressive tier connected", "tier", tier.name)
			return conn, nil
		}
		// Cancellation is absorbed, not treated as a tier failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if IsUnavailable(err) {
			logger.Debug("progressive tier not configured", "tier", tier.name)
		} else {
			logger.Warn("progressive tier failed", "tier", tier.name, "error", err)
			events.error(err)
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = &UnavailableError{Tier: "progressive", Reason: "no transport tiers configured"}
	}
	return nil, lastErr
}
