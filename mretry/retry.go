// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package mretry

import (
	"context"
	"math/rand"
	"time"
)

// Retryable decides whether err is worth another attempt. Validation and
// authorization failures must always report false.
type Retryable func(err error) bool

// BackoffFor returns the delay before the given zero-based attempt, applying
// exponential growth capped at MaxBackoff and the configured jitter span.
func (c Config) BackoffFor(attempt int) time.Duration {
	capped := c.InitialBackoff
	for i := 0; i < attempt && capped < c.MaxBackoff; i++ {
		capped *= 2
	}

	if capped > c.MaxBackoff {
		capped = c.MaxBackoff
	}

	if c.JitterFactor <= 0 {
		return capped
	}

	span := time.Duration(float64(capped) * c.JitterFactor)

	return capped - span + time.Duration(rand.Int63n(int64(span)+1))
}

// Do runs op, retrying transient failures up to MaxRetries times with
// jittered exponential backoff. The last error is returned once the budget is
// exhausted; ctx cancellation aborts the wait between attempts.
func Do(ctx context.Context, cfg Config, retryable Retryable, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(cfg.BackoffFor(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if retryable == nil || !retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}
