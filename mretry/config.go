// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package mretry

import "time"

// Default retry tuning shared by the store and event paths.
const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
	// DefaultJitterFactor of 1.0 yields full jitter: each delay is drawn
	// uniformly from [0, capped backoff].
	DefaultJitterFactor = 1.0

	// EventInitialBackoff spaces event redeliveries further apart than store
	// retries, which contend for the same pooled sessions.
	EventInitialBackoff = 1 * time.Second
)

// Config carries the retry policy knobs.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFactor   float64
}

// DefaultStoreConfig returns the policy applied around adapter calls.
func DefaultStoreConfig() Config {
	return Config{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		JitterFactor:   DefaultJitterFactor,
	}
}

// DefaultEventConfig returns the policy applied to event redelivery.
func DefaultEventConfig() Config {
	return Config{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: EventInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		JitterFactor:   DefaultJitterFactor,
	}
}

// WithMaxRetries returns a copy of the config with MaxRetries replaced.
func (c Config) WithMaxRetries(n int) Config {
	c.MaxRetries = n
	return c
}

// WithInitialBackoff returns a copy of the config with InitialBackoff replaced.
func (c Config) WithInitialBackoff(d time.Duration) Config {
	c.InitialBackoff = d
	return c
}

// WithMaxBackoff returns a copy of the config with MaxBackoff replaced.
func (c Config) WithMaxBackoff(d time.Duration) Config {
	c.MaxBackoff = d
	return c
}

// WithJitterFactor returns a copy of the config with JitterFactor replaced.
func (c Config) WithJitterFactor(f float64) Config {
	c.JitterFactor = f
	return c
}
