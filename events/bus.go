// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package events

import (
	"context"
	"path"
	"sync"
	"time"

	norm "github.com/LerianStudio/lib-norm"
	cn "github.com/LerianStudio/lib-norm/constant"
	"github.com/LerianStudio/lib-norm/mlog"
	"github.com/LerianStudio/lib-norm/mredis"
	"github.com/LerianStudio/lib-norm/mretry"
	"golang.org/x/sync/semaphore"
)

// Config enumerates the bus knobs.
type Config struct {
	QueueName         string
	BatchSize         int
	PollInterval      time.Duration
	MaxRetries        int
	Retry             mretry.Config
	WorkerConcurrency int
	// HighWaterMark bounds the queue length; publishers block while the
	// queue holds HighWaterMark or more events.
	HighWaterMark int64
}

func (c Config) withDefaults() Config {
	if c.QueueName == "" {
		c.QueueName = "norm:events"
	}

	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}

	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}

	if c.MaxRetries <= 0 {
		c.MaxRetries = mretry.DefaultMaxRetries
	}

	if c.Retry.InitialBackoff == 0 {
		c.Retry = mretry.DefaultEventConfig()
	}

	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = 4
	}

	return c
}

// Handler consumes one delivered event.
type Handler func(ctx context.Context, event Event) error

// PublishOptions tune one publish call.
type PublishOptions struct {
	Delay         time.Duration
	CorrelationID string
}

// SubscribeOptions tune one subscription.
type SubscribeOptions struct {
	// Concurrency bounds how many deliveries of this subscription run at
	// once across all workers.
	Concurrency int
	// MaxRetries overrides the bus default for this subscription.
	MaxRetries int
}

type subscription struct {
	pattern    string
	handler    Handler
	maxRetries int
	slots      *semaphore.Weighted
}

func (s *subscription) matches(name string) bool {
	matched, err := path.Match(s.pattern, name)

	return err == nil && matched
}

// RedisBus publishes to and consumes from a Redis-compatible queue.
type RedisBus struct {
	conn   *mredis.RedisConnection
	cfg    Config
	logger mlog.Logger

	mu            sync.RWMutex
	subscriptions []*subscription

	workers sync.WaitGroup
	stop    chan struct{}
	started bool
}

// NewRedisBus builds a bus over the given connection hub.
func NewRedisBus(conn *mredis.RedisConnection, cfg Config, logger mlog.Logger) *RedisBus {
	if logger == nil {
		logger = &mlog.NoneLogger{}
	}

	return &RedisBus{
		conn:   conn,
		cfg:    cfg.withDefaults(),
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// queueKey is the ready list; scheduledKey holds delayed and retried events;
// deadLetterKey collects events that exhausted their retries.
func (b *RedisBus) queueKey() string      { return b.cfg.QueueName }
func (b *RedisBus) scheduledKey() string  { return b.cfg.QueueName + ":scheduled" }
func (b *RedisBus) deadLetterKey() string { return b.cfg.QueueName + ":failed" }

// Publish enqueues event. A delay parks it on the scheduled set until due.
// While the ready queue holds the high-water mark or more the call blocks.
// Queue unavailability surfaces as EventBusUnavailable after the configured
// retries.
func (b *RedisBus) Publish(ctx context.Context, event Event, opts *PublishOptions) error {
	if event.EnqueuedAt.IsZero() {
		event.EnqueuedAt = time.Now().UTC()
	}

	if opts != nil && opts.CorrelationID != "" {
		event.CorrelationID = opts.CorrelationID
	}

	if event.Attempt == 0 {
		event.Attempt = 1
	}

	var delay time.Duration
	if opts != nil {
		delay = opts.Delay
	}

	if delay > 0 {
		event.ScheduledFor = time.Now().UTC().Add(delay)
	}

	raw, err := event.encode()
	if err != nil {
		return err
	}

	err = mretry.Do(ctx, b.cfg.Retry, func(error) bool { return true }, func(ctx context.Context) error {
		client, err := b.conn.GetClient(ctx)
		if err != nil {
			return err
		}

		if event.ScheduledFor.After(time.Now()) {
			return client.ZAdd(ctx, b.scheduledKey(), scheduledMember(raw, event.ScheduledFor)).Err()
		}

		if err := b.waitBelowHighWater(ctx); err != nil {
			return err
		}

		return client.RPush(ctx, b.queueKey(), raw).Err()
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		busErr := norm.ValidateBusinessError(cn.ErrEventBusUnavailable, event.Name).(norm.InternalServerError)
		busErr.Err = err

		return busErr
	}

	return nil
}

// waitBelowHighWater applies publisher backpressure: it suspends until the
// ready queue drops below the configured mark.
func (b *RedisBus) waitBelowHighWater(ctx context.Context) error {
	if b.cfg.HighWaterMark <= 0 {
		return nil
	}

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		client, err := b.conn.GetClient(ctx)
		if err != nil {
			return err
		}

		depth, err := client.LLen(ctx, b.queueKey()).Result()
		if err != nil {
			return err
		}

		if depth < b.cfg.HighWaterMark {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Subscribe registers handler for events whose names match the glob pattern.
func (b *RedisBus) Subscribe(pattern string, handler Handler, opts *SubscribeOptions) {
	sub := &subscription{
		pattern:    pattern,
		handler:    handler,
		maxRetries: b.cfg.MaxRetries,
	}

	concurrency := 1

	if opts != nil {
		if opts.Concurrency > 0 {
			concurrency = opts.Concurrency
		}

		if opts.MaxRetries > 0 {
			sub.maxRetries = opts.MaxRetries
		}
	}

	sub.slots = semaphore.NewWeighted(int64(concurrency))

	b.mu.Lock()
	b.subscriptions = append(b.subscriptions, sub)
	b.mu.Unlock()
}

func (b *RedisBus) matchingSubscriptions(name string) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []*subscription

	for _, sub := range b.subscriptions {
		if sub.matches(name) {
			matched = append(matched, sub)
		}
	}

	return matched
}
