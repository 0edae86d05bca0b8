// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package events

import (
	"context"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

func scheduledMember(raw string, due time.Time) redis.Z {
	return redis.Z{Score: float64(due.UnixMilli()), Member: raw}
}

// Start launches the worker lanes and the scheduler mover. Events with the
// same correlation id always land on the same lane, preserving publish order
// per key; events with different keys interleave freely.
func (b *RedisBus) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}

	b.started = true
	b.mu.Unlock()

	lanes := make([]chan Event, b.cfg.WorkerConcurrency)

	for i := range lanes {
		lanes[i] = make(chan Event, b.cfg.BatchSize)

		b.workers.Add(1)

		go func(lane chan Event) {
			defer b.workers.Done()

			for event := range lane {
				b.dispatch(ctx, event)
			}
		}(lanes[i])
	}

	b.workers.Add(1)

	go func() {
		defer b.workers.Done()
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()

		b.pollLoop(ctx, lanes)
	}()
}

// Stop signals the poll loop and waits for in-flight deliveries to drain.
func (b *RedisBus) Stop() {
	b.mu.Lock()

	if !b.started {
		b.mu.Unlock()
		return
	}

	b.started = false

	select {
	case <-b.stop:
	default:
		close(b.stop)
	}

	b.mu.Unlock()

	b.workers.Wait()
}

// pollLoop promotes due scheduled events and drains ready batches into the
// lanes. Queue unavailability backs off exponentially before re-polling.
func (b *RedisBus) pollLoop(ctx context.Context, lanes []chan Event) {
	retryDelay := backoff.NewExponentialBackOff()
	retryDelay.InitialInterval = b.cfg.PollInterval
	retryDelay.MaxInterval = 10 * b.cfg.PollInterval
	retryDelay.MaxElapsedTime = 0

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		case <-ticker.C:
		}

		if err := b.promoteScheduled(ctx); err != nil {
			b.logger.Warnf("event bus: promoting scheduled events: %v", err)

			b.sleep(ctx, retryDelay.NextBackOff())

			continue
		}

		drained, err := b.drainBatch(ctx, lanes)
		if err != nil {
			b.logger.Warnf("event bus: polling queue: %v", err)

			b.sleep(ctx, retryDelay.NextBackOff())

			continue
		}

		retryDelay.Reset()

		// Keep draining without waiting while the queue has a backlog.
		if drained == b.cfg.BatchSize {
			ticker.Reset(time.Millisecond)

			continue
		}

		ticker.Reset(b.cfg.PollInterval)
	}
}

func (b *RedisBus) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-b.stop:
	case <-timer.C:
	}
}

// promoteScheduled moves due events from the scheduled set to the ready
// queue, preserving their due order.
func (b *RedisBus) promoteScheduled(ctx context.Context) error {
	client, err := b.conn.GetClient(ctx)
	if err != nil {
		return err
	}

	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	due, err := client.ZRangeByScore(ctx, b.scheduledKey(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return err
	}

	for _, raw := range due {
		removed, err := client.ZRem(ctx, b.scheduledKey(), raw).Result()
		if err != nil {
			return err
		}

		// Another worker already claimed it.
		if removed == 0 {
			continue
		}

		if err := client.RPush(ctx, b.queueKey(), raw).Err(); err != nil {
			return err
		}
	}

	return nil
}

// drainBatch pops up to BatchSize ready events and routes each to its lane.
func (b *RedisBus) drainBatch(ctx context.Context, lanes []chan Event) (int, error) {
	client, err := b.conn.GetClient(ctx)
	if err != nil {
		return 0, err
	}

	drained := 0

	for drained < b.cfg.BatchSize {
		raw, err := client.LPop(ctx, b.queueKey()).Result()
		if err == redis.Nil {
			break
		}

		if err != nil {
			return drained, err
		}

		event, err := decodeEvent(raw)
		if err != nil {
			b.logger.Errorf("event bus: dropping undecodable event: %v", err)

			continue
		}

		lane := lanes[laneFor(event.CorrelationID, len(lanes))]

		select {
		case lane <- event:
		case <-ctx.Done():
			return drained, ctx.Err()
		case <-b.stop:
			return drained, nil
		}

		drained++
	}

	return drained, nil
}

func laneFor(correlationID string, lanes int) int {
	if lanes <= 1 {
		return 0
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(correlationID))

	return int(h.Sum32() % uint32(lanes))
}

// dispatch delivers the event to every matching subscription in order. A
// handler failure reschedules the event with exponential backoff until its
// retry budget runs out, then parks it on the dead-letter queue.
func (b *RedisBus) dispatch(ctx context.Context, event Event) {
	subs := b.matchingSubscriptions(event.Name)

	var failed error

	maxRetries := b.cfg.MaxRetries

	for _, sub := range subs {
		if err := sub.slots.Acquire(ctx, 1); err != nil {
			return
		}

		err := sub.handler(ctx, event)
		sub.slots.Release(1)

		if err != nil {
			failed = err
			maxRetries = sub.maxRetries
		}
	}

	if failed == nil {
		return
	}

	b.logger.Warnf("event bus: handler failed for %s (attempt %d): %v", event.Name, event.Attempt, failed)

	if event.Attempt > maxRetries {
		b.deadLetter(ctx, event)

		return
	}

	delay := b.cfg.Retry.BackoffFor(event.Attempt - 1)
	event.Attempt++
	event.ScheduledFor = time.Now().UTC().Add(delay)

	raw, err := event.encode()
	if err != nil {
		b.logger.Errorf("event bus: re-encoding event for retry: %v", err)

		return
	}

	client, err := b.conn.GetClient(ctx)
	if err != nil {
		b.logger.Errorf("event bus: rescheduling event: %v", err)

		return
	}

	if err := client.ZAdd(ctx, b.scheduledKey(), scheduledMember(raw, event.ScheduledFor)).Err(); err != nil {
		b.logger.Errorf("event bus: rescheduling event: %v", err)
	}
}

func (b *RedisBus) deadLetter(ctx context.Context, event Event) {
	raw, err := event.encode()
	if err != nil {
		b.logger.Errorf("event bus: encoding dead letter: %v", err)

		return
	}

	client, err := b.conn.GetClient(ctx)
	if err != nil {
		b.logger.Errorf("event bus: dead-lettering event: %v", err)

		return
	}

	if err := client.RPush(ctx, b.deadLetterKey(), raw).Err(); err != nil {
		b.logger.Errorf("event bus: dead-lettering event: %v", err)
	}
}
