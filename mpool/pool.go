// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

// Package mpool serves healthy backing-store sessions under bounded
// concurrency and partial failure. Acquisition is FIFO with timeout; a
// circuit breaker isolates a failing store and a jittered retry policy
// absorbs transient faults.
package mpool

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LerianStudio/lib-norm/mcircuitbreaker"
	"github.com/LerianStudio/lib-norm/mlog"
	"github.com/LerianStudio/lib-norm/mretry"
)

var (
	// ErrPoolClosed is returned by every operation after Close.
	ErrPoolClosed = errors.New("session pool is closed")
	// ErrPoolTimeout is returned when no session frees up within the acquire
	// deadline.
	ErrPoolTimeout = errors.New("timed out waiting for a pooled session")
	// ErrCircuitOpen is re-exported so callers can match breaker rejections
	// at the pool boundary.
	ErrCircuitOpen = mcircuitbreaker.ErrCircuitOpen
)

// Config enumerates the pool, breaker and retry knobs.
type Config struct {
	MinSize            int
	MaxSize            int
	AcquireTimeout     time.Duration
	IdleTTL            time.Duration
	ValidationInterval time.Duration

	CircuitFailureThreshold uint32
	CircuitOpenDuration     time.Duration
	HalfOpenProbes          uint32

	Retry mretry.Config
}

// withDefaults fills the zero values a caller left unset.
func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 10
	}

	if c.MinSize < 0 {
		c.MinSize = 0
	}

	if c.MinSize > c.MaxSize {
		c.MinSize = c.MaxSize
	}

	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}

	if c.CircuitFailureThreshold == 0 {
		c.CircuitFailureThreshold = 5
	}

	if c.CircuitOpenDuration <= 0 {
		c.CircuitOpenDuration = 30 * time.Second
	}

	if c.Retry.MaxRetries == 0 && c.Retry.InitialBackoff == 0 {
		c.Retry = mretry.DefaultStoreConfig()
	}

	return c
}

// Health is a point-in-time snapshot of the pool.
type Health struct {
	InUse        int
	Idle         int
	Broken       int
	CircuitState mcircuitbreaker.State
	LastErrorAt  time.Time
}

// Pool is a bounded session pool with FIFO acquisition.
type Pool struct {
	cfg       Config
	factory   Factory
	breaker   *mcircuitbreaker.CircuitBreaker
	retryable mretry.Retryable
	logger    mlog.Logger

	mu          sync.Mutex
	idle        []*pooled
	inUse       int
	brokenTotal int
	lastErrorAt time.Time
	waiters     *list.List
	closed      bool
	done        chan struct{}
}

type waiter struct {
	ch chan *pooled
}

// New builds a pool around factory. retryable classifies which operation
// errors are transient; it also keeps non-transient errors away from the
// breaker's failure counter.
func New(cfg Config, factory Factory, retryable mretry.Retryable, logger mlog.Logger) *Pool {
	if logger == nil {
		logger = &mlog.NoneLogger{}
	}

	cfg = cfg.withDefaults()

	p := &Pool{
		cfg:       cfg,
		factory:   factory,
		retryable: retryable,
		logger:    logger,
		waiters:   list.New(),
		done:      make(chan struct{}),
	}

	p.breaker = mcircuitbreaker.New(mcircuitbreaker.Settings{
		Name:             "store",
		FailureThreshold: cfg.CircuitFailureThreshold,
		OpenDuration:     cfg.CircuitOpenDuration,
		HalfOpenProbes:   cfg.HalfOpenProbes,
		IsFailure:        p.countsAgainstBreaker,
	})

	if cfg.ValidationInterval > 0 || cfg.IdleTTL > 0 {
		go p.maintain()
	}

	return p
}

// Warm pre-dials MinSize idle sessions. Dial failures are logged, not fatal:
// the pool fills lazily afterwards.
func (p *Pool) Warm(ctx context.Context) {
	for i := 0; i < p.cfg.MinSize; i++ {
		s, err := p.factory.Dial(ctx)
		if err != nil {
			p.logger.Warnf("pool warm-up dial failed: %v", err)

			return
		}

		now := time.Now()

		p.mu.Lock()
		p.idle = append(p.idle, &pooled{session: s, createdAt: now, lastUsedAt: now})
		p.mu.Unlock()
	}
}

func (p *Pool) countsAgainstBreaker(err error) bool {
	if err == nil {
		return false
	}

	// Pool exhaustion is a local condition, not store weather.
	if errors.Is(err, ErrPoolTimeout) || errors.Is(err, ErrPoolClosed) {
		return false
	}

	if p.retryable != nil {
		return p.retryable(err)
	}

	return true
}

// Acquire returns a session, dialing a new one while under MaxSize or
// waiting FIFO otherwise. It fails fast with ErrCircuitOpen while the breaker
// is open, ErrPoolTimeout past the acquire deadline and ErrPoolClosed after
// Close.
func (p *Pool) Acquire(ctx context.Context) (Session, error) {
	if p.breaker.State() == mcircuitbreaker.StateOpen {
		return nil, ErrCircuitOpen
	}

	deadline := time.NewTimer(p.cfg.AcquireTimeout)
	defer deadline.Stop()

	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if n := len(p.idle); n > 0 {
		entry := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse++
		p.mu.Unlock()

		return entry.session, nil
	}

	if p.inUse < p.cfg.MaxSize {
		p.inUse++
		p.mu.Unlock()

		s, err := p.dial(ctx)
		if err != nil {
			p.mu.Lock()
			p.inUse--
			p.lastErrorAt = time.Now()
			p.mu.Unlock()

			return nil, err
		}

		return s, nil
	}

	w := &waiter{ch: make(chan *pooled, 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	select {
	case entry := <-w.ch:
		if entry == nil {
			return nil, ErrPoolClosed
		}

		if entry.session == nil {
			// Capacity was handed over rather than a live session.
			s, err := p.dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.inUse--
				p.lastErrorAt = time.Now()
				p.mu.Unlock()

				return nil, err
			}

			return s, nil
		}

		return entry.session, nil
	case <-ctx.Done():
		p.cancelWaiter(elem, w)
		return nil, ctx.Err()
	case <-deadline.C:
		p.cancelWaiter(elem, w)
		return nil, ErrPoolTimeout
	}
}

func (p *Pool) cancelWaiter(elem *list.Element, w *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for e := p.waiters.Front(); e != nil; e = e.Next() {
		if e == elem {
			p.waiters.Remove(e)
			return
		}
	}

	// Already served between timeout and lock: put the handed session back.
	select {
	case entry := <-w.ch:
		if entry != nil && entry.session != nil {
			entry.lastUsedAt = time.Now()
			p.idle = append(p.idle, entry)
			p.inUse--
		} else if entry != nil {
			p.inUse--
		}
	default:
	}
}

func (p *Pool) dial(ctx context.Context) (Session, error) {
	return p.factory.Dial(ctx)
}

// Release returns s to the idle set, or discards it when broken.
func (p *Pool) Release(s Session, broken bool) {
	if s == nil {
		return
	}

	p.mu.Lock()

	if p.closed {
		p.inUse--
		p.mu.Unlock()

		_ = s.Close(context.Background())

		return
	}

	if broken {
		p.inUse--
		p.brokenTotal++
		p.lastErrorAt = time.Now()

		// Capacity freed: wake the oldest waiter so it can dial.
		if e := p.waiters.Front(); e != nil {
			p.waiters.Remove(e)
			p.inUse++
			e.Value.(*waiter).ch <- &pooled{}
		}

		p.mu.Unlock()

		_ = s.Close(context.Background())

		return
	}

	entry := &pooled{session: s, createdAt: time.Now(), lastUsedAt: time.Now()}

	if e := p.waiters.Front(); e != nil {
		p.waiters.Remove(e)
		p.mu.Unlock()

		e.Value.(*waiter).ch <- entry

		return
	}

	p.inUse--
	p.idle = append(p.idle, entry)
	p.mu.Unlock()
}

// Execute acquires a session, runs op through the circuit breaker and the
// retry policy, and releases the session on every exit path. Transient
// failures mark the session broken so it is not reused. Acquire and op form
// one breaker execution so the failure counter tracks whole store calls.
func (p *Pool) Execute(ctx context.Context, op func(ctx context.Context, s Session) error) error {
	return mretry.Do(ctx, p.cfg.Retry, p.retryable, func(ctx context.Context) error {
		return p.breaker.Execute(func() error {
			s, err := p.Acquire(ctx)
			if err != nil {
				return err
			}

			opErr := op(ctx, s)

			p.Release(s, opErr != nil && p.retryable != nil && p.retryable(opErr))

			return opErr
		})
	})
}

// Health returns a snapshot of the pool and breaker state.
func (p *Pool) Health() Health {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Health{
		InUse:        p.inUse,
		Idle:         len(p.idle),
		Broken:       p.brokenTotal,
		CircuitState: p.breaker.State(),
		LastErrorAt:  p.lastErrorAt,
	}
}

// Close drains and terminates all idle sessions and fails pending waiters
// with ErrPoolClosed. It is idempotent; in-use sessions are closed as they
// are released.
func (p *Pool) Close() {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return
	}

	p.closed = true
	close(p.done)

	idle := p.idle
	p.idle = nil

	for e := p.waiters.Front(); e != nil; e = e.Next() {
		e.Value.(*waiter).ch <- nil
	}

	p.waiters.Init()
	p.mu.Unlock()

	for _, entry := range idle {
		_ = entry.session.Close(context.Background())
	}
}

// maintain evicts idle sessions past IdleTTL and probes the remaining ones on
// the validation interval.
func (p *Pool) maintain() {
	interval := p.cfg.ValidationInterval
	if interval <= 0 {
		interval = p.cfg.IdleTTL
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}

		p.sweep()
	}
}

func (p *Pool) sweep() {
	now := time.Now()

	p.mu.Lock()

	var keep, drop []*pooled

	for _, entry := range p.idle {
		if p.cfg.IdleTTL > 0 && now.Sub(entry.lastUsedAt) > p.cfg.IdleTTL && len(keep) >= p.cfg.MinSize {
			drop = append(drop, entry)

			continue
		}

		keep = append(keep, entry)
	}

	p.idle = keep
	p.mu.Unlock()

	for _, entry := range drop {
		_ = entry.session.Close(context.Background())
	}

	if p.cfg.ValidationInterval <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p.mu.Lock()
	idle := append([]*pooled{}, p.idle...)
	p.mu.Unlock()

	for _, entry := range idle {
		if err := entry.session.Ping(ctx); err != nil {
			p.logger.Warnf("evicting unhealthy idle session: %v", err)

			p.mu.Lock()
			for i, candidate := range p.idle {
				if candidate == entry {
					p.idle = append(p.idle[:i], p.idle[i+1:]...)
					p.brokenTotal++

					break
				}
			}
			p.mu.Unlock()

			_ = entry.session.Close(ctx)
		}
	}
}
