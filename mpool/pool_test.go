package mpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LerianStudio/lib-norm/mcircuitbreaker"
	"github.com/LerianStudio/lib-norm/mretry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	pingErr error
	closed  atomic.Bool
}

func (s *fakeSession) Ping(ctx context.Context) error { return s.pingErr }

func (s *fakeSession) Close(ctx context.Context) error {
	s.closed.Store(true)
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	dials   int
	dialErr error
}

func (f *fakeFactory) Dial(ctx context.Context) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dials++

	if f.dialErr != nil {
		return nil, f.dialErr
	}

	return &fakeSession{}, nil
}

func (f *fakeFactory) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.dials
}

var errTransient = errors.New("connection reset")

func transientOnly(err error) bool {
	return errors.Is(err, errTransient)
}

func TestPool_AcquireRelease(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	p := New(Config{MaxSize: 2, AcquireTimeout: time.Second}, factory, transientOnly, nil)
	defer p.Close()

	ctx := context.Background()

	s1, err := p.Acquire(ctx)
	require.NoError(t, err)

	s2, err := p.Acquire(ctx)
	require.NoError(t, err)

	health := p.Health()
	assert.Equal(t, 2, health.InUse)
	assert.Equal(t, 0, health.Idle)

	p.Release(s1, false)
	p.Release(s2, false)

	health = p.Health()
	assert.Equal(t, 0, health.InUse)
	assert.Equal(t, 2, health.Idle)

	// Reuses idle sessions instead of dialing.
	s3, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(s3, false)

	assert.Equal(t, 2, factory.dialCount())
}

func TestPool_NeverExceedsMaxSize(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	p := New(Config{MaxSize: 3, AcquireTimeout: 2 * time.Second}, factory, transientOnly, nil)
	defer p.Close()

	var (
		wg   sync.WaitGroup
		high atomic.Int64
		held atomic.Int64
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			s, err := p.Acquire(context.Background())
			if err != nil {
				return
			}

			n := held.Add(1)
			for {
				old := high.Load()
				if n <= old || high.CompareAndSwap(old, n) {
					break
				}
			}

			time.Sleep(5 * time.Millisecond)
			held.Add(-1)
			p.Release(s, false)
		}()
	}

	wg.Wait()

	assert.LessOrEqual(t, high.Load(), int64(3))

	health := p.Health()
	assert.LessOrEqual(t, health.InUse+health.Idle, 3)
}

func TestPool_AcquireTimeout(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	p := New(Config{MaxSize: 1, AcquireTimeout: 50 * time.Millisecond}, factory, transientOnly, nil)
	defer p.Close()

	ctx := context.Background()

	s, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer p.Release(s, false)

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolTimeout)
}

func TestPool_ClosedPool(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	p := New(Config{MaxSize: 1}, factory, transientOnly, nil)

	p.Close()
	p.Close() // idempotent

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_BrokenSessionsAreDiscarded(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	p := New(Config{MaxSize: 1, AcquireTimeout: time.Second}, factory, transientOnly, nil)
	defer p.Close()

	ctx := context.Background()

	s, err := p.Acquire(ctx)
	require.NoError(t, err)

	p.Release(s, true)

	health := p.Health()
	assert.Equal(t, 1, health.Broken)
	assert.Equal(t, 0, health.Idle)
	assert.True(t, s.(*fakeSession).closed.Load())

	// Capacity is free again.
	s2, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(s2, false)
}

func TestPool_CircuitBreakerOpensAndRecovers(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	p := New(Config{
		MaxSize:                 2,
		AcquireTimeout:          time.Second,
		CircuitFailureThreshold: 3,
		CircuitOpenDuration:     100 * time.Millisecond,
		HalfOpenProbes:          1,
		Retry:                   mretry.Config{MaxRetries: 0, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, JitterFactor: 1},
	}, factory, transientOnly, nil)
	defer p.Close()

	ctx := context.Background()

	var calls atomic.Int64

	failing := func(ctx context.Context, s Session) error {
		calls.Add(1)
		return errTransient
	}

	for i := 0; i < 3; i++ {
		err := p.Execute(ctx, failing)
		require.ErrorIs(t, err, errTransient)
	}

	assert.Equal(t, mcircuitbreaker.StateOpen, p.Health().CircuitState)

	// Fails fast without reaching the operation.
	before := calls.Load()
	start := time.Now()
	err := p.Execute(ctx, failing)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, before, calls.Load())

	// After the open duration a succeeding probe closes the circuit.
	time.Sleep(120 * time.Millisecond)

	err = p.Execute(ctx, func(ctx context.Context, s Session) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, mcircuitbreaker.StateClosed, p.Health().CircuitState)
}

func TestPool_ExecuteRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	p := New(Config{
		MaxSize:        1,
		AcquireTimeout: time.Second,
		Retry:          mretry.Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, JitterFactor: 1},
	}, factory, transientOnly, nil)
	defer p.Close()

	var attempts int

	err := p.Execute(context.Background(), func(ctx context.Context, s Session) error {
		attempts++
		if attempts < 3 {
			return errTransient
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestPool_ExecuteDoesNotRetryFatalErrors(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	p := New(Config{MaxSize: 1, AcquireTimeout: time.Second}, factory, transientOnly, nil)
	defer p.Close()

	fatal := errors.New("validation failed")

	var attempts int

	err := p.Execute(context.Background(), func(ctx context.Context, s Session) error {
		attempts++
		return fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, attempts)
}

func TestPool_AcquireContextCancellation(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	p := New(Config{MaxSize: 1, AcquireTimeout: time.Second}, factory, transientOnly, nil)
	defer p.Close()

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(s, false)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
