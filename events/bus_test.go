package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LerianStudio/lib-norm/mlog"
	"github.com/LerianStudio/lib-norm/mredis"
	"github.com/LerianStudio/lib-norm/mretry"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBus(t *testing.T, cfg Config) (*RedisBus, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)

	conn := &mredis.RedisConnection{
		ConnectionStringSource: "redis://" + server.Addr(),
		Logger:                 &mlog.NoneLogger{},
	}

	cfg.QueueName = "test:events"

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}

	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry = mretry.Config{MaxRetries: 1, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond, JitterFactor: 1}
	}

	return NewRedisBus(conn, cfg, &mlog.NoneLogger{}), server
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("condition never satisfied")
}

func TestRedisBus_PublishAndDeliver(t *testing.T) {
	bus, _ := testBus(t, Config{})

	var (
		mu       sync.Mutex
		received []Event
	)

	bus.Subscribe("order.*", func(ctx context.Context, event Event) error {
		mu.Lock()
		defer mu.Unlock()

		received = append(received, event)

		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus.Start(ctx)
	defer bus.Stop()

	err := bus.Publish(ctx, New("order.created", map[string]any{"id": "o1"}), nil)
	require.NoError(t, err)

	// A non-matching name is never delivered to the subscription.
	err = bus.Publish(ctx, New("partner.created", map[string]any{"id": "p1"}), nil)
	require.NoError(t, err)

	eventually(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 1
	})

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, "order.created", received[0].Name)
	assert.Equal(t, "o1", received[0].Data["id"])
	assert.Equal(t, 1, received[0].Attempt)
}

func TestRedisBus_RetryThenDeadLetter(t *testing.T) {
	bus, server := testBus(t, Config{MaxRetries: 3})

	var (
		mu       sync.Mutex
		attempts []int
	)

	bus.Subscribe("billing.charge", func(ctx context.Context, event Event) error {
		mu.Lock()
		defer mu.Unlock()

		attempts = append(attempts, event.Attempt)

		return errors.New("downstream unavailable")
	}, &SubscribeOptions{MaxRetries: 3})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus.Start(ctx)
	defer bus.Stop()

	require.NoError(t, bus.Publish(ctx, New("billing.charge", nil), nil))

	eventually(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(attempts) == 4
	})

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3, 4}, attempts)
	mu.Unlock()

	eventually(t, 2*time.Second, func() bool {
		raw, err := server.List("test:events:failed")
		return err == nil && len(raw) == 1
	})

	raw, err := server.List("test:events:failed")
	require.NoError(t, err)

	var dead Event
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &dead))
	assert.Equal(t, 4, dead.Attempt)
}

func TestRedisBus_DelayedPublishParksOnScheduledSet(t *testing.T) {
	bus, server := testBus(t, Config{})

	var delivered sync.WaitGroup

	delivered.Add(1)

	var once sync.Once

	bus.Subscribe("*", func(ctx context.Context, event Event) error {
		once.Do(delivered.Done)
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus.Start(ctx)
	defer bus.Stop()

	require.NoError(t, bus.Publish(ctx, New("delayed.event", nil), &PublishOptions{Delay: 50 * time.Millisecond}))

	// Parked, not ready.
	members, err := server.ZMembers("test:events:scheduled")
	require.NoError(t, err)
	assert.Len(t, members, 1)

	done := make(chan struct{})

	go func() {
		delivered.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("delayed event never delivered")
	}
}

func TestRedisBus_OrderingPerCorrelationKey(t *testing.T) {
	bus, _ := testBus(t, Config{WorkerConcurrency: 4, BatchSize: 64})

	var (
		mu    sync.Mutex
		order []int
	)

	bus.Subscribe("seq.*", func(ctx context.Context, event Event) error {
		mu.Lock()
		defer mu.Unlock()

		order = append(order, int(event.Data["n"].(float64)))

		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const total = 20

	for i := 0; i < total; i++ {
		event := New("seq.tick", map[string]any{"n": i})

		require.NoError(t, bus.Publish(ctx, event, &PublishOptions{CorrelationID: "same-key"}))
	}

	bus.Start(ctx)
	defer bus.Stop()

	eventually(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(order) == total
	})

	mu.Lock()
	defer mu.Unlock()

	for i := 0; i < total; i++ {
		assert.Equal(t, i, order[i])
	}
}

func TestRedisBus_MultipleSubscriptionsAllReceive(t *testing.T) {
	bus, _ := testBus(t, Config{})

	var (
		mu     sync.Mutex
		first  int
		second int
	)

	bus.Subscribe("audit.*", func(ctx context.Context, event Event) error {
		mu.Lock()
		defer mu.Unlock()
		first++

		return nil
	}, nil)

	bus.Subscribe("*", func(ctx context.Context, event Event) error {
		mu.Lock()
		defer mu.Unlock()
		second++

		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus.Start(ctx)
	defer bus.Stop()

	require.NoError(t, bus.Publish(ctx, New("audit.write", nil), nil))

	eventually(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return first == 1 && second == 1
	})
}
