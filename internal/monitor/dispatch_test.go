package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronradar/internal/platform/logger"
)

func newTestDispatcher(t *testing.T, next RemoteClient, cfg DispatcherConfig) *Dispatcher {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	d := NewDispatcher(next, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d
}

func TestDispatcher_PerKeyOrder(t *testing.T) {
	client := &recordingClient{}
	d := newTestDispatcher(t, client, DispatcherConfig{Workers: 3, QueueSize: 64})
	ctx := context.Background()

	const keys = 10
	for i := range keys {
		key := fmt.Sprintf("job-%d", i)
		require.NoError(t, d.StartJob(ctx, key))
		require.NoError(t, d.CompleteJob(ctx, key))
	}

	require.Eventually(t, func() bool {
		return len(client.Calls()) == 2*keys
	}, 2*time.Second, 10*time.Millisecond)

	pos := make(map[string]int)
	for i, c := range client.Calls() {
		pos[c] = i
	}
	for i := range keys {
		key := fmt.Sprintf("job-%d", i)
		assert.Less(t, pos["start:"+key], pos["complete:"+key], "start должен прийти раньше complete для %s", key)
	}
}

func TestDispatcher_QueueFull(t *testing.T) {
	block := make(chan struct{})
	client := &recordingClient{blockCh: block}
	m := NewMetrics("cronradar", prometheus.NewRegistry())
	d := newTestDispatcher(t, client, DispatcherConfig{Workers: 1, QueueSize: 1, Metrics: m})
	ctx := context.Background()

	require.NoError(t, d.Ping(ctx, "a"))
	// ждём, пока воркер заберёт первый вызов и заблокируется
	require.Eventually(t, func() bool { return len(client.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Ping(ctx, "b"))
	assert.ErrorIs(t, d.Ping(ctx, "c"), ErrQueueFull)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped))

	close(block)
	require.Eventually(t, func() bool { return len(client.Calls()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ping:a", "ping:b"}, client.Calls())
}

func TestDispatcher_Close(t *testing.T) {
	client := &recordingClient{}
	d := NewDispatcher(client, DispatcherConfig{Logger: logger.Discard()})
	ctx := context.Background()

	require.NoError(t, d.FailJob(ctx, "job", "exit code 1"))
	require.NoError(t, d.Close(ctx))

	// Close дожидается доставки уже поставленных вызовов
	assert.Equal(t, []string{"fail:job(exit code 1)"}, client.Calls())
	assert.ErrorIs(t, d.CompleteJob(ctx, "job"), ErrDispatcherClosed)
	assert.NoError(t, d.Close(ctx), "повторный Close безопасен")
}

func TestDispatcher_CloseDeadlineCancelsInFlight(t *testing.T) {
	slow := &slowClient{release: make(chan struct{})}
	d := NewDispatcher(slow, DispatcherConfig{Logger: logger.Discard(), Timeout: 10 * time.Second})

	require.NoError(t, d.CompleteJob(context.Background(), "job"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := d.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDispatcher_RateLimit(t *testing.T) {
	client := &recordingClient{}
	d := newTestDispatcher(t, client, DispatcherConfig{Workers: 1, RateLimit: 20, Burst: 1})
	ctx := context.Background()

	start := time.Now()
	for i := range 4 {
		require.NoError(t, d.Ping(ctx, fmt.Sprintf("k%d", i)))
	}
	require.Eventually(t, func() bool { return len(client.Calls()) == 4 }, 2*time.Second, 5*time.Millisecond)

	// 4 вызова при 20 rps и burst 1: не быстрее ~150ms
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
}

func TestDispatcher_PanicDoesNotKillWorker(t *testing.T) {
	client := &recordingClient{panicOn: OpStart}
	m := NewMetrics("cronradar", prometheus.NewRegistry())
	d := newTestDispatcher(t, client, DispatcherConfig{Workers: 1, Metrics: m})
	ctx := context.Background()

	require.NoError(t, d.StartJob(ctx, "job"))
	require.NoError(t, d.CompleteJob(ctx, "job"))

	require.Eventually(t, func() bool { return len(client.Calls()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.notifications.WithLabelValues(OpComplete, "ok")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues(OpStart, "internal")))
}

func TestDispatcher_SyncCountsAsRegistration(t *testing.T) {
	client := &recordingClient{}
	m := NewMetrics("cronradar", prometheus.NewRegistry())
	d := newTestDispatcher(t, client, DispatcherConfig{Metrics: m})

	require.NoError(t, d.SyncMonitor(context.Background(), MonitorSpec{Key: "job", Schedule: "@hourly"}))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.registrations.WithLabelValues("ok")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, testutil.ToFloat64(m.notifications.WithLabelValues(OpSync, "ok")))
}
