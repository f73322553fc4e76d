package monitor

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cronradar/internal/shared"
)

var (
	ErrQueueFull        = errors.New("dispatch queue full")
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Workers is the number of delivery goroutines (default 4).
	Workers int
	// QueueSize is the buffer of each worker (default 64).
	QueueSize int
	// RateLimit caps outbound calls per second; 0 disables limiting.
	RateLimit float64
	// Burst is the limiter burst size (default 1).
	Burst int
	// Timeout bounds each delivery including the limiter wait (default 5s).
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *Metrics
}

type call struct {
	op  string
	key string
	fn  func(ctx context.Context) error
}

// Dispatcher is a fire-and-forget RemoteClient. Calls are queued and
// delivered by background workers; every method returns as soon as the call
// is queued. Calls for the same key go to the same worker and keep their
// order, so a task's "start" is delivered before its "complete".
type Dispatcher struct {
	next    RemoteClient
	log     *slog.Logger
	metrics *Metrics
	limiter *rate.Limiter
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	chans  []chan call
	wg     sync.WaitGroup
}

var _ RemoteClient = (*Dispatcher)(nil)

// NewDispatcher starts the workers delivering to next.
func NewDispatcher(next RemoteClient, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		next:    next,
		log:     log.With("component", "dispatcher"),
		metrics: cfg.Metrics,
		timeout: cfg.Timeout,
		ctx:     ctx,
		cancel:  cancel,
		chans:   make([]chan call, cfg.Workers),
	}
	if cfg.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}

	for i := range d.chans {
		d.chans[i] = make(chan call, cfg.QueueSize)
		d.wg.Add(1)
		go d.worker(d.chans[i])
	}
	return d
}

// Ping queues a ping.
func (d *Dispatcher) Ping(_ context.Context, key string) error {
	return d.enqueue(OpPing, key, func(ctx context.Context) error { return d.next.Ping(ctx, key) })
}

// SyncMonitor queues a monitor registration.
func (d *Dispatcher) SyncMonitor(_ context.Context, spec MonitorSpec) error {
	return d.enqueue(OpSync, spec.Key, func(ctx context.Context) error { return d.next.SyncMonitor(ctx, spec) })
}

// StartJob queues a start notification.
func (d *Dispatcher) StartJob(_ context.Context, key string) error {
	return d.enqueue(OpStart, key, func(ctx context.Context) error { return d.next.StartJob(ctx, key) })
}

// CompleteJob queues a complete notification.
func (d *Dispatcher) CompleteJob(_ context.Context, key string) error {
	return d.enqueue(OpComplete, key, func(ctx context.Context) error { return d.next.CompleteJob(ctx, key) })
}

// FailJob queues a fail notification.
func (d *Dispatcher) FailJob(_ context.Context, key, reason string) error {
	return d.enqueue(OpFail, key, func(ctx context.Context) error { return d.next.FailJob(ctx, key, reason) })
}

func (d *Dispatcher) enqueue(op, key string, fn func(context.Context) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.metrics.recordDropped()
		return ErrDispatcherClosed
	}
	select {
	case d.chans[d.shard(key)] <- call{op: op, key: key, fn: fn}:
		return nil
	default:
		d.metrics.recordDropped()
		d.log.Warn("dispatch queue full, notification dropped", "op", op, "key", key)
		return ErrQueueFull
	}
}

func (d *Dispatcher) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.chans)))
}

func (d *Dispatcher) worker(in <-chan call) {
	defer d.wg.Done()
	for c := range in {
		d.deliver(c)
	}
}

func (d *Dispatcher) deliver(c call) {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	var err error
	if d.limiter != nil {
		err = d.limiter.Wait(ctx)
	}
	if err == nil {
		err = safeCall(ctx, c.fn)
	}

	if c.op == OpSync {
		d.metrics.recordRegistration(err)
	} else {
		d.metrics.recordNotification(c.op, err)
	}
	if err != nil {
		d.log.Warn("notification failed", "op", c.op, "key", c.key, "kind", shared.KindOf(err).String(), "error", err)
		return
	}
	d.log.Debug("notification delivered", "op", c.op, "key", c.key)
}

func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = shared.Recovered(rec)
		}
	}()
	return fn(ctx)
}

// Close stops accepting calls and waits for queued ones to be delivered. If
// ctx expires first, pending deliveries are canceled and ctx.Err() returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, ch := range d.chans {
		close(ch)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.log.Warn("dispatcher close deadline exceeded, canceling pending notifications")
		d.cancel()
		<-done
		return ctx.Err()
	}
}
