package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cronradar/internal/shared"
)

// Notification operations, also used as log and metric labels.
const (
	OpPing     = "ping"
	OpSync     = "sync"
	OpStart    = "start"
	OpComplete = "complete"
	OpFail     = "fail"
)

// State is the lifecycle state of one task execution.
type State int

const (
	StateIdle State = iota
	StateStarted
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Execution tracks one run of a monitored task: Idle -> Started ->
// Completed or Failed. It never goes back.
type Execution struct {
	Key string

	mu        sync.Mutex
	state     State
	exitCode  int
	startedAt time.Time
}

// State returns the current state.
func (e *Execution) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ExitCode returns the exit code recorded when the execution finished.
func (e *Execution) ExitCode() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitCode
}

// Elapsed returns the time since the execution started.
func (e *Execution) Elapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startedAt.IsZero() {
		return 0
	}
	return time.Since(e.startedAt)
}

func (e *Execution) advance(to State, exitCode int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.state == StateIdle && to == StateStarted:
		e.startedAt = time.Now()
	case e.state == StateStarted && (to == StateCompleted || to == StateFailed):
		e.exitCode = exitCode
	default:
		return false
	}
	e.state = to
	return true
}

type executionKey struct{ key string }

// ExecutionFromContext returns the execution started for key by a Reporter
// hook.
func ExecutionFromContext(ctx context.Context, key string) (*Execution, bool) {
	e, ok := ctx.Value(executionKey{key}).(*Execution)
	return e, ok
}

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	Logger  *slog.Logger
	Metrics *Metrics
	// Timeout bounds each remote call (default 5s).
	Timeout time.Duration
}

// Reporter turns task executions into start/complete/fail notifications.
type Reporter struct {
	client  RemoteClient
	log     *slog.Logger
	metrics *Metrics
	timeout time.Duration
}

// NewReporter creates a reporter sending through client.
func NewReporter(client RemoteClient, cfg ReporterConfig) *Reporter {
	if client == nil {
		client = NopClient{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Reporter{
		client:  client,
		log:     log.With("component", "reporter"),
		metrics: cfg.Metrics,
		timeout: timeout,
	}
}

// Attach registers the reporter hooks on t. key is resolved once by the
// caller so that start and outcome correlate.
func (r *Reporter) Attach(t Task, key string) {
	t.Use(r.Hooks(key))
}

// Hooks returns the pre and post execution hooks for key.
func (r *Reporter) Hooks(key string) Hooks {
	return Hooks{
		Before: func(ctx context.Context) context.Context {
			exec := &Execution{Key: key}
			exec.advance(StateStarted, 0)
			_ = r.notify(ctx, OpStart, key, func(ctx context.Context) error {
				return r.client.StartJob(ctx, key)
			})
			return context.WithValue(ctx, executionKey{key}, exec)
		},
		After: func(ctx context.Context, exitCode int) {
			exec, ok := ExecutionFromContext(ctx, key)
			if !ok {
				exec = &Execution{Key: key}
				exec.advance(StateStarted, 0)
			}
			r.Finish(ctx, exec, exitCode)
		},
	}
}

// Finish classifies the exit code and sends "complete" for 0, "fail" with
// the code otherwise. A finished execution is not reported twice.
func (r *Reporter) Finish(ctx context.Context, exec *Execution, exitCode int) error {
	key := exec.Key
	if exitCode == 0 {
		if !exec.advance(StateCompleted, exitCode) {
			return nil
		}
		r.log.Debug("execution completed", "key", key, "elapsed", exec.Elapsed())
		return r.notify(ctx, OpComplete, key, func(ctx context.Context) error {
			return r.client.CompleteJob(ctx, key)
		})
	}

	if !exec.advance(StateFailed, exitCode) {
		return nil
	}
	r.log.Debug("execution failed", "key", key, "exit_code", exitCode, "elapsed", exec.Elapsed())
	reason := fmt.Sprintf("exit code %d", exitCode)
	return r.notify(ctx, OpFail, key, func(ctx context.Context) error {
		return r.client.FailJob(ctx, key, reason)
	})
}

// notify runs one remote call with a bounded timeout. Errors and panics are
// logged and returned, never propagated into the task.
func (r *Reporter) notify(ctx context.Context, op, key string, call func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = shared.Recovered(rec)
		}
		r.metrics.recordNotification(op, err)
		if err != nil {
			r.log.Warn("notification failed", "op", op, "key", key, "kind", shared.KindOf(err).String(), "error", err)
			return
		}
		r.log.Debug("notification sent", "op", op, "key", key)
	}()

	return call(ctx)
}
