package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cronradar/internal/shared"
)

// CoordinatorConfig is read once by NewCoordinator.
type CoordinatorConfig struct {
	Policy   Policy
	Registry *Registry
	Resolver *KeyResolver
	Reporter *Reporter
	// Client receives monitor registrations.
	Client RemoteClient
	// Source is sent with every registration.
	Source string
	// Timeout bounds each registration call (default 5s).
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *Metrics
}

// Evaluation pairs a task with its decision.
type Evaluation struct {
	Task     TaskDescriptor
	Decision Decision
}

// Summary reports what ApplyOnce did.
type Summary struct {
	// AlreadyApplied is true when the guard was set and nothing happened.
	AlreadyApplied bool
	Evaluated      int
	Monitored      int
	Skipped        int
	Registered     int
	Failed         int
	// Errors holds one entry per failed task.
	Errors []error
}

// Err joins the per-task errors.
func (s Summary) Err() error {
	return errors.Join(s.Errors...)
}

// SyncResult is the outcome of registering one monitored task.
type SyncResult struct {
	TaskID   string
	Key      string
	Schedule string
	Err      error
}

// SyncReport is returned by Sync.
type SyncReport struct {
	Results []SyncResult
	Skipped int
}

// Synced counts successful registrations.
func (r SyncReport) Synced() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Coordinator applies the monitoring policy to the host's task list exactly
// once per process.
type Coordinator struct {
	policy   Policy
	registry *Registry
	engine   *PolicyEngine
	reporter *Reporter
	client   RemoteClient
	source   string
	timeout  time.Duration
	log      *slog.Logger
	metrics  *Metrics

	mu      sync.Mutex
	applied atomic.Bool
}

// NewCoordinator validates cfg and creates a coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Reporter == nil {
		return nil, shared.MarkKind(errors.New("coordinator: reporter is required"), shared.KindValidation)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = NewKeyResolver(log)
	}
	client := cfg.Client
	if client == nil {
		client = NopClient{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Coordinator{
		policy:   cfg.Policy,
		registry: registry,
		engine:   NewPolicyEngine(resolver),
		reporter: cfg.Reporter,
		client:   client,
		source:   cfg.Source,
		timeout:  timeout,
		log:      log.With("component", "coordinator"),
		metrics:  cfg.Metrics,
	}, nil
}

// Applied reports whether ApplyOnce completed.
func (c *Coordinator) Applied() bool { return c.applied.Load() }

// Policy returns the effective policy: the configured one plus
// Registry.MonitorAll.
func (c *Coordinator) Policy() Policy {
	p := c.policy
	if c.registry.MonitorAllEnabled() {
		p.MonitorAll = true
	}
	return p
}

// Evaluate decides every task without side effects.
func (c *Coordinator) Evaluate(tasks []Task) []Evaluation {
	policy := c.Policy()
	out := make([]Evaluation, 0, len(tasks))
	for _, t := range tasks {
		if t == nil {
			continue
		}
		d := t.Descriptor()
		out = append(out, Evaluation{Task: d, Decision: c.engine.Decide(d, policy, c.registry.Flags(d.ID))})
	}
	return out
}

// ApplyOnce evaluates tasks, attaches lifecycle hooks to monitored ones and
// registers them remotely. Later calls return immediately with
// AlreadyApplied set, so hooks are never attached twice. Concurrent callers
// wait for the first pass to finish.
func (c *Coordinator) ApplyOnce(ctx context.Context, tasks []Task) Summary {
	if c.applied.Load() {
		return Summary{AlreadyApplied: true}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.applied.Load() {
		return Summary{AlreadyApplied: true}
	}
	defer c.applied.Store(true)

	policy := c.Policy()
	var sum Summary
	seen := make(map[string]string)

	for i, t := range tasks {
		if t == nil {
			err := fmt.Errorf("task #%d is nil", i)
			c.log.Error("invalid task in schedule", "error", err)
			sum.Failed++
			sum.Errors = append(sum.Errors, err)
			continue
		}
		sum.Evaluated++

		dec, err := c.applyTask(ctx, t, policy, seen)
		switch {
		case dec.Skip:
			sum.Skipped++
		case dec.Monitored:
			sum.Monitored++
		}
		if err != nil {
			sum.Failed++
			sum.Errors = append(sum.Errors, err)
			continue
		}
		if dec.Monitored {
			sum.Registered++
		}
	}

	c.metrics.setMonitored(sum.Monitored)
	c.log.Info("monitoring applied",
		"tasks", sum.Evaluated, "monitored", sum.Monitored, "skipped", sum.Skipped,
		"registered", sum.Registered, "failed", sum.Failed, "monitor_all", policy.MonitorAll)
	return sum
}

func (c *Coordinator) applyTask(ctx context.Context, t Task, policy Policy, seen map[string]string) (dec Decision, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = shared.Wrapf(shared.Recovered(rec), "task %s", dec.TaskID)
			c.log.Error("applying monitoring panicked", "task", dec.TaskID, "error", err)
		}
	}()

	d := t.Descriptor()
	dec = c.engine.Decide(d, policy, c.registry.Flags(d.ID))
	if !dec.Monitored {
		return dec, nil
	}

	if other, dup := seen[dec.Key]; dup {
		c.log.Warn("monitor key shared by several tasks", "key", dec.Key, "task", d.ID, "other_task", other)
	} else {
		seen[dec.Key] = d.ID
	}

	c.reporter.Attach(t, dec.Key)
	return dec, c.register(ctx, d, dec)
}

// Sync registers every monitored task, ignoring the once-only guard and
// without attaching hooks.
func (c *Coordinator) Sync(ctx context.Context, tasks []Task) SyncReport {
	var rep SyncReport
	for _, ev := range c.Evaluate(tasks) {
		if ev.Decision.Skip {
			rep.Skipped++
			continue
		}
		if !ev.Decision.Monitored {
			continue
		}
		rep.Results = append(rep.Results, SyncResult{
			TaskID:   ev.Task.ID,
			Key:      ev.Decision.Key,
			Schedule: ev.Task.Schedule,
			Err:      c.register(ctx, ev.Task, ev.Decision),
		})
	}
	return rep
}

func (c *Coordinator) register(ctx context.Context, d TaskDescriptor, dec Decision) (err error) {
	spec := MonitorSpec{
		Key:         dec.Key,
		Schedule:    d.Schedule,
		GracePeriod: dec.GracePeriod,
		Name:        d.Name(),
		Source:      c.source,
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err = safeCall(ctx, func(ctx context.Context) error { return c.client.SyncMonitor(ctx, spec) })
	c.metrics.recordRegistration(err)
	if err != nil {
		err = shared.Wrapf(err, "sync monitor %s", dec.Key)
		c.log.Warn("monitor registration failed", "key", dec.Key, "task", d.ID, "kind", shared.KindOf(err).String(), "error", err)
		return err
	}
	c.log.Debug("monitor registered", "key", dec.Key, "schedule", d.Schedule, "grace_period", dec.GracePeriod)
	return nil
}
