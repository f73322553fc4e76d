package monitor

import (
	"sync"
	"time"
)

// Flags are the per-task monitoring switches set by the operator.
type Flags struct {
	// OptIn is set by Registry.Monitor.
	OptIn bool
	// Skip wins over everything else.
	Skip bool
	// Key overrides the derived monitor key (opt-in only).
	Key string
	// GracePeriod overrides the default grace period when positive.
	GracePeriod time.Duration
}

// Option customizes an opt-in.
type Option func(*Flags)

// WithKey sets an explicit monitor key. It is still normalized.
func WithKey(key string) Option {
	return func(f *Flags) { f.Key = key }
}

// WithGracePeriod overrides the grace period sent when the monitor is synced.
func WithGracePeriod(d time.Duration) Option {
	return func(f *Flags) {
		if d > 0 {
			f.GracePeriod = d
		}
	}
}

// Registry is a side table of monitoring flags keyed by task ID. The host
// scheduler's task objects are never modified.
type Registry struct {
	mu         sync.RWMutex
	flags      map[string]Flags
	monitorAll bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{flags: make(map[string]Flags)}
}

// Monitor opts the task in. Calling it again replaces earlier options but
// keeps a previous SkipMonitor.
func (r *Registry) Monitor(taskID string, opts ...Option) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := Flags{OptIn: true, Skip: r.flags[taskID].Skip}
	for _, o := range opts {
		o(&f)
	}
	r.flags[taskID] = f
}

// SkipMonitor excludes the task regardless of opt-in or monitor-all mode.
func (r *Registry) SkipMonitor(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.flags[taskID]
	f.Skip = true
	r.flags[taskID] = f
}

// MonitorAll turns on monitor-all mode in addition to the configured policy.
func (r *Registry) MonitorAll() {
	r.mu.Lock()
	r.monitorAll = true
	r.mu.Unlock()
}

// MonitorAllEnabled reports whether MonitorAll was called.
func (r *Registry) MonitorAllEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.monitorAll
}

// Flags returns the flags of a task; zero Flags when nothing was set.
func (r *Registry) Flags(taskID string) Flags {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flags[taskID]
}
