package monitor

import (
	"fmt"
	"time"

	"cronradar/internal/shared"
)

// Policy is the process-wide monitoring configuration.
type Policy struct {
	// MonitorAll monitors every task that is not skipped. When false only
	// opted-in tasks are monitored.
	MonitorAll bool
	// GracePeriod is sent on sync when the task has no override.
	GracePeriod time.Duration
}

// Validate reports malformed policy values.
func (p Policy) Validate() error {
	if p.GracePeriod < 0 {
		return shared.MarkKind(fmt.Errorf("grace period %s is negative", p.GracePeriod), shared.KindValidation)
	}
	return nil
}

// Reason explains a Decision.
type Reason string

const (
	ReasonSkipped    Reason = "skipped"
	ReasonOptedIn    Reason = "opted in"
	ReasonMonitorAll Reason = "monitor all"
	ReasonNotOptedIn Reason = "not opted in"
)

// Decision is the outcome of evaluating one task.
type Decision struct {
	TaskID    string
	Key       string
	Monitored bool
	// CustomKey is the operator supplied key, before normalization.
	CustomKey   string
	Skip        bool
	GracePeriod time.Duration
	Reason      Reason
}

// PolicyEngine applies a Policy and per-task Flags to a task.
type PolicyEngine struct {
	resolver *KeyResolver
}

// NewPolicyEngine creates an engine resolving keys with r.
func NewPolicyEngine(r *KeyResolver) *PolicyEngine {
	return &PolicyEngine{resolver: r}
}

// Decide evaluates, in order: skip flag, explicit opt-in, monitor-all
// default. Skipped and unmonitored tasks get no key.
func (e *PolicyEngine) Decide(d TaskDescriptor, p Policy, f Flags) Decision {
	dec := Decision{TaskID: d.ID}

	switch {
	case f.Skip:
		dec.Skip = true
		dec.Reason = ReasonSkipped
		return dec
	case f.OptIn:
		dec.Monitored = true
		dec.CustomKey = f.Key
		dec.Key = e.resolver.Resolve(d, f.Key)
		dec.Reason = ReasonOptedIn
	case p.MonitorAll:
		dec.Monitored = true
		dec.Key = e.resolver.Resolve(d, "")
		dec.Reason = ReasonMonitorAll
	default:
		dec.Reason = ReasonNotOptedIn
		return dec
	}

	dec.GracePeriod = p.GracePeriod
	if f.GracePeriod > 0 {
		dec.GracePeriod = f.GracePeriod
	}
	return dec
}
