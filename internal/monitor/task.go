package monitor

import "context"

// TaskDescriptor is a read-only view of a scheduled task.
type TaskDescriptor struct {
	// ID identifies the task inside the host scheduler for the current process.
	ID string
	// CommandLine is the full invocation string of command tasks.
	CommandLine string
	// Description is an operator supplied label.
	Description string
	// CallbackIdentity is an opaque reference to an anonymous callback
	// (function name and source location). Used only when CommandLine and
	// Description are empty.
	CallbackIdentity string
	// Schedule is the cron expression.
	Schedule string
	// ExitCode is set after the task ran at least once.
	ExitCode *int
}

// Name returns the most human-readable label of the task.
func (d TaskDescriptor) Name() string {
	switch {
	case d.Description != "":
		return d.Description
	case d.CommandLine != "":
		return d.CommandLine
	case d.CallbackIdentity != "":
		return d.CallbackIdentity
	}
	return d.ID
}

// Hooks are execution callbacks attached to a task. The host calls Before
// right before the task runs and After once it finished, passing the context
// returned by Before. Hooks must not change how the task runs.
type Hooks struct {
	Before func(ctx context.Context) context.Context
	After  func(ctx context.Context, exitCode int)
}

// Task is the host scheduler's task as seen by this package.
type Task interface {
	Descriptor() TaskDescriptor
	// Use registers hooks for every future execution of the task.
	Use(h Hooks)
}
