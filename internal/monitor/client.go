package monitor

import (
	"context"
	"time"
)

// MonitorSpec is the watchdog definition registered with the remote service.
type MonitorSpec struct {
	Key         string
	Schedule    string
	GracePeriod time.Duration
	// Name is a human-readable label (description or command line).
	Name string
	// Source identifies the integration that registered the monitor.
	Source string
}

// RemoteClient talks to the CronRadar service. Every call may fail and
// callers treat failures as non-fatal.
type RemoteClient interface {
	Ping(ctx context.Context, key string) error
	SyncMonitor(ctx context.Context, spec MonitorSpec) error
	StartJob(ctx context.Context, key string) error
	CompleteJob(ctx context.Context, key string) error
	FailJob(ctx context.Context, key, reason string) error
}

// NopClient discards every call. Used when no API key is configured.
type NopClient struct{}

func (NopClient) Ping(context.Context, string) error             { return nil }
func (NopClient) SyncMonitor(context.Context, MonitorSpec) error { return nil }
func (NopClient) StartJob(context.Context, string) error         { return nil }
func (NopClient) CompleteJob(context.Context, string) error      { return nil }
func (NopClient) FailJob(context.Context, string, string) error  { return nil }

var _ RemoteClient = NopClient{}
