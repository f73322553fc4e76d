package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cronradar/internal/adapter/cronradar"
	"cronradar/internal/adapter/httpapi"
	"cronradar/internal/adapter/scheduler"
	"cronradar/internal/adapter/schedulefile"
	"cronradar/internal/config"
	"cronradar/internal/monitor"
	"cronradar/internal/platform/httpclient"
	"cronradar/internal/platform/logger"
	"cronradar/internal/shared"
)

const (
	metricsNamespace = "cronradar"
	shutdownTimeout  = 30 * time.Second
)

// Options overrides collaborators, mostly for tests.
type Options struct {
	// Remote replaces the HTTP CronRadar client.
	Remote monitor.RemoteClient
	// Stdout and Stderr of command tasks.
	Stdout io.Writer
	Stderr io.Writer
}

// App wires application components.
type App struct {
	cfg config.Config
	log *slog.Logger

	promReg     *prometheus.Registry
	metrics     *monitor.Metrics
	remote      monitor.RemoteClient
	dispatcher  *monitor.Dispatcher
	registry    *monitor.Registry
	coordinator *monitor.Coordinator
	sched       *scheduler.Scheduler
}

// New creates a new App instance from configuration.
func New(cfg config.Config, log *slog.Logger, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitor.NewMetrics(metricsNamespace, promReg)

	remote := opts.Remote
	if remote == nil {
		var err error
		if remote, err = newRemote(cfg, log); err != nil {
			return nil, err
		}
	}

	dispatcher := monitor.NewDispatcher(remote, monitor.DispatcherConfig{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
		RateLimit: cfg.Dispatch.RateLimit,
		Burst:     cfg.Dispatch.RateBurst,
		Timeout:   cfg.CronRadar.Timeout,
		Logger:    log,
		Metrics:   metrics,
	})

	resolver := monitor.NewKeyResolver(log, cfg.CronRadar.Entrypoints...)
	registry := monitor.NewRegistry()
	// метрики уведомлений считает диспетчер
	reporter := monitor.NewReporter(dispatcher, monitor.ReporterConfig{Logger: log, Timeout: cfg.CronRadar.Timeout})

	coordinator, err := monitor.NewCoordinator(monitor.CoordinatorConfig{
		Policy:   monitor.Policy{MonitorAll: cfg.CronRadar.MonitorAll, GracePeriod: cfg.GracePeriod()},
		Registry: registry,
		Resolver: resolver,
		Reporter: reporter,
		Client:   remote,
		Source:   cfg.CronRadar.Source,
		Timeout:  cfg.CronRadar.Timeout,
		Logger:   log,
		Metrics:  metrics,
	})
	if err != nil {
		_ = dispatcher.Close(context.Background())
		return nil, err
	}

	a := &App{
		cfg:         cfg,
		log:         log,
		promReg:     promReg,
		metrics:     metrics,
		remote:      remote,
		dispatcher:  dispatcher,
		registry:    registry,
		coordinator: coordinator,
		sched:       scheduler.New(scheduler.Config{Logger: log, Stdout: opts.Stdout, Stderr: opts.Stderr}),
	}
	return a, nil
}

func newRemote(cfg config.Config, log *slog.Logger) (monitor.RemoteClient, error) {
	if cfg.CronRadar.APIKey == "" {
		log.Warn("CRONRADAR_API_KEY is not set, monitoring notifications are disabled")
		return monitor.NopClient{}, nil
	}
	hc := httpclient.New(
		httpclient.WithLogger(log.With("component", "httpclient")),
		httpclient.WithTimeout(cfg.CronRadar.Timeout),
		httpclient.WithRetries(cfg.CronRadar.Retries, 200*time.Millisecond),
	)
	return cronradar.New(hc, cronradar.Config{
		APIKey:  cfg.CronRadar.APIKey,
		BaseURL: cfg.CronRadar.BaseURL,
		Method:  cfg.CronRadar.Method,
	})
}

// LoadSchedule declares the tasks of the schedule file. A missing file is
// reported and leaves the schedule empty.
func (a *App) LoadSchedule() error {
	path := a.cfg.Schedule.File
	if path == "" {
		return nil
	}
	f, err := schedulefile.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		a.log.Warn("schedule file not found", "path", path)
		return nil
	}
	if err != nil {
		return err
	}
	tasks, err := f.Apply(a.sched, a.registry)
	if err != nil {
		return err
	}
	a.log.Info("schedule loaded", "path", path, "tasks", len(tasks))
	return nil
}

// Gatherer exposes the metrics registry.
func (a *App) Gatherer() prometheus.Gatherer { return a.promReg }

// Evaluations implements httpapi.Source.
func (a *App) Evaluations() []monitor.Evaluation {
	return a.coordinator.Evaluate(a.sched.Tasks())
}

// Applied implements httpapi.Source.
func (a *App) Applied() bool { return a.coordinator.Applied() }

// ensureApplied attaches monitoring to the declared tasks on the first
// administrative action.
func (a *App) ensureApplied(ctx context.Context) monitor.Summary {
	sum := a.coordinator.ApplyOnce(ctx, a.sched.Tasks())
	if !sum.AlreadyApplied && sum.Failed > 0 {
		a.log.Warn("some monitors were not registered", "failed", sum.Failed, "error", sum.Err())
	}
	return sum
}

// List prints every task with its monitoring decision.
func (a *App) List(ctx context.Context, w io.Writer) error {
	a.ensureApplied(ctx)

	evals := a.Evaluations()
	if len(evals) == 0 {
		_, err := fmt.Fprintln(w, "No scheduled tasks found.")
		return err
	}

	fmt.Fprintf(w, "Found %d scheduled tasks:\n\n", len(evals))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMONITOR KEY\tSTATUS\tSCHEDULE\tNEXT RUN\tTASK")
	for _, ev := range evals {
		key := ev.Decision.Key
		if key == "" {
			key = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", ev.Task.ID, key, status(ev.Decision), ev.Task.Schedule, a.nextRun(ev.Task.ID), ev.Task.Name())
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !a.coordinator.Policy().MonitorAll {
		fmt.Fprintln(w, "\nSet monitor: true on a task or CRONRADAR_MONITOR_ALL=true to monitor tasks.")
	}
	return nil
}

func (a *App) nextRun(taskID string) string {
	t, ok := a.sched.Task(taskID)
	if !ok {
		return "-"
	}
	next := t.Next()
	if next.IsZero() {
		return "-"
	}
	return next.Format(time.DateTime)
}

func status(d monitor.Decision) string {
	switch {
	case d.Skip:
		return "skipped"
	case d.Monitored:
		return "monitored"
	}
	return "not monitored"
}

// Test sends a test ping for key and waits for the result.
func (a *App) Test(ctx context.Context, w io.Writer, key string) error {
	a.ensureApplied(ctx)

	normalized := monitor.NormalizeKey(key)
	if normalized == "" {
		return shared.MarkKind(fmt.Errorf("monitor key %q has no usable characters", key), shared.KindValidation)
	}
	if _, disabled := a.remote.(monitor.NopClient); disabled {
		fmt.Fprintln(w, "✗ Notifications are disabled: CRONRADAR_API_KEY is not set.")
		return shared.MarkKind(errors.New("cronradar api key is not configured"), shared.KindValidation)
	}
	fmt.Fprintf(w, "Sending test ping to monitor: %s\n", normalized)

	ctx, cancel := context.WithTimeout(ctx, a.cfg.CronRadar.Timeout)
	defer cancel()
	if err := a.remote.Ping(ctx, normalized); err != nil {
		fmt.Fprintf(w, "✗ Failed to send ping: %v\n", err)
		return err
	}
	fmt.Fprintln(w, "✓ Ping sent successfully!")
	fmt.Fprintln(w, "Check your CronRadar dashboard to verify the ping was received.")
	return nil
}

// Sync registers every monitored task again, regardless of earlier
// registrations in this process.
func (a *App) Sync(ctx context.Context, w io.Writer) monitor.SyncReport {
	fmt.Fprintln(w, "Syncing scheduled tasks with CronRadar...")
	fmt.Fprintln(w)

	rep := a.coordinator.Sync(ctx, a.sched.Tasks())
	for _, res := range rep.Results {
		if res.Err != nil {
			fmt.Fprintf(w, "  ✗ Failed: %s - %v\n", res.Key, res.Err)
			continue
		}
		fmt.Fprintf(w, "  ✓ Synced: %s (%s)\n", res.Key, res.Schedule)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Synced %d monitors\n", rep.Synced())
	if rep.Skipped > 0 {
		fmt.Fprintf(w, "Skipped %d tasks with skip_monitor\n", rep.Skipped)
	}
	return rep
}

// Exec runs one task now through its monitoring hooks and returns its exit
// code.
func (a *App) Exec(ctx context.Context, taskID string) (int, error) {
	a.ensureApplied(ctx)
	return a.sched.RunNow(ctx, taskID)
}

// Run starts the scheduler and blocks until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting")
	a.ensureApplied(ctx)

	var srv *httpapi.Server
	if a.cfg.HTTP.Addr != "" {
		srv = httpapi.NewServer(a.cfg.HTTP.Addr, httpapi.NewRouter(a, a.Gatherer(), a.log), a.log)
		srv.Start()
	}

	a.sched.Start()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.sched.StopContext(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes pending notifications and releases resources.
func (a *App) Close(ctx context.Context) error {
	a.sched.Stop()
	err := a.dispatcher.Close(ctx)
	if cerr := logger.Close(a.log); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}
