// Package monitor decides which scheduled tasks are reported to CronRadar and
// reports their lifecycle.
//
// The package never schedules or executes anything. A host scheduler exposes
// its tasks through the Task interface; the Coordinator evaluates them once per
// process:
//
//	registry := monitor.NewRegistry()
//	registry.Monitor(task.Descriptor().ID, monitor.WithKey("nightly-report"))
//	registry.SkipMonitor(noisy.Descriptor().ID)
//
//	coord, err := monitor.NewCoordinator(monitor.CoordinatorConfig{
//		Policy:   monitor.Policy{MonitorAll: cfg.MonitorAll, GracePeriod: time.Minute},
//		Registry: registry,
//		Resolver: monitor.NewKeyResolver(logger),
//		Reporter: monitor.NewReporter(dispatcher, monitor.ReporterConfig{Logger: logger}),
//		Client:   client,
//	})
//	summary := coord.ApplyOnce(ctx, scheduler.Tasks())
//
// Decision order for every task: skip flag, explicit opt-in, monitor-all
// default, otherwise not monitored. Monitored tasks get a pre-execution hook
// that sends "start" and a post-execution hook that sends "complete" for exit
// code 0 or "fail" for anything else.
//
// Every remote failure is logged and dropped. Nothing here returns an error
// into the task or the scheduler.
package monitor
