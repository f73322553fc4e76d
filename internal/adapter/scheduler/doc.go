// Package scheduler is the host scheduler: cron-based tasks that run shell
// commands or Go functions and expose per-task execution hooks.
//
// Features:
//   - Cron-style scheduling using github.com/robfig/cron/v3, with an
//     optional seconds field and descriptors (@hourly, @every 5m)
//   - Command tasks run through /bin/sh -c; the process exit code is kept
//   - Function tasks map their error to an exit code
//   - Job overlap control policies (Allow/Skip/Delay)
//   - Per-task timeouts
//   - Pre/post execution hooks (monitor.Hooks) registered per task
//   - Manual execution with RunNow
//   - Graceful shutdown with optional deadline (StopContext)
//
// Basic usage:
//
//	s := scheduler.New(scheduler.Config{Logger: logger})
//
//	backup, err := s.AddCommand("0 3 * * *", "/usr/local/bin/backup.sh --full", scheduler.JobOptions{
//		ID:            "backup",
//		Timeout:       30 * time.Minute,
//		OverlapPolicy: scheduler.SkipIfRunning,
//	})
//
//	_, err = s.AddFunc("@every 5m", func(ctx context.Context) error {
//		return refreshCache(ctx)
//	}, scheduler.JobOptions{Description: "Refresh cache"})
//
//	s.Start()
//	defer s.Stop()
//
// Exit codes:
//   - command tasks: the process exit code; 124 on timeout, 127 when the
//     shell could not be started
//   - function tasks: 0 for a nil error, ExitCode() when the error has one,
//     124 on timeout, 1 otherwise and on panic
//
// Hooks run Before in registration order and After in reverse order. A hook
// that panics is logged and skipped. When the scheduler context is canceled
// while a task runs, After hooks are not called.
package scheduler
