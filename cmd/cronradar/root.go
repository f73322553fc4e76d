package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"cronradar/internal/app"
	"cronradar/internal/config"
	"cronradar/internal/platform/logger"
)

const closeTimeout = 10 * time.Second

var scheduleFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cronradar",
	Short: "CronRadar - dead man's switch monitoring for scheduled tasks",
	Long: `cronradar runs a cron schedule and reports every execution of the
monitored tasks to CronRadar: a start notification before the task runs and a
complete or fail notification with the exit code after it.

Configuration is read from the environment (and an optional .env file).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&scheduleFile, "schedule", "s", "", "schedule file (default $SCHEDULE_FILE or schedule.yaml)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(execCmd)
}

// setup loads configuration, builds the application and declares the
// scheduled tasks. The returned func flushes notifications.
func setup() (*app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if scheduleFile != "" {
		cfg.Schedule.File = scheduleFile
	}

	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "cronradar",
	})

	a, err := app.New(cfg, log, app.Options{})
	if err != nil {
		_ = logger.Close(log)
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			log.Warn("shutdown incomplete", "error", err)
		}
	}
	if err := a.LoadSchedule(); err != nil {
		cleanup()
		return nil, nil, err
	}
	return a, cleanup, nil
}
