package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncStrict bool

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Register all monitored tasks with CronRadar",
	Long: `Create or update the CronRadar monitor of every monitored task
(key, schedule and grace period). Registration also happens automatically on
the first run of the scheduler; use this command after changing the schedule.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		rep := a.Sync(cmd.Context(), cmd.OutOrStdout())
		if failed := len(rep.Results) - rep.Synced(); syncStrict && failed > 0 {
			return fmt.Errorf("%d monitors failed to sync", failed)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncStrict, "strict", false, "exit with status 1 when a monitor fails to sync")
}
