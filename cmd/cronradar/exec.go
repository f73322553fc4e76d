package main

import (
	"github.com/spf13/cobra"
)

// execCmd represents the exec command
var execCmd = &cobra.Command{
	Use:   "exec <task-id>",
	Short: "Run one task now and exit with its exit code",
	Long: `Run a single task immediately, outside its schedule, with the same
monitoring notifications as a scheduled run. Task IDs are shown by "list".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		code, err := a.Exec(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if code != 0 {
			return exitStatus{code: code}
		}
		return nil
	},
}
