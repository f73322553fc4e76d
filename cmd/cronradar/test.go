package main

import (
	"github.com/spf13/cobra"
)

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test <monitor-key>",
	Short: "Send a test ping to CronRadar",
	Long: `Send a single ping for the given monitor key and report whether
CronRadar accepted it.

Example usage:
  cronradar test reports-generate`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		return a.Test(cmd.Context(), cmd.OutOrStdout(), args[0])
	},
}
