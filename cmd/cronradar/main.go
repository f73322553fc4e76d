package main

import (
	"errors"
	"fmt"
	"os"
)

var Version = "0.1.0-dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		code := exitCode(err)
		if _, ok := err.(exitStatus); !ok {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(code)
	}
}

// exitStatus carries a task's exit code out of the exec command.
type exitStatus struct {
	code int
}

func (e exitStatus) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func exitCode(err error) int {
	var es exitStatus
	if errors.As(err, &es) {
		return es.code
	}
	return 1
}
