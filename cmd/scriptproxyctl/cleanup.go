package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Force an immediate idle-handle sweep across every pool",
	Long: `Cleanup runs the same idle-expiry scan the reaper performs on its own
wakeup schedule, without waiting for each pool's next computed deadline.
It never reports an error, mirroring pool destruction's contract.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	state.reg.Cleanup()
	fmt.Println("cleanup complete")
	return nil
}
