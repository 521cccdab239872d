package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var releaseCmd = &cobra.Command{
	Use:   "release <handle>",
	Short: "Return a handle to its pool",
	Long: `Release runs the pool's reinit script (if configured) against the
handle's worker and returns it to the free list if the pool still has
capacity for it, or closes the worker otherwise. Releasing a handle this
session does not hold is an error.`,
	Args: cobra.ExactArgs(1),
	RunE: runRelease,
}

func runRelease(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	if err := state.reg.Release(state.sess, args[0]); err != nil {
		return err
	}
	fmt.Println("released")
	return nil
}
