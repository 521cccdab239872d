package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	getCount  int
	getWaitMs int
)

var getCmd = &cobra.Command{
	Use:   "get <pool>",
	Short: "Reserve one or more handles from a pool",
	Long: `Get reserves n handles from the named pool for this process's session,
blocking up to the wait (or the pool's configured t_get_ms) for capacity to
free up. A session may not hold more than one reservation from the same
pool at a time; a second get against a pool it already holds from fails
with DEADLOCK.`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	getCmd.Flags().IntVarP(&getCount, "count", "n", 1, "Number of handles to reserve")
	getCmd.Flags().IntVar(&getWaitMs, "wait-ms", 0, "Reservation wait, in milliseconds (0 uses the pool's t_get_ms)")
}

func runGet(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ids, err := state.reg.Get(state.sess, args[0], getCount, getWaitMs)
	if err != nil {
		return err
	}
	fmt.Println(strings.Join(ids, "\n"))
	return nil
}
