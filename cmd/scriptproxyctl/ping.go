package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pingTimeoutMs int

var pingCmd = &cobra.Command{
	Use:   "ping <handle>",
	Short: "Check that a handle's worker is alive",
	Long: `Ping sends the wire protocol's liveness probe (an empty script) to the
worker attached to handle. If the handle has no worker, one is spawned
first and the pool's init script, if any, is run on it. The probe goes
through the same evaluate path as a script: it uses the handle's pipes
and running-list entry exactly as an evaluate does.`,
	Args: cobra.ExactArgs(1),
	RunE: runPing,
}

func init() {
	pingCmd.Flags().IntVar(&pingTimeoutMs, "timeout-ms", 0, "Probe wait, in milliseconds (0 uses the pool's t_eval_ms)")
}

func runPing(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	if err := state.reg.Ping(state.sess, args[0], pingTimeoutMs); err != nil {
		return err
	}
	fmt.Println("alive")
	return nil
}
