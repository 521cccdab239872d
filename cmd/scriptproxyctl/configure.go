package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/scriptproxy/pool"
)

var (
	cfgExec    string
	cfgInit    string
	cfgReinit  string
	cfgMin     int
	cfgMax     int
	cfgTGetMs  int
	cfgTEvalMs int
	cfgTSendMs int
	cfgTRecvMs int
	cfgTWaitMs int
	cfgTIdleMs int
)

var configureCmd = &cobra.Command{
	Use:   "configure <pool>",
	Short: "Create or update a pool's configuration",
	Long: `Configure creates the named pool with defaulted settings on first use,
or applies any flags given here onto an existing pool's current settings.
Unset flags leave the pool's prior value untouched; only --max forces a
pool that previously had no handles to resize immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&cfgExec, "exec", "", "Worker executable path")
	configureCmd.Flags().StringVar(&cfgInit, "init", "", "Script run once after each worker spawns")
	configureCmd.Flags().StringVar(&cfgReinit, "reinit", "", "Script run before returning a handle to the free list")
	configureCmd.Flags().IntVar(&cfgMin, "min", -1, "Minimum pool size (clamped to --max; no workers are pre-spawned)")
	configureCmd.Flags().IntVar(&cfgMax, "max", -1, "Maximum concurrently reserved handles")
	configureCmd.Flags().IntVar(&cfgTGetMs, "t-get-ms", -1, "Default reservation wait, in milliseconds")
	configureCmd.Flags().IntVar(&cfgTEvalMs, "t-eval-ms", -1, "Default evaluate wait, in milliseconds")
	configureCmd.Flags().IntVar(&cfgTSendMs, "t-send-ms", -1, "Request send timeout, in milliseconds")
	configureCmd.Flags().IntVar(&cfgTRecvMs, "t-recv-ms", -1, "Response receive timeout, in milliseconds")
	configureCmd.Flags().IntVar(&cfgTWaitMs, "t-wait-ms", -1, "Graceful-shutdown wait per signal, in milliseconds")
	configureCmd.Flags().IntVar(&cfgTIdleMs, "t-idle-ms", -1, "Idle worker expiry, in milliseconds (0 disables)")
}

func runConfigure(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	name := args[0]

	got := state.reg.Configure(name, func(o *pool.Options) { applyConfigureFlags(cmd, o) })
	fmt.Printf("pool %q configured: min=%d max=%d t_get_ms=%d t_eval_ms=%d t_idle_ms=%d exec=%q\n",
		name, got.Min, got.Max, got.TGetMs, got.TEvalMs, got.TIdleMs, got.Exec)
	return nil
}

func applyConfigureFlags(cmd *cobra.Command, o *pool.Options) {
	f := cmd.Flags()
	if f.Changed("exec") {
		o.Exec = cfgExec
	}
	if f.Changed("init") {
		o.Init = cfgInit
	}
	if f.Changed("reinit") {
		o.Reinit = cfgReinit
	}
	if f.Changed("min") {
		o.Min = cfgMin
	}
	if f.Changed("max") {
		o.Max = cfgMax
	}
	if f.Changed("t-get-ms") {
		o.TGetMs = cfgTGetMs
	}
	if f.Changed("t-eval-ms") {
		o.TEvalMs = cfgTEvalMs
	}
	if f.Changed("t-send-ms") {
		o.TSendMs = cfgTSendMs
	}
	if f.Changed("t-recv-ms") {
		o.TRecvMs = cfgTRecvMs
	}
	if f.Changed("t-wait-ms") {
		o.TWaitMs = cfgTWaitMs
	}
	if f.Changed("t-idle-ms") {
		o.TIdleMs = cfgTIdleMs
	}
}
