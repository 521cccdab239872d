package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var evalTimeoutMs int

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <handle> <script>",
	Short: "Evaluate a script against a reserved handle",
	Long: `Evaluate sends script to the worker attached to the given handle and
waits for its result. A worker-reported script failure is not an RPC
error: it prints the worker's error code and message and exits non-zero,
but the handle remains usable for a subsequent evaluate.`,
	Args: cobra.ExactArgs(2),
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().IntVar(&evalTimeoutMs, "timeout-ms", 0, "Evaluation wait, in milliseconds (0 uses the pool's t_eval_ms)")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	outcome, err := state.reg.Evaluate(state.sess, args[0], args[1], evalTimeoutMs)
	if err != nil {
		return err
	}
	if outcome.OK {
		fmt.Println(outcome.Result)
		return nil
	}
	errColor := color.New(color.FgRed)
	errColor.EnableColor()
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		errColor.DisableColor()
	}
	errColor.Fprintf(os.Stderr, "%s: %s\n", outcome.ErrorCode, outcome.Result)
	if outcome.ErrorInfo != "" {
		fmt.Fprintln(os.Stderr, outcome.ErrorInfo)
	}
	return fmt.Errorf("evaluate: worker reported %s", outcome.ErrorCode)
}
