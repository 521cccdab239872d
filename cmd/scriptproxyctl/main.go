package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/srg/scriptproxy/pkg/config"
	"github.com/srg/scriptproxy/pool"
	"github.com/srg/scriptproxy/registry"
	"github.com/srg/scriptproxy/session"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// state is the process-wide registry and caller session every subcommand
// dispatches against. The proxy subsystem keeps no state across process
// restarts (spec.md §6 "Persisted state: None"), so a single scriptproxyctl
// invocation is, itself, one caller: only the "run" subcommand's script
// interpreter can meaningfully chain get/evaluate/release across steps,
// since cobra only executes one command per process.
var state struct {
	reg  *registry.Registry
	sess *session.Session
}

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "scriptproxyctl",
	Short: "Drive the script proxy subsystem from the command line",
	Long: `scriptproxyctl exercises the pooled script-evaluator proxy:

- configure named pools of worker processes
- reserve, evaluate against, and release handles
- inspect in-flight scripts and held handles

It is a thin command-language binding over the core proxy/pool/registry
packages, modeled the way an embedding runtime would expose the same
operations as interpreter commands.`,
	Version:           formatVersion(version),
	PersistentPreRunE: setup,
}

func formatVersion(v string) string {
	if len(v) > 0 && v[0] >= '0' && v[0] <= '9' {
		return "v" + v
	}
	return v
}

func setup(cmd *cobra.Command, _ []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	state.reg = registry.New(logger)
	state.sess = session.New()

	for _, seed := range cfg.Pools {
		seeded := seed.Options()
		state.reg.Configure(seed.Name, func(dst *pool.Options) { *dst = seeded })
	}
	return nil
}

func init() {
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(activeCmd)
	rootCmd.AddCommand(handlesCmd)
	rootCmd.AddCommand(runCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Shorthand for --log-level debug")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "scriptproxy.yaml", "Pool seed configuration file")
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
