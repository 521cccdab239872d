package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var runStopOnError bool

var runCmd = &cobra.Command{
	Use:   "run <script-file>",
	Short: "Execute a sequence of operations against one shared session",
	Long: `Run interprets a file of scriptproxyctl invocations, one per line, against
a single registry and caller session shared for the whole file.

Pool and handle state lives only in this process's memory (spec.md's
persisted-state model: none) and does not survive a process exiting, so
chaining get/evaluate/release across separate scriptproxyctl invocations
is not possible - run exists to drive exactly that kind of multi-step
session in one process. Each of the other subcommands still exists as a
single-operation binding for one-shot use (configure a pool, or check a
single handle) where that limitation doesn't matter.

Blank lines and lines starting with # are ignored. Each line is the verb
and arguments of one of this binary's other subcommands, e.g.:

  configure calc --max 4
  get calc -n 1
  evaluate proxy0 "sum 1 2"
  release proxy0`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runStopOnError, "stop-on-error", true, "Stop at the first line that returns an error")
}

// operationCommands maps a script verb to the cobra.Command whose own
// flags and RunE implement it. PersistentPreRunE (which would reset the
// shared registry) only fires through rootCmd.Execute, so invoking RunE
// directly here reuses the single-operation logic without re-initializing
// state between lines.
var operationCommands = map[string]*cobra.Command{
	"configure": configureCmd,
	"get":       getCmd,
	"evaluate":  evaluateCmd,
	"ping":      pingCmd,
	"release":   releaseCmd,
	"cleanup":   cleanupCmd,
	"active":    activeCmd,
	"handles":   handlesCmd,
}

func runRun(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("run: open script: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fmt.Printf("--- line %d: %s\n", lineNo, line)
		if err := runScriptLine(line); err != nil {
			fmt.Fprintf(os.Stderr, "line %d: %s\n", lineNo, FormatUserError(err))
			if runStopOnError {
				return fmt.Errorf("run: stopped at line %d", lineNo)
			}
		}
	}
	return scanner.Err()
}

func runScriptLine(line string) error {
	tokens, err := splitScriptLine(line)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}
	verb, rest := tokens[0], tokens[1:]
	sub, ok := operationCommands[verb]
	if !ok {
		return fmt.Errorf("run: unknown operation %q", verb)
	}
	sub.Flags().VisitAll(resetFlagToDefault)
	if err := sub.Flags().Parse(rest); err != nil {
		return err
	}
	positional := sub.Flags().Args()
	if sub.Args != nil {
		if err := sub.Args(sub, positional); err != nil {
			return err
		}
	}
	return sub.RunE(sub, positional)
}

func resetFlagToDefault(f *pflag.Flag) {
	_ = f.Value.Set(f.DefValue)
	f.Changed = false
}

// splitScriptLine tokenizes a line on whitespace, honoring single and
// double quoted segments so a script's evaluate lines can carry script
// text containing spaces.
func splitScriptLine(line string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	var quote rune
	inToken := false

	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			flush()
		default:
			inToken = true
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("run: unterminated quote in: %s", line)
	}
	flush()
	return tokens, nil
}
