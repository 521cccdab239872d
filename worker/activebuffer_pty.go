package worker

import (
	"fmt"
	"os"
)

// diagnosticTTYEnv is the side-channel environment variable a worker's
// parent sets (see pool.Options.DiagnosticTTY) to hand the worker the slave
// path of a PTY opened via github.com/creack/pty, purely for observers that
// want to `tail` the current script prefix on platforms where argv
// mutation (setActiveBuffer) isn't visible to the tools they're using. This
// is additive to, never a replacement for, the argv mechanism (spec.md §9).
const diagnosticTTYEnv = "SCRIPTPROXY_DIAG_TTY"

// openDiagnosticTTY opens the slave side of a parent-created PTY for
// mirroring the active buffer, if path is non-empty.
func openDiagnosticTTY(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("worker: open diagnostic tty %s: %w", path, err)
	}
	return f, nil
}

func mirrorToDiagnosticTTY(f *os.File, content string) {
	if f == nil {
		return
	}
	// Best-effort: a full, newline-terminated line per update so `tail -f`
	// shows a scrolling history of scripts rather than an overwritten line.
	_, _ = f.WriteString(content + "\n")
}
