package worker

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
)

// Spawned is the parent's runtime view of one worker process (spec.md §3
// "Worker (B, runtime object inside parent)"): its pid, the parent's ends of
// its two pipes, and its idle-expiry timestamp. At most one request may be
// in flight on a Spawned at a time; callers serialize access themselves (the
// owning Proxy holds the only reference while reserved).
type Spawned struct {
	Cmd    *exec.Cmd
	PID    int
	Stdin  *os.File // parent's write end -> child's stdin
	Stdout *os.File // parent's read end <- child's stdout
	Expire time.Time

	diagMaster *os.File
	diagSlave  *os.File
}

// SpawnOptions configures how a worker process is started.
type SpawnOptions struct {
	Exec     string
	PoolSpec string // "<pool>[:user[:group]]"
	HandleID string
	// ActiveBufferWidth, if > 0, passes a placeholder argv argument of this
	// many bytes for the worker to overwrite in place (spec.md §4.B).
	ActiveBufferWidth int
	// EnableDiagnosticTTY opens a PTY pair and hands the worker's side the
	// slave path via the SCRIPTPROXY_DIAG_TTY environment variable.
	EnableDiagnosticTTY bool
	Env                 []string
}

// Spawn starts a new worker process per the command line in spec.md §6:
// "<exec> <pool>[:user:group] <handle-id> [<active-buffer>]".
func Spawn(opts SpawnOptions) (*Spawned, error) {
	if opts.Exec == "" {
		return nil, fmt.Errorf("worker: no exec path configured")
	}

	args := []string{opts.PoolSpec, opts.HandleID}
	if opts.ActiveBufferWidth > 0 {
		args = append(args, placeholderBuffer(opts.ActiveBufferWidth))
	}

	cmd := exec.Command(opts.Exec, args...)
	cmd.Env = append(os.Environ(), opts.Env...)

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("worker: create stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("worker: create stdout pipe: %w", err)
	}

	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = os.Stderr

	var diagMaster, diagSlave *os.File
	if opts.EnableDiagnosticTTY {
		diagMaster, diagSlave, err = pty.Open()
		if err != nil {
			// Diagnostic tty is best-effort; proceed without it.
			diagMaster, diagSlave = nil, nil
		} else {
			cmd.Env = append(cmd.Env, diagnosticTTYEnv+"="+diagSlave.Name())
		}
	}

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		if diagMaster != nil {
			diagMaster.Close()
			diagSlave.Close()
		}
		return nil, fmt.Errorf("worker: start %s: %w", opts.Exec, err)
	}

	// The child has its own copies of stdinR/stdoutW/diagSlave now; the
	// parent only needs its own ends.
	stdinR.Close()
	stdoutW.Close()
	if diagSlave != nil {
		diagSlave.Close()
	}

	return &Spawned{
		Cmd:        cmd,
		PID:        cmd.Process.Pid,
		Stdin:      stdinW,
		Stdout:     stdoutR,
		diagMaster: diagMaster,
	}, nil
}

// placeholderBuffer returns a fixed-width string of the given byte length
// for the worker to overwrite via argv mutation.
func placeholderBuffer(width int) string {
	b := make([]byte, width)
	for i := range b {
		b[i] = '.'
	}
	return string(b)
}

// DiagnosticMaster returns the parent's read end of the diagnostic PTY, or
// nil if none was requested or creation failed.
func (s *Spawned) DiagnosticMaster() *os.File {
	return s.diagMaster
}

// Close releases the parent's pipe and diagnostic descriptors. It does not
// wait for or signal the child process; that is the reaper's job.
func (s *Spawned) Close() error {
	var firstErr error
	if err := s.Stdin.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.Stdout.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.diagMaster != nil {
		_ = s.diagMaster.Close()
	}
	return firstErr
}
