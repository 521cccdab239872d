package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/scriptproxy/wire"
)

// RunConfig configures the worker main loop (spec.md §4.B).
type RunConfig struct {
	// PoolSpec is "<pool-name>" or "<pool-name>:user[:group]" as passed on
	// the command line.
	PoolSpec string
	// HandleID is the handle id this worker was spawned for ("proxy<n>").
	HandleID string
	// ActiveBufferArg, if non-empty, is the argv slot to overwrite with the
	// current script prefix on each iteration (spec.md §4.B).
	ActiveBufferArg string
	// Evaluator runs scripts. Required.
	Evaluator Evaluator
	// InitHook, if set, runs once before the main loop starts; a failure is
	// fatal (spec.md §4.B step 2).
	InitHook func() error
	// DiagnosticTTYPath, if set, is the slave path of a parent-opened PTY
	// (see pool.Options.DiagnosticTTY) that mirrors the active buffer for
	// external tail-style observers.
	DiagnosticTTYPath string
	Logger            *logrus.Logger

	// ProtoIn/ProtoOut let callers (tests, or an embedder with its own
	// descriptor wiring) inject the protocol pipes directly instead of
	// having Run dup fd 0/1. When both are nil (the normal case for a
	// worker binary's main), Run performs the fd 0/1 rebind described in
	// spec.md §4.B step 1 itself.
	ProtoIn, ProtoOut *os.File
}

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.Out = logDiscard{}
	return l
}()

type logDiscard struct{}

func (logDiscard) Write(p []byte) (int, error) { return len(p), nil }

// Run executes the worker main loop. It never returns on the happy path
// until the parent closes its end of the request pipe (clean EOF); any
// protocol-fatal condition (version mismatch, broken pipe) causes Run to
// return a non-nil error after logging it, and the caller (worker binary's
// main) is expected to exit non-zero.
func Run(cfg RunConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}

	spec, err := parsePoolSpec(cfg.PoolSpec)
	if err != nil {
		return fmt.Errorf("worker: invalid pool spec %q: %w", cfg.PoolSpec, err)
	}

	protoIn, protoOut := cfg.ProtoIn, cfg.ProtoOut
	if protoIn == nil && protoOut == nil {
		var err error
		protoIn, protoOut, err = rebindStdio()
		if err != nil {
			return fmt.Errorf("worker: failed to set up protocol descriptors: %w", err)
		}
		defer protoIn.Close()
		defer protoOut.Close()
	}

	if spec.user != "" {
		if err := dropPrivileges(spec.user, spec.group); err != nil {
			return fmt.Errorf("worker: failed to switch user/group: %w", err)
		}
	}

	if cfg.InitHook != nil {
		if err := cfg.InitHook(); err != nil {
			logger.WithError(err).Error("worker: init hook failed")
			return fmt.Errorf("worker: init hook failed: %w", err)
		}
	}

	diagTTY, err := openDiagnosticTTY(cfg.DiagnosticTTYPath)
	if err != nil {
		logger.WithError(err).Warn("worker: diagnostic tty unavailable, continuing without it")
	}
	if diagTTY != nil {
		defer diagTTY.Close()
	}

	ctx := context.Background()
	clearActiveBuffer(cfg.ActiveBufferArg)

	for {
		body, err := wire.ReadFrame(protoIn, time.Time{})
		if err != nil {
			if errors.Is(err, wire.ErrClosed) {
				logger.Debug("worker: parent closed request pipe, exiting cleanly")
				return nil
			}
			logger.WithError(err).Error("worker: fatal error reading request")
			return err
		}

		header, err := wire.DecodeRequestHeader(body)
		if err != nil {
			logger.WithError(err).Error("worker: fatal protocol error")
			return err
		}

		var reply []byte
		if header.IsPing() {
			reply = wire.EncodeResponse(0, "", "", "")
		} else {
			script := string(body[wire.RequestHeaderSize:])
			setActiveBuffer(cfg.ActiveBufferArg, script)
			mirrorToDiagnosticTTY(diagTTY, script)

			result := cfg.Evaluator.Eval(ctx, script)
			if result.OK {
				reply = wire.EncodeResponse(0, "", "", result.Result)
			} else {
				reply = wire.EncodeResponse(1, result.ErrorCode, result.ErrorInfo, result.Result)
			}
		}

		if err := wire.WriteFrame(protoOut, reply, time.Time{}); err != nil {
			logger.WithError(err).Error("worker: fatal error writing response")
			return err
		}

		clearActiveBuffer(cfg.ActiveBufferArg)
	}
}

// rebindStdio duplicates the process's fd 0/1 (the protocol pipes the
// parent handed the child) onto fresh descriptors, then rebinds fd 0 to
// /dev/null and fd 1 to stderr, so that anything the evaluated script does
// with stdin/stdout cannot corrupt the framed protocol (spec.md §4.B step 1).
func rebindStdio() (in, out *os.File, err error) {
	return rebindStdioImpl()
}
