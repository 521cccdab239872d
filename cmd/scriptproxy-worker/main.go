// Command scriptproxy-worker is the worker binary pool.Pool spawns for every
// handle. It wires worker.Run to a Lua evaluator and otherwise knows nothing
// about the pool/proxy/registry machinery driving it from the parent side,
// per spec.md §9's "the core must not be aware of the embedding language"
// and its mirror image here: the embedding language must not be aware of
// the core's reservation machinery either.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/srg/scriptproxy/worker"
	"github.com/srg/scriptproxy/worker/luaeval"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl := os.Getenv("SCRIPTPROXY_LOG_LEVEL"); lvl != "" {
		if parsed, err := logrus.ParseLevel(lvl); err == nil {
			logger.SetLevel(parsed)
		}
	}

	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: scriptproxy-worker <pool-spec> <handle-id> [active-buffer]")
		os.Exit(2)
	}
	poolSpec, handleID := os.Args[1], os.Args[2]
	activeBufferArg := ""
	if len(os.Args) > 3 {
		activeBufferArg = os.Args[3]
	}

	evaluator, err := luaeval.New()
	if err != nil {
		logger.WithError(err).Fatal("scriptproxy-worker: failed to create evaluator")
	}

	// The pool's init script (if any) arrives as this worker's first request
	// over the wire protocol, not as a startup hook: spawnAndInit sends it
	// as a regular evaluate call once the main loop below is already reading
	// from protoIn, so there's nothing to run here before entering Run.
	cfg := worker.RunConfig{
		PoolSpec:          poolSpec,
		HandleID:          handleID,
		ActiveBufferArg:   activeBufferArg,
		Evaluator:         evaluator,
		Logger:            logger,
		DiagnosticTTYPath: os.Getenv("SCRIPTPROXY_DIAG_TTY"),
	}

	err = worker.Run(cfg)
	closeErr := evaluator.Close()
	if err != nil {
		logger.WithError(err).Error("scriptproxy-worker: exiting after fatal error")
		os.Exit(1)
	}
	if closeErr != nil {
		logger.WithError(closeErr).Warn("scriptproxy-worker: evaluator close failed")
	}
}
