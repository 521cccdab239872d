package main

import (
	"errors"
	"fmt"

	"github.com/srg/scriptproxy/rpcengine"
)

// ErrHandleNotHeld describes a handle id this process's session never
// reserved. No subcommand returns it: evaluate and ping report that case as
// the registry's DEAD error, and release as the registry's own error.
var ErrHandleNotHeld = errors.New("handle not held by this session")

// FormatUserError renders err for a terminal, unwrapping the proxy
// subsystem's classified *rpcengine.Error into its code and message rather
// than Go's default "DEADLOCK: session already holds handles..." wrapping.
func FormatUserError(err error) string {
	var rerr *rpcengine.Error
	if errors.As(err, &rerr) {
		if rerr.Info != "" {
			return fmt.Sprintf("%s: %s (%s)", rerr.Code, rerr.Message, rerr.Info)
		}
		return fmt.Sprintf("%s: %s", rerr.Code, rerr.Message)
	}
	return err.Error()
}
