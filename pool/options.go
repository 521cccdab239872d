package pool

import "github.com/mcuadros/go-defaults"

// Options holds spec.md §4.D's configurable pool settings. DefaultOptions
// fills them from the default struct tags (t_get/t_eval 500ms,
// t_send/t_recv/t_wait 100ms, t_idle disabled, max 5); an Options built
// without it keeps its zero values, which pool.New and Configure use as-is.
type Options struct {
	// Exec is the worker executable path. Empty means "use the built-in
	// default, resolved once at first pool creation" (spec.md §4.D).
	Exec string `default:""`
	// Init runs once on each fresh worker, after spawn.
	Init string `default:""`
	// Reinit runs on every release before the handle returns to the free list.
	Reinit string `default:""`

	Min int `default:"0"`
	Max int `default:"5"`

	TGetMs  int `default:"500"`
	TEvalMs int `default:"500"`
	TSendMs int `default:"100"`
	TRecvMs int `default:"100"`
	TWaitMs int `default:"100"`
	TIdleMs int `default:"0"`

	// DiagnosticTTY enables the optional PTY-mirrored active-buffer channel
	// on newly spawned workers (worker.SpawnOptions.EnableDiagnosticTTY).
	DiagnosticTTY bool `default:"false"`
}

// DefaultOptions returns an Options populated with spec.md's documented
// defaults.
func DefaultOptions() Options {
	var o Options
	defaults.SetDefaults(&o)
	return o
}

// clampMin enforces "min is clamped to max" (spec.md §4.D).
func (o *Options) clampMin() {
	if o.Min > o.Max {
		o.Min = o.Max
	}
}
