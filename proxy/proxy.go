// Package proxy implements the handle abstraction of spec.md §4.C: a
// reservable wrapper around at most one worker process, carrying the
// request/response byte buffers and the caller-visible "proxy<n>" id.
//
// A Handle never imports the pool package. Everything it needs from its
// owning pool — spawn options, the init/reinit scripts, timeouts, and the
// running/free-list bookkeeping callbacks — arrives through the Binding
// interface, which pool implements. This keeps proxy a leaf package.
package proxy

import (
	"context"
	"fmt"
	"sync"

	"github.com/smallnest/ringbuffer"

	"github.com/srg/scriptproxy/rpcengine"
	"github.com/srg/scriptproxy/wire"
	"github.com/srg/scriptproxy/worker"
)

// initialBufferCap is the starting capacity of a handle's request/response
// ring buffers; they grow on demand (see growingBuffer).
const initialBufferCap = 4096

// Binding is the seam a Handle uses to reach its owning pool without
// importing it. Pool implements this once per Pool and hands one instance
// (scoped to itself) to every Handle it creates.
type Binding interface {
	// SpawnOptions returns the worker.SpawnOptions to use when this handle
	// needs a fresh worker.
	SpawnOptions(handleID string) worker.SpawnOptions
	// InitScript returns the pool's configured init script, or "".
	InitScript() string
	// ReinitScript returns the pool's configured reinit script, or "".
	ReinitScript() string
	// Timeouts returns the pool's current t_send/t_recv/t_eval values.
	Timeouts() rpcengine.Timeouts
	// MarkRunning registers h on the pool's running list (spec.md §4.C
	// step 3), under the pool lock.
	MarkRunning(h *Handle)
	// MarkIdle removes h from the running list once its evaluate call
	// returns, successful or not.
	MarkIdle(h *Handle)
	// CloseWorker hands w off to the reaper instead of returning it to the
	// free list; called whenever evaluate fails in a way that invalidates
	// the worker (spec.md §4.C "any failure in steps 4-7 closes the
	// worker").
	CloseWorker(h *Handle, w *worker.Spawned)
}

// Handle is spec.md's "Handle / Proxy (C)": a stable id, an optional
// attached worker, and the two growable buffers used to build the next
// request frame and hold the last decoded response.
type Handle struct {
	// ID is the caller-visible "proxy<n>" name, unique within the owning
	// pool's lifetime. Immutable after construction.
	ID string

	binding Binding

	mu      sync.Mutex
	w       *worker.Spawned
	reqBuf  *growingBuffer
	respBuf *growingBuffer

	// currentScript is the script this handle is evaluating right now, or
	// "" when idle. Read under mu by active() introspection.
	currentScript string
}

// New constructs a Handle with no attached worker. binding must not be nil.
func New(id string, binding Binding) *Handle {
	return &Handle{
		ID:      id,
		binding: binding,
		reqBuf:  newGrowingBuffer(initialBufferCap),
		respBuf: newGrowingBuffer(initialBufferCap),
	}
}

// HasWorker reports whether a worker is currently attached.
func (h *Handle) HasWorker() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.w != nil
}

// CurrentScript returns the script in flight, or "" if the handle is idle.
// Used by active() introspection (spec.md §4.D).
func (h *Handle) CurrentScript() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScript
}

// Evaluate implements spec.md §4.C's eight-step evaluate sequence.
func (h *Handle) Evaluate(ctx context.Context, script string, evalTimeoutMs int) (rpcengine.Outcome, *rpcengine.Error) {
	h.mu.Lock()
	w := h.w
	h.mu.Unlock()

	if w == nil {
		spawned, initErr := h.spawnAndInit(ctx)
		if initErr != nil {
			return rpcengine.Outcome{}, initErr
		}
		w = spawned
	}

	h.reqBuf.Reset()
	h.reqBuf.Append(wire.EncodeRequest(script))

	h.binding.MarkRunning(h)
	h.mu.Lock()
	h.currentScript = script
	h.mu.Unlock()
	defer func() {
		h.binding.MarkIdle(h)
		h.mu.Lock()
		h.currentScript = ""
		h.mu.Unlock()
	}()

	resp, callErr := rpcengine.Call(w.Stdin, w.Stdout, h.reqBuf.Bytes(), evalTimeoutMs, h.binding.Timeouts())
	h.reqBuf.Reset()
	if callErr != nil {
		h.detach()
		h.binding.CloseWorker(h, w)
		return rpcengine.Outcome{}, callErr
	}

	h.respBuf.Reset()
	return rpcengine.MapResponse(resp), nil
}

// Ping evaluates an empty script, per spec.md §4.C.
func (h *Handle) Ping(ctx context.Context, timeoutMs int) *rpcengine.Error {
	_, err := h.Evaluate(ctx, "", timeoutMs)
	return err
}

// Release runs the pool's reinit script (if any) and ignores its outcome,
// per spec.md §4.C "release": "regardless of its outcome, return the handle
// to the pool". Return-to-pool bookkeeping (avail, free list) is the pool's
// job, not the handle's; Release only performs the reinit side effect.
func (h *Handle) Release(ctx context.Context, timeoutMs int) {
	if h.binding.ReinitScript() == "" {
		return
	}
	if !h.HasWorker() {
		return
	}
	_, _ = h.Evaluate(ctx, h.binding.ReinitScript(), timeoutMs)
}

// Close drops the attached worker, handing it to the reaper via the
// binding. Safe to call on a handle with no worker.
func (h *Handle) Close() {
	h.mu.Lock()
	w := h.w
	h.w = nil
	h.mu.Unlock()
	if w != nil {
		h.binding.CloseWorker(h, w)
	}
}

// Attach installs w as the handle's worker without spawning and without
// running the pool's init script.
func (h *Handle) Attach(w *worker.Spawned) {
	h.mu.Lock()
	h.w = w
	h.mu.Unlock()
}

// PeekWorker returns the attached worker without detaching it, or nil. Used
// by the owning pool to inspect idle-expiry without taking ownership.
func (h *Handle) PeekWorker() *worker.Spawned {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.w
}

// Detach clears the attached worker and returns it (or nil), for use by the
// owning pool when moving an idle-expired handle onto the reaper's close
// list without going through CloseWorker's running-list bookkeeping.
func (h *Handle) Detach() *worker.Spawned {
	h.mu.Lock()
	w := h.w
	h.w = nil
	h.mu.Unlock()
	return w
}

func (h *Handle) detach() {
	h.mu.Lock()
	h.w = nil
	h.mu.Unlock()
}

// spawnAndInit spawns a worker (spec.md §4.B client side) and, if the pool
// has an init script configured, runs it as the first evaluation. A spawn
// failure is reported as EXEC; an init failure closes the worker and
// reports the init error (spec.md §4.C step 1).
func (h *Handle) spawnAndInit(ctx context.Context) (*worker.Spawned, *rpcengine.Error) {
	spawned, err := worker.Spawn(h.binding.SpawnOptions(h.ID))
	if err != nil {
		return nil, rpcengine.Code(rpcengine.CodeExec).WithMessage(fmt.Sprintf("spawn failed: %v", err))
	}
	h.mu.Lock()
	h.w = spawned
	h.mu.Unlock()

	init := h.binding.InitScript()
	if init == "" {
		return spawned, nil
	}

	h.reqBuf.Reset()
	h.reqBuf.Append(wire.EncodeRequest(init))
	resp, callErr := rpcengine.Call(spawned.Stdin, spawned.Stdout, h.reqBuf.Bytes(), 0, h.binding.Timeouts())
	h.reqBuf.Reset()
	if callErr != nil {
		h.detach()
		h.binding.CloseWorker(h, spawned)
		return nil, callErr
	}
	if resp.Code != 0 {
		h.detach()
		h.binding.CloseWorker(h, spawned)
		return nil, rpcengine.Code(rpcengine.CodeExec).WithInfo(resp.CodeString, resp.InfoString)
	}
	return spawned, nil
}

// growingBuffer is a smallnest/ringbuffer.RingBuffer that transparently
// doubles its capacity instead of returning ringbuffer.ErrIsFull, matching
// spec.md §3's "two growable byte buffers".
type growingBuffer struct {
	rb *ringbuffer.RingBuffer
}

func newGrowingBuffer(cap int) *growingBuffer {
	return &growingBuffer{rb: ringbuffer.New(cap)}
}

func (b *growingBuffer) Append(p []byte) {
	for {
		n, err := b.rb.Write(p)
		if err == nil {
			return
		}
		// Ran out of room: reallocate bigger and retry with the remainder.
		grown := ringbuffer.New(b.rb.Capacity()*2 + len(p))
		grown.Write(b.rb.Bytes())
		b.rb = grown
		p = p[n:]
		if len(p) == 0 {
			return
		}
	}
}

func (b *growingBuffer) Bytes() []byte {
	return b.rb.Bytes()
}

func (b *growingBuffer) Reset() {
	b.rb.Reset()
}
