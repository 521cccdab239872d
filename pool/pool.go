// Package pool implements spec.md §4.D: a named set of handles sharing
// configuration, with fair reservation queuing, idle expiry, and the
// introspection operations exposed to callers.
package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/sirupsen/logrus"

	"github.com/srg/scriptproxy/proxy"
	"github.com/srg/scriptproxy/reaper"
	"github.com/srg/scriptproxy/rpcengine"
	"github.com/srg/scriptproxy/session"
	"github.com/srg/scriptproxy/worker"
)

// activeBufferWidth is the size of the argv placeholder handed to every
// spawned worker for the diagnostic active-buffer mechanism (spec.md §4.B).
const activeBufferWidth = 256

// Pool is spec.md's Pool (D): name, free/running handle lists, spawn
// configuration, and the single-waiter reservation queue.
type Pool struct {
	name string
	log  *logrus.Logger

	reap   *reaper.Reaper
	lister reaper.PoolLister

	mu   sync.Mutex
	cond *sync.Cond

	opts Options

	free    *orderedmap.OrderedMap[string, *proxy.Handle]
	running *orderedmap.OrderedMap[string, *proxy.Handle]
	all     map[string]*proxy.Handle

	nextID     int
	avail      int
	waiterBusy bool
}

// New constructs a Pool named name with opts (already defaulted by the
// caller, typically registry.Configure via DefaultOptions). r and lister are
// shared across every pool in the registry so the reaper can compute idle
// wakeups across all of them.
func New(name string, opts Options, r *reaper.Reaper, lister reaper.PoolLister, log *logrus.Logger) *Pool {
	if log == nil {
		log = logrus.New()
	}
	opts.clampMin()
	p := &Pool{
		name:    name,
		log:     log,
		reap:    r,
		lister:  lister,
		opts:    opts,
		free:    orderedmap.New[string, *proxy.Handle](),
		running: orderedmap.New[string, *proxy.Handle](),
		all:     make(map[string]*proxy.Handle),
		avail:   opts.Max,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Name implements reaper.PoolView and is used for logging/introspection.
func (p *Pool) Name() string { return p.name }

// Snapshot returns a copy of the pool's current configuration.
func (p *Pool) Snapshot() Options {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts
}

// Configure applies new options (spec.md §4.D "Configuration"). Every idle
// handle is drained so the new settings take effect immediately; avail is
// recomputed from the running count.
func (p *Pool) Configure(opts Options) {
	opts.clampMin()

	p.mu.Lock()
	p.opts = opts
	toDrain := make([]*proxy.Handle, 0, p.free.Len())
	for pair := p.free.Oldest(); pair != nil; pair = pair.Next() {
		toDrain = append(toDrain, pair.Value)
	}
	for _, h := range toDrain {
		p.free.Delete(h.ID)
		delete(p.all, h.ID)
	}
	// After draining, p.all holds exactly the handles still reserved by
	// some caller (running or merely checked out between calls).
	p.avail = opts.Max - len(p.all)
	p.mu.Unlock()

	for _, h := range toDrain {
		h.Close()
	}
	p.cond.Broadcast()
}

// resolvedExec returns the configured exec path, or a default sibling
// binary next to the running executable if none was configured (spec.md
// §4.D "exec ... default: built-in, resolved once at first pool creation").
var defaultWorkerExec = sync.OnceValue(func() string {
	self, err := os.Executable()
	if err != nil {
		return "scriptproxy-worker"
	}
	return filepath.Join(filepath.Dir(self), "scriptproxy-worker")
})

func (p *Pool) resolvedExec() string {
	p.mu.Lock()
	exec := p.opts.Exec
	p.mu.Unlock()
	if exec == "" {
		return defaultWorkerExec()
	}
	return exec
}

// --- proxy.Binding ---

func (p *Pool) SpawnOptions(handleID string) worker.SpawnOptions {
	p.mu.Lock()
	diag := p.opts.DiagnosticTTY
	p.mu.Unlock()
	return worker.SpawnOptions{
		Exec:                p.resolvedExec(),
		PoolSpec:            p.name,
		HandleID:            handleID,
		ActiveBufferWidth:   activeBufferWidth,
		EnableDiagnosticTTY: diag,
	}
}

func (p *Pool) InitScript() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.Init
}

func (p *Pool) ReinitScript() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.Reinit
}

func (p *Pool) Timeouts() rpcengine.Timeouts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return rpcengine.Timeouts{SendMs: p.opts.TSendMs, RecvMs: p.opts.TRecvMs, EvalMs: p.opts.TEvalMs}
}

func (p *Pool) MarkRunning(h *proxy.Handle) {
	p.mu.Lock()
	p.running.Set(h.ID, h)
	p.mu.Unlock()
}

func (p *Pool) MarkIdle(h *proxy.Handle) {
	p.mu.Lock()
	p.running.Delete(h.ID)
	p.mu.Unlock()
}

func (p *Pool) CloseWorker(h *proxy.Handle, w *worker.Spawned) {
	p.mu.Lock()
	p.running.Delete(h.ID)
	p.mu.Unlock()
	if p.reap != nil {
		p.reap.Enqueue(reaper.Job{Worker: w, TWaitMs: p.tWaitMs(), PoolName: p.name}, p.lister)
	} else {
		_ = w.Close()
	}
}

func (p *Pool) tWaitMs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.TWaitMs
}

// --- reaper.PoolView ---

func (p *Pool) IdleTimeoutMs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.TIdleMs
}

func (p *Pool) DetachExpired(now time.Time) []reaper.Job {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.opts.TIdleMs <= 0 {
		return nil
	}

	var jobs []reaper.Job
	var expiredIDs []string
	for pair := p.free.Oldest(); pair != nil; pair = pair.Next() {
		h := pair.Value
		w := h.PeekWorker()
		if w == nil || w.Expire.IsZero() || w.Expire.After(now) {
			continue
		}
		expiredIDs = append(expiredIDs, h.ID)
	}
	for _, id := range expiredIDs {
		h, ok := p.free.Get(id)
		if !ok {
			continue
		}
		w := h.Detach()
		p.free.Delete(id)
		delete(p.all, id)
		if w != nil {
			jobs = append(jobs, reaper.Job{Worker: w, TWaitMs: p.opts.TWaitMs, PoolName: p.name})
		}
	}
	return jobs
}

func (p *Pool) EarliestIdleExpiry() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var earliest time.Time
	found := false
	for pair := p.free.Oldest(); pair != nil; pair = pair.Next() {
		w := pair.Value.PeekWorker()
		if w == nil || w.Expire.IsZero() {
			continue
		}
		if !found || w.Expire.Before(earliest) {
			earliest = w.Expire
			found = true
		}
	}
	return earliest, found
}

// --- reservation ---

// waitDeadline blocks on cond until pred() is true or deadline passes
// (zero deadline blocks indefinitely), returning pred()'s final value. It
// must be called with cond's lock held.
func waitDeadline(cond *sync.Cond, deadline time.Time, pred func() bool) bool {
	if pred() {
		return true
	}
	if deadline.IsZero() {
		for !pred() {
			cond.Wait()
		}
		return true
	}
	timer := time.AfterFunc(time.Until(deadline), cond.Broadcast)
	defer timer.Stop()
	for !pred() {
		if !time.Now().Before(deadline) {
			return false
		}
		cond.Wait()
	}
	return true
}

// Get implements spec.md §4.D's reservation algorithm.
func (p *Pool) Get(sess *session.Session, n int, waitMs int) ([]string, *rpcengine.Error) {
	if n < 1 {
		return nil, rpcengine.Code(rpcengine.CodeNoHandle).WithMessage("n must be >= 1")
	}
	if sess.AlreadyHolds(p.name) {
		return nil, rpcengine.Code(rpcengine.CodeDeadlock).WithMessage("session already holds handles from this pool")
	}

	deadline := p.deadlineFor(waitMs)

	p.mu.Lock()
	if !waitDeadline(p.cond, deadline, func() bool { return !p.waiterBusy }) {
		p.mu.Unlock()
		return nil, rpcengine.Code(rpcengine.CodeNoHandle).WithMessage("queue timeout")
	}
	p.waiterBusy = true

	ok := waitDeadline(p.cond, deadline, func() bool {
		return p.avail >= n || p.opts.Max < n
	})
	if !ok || p.opts.Max < n {
		msg := "proxy timeout"
		if p.opts.Max == 0 {
			msg = "pool disabled"
		} else if p.opts.Max < n {
			msg = "insufficient handles"
		}
		p.waiterBusy = false
		p.cond.Broadcast()
		p.mu.Unlock()
		return nil, rpcengine.Code(rpcengine.CodeNoHandle).WithMessage(msg)
	}

	handles := make([]*proxy.Handle, 0, n)
	for len(handles) < n {
		pair := p.free.Oldest()
		if pair == nil {
			break
		}
		p.free.Delete(pair.Key)
		handles = append(handles, pair.Value)
	}
	for len(handles) < n {
		id := p.allocID()
		h := proxy.New(id, p)
		p.all[id] = h
		handles = append(handles, h)
	}
	p.avail -= n
	p.waiterBusy = false
	p.cond.Broadcast()
	p.mu.Unlock()

	sess.Adopt(p.name, handles)

	ids := make([]string, 0, n)
	for _, h := range handles {
		if err := h.Ping(context.Background(), 0); err != nil {
			for _, undo := range handles {
				sess.Forget(undo.ID)
			}
			p.mu.Lock()
			for _, undo := range handles {
				delete(p.all, undo.ID)
			}
			p.avail += n
			p.mu.Unlock()
			for _, undo := range handles {
				undo.Close()
			}
			p.cond.Broadcast()
			return nil, err
		}
		ids = append(ids, h.ID)
	}
	return ids, nil
}

func (p *Pool) deadlineFor(waitMs int) time.Time {
	ms := waitMs
	if ms <= 0 {
		p.mu.Lock()
		ms = p.opts.TGetMs
		p.mu.Unlock()
	}
	if ms <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(ms) * time.Millisecond)
}

func (p *Pool) allocID() string {
	id := fmt.Sprintf("proxy%d", p.nextID)
	p.nextID++
	return id
}

// Release implements spec.md §4.C's release + return-to-pool sequence.
func (p *Pool) Release(sess *session.Session, handleID string) error {
	p.mu.Lock()
	h, ok := p.all[handleID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("pool %s: no such handle %s", p.name, handleID)
	}

	h.Release(context.Background(), p.timeoutsEvalMs())

	sess.Release(handleID)

	p.mu.Lock()
	p.avail++
	avail := p.avail
	p.mu.Unlock()

	if avail > 0 && h.HasWorker() {
		p.refreshExpiry(h)
		p.mu.Lock()
		p.free.Set(handleID, h)
		p.mu.Unlock()
	} else {
		p.mu.Lock()
		delete(p.all, handleID)
		p.mu.Unlock()
		h.Close()
	}
	p.cond.Broadcast()
	return nil
}

func (p *Pool) timeoutsEvalMs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.TEvalMs
}

func (p *Pool) refreshExpiry(h *proxy.Handle) {
	w := h.PeekWorker()
	if w == nil {
		return
	}
	p.mu.Lock()
	idle := p.opts.TIdleMs
	p.mu.Unlock()
	if idle > 0 {
		w.Expire = time.Now().Add(time.Duration(idle) * time.Millisecond)
	} else {
		w.Expire = time.Time{}
	}
}

// Lookup returns the handle for id if this pool owns it (reserved or free).
func (p *Pool) Lookup(handleID string) (*proxy.Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.all[handleID]
	return h, ok
}

// Active implements spec.md §6's active(pool) operation: the reserved
// handles currently mid-evaluation, with their in-flight script.
func (p *Pool) Active() []ActiveHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ActiveHandle, 0, p.running.Len())
	for pair := p.running.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, ActiveHandle{ID: pair.Key, Script: pair.Value.CurrentScript()})
	}
	return out
}

// ActiveHandle is one entry of Pool.Active's result.
type ActiveHandle struct {
	ID     string
	Script string
}

// Shutdown moves every free-list worker onto the close list and waits for
// the reaper to finish draining before returning, per spec.md §4.G "during
// pool destruction". It does not touch handles still reserved by callers.
func (p *Pool) Shutdown(wait time.Duration) {
	p.mu.Lock()
	toClose := make([]*proxy.Handle, 0, p.free.Len())
	for pair := p.free.Oldest(); pair != nil; pair = pair.Next() {
		toClose = append(toClose, pair.Value)
	}
	for _, h := range toClose {
		p.free.Delete(h.ID)
		delete(p.all, h.ID)
	}
	p.mu.Unlock()

	for _, h := range toClose {
		h.Close()
	}
	if p.reap != nil {
		p.reap.Stop(wait)
	}
}
