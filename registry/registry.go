// Package registry implements spec.md §4.H: the process-wide map of pool
// name to pool, initialized lazily and shared by every caller session.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/scriptproxy/pool"
	"github.com/srg/scriptproxy/reaper"
	"github.com/srg/scriptproxy/rpcengine"
	"github.com/srg/scriptproxy/session"
)

// Registry owns every pool and the single reaper they share. Reads (pool
// lookups on every get/evaluate/ping) vastly outnumber writes (configuring a
// brand-new pool name), which is the workload cornelk/hashmap's lock-free
// map targets.
type Registry struct {
	log *logrus.Logger

	pools *hashmap.Map[string, *pool.Pool]
	reap  *reaper.Reaper

	// mu guards only the registry's own bookkeeping (creating a pool for a
	// name that doesn't exist yet); pool internals have their own lock.
	mu sync.Mutex
}

// New constructs an empty Registry with its own reaper.
func New(log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.New()
	}
	return &Registry{
		log:   log,
		pools: hashmap.New[string, *pool.Pool](),
		reap:  reaper.New(log),
	}
}

// lister adapts the registry's pool map into the []reaper.PoolView the
// reaper scans each time it wakes.
func (r *Registry) lister() []reaper.PoolView {
	views := make([]reaper.PoolView, 0, r.pools.Len())
	r.pools.Range(func(_ string, p *pool.Pool) bool {
		views = append(views, p)
		return true
	})
	return views
}

// Configure implements spec.md §6's configure(pool, opts): creates the pool
// on first use with defaulted options, or applies opts to an existing pool.
// It returns the resulting configuration, echoed back per the operation's
// documented output.
func (r *Registry) Configure(name string, apply func(*pool.Options)) pool.Options {
	r.mu.Lock()
	p, existed := r.pools.Get(name)
	if !existed {
		opts := pool.DefaultOptions()
		if apply != nil {
			apply(&opts)
		}
		p = pool.New(name, opts, r.reap, r.lister, r.log)
		r.pools.Set(name, p)
		r.mu.Unlock()
		return p.Snapshot()
	}
	r.mu.Unlock()

	opts := p.Snapshot()
	if apply != nil {
		apply(&opts)
	}
	p.Configure(opts)
	return p.Snapshot()
}

// lookup returns the named pool, or an error mirroring NOHANDLE: an
// unconfigured pool has no capacity either.
func (r *Registry) lookup(name string) (*pool.Pool, *rpcengine.Error) {
	p, ok := r.pools.Get(name)
	if !ok {
		return nil, rpcengine.Code(rpcengine.CodeNoHandle).WithMessage(fmt.Sprintf("no such pool %q", name))
	}
	return p, nil
}

// Get implements spec.md §6's get(pool, n, timeout).
func (r *Registry) Get(sess *session.Session, poolName string, n, waitMs int) ([]string, *rpcengine.Error) {
	p, err := r.lookup(poolName)
	if err != nil {
		return nil, err
	}
	return p.Get(sess, n, waitMs)
}

// Release implements spec.md §6's release(handle). Handles don't carry
// their pool name in this package, so the owning pool is found by asking
// each pool in turn; in practice this is a single-pool hit since callers
// release handles from the pool they just reserved them from.
func (r *Registry) Release(sess *session.Session, handleID string) error {
	if _, ok := sess.Lookup(handleID); !ok {
		return fmt.Errorf("registry: handle %s not held by this session", handleID)
	}
	owner, err := r.findOwningPool(handleID)
	if err != nil {
		return err
	}
	return owner.Release(sess, handleID)
}

func (r *Registry) findOwningPool(handleID string) (*pool.Pool, error) {
	var found *pool.Pool
	r.pools.Range(func(_ string, p *pool.Pool) bool {
		if _, ok := p.Lookup(handleID); ok {
			found = p
			return false
		}
		return true
	})
	if found == nil {
		return nil, fmt.Errorf("registry: no pool owns handle %s", handleID)
	}
	return found, nil
}

// Active implements spec.md §6's active(pool).
func (r *Registry) Active(poolName string) ([]pool.ActiveHandle, *rpcengine.Error) {
	p, err := r.lookup(poolName)
	if err != nil {
		return nil, err
	}
	return p.Active(), nil
}

// Shutdown closes every pool's idle (free-list) workers and stops the
// shared reaper, for process
// exit. It is a supplemented feature (original_source/nsproxy's
// Ns_ProxyExit, which walks every pool and closes its proxies on module
// teardown): nothing in spec.md §6 exposes it to callers, but a
// long-running host process needs a clean-exit path.
func (r *Registry) Shutdown(wait time.Duration) {
	r.pools.Range(func(_ string, p *pool.Pool) bool {
		p.Shutdown(wait)
		return true
	})
}

// ClearPools drops every pool from the registry after shutting them down,
// the rest of Ns_ProxyExit's teardown (it also drops each pool's
// configuration, not just its workers), primarily useful in tests that
// need a clean registry between cases.
func (r *Registry) ClearPools(wait time.Duration) {
	r.Shutdown(wait)
	r.pools.Range(func(name string, _ *pool.Pool) bool {
		r.pools.Del(name)
		return true
	})
}
