package registry

import (
	"context"
	"time"

	"github.com/srg/scriptproxy/pool"
	"github.com/srg/scriptproxy/rpcengine"
	"github.com/srg/scriptproxy/session"
)

// Evaluate implements spec.md §6's evaluate(handle, script, timeout).
func (r *Registry) Evaluate(sess *session.Session, handleID, script string, timeoutMs int) (rpcengine.Outcome, *rpcengine.Error) {
	h, ok := sess.Lookup(handleID)
	if !ok {
		return rpcengine.Outcome{}, rpcengine.Code(rpcengine.CodeDead).WithMessage("handle not held by this session")
	}
	return h.Evaluate(context.Background(), script, timeoutMs)
}

// Ping implements spec.md §6's ping(handle).
func (r *Registry) Ping(sess *session.Session, handleID string, timeoutMs int) *rpcengine.Error {
	h, ok := sess.Lookup(handleID)
	if !ok {
		return rpcengine.Code(rpcengine.CodeDead).WithMessage("handle not held by this session")
	}
	return h.Ping(context.Background(), timeoutMs)
}

// Handles implements spec.md §6's handles().
func (r *Registry) Handles(sess *session.Session) []string {
	return sess.HandleIDs()
}

// Cleanup implements spec.md §6's cleanup(): forces an immediate idle-expiry
// sweep across every pool instead of waiting for each pool's next computed
// wakeup, mirroring original_source/nsproxy's administrative cleanup
// command. It reports no error to callers (spec.md §7 "Pool destruction
// never reports an error to callers"; cleanup follows the same contract).
func (r *Registry) Cleanup() {
	now := time.Now()
	r.pools.Range(func(_ string, p *pool.Pool) bool {
		for _, job := range p.DetachExpired(now) {
			r.reap.Enqueue(job, r.lister)
		}
		return true
	})
}
