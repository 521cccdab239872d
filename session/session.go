// Package session implements spec.md §4's "Caller session (E)": the
// per-caller table of currently held handles and the per-pool hold counts
// used to guard against a caller reserving from a pool it already holds
// handles in.
package session

import (
	"sync"

	"github.com/srg/scriptproxy/proxy"
)

// Session is one caller's bookkeeping. The zero value is not usable; use New.
type Session struct {
	mu sync.Mutex

	// handles maps handle id -> (pool name, handle), across every pool this
	// session currently holds handles in.
	handles map[string]ownedHandle

	// poolCounts maps pool name -> number of handles this session holds
	// from that pool.
	poolCounts map[string]int
}

type ownedHandle struct {
	pool   string
	handle *proxy.Handle
}

// New returns an empty Session.
func New() *Session {
	return &Session{
		handles:    make(map[string]ownedHandle),
		poolCounts: make(map[string]int),
	}
}

// AlreadyHolds implements the deadlock guard of spec.md §4.D: "a caller may
// not reserve from a pool it already holds handles in".
func (s *Session) AlreadyHolds(pool string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poolCounts[pool] > 0
}

// Adopt installs newly reserved handles into the session's tables (spec.md
// §4.D "Install each handle into the session's id table and increment its
// pool hold count").
func (s *Session) Adopt(pool string, handles []*proxy.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range handles {
		s.handles[h.ID] = ownedHandle{pool: pool, handle: h}
	}
	s.poolCounts[pool] += len(handles)
}

// Lookup returns the handle for id if this session currently holds it.
func (s *Session) Lookup(id string) (*proxy.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oh, ok := s.handles[id]
	if !ok {
		return nil, false
	}
	return oh.handle, true
}

// Release removes id from the session's tables and decrements its pool's
// hold count, returning the pool name it belonged to. ok is false if the
// session did not hold id.
func (s *Session) Release(id string) (pool string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oh, present := s.handles[id]
	if !present {
		return "", false
	}
	delete(s.handles, id)
	s.poolCounts[oh.pool]--
	if s.poolCounts[oh.pool] <= 0 {
		delete(s.poolCounts, oh.pool)
	}
	return oh.pool, true
}

// Forget removes id from the session's tables without the usual release
// side effects, for use when a reservation call fails partway through and
// must unwind handles it had provisionally adopted.
func (s *Session) Forget(id string) {
	s.Release(id)
}

// HandleIDs returns every handle id this session currently holds, across
// all pools (spec.md §6 "handles()").
func (s *Session) HandleIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	return ids
}
