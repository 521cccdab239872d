package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/scriptproxy/proxy"
	"github.com/srg/scriptproxy/rpcengine"
	"github.com/srg/scriptproxy/session"
)

func TestDefaultOptionsMatchDocumentedDefaults(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, 0, o.Min)
	assert.Equal(t, 5, o.Max)
	assert.Equal(t, 500, o.TGetMs)
	assert.Equal(t, 500, o.TEvalMs)
	assert.Equal(t, 100, o.TSendMs)
	assert.Equal(t, 100, o.TRecvMs)
	assert.Equal(t, 100, o.TWaitMs)
	assert.Equal(t, 0, o.TIdleMs)
}

func newTestPool(t *testing.T, opts Options) *Pool {
	t.Helper()
	return New("p", opts, nil, nil, nil)
}

func TestGetRejectsZeroCount(t *testing.T) {
	p := newTestPool(t, DefaultOptions())
	sess := session.New()
	_, err := p.Get(sess, 0, 100)
	require.NotNil(t, err)
	assert.Equal(t, rpcengine.CodeNoHandle, err.Code)
}

func TestGetEnforcesDeadlockGuardBeforeTouchingPoolState(t *testing.T) {
	p := newTestPool(t, DefaultOptions())
	sess := session.New()
	// Simulate an already-held handle from this pool without a real
	// reservation, to isolate the deadlock guard from spawn behavior.
	sess.Adopt("p", []*proxy.Handle{proxy.New("proxy0", p)})

	_, err := p.Get(sess, 1, 100)
	require.NotNil(t, err)
	assert.Equal(t, rpcengine.CodeDeadlock, err.Code)
}

func TestGetWithMaxZeroReportsPoolDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.Max = 0
	p := newTestPool(t, opts)
	sess := session.New()

	_, err := p.Get(sess, 1, 100)
	require.NotNil(t, err)
	assert.Equal(t, rpcengine.CodeNoHandle, err.Code)
	assert.Contains(t, err.Message, "pool disabled")
}

func TestGetWithCountAboveMaxReportsInsufficientHandlesImmediately(t *testing.T) {
	opts := DefaultOptions()
	opts.Max = 2
	p := newTestPool(t, opts)
	sess := session.New()

	_, err := p.Get(sess, 3, 100)
	require.NotNil(t, err)
	assert.Equal(t, rpcengine.CodeNoHandle, err.Code)
	assert.Contains(t, err.Message, "insufficient handles")
}

func TestGetRollsBackReservationOnSpawnFailure(t *testing.T) {
	opts := DefaultOptions()
	opts.Max = 1
	opts.Exec = "/nonexistent/scriptproxy-worker-binary"
	p := newTestPool(t, opts)
	sess := session.New()

	ids, err := p.Get(sess, 1, 1000)
	require.Nil(t, ids)
	require.NotNil(t, err)
	assert.Equal(t, rpcengine.CodeExec, err.Code)

	// The failed reservation must not leak avail or session bookkeeping.
	assert.Equal(t, 1, p.avail)
	assert.Empty(t, sess.HandleIDs())
}

func TestConfigureClampsMinToMax(t *testing.T) {
	p := newTestPool(t, DefaultOptions())
	p.Configure(Options{Min: 10, Max: 3})
	got := p.Snapshot()
	assert.Equal(t, 3, got.Min)
	assert.Equal(t, 3, got.Max)
}

func TestConfigureRecomputesAvailFromMax(t *testing.T) {
	p := newTestPool(t, DefaultOptions())
	p.Configure(Options{Max: 7})
	assert.Equal(t, 7, p.avail)
}
