package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/scriptproxy/pool"
	"github.com/srg/scriptproxy/rpcengine"
	"github.com/srg/scriptproxy/session"
)

func TestConfigureCreatesPoolWithDefaultsOnFirstUse(t *testing.T) {
	r := New(nil)
	got := r.Configure("p", func(o *pool.Options) { o.Max = 3 })
	assert.Equal(t, 3, got.Max)
	assert.Equal(t, 500, got.TGetMs)
}

func TestConfigureUpdatesExistingPool(t *testing.T) {
	r := New(nil)
	r.Configure("p", func(o *pool.Options) { o.Max = 3 })
	got := r.Configure("p", func(o *pool.Options) { o.Max = 1 })
	assert.Equal(t, 1, got.Max)
}

func TestGetAgainstUnknownPoolReportsNoHandle(t *testing.T) {
	r := New(nil)
	sess := session.New()
	_, err := r.Get(sess, "does-not-exist", 1, 100)
	require.NotNil(t, err)
	assert.Equal(t, rpcengine.CodeNoHandle, err.Code)
}

func TestEvaluateAgainstUnheldHandleReportsDead(t *testing.T) {
	r := New(nil)
	sess := session.New()
	_, err := r.Evaluate(sess, "proxy0", "sum 1 2", 0)
	require.NotNil(t, err)
	assert.Equal(t, rpcengine.CodeDead, err.Code)
}

func TestPingAgainstUnheldHandleReportsDead(t *testing.T) {
	r := New(nil)
	sess := session.New()
	err := r.Ping(sess, "proxy0", 0)
	require.NotNil(t, err)
	assert.Equal(t, rpcengine.CodeDead, err.Code)
}

func TestHandlesReflectsSessionBookkeepingOnly(t *testing.T) {
	r := New(nil)
	sess := session.New()
	assert.Empty(t, r.Handles(sess))
}

func TestShutdownAndClearPoolsAreSafeOnEmptyRegistry(t *testing.T) {
	r := New(nil)
	r.Configure("p", nil)
	r.Shutdown(time.Second)
	r.ClearPools(time.Second)
	_, err := r.lookup("p")
	assert.NotNil(t, err)
}

func TestCleanupIsSafeWithNoPools(t *testing.T) {
	r := New(nil)
	r.Cleanup()
}
