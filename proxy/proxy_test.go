package proxy

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/scriptproxy/rpcengine"
	"github.com/srg/scriptproxy/wire"
	"github.com/srg/scriptproxy/worker"
)

// fakeBinding is a test double standing in for a pool.Pool.
type fakeBinding struct {
	init, reinit string
	timeouts     rpcengine.Timeouts

	runningCalls []string
	idleCalls    []string
	closed       []string
}

func (f *fakeBinding) SpawnOptions(handleID string) worker.SpawnOptions {
	return worker.SpawnOptions{Exec: "unused", PoolSpec: "p", HandleID: handleID}
}
func (f *fakeBinding) InitScript() string         { return f.init }
func (f *fakeBinding) ReinitScript() string       { return f.reinit }
func (f *fakeBinding) Timeouts() rpcengine.Timeouts { return f.timeouts }
func (f *fakeBinding) MarkRunning(h *Handle)      { f.runningCalls = append(f.runningCalls, h.ID) }
func (f *fakeBinding) MarkIdle(h *Handle)         { f.idleCalls = append(f.idleCalls, h.ID) }
func (f *fakeBinding) CloseWorker(h *Handle, w *worker.Spawned) {
	f.closed = append(f.closed, h.ID)
	w.Close()
}

// loopbackWorker builds a *worker.Spawned whose pipes are wired to a tiny
// in-test echo loop, so Evaluate exercises the real rpcengine.Call path
// without spawning a process.
func loopbackWorker(t *testing.T, respond func(script string) wire.Response) *worker.Spawned {
	t.Helper()
	parentWriteR, parentWrite, err := os.Pipe() // handle writes requests here
	require.NoError(t, err)
	parentRead, parentReadW, err := os.Pipe() // handle reads responses here
	require.NoError(t, err)

	go func() {
		for {
			body, err := wire.ReadFrame(parentWriteR, time.Time{})
			if err != nil {
				return
			}
			header, err := wire.DecodeRequestHeader(body)
			if err != nil {
				return
			}
			var script string
			if !header.IsPing() {
				script = string(body[wire.RequestHeaderSize:])
			}
			resp := respond(script)
			frame := wire.EncodeResponse(resp.Code, resp.CodeString, resp.InfoString, resp.ResultString)
			if err := wire.WriteFrame(parentReadW, frame, time.Time{}); err != nil {
				return
			}
		}
	}()

	return &worker.Spawned{
		PID:    1,
		Stdin:  parentWrite,
		Stdout: parentRead,
	}
}

func TestHandleEvaluateSuccessAgainstAttachedWorker(t *testing.T) {
	binding := &fakeBinding{timeouts: rpcengine.Timeouts{SendMs: 1000, RecvMs: 1000, EvalMs: 1000}}
	h := New("proxy0", binding)
	h.Attach(loopbackWorker(t, func(script string) wire.Response {
		assert.Equal(t, "sum 1 2", script)
		return wire.Response{Code: 0, ResultString: "3"}
	}))

	outcome, rpcErr := h.Evaluate(context.Background(), "sum 1 2", 0)
	require.Nil(t, rpcErr)
	assert.True(t, outcome.OK)
	assert.Equal(t, "3", outcome.Result)
	assert.Equal(t, []string{"proxy0"}, binding.runningCalls)
	assert.Equal(t, []string{"proxy0"}, binding.idleCalls)
	assert.Empty(t, binding.closed)
	assert.Empty(t, h.CurrentScript())
}

func TestHandleEvaluateWorkerReportedFailureDoesNotCloseWorker(t *testing.T) {
	binding := &fakeBinding{timeouts: rpcengine.Timeouts{SendMs: 1000, RecvMs: 1000, EvalMs: 1000}}
	h := New("proxy0", binding)
	h.Attach(loopbackWorker(t, func(script string) wire.Response {
		return wire.Response{Code: 1, CodeString: "EXEC", InfoString: "bad script", ResultString: "oops"}
	}))

	outcome, rpcErr := h.Evaluate(context.Background(), "boom", 0)
	require.Nil(t, rpcErr)
	assert.False(t, outcome.OK)
	assert.Equal(t, "EXEC", outcome.ErrorCode)
	assert.Equal(t, "bad script", outcome.ErrorInfo)
	assert.Equal(t, "oops", outcome.Result)
	assert.Empty(t, binding.closed, "a worker-reported failure must not close the worker")
}

func TestHandlePingDoesNotMutateResultChannel(t *testing.T) {
	binding := &fakeBinding{timeouts: rpcengine.Timeouts{SendMs: 1000, RecvMs: 1000, EvalMs: 1000}}
	h := New("proxy0", binding)
	h.Attach(loopbackWorker(t, func(script string) wire.Response {
		assert.Empty(t, script)
		return wire.Response{Code: 0}
	}))

	rpcErr := h.Ping(context.Background(), 0)
	assert.Nil(t, rpcErr)
}

func TestHandleCloseHandsWorkerToBinding(t *testing.T) {
	binding := &fakeBinding{}
	h := New("proxy0", binding)
	h.Attach(loopbackWorker(t, func(string) wire.Response { return wire.Response{} }))

	h.Close()
	assert.Equal(t, []string{"proxy0"}, binding.closed)
	assert.False(t, h.HasWorker())
}

func TestGrowingBufferGrowsPastInitialCapacity(t *testing.T) {
	b := newGrowingBuffer(8)
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}
	b.Append(payload)
	assert.Equal(t, payload, b.Bytes())

	b.Reset()
	assert.Empty(t, b.Bytes())
}
