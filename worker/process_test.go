package worker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/scriptproxy/wire"
)

// stubEvaluator lets tests script the responses Run sees without touching a
// real interpreter.
type stubEvaluator struct {
	results map[string]EvalResult
	calls   []string
	closed  bool
}

func (s *stubEvaluator) Eval(ctx context.Context, script string) EvalResult {
	s.calls = append(s.calls, script)
	if r, ok := s.results[script]; ok {
		return r
	}
	return EvalResult{OK: true, Result: ""}
}

func (s *stubEvaluator) Close() error {
	s.closed = true
	return nil
}

// testRig wires a Run invocation to a pair of in-process pipes standing in
// for the worker's protocol descriptors, so the test drives Run exactly as
// the parent's rpcengine.Call would.
type testRig struct {
	toWorker    *os.File // test writes requests here
	workerReads *os.File // Run's ProtoIn

	fromWorker  *os.File // test reads responses here
	workerWrites *os.File // Run's ProtoOut

	evaluator *stubEvaluator
	done      chan error
}

func newTestRig(t *testing.T, results map[string]EvalResult) *testRig {
	t.Helper()

	workerReads, toWorker, err := os.Pipe()
	require.NoError(t, err)
	fromWorker, workerWrites, err := os.Pipe()
	require.NoError(t, err)

	ev := &stubEvaluator{results: results}
	rig := &testRig{
		toWorker:     toWorker,
		workerReads:  workerReads,
		fromWorker:   fromWorker,
		workerWrites: workerWrites,
		evaluator:    ev,
		done:         make(chan error, 1),
	}

	go func() {
		rig.done <- Run(RunConfig{
			PoolSpec:  "default",
			HandleID:  "proxy1",
			Evaluator: ev,
			ProtoIn:   workerReads,
			ProtoOut:  workerWrites,
		})
	}()

	return rig
}

func (r *testRig) sendScript(t *testing.T, script string, deadline time.Time) wire.Response {
	t.Helper()
	require.NoError(t, wire.WriteFrame(r.toWorker, wire.EncodeRequest(script), deadline))
	body, err := wire.ReadFrame(r.fromWorker, deadline)
	require.NoError(t, err)
	resp, err := wire.DecodeResponse(body)
	require.NoError(t, err)
	return resp
}

func (r *testRig) closeAndWait(t *testing.T) error {
	t.Helper()
	require.NoError(t, r.toWorker.Close())
	select {
	case err := <-r.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after parent closed the request pipe")
		return nil
	}
}

func TestRunEvaluatesScriptAndReplies(t *testing.T) {
	rig := newTestRig(t, map[string]EvalResult{
		"sum 1 2": {OK: true, Result: "3"},
	})

	resp := rig.sendScript(t, "sum 1 2", time.Now().Add(time.Second))
	assert.Equal(t, int32(0), resp.Code)
	assert.Equal(t, "3", resp.ResultString)
	assert.Equal(t, []string{"sum 1 2"}, rig.evaluator.calls)

	err := rig.closeAndWait(t)
	assert.NoError(t, err)
}

func TestRunReportsEvaluationFailure(t *testing.T) {
	rig := newTestRig(t, map[string]EvalResult{
		"boom": {OK: false, ErrorCode: "ELUA", ErrorInfo: "script execution failed", Result: "bad syntax"},
	})

	resp := rig.sendScript(t, "boom", time.Now().Add(time.Second))
	assert.Equal(t, int32(1), resp.Code)
	assert.Equal(t, "ELUA", resp.CodeString)
	assert.Equal(t, "script execution failed", resp.InfoString)
	assert.Equal(t, "bad syntax", resp.ResultString)

	require.NoError(t, rig.closeAndWait(t))
}

func TestRunAnswersPingWithoutInvokingEvaluator(t *testing.T) {
	rig := newTestRig(t, nil)

	resp := rig.sendScript(t, "", time.Now().Add(time.Second))
	assert.Equal(t, int32(0), resp.Code)
	assert.Empty(t, resp.ResultString)
	assert.Empty(t, rig.evaluator.calls)

	require.NoError(t, rig.closeAndWait(t))
}

func TestRunExitsCleanlyOnParentClose(t *testing.T) {
	rig := newTestRig(t, nil)
	err := rig.closeAndWait(t)
	assert.NoError(t, err)
}

func TestRunSurvivesMultipleScriptsInSequence(t *testing.T) {
	rig := newTestRig(t, map[string]EvalResult{
		"a": {OK: true, Result: "1"},
		"b": {OK: true, Result: "2"},
	})

	r1 := rig.sendScript(t, "a", time.Now().Add(time.Second))
	r2 := rig.sendScript(t, "b", time.Now().Add(time.Second))
	assert.Equal(t, "1", r1.ResultString)
	assert.Equal(t, "2", r2.ResultString)

	require.NoError(t, rig.closeAndWait(t))
}
