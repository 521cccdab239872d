package reaper

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/scriptproxy/worker"
)

// spawnSleeper starts a short-lived child process and wires up a
// worker.Spawned around a pipe the test fully controls, so closeOne's
// escalation logic can be exercised without a real protocol peer.
func spawnSleeper(t *testing.T, sleep time.Duration) *worker.Spawned {
	t.Helper()
	cmd := exec.Command("sleep", sleepArg(sleep))
	stdoutR, stdoutW, err := os.Pipe()
	require.NoError(t, err)
	cmd.Stdout = stdoutW
	require.NoError(t, cmd.Start())
	stdoutW.Close()

	return &worker.Spawned{
		Cmd:    cmd,
		PID:    cmd.Process.Pid,
		Stdin:  nil,
		Stdout: stdoutR,
	}
}

func sleepArg(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs * int(time.Second)).String()
}

func TestCloseOneReapsWorkerThatExitsOnItsOwn(t *testing.T) {
	r := New(nil)
	w := spawnSleeper(t, 0) // "sleep 1s" exits well within the 2s grace below

	done := make(chan struct{})
	go func() {
		r.closeOne(Job{Worker: w, TWaitMs: 2000, PoolName: "p"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("closeOne did not return for a worker that exits on its own")
	}
}

func TestReaperStartsStoppedAndTransitionsOnEnqueue(t *testing.T) {
	r := New(nil)
	assert.Equal(t, Stopped, r.State())

	w := spawnSleeper(t, 0)
	r.Enqueue(Job{Worker: w, TWaitMs: 200, PoolName: "p"}, nil)

	require.Eventually(t, func() bool {
		return r.State() != Stopped
	}, time.Second, 10*time.Millisecond)

	require.True(t, r.Stop(3*time.Second))
	assert.Equal(t, Stopped, r.State())
}

func TestReaperStopIsIdempotentWhenAlreadyStopped(t *testing.T) {
	r := New(nil)
	assert.True(t, r.Stop(time.Second))
}
