// Package reaper implements spec.md §4.G: a single background task that
// closes idle-expired and explicitly-closed workers, escalating from
// SIGTERM to SIGKILL when a worker doesn't exit on its own.
//
// Reaper never imports pool: it only knows about worker.Spawned and the
// small PoolView interface pools register themselves under, so computing
// idle wakeups never needs a pool lock held across the reaper's own lock.
package reaper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/srg/scriptproxy/internal/groutine"
	"github.com/srg/scriptproxy/internal/ringchan"
	"github.com/srg/scriptproxy/wire"
	"github.com/srg/scriptproxy/worker"
)

// closeListCapacity bounds the close-list ring buffer. It is sized generously
// because losing a close job leaks a child process; ordinary operation keeps
// the list far below this.
const closeListCapacity = 4096

// State is one of the reaper's three lifecycle states (spec.md §4.G).
type State int

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Job is one worker awaiting teardown, carrying the per-pool t_wait grace
// period to apply at each escalation step.
type Job struct {
	Worker  *worker.Spawned
	TWaitMs int
	// PoolName is used only for logging.
	PoolName string
}

// PoolView is the minimal interface a pool exposes to the reaper so it can
// compute idle wakeups without the reaper importing pool.
type PoolView interface {
	// Name identifies the pool for logging.
	Name() string
	// IdleTimeoutMs returns the pool's current t_idle; 0 disables idle reaping.
	IdleTimeoutMs() int
	// DetachExpired removes from the pool's free list every worker whose
	// idle-expiry is at or before now, and returns them as close Jobs.
	DetachExpired(now time.Time) []Job
	// EarliestIdleExpiry returns the soonest expiry timestamp among the
	// pool's idle attached workers, and whether any such worker exists.
	EarliestIdleExpiry() (time.Time, bool)
}

// PoolLister supplies the current set of pools each time the reaper wakes,
// so newly registered pools are picked up without restarting the reaper.
type PoolLister func() []PoolView

// Reaper owns the close list and the background goroutine that drains it.
type Reaper struct {
	log *logrus.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	state State

	closeList mpmc.RichOverlappedRingBuffer[Job]
	wake      *ringchan.RingChannel[struct{}]
	stopped   chan struct{}
}

// New constructs a Reaper in the Stopped state. The background loop is
// started by the first Enqueue.
func New(log *logrus.Logger) *Reaper {
	if log == nil {
		log = logrus.New()
	}
	r := &Reaper{
		log:       log,
		state:     Stopped,
		closeList: mpmc.NewOverlappedRingBuffer[Job](closeListCapacity),
		wake:      ringchan.New[struct{}](1),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Enqueue appends a worker to the close list and wakes the reaper, starting
// it first if necessary.
func (r *Reaper) Enqueue(job Job, pools PoolLister) {
	if _, err := r.closeList.EnqueueM(job); err != nil {
		r.log.WithError(err).Error("reaper: close list enqueue failed, worker leaked")
	}
	r.ensureRunning(pools)
	r.signal()
}

// ensureRunning starts the background loop if it is not already running.
func (r *Reaper) ensureRunning(pools PoolLister) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Stopped {
		return
	}
	r.state = Running
	r.stopped = make(chan struct{})
	groutine.Go(context.Background(), "reaper-loop", func(context.Context) { r.loop(pools) })
}

func (r *Reaper) signal() {
	r.wake.Send(struct{}{})
}

// Stop requests the reaper drain its close list and exit, blocking until it
// reaches Stopped (or waitFor elapses).
func (r *Reaper) Stop(waitFor time.Duration) bool {
	r.mu.Lock()
	if r.state == Stopped {
		r.mu.Unlock()
		return true
	}
	if r.state == Running {
		r.state = Stopping
	}
	stopped := r.stopped
	r.mu.Unlock()

	r.signal()

	select {
	case <-stopped:
		return true
	case <-time.After(waitFor):
		return false
	}
}

// State reports the reaper's current lifecycle state.
func (r *Reaper) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// loop is the reaper's body (spec.md §4.G). It runs until the close list is
// drained and no pool has work remaining while in the Stopping state.
func (r *Reaper) loop(pools PoolLister) {
	r.log.WithField("gid", groutine.GetGID()).Debug("reaper: loop started")
	defer func() {
		r.mu.Lock()
		r.state = Stopped
		close(r.stopped)
		r.mu.Unlock()
	}()

	for {
		if r.closeList.IsEmpty() {
			wakeAt, anyExpired := r.detachExpiredAcrossPools(pools)
			if !r.closeList.IsEmpty() {
				continue
			}
			if r.shouldStop() {
				return
			}
			if anyExpired {
				continue
			}
			r.sleepUntil(wakeAt)
			if r.shouldStop() && r.closeList.IsEmpty() {
				return
			}
			continue
		}

		job, err := r.closeList.Dequeue()
		if err != nil {
			continue
		}
		r.closeOne(job)
	}
}

func (r *Reaper) shouldStop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == Stopping
}

// detachExpiredAcrossPools scans every pool once, moving idle-expired
// workers onto the close list, and returns the earliest next wakeup.
func (r *Reaper) detachExpiredAcrossPools(pools PoolLister) (time.Time, bool) {
	if pools == nil {
		return time.Time{}, false
	}
	now := time.Now()
	var earliest time.Time
	haveWakeup := false
	anyExpired := false

	for _, p := range pools() {
		for _, job := range p.DetachExpired(now) {
			if _, err := r.closeList.EnqueueM(job); err != nil {
				r.log.WithError(err).Error("reaper: close list enqueue failed during idle scan")
				continue
			}
			anyExpired = true
		}
		if p.IdleTimeoutMs() <= 0 {
			continue
		}
		if expiry, ok := p.EarliestIdleExpiry(); ok {
			if !haveWakeup || expiry.Before(earliest) {
				earliest = expiry
				haveWakeup = true
			}
		}
	}
	if !haveWakeup {
		return time.Time{}, anyExpired
	}
	return earliest, anyExpired
}

// sleepUntil blocks until wakeAt (or forever if the zero value, i.e. no pool
// has t_idle configured), or until Enqueue/Stop signals the wake channel.
func (r *Reaper) sleepUntil(wakeAt time.Time) {
	if wakeAt.IsZero() {
		r.wake.Receive()
		return
	}
	d := time.Until(wakeAt)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-r.wake.C():
	}
}

// closeOne runs the wait -> SIGTERM -> wait -> SIGKILL -> wait -> log+abandon
// escalation of spec.md §4.G step 3. It is robust against the child having
// already exited at any step.
func (r *Reaper) closeOne(job Job) {
	w := job.Worker
	grace := time.Duration(job.TWaitMs) * time.Millisecond

	logEntry := r.log.WithFields(logrus.Fields{"pool": job.PoolName, "pid": w.PID})

	if r.waitExit(w, grace) {
		r.finish(w, logEntry)
		return
	}

	if err := unix.Kill(w.PID, unix.SIGTERM); err != nil && err != unix.ESRCH {
		logEntry.WithError(err).Warn("reaper: SIGTERM failed")
	}
	if r.waitExit(w, grace) {
		r.finish(w, logEntry)
		return
	}

	if err := unix.Kill(w.PID, unix.SIGKILL); err != nil && err != unix.ESRCH {
		logEntry.WithError(err).Warn("reaper: SIGKILL failed")
	}
	if r.waitExit(w, grace) {
		r.finish(w, logEntry)
		return
	}

	logEntry.Error("reaper: worker did not exit after SIGKILL, abandoning as zombie")
	w.Close()
}

// waitExit waits up to grace for the worker's stdout pipe to become
// readable, which per spec.md §4.G signals the worker has exited (EOF on
// its write end); the protocol never produces an unsolicited reply while
// the worker sits on the close list.
func (r *Reaper) waitExit(w *worker.Spawned, grace time.Duration) bool {
	deadline := time.Time{}
	if grace > 0 {
		deadline = time.Now().Add(grace)
	}
	err := wire.WaitReadable(w.Stdout, deadline)
	return err == nil || errors.Is(err, wire.ErrClosed)
}

func (r *Reaper) finish(w *worker.Spawned, log *logrus.Entry) {
	if err := w.Close(); err != nil {
		log.WithError(err).Warn("reaper: error closing worker descriptors")
	}
	var ws unix.WaitStatus
	_, err := unix.Wait4(w.PID, &ws, unix.WNOHANG, nil)
	if err != nil && err != unix.ECHILD {
		log.WithError(err).Debug("reaper: wait4 after close")
	}
	if ws.Signaled() {
		log.WithField("signal", ws.Signal()).Info("reaper: worker terminated by signal")
	} else {
		log.WithField("exit_status", ws.ExitStatus()).Info("reaper: worker exited")
	}
}
