package safepoint

import (
	"errors"
	"sync"
)

var errThreadTableFull = errors.New("safepoint: thread table full")

// Coordinator drives stop-the-world, the Go counterpart of threads.c's
// cast_stopworld/cast_startworld pair.
type Coordinator struct {
	table *ThreadTable
	sig   Signaler

	mu     sync.Mutex // serializes stop-the-world sessions, like stopworldlock
	reason Reason
}

// Signaler sends a best-effort OS-level nudge to a thread blocked in a
// syscall, standing in for threads.c's cast_sendsignals. signal_linux.go's
// UnixSignaler is the real implementation; tests use one that only records
// the calls, since the
// actual rendezvous below does not depend on the signal being delivered
// promptly — only on the polling thread eventually reaching a checkpoint.
type Signaler interface {
	Signal(osTid int32)
}

type noopSignaler struct{}

func (noopSignaler) Signal(int32) {}

// NewCoordinator builds a Coordinator over table. A nil sig disables the
// OS-signal nudge and relies solely on cooperative polling.
func NewCoordinator(table *ThreadTable, sig Signaler) *Coordinator {
	if sig == nil {
		sig = noopSignaler{}
	}
	return &Coordinator{table: table, sig: sig}
}

// StopTheWorld implements cast_stopworld: post a checkpoint to every
// running thread, nudge each one, and block until all have acknowledged.
// The returned Session's Resume must be called exactly once to restart
// the stopped threads (cast_startworld) and release the stop-world lock.
func (c *Coordinator) StopTheWorld(reason Reason) *Session {
	c.mu.Lock()
	c.reason = reason

	var stopped []*ThreadState
	c.table.ForEachRunning(func(ts *ThreadState) {
		ts.resume = make(chan struct{})
		stopped = append(stopped, ts)
		ts.checkpoint <- reason
		c.sig.Signal(ts.OSTid)
	})

	for _, ts := range stopped {
		<-ts.ack
	}

	return &Session{coord: c, stopped: stopped}
}

// Session represents one in-progress stop-the-world pause.
type Session struct {
	coord   *Coordinator
	stopped []*ThreadState
}

// Resume implements cast_startworld: release every paused thread and drop
// the stop-world lock.
func (s *Session) Resume() {
	for _, ts := range s.stopped {
		close(ts.resume)
	}
	s.coord.reason = 0
	s.coord.mu.Unlock()
}

// PollSafepoint is what a compiled method's loop-back-edge / call-return
// safepoint check invokes (spec.md §9's cooperative substitution for a
// hardware-trapped polling-page read: "on platforms without reliable
// signals, substitute a cooperative safepoint polling scheme"). It returns
// immediately if no stop is in progress; otherwise it acknowledges and
// blocks until the coordinator calls Resume.
func (ts *ThreadState) PollSafepoint() {
	select {
	case <-ts.checkpoint:
	default:
		return
	}
	ts.ack <- struct{}{}
	<-ts.resume
}
