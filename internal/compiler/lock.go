package compiler

import (
	"sync"

	"jitvm/internal/monitor"
)

// reentrantLock is the compiler-wide lock §4.1 and §4.6 both refer to: a
// single mutex any thread may re-acquire while it already holds it,
// because resolving a call target at patch time (Driver.Trap ->
// ClassLoader.ResolveMethod -> Driver.Compile) can, for a callee compiled
// eagerly rather than lazily, reach back into Compile on the same logical
// thread that is already inside it. sync.Mutex is not reentrant, so the
// owner is tracked explicitly by the caller-supplied thread identity
// (monitor.ThreadID, the same currency internal/monitor's own lock
// records use) rather than by goroutine, since Go exposes no stable
// per-goroutine identity to compare against.
type reentrantLock struct {
	cond  *sync.Cond
	mu    sync.Mutex
	owner monitor.ThreadID
	held  bool
	depth int
}

func newReentrantLock() *reentrantLock {
	l := &reentrantLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Lock acquires the lock for thread, blocking only if it is held by a
// different thread. A thread that already holds it just increments depth.
func (l *reentrantLock) Lock(thread monitor.ThreadID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.held && l.owner != thread {
		l.cond.Wait()
	}
	l.owner = thread
	l.held = true
	l.depth++
}

// Unlock releases one level of recursion; the lock is only actually
// released, waking any blocked thread, once depth returns to zero.
func (l *reentrantLock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.depth--
	if l.depth == 0 {
		l.held = false
		l.cond.Broadcast()
	}
}
