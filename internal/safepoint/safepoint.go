// Package safepoint implements spec.md §5's stop-the-world coordination,
// supplemented by original_source/src/threads/native/threads.c's
// cast_stopworld/cast_startworld (the CACAO JVM this spec traces to) and
// threadlist.hpp's fixed active/free thread-list split.
//
// threads.c signals every thread directly and waits on a counting
// semaphore (sem_wait(&suspend_ack) once per acknowledging thread); a Go
// goroutine cannot be interrupted mid-instruction the way a POSIX thread
// can without cgo, so the coordination here is cooperative polling (the
// substitution spec.md §9's DESIGN NOTES explicitly sanctions: "on
// platforms without reliable signals, substitute a cooperative safepoint
// polling scheme"). golang.org/x/sys/unix is still wired in
// (signal_linux.go) to send each registered thread's OS thread a real
// signal as a best-effort nudge out of a blocking syscall; the actual
// rendezvous is the checkpoint channel below, not the signal itself —
// recorded as a deliberate, documented simplification rather than a
// silent one.
package safepoint

import (
	"sync"
)

// Reason distinguishes why the world is being stopped, mirroring
// stopworldwhere's "where" values in threads.c (1 = GC, 2 = class
// numbering); only ReasonGC is exercised by this core, per SPEC_FULL.md §2.
type Reason int

const (
	ReasonGC Reason = iota + 1
	ReasonDebugger
)

// ThreadID identifies a registered guest thread. Shared in spirit with
// monitor.ThreadID (both are plain int64 identifiers supplied by the
// caller, e.g. to ThreadTable.Register, not assigned by either package), kept
// as a distinct type here so safepoint has no import-time dependency on
// monitor.
type ThreadID int64

// maxThreads bounds ThreadTable the way threadlist.hpp's MAXTHREADS does:
// a fixed-capacity registry rather than unbounded growth.
const maxThreads = 4096

// ThreadState is one registered thread's safepoint bookkeeping.
type ThreadState struct {
	ID    ThreadID
	OSTid int32 // captured via unix.Gettid() at Register time; see signal_linux.go

	running    bool
	checkpoint chan Reason
	ack        chan struct{}
	resume     chan struct{}
}

// ThreadTable is the registry threadlist.hpp describes: active threads,
// a free-index list for recycled slots, guarded by one mutex.
type ThreadTable struct {
	mu     sync.Mutex
	slots  [maxThreads]*ThreadState
	active []int
	free   []int
}

// NewThreadTable returns an empty, fully-free table.
func NewThreadTable() *ThreadTable {
	t := &ThreadTable{}
	t.free = make([]int, maxThreads)
	for i := range t.free {
		t.free[i] = maxThreads - 1 - i
	}
	return t
}

// Register assigns id a table slot and returns its ThreadState. Threads in
// state NEW (not yet registered) are, per spec.md §5, skipped by
// stop-the-world because their stacks are not yet meaningful — which
// falls out here automatically, since an unregistered thread has no
// ThreadState for ForEachRunning to visit.
func (t *ThreadTable) Register(id ThreadID, osTid int32) (*ThreadState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.free) == 0 {
		return nil, errThreadTableFull
	}
	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	ts := &ThreadState{
		ID:         id,
		OSTid:      osTid,
		running:    true,
		checkpoint: make(chan Reason, 1),
		ack:        make(chan struct{}, 1),
		resume:     make(chan struct{}),
	}
	t.slots[idx] = ts
	t.active = append(t.active, idx)
	return ts, nil
}

// Unregister removes id from the active list and recycles its slot.
func (t *ThreadTable) Unregister(id ThreadID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, idx := range t.active {
		if t.slots[idx] != nil && t.slots[idx].ID == id {
			t.active = append(t.active[:i], t.active[i+1:]...)
			t.slots[idx] = nil
			t.free = append(t.free, idx)
			return
		}
	}
}

// ForEachRunning calls fn once for every currently-registered thread. fn
// must not call Register/Unregister.
func (t *ThreadTable) ForEachRunning(fn func(*ThreadState)) {
	t.mu.Lock()
	states := make([]*ThreadState, 0, len(t.active))
	for _, idx := range t.active {
		states = append(states, t.slots[idx])
	}
	t.mu.Unlock()
	for _, ts := range states {
		fn(ts)
	}
}
