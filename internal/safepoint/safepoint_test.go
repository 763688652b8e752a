package safepoint

import (
	"testing"
	"time"
)

type recordingSignaler struct {
	signaled []int32
}

func (r *recordingSignaler) Signal(osTid int32) { r.signaled = append(r.signaled, osTid) }

func TestRegisterUnregisterForEachRunning(t *testing.T) {
	tbl := NewThreadTable()
	a, err := tbl.Register(1, 100)
	if err != nil {
		t.Fatalf("Register(1): %v", err)
	}
	if _, err := tbl.Register(2, 200); err != nil {
		t.Fatalf("Register(2): %v", err)
	}

	var seen []ThreadID
	tbl.ForEachRunning(func(ts *ThreadState) { seen = append(seen, ts.ID) })
	if len(seen) != 2 {
		t.Fatalf("ForEachRunning saw %d threads, want 2", len(seen))
	}

	tbl.Unregister(a.ID)
	seen = nil
	tbl.ForEachRunning(func(ts *ThreadState) { seen = append(seen, ts.ID) })
	if len(seen) != 1 || seen[0] != 2 {
		t.Fatalf("after Unregister(1), ForEachRunning saw %v, want [2]", seen)
	}
}

func TestStopTheWorldWaitsForEveryAck(t *testing.T) {
	tbl := NewThreadTable()
	ts1, _ := tbl.Register(1, 11)
	ts2, _ := tbl.Register(2, 22)

	sig := &recordingSignaler{}
	coord := NewCoordinator(tbl, sig)

	for _, ts := range []*ThreadState{ts1, ts2} {
		go func(ts *ThreadState) {
			for i := 0; i < 200; i++ {
				ts.PollSafepoint()
				time.Sleep(time.Millisecond)
			}
		}(ts)
	}

	done := make(chan *Session, 1)
	go func() {
		done <- coord.StopTheWorld(ReasonGC)
	}()

	var session *Session
	select {
	case session = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StopTheWorld never returned: at least one thread failed to acknowledge")
	}

	if len(sig.signaled) != 2 {
		t.Errorf("signaled %d threads, want 2", len(sig.signaled))
	}

	session.Resume()
}

func TestPollSafepointReturnsImmediatelyWithNoPendingStop(t *testing.T) {
	tbl := NewThreadTable()
	ts, _ := tbl.Register(1, 1)

	done := make(chan struct{})
	go func() {
		ts.PollSafepoint()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PollSafepoint blocked with no stop-the-world in progress")
	}
}
