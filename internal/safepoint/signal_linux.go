//go:build linux

package safepoint

import (
	"golang.org/x/sys/unix"
)

// UnixSignaler nudges a thread blocked in a syscall with a real signal via
// tgkill, the same delivery primitive threads.c's cast_sendsignals uses
// (pthread_kill, POSIX's tgkill equivalent). SIGURG is chosen because it
// is the signal Go's own runtime already treats as an ignorable
// preemption nudge (see runtime.sigtable), so it does not collide with a
// host application's own signal handling the way SIGUSR1 might.
type UnixSignaler struct {
	Pid int
}

// NewUnixSignaler captures the current process ID once at startup.
func NewUnixSignaler() *UnixSignaler {
	return &UnixSignaler{Pid: unix.Getpid()}
}

func (s *UnixSignaler) Signal(osTid int32) {
	if osTid <= 0 {
		return
	}
	_ = unix.Tgkill(s.Pid, int(osTid), unix.SIGURG)
}

// Gettid returns the calling OS thread's id, captured at thread
// registration time so StopTheWorld can target it with Signal.
func Gettid() int32 {
	return int32(unix.Gettid())
}
