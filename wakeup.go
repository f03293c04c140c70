//go:build !windows

package reactor

import (
	"golang.org/x/sys/unix"
)

// wakeup is the self-pipe used to break the multiplexer out of a blocking
// Wait from a signal handler, another goroutine's Stop call, or any API
// that must interrupt the loop. Mirrors the purpose of eventloop's
// createWakeFd/drainWakeUpPipe, implemented portably with a pipe(2) pair
// rather than Linux-only eventfd, since this reactor also targets the
// poll(2) backend on non-Linux Unix.
type wakeup struct {
	readFD  int
	writeFD int
}

func newWakeup() (*wakeup, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, &IOError{Op: "pipe2", Cause: err}
	}
	return &wakeup{readFD: fds[0], writeFD: fds[1]}, nil
}

// signal writes one byte to the pipe. Safe to call from a signal handler:
// it performs a single non-blocking write syscall and nothing else. A full
// pipe buffer (meaning a wakeup is already pending) is not an error.
func (w *wakeup) signal() {
	var b [1]byte
	b[0] = 1
	_, _ = unix.Write(w.writeFD, b[:])
}

// drain empties the pipe. Called at the start of each iteration's timer
// step, before any user FD event is dispatched.
func (w *wakeup) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.readFD, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (w *wakeup) close() error {
	_ = unix.Close(w.writeFD)
	return unix.Close(w.readFD)
}
