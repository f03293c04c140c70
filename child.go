package reactor

import (
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// ChildStatus carries a reaped child's exit status.
type ChildStatus struct {
	Pid    int
	Code   int
	Signal string
}

// childReaper tracks spawned PIDs and reaps them via non-blocking waitpid
// whenever SIGCHLD is pending. One reaper exists per process: if multiple
// reactors share a process, their child-watch tables must not overlap, so
// childReaper is keyed globally by PID registration, not per-Reactor
// state.
type childReaper struct {
	mu       sync.Mutex
	watchers map[int]func(ChildStatus)
}

func newChildReaper() *childReaper {
	return &childReaper{watchers: make(map[int]func(ChildStatus))}
}

func (c *childReaper) watch(pid int, handler func(ChildStatus)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers[pid] = handler
}

// unwatch drops pid's callback but keeps the PID in the table, so it is
// still reaped on exit.
func (c *childReaper) unwatch(pid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.watchers[pid]; ok {
		c.watchers[pid] = nil
	}
}

// reap performs a non-blocking waitpid across every watched PID, removing
// entries as it observes them exited, and returns the callbacks to invoke
// (pid, status) pairs - the reaper always performs the reap even when no
// handler is registered, to avoid leaving zombies.
func (c *childReaper) reap() []func() {
	c.mu.Lock()
	pids := make([]int, 0, len(c.watchers))
	for pid := range c.watchers {
		pids = append(pids, pid)
	}
	c.mu.Unlock()

	var toRun []func()
	for _, pid := range pids {
		var ws unix.WaitStatus
		got, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		if err != nil || got != pid {
			continue
		}
		status := ChildStatus{Pid: pid}
		switch {
		case ws.Exited():
			status.Code = ws.ExitStatus()
		case ws.Signaled():
			status.Code = -1
			status.Signal = ws.Signal().String()
		default:
			// stopped/continued notifications are not a terminal
			// exit; keep watching.
			continue
		}

		c.mu.Lock()
		handler, ok := c.watchers[pid]
		delete(c.watchers, pid)
		c.mu.Unlock()

		if ok && handler != nil {
			h := handler
			s := status
			toRun = append(toRun, func() { h(s) })
		}
	}
	return toRun
}

// sigchldSignal is syscall.SIGCHLD as an os.Signal, for watch_signal-based
// wiring of the reaper into the reactor's pending-signal set.
var sigchldSignal os.Signal = syscall.SIGCHLD
