package reactor

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// SignalID identifies one watch_signal registration, for UnwatchSignal.
type SignalID uint64

// signalRouter captures OS signal delivery and replays it synchronously on
// the reactor goroutine. The narrowest possible asynchronous code - here,
// Go's runtime signal-to-channel plumbing via os/signal, which is itself
// async-signal-safe by construction - sets a pending flag and wakes the
// reactor; all user dispatch happens later, in drain.
type signalRouter struct {
	mu       sync.Mutex
	osCh     chan os.Signal
	pending  map[os.Signal]bool
	handlers map[os.Signal]map[SignalID]func()
	nextID   SignalID
	wake     *wakeup
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newSignalRouter(w *wakeup) *signalRouter {
	r := &signalRouter{
		osCh:     make(chan os.Signal, 64),
		pending:  make(map[os.Signal]bool),
		handlers: make(map[os.Signal]map[SignalID]func()),
		wake:     w,
		stopCh:   make(chan struct{}),
	}
	go r.pump()
	return r
}

// pump is the one background goroutine in the reactor: it translates
// delivered signals into pending-set entries and wakes the loop. It never
// invokes user code.
func (r *signalRouter) pump() {
	for {
		select {
		case sig := <-r.osCh:
			r.mu.Lock()
			r.pending[sig] = true
			r.mu.Unlock()
			r.wake.signal()
		case <-r.stopCh:
			return
		}
	}
}

// watch attaches handler to sig, installing the OS disposition on the
// first attach for that signal.
func (r *signalRouter) watch(sig os.Signal, handler func()) SignalID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers[sig] == nil {
		r.handlers[sig] = make(map[SignalID]func())
		signal.Notify(r.osCh, sig)
	}
	r.nextID++
	id := r.nextID
	r.handlers[sig][id] = handler
	return id
}

// unwatch detaches a handler previously returned by watch. Detaching the
// last handler for a signal restores the default disposition (os/signal's
// Reset semantics - the closest portable equivalent to "restore the prior
// disposition captured at install time").
func (r *signalRouter) unwatch(sig os.Signal, id SignalID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.handlers[sig]
	if m == nil {
		return
	}
	delete(m, id)
	if len(m) == 0 {
		delete(r.handlers, sig)
		signal.Reset(sig)
	}
}

// drainPending clears the pending set and returns, exactly once per signal
// name that was pending, every handler attached to that name - regardless
// of how many physical deliveries occurred between iterations. The caller
// is expected to invoke each returned handler itself (through whatever
// panic-recovery wrapper the reactor's iteration uses).
func (r *signalRouter) drainPending() []func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fired := make([]os.Signal, 0, len(r.pending))
	for sig, was := range r.pending {
		if was {
			fired = append(fired, sig)
		}
	}
	r.pending = make(map[os.Signal]bool)
	var toRun []func()
	for _, sig := range fired {
		for _, h := range r.handlers[sig] {
			toRun = append(toRun, h)
		}
	}
	return toRun
}

func (r *signalRouter) close() {
	r.stopOnce.Do(func() {
		signal.Stop(r.osCh)
		close(r.stopCh)
	})
}

// Raise sends sig to the current process, for tests that exercise signal
// delivery end to end without depending on an external `kill` invocation.
func Raise(sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return fmt.Errorf("reactor: Raise: %v is not a syscall.Signal", sig)
	}
	return unix.Kill(os.Getpid(), unix.Signal(s))
}
