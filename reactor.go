package reactor

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Standard errors for loop-lifecycle failures.
var (
	// ErrReactorClosed is returned by operations attempted on a closed
	// Reactor.
	ErrReactorClosed = errors.New("reactor: closed")
	// ErrReentrantRun is returned when Run/RunOnce is called from within
	// a callback already executing on the reactor goroutine.
	ErrReentrantRun = errors.New("reactor: cannot call Run from within the reactor")
)

// ioRegistration holds the combined readiness handler for one FD,
// registered via watchIO. Read-before-write ordering within one event is
// implemented by dispatchIO, not by the multiplexer.
type ioRegistration struct {
	handler func(IOEvents)
}

// Reactor is the event-loop core: it owns the timer queue, signal router,
// child reaper, I/O multiplexer, the tree of registered notifiers, and a
// FIFO of deferred callbacks, all driven from a single goroutine.
type Reactor struct {
	log     *Logger
	mux     Multiplexer
	wake    *wakeup
	timers  *timerQueue
	signals *signalRouter
	reaper  *childReaper

	notifiers map[Notifier]struct{}
	ioRegs    map[int]*ioRegistration

	deferredMu sync.Mutex
	deferred   []func()

	metricsEnabled bool
	metrics        Metrics

	closed    atomic.Bool
	stopFlag  atomic.Bool
	onGoroutine bool // set only while RunOnce executes, to detect reentrancy

	firstHandlerErr error

	childSigID      SignalID
	childReapNeeded atomic.Bool
}

// New constructs a Reactor, installing its wakeup pipe, default
// multiplexer, timer queue, signal router, and child reaper.
func New(opts ...ReactorOption) (*Reactor, error) {
	cfg := resolveReactorOptions(opts)

	w, err := newWakeup()
	if err != nil {
		return nil, err
	}

	mux := cfg.multiplexer
	if mux == nil {
		mux, err = newMultiplexer()
		if err != nil {
			_ = w.close()
			return nil, err
		}
	}
	if err := mux.Add(w.readFD, EventReadable); err != nil {
		_ = mux.Close()
		_ = w.close()
		return nil, err
	}

	log := cfg.logger
	if log == nil {
		log = newDefaultLogger()
	}

	r := &Reactor{
		log:            log,
		mux:            mux,
		wake:           w,
		timers:         newTimerQueue(),
		signals:        newSignalRouter(w),
		reaper:         newChildReaper(),
		notifiers:      make(map[Notifier]struct{}),
		ioRegs:         make(map[int]*ioRegistration),
		metricsEnabled: cfg.metrics,
	}

	// SIGCHLD delivery is translated into a reap pass on the reactor
	// goroutine, same as every other signal.
	r.childSigID = r.signals.watch(sigchldSignal, r.dispatchChildReap)

	log.Debug().Log("reactor started")
	return r, nil
}

// Register establishes membership for n (and transitively, its children).
// Fails with ErrAlreadyRegistered if n already belongs to a reactor.
func (r *Reactor) Register(n Notifier) error {
	return r.registerTree(n)
}

func (r *Reactor) registerTree(n Notifier) error {
	b := n.base()
	if b.reactor != nil {
		return ErrAlreadyRegistered
	}
	b.reactor = r
	r.notifiers[n] = struct{}{}
	if err := n.added(r); err != nil {
		delete(r.notifiers, n)
		b.reactor = nil
		return err
	}
	for _, c := range b.children {
		if err := r.registerTree(c); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes n and its children from the reactor.
func (r *Reactor) Unregister(n Notifier) {
	r.unregisterTree(n)
}

func (r *Reactor) unregisterTree(n Notifier) {
	b := n.base()
	if b.reactor != r {
		return
	}
	for _, c := range b.children {
		r.unregisterTree(c)
	}
	delete(r.notifiers, n)
	n.removed()
	b.reactor = nil
}

// watchIO registers fd for mask, invoking handler on readiness. Idempotent
// per (fd, edge): calling watchIO again for an already-registered fd
// updates its mask and handler.
func (r *Reactor) watchIO(fd int, mask IOEvents, handler func(IOEvents)) error {
	if _, ok := r.ioRegs[fd]; ok {
		r.ioRegs[fd].handler = handler
		return r.mux.Modify(fd, mask)
	}
	r.ioRegs[fd] = &ioRegistration{handler: handler}
	return r.mux.Add(fd, mask)
}

// modifyIO updates the interest mask for an already-registered fd.
func (r *Reactor) modifyIO(fd int, mask IOEvents) error {
	return r.mux.Modify(fd, mask)
}

// unwatchIO removes fd from the multiplexer. Idempotent.
func (r *Reactor) unwatchIO(fd int) error {
	delete(r.ioRegs, fd)
	return r.mux.Remove(fd)
}

// WatchTime schedules callback to run no earlier than after has elapsed.
func (r *Reactor) WatchTime(after time.Duration, callback func()) TimerID {
	return r.WatchDeadline(time.Now().Add(after), callback)
}

// WatchDeadline schedules callback to run no earlier than deadline.
func (r *Reactor) WatchDeadline(deadline time.Time, callback func()) TimerID {
	return r.timers.enqueue(deadline, callback)
}

// UnwatchTime cancels a timer previously scheduled with WatchTime or
// WatchDeadline. Cancelling an already-fired or unknown id is a no-op.
func (r *Reactor) UnwatchTime(id TimerID) {
	r.timers.cancel(id)
}

// Reschedule updates an existing timer's deadline in place.
func (r *Reactor) Reschedule(id TimerID, deadline time.Time) bool {
	return r.timers.reschedule(id, deadline)
}

// WatchSignal attaches handler to sig, to be invoked on the reactor
// goroutine the first iteration after sig is observed pending.
func (r *Reactor) WatchSignal(sig os.Signal, handler func()) SignalID {
	return r.signals.watch(sig, handler)
}

// UnwatchSignal detaches a handler previously returned by WatchSignal.
func (r *Reactor) UnwatchSignal(sig os.Signal, id SignalID) {
	r.signals.unwatch(sig, id)
}

// WatchChild registers handler to be invoked with (pid, exit status) once
// pid is reaped. Reaping happens whenever SIGCHLD fires, and covers only
// PIDs that were passed to WatchChild (a nil handler still gets the PID
// reaped); PIDs never passed to WatchChild are not reaped by the reactor.
func (r *Reactor) WatchChild(pid int, handler func(ChildStatus)) {
	r.reaper.watch(pid, handler)
}

// UnwatchChild removes a child watch. The PID is still reaped on exit;
// only the callback is suppressed.
func (r *Reactor) UnwatchChild(pid int) {
	r.reaper.unwatch(pid)
}

// Defer enqueues callback to run before the next multiplexer wait returns
// to blocking - i.e. on this iteration's finalization step if newly
// deferred during the same iteration's dispatch, or on the next iteration
// if deferred between iterations. A zero-delay Defer never runs
// synchronously.
func (r *Reactor) Defer(callback func()) {
	r.deferredMu.Lock()
	r.deferred = append(r.deferred, callback)
	r.deferredMu.Unlock()
	r.wake.signal()
}

// Stop requests the loop to halt after the current iteration. Safe to call
// from any callback, any goroutine, or a signal handler.
func (r *Reactor) Stop() {
	r.stopFlag.Store(true)
	r.wake.signal()
}

// Close releases the reactor's OS resources (multiplexer, wakeup pipe,
// signal pump). Close is idempotent.
func (r *Reactor) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.signals.unwatch(sigchldSignal, r.childSigID)
	r.signals.close()
	errMux := r.mux.Close()
	errWake := r.wake.close()
	if errMux != nil {
		return errMux
	}
	return errWake
}

// Run repeatedly calls RunOnce, with an indefinite multiplexer wait, until
// Stop is called or RunOnce returns an error.
func (r *Reactor) Run() error {
	for !r.stopFlag.Load() {
		if err := r.RunOnce(-1); err != nil {
			return err
		}
	}
	r.stopFlag.Store(false)
	return nil
}

// Await iterates the reactor until f is settled, then returns f's error
// (nil if resolved, the rejection reason otherwise).
func (r *Reactor) Await(f *Future) error {
	for f.State() == FuturePending {
		if err := r.RunOnce(-1); err != nil {
			return err
		}
	}
	if f.State() == FutureFailed {
		return f.Err()
	}
	return nil
}

// AwaitAll iterates the reactor until every future in fs is settled.
func (r *Reactor) AwaitAll(fs ...*Future) error {
	for _, f := range fs {
		if err := r.Await(f); err != nil {
			return err
		}
	}
	return nil
}

// Async runs fn on a separate goroutine and resolves the returned Future
// back on the reactor goroutine via Defer, once fn completes - the bridge
// between blocking work (e.g. a DNS resolve) and the single-threaded loop,
// modeled on eventloop's Loop.Promisify.
func (r *Reactor) Async(fn func() (any, error)) *Future {
	f := newFuture()
	go func() {
		v, err := fn()
		r.Defer(func() {
			if err != nil {
				f.fail(err)
			} else {
				f.done(v)
			}
		})
	}()
	return f
}

// clampTimeout clamps a negative duration to zero.
func clampTimeout(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// RunOnce runs a single iteration, blocking in the multiplexer for up to
// timeout (a negative timeout blocks indefinitely, subject to
// timers/deferred work shortening it).
func (r *Reactor) RunOnce(timeout time.Duration) error {
	if r.onGoroutine {
		return ErrReentrantRun
	}
	if r.closed.Load() {
		return ErrReactorClosed
	}
	r.onGoroutine = true
	defer func() { r.onGoroutine = false }()

	r.firstHandlerErr = nil

	// Step 1+2: effective timeout.
	effective := timeout
	r.deferredMu.Lock()
	hasDeferred := len(r.deferred) > 0
	r.deferredMu.Unlock()
	if hasDeferred {
		effective = 0
	} else if d, ok := r.timers.nextDeadline(); ok {
		until := clampTimeout(time.Until(d))
		if effective < 0 || until < effective {
			effective = until
		}
	}

	// Step 3: block in the multiplexer.
	events, err := r.mux.Wait(effective)
	if err != nil {
		return err
	}

	// The wakeup pipe is drained at the start of timer handling, so a
	// signal/Stop/Defer wakeup is never mistaken for a spurious user FD
	// event.
	r.wake.drain()

	now := time.Now()

	// Step 4: expired timers, in deadline order.
	due := r.timers.popDue(now)
	for _, e := range due {
		r.runHandler(e.callback)
	}
	if r.metricsEnabled {
		r.metrics.TimersFired += uint64(len(due))
	}

	// Step 5: FD readiness dispatch, read before write per event.
	for _, ev := range events {
		reg, ok := r.ioRegs[ev.FD]
		if !ok || reg.handler == nil {
			continue
		}
		r.dispatchIO(reg, ev.Events)
	}

	// Step 6: drain pending signals.
	for _, h := range r.signals.drainPending() {
		r.runHandler(h)
	}

	// Step 7: reap exited children, but only when SIGCHLD was observed
	// pending: the reaper iterates non-blocking waitpid across every PID
	// in the child-watch table.
	if r.childReapNeeded.CompareAndSwap(true, false) {
		for _, h := range r.reaper.reap() {
			r.runHandler(h)
		}
	}

	// Step 8: drain the deferred FIFO, snapshotting first so callbacks
	// deferred during this drain run on the next iteration.
	r.deferredMu.Lock()
	batch := r.deferred
	r.deferred = nil
	r.deferredMu.Unlock()
	for _, cb := range batch {
		r.runHandler(cb)
	}

	if r.metricsEnabled {
		r.metrics.Iterations++
	}

	return r.firstHandlerErr
}

// dispatchChildReap is registered as the SIGCHLD handler (run during step
// 6's signal dispatch); it only flags that a reap pass is due in step 7,
// since the reap itself must run after signals are fully drained.
func (r *Reactor) dispatchChildReap() {
	r.childReapNeeded.Store(true)
}

func (r *Reactor) dispatchIO(reg *ioRegistration, events IOEvents) {
	if events&EventReadable != 0 {
		r.runHandler(func() { reg.handler(EventReadable) })
	}
	writeOrOther := events &^ EventReadable
	if writeOrOther != 0 {
		r.runHandler(func() { reg.handler(writeOrOther) })
	}
}

// runHandler invokes cb, recovering a panic into the first-reported
// iteration error. A handler that panics does not abort the iteration;
// remaining handlers still run.
func (r *Reactor) runHandler(cb func()) {
	if r.metricsEnabled {
		r.metrics.HandlersRun++
	}
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("reactor: handler panicked: %v", rec)
			if r.firstHandlerErr == nil {
				r.firstHandlerErr = err
			}
			r.log.Err().Err(err).Log("recovered from handler panic")
		}
	}()
	cb()
}

// Logger returns the reactor's structured logger, for components built on
// top of it (Stream, Listener, the workerpool) to share.
func (r *Reactor) Logger() *Logger { return r.log }
