package reactor

import (
	"sync"
	"time"
)

// FutureState is the lifecycle state of a Future. Transitions are
// monotonic: pending -> {done, failed, cancelled}, never backwards.
type FutureState int

const (
	// FuturePending indicates the future has not yet settled.
	FuturePending FutureState = iota
	// FutureDone indicates the future resolved successfully.
	FutureDone
	// FutureFailed indicates the future rejected with an error.
	FutureFailed
	// FutureCancelled indicates the future was cancelled before settling.
	FutureCancelled
)

// Future is a one-shot result cell, used for timeouts, delays, and
// Reactor.Async results.
type Future struct {
	mu       sync.Mutex
	state    FutureState
	value    any
	err      error
	onReady  []func(*Future)
}

func newFuture() *Future {
	return &Future{state: FuturePending}
}

// NewFuture creates a new, pending Future for user code that wants to
// hand out a promise-like handle ahead of the value it resolves.
func NewFuture() *Future { return newFuture() }

// State returns the future's current FutureState.
func (f *Future) State() FutureState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// IsReady reports whether the future has settled (done, failed, or
// cancelled).
func (f *Future) IsReady() bool {
	return f.State() != FuturePending
}

// Get returns the resolved value. It panics if the future is not done.
func (f *Future) Get() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != FutureDone {
		panic("reactor: Future.Get called on a future that is not done")
	}
	return f.value
}

// Err returns the failure reason if the future failed, a *CancelledError
// if it was cancelled, or nil for pending and done futures.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Failure is an alias for Err.
func (f *Future) Failure() error { return f.Err() }

// OnReady registers cb to run once the future settles. If the future is
// already settled, cb runs immediately, synchronously, before OnReady
// returns.
func (f *Future) OnReady(cb func(*Future)) {
	f.mu.Lock()
	if f.state == FuturePending {
		f.onReady = append(f.onReady, cb)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	cb(f)
}

func (f *Future) settle(state FutureState, value any, err error) {
	f.mu.Lock()
	if f.state != FuturePending {
		f.mu.Unlock()
		return
	}
	f.state = state
	f.value = value
	f.err = err
	cbs := f.onReady
	f.onReady = nil
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(f)
	}
}

// Done transitions the future to FutureDone with value.
func (f *Future) done(value any) { f.settle(FutureDone, value, nil) }

// Fail transitions the future to FutureFailed with err.
func (f *Future) fail(err error) { f.settle(FutureFailed, nil, err) }

// Done is the exported form of done, for user-constructed futures (e.g.
// via NewFuture) driven from outside the reactor package.
func (f *Future) Done(value any) { f.done(value) }

// Fail is the exported form of fail.
func (f *Future) Fail(err error) { f.fail(err) }

// Cancel transitions the future to FutureCancelled. A future that already
// settled is unaffected (transitions are monotonic).
func (f *Future) Cancel() { f.settle(FutureCancelled, nil, &CancelledError{}) }

// DoneLater resolves the future on r's deferred FIFO, so resolution always
// happens asynchronously.
func (f *Future) DoneLater(r *Reactor, value any) {
	r.Defer(func() { f.done(value) })
}

// FailLater rejects the future on r's deferred FIFO.
func (f *Future) FailLater(r *Reactor, err error) {
	r.Defer(func() { f.fail(err) })
}

// DelayFuture returns a Future that resolves (with a nil value) once after
// has elapsed.
func (r *Reactor) DelayFuture(after time.Duration) *Future {
	f := newFuture()
	r.WatchTime(after, func() { f.done(nil) })
	return f
}

// TimeoutFuture returns a Future that fails with a *TimeoutError once
// after has elapsed. A zero duration still fails on the next iteration,
// never synchronously.
func (r *Reactor) TimeoutFuture(after time.Duration) *Future {
	f := newFuture()
	r.WatchTime(after, func() { f.fail(&TimeoutError{}) })
	return f
}
