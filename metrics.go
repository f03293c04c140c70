package reactor

// Metrics is a point-in-time snapshot of reactor activity, gathered with
// near-zero overhead when WithMetrics(false) (the default).
type Metrics struct {
	// Iterations is the number of completed RunOnce calls.
	Iterations uint64
	// TimersFired is the cumulative count of timer callbacks invoked.
	TimersFired uint64
	// HandlersRun is the cumulative count of handler invocations routed
	// through runHandler: IO, timer, signal, child-reap, and deferred
	// callbacks alike.
	HandlersRun uint64
	// DeferredDepth is the number of callbacks currently waiting on the
	// deferred FIFO, as of the call to Metrics.
	DeferredDepth int
	// TimerQueueDepth is the number of pending (unfired, uncancelled)
	// timers, as of the call to Metrics.
	TimerQueueDepth int
}

// Metrics returns a snapshot of the reactor's counters. The counters are
// only populated when the reactor was constructed with WithMetrics(true);
// otherwise all fields are zero. DeferredDepth and TimerQueueDepth are
// always live, independent of WithMetrics.
func (r *Reactor) Metrics() Metrics {
	m := r.metrics
	r.deferredMu.Lock()
	m.DeferredDepth = len(r.deferred)
	r.deferredMu.Unlock()
	m.TimerQueueDepth = r.timers.len()
	return m
}

// TimerCount returns the number of pending (unfired, uncancelled) timers.
func (r *Reactor) TimerCount() int {
	return r.timers.len()
}
