package workerpool

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/frioux/reactor"
	catrate "github.com/joeycumines/go-catrate"
)

// Config configures a Pool: the worker command, its min/max size, how long
// an idle worker lingers before retirement, and how many calls a worker
// serves before retirement. ExitOnError is stored, but the Pool does not
// read it: whether a worker exits on error is up to the
// worker binary, and the Pool handles an error reply and a worker exit the
// same way whatever the field says.
type Config struct {
	// Command and Args spawn one worker process; the binary is expected
	// to speak the channel wire format on fd 3.
	Command string
	Args    []string
	Setup   []SpawnAction

	Marshaller Marshaller

	MinWorkers        int
	MaxWorkers        int
	IdleTimeout       time.Duration
	MaxCallsPerWorker int
	ExitOnError       bool
}

func (c Config) validate() error {
	if c.Command == "" {
		return &reactor.InvalidConfigurationError{Key: "command", Detail: "required"}
	}
	if c.MaxWorkers <= 0 {
		return &reactor.InvalidConfigurationError{Key: "max_workers", Detail: "must be positive"}
	}
	if c.MinWorkers < 0 || c.MinWorkers > c.MaxWorkers {
		return &reactor.InvalidConfigurationError{Key: "min_workers", Detail: "must be between 0 and max_workers"}
	}
	if c.Marshaller == nil {
		return &reactor.InvalidConfigurationError{Key: "marshaller", Detail: "required"}
	}
	return nil
}

type pendingCall struct {
	id     uint32
	args   []any
	future *reactor.Future
	worker *worker
}

// Pool wraps a user computation shipped to a fleet of worker processes.
// busy workers + idle workers == len(workers) <= MaxWorkers is maintained
// as an invariant across every exported method.
type Pool struct {
	r    *reactor.Reactor
	name string
	cfg  Config

	workers    []*worker
	queue      []*pendingCall
	calls      map[uint32]*pendingCall
	idleTimers map[*worker]reactor.TimerID
	roundRobin int

	restarting bool
	limiter    *catrate.Limiter
	nextCallID atomic.Uint32
}

// crashRestartRates bounds how often a single pool may respawn a crashed
// worker: 5 per second, 20 per minute. Without this, a crash-looping
// worker would busy-spin fork() calls; this reuses catrate, the same
// sliding-window limiter logiface pulls in transitively.
var crashRestartRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 20,
}

// NewPool constructs a Pool and starts MinWorkers workers immediately.
func NewPool(r *reactor.Reactor, name string, cfg Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		r:          r,
		name:       name,
		cfg:        cfg,
		calls:      make(map[uint32]*pendingCall),
		idleTimers: make(map[*worker]reactor.TimerID),
		limiter:    catrate.NewLimiter(crashRestartRates),
	}
	for i := 0; i < cfg.MinWorkers; i++ {
		if _, err := p.startWorker(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Workers reports the current worker count.
func (p *Pool) Workers() int { return len(p.workers) }

// PoolMetrics is a point-in-time snapshot of a Pool's worker occupancy.
type PoolMetrics struct {
	Busy int
	Idle int
	// Queued is the number of calls waiting for a free worker.
	Queued int
}

// Metrics returns a snapshot of p's current busy/idle worker counts and
// queue depth. busy + idle always equals Workers().
func (p *Pool) Metrics() PoolMetrics {
	m := PoolMetrics{Queued: len(p.queue)}
	for _, w := range p.workers {
		if w.busy {
			m.Busy++
		} else {
			m.Idle++
		}
	}
	return m
}

// Call enqueues one invocation, returning a Future that resolves with the
// worker's return values or rejects with a typed error.
func (p *Pool) Call(args ...any) *reactor.Future {
	future := reactor.NewFuture()
	id := p.nextCallID.Add(1)
	pc := &pendingCall{id: id, args: args, future: future}
	p.calls[id] = pc
	p.dispatch(pc)
	return future
}

func (p *Pool) dispatch(pc *pendingCall) {
	if w := p.pickIdleWorker(); w != nil {
		p.issue(w, pc)
		return
	}
	if len(p.workers) < p.cfg.MaxWorkers {
		w, err := p.startWorker()
		if err != nil {
			delete(p.calls, pc.id)
			pc.future.FailLater(p.r, err)
			return
		}
		p.issue(w, pc)
		return
	}
	p.queue = append(p.queue, pc)
}

func (p *Pool) pickIdleWorker() *worker {
	n := len(p.workers)
	for i := 0; i < n; i++ {
		idx := (p.roundRobin + i) % n
		if !p.workers[idx].busy {
			p.roundRobin = (idx + 1) % n
			return p.workers[idx]
		}
	}
	return nil
}

func (p *Pool) issue(w *worker, pc *pendingCall) {
	if id, ok := p.idleTimers[w]; ok {
		p.r.UnwatchTime(id)
		delete(p.idleTimers, w)
	}
	w.busy = true
	w.pendingID = pc.id
	pc.worker = w
	if err := w.channel.SendCall(pc.id, pc.args, p.cfg.Marshaller); err != nil {
		delete(p.calls, pc.id)
		w.busy = false
		pc.future.FailLater(p.r, err)
	}
}

func (p *Pool) startWorker() (*worker, error) {
	w, err := spawnWorker(p.r, p.cfg.Command, p.cfg.Args, p.cfg.Setup, p.onMessage, p.onExit)
	if err != nil {
		return nil, err
	}
	p.workers = append(p.workers, w)
	return w, nil
}

func (p *Pool) onMessage(w *worker, t MessageType, id uint32, payload []byte) {
	pc, ok := p.calls[id]
	if !ok {
		return
	}
	delete(p.calls, id)
	w.busy = false
	w.callsServed++

	switch t {
	case MsgReturn:
		results, err := p.cfg.Marshaller.Unmarshal(payload)
		if err != nil {
			pc.future.FailLater(p.r, err)
		} else {
			pc.future.DoneLater(p.r, results)
		}
	case MsgError:
		pc.future.FailLater(p.r, &reactor.ProtocolError{Message: string(payload)})
	default:
		pc.future.FailLater(p.r, fmt.Errorf("workerpool: unexpected message type %q", byte(t)))
	}

	if p.cfg.MaxCallsPerWorker > 0 && w.callsServed >= p.cfg.MaxCallsPerWorker {
		p.retire(w)
		return
	}
	p.serveQueueOrIdle(w)
}

// retire gracefully removes w from rotation once its current call (if
// any) has completed, for max_calls_per_worker exhaustion.
func (p *Pool) retire(w *worker) {
	p.removeWorker(w)
	w.stop()
	p.maintainMinWorkers()
}

func (p *Pool) serveQueueOrIdle(w *worker) {
	if len(p.queue) > 0 {
		pc := p.queue[0]
		p.queue = p.queue[1:]
		p.issue(w, pc)
		return
	}
	if p.cfg.IdleTimeout > 0 {
		p.idleTimers[w] = p.r.WatchTime(p.cfg.IdleTimeout, func() { p.expireIdle(w) })
	}
}

func (p *Pool) expireIdle(w *worker) {
	delete(p.idleTimers, w)
	if w.busy {
		return
	}
	p.removeWorker(w)
	w.stop()
}

func (p *Pool) onExit(w *worker, status reactor.ChildStatus) {
	wasRestarting := p.restarting
	p.removeWorker(w)
	delete(p.idleTimers, w)

	if w.busy {
		if pc, ok := p.calls[w.pendingID]; ok {
			delete(p.calls, w.pendingID)
			if status.Signal != "" || status.Code != 0 {
				pc.future.FailLater(p.r, &reactor.ExitError{Code: status.Code, Signal: status.Signal})
			} else {
				pc.future.FailLater(p.r, &reactor.ClosedError{})
			}
		}
	}

	if wasRestarting {
		if len(p.workers) == 0 {
			p.restarting = false
			p.maintainMinWorkers()
		}
		return
	}

	if _, allowed := p.limiter.Allow(p.name); !allowed {
		p.r.Logger().Warning().Str("pool", p.name).Log("worker crash-restart rate exceeded, deferring")
		return
	}
	p.maintainMinWorkers()
	p.drainQueueIfPossible()
}

func (p *Pool) maintainMinWorkers() {
	for len(p.workers) < p.cfg.MinWorkers {
		if _, err := p.startWorker(); err != nil {
			p.r.Logger().Err().Str("pool", p.name).Err(err).Log("failed to maintain min_workers")
			return
		}
	}
}

func (p *Pool) drainQueueIfPossible() {
	for len(p.queue) > 0 {
		w := p.pickIdleWorker()
		if w == nil {
			if len(p.workers) >= p.cfg.MaxWorkers {
				return
			}
			var err error
			w, err = p.startWorker()
			if err != nil {
				return
			}
		}
		pc := p.queue[0]
		p.queue = p.queue[1:]
		p.issue(w, pc)
	}
}

func (p *Pool) removeWorker(w *worker) {
	for i, x := range p.workers {
		if x == w {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			return
		}
	}
}

// Restart gracefully stops every worker; once they have all exited,
// maintainMinWorkers (driven from onExit) spawns fresh ones that observe
// any re-Configure'd closure state.
func (p *Pool) Restart() {
	p.restarting = true
	for _, w := range p.workers {
		w.stop()
	}
	if len(p.workers) == 0 {
		p.restarting = false
		p.maintainMinWorkers()
	}
}

// Configure updates the pool's settings. If the pool has fewer than the new
// MinWorkers, the missing workers are started immediately; it never stops
// workers (call Restart to apply Command/Args/Setup changes to running
// workers), and a lower MaxWorkers takes effect on the next dispatch.
func (p *Pool) Configure(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	p.cfg = cfg
	p.maintainMinWorkers()
	return nil
}
