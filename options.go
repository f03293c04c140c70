package reactor

// reactorOptions holds configuration resolved at Reactor construction time.
type reactorOptions struct {
	logger      *Logger
	multiplexer Multiplexer
	metrics     bool
}

// ReactorOption configures a [Reactor] at construction time, following the
// functional-option pattern used throughout the package (mirroring
// eventloop's LoopOption).
type ReactorOption interface {
	applyReactor(*reactorOptions)
}

type reactorOptionFunc func(*reactorOptions)

func (f reactorOptionFunc) applyReactor(o *reactorOptions) { f(o) }

// WithLogger overrides the reactor's structured logger. The default,
// constructed by newDefaultLogger, writes newline-delimited JSON to
// os.Stderr via stumpy.
func WithLogger(l *Logger) ReactorOption {
	return reactorOptionFunc(func(o *reactorOptions) { o.logger = l })
}

// WithMultiplexer overrides the FD readiness backend (see the plug-in
// contract documented on [Multiplexer]). Defaults to epoll on Linux and a
// portable poll(2) backend elsewhere.
func WithMultiplexer(m Multiplexer) ReactorOption {
	return reactorOptionFunc(func(o *reactorOptions) { o.multiplexer = m })
}

// WithMetrics enables the reactor's low-overhead metrics snapshot,
// queryable via Reactor.Metrics.
func WithMetrics(enabled bool) ReactorOption {
	return reactorOptionFunc(func(o *reactorOptions) { o.metrics = enabled })
}

func resolveReactorOptions(opts []ReactorOption) *reactorOptions {
	cfg := &reactorOptions{}
	for _, o := range opts {
		if o == nil {
			continue
		}
		o.applyReactor(cfg)
	}
	return cfg
}
