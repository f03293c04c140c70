// Package reactor implements a single-threaded, cooperative event loop: a
// reactor that multiplexes I/O readiness, dispatches timer callbacks,
// captures asynchronous signal delivery, reaps child processes, and exposes
// a small set of composable transports (streams, datagram sockets,
// listeners) built on top of those primitives.
//
// # Architecture
//
// A [Reactor] owns a timer queue, a signal router, a child reaper, an I/O
// readiness [Multiplexer], a tree of registered [Notifier]s, and a FIFO of
// deferred callbacks. Everything it dispatches is driven from a single
// goroutine, the one that calls [Reactor.Run] or [Reactor.RunOnce] -
// handlers never run concurrently with each other.
//
// [Handle] wraps one or two OS file descriptors. [Stream] adds buffered,
// framed byte I/O on top of a Handle; [Datagram] adds message-oriented I/O;
// [Listener] accepts new connections and hands them to a configured
// handler. [Future] is a one-shot result cell used for timeouts, delays,
// and off-loop work dispatched via [Reactor.Async].
//
// The workerpool subpackage provides an off-loop concurrency primitive: a
// pool of detached worker processes that exchange typed, length-prefixed
// messages with the reactor over a Unix socketpair.
//
// # Usage
//
//	r, err := reactor.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	r.WatchTime(2*time.Second, func() {
//	    fmt.Println("fired")
//	    r.Stop()
//	})
//
//	if err := r.Run(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Platform support
//
// The I/O multiplexer uses epoll on Linux and a portable poll(2) backend
// elsewhere on Unix. Signal capture and child reaping rely on POSIX
// semantics; there is no Windows backend.
package reactor
