package reactor

import (
	"golang.org/x/sys/unix"
)

type listenerOptions struct {
	handle       []HandleOption
	onAcceptFD   func(fd int)
	onAcceptConn func(*Stream)
	onAcceptDgr  func(*Datagram)
	onError      func(error)
}

// ListenerOption configures a Listener at construction time.
type ListenerOption interface{ applyListener(*listenerOptions) }

type listenerOptionFunc func(*listenerOptions)

func (f listenerOptionFunc) applyListener(o *listenerOptions) { f(o) }

// WithListenerHandle forwards a HandleOption to the underlying Handle.
func WithListenerHandle(opt HandleOption) ListenerOption {
	return listenerOptionFunc(func(o *listenerOptions) { o.handle = append(o.handle, opt) })
}

// WithOnAcceptFD configures the listener to hand accepted connections to
// cb as raw file descriptors. Takes precedence over WithOnAcceptStream and
// WithOnAcceptDatagram when more than one is configured.
func WithOnAcceptFD(cb func(fd int)) ListenerOption {
	return listenerOptionFunc(func(o *listenerOptions) { o.onAcceptFD = cb })
}

// WithOnAcceptStream configures the listener to wrap each accepted
// connection in a Stream and hand it to cb.
func WithOnAcceptStream(cb func(*Stream)) ListenerOption {
	return listenerOptionFunc(func(o *listenerOptions) { o.onAcceptConn = cb })
}

// WithOnAcceptDatagram configures the listener to wrap each accepted
// connection in a Datagram and hand it to cb.
func WithOnAcceptDatagram(cb func(*Datagram)) ListenerOption {
	return listenerOptionFunc(func(o *listenerOptions) { o.onAcceptDgr = cb })
}

// WithOnAcceptError sets the handler invoked when accept fails with
// anything other than EAGAIN/EWOULDBLOCK/ECONNABORTED.
func WithOnAcceptError(cb func(error)) ListenerOption {
	return listenerOptionFunc(func(o *listenerOptions) { o.onError = cb })
}

// Listener is a Handle that, on read readiness, repeatedly accepts
// connections until the accept syscall would block, dispatching each one
// to exactly one configured handler.
type Listener struct {
	*Handle

	onAcceptFD   func(fd int)
	onAcceptConn func(*Stream)
	onAcceptDgr  func(*Datagram)
	onError      func(error)
}

var _ Notifier = (*Listener)(nil)

// NewListener wraps a listening socket FD (via opts' HandleOptions).
func NewListener(opts ...ListenerOption) (*Listener, error) {
	cfg := &listenerOptions{}
	for _, o := range opts {
		if o != nil {
			o.applyListener(cfg)
		}
	}
	if cfg.onAcceptFD == nil && cfg.onAcceptConn == nil && cfg.onAcceptDgr == nil {
		return nil, &InvalidConfigurationError{Key: "on_accept", Detail: "a Listener requires at least one accept handler"}
	}
	l := &Listener{
		onAcceptFD:   cfg.onAcceptFD,
		onAcceptConn: cfg.onAcceptConn,
		onAcceptDgr:  cfg.onAcceptDgr,
		onError:      cfg.onError,
	}
	handleOpts := append([]HandleOption{}, cfg.handle...)
	handleOpts = append(handleOpts, WithOnReadReady(l.handleReadReady))
	h, err := NewHandle(handleOpts...)
	if err != nil {
		return nil, err
	}
	l.Handle = h
	return l, nil
}

func (l *Listener) handleReadReady() {
	for {
		fd, _, err := unix.Accept(l.ReadFD())
		if err != nil {
			switch err {
			case unix.EAGAIN, unix.EWOULDBLOCK, unix.ECONNABORTED:
				return
			case unix.EINTR:
				continue
			default:
				if l.onError != nil {
					l.onError(&IOError{Op: "accept", Cause: err})
				}
				return
			}
		}
		l.dispatchAccepted(fd)
	}
}

// dispatchAccepted hands fd to exactly one handler, preferring raw-FD,
// then stream, then datagram.
func (l *Listener) dispatchAccepted(fd int) {
	switch {
	case l.onAcceptFD != nil:
		l.onAcceptFD(fd)
	case l.onAcceptConn != nil:
		s, err := NewStream(WithStreamHandle(WithReadFD(fd)))
		if err != nil {
			_ = unix.Close(fd)
			if l.onError != nil {
				l.onError(err)
			}
			return
		}
		if r := l.base().reactor; r != nil {
			if err := r.Register(s); err != nil && l.onError != nil {
				l.onError(err)
			}
		}
		l.onAcceptConn(s)
	case l.onAcceptDgr != nil:
		d, err := NewDatagram(WithDatagramHandle(WithReadFD(fd)))
		if err != nil {
			_ = unix.Close(fd)
			if l.onError != nil {
				l.onError(err)
			}
			return
		}
		if r := l.base().reactor; r != nil {
			if err := r.Register(d); err != nil && l.onError != nil {
				l.onError(err)
			}
		}
		l.onAcceptDgr(d)
	default:
		_ = unix.Close(fd)
	}
}
