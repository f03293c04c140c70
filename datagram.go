package reactor

import (
	"golang.org/x/sys/unix"
)

// DatagramMessage is one received datagram: the payload (up to the
// configured receive cap) and, if the Datagram was constructed over an
// unconnected socket, the sender's address.
type DatagramMessage struct {
	Data       []byte
	Addr       unix.Sockaddr
	Truncated  bool
	hasAddress bool
}

// HasAddress reports whether Addr was populated (only meaningful for
// unconnected sockets recvfrom was able to resolve a peer for).
func (m DatagramMessage) HasAddress() bool { return m.hasAddress }

type datagramOptions struct {
	handle      []HandleOption
	onReceive   func(DatagramMessage)
	onSendError func(error)
	recvLen     int
}

// DatagramOption configures a Datagram at construction time.
type DatagramOption interface{ applyDatagram(*datagramOptions) }

type datagramOptionFunc func(*datagramOptions)

func (f datagramOptionFunc) applyDatagram(o *datagramOptions) { f(o) }

// WithDatagramHandle forwards a HandleOption to the underlying Handle.
func WithDatagramHandle(opt HandleOption) DatagramOption {
	return datagramOptionFunc(func(o *datagramOptions) { o.handle = append(o.handle, opt) })
}

// WithOnReceive sets the handler invoked once per received datagram.
func WithOnReceive(cb func(DatagramMessage)) DatagramOption {
	return datagramOptionFunc(func(o *datagramOptions) { o.onReceive = cb })
}

// WithOnSendError sets the handler invoked when a send syscall fails.
func WithOnSendError(cb func(error)) DatagramOption {
	return datagramOptionFunc(func(o *datagramOptions) { o.onSendError = cb })
}

// WithRecvLen bounds the receive buffer size; datagrams larger than this
// are truncated with DatagramMessage.Truncated set.
func WithRecvLen(n int) DatagramOption {
	return datagramOptionFunc(func(o *datagramOptions) { o.recvLen = n })
}

const defaultDatagramRecvLen = 64 * 1024

// Datagram is a Handle whose unit of I/O is a whole message. Reads and
// writes are single atomic syscalls; there is no buffering of partial
// messages, unlike Stream.
type Datagram struct {
	*Handle

	onReceive   func(DatagramMessage)
	onSendError func(error)
	recvLen     int

	sendQ []pendingDatagram
}

var _ Notifier = (*Datagram)(nil)

type pendingDatagram struct {
	data       []byte
	addr       unix.Sockaddr
	onComplete func()
}

// NewDatagram wraps a socket FD (via opts' HandleOptions) as a
// message-oriented Datagram.
func NewDatagram(opts ...DatagramOption) (*Datagram, error) {
	cfg := &datagramOptions{recvLen: defaultDatagramRecvLen}
	for _, o := range opts {
		if o != nil {
			o.applyDatagram(cfg)
		}
	}
	if cfg.recvLen <= 0 {
		cfg.recvLen = defaultDatagramRecvLen
	}
	d := &Datagram{
		onReceive:   cfg.onReceive,
		onSendError: cfg.onSendError,
		recvLen:     cfg.recvLen,
	}
	handleOpts := append([]HandleOption{}, cfg.handle...)
	handleOpts = append(handleOpts, WithOnReadReady(d.handleReadReady), WithOnWriteReady(d.handleWriteReady))
	h, err := NewHandle(handleOpts...)
	if err != nil {
		return nil, err
	}
	d.Handle = h
	return d, nil
}

func (d *Datagram) handleReadReady() {
	if d.onReceive == nil {
		return
	}
	for {
		buf := make([]byte, d.recvLen)
		n, from, err := unix.Recvfrom(d.ReadFD(), buf, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			return
		}
		msg := DatagramMessage{
			Data:       buf[:n],
			Addr:       from,
			hasAddress: from != nil,
			Truncated:  n == d.recvLen,
		}
		d.onReceive(msg)
	}
}

// Send enqueues message for a single write syscall. addr is optional and
// only meaningful for unconnected sockets; pass nil for connected sockets.
func (d *Datagram) Send(message []byte, addr unix.Sockaddr, onComplete func()) error {
	item := pendingDatagram{data: message, addr: addr, onComplete: onComplete}
	if len(d.sendQ) == 0 {
		if d.trySend(item) {
			return nil
		}
	}
	wasEmpty := len(d.sendQ) == 0
	d.sendQ = append(d.sendQ, item)
	if wasEmpty {
		return d.SetWantWriteReady(true)
	}
	return nil
}

func (d *Datagram) trySend(item pendingDatagram) bool {
	var err error
	if item.addr != nil {
		err = unix.Sendto(d.WriteFD(), item.data, 0, item.addr)
	} else {
		_, err = unix.Write(d.WriteFD(), item.data)
	}
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return false
		}
		if d.onSendError != nil {
			d.onSendError(&IOError{Op: "sendto", Cause: err})
		}
		return true
	}
	if item.onComplete != nil {
		item.onComplete()
	}
	return true
}

func (d *Datagram) handleWriteReady() {
	for len(d.sendQ) > 0 {
		item := d.sendQ[0]
		if !d.trySend(item) {
			return
		}
		d.sendQ = d.sendQ[1:]
	}
	_ = d.SetWantWriteReady(false)
}
