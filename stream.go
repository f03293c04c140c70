package reactor

import (
	"golang.org/x/sys/unix"
)

// ReadHandler processes bytes accumulated in a Stream's read buffer. buf is
// the full unconsumed buffer (including any residual bytes from a prior
// call); eof reports whether the read side has reached end-of-file. The
// handler returns a ReadOutcome describing how many bytes it consumed and
// what should happen next.
type ReadHandler func(buf []byte, eof bool) ReadOutcome

type readMode int

const (
	readWaitMore readMode = iota
	readContinue
	readReplace
)

// ReadOutcome is the result of a ReadHandler invocation.
type ReadOutcome struct {
	consumed int
	mode     readMode
	next     ReadHandler
}

// WaitForMore reports that consumed bytes were used and the handler should
// not run again until more bytes (or EOF) arrive.
func WaitForMore(consumed int) ReadOutcome {
	return ReadOutcome{consumed: consumed, mode: readWaitMore}
}

// ContinueReading reports that consumed bytes were used and, if any bytes
// remain in the buffer, the same handler should run again immediately
// within the same wakeup.
func ContinueReading(consumed int) ReadOutcome {
	return ReadOutcome{consumed: consumed, mode: readContinue}
}

// ReplaceReadHandler reports that consumed bytes were used and all
// subsequent reads (including any bytes left over from this call) should
// be delivered to next instead.
func ReplaceReadHandler(consumed int, next ReadHandler) ReadOutcome {
	return ReadOutcome{consumed: consumed, mode: readReplace, next: next}
}

// writeItem is one entry in a Stream's pending-write FIFO.
type writeItem struct {
	data       []byte
	producer   func() ([]byte, bool) // returns next chunk, ok=false when exhausted
	onComplete func()
	writeEOF   bool
}

// streamOptions collects Stream construction configuration: the embedded
// Handle options, plus read/write callbacks, text encoding, read-length
// and read-until-block policy, autoflush, and close-on-read-EOF.
type streamOptions struct {
	handle          []HandleOption
	onRead          ReadHandler
	onReadError     func(error)
	onWriteError    func(error)
	onOutgoingEmpty func()
	textEncoding    bool
	readLen         int
	readUntilBlock  bool
	autoflush       bool
	closeOnReadEOF  bool
}

// StreamOption configures a Stream at construction time.
type StreamOption interface {
	applyStream(*streamOptions)
}

type streamOptionFunc func(*streamOptions)

func (f streamOptionFunc) applyStream(o *streamOptions) { f(o) }

// WithStreamHandle forwards a HandleOption to the underlying Handle.
func WithStreamHandle(opt HandleOption) StreamOption {
	return streamOptionFunc(func(o *streamOptions) { o.handle = append(o.handle, opt) })
}

// WithOnRead sets the stream's current read handler.
func WithOnRead(h ReadHandler) StreamOption {
	return streamOptionFunc(func(o *streamOptions) { o.onRead = h })
}

// WithOnReadError sets the handler invoked on a read-side error; absent a
// handler the stream closes on error.
func WithOnReadError(cb func(error)) StreamOption {
	return streamOptionFunc(func(o *streamOptions) { o.onReadError = cb })
}

// WithOnWriteError sets the handler invoked on a write-side error.
func WithOnWriteError(cb func(error)) StreamOption {
	return streamOptionFunc(func(o *streamOptions) { o.onWriteError = cb })
}

// WithOnOutgoingEmpty sets the hook fired once per non-empty -> empty
// transition of the write queue.
func WithOnOutgoingEmpty(cb func()) StreamOption {
	return streamOptionFunc(func(o *streamOptions) { o.onOutgoingEmpty = cb })
}

// WithTextEncoding records a UTF-8 text-mode flag, reported by
// TextEncoding. The flag does not change the read or write paths: Write
// sends a string as its UTF-8 bytes either way, and read handlers get the
// raw buffer, with invalid bytes left as they are (no replacement with
// utf8.RuneError).
func WithTextEncoding(enabled bool) StreamOption {
	return streamOptionFunc(func(o *streamOptions) { o.textEncoding = enabled })
}

// WithReadLen caps the number of bytes read from the FD per wakeup. Zero
// means a reasonable internal default.
func WithReadLen(n int) StreamOption {
	return streamOptionFunc(func(o *streamOptions) { o.readLen = n })
}

// WithReadAll sets the "read until would-block" policy: when true, the
// stream repeats the read syscall within one wakeup until it would block,
// reaches EOF, or fails. The read handler's outcome does not end the loop.
func WithReadAll(enabled bool) StreamOption {
	return streamOptionFunc(func(o *streamOptions) { o.readUntilBlock = enabled })
}

// WithAutoflush enables an immediate non-blocking write attempt on every
// Write call, falling back to the queue on EAGAIN.
func WithAutoflush(enabled bool) StreamOption {
	return streamOptionFunc(func(o *streamOptions) { o.autoflush = enabled })
}

// WithCloseOnReadEOF overrides the default (true): whether the stream
// auto-closes on read EOF, versus staying open for late partial writes.
func WithCloseOnReadEOF(enabled bool) StreamOption {
	return streamOptionFunc(func(o *streamOptions) { o.closeOnReadEOF = enabled })
}

const defaultStreamReadLen = 64 * 1024

var _ Notifier = (*Stream)(nil)

// Stream is a Handle that adds framed byte I/O: a read buffer, a pending
// write-item FIFO, optional text encoding, and close-when-empty semantics.
type Stream struct {
	*Handle

	readBuf []byte
	readHdl ReadHandler
	readEOF bool

	onReadError     func(error)
	onWriteError    func(error)
	onOutgoingEmpty func()

	textEncoding   bool
	readLen        int
	readUntilBlock bool
	autoflush      bool
	closeOnReadEOF bool

	writeQ         []*writeItem
	closeWhenEmpty bool
}

// NewStream wraps fds (via opts' HandleOptions) in framed byte I/O.
func NewStream(opts ...StreamOption) (*Stream, error) {
	cfg := &streamOptions{readLen: defaultStreamReadLen, closeOnReadEOF: true}
	for _, o := range opts {
		if o != nil {
			o.applyStream(cfg)
		}
	}
	if cfg.readLen <= 0 {
		cfg.readLen = defaultStreamReadLen
	}
	s := &Stream{
		readHdl:         cfg.onRead,
		onReadError:     cfg.onReadError,
		onWriteError:    cfg.onWriteError,
		onOutgoingEmpty: cfg.onOutgoingEmpty,
		textEncoding:    cfg.textEncoding,
		readLen:         cfg.readLen,
		readUntilBlock:  cfg.readUntilBlock,
		autoflush:       cfg.autoflush,
		closeOnReadEOF:  cfg.closeOnReadEOF,
	}
	handleOpts := append([]HandleOption{}, cfg.handle...)
	handleOpts = append(handleOpts, WithOnReadReady(s.handleReadReady), WithOnWriteReady(s.handleWriteReady))
	h, err := NewHandle(handleOpts...)
	if err != nil {
		return nil, err
	}
	s.Handle = h
	return s, nil
}

// SetReadHandler replaces the stream's current read handler (chaining, per
// ReplaceReadHandler, updates this field directly too).
func (s *Stream) SetReadHandler(h ReadHandler) { s.readHdl = h }

func (s *Stream) handleReadReady() {
	for {
		buf := make([]byte, s.readLen)
		n, err := unix.Read(s.ReadFD(), buf)
		switch {
		case n > 0:
			s.readBuf = append(s.readBuf, buf[:n]...)
			s.dispatchRead(false)
			if !s.readUntilBlock {
				return
			}
		case n == 0:
			s.readEOF = true
			s.dispatchRead(true)
			if s.closeOnReadEOF {
				s.Close()
			}
			return
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return
		case err == unix.EINTR:
			continue
		default:
			if s.onReadError != nil {
				s.onReadError(&IOError{Op: "read", Cause: err})
			} else {
				s.Close()
			}
			return
		}
	}
}

// dispatchRead feeds the accumulated buffer to the current read handler,
// honoring ContinueReading (re-invoke while bytes remain) and
// ReplaceReadHandler (swap handler, keep residual bytes for it).
func (s *Stream) dispatchRead(eof bool) {
	for {
		if s.readHdl == nil {
			return
		}
		data := s.decodeForHandler()
		outcome := s.readHdl(data, eof)
		s.consume(outcome.consumed)
		switch outcome.mode {
		case readReplace:
			s.readHdl = outcome.next
			if len(s.readBuf) == 0 && !eof {
				return
			}
			continue
		case readContinue:
			if len(s.readBuf) == 0 {
				return
			}
			continue
		default: // readWaitMore
			return
		}
	}
}

// decodeForHandler returns the bytes the read handler should see. The
// buffer itself already retains any trailing incomplete multi-byte
// sequence across wakeups, since consume() only removes what the handler
// reports as consumed; a text-mode handler is expected to use
// utf8.DecodeRune and leave a short final rune unconsumed.
func (s *Stream) decodeForHandler() []byte {
	return s.readBuf
}

func (s *Stream) consume(n int) {
	if n <= 0 {
		return
	}
	if n > len(s.readBuf) {
		n = len(s.readBuf)
	}
	s.readBuf = append(s.readBuf[:0], s.readBuf[n:]...)
}

// Write appends one item to the write queue. data may be []byte or string
// (encoded as UTF-8). opts configures a per-item completion callback
// and/or a write-EOF flag.
func (s *Stream) Write(data any, opts ...WriteOption) error {
	item := &writeItem{}
	switch v := data.(type) {
	case []byte:
		item.data = v
	case string:
		item.data = []byte(v)
	case func() ([]byte, bool):
		item.producer = v
	default:
		return &InvalidConfigurationError{Key: "data", Detail: "must be []byte, string, or func() ([]byte, bool)"}
	}
	for _, o := range opts {
		if o != nil {
			o.applyWrite(item)
		}
	}
	if s.autoflush && len(s.writeQ) == 0 {
		if s.tryWriteImmediate(item) {
			return nil
		}
	}
	s.enqueueWrite(item)
	return nil
}

// WriteOption configures a single Stream.Write call.
type WriteOption interface{ applyWrite(*writeItem) }

type writeOptionFunc func(*writeItem)

func (f writeOptionFunc) applyWrite(i *writeItem) { f(i) }

// WithWriteComplete sets a callback fired once this item is fully written.
func WithWriteComplete(cb func()) WriteOption {
	return writeOptionFunc(func(i *writeItem) { i.onComplete = cb })
}

// WithWriteEOF marks the stream to close once this item has flushed and the
// write queue has drained, as CloseWhenEmpty does. The whole stream closes,
// read side included; there is no half-close of the write side alone.
func WithWriteEOF() WriteOption {
	return writeOptionFunc(func(i *writeItem) { i.writeEOF = true })
}

func (s *Stream) tryWriteImmediate(item *writeItem) bool {
	if item.producer != nil {
		return false
	}
	n, err := unix.Write(s.WriteFD(), item.data)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return false
		}
		if s.onWriteError != nil {
			s.onWriteError(&IOError{Op: "write", Cause: err})
		}
		return true
	}
	if n < len(item.data) {
		item.data = item.data[n:]
		return false
	}
	if item.onComplete != nil {
		item.onComplete()
	}
	if item.writeEOF {
		s.CloseWhenEmpty()
	}
	return true
}

func (s *Stream) enqueueWrite(item *writeItem) {
	wasEmpty := len(s.writeQ) == 0
	s.writeQ = append(s.writeQ, item)
	if wasEmpty {
		_ = s.SetWantWriteReady(true)
	}
}

func (s *Stream) handleWriteReady() {
	for len(s.writeQ) > 0 {
		item := s.writeQ[0]
		if item.data == nil && item.producer != nil {
			chunk, ok := item.producer()
			if !ok {
				s.writeQ = s.writeQ[1:]
				if item.onComplete != nil {
					item.onComplete()
				}
				if item.writeEOF {
					s.finishCloseWhenEmpty()
				}
				continue
			}
			item.data = chunk
		}
		n, err := unix.Write(s.WriteFD(), item.data)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			s.writeQ = s.writeQ[1:]
			if s.onWriteError != nil {
				s.onWriteError(&IOError{Op: "write", Cause: err})
			}
			continue
		}
		if n < len(item.data) {
			item.data = item.data[n:]
			return
		}
		item.data = nil
		if item.producer != nil {
			continue
		}
		s.writeQ = s.writeQ[1:]
		if item.onComplete != nil {
			item.onComplete()
		}
		if item.writeEOF {
			s.finishCloseWhenEmpty()
		}
	}
	_ = s.SetWantWriteReady(false)
	if s.onOutgoingEmpty != nil {
		s.onOutgoingEmpty()
	}
	if s.closeWhenEmpty {
		s.Close()
	}
}

// CloseWhenEmpty marks the stream to close once the write queue drains. If
// the queue is already empty, it closes immediately.
func (s *Stream) CloseWhenEmpty() {
	s.closeWhenEmpty = true
	if len(s.writeQ) == 0 {
		s.Close()
	}
}

func (s *Stream) finishCloseWhenEmpty() {
	s.closeWhenEmpty = true
}

// PendingWrites reports how many items remain in the write queue.
func (s *Stream) PendingWrites() int { return len(s.writeQ) }

// TextEncoding reports whether the stream was constructed with
// WithTextEncoding(true).
func (s *Stream) TextEncoding() bool { return s.textEncoding }
