package workerpool

import (
	"sync/atomic"

	"github.com/frioux/reactor"
)

// Channel is a typed message stream backed by one FD in each direction,
// implementing the call/return/error record format on top of a
// reactor.Stream's chained read handler.
type Channel struct {
	stream    *reactor.Stream
	onMessage func(MessageType, uint32, []byte)
	nextID    atomic.Uint32
}

// NewChannel wraps s (already registered with a reactor) as a Channel,
// dispatching each decoded record to onMessage.
func NewChannel(s *reactor.Stream, onMessage func(MessageType, uint32, []byte)) *Channel {
	c := &Channel{stream: s, onMessage: onMessage}
	s.SetReadHandler(c.onRead)
	return c
}

// Stream returns the underlying reactor.Stream.
func (c *Channel) Stream() *reactor.Stream { return c.stream }

// NextID returns a fresh, monotonically increasing call id.
func (c *Channel) NextID() uint32 { return c.nextID.Add(1) }

func (c *Channel) onRead(buf []byte, eof bool) reactor.ReadOutcome {
	total := 0
	for {
		rest := buf[total:]
		if len(rest) < headerLen {
			break
		}
		h := decodeHeader(rest[:headerLen])
		frameLen := headerLen + int(h.Length)
		if len(rest) < frameLen {
			break
		}
		if c.onMessage != nil {
			payload := rest[headerLen:frameLen]
			c.onMessage(h.Type, h.ID, payload)
		}
		total += frameLen
	}
	// The loop above drains every complete record already available, so
	// ContinueReading never has anything left to do.
	return reactor.WaitForMore(total)
}

// Send writes one record: the fixed header, then payload, completing
// onComplete once both are flushed.
func (c *Channel) Send(t MessageType, id uint32, payload []byte, onComplete func()) error {
	header := encodeHeader(frameHeader{Type: t, ID: id, Length: uint32(len(payload))})
	if err := c.stream.Write(header); err != nil {
		return err
	}
	opts := []reactor.WriteOption(nil)
	if onComplete != nil {
		opts = append(opts, reactor.WithWriteComplete(onComplete))
	}
	return c.stream.Write(payload, opts...)
}

// SendCall writes a 'c' record with args marshalled by m.
func (c *Channel) SendCall(id uint32, args []any, m Marshaller) error {
	payload, err := m.Marshal(args)
	if err != nil {
		return err
	}
	return c.Send(MsgCall, id, payload, nil)
}

// SendReturn writes an 'r' record with results marshalled by m.
func (c *Channel) SendReturn(id uint32, results []any, m Marshaller) error {
	payload, err := m.Marshal(results)
	if err != nil {
		return err
	}
	return c.Send(MsgReturn, id, payload, nil)
}

// SendError writes an 'e' record carrying message as its sole payload.
func (c *Channel) SendError(id uint32, message string) error {
	return c.Send(MsgError, id, []byte(message), nil)
}
