package reactor

import (
	"bytes"
	"encoding/binary"
)

// RecordHandler processes one decoded application record.
type RecordHandler func(record []byte)

// protocolBase wraps a Stream with a chained read handler that splits the
// byte stream into discrete records before calling a RecordHandler, so
// request/response and line-based protocols can reuse one framing layer
// instead of reimplementing chained read handlers.
type protocolBase struct {
	stream  *Stream
	onFrame RecordHandler
	split   func(buf []byte, eof bool) (frame []byte, rest int, ok bool)
}

func newProtocolBase(s *Stream, split func([]byte, bool) ([]byte, int, bool), onFrame RecordHandler) *protocolBase {
	p := &protocolBase{stream: s, onFrame: onFrame, split: split}
	s.SetReadHandler(p.onRead)
	return p
}

func (p *protocolBase) onRead(buf []byte, eof bool) ReadOutcome {
	total := 0
	for {
		frame, consumed, ok := p.split(buf[total:], eof)
		if !ok {
			break
		}
		total += consumed
		if p.onFrame != nil {
			p.onFrame(frame)
		}
	}
	// The loop above already drains every complete frame available, so
	// there is never anything left for ContinueReading to pick up.
	return WaitForMore(total)
}

// Stream returns the underlying Stream, for Write/Close/etc.
func (p *protocolBase) Stream() *Stream { return p.stream }

// LineProtocol splits a byte stream on '\n', delivering each line to a
// RecordHandler with its trailing '\n' retained (a preceding '\r' is
// dropped, so a CRLF line ending normalizes to a single trailing '\n').
type LineProtocol struct {
	*protocolBase
}

// NewLineProtocol wraps s, dispatching complete lines to onLine.
func NewLineProtocol(s *Stream, onLine RecordHandler) *LineProtocol {
	return &LineProtocol{protocolBase: newProtocolBase(s, splitLines, onLine)}
}

func splitLines(buf []byte, eof bool) ([]byte, int, bool) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		return nil, 0, false
	}
	consumed := idx + 1
	line := buf[:consumed]
	if len(line) >= 2 && line[len(line)-2] == '\r' {
		line = append(append([]byte(nil), line[:len(line)-2]...), '\n')
	}
	return line, consumed, true
}

// WriteLine writes s followed by a trailing newline.
func (l *LineProtocol) WriteLine(s string, opts ...WriteOption) error {
	return l.stream.Write(s+"\n", opts...)
}

// recordHeaderLen is the length, in bytes, of a RecordProtocol frame's
// length prefix.
const recordHeaderLen = 4

// RecordProtocol frames records with a 4-byte big-endian length prefix and
// nothing else (the worker pool's Channel uses its own 9-byte header).
type RecordProtocol struct {
	*protocolBase
}

// NewRecordProtocol wraps s, dispatching complete length-prefixed records
// to onRecord.
func NewRecordProtocol(s *Stream, onRecord RecordHandler) *RecordProtocol {
	return &RecordProtocol{protocolBase: newProtocolBase(s, splitRecords, onRecord)}
}

func splitRecords(buf []byte, eof bool) ([]byte, int, bool) {
	if len(buf) < recordHeaderLen {
		return nil, 0, false
	}
	n := binary.BigEndian.Uint32(buf[:recordHeaderLen])
	total := recordHeaderLen + int(n)
	if len(buf) < total {
		return nil, 0, false
	}
	return buf[recordHeaderLen:total], total, true
}

// WriteRecord writes payload with its 4-byte big-endian length prefix.
func (rp *RecordProtocol) WriteRecord(payload []byte, opts ...WriteOption) error {
	header := make([]byte, recordHeaderLen)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	if err := rp.stream.Write(header); err != nil {
		return err
	}
	return rp.stream.Write(payload, opts...)
}
