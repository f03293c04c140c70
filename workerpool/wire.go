// Package workerpool implements a pool of off-loop worker processes that
// serve calls to a user function over a length-prefixed channel.
package workerpool

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"strconv"

	"github.com/joeycumines/go-utilpkg/jsonenc"
)

// MessageType is the single-byte record type in the channel wire format:
// 'c' = call, 'r' = return, 'e' = error.
type MessageType byte

const (
	MsgCall   MessageType = 'c'
	MsgReturn MessageType = 'r'
	MsgError  MessageType = 'e'
)

// headerLen is type(1) + id(4) + length(4).
const headerLen = 1 + 4 + 4

// frameHeader is the decoded form of a channel record's fixed header.
type frameHeader struct {
	Type   MessageType
	ID     uint32
	Length uint32
}

func encodeHeader(h frameHeader) []byte {
	buf := make([]byte, headerLen)
	buf[0] = byte(h.Type)
	binary.BigEndian.PutUint32(buf[1:5], h.ID)
	binary.BigEndian.PutUint32(buf[5:9], h.Length)
	return buf
}

func decodeHeader(buf []byte) frameHeader {
	return frameHeader{
		Type:   MessageType(buf[0]),
		ID:     binary.BigEndian.Uint32(buf[1:5]),
		Length: binary.BigEndian.Uint32(buf[5:9]),
	}
}

// Marshaller converts between a list of call arguments/results and an
// opaque payload. Two implementations are provided: FlatMarshaller and
// StructuredMarshaller.
type Marshaller interface {
	Marshal(values []any) ([]byte, error)
	Unmarshal(payload []byte) ([]any, error)
}

// flatMarshaller implements the flat marshaller: each argument is
// length-prefixed with a signed 32-bit length (-1 encodes null), and only
// string-convertible scalars are permitted - a deliberate contract, not an
// oversight. Numeric encoding reuses jsonenc's shortest-round-trip float
// formatting rather than strconv, so a flat float survives marshal/unmarshal
// exactly.
type flatMarshaller struct{}

// FlatMarshaller is the stateless flat Marshaller.
var FlatMarshaller Marshaller = flatMarshaller{}

func (flatMarshaller) Marshal(values []any) ([]byte, error) {
	var out []byte
	for _, v := range values {
		if v == nil {
			out = append(out, encodeInt32(-1)...)
			continue
		}
		enc, err := flatEncodeScalar(v)
		if err != nil {
			return nil, err
		}
		out = append(out, encodeInt32(int32(len(enc)))...)
		out = append(out, enc...)
	}
	return out, nil
}

func encodeInt32(n int32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(n))
	return buf
}

func flatEncodeScalar(v any) ([]byte, error) {
	switch x := v.(type) {
	case string:
		return []byte(x), nil
	case []byte:
		return x, nil
	case bool:
		if x {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case int:
		return strconv.AppendInt(nil, int64(x), 10), nil
	case int32:
		return strconv.AppendInt(nil, int64(x), 10), nil
	case int64:
		return strconv.AppendInt(nil, x, 10), nil
	case float32:
		return jsonenc.AppendFloat32(nil, x), nil
	case float64:
		return jsonenc.AppendFloat64(nil, x), nil
	default:
		return nil, fmt.Errorf("workerpool: flat marshaller: value of type %T is not string-convertible", v)
	}
}

func (flatMarshaller) Unmarshal(payload []byte) ([]any, error) {
	var out []any
	for len(payload) > 0 {
		if len(payload) < 4 {
			return nil, fmt.Errorf("workerpool: flat marshaller: truncated length prefix")
		}
		n := int32(binary.BigEndian.Uint32(payload[:4]))
		payload = payload[4:]
		if n < 0 {
			out = append(out, nil)
			continue
		}
		if int(n) > len(payload) {
			return nil, fmt.Errorf("workerpool: flat marshaller: truncated value")
		}
		out = append(out, string(payload[:n]))
		payload = payload[n:]
	}
	return out, nil
}

// structuredMarshaller implements the structured marshaller: an opaque
// binary serialization of arbitrary values via encoding/gob - the escape
// hatch for values the flat marshaller cannot express. See DESIGN.md for
// why this is a standard-library choice rather than a third-party codec.
type structuredMarshaller struct{}

// StructuredMarshaller is the stateless structured Marshaller.
var StructuredMarshaller Marshaller = structuredMarshaller{}

func init() {
	for _, v := range []any{
		"", 0, int32(0), int64(0), uint(0), float32(0), float64(0), false, []byte(nil),
	} {
		gob.Register(v)
	}
}

// RegisterType makes v's concrete type usable as a structured-marshaller
// argument or result, as required by encoding/gob for values carried
// through an interface. Built-in scalars are pre-registered.
func RegisterType(v any) { gob.Register(v) }

func (structuredMarshaller) Marshal(values []any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(values); err != nil {
		return nil, fmt.Errorf("workerpool: structured marshaller: %w", err)
	}
	return buf.Bytes(), nil
}

func (structuredMarshaller) Unmarshal(payload []byte) ([]any, error) {
	var values []any
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&values); err != nil {
		return nil, fmt.Errorf("workerpool: structured marshaller: %w", err)
	}
	return values, nil
}
