package workerpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlatMarshallerRoundTrip(t *testing.T) {
	payload, err := FlatMarshaller.Marshal([]any{"hello", 42, true, nil, 3.5})
	require.NoError(t, err)

	values, err := FlatMarshaller.Unmarshal(payload)
	require.NoError(t, err)
	require.Equal(t, []any{"hello", "42", "true", nil, "3.5"}, values)
}

func TestFlatMarshallerRejectsNonScalar(t *testing.T) {
	_, err := FlatMarshaller.Marshal([]any{struct{}{}})
	require.Error(t, err)
}

func TestFlatMarshallerEmptyValues(t *testing.T) {
	payload, err := FlatMarshaller.Marshal(nil)
	require.NoError(t, err)
	require.Empty(t, payload)

	values, err := FlatMarshaller.Unmarshal(nil)
	require.NoError(t, err)
	require.Empty(t, values)
}

type point struct {
	X, Y int
}

func TestStructuredMarshallerRoundTrip(t *testing.T) {
	RegisterType(point{})

	payload, err := StructuredMarshaller.Marshal([]any{point{X: 1, Y: 2}, "tag"})
	require.NoError(t, err)

	values, err := StructuredMarshaller.Unmarshal(payload)
	require.NoError(t, err)
	require.Equal(t, []any{point{X: 1, Y: 2}, "tag"}, values)
}

func TestFrameHeaderRoundTrip(t *testing.T) {
	h := frameHeader{Type: MsgCall, ID: 7, Length: 123}
	got := decodeHeader(encodeHeader(h))
	require.Equal(t, h, got)
}
