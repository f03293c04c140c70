package reactor

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newPipeStream wires a Stream across an os.Pipe, returning the stream
// (read side) plus the peer write end for the test to feed bytes into.
func newPipeStream(t *testing.T, r *Reactor, onRead ReadHandler) (*Stream, *os.File) {
	t.Helper()
	rf, wf, err := os.Pipe()
	require.NoError(t, err)

	s, err := NewStream(WithStreamHandle(WithReadFD(int(rf.Fd()))), WithOnRead(onRead))
	require.NoError(t, err)
	require.NoError(t, r.Register(s))
	t.Cleanup(func() {
		_ = s.Close()
		_ = wf.Close()
	})
	return s, wf
}

// TestStreamLineEcho exercises a line-oriented read handler that echoes
// each complete line it sees and leaves a trailing partial line buffered
// until more bytes arrive.
func TestStreamLineEcho(t *testing.T) {
	r := newTestReactor(t)

	var lines []string
	s, wf := newPipeStream(t, r, func(buf []byte, eof bool) ReadOutcome {
		for i, b := range buf {
			if b == '\n' {
				lines = append(lines, string(buf[:i]))
				return ContinueReading(i + 1)
			}
		}
		return WaitForMore(0)
	})
	_ = s

	_, err := wf.Write([]byte("hello\nwor"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		require.NoError(t, r.RunOnce(5*time.Millisecond))
		return len(lines) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"hello"}, lines)

	_, err = wf.Write([]byte("ld\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		require.NoError(t, r.RunOnce(5*time.Millisecond))
		return len(lines) == 2
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"hello", "world"}, lines)
}

func TestStreamReadEOFClosesByDefault(t *testing.T) {
	r := newTestReactor(t)

	var sawEOF bool
	var closed bool
	rf, wf, err := os.Pipe()
	require.NoError(t, err)

	s, err := NewStream(
		WithStreamHandle(WithReadFD(int(rf.Fd()))),
		WithStreamHandle(WithOnClosed(func() { closed = true })),
		WithOnRead(func(buf []byte, eof bool) ReadOutcome {
			if eof {
				sawEOF = true
			}
			return WaitForMore(len(buf))
		}),
	)
	require.NoError(t, err)
	require.NoError(t, r.Register(s))

	require.NoError(t, wf.Close())

	require.Eventually(t, func() bool {
		require.NoError(t, r.RunOnce(5*time.Millisecond))
		return sawEOF
	}, time.Second, 5*time.Millisecond)
	require.True(t, closed, "close_on_read_eof defaults to true")
}

func TestStreamCloseWhenEmptyFlushesPendingWrites(t *testing.T) {
	r := newTestReactor(t)

	rf, wf, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = wf.Close() })

	var closed bool
	s, err := NewStream(WithStreamHandle(WithWriteFD(int(wf.Fd()))), WithStreamHandle(WithOnClosed(func() { closed = true })))
	require.NoError(t, err)
	require.NoError(t, r.Register(s))

	require.NoError(t, s.Write([]byte("goodbye")))
	s.CloseWhenEmpty()

	require.Eventually(t, func() bool {
		require.NoError(t, r.RunOnce(5*time.Millisecond))
		return closed
	}, time.Second, 5*time.Millisecond)

	got := make([]byte, 7)
	_, err = rf.Read(got)
	require.NoError(t, err)
	require.Equal(t, "goodbye", string(got))
}

// TestStreamWriteProducerEmitsEveryChunk exercises a generator write item:
// the producer must be called once per chunk, with onComplete firing only
// once the producer reports exhaustion, never after the first chunk.
func TestStreamWriteProducerEmitsEveryChunk(t *testing.T) {
	r := newTestReactor(t)

	rf, wf, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = wf.Close() })

	var completed bool
	s, err := NewStream(WithStreamHandle(WithWriteFD(int(wf.Fd()))))
	require.NoError(t, err)
	require.NoError(t, r.Register(s))

	chunks := []string{"one-", "two-", "three"}
	next := 0
	producer := func() ([]byte, bool) {
		if next >= len(chunks) {
			return nil, false
		}
		c := chunks[next]
		next++
		return []byte(c), true
	}
	require.NoError(t, s.Write(producer, WithWriteComplete(func() { completed = true })))

	require.Eventually(t, func() bool {
		require.NoError(t, r.RunOnce(5*time.Millisecond))
		return completed
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, len(chunks), next, "producer must be invoked once per chunk plus the exhaustion call")

	got := make([]byte, 13)
	_, err = rf.Read(got)
	require.NoError(t, err)
	require.Equal(t, "one-two-three", string(got))
}
