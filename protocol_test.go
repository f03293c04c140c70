package reactor

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLineProtocolSplitsOnNewlineAndNormalizesCRLF(t *testing.T) {
	r := newTestReactor(t)

	rf, wf, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = wf.Close() })

	s, err := NewStream(WithStreamHandle(WithReadFD(int(rf.Fd()))))
	require.NoError(t, err)
	require.NoError(t, r.Register(s))
	t.Cleanup(func() { _ = s.Close() })

	var lines []string
	_ = NewLineProtocol(s, func(line []byte) { lines = append(lines, string(line)) })

	_, err = wf.Write([]byte("foo\r\nbar\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		require.NoError(t, r.RunOnce(5*time.Millisecond))
		return len(lines) == 2
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"foo\n", "bar\n"}, lines)
}

func TestLineProtocolWriteLineAppendsNewline(t *testing.T) {
	r := newTestReactor(t)

	rf, wf, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = rf.Close() })

	s, err := NewStream(WithStreamHandle(WithWriteFD(int(wf.Fd()))))
	require.NoError(t, err)
	require.NoError(t, r.Register(s))
	t.Cleanup(func() { _ = s.Close() })

	lp := NewLineProtocol(s, func([]byte) {})
	require.NoError(t, lp.WriteLine("hello"))
	require.NoError(t, r.RunOnce(5*time.Millisecond))

	buf := make([]byte, 6)
	_, err = rf.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(buf))
}

func TestRecordProtocolFramesByLengthPrefix(t *testing.T) {
	r := newTestReactor(t)

	rf, wf, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = wf.Close() })

	reader, err := NewStream(WithStreamHandle(WithReadFD(int(rf.Fd()))))
	require.NoError(t, err)
	require.NoError(t, r.Register(reader))
	t.Cleanup(func() { _ = reader.Close() })

	var records [][]byte
	_ = NewRecordProtocol(reader, func(rec []byte) {
		records = append(records, append([]byte(nil), rec...))
	})

	writer, err := NewStream(WithStreamHandle(WithWriteFD(int(wf.Fd()))))
	require.NoError(t, err)
	require.NoError(t, r.Register(writer))
	t.Cleanup(func() { _ = writer.Close() })
	wp := NewRecordProtocol(writer, func([]byte) {})

	require.NoError(t, wp.WriteRecord([]byte("alpha")))
	require.NoError(t, wp.WriteRecord([]byte("beta")))

	require.Eventually(t, func() bool {
		require.NoError(t, r.RunOnce(5*time.Millisecond))
		return len(records) == 2
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "alpha", string(records[0]))
	require.Equal(t, "beta", string(records[1]))
}
