package reactor

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandleDispatchesReadReady(t *testing.T) {
	r := newTestReactor(t)

	rf, wf, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = wf.Close() })

	readyCh := make(chan struct{}, 1)
	h, err := NewHandle(
		WithReadFD(int(rf.Fd())),
		WithOnReadReady(func() { readyCh <- struct{}{} }),
	)
	require.NoError(t, err)
	require.NoError(t, r.Register(h))
	t.Cleanup(func() { _ = h.Close() })

	_, err = wf.Write([]byte("x"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		require.NoError(t, r.RunOnce(5*time.Millisecond))
		select {
		case <-readyCh:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestHandleRequiresAtLeastOneFD(t *testing.T) {
	_, err := NewHandle()
	require.Error(t, err)
	var ice *InvalidConfigurationError
	require.ErrorAs(t, err, &ice)
}

func TestHandleCloseInvokesOnClosedOnce(t *testing.T) {
	rf, wf, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = wf.Close() })

	var closedCount int
	h, err := NewHandle(
		WithReadFD(int(rf.Fd())),
		WithOnClosed(func() { closedCount++ }),
	)
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	require.Equal(t, 1, closedCount)
}

func TestHandleSetWantWriteReadyUpdatesInterestLive(t *testing.T) {
	r := newTestReactor(t)

	rf, wf, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = rf.Close() })

	var writeReadyCount int
	h, err := NewHandle(
		WithWriteFD(int(wf.Fd())),
		WithOnWriteReady(func() { writeReadyCount++ }),
	)
	require.NoError(t, err)
	require.NoError(t, r.Register(h))
	t.Cleanup(func() { _ = h.Close() })

	require.NoError(t, r.RunOnce(5*time.Millisecond))
	require.Zero(t, writeReadyCount, "write readiness must not dispatch until requested")

	require.NoError(t, h.SetWantWriteReady(true))
	require.Eventually(t, func() bool {
		require.NoError(t, r.RunOnce(5*time.Millisecond))
		return writeReadyCount > 0
	}, time.Second, 5*time.Millisecond)
}
