package reactor

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSignalCountingCoalescesDeliveries verifies that several
// deliveries of the same signal between iterations are coalesced into one
// dispatch per watched signal, not one per physical delivery.
func TestSignalCountingCoalescesDeliveries(t *testing.T) {
	r := newTestReactor(t)

	var count int
	r.WatchSignal(syscall.SIGUSR1, func() { count++ })

	require.NoError(t, Raise(syscall.SIGUSR1))
	require.NoError(t, Raise(syscall.SIGUSR1))
	require.NoError(t, Raise(syscall.SIGUSR1))

	require.Eventually(t, func() bool {
		require.NoError(t, r.RunOnce(5*time.Millisecond))
		return count > 0
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, 1, count, "coalesced deliveries must dispatch once per iteration")
}

func TestSignalUnwatchStopsDispatch(t *testing.T) {
	r := newTestReactor(t)

	var count int
	id := r.WatchSignal(syscall.SIGUSR2, func() { count++ })
	r.UnwatchSignal(syscall.SIGUSR2, id)

	require.NoError(t, Raise(syscall.SIGUSR2))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.RunOnce(5*time.Millisecond))

	require.Zero(t, count)
}

func TestSignalMultipleHandlersBothRun(t *testing.T) {
	r := newTestReactor(t)

	var a, b bool
	r.WatchSignal(syscall.SIGUSR1, func() { a = true })
	r.WatchSignal(syscall.SIGUSR1, func() { b = true })

	require.NoError(t, Raise(syscall.SIGUSR1))
	require.Eventually(t, func() bool {
		require.NoError(t, r.RunOnce(5*time.Millisecond))
		return a && b
	}, time.Second, 5*time.Millisecond)
}
