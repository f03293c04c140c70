package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestTimerWatchdogReset models the watchdog-reset scenario: a timer
// rescheduled before it fires never invokes the original deadline's
// callback at the original time.
func TestTimerWatchdogReset(t *testing.T) {
	r := newTestReactor(t)

	fired := make(chan struct{}, 1)
	id := r.WatchTime(10*time.Millisecond, func() { fired <- struct{}{} })

	// Reset the watchdog before it can fire.
	require.True(t, r.Reschedule(id, time.Now().Add(50*time.Millisecond)))

	deadline := time.Now().Add(30 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.NoError(t, r.RunOnce(5*time.Millisecond))
		select {
		case <-fired:
			t.Fatal("watchdog fired at its original deadline despite being rescheduled")
		default:
		}
	}
}

func TestTimerCancelPreventsFire(t *testing.T) {
	r := newTestReactor(t)

	var fired bool
	id := r.WatchTime(time.Millisecond, func() { fired = true })
	r.UnwatchTime(id)

	require.NoError(t, r.RunOnce(5*time.Millisecond))
	require.False(t, fired)
	require.Equal(t, 0, r.TimerCount())
}

func TestTimerOrderingTieBrokenByInsertion(t *testing.T) {
	r := newTestReactor(t)

	deadline := time.Now().Add(5 * time.Millisecond)
	var order []int
	r.WatchDeadline(deadline, func() { order = append(order, 1) })
	r.WatchDeadline(deadline, func() { order = append(order, 2) })
	r.WatchDeadline(deadline, func() { order = append(order, 3) })

	require.NoError(t, r.Await(r.DelayFuture(10*time.Millisecond)))
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestTimeoutFutureNeverSynchronous(t *testing.T) {
	r := newTestReactor(t)

	f := r.TimeoutFuture(0)
	require.Equal(t, FuturePending, f.State(), "timeout_future(0) must not settle synchronously")
	require.Error(t, r.Await(f))
	require.Equal(t, FutureFailed, f.State())
	var te *TimeoutError
	require.ErrorAs(t, f.Err(), &te)
}
