package reactor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFutureGetPanicsUntilDone(t *testing.T) {
	f := NewFuture()
	require.Panics(t, func() { f.Get() })

	f.Done("value")
	require.Equal(t, FutureDone, f.State())
	require.Equal(t, "value", f.Get())
}

func TestFutureOnReadyRunsImmediatelyWhenAlreadySettled(t *testing.T) {
	f := NewFuture()
	f.Done(1)

	var called bool
	f.OnReady(func(ready *Future) {
		called = true
		require.Equal(t, FutureDone, ready.State())
	})
	require.True(t, called)
}

func TestFutureOnReadyDeferredUntilSettled(t *testing.T) {
	f := NewFuture()

	var called bool
	f.OnReady(func(*Future) { called = true })
	require.False(t, called)

	f.Fail(errors.New("boom"))
	require.True(t, called)
}

func TestFutureTransitionsAreMonotonic(t *testing.T) {
	f := NewFuture()
	f.Done(1)
	f.Fail(errors.New("too late"))

	require.Equal(t, FutureDone, f.State())
	require.Equal(t, 1, f.Get())
	require.NoError(t, f.Err())
}

func TestFutureCancel(t *testing.T) {
	f := NewFuture()
	f.Cancel()
	require.Equal(t, FutureCancelled, f.State())
	var ce *CancelledError
	require.ErrorAs(t, f.Err(), &ce)
}
