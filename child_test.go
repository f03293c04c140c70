package reactor

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChildReapReportsExitCode(t *testing.T) {
	r := newTestReactor(t)

	cmd := exec.Command("/bin/sh", "-c", "exit 7")
	require.NoError(t, cmd.Start())

	statusCh := make(chan ChildStatus, 1)
	r.WatchChild(cmd.Process.Pid, func(s ChildStatus) { statusCh <- s })

	var got ChildStatus
	require.Eventually(t, func() bool {
		require.NoError(t, r.RunOnce(5*time.Millisecond))
		select {
		case got = <-statusCh:
			return true
		default:
			return false
		}
	}, 5*time.Second, 5*time.Millisecond)

	require.Equal(t, 7, got.Code)
	require.Empty(t, got.Signal)
}

func TestChildReapReportsSignalOnCrash(t *testing.T) {
	r := newTestReactor(t)

	cmd := exec.Command("/bin/sh", "-c", "kill -KILL $$")
	require.NoError(t, cmd.Start())

	statusCh := make(chan ChildStatus, 1)
	r.WatchChild(cmd.Process.Pid, func(s ChildStatus) { statusCh <- s })

	var got ChildStatus
	require.Eventually(t, func() bool {
		require.NoError(t, r.RunOnce(5*time.Millisecond))
		select {
		case got = <-statusCh:
			return true
		default:
			return false
		}
	}, 5*time.Second, 5*time.Millisecond)

	require.Equal(t, -1, got.Code)
	require.Equal(t, "killed", got.Signal)
}
