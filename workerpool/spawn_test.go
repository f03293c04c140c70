package workerpool

import (
	"bytes"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplySpawnSetupStdoutRedirect(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	cmd := exec.Command("/bin/sh", "-c", "echo hi")
	require.NoError(t, applySpawnSetup(cmd, []SpawnAction{Stdout(w)}))
	require.NoError(t, cmd.Start())
	require.NoError(t, w.Close())
	require.NoError(t, cmd.Wait())

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	require.Equal(t, "hi\n", buf.String())
}

func TestApplySpawnSetupEnv(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	cmd := exec.Command("/bin/sh", "-c", "echo $GREETING")
	require.NoError(t, applySpawnSetup(cmd, []SpawnAction{Stdout(w), Env("GREETING", "hello")}))
	require.NoError(t, cmd.Start())
	require.NoError(t, w.Close())
	require.NoError(t, cmd.Wait())

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	require.Equal(t, "hello\n", buf.String())
}

func TestApplySpawnSetupPadsExtraFileGaps(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	// Dup only fd 5; fds 3 and 4 must be padded so fd 5 lands correctly.
	cmd := exec.Command("/bin/sh", "-c", "true")
	require.NoError(t, applySpawnSetup(cmd, []SpawnAction{Dup(5, w)}))
	require.Len(t, cmd.ExtraFiles, 3)
	require.NotNil(t, cmd.ExtraFiles[0])
	require.NotNil(t, cmd.ExtraFiles[1])
	require.Same(t, w, cmd.ExtraFiles[2])
}

func TestApplySpawnSetupOpenError(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "true")
	err := applySpawnSetup(cmd, []SpawnAction{Open(3, "/nonexistent/path/for/sure", os.O_RDONLY, 0)})
	require.Error(t, err)
}
