package workerpool

import (
	"io"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/frioux/reactor"
	"github.com/stretchr/testify/require"
)

// helperProcessEnv, when set to "1" in the child's environment, turns the
// test binary itself into a worker process speaking the channel wire
// format on fd 3 - the same re-exec trick os/exec's own test suite uses to
// get a real child process without a separate build step.
const helperProcessEnv = "WORKERPOOL_HELPER_PROCESS"

func TestMain(m *testing.M) {
	if os.Getenv(helperProcessEnv) == "1" {
		runHelperWorker()
		return
	}
	os.Exit(m.Run())
}

// runHelperWorker reads call records off fd 3 and replies with the sum of
// its flat-encoded integer arguments.
func runHelperWorker() {
	ch := os.NewFile(uintptr(channelFD), "channel")
	defer ch.Close()

	for {
		header := make([]byte, headerLen)
		if _, err := io.ReadFull(ch, header); err != nil {
			return
		}
		h := decodeHeader(header)
		payload := make([]byte, h.Length)
		if h.Length > 0 {
			if _, err := io.ReadFull(ch, payload); err != nil {
				return
			}
		}
		if h.Type != MsgCall {
			continue
		}
		args, err := FlatMarshaller.Unmarshal(payload)
		if err != nil {
			writeFrame(ch, MsgError, h.ID, []byte(err.Error()))
			continue
		}
		var sum int64
		for _, a := range args {
			n, _ := strconv.ParseInt(a.(string), 10, 64)
			sum += n
		}
		out, err := FlatMarshaller.Marshal([]any{strconv.FormatInt(sum, 10)})
		if err != nil {
			writeFrame(ch, MsgError, h.ID, []byte(err.Error()))
			continue
		}
		writeFrame(ch, MsgReturn, h.ID, out)
	}
}

func writeFrame(w io.Writer, t MessageType, id uint32, payload []byte) {
	header := encodeHeader(frameHeader{Type: t, ID: id, Length: uint32(len(payload))})
	_, _ = w.Write(header)
	_, _ = w.Write(payload)
}

func selfExecConfig(t *testing.T) Config {
	t.Helper()
	bin, err := os.Executable()
	require.NoError(t, err)
	return Config{
		Command:    bin,
		Args:       []string{"-test.run=^$"},
		Setup:      []SpawnAction{Env(helperProcessEnv, "1")},
		Marshaller: FlatMarshaller,
		MinWorkers: 1,
		MaxWorkers: 2,
	}
}

func TestPoolCallRoundTrip(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	p, err := NewPool(r, "sum", selfExecConfig(t))
	require.NoError(t, err)

	f := p.Call("2", "40")
	require.NoError(t, r.Await(f))
	results := f.Get().([]any)
	require.Len(t, results, 1)
	require.Equal(t, "42", results[0])
}

func TestPoolMetricsReportsBusyAndIdle(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	cfg := selfExecConfig(t)
	cfg.MinWorkers = 2
	cfg.MaxWorkers = 2
	p, err := NewPool(r, "metrics", cfg)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		require.NoError(t, r.RunOnce(5*time.Millisecond))
		return p.Workers() == 2
	}, 2*time.Second, 5*time.Millisecond)

	f := p.Call("1", "1")

	m := p.Metrics()
	require.Equal(t, 1, m.Busy)
	require.Equal(t, 1, m.Idle)

	require.NoError(t, r.Await(f))
}

func TestPoolMaintainsMinWorkers(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	cfg := selfExecConfig(t)
	cfg.MinWorkers = 2
	cfg.MaxWorkers = 2
	p, err := NewPool(r, "minworkers", cfg)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		require.NoError(t, r.RunOnce(5*time.Millisecond))
		return p.Workers() == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPoolRestartRespawnsWorkers(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	p, err := NewPool(r, "restart", selfExecConfig(t))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		require.NoError(t, r.RunOnce(5*time.Millisecond))
		return p.Workers() == 1
	}, 2*time.Second, 5*time.Millisecond)

	p.Restart()
	require.Eventually(t, func() bool {
		require.NoError(t, r.RunOnce(5*time.Millisecond))
		return p.Workers() == 1
	}, 2*time.Second, 5*time.Millisecond)
}
