package workerpool

import (
	"os"
	"os/exec"

	"github.com/frioux/reactor"
	"golang.org/x/sys/unix"
)

// channelFD is the fd number the worker's control Channel is always bound
// to in the child process: a socketpair end handed down via ExtraFiles at
// a fixed slot.
const channelFD = 3

// worker is one spawned child process and its control Channel: child
// identity, request/response channel, busy flag, calls served.
type worker struct {
	pid         int
	cmd         *exec.Cmd
	channel     *Channel
	busy        bool
	pendingID   uint32
	callsServed int
}

// spawnWorker forks binPath with args, handing it a control Channel bound
// to fd 3, and registers the parent side's Stream with r. onMessage
// receives every decoded record from the child; onExit fires once, from
// the reactor's child reaper, when the process terminates for any reason.
func spawnWorker(
	r *reactor.Reactor,
	binPath string,
	args []string,
	setup []SpawnAction,
	onMessage func(*worker, MessageType, uint32, []byte),
	onExit func(*worker, reactor.ChildStatus),
) (*worker, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, &reactor.IOError{Op: "socketpair", Cause: err}
	}
	parentFD, childFD := fds[0], fds[1]
	childFile := os.NewFile(uintptr(childFD), "workerpool-channel")

	cmd := exec.Command(binPath, args...)
	allSetup := append([]SpawnAction{Dup(channelFD, childFile)}, setup...)
	if err := applySpawnSetup(cmd, allSetup); err != nil {
		_ = unix.Close(parentFD)
		_ = unix.Close(childFD)
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		_ = unix.Close(parentFD)
		_ = unix.Close(childFD)
		return nil, &reactor.IOError{Op: "start worker", Cause: err}
	}
	_ = childFile.Close()

	applyPostStart(cmd.Process.Pid, setup)

	w := &worker{pid: cmd.Process.Pid, cmd: cmd}

	stream, err := reactor.NewStream(reactor.WithStreamHandle(reactor.WithReadFD(parentFD)))
	if err != nil {
		return nil, err
	}
	if err := r.Register(stream); err != nil {
		return nil, err
	}
	w.channel = NewChannel(stream, func(t MessageType, id uint32, payload []byte) {
		onMessage(w, t, id, payload)
	})

	r.WatchChild(w.pid, func(status reactor.ChildStatus) {
		onExit(w, status)
	})

	return w, nil
}

// stop closes the worker's channel, which the child observes as EOF on
// its own end and is expected to exit in response.
func (w *worker) stop() {
	_ = w.channel.Stream().Close()
}

// kill sends SIGKILL directly, for callers that can't wait on a graceful
// channel-close exit. Pool itself only uses stop.
func (w *worker) kill() {
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
}
