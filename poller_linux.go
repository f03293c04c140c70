//go:build linux

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollMultiplexer implements Multiplexer using Linux epoll, backed by a
// plain map-based fd registry since this reactor is single-threaded and
// has no need for a fixed-size, concurrency-safe table.
type epollMultiplexer struct {
	epfd int
	mu   sync.Mutex
	fds  map[int]IOEvents
	buf  []unix.EpollEvent
}

// newMultiplexer constructs the platform-default Multiplexer.
func newMultiplexer() (Multiplexer, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, &IOError{Op: "epoll_create1", Cause: err}
	}
	return &epollMultiplexer{
		epfd: epfd,
		fds:  make(map[int]IOEvents),
		buf:  make([]unix.EpollEvent, 256),
	}, nil
}

func toEpollEvents(mask IOEvents) uint32 {
	var e uint32
	if mask&EventReadable != 0 {
		e |= unix.EPOLLIN
	}
	if mask&EventWritable != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpollEvents(e uint32) IOEvents {
	var mask IOEvents
	if e&unix.EPOLLIN != 0 {
		mask |= EventReadable
	}
	if e&unix.EPOLLOUT != 0 {
		mask |= EventWritable
	}
	if e&unix.EPOLLHUP != 0 {
		mask |= EventHangup
	}
	if e&unix.EPOLLERR != 0 {
		mask |= EventError
	}
	return mask
}

func (p *epollMultiplexer) Add(fd int, mask IOEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fds[fd]; ok {
		return &IOError{Op: "epoll_ctl(add)", Cause: unix.EEXIST}
	}
	ev := &unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return &IOError{Op: "epoll_ctl(add)", Cause: err}
	}
	p.fds[fd] = mask
	return nil
}

func (p *epollMultiplexer) Modify(fd int, mask IOEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fds[fd]; !ok {
		return &IOError{Op: "epoll_ctl(mod)", Cause: unix.ENOENT}
	}
	ev := &unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return &IOError{Op: "epoll_ctl(mod)", Cause: err}
	}
	p.fds[fd] = mask
	return nil
}

func (p *epollMultiplexer) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fds[fd]; !ok {
		return nil
	}
	delete(p.fds, fd)
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	return nil
}

func (p *epollMultiplexer) Wait(timeout time.Duration) ([]pollEvent, error) {
	ms := durationToEpollMillis(timeout)
	n, err := unix.EpollWait(p.epfd, p.buf, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, &IOError{Op: "epoll_wait", Cause: err}
	}
	out := make([]pollEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, pollEvent{
			FD:     int(p.buf[i].Fd),
			Events: fromEpollEvents(p.buf[i].Events),
		})
	}
	return out, nil
}

func (p *epollMultiplexer) Close() error {
	return unix.Close(p.epfd)
}

func durationToEpollMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms < 0 {
		return 0
	}
	if ms > int64(int(^uint(0)>>1)) {
		return int(^uint(0) >> 1)
	}
	return int(ms)
}
