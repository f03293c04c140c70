//go:build !linux && !windows

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollMultiplexer implements Multiplexer using poll(2), for platforms
// without an epoll backend (BSD/Darwin). A production build would prefer
// kqueue on those platforms; poll(2) is the portable fallback the
// Multiplexer contract explicitly allows.
type pollMultiplexer struct {
	mu  sync.Mutex
	fds map[int]IOEvents
}

func newMultiplexer() (Multiplexer, error) {
	return &pollMultiplexer{fds: make(map[int]IOEvents)}, nil
}

func (p *pollMultiplexer) Add(fd int, mask IOEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fds[fd]; ok {
		return &IOError{Op: "poll(add)", Cause: unix.EEXIST}
	}
	p.fds[fd] = mask
	return nil
}

func (p *pollMultiplexer) Modify(fd int, mask IOEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fds[fd]; !ok {
		return &IOError{Op: "poll(mod)", Cause: unix.ENOENT}
	}
	p.fds[fd] = mask
	return nil
}

func (p *pollMultiplexer) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, fd)
	return nil
}

func toPollEvents(mask IOEvents) int16 {
	var e int16
	if mask&EventReadable != 0 {
		e |= unix.POLLIN
	}
	if mask&EventWritable != 0 {
		e |= unix.POLLOUT
	}
	return e
}

func fromPollEvents(e int16) IOEvents {
	var mask IOEvents
	if e&unix.POLLIN != 0 {
		mask |= EventReadable
	}
	if e&unix.POLLOUT != 0 {
		mask |= EventWritable
	}
	if e&unix.POLLHUP != 0 {
		mask |= EventHangup
	}
	if e&(unix.POLLERR|unix.POLLNVAL) != 0 {
		mask |= EventError
	}
	return mask
}

func (p *pollMultiplexer) Wait(timeout time.Duration) ([]pollEvent, error) {
	p.mu.Lock()
	fds := make([]unix.PollFd, 0, len(p.fds))
	order := make([]int, 0, len(p.fds))
	for fd, mask := range p.fds {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: toPollEvents(mask)})
		order = append(order, fd)
	}
	p.mu.Unlock()

	ms := durationToPollMillis(timeout)
	n, err := unix.Poll(fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, &IOError{Op: "poll", Cause: err}
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]pollEvent, 0, n)
	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		out = append(out, pollEvent{FD: order[i], Events: fromPollEvents(pfd.Revents)})
	}
	return out, nil
}

func (p *pollMultiplexer) Close() error {
	return nil
}

func durationToPollMillis(d time.Duration) int {
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
