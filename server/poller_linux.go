//go:build linux

package server

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller implements poller on Linux using golang.org/x/sys/unix's
// epoll bindings.
type epollPoller struct {
	epfd int
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, WrapError(ErrIO, err)
	}
	return &epollPoller{epfd: fd}, nil
}

func (p *epollPoller) ctl(op int, fd int, readable, writable bool) error {
	var events uint32 = unix.EPOLLRDHUP
	if readable {
		events |= unix.EPOLLIN
	}
	if writable {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return WrapError(ErrIO, err)
	}
	return nil
}

func (p *epollPoller) addListener(fd int) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, true, false)
}

func (p *epollPoller) addConn(fd int, writable bool) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, true, writable)
}

func (p *epollPoller) setWritable(fd int, writable bool) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, true, writable)
}

func (p *epollPoller) remove(fd int) error {
	// EpollCtl with nil event is accepted by the kernel for DEL.
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return WrapError(ErrIO, err)
	}
	return nil
}

func (p *epollPoller) wait(timeout time.Duration) ([]readyEvent, error) {
	ms := int(timeout / time.Millisecond)
	if ms < 0 {
		ms = 0
	}
	events := make([]unix.EpollEvent, MaxSlots+1)
	n, err := unix.EpollWait(p.epfd, events, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, WrapError(ErrIO, err)
	}
	out := make([]readyEvent, 0, n)
	for i := 0; i < n; i++ {
		e := events[i]
		out = append(out, readyEvent{
			fd:       int(e.Fd),
			readable: e.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			writable: e.Events&unix.EPOLLOUT != 0,
		})
	}
	return out, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}

func setNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}

func setNoDelay(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolToInt(on))
}

func setReuseAddr(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolToInt(on))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
