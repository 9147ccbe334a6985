//go:build !linux

package server

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the portable fallback readiness primitive for non-Linux
// build targets, implemented with poll(2) via golang.org/x/sys/unix —
// the same dependency the Linux epoll poller uses, kept a single
// source of truth for low-level socket options (see setNonblocking et
// al. below).
type pollPoller struct {
	fds      map[int]*unix.PollFd
	listener int
}

func newPoller() (poller, error) {
	return &pollPoller{fds: make(map[int]*unix.PollFd), listener: -1}, nil
}

func (p *pollPoller) addListener(fd int) error {
	p.listener = fd
	pf := unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	p.fds[fd] = &pf
	return nil
}

func (p *pollPoller) addConn(fd int, writable bool) error {
	var events int16 = unix.POLLIN
	if writable {
		events |= unix.POLLOUT
	}
	pf := unix.PollFd{Fd: int32(fd), Events: events}
	p.fds[fd] = &pf
	return nil
}

func (p *pollPoller) setWritable(fd int, writable bool) error {
	pf, ok := p.fds[fd]
	if !ok {
		return NewError(ErrInvalidArg, "fd not registered")
	}
	if writable {
		pf.Events |= unix.POLLOUT
	} else {
		pf.Events &^= unix.POLLOUT
	}
	return nil
}

func (p *pollPoller) remove(fd int) error {
	delete(p.fds, fd)
	return nil
}

func (p *pollPoller) wait(timeout time.Duration) ([]readyEvent, error) {
	list := make([]unix.PollFd, 0, len(p.fds))
	for _, pf := range p.fds {
		list = append(list, *pf)
	}
	ms := int(timeout / time.Millisecond)
	if ms < 0 {
		ms = 0
	}
	n, err := unix.Poll(list, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, WrapError(ErrIO, err)
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]readyEvent, 0, n)
	for _, pf := range list {
		if pf.Revents == 0 {
			continue
		}
		out = append(out, readyEvent{
			fd:       int(pf.Fd),
			readable: pf.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0,
			writable: pf.Revents&unix.POLLOUT != 0,
		})
	}
	return out, nil
}

func (p *pollPoller) close() error { return nil }

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
