package server

import "time"

// readyEvent is one fd's readiness result from a poller.wait call.
type readyEvent struct {
	fd       int
	readable bool
	writable bool
}

// poller is the readiness primitive the event loop waits on: one call
// blocks for I/O readiness across every registered fd. Two
// implementations exist: poller_linux.go (epoll, via
// golang.org/x/sys/unix) and poller_other.go (poll(2), same dependency).
type poller interface {
	// addListener registers the listening socket for read (accept)
	// readiness.
	addListener(fd int) error
	// addConn registers a connection fd for read readiness, and for
	// write readiness too if writable is true.
	addConn(fd int, writable bool) error
	// setWritable toggles write-readiness interest for fd without
	// disturbing read interest.
	setWritable(fd int, writable bool) error
	// remove deregisters fd entirely.
	remove(fd int) error
	// wait blocks up to timeout for readiness, returning the fds that
	// became ready. A zero-length result with no error means the
	// bounded wait elapsed without any fd becoming ready.
	wait(timeout time.Duration) ([]readyEvent, error)
	close() error
}
