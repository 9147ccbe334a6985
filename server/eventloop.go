package server

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/time/rate"
)

// eventLoop is the single-threaded cooperative driver: one goroutine
// owns the listener and the readiness wait, and every handler callback
// runs on that same goroutine.
type eventLoop struct {
	srv      *Server
	poll     poller
	listenFd int
	running  bool
	shutdownRequested bool
	tick     uint64
	timeoutTicks uint64
	acceptLimiter *rate.Limiter
}

func newEventLoop(srv *Server) (*eventLoop, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	selTimeout := srv.opts.selectTimeout()
	timeout := srv.opts.timeout()
	timeoutTicks := uint64(1)
	if selTimeout > 0 {
		timeoutTicks = uint64(timeout / selTimeout)
		if timeoutTicks == 0 {
			timeoutTicks = 1
		}
	}
	return &eventLoop{
		srv:          srv,
		poll:         p,
		listenFd:     -1,
		timeoutTicks: timeoutTicks,
		// x/time/rate throttles accept() against a connection flood.
		acceptLimiter: rate.NewLimiter(rate.Limit(srv.opts.AcceptBacklogRate), srv.opts.AcceptBacklogBurst),
	}, nil
}

func listenerFd(l net.Listener) (int, error) {
	sc, ok := l.(interface {
		SyscallConn() (syscall.RawConn, error)
	})
	if !ok {
		return -1, NewError(ErrInvalidArg, "listener does not expose a raw fd")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, WrapError(ErrIO, err)
	}
	var fd int
	cerr := raw.Control(func(f uintptr) { fd = int(f) })
	if cerr != nil {
		return -1, WrapError(ErrIO, cerr)
	}
	return fd, nil
}

// attach registers the listener with the poller and marks the loop
// running. SO_REUSEADDR is applied here; the listening socket itself is
// switched to non-blocking mode before registration.
func (el *eventLoop) attach(l net.Listener) error {
	fd, err := listenerFd(l)
	if err != nil {
		return err
	}
	if el.srv.opts.ReuseAddr {
		_ = setReuseAddr(fd, true)
	}
	if err := setNonblocking(fd); err != nil {
		return WrapError(ErrIO, err)
	}
	if err := el.poll.addListener(fd); err != nil {
		return err
	}
	el.listenFd = fd
	el.running = true
	return nil
}

// Run drives the loop until ctx is cancelled or requestStop is called.
// Each iteration waits for readiness, scans for timeouts on an empty
// wait, then dispatches: accepts first, then writes, then reads, so a
// connection that both drains and refills in the same tick sees its
// write flushed before new data is parsed.
func (el *eventLoop) Run(ctx context.Context) error {
	for el.running && !el.shutdownRequested {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		events, err := el.poll.wait(el.srv.opts.selectTimeout())
		if err != nil {
			el.srv.logger().Errorf("poll wait: %v", err)
			continue
		}
		if len(events) == 0 {
			el.tick++
			el.srv.pool.scanTimeouts(el.tick, el.timeoutTicks)
			el.reapClosed()
			continue
		}

		for _, ev := range events {
			if ev.fd == el.listenFd {
				el.handleAccept()
				continue
			}
		}
		for _, ev := range events {
			if ev.fd == el.listenFd {
				continue
			}
			if ev.writable {
				el.handleWritable(ev.fd)
			}
		}
		for _, ev := range events {
			if ev.fd == el.listenFd {
				continue
			}
			if ev.readable {
				el.handleReadable(ev.fd)
			}
		}
		el.reapClosed()
	}
	return nil
}

func (el *eventLoop) handleAccept() {
	if !el.acceptLimiter.Allow() {
		// Over the accept rate: accept and immediately close, rather
		// than queueing the connection for later.
		fd, _, err := syscallAccept(el.listenFd)
		if err == nil {
			syscall.Close(fd)
		}
		return
	}
	fd, _, err := syscallAccept(el.listenFd)
	if err != nil {
		return
	}
	slot := el.srv.pool.alloc()
	if slot == nil {
		syscall.Close(fd)
		return
	}
	if el.srv.opts.NoDelay {
		_ = setNoDelay(fd, true)
	}
	_ = setNonblocking(fd)
	slot.fd = fd
	slot.state = StateReadingHeaders
	slot.lastActivity = el.tick
	if err := el.poll.addConn(fd, false); err != nil {
		el.srv.closeSlot(slot, err)
		return
	}
	el.srv.logger().Debugf("accepted conn %s fd=%d", slot.cid, fd)
}

func (el *eventLoop) handleWritable(fd int) {
	slot := el.srv.pool.findByFd(fd)
	if slot == nil {
		return
	}
	emptied, err := slot.sb.drain(defaultWriter, fd)
	if err != nil {
		el.srv.closeSlot(slot, err)
		return
	}
	if emptied {
		el.srv.pool.markWritePending(slot.poolIndex, false)
		_ = el.poll.setWritable(fd, false)
		if slot.req.async.active {
			slot.req.async.active = false
			if cb := slot.req.async.onDone; cb != nil {
				cb(nil)
			}
		}
	}
}

func (el *eventLoop) handleReadable(fd int) {
	slot := el.srv.pool.findByFd(fd)
	if slot == nil {
		return
	}
	slot.lastActivity = el.tick
	buf := make([]byte, el.srv.opts.RecvBufferSize)
	n, err := syscall.Read(fd, buf)
	if n > 0 {
		el.srv.onDataReceived(slot, buf[:n])
	}
	if err != nil && !isWouldBlock(err) {
		el.srv.closeSlot(slot, WrapError(ErrIO, err))
		return
	}
	if n == 0 && err == nil {
		el.srv.closeSlot(slot, NewError(ErrConnClosed, "peer closed connection"))
	}
}

// reapClosed sweeps active slots for ones a handler or read/write
// failure marked Closed, fires the disconnect hook, and frees the slot.
func (el *eventLoop) reapClosed() {
	el.srv.pool.forEachActive(func(idx int) {
		s := &el.srv.pool.slots[idx]
		if s.state != StateClosed {
			return
		}
		el.srv.invokeDisconnect(s)
		if s.fd >= 0 {
			_ = el.poll.remove(s.fd)
			syscall.Close(s.fd)
		}
		el.srv.pool.free(idx)
	})
}

// markWritePendingAndArm is called by response code after queuing
// bytes, so the loop selects the slot's fd for writability.
func (el *eventLoop) markWritePendingAndArm(slot *connSlot) {
	el.srv.pool.markWritePending(slot.poolIndex, true)
	_ = el.poll.setWritable(slot.fd, true)
}

// requestStop sets the shutdown flag; the loop exits at the top of the
// next iteration.
func (el *eventLoop) requestStop() { el.shutdownRequested = true }

func (el *eventLoop) stop() {
	el.running = false
	if el.poll != nil {
		_ = el.poll.close()
	}
}
