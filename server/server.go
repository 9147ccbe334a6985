package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/nats-io/nuid"
)

// mountedRouter is one prefix-scoped router in the dispatch chain: the
// request path has the prefix stripped before the radix lookup runs,
// and routers are tried in mount order before the fallback router.
type mountedRouter struct {
	prefix string
	router *radixRouter
}

// Server is the top-level orchestrator: it owns the connection pool,
// the event loop, the mounted routers and their fallback, the channel
// registry, and the listener.
type Server struct {
	opts *Options
	pool *connPool
	loop *eventLoop

	fallback *radixRouter
	mounted  []mountedRouter

	channels *channelRegistry

	listener net.Listener

	mu       sync.Mutex
	shutdown bool
	doneCh   chan struct{}

	nuidGen *nuid.NUID
}

// NewServer validates opts and wires up the pool, router, and channel
// registry. The event loop and listener are not started until Serve.
func NewServer(opts *Options) (*Server, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	s := &Server{
		opts:     opts,
		pool:     newConnPool(opts.MaxConnections),
		fallback: newRadixRouter(opts),
		channels: newChannelRegistry(opts.MaxChannels),
		doneCh:   make(chan struct{}),
		nuidGen:  nuid.New(),
	}
	return s, nil
}

func (s *Server) logger() Logger {
	if s.opts.Logger != nil {
		return s.opts.Logger
	}
	return NoOpLogger{}
}

// Mount attaches a router scoped to prefix, tried before the fallback
// router in Serve's dispatch. Routers are tried in the order mounted.
func (s *Server) Mount(prefix string, router *radixRouter) {
	s.mounted = append(s.mounted, mountedRouter{prefix: strings.TrimSuffix(prefix, "/"), router: router})
}

// Router returns the fallback radix router, the one most callers want
// for a single-prefix server.
func (s *Server) Router() *radixRouter { return s.fallback }

func (s *Server) Channels() *channelRegistry { return s.channels }

// Serve binds the listener, starts the event loop, and blocks until ctx
// is cancelled or Shutdown is called.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.opts.Port))
	if err != nil {
		return WrapError(ErrIO, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener runs the loop over an already-bound listener, useful
// for tests that bind to an ephemeral port.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.listener = ln
	loop, err := newEventLoop(s)
	if err != nil {
		return err
	}
	s.loop = loop
	if err := loop.attach(ln); err != nil {
		return err
	}
	defer func() {
		_ = ln.Close()
		close(s.doneCh)
	}()
	return loop.Run(ctx)
}

// Shutdown requests the loop to stop after its current iteration and
// waits (up to ctx) for Serve to return: write-pending slots get one
// more drain pass, then the poller is closed and Serve closes the
// listener. Connection fds are not closed here.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	if s.loop != nil {
		s.pool.forEachWritePending(func(idx int) {
			slot := &s.pool.slots[idx]
			_, _ = slot.sb.drain(defaultWriter, slot.fd)
		})
		s.loop.requestStop()
		s.loop.stop()
	}
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func syscallAccept(listenFd int) (int, syscall.Sockaddr, error) {
	nfd, sa, err := syscall.Accept(listenFd)
	if err != nil {
		return -1, nil, err
	}
	return nfd, sa, nil
}

// onDataReceived is the event loop's read callback: it routes the
// bytes to the header parser, the body reader, or the WebSocket frame
// codec depending on the slot's current state.
func (s *Server) onDataReceived(slot *connSlot, data []byte) {
	switch slot.state {
	case StateReadingHeaders:
		s.feedHeaders(slot, data)
	case StateReadingBody:
		s.feedBody(slot, data)
	case StateWebSocket:
		s.feedWebSocket(slot, data)
	default:
	}
}

func (s *Server) feedHeaders(slot *connSlot, data []byte) {
	res, err := slot.parseRequest(data)
	switch res {
	case ParseNeedMore:
		return
	case ParseError:
		s.respondAndClose(slot, defaultStatusForKind(KindOf(err)), "bad request")
		return
	case ParseOk:
		slot.state = StateReadingBody
		s.dispatchOrDefer(slot)
	case ParseComplete:
		s.dispatchOrDefer(slot)
	}
}

func (s *Server) feedBody(slot *connSlot, data []byte) {
	need := slot.contentLength - slot.bytesReceived
	if need <= 0 {
		return
	}
	n := int64(len(data))
	if n > need {
		n = need
	}
	if slot.req.deferred.active && slot.req.deferred.onBody != nil {
		if err := slot.req.deferred.onBody(data[:n]); err != nil {
			s.closeSlot(slot, err)
			return
		}
	}
	slot.bytesReceived += n
	if slot.bytesReceived >= slot.contentLength {
		slot.state = StateReadingHeaders
		if slot.req.deferred.active && slot.req.deferred.onDone != nil {
			slot.req.deferred.onDone(nil)
		}
		if !slot.req.deferred.active {
			s.dispatchRequest(slot)
		}
	}
}

func (s *Server) feedWebSocket(slot *connSlot, data []byte) {
	sendCtl := func(op wsOpcode, payload []byte) {
		frame := wsBuildFrame(op, payload, true)
		if err := slot.sb.queue(frame); err != nil {
			s.closeSlot(slot, err)
			return
		}
		s.loop.markWritePendingAndArm(slot)
	}
	buf := data
	for len(buf) > 0 {
		consumed, result, msg, err := slot.wsc.processFrame(buf, sendCtl)
		if consumed > 0 {
			buf = buf[consumed:]
		} else {
			break
		}
		switch result {
		case WSNeedMore:
		case WSComplete:
			if msg != nil {
				s.dispatchWSMessage(slot, msg)
			}
		case WSClose:
			s.closeSlot(slot, nil)
			return
		case WSError:
			s.closeSlot(slot, err)
			return
		}
	}
}

// dispatchOrDefer runs the router lookup and, if a handler called
// Defer on the request, leaves the slot in StateReadingBody for
// feedBody to drive; otherwise it runs the handler chain immediately.
func (s *Server) dispatchOrDefer(slot *connSlot) {
	s.dispatchRequest(slot)
}

func (s *Server) lookupRoute(path string) (matchResult, string) {
	for _, m := range s.mounted {
		if strings.HasPrefix(path, m.prefix) {
			stripped := strings.TrimPrefix(path, m.prefix)
			if stripped == "" {
				stripped = "/"
			}
			res := m.router.lookup(stripped, s.opts.MaxRouteParams, s.opts.MaxTotalMiddleware)
			if res.matched {
				return res, stripped
			}
		}
	}
	return s.fallback.lookup(path, s.opts.MaxRouteParams, s.opts.MaxTotalMiddleware), path
}

func (s *Server) dispatchRequest(slot *connSlot) {
	path := slot.req.path
	res, _ := s.lookupRoute(path)
	if !res.matched {
		s.respondAndClose(slot, 404, "not found")
		return
	}

	if res.handlers.isWS {
		if slot.upgradeWSPending && slot.wsc.handshakeKey != "" {
			s.completeWSUpgrade(slot, res)
			return
		}
		s.respondAndClose(slot, 400, "websocket upgrade required")
		return
	}

	chain := res.handlers.byMethod[slot.method]
	if len(chain) == 0 {
		chain = res.handlers.byMethod[MethodAny]
	}
	if len(chain) == 0 {
		s.respondAndClose(slot, 405, "method not allowed")
		return
	}

	slot.req.numParams = res.numParams
	slot.req.params = res.params
	slot.req.middleware = res.middleware
	slot.req.mwCursor = 0

	req := &Request{srv: s, slot: slot.poolIndex}
	idx := 0
	var run func() error
	run = func() error {
		if idx < len(req.ctx().middleware) {
			mw := req.ctx().middleware[idx]
			idx++
			return mw(req, run)
		}
		for _, h := range chain {
			req.SetUserCtx(h.userCtx)
			if err := h.handler(req); err != nil {
				return err
			}
		}
		return nil
	}
	if err := run(); err != nil {
		s.respondAndClose(slot, defaultStatusForKind(KindOf(err)), err.Error())
		return
	}
	if slot.state == StateReadingHeaders && !slot.req.async.active {
		s.finishRequest(slot)
	}
}

func (s *Server) dispatchWSMessage(slot *connSlot, msg *WSMessage) {
	path := slot.req.path
	res, _ := s.lookupRoute(path)
	if !res.matched || res.handlers.wsHandler == nil {
		return
	}
	conn := &WSConn{srv: s, slot: slot.poolIndex}
	_ = res.handlers.wsHandler(conn, WSEvent{Type: WSEventMessage, Message: msg})
}

func (s *Server) completeWSUpgrade(slot *connSlot, res matchResult) {
	accept := wsComputeAcceptKey(slot.wsc.handshakeKey)
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n\r\n"
	if err := slot.sb.queue([]byte(resp)); err != nil {
		s.closeSlot(slot, err)
		return
	}
	s.loop.markWritePendingAndArm(slot)
	slot.state = StateWebSocket
	slot.isWebSocket = true
	slot.wsc.connected = true
	slot.wsc.resetFrame()

	conn := &WSConn{srv: s, slot: slot.poolIndex}
	if res.handlers.wsHandler != nil {
		_ = res.handlers.wsHandler(conn, WSEvent{Type: WSEventOpen})
	}
}

// finishRequest writes a default response when the handler chain ran
// to completion without explicitly sending one, and advances keep-alive
// state: StateReadingHeaders if the connection stays open, otherwise
// StateClosing.
func (s *Server) finishRequest(slot *connSlot) {
	if slot.req.statusCode == 0 {
		slot.req.statusCode = 200
	}
	if !slot.req.headersSent {
		req := &Request{srv: s, slot: slot.poolIndex}
		req.writeHeaderLine(slot.req.statusCode, "", 0)
		if s.loop != nil {
			s.loop.markWritePendingAndArm(slot)
		}
	}
	if slot.keepAlive {
		slot.reset()
		slot.state = StateReadingHeaders
	} else {
		slot.state = StateClosing
	}
}

func (s *Server) respondAndClose(slot *connSlot, status int, body string) {
	resp := "HTTP/1.1 " + strconv.Itoa(status) + " " + statusText(status) + "\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"Connection: close\r\n\r\n" + body
	_ = slot.sb.queue([]byte(resp))
	if s.loop != nil {
		s.loop.markWritePendingAndArm(slot)
	}
	slot.keepAlive = false
	slot.state = StateClosing
}

func (s *Server) respondUnauthorized(req *Request, realm string) {
	slot := req.ctx()
	body := "unauthorized"
	resp := "HTTP/1.1 401 Unauthorized\r\n" +
		"WWW-Authenticate: Basic realm=\"" + realm + "\"\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"Connection: close\r\n\r\n" + body
	_ = slot.sb.queue([]byte(resp))
	if s.loop != nil {
		s.loop.markWritePendingAndArm(slot)
	}
	slot.keepAlive = false
	slot.state = StateClosing
}

// closeSlot transitions a slot to Closed; the event loop's reapClosed
// pass actually frees the fd and the pool entry. Any pending deferred
// body read or async send is completed with ErrConnClosed so a handler
// waiting on onDone never hangs past a disconnect.
func (s *Server) closeSlot(slot *connSlot, err error) {
	if err != nil {
		s.logger().Debugf("conn %s closing: %v", slot.cid, err)
	}
	if slot.req.deferred.active && slot.req.deferred.onDone != nil {
		slot.req.deferred.active = false
		slot.req.deferred.onDone(NewError(ErrConnClosed, "connection closed with a deferred body read pending"))
	}
	if slot.req.async.active && slot.req.async.onDone != nil {
		slot.req.async.active = false
		slot.req.async.onDone(NewError(ErrConnClosed, "connection closed with an async send pending"))
	}
	if slot.isWebSocket {
		s.invokeWSClose(slot)
	}
	slot.state = StateClosed
}

func (s *Server) invokeWSClose(slot *connSlot) {
	path := slot.req.path
	res, _ := s.lookupRoute(path)
	if res.matched && res.handlers.wsHandler != nil {
		conn := &WSConn{srv: s, slot: slot.poolIndex}
		_ = res.handlers.wsHandler(conn, WSEvent{Type: WSEventClose})
	}
	slot.wsc.channelMask = 0
}

// invokeDisconnect is the event loop's hook for the pool-free pass. It
// does nothing for any slot: the server has no disconnect
// callback to call, and a WebSocket slot's close event already ran in
// closeSlot.
func (s *Server) invokeDisconnect(slot *connSlot) {
	if !slot.isWebSocket {
		return
	}
}

func (s *Server) newCID() string { return s.nuidGen.Next() }
