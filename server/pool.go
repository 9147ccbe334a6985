package server

import (
	"math/bits"

	"github.com/nats-io/nuid"
)

// connState is one of the slot lifecycle states.
type connState int

const (
	StateFree connState = iota
	StateNew
	StateReadingHeaders
	StateReadingBody
	StateWebSocket
	StateClosing
	StateClosed
)

func (s connState) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateNew:
		return "new"
	case StateReadingHeaders:
		return "reading-headers"
	case StateReadingBody:
		return "reading-body"
	case StateWebSocket:
		return "websocket"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Method is the HTTP method enum.
type Method int

const (
	MethodAny Method = iota
	MethodGET
	MethodHEAD
	MethodPOST
	MethodPUT
	MethodDELETE
	MethodOPTIONS
	MethodPATCH
)

func methodFromToken(tok string) (Method, bool) {
	switch tok {
	case "GET":
		return MethodGET, true
	case "HEAD":
		return MethodHEAD, true
	case "POST":
		return MethodPOST, true
	case "PUT":
		return MethodPUT, true
	case "DELETE":
		return MethodDELETE, true
	case "OPTIONS":
		return MethodOPTIONS, true
	case "PATCH":
		return MethodPATCH, true
	default:
		return MethodAny, false
	}
}

// wsFrameState is the WebSocket frame parser state embedded in a
// connSlot.
type wsFrameState struct {
	fin         bool
	masked      bool
	opcode      byte
	payloadLen  int
	payloadRead int
	maskKey     [4]byte
}

// connSlot is one fixed-capacity pool entry. poolIndex is cached for
// O(1) reverse lookup so a Request handle never needs a raw pointer
// into the pool, only a slot index.
type connSlot struct {
	fd     int
	cid    string // nuid-assigned correlation id, logged on every line
	state  connState
	method Method

	isWebSocket       bool
	keepAlive         bool
	upgradeWSPending  bool
	deferred          bool
	deferPaused       bool

	ws wsFrameState

	headerBytes    int
	contentLength  int64
	bytesReceived  int64

	poolIndex int
	lastActivity uint64 // monotonic tick, set by the event loop

	userCtx interface{}

	req    requestCtx
	wsc    wsContext
	sb     sendBuffer
	parser httpParserState
}

func (s *connSlot) reset() {
	// Selective reset: retain sb's underlying ring buffer storage and
	// req's header-storage/body-prefetch arrays, only clear the
	// cursors/flags that must not leak into the next request on this
	// slot.
	s.method = MethodAny
	s.isWebSocket = false
	s.keepAlive = false
	s.upgradeWSPending = false
	s.deferred = false
	s.deferPaused = false
	s.ws = wsFrameState{}
	s.wsc = wsContext{}
	s.headerBytes = 0
	s.contentLength = 0
	s.bytesReceived = 0
	s.userCtx = nil
	s.req.reset()
	s.parser.resetParser()
}

// connPool is the fixed array of N ≤ MaxSlots connection slots, with
// three bitmasks tracking which slots are active, write-pending, and
// WebSocket-upgraded.
type connPool struct {
	slots          [MaxSlots]connSlot
	n              int
	activeMask     uint32
	writePendMask  uint32
	wsActiveMask   uint32
}

func newConnPool(n int) *connPool {
	if n <= 0 || n > MaxSlots {
		n = MaxSlots
	}
	p := &connPool{n: n}
	for i := range p.slots {
		p.slots[i].fd = -1
		p.slots[i].poolIndex = i
		p.slots[i].state = StateFree
	}
	return p
}

// alloc finds the lowest zero bit in activeMask within [0, n), marks it,
// and returns the initialized slot. Returns nil if the pool is full.
func (p *connPool) alloc() *connSlot {
	if p == nil {
		return nil
	}
	limitMask := uint32(1)<<uint(p.n) - 1
	free := ^p.activeMask & limitMask
	if free == 0 {
		return nil
	}
	idx := bits.TrailingZeros32(free)
	p.activeMask |= 1 << uint(idx)
	s := &p.slots[idx]
	s.fd = -1
	s.state = StateNew
	s.poolIndex = idx
	s.cid = nuid.Next()
	s.reset()
	return s
}

// free clears all three bitmask bits and resets the slot to Free,
// fd=-1. Called during cleanup once the slot has reached StateClosed.
func (p *connPool) free(idx int) {
	if p == nil || idx < 0 || idx >= p.n {
		return
	}
	bit := uint32(1) << uint(idx)
	p.activeMask &^= bit
	p.writePendMask &^= bit
	p.wsActiveMask &^= bit
	s := &p.slots[idx]
	s.fd = -1
	s.state = StateFree
	s.cid = ""
}

func (p *connPool) markActive(idx int, active bool) {
	if p == nil || idx < 0 || idx >= p.n {
		return
	}
	bit := uint32(1) << uint(idx)
	if active {
		p.activeMask |= bit
	} else {
		p.activeMask &^= bit
	}
}

func (p *connPool) markWSActive(idx int, active bool) {
	if p == nil || idx < 0 || idx >= p.n {
		return
	}
	bit := uint32(1) << uint(idx)
	if active {
		p.wsActiveMask |= bit
	} else {
		p.wsActiveMask &^= bit
	}
}

func (p *connPool) markWritePending(idx int, pending bool) {
	if p == nil || idx < 0 || idx >= p.n {
		return
	}
	bit := uint32(1) << uint(idx)
	if pending {
		p.writePendMask |= bit
	} else {
		p.writePendMask &^= bit
	}
}

func (p *connPool) findByFd(fd int) *connSlot {
	if p == nil {
		return nil
	}
	mask := p.activeMask
	for mask != 0 {
		idx := bits.TrailingZeros32(mask)
		mask &^= 1 << uint(idx)
		if p.slots[idx].fd == fd {
			return &p.slots[idx]
		}
	}
	return nil
}

func (p *connPool) countActive() int {
	if p == nil {
		return 0
	}
	return bits.OnesCount32(p.activeMask)
}

// forEachActive invokes fn(idx) for every active slot, in ascending
// index order, snapshotting the mask first so that a dispatch cycle
// sees a stable set even if fn mutates the pool.
func (p *connPool) forEachActive(fn func(idx int)) {
	if p == nil {
		return
	}
	mask := p.activeMask
	for mask != 0 {
		idx := bits.TrailingZeros32(mask)
		mask &^= 1 << uint(idx)
		fn(idx)
	}
}

func (p *connPool) forEachWritePending(fn func(idx int)) {
	if p == nil {
		return
	}
	mask := p.writePendMask
	for mask != 0 {
		idx := bits.TrailingZeros32(mask)
		mask &^= 1 << uint(idx)
		fn(idx)
	}
}

// nonWebSocketActive returns the active-but-not-WebSocket mask, used
// by the timeout scan: WebSocket connections are excluded from
// inactivity timeout.
func (p *connPool) nonWebSocketActive() uint32 {
	return p.activeMask &^ p.wsActiveMask
}

func (p *connPool) forEachMask(mask uint32, fn func(idx int)) {
	for mask != 0 {
		idx := bits.TrailingZeros32(mask)
		mask &^= 1 << uint(idx)
		fn(idx)
	}
}

// scanTimeouts marks any non-WebSocket active slot whose last activity
// is older than timeoutTicks as Closed.
func (p *connPool) scanTimeouts(nowTick, timeoutTicks uint64) {
	p.forEachMask(p.nonWebSocketActive(), func(idx int) {
		s := &p.slots[idx]
		if nowTick-s.lastActivity > timeoutTicks {
			s.state = StateClosed
		}
	})
}
