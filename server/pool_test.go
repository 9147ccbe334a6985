package server

import "testing"

func TestConnPoolAllocFree(t *testing.T) {
	p := newConnPool(4)

	s1 := p.alloc()
	if s1 == nil {
		t.Fatalf("expected a slot from a fresh pool")
	}
	if p.countActive() != 1 {
		t.Fatalf("expected 1 active slot, got %d", p.countActive())
	}

	idx := s1.poolIndex
	p.free(idx)
	if p.countActive() != 0 {
		t.Fatalf("expected 0 active slots after free, got %d", p.countActive())
	}
	if p.slots[idx].fd != -1 {
		t.Fatalf("expected fd reset to -1 after free")
	}
}

func TestConnPoolAllocReusesLowestIndex(t *testing.T) {
	p := newConnPool(4)

	a := p.alloc()
	b := p.alloc()
	p.free(a.poolIndex)
	c := p.alloc()
	if c.poolIndex != a.poolIndex {
		t.Fatalf("expected the freed lowest index %d to be reused, got %d", a.poolIndex, c.poolIndex)
	}
	_ = b
}

func TestConnPoolExhaustion(t *testing.T) {
	p := newConnPool(2)

	if p.alloc() == nil {
		t.Fatalf("expected first alloc to succeed")
	}
	if p.alloc() == nil {
		t.Fatalf("expected second alloc to succeed")
	}
	if p.alloc() != nil {
		t.Fatalf("expected third alloc to fail on a pool of size 2")
	}
}

func TestConnPoolAllocAssignsUniqueCID(t *testing.T) {
	p := newConnPool(4)
	a := p.alloc()
	b := p.alloc()
	if a.cid == "" || b.cid == "" {
		t.Fatalf("expected non-empty correlation ids")
	}
	if a.cid == b.cid {
		t.Fatalf("expected distinct correlation ids, got %q twice", a.cid)
	}
}

func TestConnSlotResetClearsWebSocketState(t *testing.T) {
	p := newConnPool(4)
	s := p.alloc()
	s.wsc.handshakeKey = "leftover-key"
	s.wsc.channelMask = 0xFF
	s.isWebSocket = true

	s.reset()

	if s.wsc.handshakeKey != "" {
		t.Fatalf("expected handshakeKey cleared on reset, got %q", s.wsc.handshakeKey)
	}
	if s.wsc.channelMask != 0 {
		t.Fatalf("expected channelMask cleared on reset, got %x", s.wsc.channelMask)
	}
	if s.isWebSocket {
		t.Fatalf("expected isWebSocket cleared on reset")
	}
}

func TestConnPoolNonWebSocketActiveExcludesUpgraded(t *testing.T) {
	p := newConnPool(4)
	a := p.alloc()
	b := p.alloc()
	p.markWSActive(b.poolIndex, true)

	mask := p.nonWebSocketActive()
	if mask&(1<<uint(a.poolIndex)) == 0 {
		t.Fatalf("expected slot a to be in the non-WebSocket active mask")
	}
	if mask&(1<<uint(b.poolIndex)) != 0 {
		t.Fatalf("expected slot b (WebSocket) to be excluded from the non-WebSocket active mask")
	}
}

func TestConnPoolScanTimeouts(t *testing.T) {
	p := newConnPool(4)
	s := p.alloc()
	s.lastActivity = 0

	p.scanTimeouts(100, 10)
	if s.state != StateClosed {
		t.Fatalf("expected a stale slot to be marked closed, got state %v", s.state)
	}
}

func TestConnPoolScanTimeoutsSkipsWebSocket(t *testing.T) {
	p := newConnPool(4)
	s := p.alloc()
	s.lastActivity = 0
	p.markWSActive(s.poolIndex, true)

	p.scanTimeouts(100, 10)
	if s.state == StateClosed {
		t.Fatalf("expected a WebSocket slot to be excluded from the inactivity timeout scan")
	}
}
