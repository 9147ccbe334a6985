package server

import "testing"

func newTestSlot() *connSlot {
	s := &connSlot{poolIndex: 0}
	s.parser.resetParser()
	return s
}

func TestParseRequestSimpleGETNoBody(t *testing.T) {
	s := newTestSlot()
	req := "GET /hello?x=1 HTTP/1.1\r\nHost: example.com\r\n\r\n"

	res, err := s.parseRequest([]byte(req))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != ParseComplete {
		t.Fatalf("expected ParseComplete for a bodyless GET, got %v", res)
	}
	if s.method != MethodGET {
		t.Fatalf("expected MethodGET, got %v", s.method)
	}
	if s.req.path != "/hello" {
		t.Fatalf("expected path /hello, got %q", s.req.path)
	}
	if v, ok := s.req.header("Host"); !ok || v != "example.com" {
		t.Fatalf("expected Host header example.com, got %q (ok=%v)", v, ok)
	}
	if !s.keepAlive {
		t.Fatalf("expected HTTP/1.1 to default to keep-alive")
	}
}

func TestParseRequestHTTP10DefaultsToClose(t *testing.T) {
	s := newTestSlot()
	req := "GET / HTTP/1.0\r\n\r\n"

	if _, err := s.parseRequest([]byte(req)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.keepAlive {
		t.Fatalf("expected HTTP/1.0 to default to connection close")
	}
}

func TestParseRequestConnectionHeaderOverridesDefault(t *testing.T) {
	s := newTestSlot()
	req := "GET / HTTP/1.1\r\nConnection: close\r\n\r\n"

	if _, err := s.parseRequest([]byte(req)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.keepAlive {
		t.Fatalf("expected explicit Connection: close to override the HTTP/1.1 default")
	}
}

func TestParseRequestNeedsMoreOnPartialHeaders(t *testing.T) {
	s := newTestSlot()
	res, err := s.parseRequest([]byte("GET / HTTP/1.1\r\nHost: exam"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != ParseNeedMore {
		t.Fatalf("expected ParseNeedMore for a partial header line, got %v", res)
	}

	res, err = s.parseRequest([]byte("ple.com\r\n\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != ParseComplete {
		t.Fatalf("expected ParseComplete once headers finish, got %v", res)
	}
	if v, _ := s.req.header("Host"); v != "example.com" {
		t.Fatalf("expected reassembled Host example.com, got %q", v)
	}
}

func TestParseRequestWithPartialBodyReturnsOk(t *testing.T) {
	s := newTestSlot()
	req := "POST /submit HTTP/1.1\r\nContent-Length: 5\r\n\r\nhel"

	res, err := s.parseRequest([]byte(req))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != ParseOk {
		t.Fatalf("expected ParseOk with a partial body, got %v", res)
	}
	if s.contentLength != 5 {
		t.Fatalf("expected contentLength 5, got %d", s.contentLength)
	}
}

func TestParseRequestRejectsUnknownMethod(t *testing.T) {
	s := newTestSlot()
	_, err := s.parseRequest([]byte("FROB / HTTP/1.1\r\n\r\n"))
	if err == nil {
		t.Fatalf("expected an error for an unknown method token")
	}
}

func TestParseRequestRejectsBadVersion(t *testing.T) {
	s := newTestSlot()
	_, err := s.parseRequest([]byte("GET / HTTP/2.0\r\n\r\n"))
	if err == nil {
		t.Fatalf("expected an error for an unsupported HTTP version")
	}
}

func TestParseRequestCapturesWebSocketUpgrade(t *testing.T) {
	s := newTestSlot()
	req := "GET /chat HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"

	if _, err := s.parseRequest([]byte(req)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.upgradeWSPending {
		t.Fatalf("expected upgradeWSPending to be set")
	}
	if s.wsc.handshakeKey != "dGhlIHNhbXBsZSBub25jZQ==" {
		t.Fatalf("expected the Sec-WebSocket-Key to be captured, got %q", s.wsc.handshakeKey)
	}
}
