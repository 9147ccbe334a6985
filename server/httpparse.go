package server

import "strconv"

// ParseResult is the parser's return value after one feed call.
type ParseResult int

const (
	ParseNeedMore ParseResult = iota
	ParseOk                   // headers parsed, body still incoming
	ParseComplete             // whole request (headers + any body) available
	ParseError
)

// headerClass classifies a recognized header name so the parser can
// apply connection-level side effects without a second string compare.
// Unknown headers are stored as opaque key/value (classOpaque).
type headerClass int

const (
	classOpaque headerClass = iota
	classHost
	classContentLength
	classContentType
	classConnection
	classUpgrade
	classSecWSKey
	classSecWSVersion
	classAuthorization
	classCookie
	classAccept
	classUserAgent
	classOrigin
	classAccessControlRequest
)

// classifyHeader compares name case-insensitively against the known
// header set via a small table scan; N is tiny (13 entries) so this
// out-competes a hash lookup in practice on the hot parse path.
func classifyHeader(name string) headerClass {
	switch {
	case equalFold(name, "Host"):
		return classHost
	case equalFold(name, "Content-Length"):
		return classContentLength
	case equalFold(name, "Content-Type"):
		return classContentType
	case equalFold(name, "Connection"):
		return classConnection
	case equalFold(name, "Upgrade"):
		return classUpgrade
	case equalFold(name, "Sec-WebSocket-Key"):
		return classSecWSKey
	case equalFold(name, "Sec-WebSocket-Version"):
		return classSecWSVersion
	case equalFold(name, "Authorization"):
		return classAuthorization
	case equalFold(name, "Cookie"):
		return classCookie
	case equalFold(name, "Accept"):
		return classAccept
	case equalFold(name, "User-Agent"):
		return classUserAgent
	case equalFold(name, "Origin"):
		return classOrigin
	default:
		if len(name) >= len("Access-Control-Request-") &&
			equalFold(name[:len("Access-Control-Request-")], "Access-Control-Request-") {
			return classAccessControlRequest
		}
		return classOpaque
	}
}

func containsFold(hay, needle string) bool {
	if len(needle) == 0 {
		return true
	}
	for i := 0; i+len(needle) <= len(hay); i++ {
		if equalFold(hay[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}

// parseStage drives the request-line/header state machine embedded per
// slot. Body bytes are handled outside this state machine via the
// prefetch/defer path, so there is no stageBody transition here beyond
// recording contentLength.
type parseStage int

const (
	stageRequestLine parseStage = iota
	stageHeaders
	stageDone
	stageFailed
)

// httpParserState is the streaming parser state persisted across feed
// calls, embedded in connSlot so partial request lines/headers survive
// a short read.
type httpParserState struct {
	stage  parseStage
	scratch [maxHeaderBytes]byte
	scratchLen int
}

func (p *httpParserState) resetParser() {
	p.stage = stageRequestLine
	p.scratchLen = 0
}

// parseRequest feeds data into the slot's parser. On Error the caller
// must respond 400 and close.
func (s *connSlot) parseRequest(data []byte) (ParseResult, error) {
	p := &s.parser
	if p.scratchLen+len(data) > len(p.scratch) {
		p.stage = stageFailed
		return ParseError, NewError(ErrParseError, "header section exceeds cap")
	}
	n := copy(p.scratch[p.scratchLen:], data)
	p.scratchLen += n
	buf := p.scratch[:p.scratchLen]

	pos := 0
	for {
		switch p.stage {
		case stageRequestLine, stageHeaders:
			idx := indexCRLF(buf[pos:])
			if idx < 0 {
				// No complete line yet; keep whatever's unconsumed as
				// the new scratch content and wait for more.
				rem := buf[pos:]
				copy(p.scratch[:], rem)
				p.scratchLen = len(rem)
				return ParseNeedMore, nil
			}
			line := buf[pos : pos+idx]
			pos += idx + 2
			s.headerBytes += idx + 2
			if s.headerBytes > maxHeaderBytes {
				p.stage = stageFailed
				return ParseError, NewError(ErrParseError, "header bytes exceed cap")
			}
			if p.stage == stageRequestLine {
				if err := s.parseRequestLine(string(line)); err != nil {
					p.stage = stageFailed
					return ParseError, err
				}
				p.stage = stageHeaders
				continue
			}
			// stageHeaders
			if len(line) == 0 {
				// Headers complete.
				p.stage = stageDone
				rest := buf[pos:]
				return s.finishHeaders(rest), nil
			}
			if err := s.parseHeaderLine(string(line)); err != nil {
				p.stage = stageFailed
				return ParseError, err
			}
		case stageDone:
			return ParseComplete, nil
		case stageFailed:
			return ParseError, NewError(ErrParseError, "parser is in failed state")
		}
	}
}

func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

// parseRequestLine parses "METHOD SP URI SP VERSION". It fails when
// the line lacks two spaces before CRLF, the method token is unknown,
// or the version isn't HTTP/1.0 or HTTP/1.1.
func (s *connSlot) parseRequestLine(line string) error {
	sp1 := indexByte(line, ' ')
	if sp1 < 0 {
		return NewError(ErrParseError, "request line missing first space")
	}
	rest := line[sp1+1:]
	sp2 := indexByte(rest, ' ')
	if sp2 < 0 {
		return NewError(ErrParseError, "request line missing second space")
	}
	methodTok := line[:sp1]
	uri := rest[:sp2]
	version := rest[sp2+1:]

	m, ok := methodFromToken(methodTok)
	if !ok {
		return NewError(ErrParseError, "unknown method token: "+methodTok)
	}
	if version != "HTTP/1.1" && version != "HTTP/1.0" {
		return NewError(ErrParseError, "unsupported version: "+version)
	}
	s.method = m
	s.req.setURI(uri)
	// HTTP/1.1 defaults to persistent connections absent an explicit
	// "Connection: close"; HTTP/1.0 defaults the other way. A later
	// Connection header (parseHeaderLine) overrides this.
	s.keepAlive = version == "HTTP/1.1"
	return nil
}

// parseHeaderLine parses "Key: Value", classifies it, stores it into
// the bounded header storage, and applies any connection-level side
// effects (keep-alive, content length, WebSocket upgrade).
func (s *connSlot) parseHeaderLine(line string) error {
	colon := indexByte(line, ':')
	if colon < 0 {
		return NewError(ErrParseError, "malformed header line")
	}
	key := trimSpace(line[:colon])
	val := trimSpace(line[colon+1:])

	if s.req.numHeaders >= maxHeaderEntries {
		// Cap reached: further headers are silently dropped rather than
		// erroring, matching an embedded parser's preference to keep
		// serving a request whose header *count* (not byte budget)
		// exceeds the index, as long as byte budget holds.
		return nil
	}
	class := classifyHeader(key)
	storLen := s.req.headerStorageLen
	if storLen+len(key)+len(val) > len(s.req.headerStorage) {
		return NewError(ErrParseError, "header storage exhausted")
	}
	keyOff := storLen
	storLen += copy(s.req.headerStorage[storLen:], key)
	valOff := storLen
	storLen += copy(s.req.headerStorage[storLen:], val)
	s.req.headerStorageLen = storLen
	s.req.headers[s.req.numHeaders] = headerEntry{
		keyOff: keyOff, keyLen: len(key),
		valueOff: valOff, valueLen: len(val),
		class: class,
	}
	s.req.numHeaders++

	switch class {
	case classContentLength:
		cl, err := parseDecimalUint(val)
		if err != nil {
			return NewError(ErrParseError, "malformed Content-Length")
		}
		s.contentLength = int64(cl)
	case classConnection:
		low := val
		if containsFold(low, "close") {
			s.keepAlive = false
		} else if containsFold(low, "keep-alive") {
			s.keepAlive = true
		}
	case classUpgrade:
		if equalFold(trimSpace(val), "websocket") {
			s.upgradeWSPending = true
		}
	case classSecWSKey:
		s.wsc.handshakeKey = val
	}
	return nil
}

// finishHeaders is called once the blank line terminating the header
// block is seen. It captures any body bytes that arrived in the same
// read as the headers into the bounded prefetch buffer, and returns
// the overall parse result.
func (s *connSlot) finishHeaders(rest []byte) ParseResult {
	n := copy(s.req.bodyPrefetch[:], rest)
	if int64(n) > s.contentLength {
		n = int(s.contentLength)
	}
	s.req.bodyPrefetchLen = n
	s.req.bodyReadCursor = 0
	s.bytesReceived = int64(n)

	if s.contentLength == 0 {
		return ParseComplete
	}
	if s.bytesReceived >= s.contentLength {
		return ParseComplete
	}
	return ParseOk
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\t') {
		j--
	}
	return s[i:j]
}

func parseDecimalUint(s string) (uint64, error) {
	if s == "" {
		return 0, NewError(ErrParseError, "empty numeric value")
	}
	return strconv.ParseUint(s, 10, 63)
}

// recvFromPrefetch copies unread prefetched body bytes into buf and
// advances the prefetch cursor, returning 0 once they are exhausted.
// It does not read from the socket and does not change bytesReceived.
func (s *connSlot) recvFromPrefetch(buf []byte) (n int) {
	avail := s.req.bodyPrefetchLen - s.req.bodyReadCursor
	if avail <= 0 {
		return 0
	}
	n = copy(buf, s.req.bodyPrefetch[s.req.bodyReadCursor:s.req.bodyPrefetchLen])
	s.req.bodyReadCursor += n
	return n
}
