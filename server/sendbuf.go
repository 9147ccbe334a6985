package server

import (
	"strconv"
	"syscall"

	pkgerrors "github.com/pkg/errors"
)

// sendBufferSize is the one-page ring buffer size backing each
// connection's outbound queue.
const sendBufferSize = 4096

// drainThreshold: sends larger than this opportunistically drain the
// queue before appending. Sends at or below this size always queue, to
// preserve ordering cheaply without a syscall on the hot path of many
// small writes (e.g. a burst of WebSocket text frames).
const drainThreshold = 64

// dataProvider is a pull-mode body source: the event loop asks for
// bytes whenever the send buffer has room. Returns the number of bytes
// written into p, 0 for EOF, or an error on failure.
type dataProvider func(p []byte) (n int, err error)

// sendBuffer is the per-slot ring buffer plus optional streaming
// source (file or pull-mode provider).
type sendBuffer struct {
	buf        [sendBufferSize]byte
	readPos    int
	writePos   int
	size       int // bytes currently queued (0..len(buf))

	// File streaming.
	fileFd      int
	fileLen     int64
	fileRemain  int64
	streaming   bool

	// Pull-mode provider.
	provider      dataProvider
	onComplete    func(err error)
	providerChunk bool // true => frame each provider read as a chunk (Transfer-Encoding: chunked)
	providerEOF   bool
	providerActive bool
	chunkScratch    [1024]byte
	chunkPendingLen int // unflushed provider bytes awaiting room for a whole chunk frame

	// Fired once the buffer fully drains after an async send.
	onDrained func()
}

func (sb *sendBuffer) hasData() bool {
	return sb.size > 0 || sb.streaming || sb.providerActive
}

func (sb *sendBuffer) isStreaming() bool { return sb.streaming }

func (sb *sendBuffer) free() int { return len(sb.buf) - sb.size }

// peek returns a contiguous readable slice (possibly shorter than all
// queued bytes, if the queued region wraps).
func (sb *sendBuffer) peek() []byte {
	if sb.size == 0 {
		return nil
	}
	n := len(sb.buf) - sb.readPos
	if n > sb.size {
		n = sb.size
	}
	return sb.buf[sb.readPos : sb.readPos+n]
}

func (sb *sendBuffer) consume(n int) {
	if n <= 0 {
		return
	}
	if n > sb.size {
		n = sb.size
	}
	sb.readPos = (sb.readPos + n) % len(sb.buf)
	sb.size -= n
}

// queue appends bytes to the ring buffer, returning an error (NoMem
// kind) if there isn't enough contiguous+wrapped room.
func (sb *sendBuffer) queue(data []byte) error {
	if len(data) > sb.free() {
		return NewError(ErrNoMem, "send buffer full")
	}
	n := len(data)
	for n > 0 {
		chunk := len(sb.buf) - sb.writePos
		if chunk > n {
			chunk = n
		}
		copy(sb.buf[sb.writePos:sb.writePos+chunk], data[:chunk])
		sb.writePos = (sb.writePos + chunk) % len(sb.buf)
		sb.size += chunk
		data = data[chunk:]
		n -= chunk
	}
	return nil
}

// writePtr returns a contiguous free slice for zero-copy fill (used by
// file streaming and data providers), and the number of bytes available
// in it. Call commit(n) after filling up to n bytes of it.
func (sb *sendBuffer) writePtr() []byte {
	if sb.free() == 0 {
		return nil
	}
	end := len(sb.buf)
	if sb.writePos < sb.readPos {
		end = sb.readPos
	} else if sb.size == 0 {
		sb.readPos, sb.writePos = 0, 0
	}
	if sb.writePos >= end {
		return nil
	}
	return sb.buf[sb.writePos:end]
}

func (sb *sendBuffer) commit(n int) {
	if n <= 0 {
		return
	}
	sb.writePos = (sb.writePos + n) % len(sb.buf)
	sb.size += n
}

func (sb *sendBuffer) startFile(fd int, length int64) {
	sb.fileFd = fd
	sb.fileLen = length
	sb.fileRemain = length
	sb.streaming = true
}

func (sb *sendBuffer) stopFile() {
	if sb.streaming && sb.fileFd >= 0 {
		syscall.Close(sb.fileFd)
	}
	sb.fileFd = -1
	sb.fileLen = 0
	sb.fileRemain = 0
	sb.streaming = false
}

// rawWriter performs one non-blocking write(2) to fd. drain and
// sendNonblocking write only through it, so tests can substitute a
// fake writer.
type rawWriter interface {
	Write(fd int, p []byte) (int, error)
}

type syscallWriter struct{}

func (syscallWriter) Write(fd int, p []byte) (int, error) {
	return syscall.Write(fd, p)
}

var defaultWriter rawWriter = syscallWriter{}

func isWouldBlock(err error) bool {
	return pkgerrors.Cause(err) == syscall.EAGAIN || pkgerrors.Cause(err) == syscall.EWOULDBLOCK
}

// drain issues best-effort non-blocking writes until would-block or
// empty, refilling from the file/provider streaming sources as the
// ring buffer drains. Returns true if the buffer (and any streaming
// source) is now fully drained.
func (sb *sendBuffer) drain(w rawWriter, fd int) (emptied bool, err error) {
	for {
		sb.refillFromStreamingSources()
		p := sb.peek()
		if len(p) == 0 {
			if !sb.streaming && !sb.providerActive {
				return true, nil
			}
			// Streaming source has no more bytes staged yet but isn't
			// finished — treat as drained-for-now (caller re-arms on
			// next writability event).
			return !sb.streaming && !sb.providerActive, nil
		}
		n, werr := w.Write(fd, p)
		if n > 0 {
			sb.consume(n)
		}
		if werr != nil {
			if isWouldBlock(werr) {
				return false, nil
			}
			return false, WrapError(ErrIO, werr)
		}
		if n == 0 {
			return false, nil
		}
	}
}

// refillFromStreamingSources pulls bytes from an active file stream or
// data provider into the ring buffer's free space, using writePtr/commit
// so no extra copy happens beyond the read(2)/provider call itself.
func (sb *sendBuffer) refillFromStreamingSources() {
	for sb.streaming && sb.fileRemain > 0 {
		dst := sb.writePtr()
		if len(dst) == 0 {
			return
		}
		want := dst
		if int64(len(want)) > sb.fileRemain {
			want = want[:sb.fileRemain]
		}
		n, err := syscall.Read(sb.fileFd, want)
		if n > 0 {
			sb.commit(n)
			sb.fileRemain -= int64(n)
		}
		if err != nil || n == 0 {
			sb.stopFile()
			return
		}
		if sb.fileRemain == 0 {
			sb.stopFile()
			return
		}
	}
	for sb.providerActive && !sb.providerEOF {
		if sb.providerChunk {
			before := sb.size
			sb.refillChunkedProvider()
			if sb.size == before {
				return // no room for a whole frame; retried on the next drain
			}
			continue
		}
		dst := sb.writePtr()
		if len(dst) == 0 {
			return
		}
		n, err := sb.provider(dst)
		if err != nil {
			sb.providerActive = false
			sb.providerEOF = true
			if sb.onComplete != nil {
				sb.onComplete(err)
			}
			return
		}
		if n == 0 {
			sb.providerEOF = true
			sb.providerActive = false
			if sb.onComplete != nil {
				sb.onComplete(nil)
			}
			return
		}
		sb.commit(n)
	}
}

// refillChunkedProvider pulls one read from the provider and frames it
// as an HTTP chunked-transfer segment ("<hex-len>\r\n<data>\r\n"),
// queuing the frame whole so a partial chunk header never reaches the
// peer. It stops (without consuming) if the ring buffer doesn't have
// room for a full frame, to be retried on the next drain.
func (sb *sendBuffer) refillChunkedProvider() {
	if sb.chunkPendingLen == 0 {
		n, err := sb.provider(sb.chunkScratch[:])
		if err != nil {
			sb.providerActive = false
			sb.providerEOF = true
			if sb.onComplete != nil {
				sb.onComplete(err)
			}
			return
		}
		if n == 0 {
			if sb.free() < len("0\r\n\r\n") {
				return
			}
			_ = sb.queue([]byte("0\r\n\r\n"))
			sb.providerEOF = true
			sb.providerActive = false
			if sb.onComplete != nil {
				sb.onComplete(nil)
			}
			return
		}
		sb.chunkPendingLen = n
	}
	header := strconv.FormatInt(int64(sb.chunkPendingLen), 16) + "\r\n"
	if sb.free() < len(header)+sb.chunkPendingLen+2 {
		// Not enough room for the whole frame; retry next drain. The
		// pending bytes stay in chunkScratch so the provider is never
		// asked for the same bytes twice.
		return
	}
	_ = sb.queue([]byte(header))
	_ = sb.queue(sb.chunkScratch[:sb.chunkPendingLen])
	_ = sb.queue([]byte("\r\n"))
	sb.chunkPendingLen = 0
}

// sendNonblocking writes data directly when nothing is queued (queuing
// any unwritten remainder); otherwise it drains first for sends above
// drainThreshold, queues, and on a full buffer drains once and retries
// the queue.
func (sb *sendBuffer) sendNonblocking(w rawWriter, fd int, data []byte) error {
	if sb.hasData() {
		if len(data) > drainThreshold {
			if _, err := sb.drain(w, fd); err != nil {
				return err
			}
		}
		if err := sb.queue(data); err != nil {
			if _, derr := sb.drain(w, fd); derr != nil {
				return derr
			}
			if err := sb.queue(data); err != nil {
				return err
			}
		}
		return nil
	}
	n, err := w.Write(fd, data)
	if err != nil && !isWouldBlock(err) {
		return WrapError(ErrIO, err)
	}
	if n < len(data) {
		return sb.queue(data[n:])
	}
	return nil
}
