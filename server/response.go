package server

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// SetStatus sets the response status line's code; it has no effect
// once headers have already been sent.
func (r *Request) SetStatus(code int) {
	if r.ctx().req.headersSent {
		return
	}
	r.ctx().req.statusCode = code
}

// Body returns a copy of the unread part of the body prefetch buffer
// (the body bytes that arrived with the headers), or nil if there are
// none; it does not advance the read cursor. Body bytes beyond the
// prefetch window are delivered through the deferred-body callback.
func (r *Request) Body() []byte {
	c := r.ctx()
	n := c.req.bodyPrefetchLen - c.req.bodyReadCursor
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, c.req.bodyPrefetch[c.req.bodyReadCursor:c.req.bodyPrefetchLen])
	return out
}

// Defer registers a streaming body callback: onBody is invoked for
// each body chunk as it arrives and onDone once the full body has been
// received (or the connection failed). Defer must be called before the
// handler returns; the event loop resumes dispatch from onDone.
func (r *Request) Defer(onBody func([]byte) error, onDone func(error)) {
	c := r.ctx()
	c.req.deferred = deferredBody{onBody: onBody, onDone: onDone, active: true}
	if c.req.bodyPrefetchLen > c.req.bodyReadCursor {
		chunk := c.req.bodyPrefetch[c.req.bodyReadCursor:c.req.bodyPrefetchLen]
		c.req.bodyReadCursor = c.req.bodyPrefetchLen
		if err := onBody(chunk); err != nil {
			c.req.deferred.active = false
			onDone(err)
			return
		}
	}
}

func (r *Request) writeHeaderLine(status int, contentType string, contentLength int) {
	r.writeHeaderLineFull(status, contentType, contentLength, "")
}

func (r *Request) writeHeaderLineFull(status int, contentType string, contentLength int, contentEncoding string) {
	c := r.ctx()
	resp := "HTTP/1.1 " + strconv.Itoa(status) + " " + statusText(status) + "\r\n"
	if contentType != "" {
		resp += "Content-Type: " + contentType + "\r\n"
	}
	if contentEncoding != "" {
		resp += "Content-Encoding: " + contentEncoding + "\r\n"
	}
	if contentLength >= 0 {
		resp += "Content-Length: " + strconv.Itoa(contentLength) + "\r\n"
	}
	if !c.keepAlive {
		resp += "Connection: close\r\n"
	}
	resp += "\r\n"
	_ = c.sb.queue([]byte(resp))
	c.req.headersSent = true
}

// Send writes body as a complete, synchronous response with the given
// status and content type, queuing it on the connection's send buffer
// and arming the event loop for writability.
func (r *Request) Send(status int, contentType string, body []byte) error {
	c := r.ctx()
	if c.req.statusCode == 0 {
		c.req.statusCode = status
	}
	r.writeHeaderLine(status, contentType, len(body))
	if err := c.sb.queue(body); err != nil {
		return err
	}
	r.srv.loop.markWritePendingAndArm(c)
	return nil
}

// JSON marshals v and sends it with an application/json content type.
func (r *Request) JSON(status int, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return WrapError(ErrInvalidArg, err)
	}
	return r.Send(status, "application/json; charset=utf-8", b)
}

// SendFile streams path from disk using the connection's send buffer's
// file-descriptor path: the file is read into the ring buffer piece by
// piece as it drains, never loaded whole. Directory paths resolve to
// an index.html inside them; a sibling "<path>.gz" file, if present,
// is served in its place with Content-Encoding: gzip.
func (r *Request) SendFile(path string) error {
	c := r.ctx()
	if err := validateFilePath(path); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return WrapError(ErrNotFound, err)
	}
	if info.IsDir() {
		path = filepath.Join(path, "index.html")
		if info, err = os.Stat(path); err != nil {
			return WrapError(ErrNotFound, err)
		}
	}

	servePath, contentEncoding := path, ""
	if gzInfo, err := os.Stat(path + ".gz"); err == nil && !gzInfo.IsDir() {
		servePath, info, contentEncoding = path+".gz", gzInfo, "gzip"
	}

	f, err := os.Open(servePath)
	if err != nil {
		return WrapError(ErrNotFound, err)
	}
	fd := int(f.Fd())
	r.writeHeaderLineFull(200, mimeByExt(filepath.Ext(path)), int(info.Size()), contentEncoding)
	c.sb.startFile(fd, info.Size())
	r.srv.loop.markWritePendingAndArm(c)
	return nil
}

// SendAsync queues body without blocking the handler on completion;
// onDone (if non-nil) runs once the buffer has fully drained, or with
// ErrConnClosed if the connection closes before it does.
func (r *Request) SendAsync(status int, contentType string, body []byte, onDone func(error)) error {
	c := r.ctx()
	r.writeHeaderLine(status, contentType, len(body))
	if err := c.sb.queue(body); err != nil {
		return err
	}
	c.req.async = asyncSend{onDone: onDone, active: true}
	r.srv.loop.markWritePendingAndArm(c)
	return nil
}

// SendProvider streams a response body from a pull-mode data provider
// using chunked transfer encoding, refilled opportunistically as the
// send buffer drains.
func (r *Request) SendProvider(status int, contentType string, provider dataProvider, onComplete func(error)) error {
	c := r.ctx()
	resp := "HTTP/1.1 " + strconv.Itoa(status) + " " + statusText(status) + "\r\n" +
		"Content-Type: " + contentType + "\r\n" +
		"Transfer-Encoding: chunked\r\n\r\n"
	if err := c.sb.queue([]byte(resp)); err != nil {
		return err
	}
	c.req.headersSent = true
	c.sb.provider = provider
	c.sb.onComplete = onComplete
	c.sb.providerChunk = true
	c.sb.providerActive = true
	r.srv.loop.markWritePendingAndArm(c)
	return nil
}
