package server

const (
	maxHeaderBytes   = 2048 // hard cap on total header bytes for one request
	maxHeaderEntries = 32   // max number of distinct headers tracked per request
	maxBodyPrefetch  = 1024 // body bytes captured inline before deferred reads kick in
	maxQueryParams   = 8    // query parameter cache capacity (lazily populated)
)

// headerEntry indexes one header into requestCtx.headerStorage by
// offset and length, avoiding a per-header string allocation.
type headerEntry struct {
	keyOff, keyLen     int
	valueOff, valueLen int
	class              headerClass
}

// queryParam is one query parameter, with key and value percent-decoded
// (and '+' read as space) into their own strings.
type queryParam struct {
	key, value string
}

// deferredBody is the handler-owned state for a request whose body is
// streamed to the handler chunk by chunk instead of fully prefetched.
type deferredBody struct {
	onBody func(chunk []byte) error
	onDone func(err error)
	active bool
	paused bool
}

// asyncSend is the handler-owned state for a response sent without
// blocking the caller, completed later via a drain callback. onDone
// receives a non-nil error (ErrConnClosed) if the connection closed
// before the send finished.
type asyncSend struct {
	onDone func(err error)
	active bool
}

// providerState mirrors the request-context shadow of a response's
// pull-mode data provider.
type providerState struct {
	provider   dataProvider
	onComplete func(err error)
	eofReached bool
	useChunked bool
	active     bool
}

// middlewareFunc receives a continuation to call the next step in the
// chain.
type middlewareFunc func(req *Request, next func() error) error

// requestCtx is the per-slot request state. It is reinitialized
// (selectively) on each new request on a slot; large buffers
// (headerStorage, bodyPrefetch, uriStorage) are retained across
// requests and merely reset to length 0.
type requestCtx struct {
	methodTok string
	uriStorage [2048]byte
	uriLen     int
	path, query string

	headerStorage    [maxHeaderBytes]byte
	headerStorageLen int
	headers          [maxHeaderEntries]headerEntry
	numHeaders       int

	bodyPrefetch    [maxBodyPrefetch]byte
	bodyPrefetchLen int
	bodyReadCursor  int

	queryParams    [maxQueryParams]queryParam
	queryCached    bool
	numQueryParams int

	statusCode  int
	headersSent bool

	deferred deferredBody
	async    asyncSend
	provider providerState

	middleware []middlewareFunc
	mwCursor   int

	params [8]routeParam // captured route params
	numParams int
}

func (r *requestCtx) reset() {
	r.methodTok = ""
	r.uriLen = 0
	r.path = ""
	r.query = ""
	r.headerStorageLen = 0
	r.numHeaders = 0
	r.bodyPrefetchLen = 0
	r.bodyReadCursor = 0
	r.queryCached = false
	r.numQueryParams = 0
	r.statusCode = 0
	r.headersSent = false
	r.deferred = deferredBody{}
	r.async = asyncSend{}
	r.provider = providerState{}
	r.middleware = nil
	r.mwCursor = 0
	r.numParams = 0
}

func (r *requestCtx) uri() string { return string(r.uriStorage[:r.uriLen]) }

// setURI copies uri into uriStorage (bounded) and splits path/query on
// the first '?'.
func (r *requestCtx) setURI(uri string) {
	n := copy(r.uriStorage[:], uri)
	r.uriLen = n
	full := string(r.uriStorage[:n])
	if i := indexByte(full, '?'); i >= 0 {
		r.path = decodePathInPlace(full[:i])
		r.query = full[i+1:]
	} else {
		r.path = decodePathInPlace(full)
		r.query = ""
	}
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// header looks up a header by case-insensitive name, returning its
// stored value and whether it was found.
func (r *requestCtx) header(name string) (string, bool) {
	for i := 0; i < r.numHeaders; i++ {
		h := &r.headers[i]
		key := string(r.headerStorage[h.keyOff : h.keyOff+h.keyLen])
		if equalFold(key, name) {
			return string(r.headerStorage[h.valueOff : h.valueOff+h.valueLen]), true
		}
	}
	return "", false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// queryValues lazily splits r.query into up to maxQueryParams entries.
func (r *requestCtx) queryValues() []queryParam {
	if r.queryCached {
		return r.queryParams[:r.numQueryParams]
	}
	r.queryCached = true
	r.numQueryParams = 0
	q := r.query
	for len(q) > 0 && r.numQueryParams < maxQueryParams {
		amp := indexByte(q, '&')
		var pair string
		if amp >= 0 {
			pair = q[:amp]
			q = q[amp+1:]
		} else {
			pair = q
			q = ""
		}
		if pair == "" {
			continue
		}
		k, v := pair, ""
		if eq := indexByte(pair, '='); eq >= 0 {
			k, v = pair[:eq], pair[eq+1:]
		}
		kb, vb := []byte(k), []byte(v)
		k = string(kb[:percentDecode(kb, kb, true)])
		v = string(vb[:percentDecode(vb, vb, true)])
		r.queryParams[r.numQueryParams] = queryParam{key: k, value: v}
		r.numQueryParams++
	}
	return r.queryParams[:r.numQueryParams]
}

// Request is the public handle given to handlers. It never embeds the
// connSlot by a raw pointer; instead it carries the server and slot
// index and resolves through ctx() on each access, so the handle stays
// valid even if the slot is reused.
type Request struct {
	srv  *Server
	slot int
}

func (r *Request) ctx() *connSlot { return &r.srv.pool.slots[r.slot] }

func (r *Request) Method() Method   { return r.ctx().method }
func (r *Request) Path() string     { return r.ctx().req.path }
func (r *Request) RawQuery() string { return r.ctx().req.query }
func (r *Request) URI() string      { return r.ctx().req.uri() }

func (r *Request) Header(name string) (string, bool) { return r.ctx().req.header(name) }

func (r *Request) Query(key string) (string, bool) {
	for _, qp := range r.ctx().req.queryValues() {
		if qp.key == key {
			return qp.value, true
		}
	}
	return "", false
}

func (r *Request) Param(name string) (string, bool) {
	c := r.ctx()
	for i := 0; i < c.req.numParams; i++ {
		if c.req.params[i].name == name {
			return c.req.params[i].value, true
		}
	}
	return "", false
}

func (r *Request) UserCtx() interface{}      { return r.ctx().userCtx }
func (r *Request) SetUserCtx(v interface{})  { r.ctx().userCtx = v }
func (r *Request) ConnID() string            { return r.ctx().cid }
