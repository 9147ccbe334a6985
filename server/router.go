package server

import (
	"sort"
	"time"
)

// HandlerFunc is a terminal route handler.
type HandlerFunc func(req *Request) error

// WSHandlerFunc handles WebSocket lifecycle events for an upgraded route.
type WSHandlerFunc func(ws *WSConn, event WSEvent) error

type routeParam struct {
	name, value string
}

type nodeKind int

const (
	nodeStatic nodeKind = iota
	nodeParam
	nodeWildcard
)

// handlerEntry is one link in a per-method handler chain; chains
// support multiple handlers per route that run in order.
type handlerEntry struct {
	handler HandlerFunc
	userCtx interface{}
}

// nodeHandlers is a terminal node's handler table.
type nodeHandlers struct {
	byMethod     map[Method][]handlerEntry
	wsHandler    WSHandlerFunc
	pingInterval time.Duration
	isWS         bool
}

func newNodeHandlers() *nodeHandlers {
	return &nodeHandlers{byMethod: make(map[Method][]handlerEntry)}
}

// radixNode is one segment of the routing tree.
type radixNode struct {
	segment string
	kind    nodeKind

	staticChildren []*radixNode // kept sorted lexicographically
	paramChild     *radixNode
	wildcardChild  *radixNode

	paramName     string
	paramOptional bool

	handlers      *nodeHandlers
	middleware    []middlewareFunc
	trailingSlash bool
}

// radixRouter is the routing tree, rooted at an empty-segment static
// node.
type radixRouter struct {
	root                  *radixNode
	caseInsensitive       bool
	strict                bool
	maxMiddlewarePerRouter int
	globalMiddleware      []middlewareFunc
}

func newRadixRouter(opts *Options) *radixRouter {
	r := &radixRouter{
		root:                   &radixNode{segment: "", kind: nodeStatic},
		caseInsensitive:        opts.CaseInsensitiveRoutes,
		strict:                 opts.StrictSlash,
		maxMiddlewarePerRouter: opts.MaxMiddlewarePerRouter,
	}
	return r
}

func (r *radixRouter) use(mw middlewareFunc) {
	if len(r.globalMiddleware) >= r.maxMiddlewarePerRouter {
		return
	}
	r.globalMiddleware = append(r.globalMiddleware, mw)
}

func splitSegments(pattern string) []string {
	var segs []string
	start := 0
	p := pattern
	if len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				segs = append(segs, p[start:i])
			}
			start = i + 1
		}
	}
	return segs
}

// insertStatic finds or creates a static child, keeping staticChildren
// sorted lexicographically and reusing an existing node at that
// position.
func (n *radixNode) insertStatic(segment string) *radixNode {
	i := sort.Search(len(n.staticChildren), func(i int) bool {
		return n.staticChildren[i].segment >= segment
	})
	if i < len(n.staticChildren) && n.staticChildren[i].segment == segment {
		return n.staticChildren[i]
	}
	child := &radixNode{segment: segment, kind: nodeStatic}
	n.staticChildren = append(n.staticChildren, nil)
	copy(n.staticChildren[i+1:], n.staticChildren[i:])
	n.staticChildren[i] = child
	return child
}

// insert tokenizes pattern and builds/walks the tree.
func (r *radixRouter) insert(pattern string) *radixNode {
	segs := splitSegments(pattern)
	node := r.root
	for _, seg := range segs {
		switch {
		case len(seg) > 0 && seg[0] == ':':
			name := seg[1:]
			optional := false
			if len(name) > 0 && name[len(name)-1] == '?' {
				optional = true
				name = name[:len(name)-1]
			}
			if node.paramChild == nil {
				node.paramChild = &radixNode{kind: nodeParam, paramName: name, paramOptional: optional}
			}
			node = node.paramChild
		case seg == "*":
			if node.wildcardChild == nil {
				node.wildcardChild = &radixNode{kind: nodeWildcard, segment: "*"}
			}
			node = node.wildcardChild
		default:
			node = node.insertStatic(seg)
		}
	}
	if node.handlers == nil {
		node.handlers = newNodeHandlers()
	}
	if len(pattern) > 0 && pattern[len(pattern)-1] == '/' && pattern != "/" {
		node.trailingSlash = true
	}
	return node
}

// handle registers handler for method at pattern, appending to the
// per-method chain; duplicates are allowed and all run in order.
func (r *radixRouter) handle(method Method, pattern string, handler HandlerFunc, userCtx interface{}) {
	node := r.insert(pattern)
	node.handlers.byMethod[method] = append(node.handlers.byMethod[method], handlerEntry{handler: handler, userCtx: userCtx})
}

func (r *radixRouter) handleWS(pattern string, handler WSHandlerFunc, pingInterval time.Duration) {
	node := r.insert(pattern)
	node.handlers.wsHandler = handler
	node.handlers.isWS = true
	node.handlers.pingInterval = pingInterval
}

// addRouteMiddleware attaches router-local middleware to the node
// reached by pattern, capped at maxRouteMiddleware entries per node.
func (r *radixRouter) addRouteMiddleware(pattern string, mw middlewareFunc, maxRouteMiddleware int) {
	node := r.insert(pattern)
	if len(node.middleware) >= maxRouteMiddleware {
		return
	}
	node.middleware = append(node.middleware, mw)
}

// matchResult is the lookup outcome.
type matchResult struct {
	matched    bool
	handlers   *nodeHandlers
	params     [8]routeParam
	numParams  int
	middleware []middlewareFunc
	trailing   bool
}

// lookup walks the tree with static > param > wildcard priority, with
// a multi-segment wildcard preferred over param only when more path
// remains, an empty segment at the top level never matching the
// root's wildcard, and an optional-param fallback for terminal nodes
// without handlers.
func (r *radixRouter) lookup(path string, maxParams, maxTotalMiddleware int) matchResult {
	segs := splitSegments(path)
	var res matchResult
	var mwStack []middlewareFunc

	node := r.root
	if len(node.middleware) > 0 {
		mwStack = appendCapped(mwStack, node.middleware, maxTotalMiddleware)
	}

	for i := 0; i < len(segs); i++ {
		seg := segs[i]
		remaining := len(segs) - i - 1

		if seg == "" {
			// An empty segment at the top level never matches the root
			// wildcard.
			if i == 0 {
				continue
			}
		}

		var next *radixNode
		// static exact match
		if c := findStatic(node.staticChildren, seg, r.caseInsensitive); c != nil {
			next = c
		} else if node.wildcardChild != nil && remaining > 0 {
			// multi-segment wildcard preferred over param only when more
			// segments remain.
			next = node.wildcardChild
			value := joinFrom(segs, i)
			if res.numParams < maxParams {
				res.params[res.numParams] = routeParam{name: "*", value: value}
				res.numParams++
			}
			node = next
			if len(node.middleware) > 0 {
				mwStack = appendCapped(mwStack, node.middleware, maxTotalMiddleware)
			}
			break
		} else if node.paramChild != nil {
			next = node.paramChild
			if res.numParams < maxParams {
				res.params[res.numParams] = routeParam{name: next.paramName, value: seg}
				res.numParams++
			}
		} else if node.wildcardChild != nil {
			next = node.wildcardChild
			value := joinFrom(segs, i)
			if res.numParams < maxParams {
				res.params[res.numParams] = routeParam{name: "*", value: value}
				res.numParams++
			}
			node = next
			if len(node.middleware) > 0 {
				mwStack = appendCapped(mwStack, node.middleware, maxTotalMiddleware)
			}
			break
		} else {
			return matchResult{}
		}
		node = next
		if len(node.middleware) > 0 {
			mwStack = appendCapped(mwStack, node.middleware, maxTotalMiddleware)
		}
	}

	// Optional-param fallback: a terminal node with no handlers of its
	// own falls through to an optional param child if one has handlers.
	if node.handlers == nil && node.paramChild != nil && node.paramChild.paramOptional && node.paramChild.handlers != nil {
		node = node.paramChild
		if len(node.middleware) > 0 {
			mwStack = appendCapped(mwStack, node.middleware, maxTotalMiddleware)
		}
	}

	if node.handlers == nil {
		return matchResult{}
	}

	// StrictSlash: a registered pattern's trailing slash must match the
	// incoming path's exactly, or the route is treated as unmatched.
	incomingTrailing := len(path) > 1 && path[len(path)-1] == '/'
	if r.strict && node.trailingSlash != incomingTrailing {
		return matchResult{}
	}

	res.matched = true
	res.handlers = node.handlers
	res.middleware = mwStack
	res.trailing = node.trailingSlash
	return res
}

func appendCapped(dst []middlewareFunc, src []middlewareFunc, cap int) []middlewareFunc {
	for _, m := range src {
		if len(dst) >= cap {
			break
		}
		dst = append(dst, m)
	}
	return dst
}

func findStatic(children []*radixNode, seg string, ci bool) *radixNode {
	if !ci {
		i := sort.Search(len(children), func(i int) bool { return children[i].segment >= seg })
		if i < len(children) && children[i].segment == seg {
			return children[i]
		}
		return nil
	}
	for _, c := range children {
		if equalFold(c.segment, seg) {
			return c
		}
	}
	return nil
}

func joinFrom(segs []string, from int) string {
	out := ""
	for i := from; i < len(segs); i++ {
		if i > from {
			out += "/"
		}
		out += segs[i]
	}
	return out
}
