package server

import "time"

// Router is the exported handle to a radix router, returned by
// NewRouter and accepted by Server.Mount for prefix-scoped dispatch.
type Router = radixRouter

// NewRouter builds a standalone router using opts' route-table limits
// (MaxMiddlewarePerRouter, StrictSlash, CaseInsensitiveRoutes). It is
// typically mounted onto a Server via Mount; the server's own fallback
// router is a separate one, returned by Server.Router().
func NewRouter(opts *Options) *Router { return newRadixRouter(opts) }

func (r *Router) Use(mw middlewareFunc) { r.use(mw) }

func (r *Router) UseRoute(pattern string, mw middlewareFunc, maxRouteMiddleware int) {
	r.addRouteMiddleware(pattern, mw, maxRouteMiddleware)
}

func (r *Router) Get(pattern string, h HandlerFunc)     { r.handle(MethodGET, pattern, h, nil) }
func (r *Router) Head(pattern string, h HandlerFunc)    { r.handle(MethodHEAD, pattern, h, nil) }
func (r *Router) Post(pattern string, h HandlerFunc)    { r.handle(MethodPOST, pattern, h, nil) }
func (r *Router) Put(pattern string, h HandlerFunc)     { r.handle(MethodPUT, pattern, h, nil) }
func (r *Router) Delete(pattern string, h HandlerFunc)  { r.handle(MethodDELETE, pattern, h, nil) }
func (r *Router) Patch(pattern string, h HandlerFunc)   { r.handle(MethodPATCH, pattern, h, nil) }
func (r *Router) Options(pattern string, h HandlerFunc) { r.handle(MethodOPTIONS, pattern, h, nil) }
func (r *Router) Any(pattern string, h HandlerFunc)     { r.handle(MethodAny, pattern, h, nil) }

func (r *Router) WS(pattern string, h WSHandlerFunc, pingInterval time.Duration) {
	r.handleWS(pattern, h, pingInterval)
}

// The following forward to the server's fallback router, for the
// common case of a single-router server.

func (s *Server) Use(mw middlewareFunc)                      { s.fallback.Use(mw) }
func (s *Server) Get(pattern string, h HandlerFunc)           { s.fallback.Get(pattern, h) }
func (s *Server) Head(pattern string, h HandlerFunc)          { s.fallback.Head(pattern, h) }
func (s *Server) Post(pattern string, h HandlerFunc)          { s.fallback.Post(pattern, h) }
func (s *Server) Put(pattern string, h HandlerFunc)           { s.fallback.Put(pattern, h) }
func (s *Server) Delete(pattern string, h HandlerFunc)        { s.fallback.Delete(pattern, h) }
func (s *Server) Patch(pattern string, h HandlerFunc)         { s.fallback.Patch(pattern, h) }
func (s *Server) Any(pattern string, h HandlerFunc)           { s.fallback.Any(pattern, h) }
func (s *Server) WS(pattern string, h WSHandlerFunc, pingInterval time.Duration) {
	s.fallback.WS(pattern, h, pingInterval)
}
