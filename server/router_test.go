package server

import "testing"

func testRouter() *radixRouter {
	return newRadixRouter(NewOptions())
}

func noopHandler(*Request) error { return nil }

func TestRouterStaticMatch(t *testing.T) {
	r := testRouter()
	r.handle(MethodGET, "/health", noopHandler, nil)

	res := r.lookup("/health", 8, 16)
	if !res.matched {
		t.Fatalf("expected /health to match")
	}
	if len(res.handlers.byMethod[MethodGET]) != 1 {
		t.Fatalf("expected one GET handler")
	}
}

func TestRouterParamMatch(t *testing.T) {
	r := testRouter()
	r.handle(MethodGET, "/users/:id", noopHandler, nil)

	res := r.lookup("/users/42", 8, 16)
	if !res.matched {
		t.Fatalf("expected /users/42 to match")
	}
	if res.numParams != 1 || res.params[0].name != "id" || res.params[0].value != "42" {
		t.Fatalf("expected param id=42, got %+v", res.params[:res.numParams])
	}
}

func TestRouterStaticBeatsParam(t *testing.T) {
	r := testRouter()
	r.handle(MethodGET, "/users/:id", noopHandler, nil)
	r.handle(MethodGET, "/users/me", noopHandler, nil)

	res := r.lookup("/users/me", 8, 16)
	if !res.matched {
		t.Fatalf("expected a match")
	}
	if res.numParams != 0 {
		t.Fatalf("expected the static /users/me route to win with no captured params, got %+v", res.params[:res.numParams])
	}
}

func TestRouterWildcardCapturesRest(t *testing.T) {
	r := testRouter()
	r.handle(MethodGET, "/static/*", noopHandler, nil)

	res := r.lookup("/static/css/site.css", 8, 16)
	if !res.matched {
		t.Fatalf("expected wildcard route to match")
	}
	if res.numParams != 1 || res.params[0].value != "css/site.css" {
		t.Fatalf("expected wildcard capture 'css/site.css', got %+v", res.params[:res.numParams])
	}
}

func TestRouterWildcardLosesToMoreSpecificParam(t *testing.T) {
	r := testRouter()
	r.handle(MethodGET, "/static/*", noopHandler, nil)
	r.handle(MethodGET, "/static/:name", noopHandler, nil)

	res := r.lookup("/static/one", 8, 16)
	if !res.matched {
		t.Fatalf("expected a match")
	}
	if res.params[0].name != "name" {
		t.Fatalf("expected the single-segment param route to win when only one segment remains, got param %q", res.params[0].name)
	}
}

func TestRouterOptionalParamFallback(t *testing.T) {
	r := testRouter()
	r.handle(MethodGET, "/items/:id?", noopHandler, nil)

	res := r.lookup("/items", 8, 16)
	if !res.matched {
		t.Fatalf("expected the optional param route to match with no value supplied")
	}
}

func TestRouterNoMatch(t *testing.T) {
	r := testRouter()
	r.handle(MethodGET, "/health", noopHandler, nil)

	res := r.lookup("/nope", 8, 16)
	if res.matched {
		t.Fatalf("expected no match for an unregistered path")
	}
}

func TestRouterMiddlewareAccumulatesDownTree(t *testing.T) {
	r := testRouter()
	r.handle(MethodGET, "/api/widgets", noopHandler, nil)
	r.addRouteMiddleware("/api", func(req *Request, next func() error) error { return next() }, 4)
	r.addRouteMiddleware("/api/widgets", func(req *Request, next func() error) error { return next() }, 4)

	res := r.lookup("/api/widgets", 8, 16)
	if !res.matched {
		t.Fatalf("expected a match")
	}
	if len(res.middleware) != 2 {
		t.Fatalf("expected 2 accumulated middleware entries, got %d", len(res.middleware))
	}
}
