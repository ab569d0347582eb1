package relay

import (
	"context"
	"net"
	"net/http"

	"github.com/relaykit/relay/observability"
)

// Handler processes a request. Handlers either write a response and
// return, or call Next to hand control to the rest of the chain. A
// handler that writes a terminal response must not call Next.
type Handler func(*Context)

// abortIndex is the cursor value that places the chain past its end.
const abortIndex = 1 << 30

// Context carries the state of a single request through the middleware
// chain and into the route handler. A Context is created per request
// and never shared across requests; reads and writes on it need no
// locking because the chain runs on one goroutine.
type Context struct {
	// Request is the inbound HTTP request.
	Request *http.Request

	// Writer wraps the response stream and records status and size.
	Writer *ResponseWriter

	params     map[string]any
	body       any
	values     map[string]any
	handlers   []Handler
	index      int
	pattern    string
	clientAddr string
	logger     observability.Logger
}

// NewContext creates a Context for the given response writer and
// request.
func NewContext(w http.ResponseWriter, r *http.Request) *Context {
	return &Context{
		Request: r,
		Writer:  NewResponseWriter(w),
		index:   -1,
	}
}

// Run executes the handler chain from the beginning.
func (c *Context) Run(handlers []Handler) {
	c.handlers = handlers
	c.index = -1
	c.Next()
}

// Next invokes the next handler in the chain and returns when it
// finishes. Continuation is explicit: a handler that returns without
// calling Next ends the chain, and nothing downstream runs. Code after
// a Next call executes once the rest of the chain has completed.
func (c *Context) Next() {
	c.index++
	if c.index >= len(c.handlers) {
		return
	}
	if handler := c.handlers[c.index]; handler != nil {
		handler(c)
	}
}

// Abort stops the remaining chain from running. The current handler
// keeps executing; handlers that already ran are unaffected.
func (c *Context) Abort() {
	c.index = abortIndex
}

// IsAborted reports whether the chain was aborted.
func (c *Context) IsAborted() bool {
	return c.index >= abortIndex
}

// Param returns the accumulated parameter with the given name. Path
// parameters, query parameters, and decoded body fields all land in
// the same space, in that order of arrival.
func (c *Context) Param(name string) (any, bool) {
	v, ok := c.params[name]
	return v, ok
}

// SetParam stores a parameter value.
func (c *Context) SetParam(name string, value any) {
	if c.params == nil {
		c.params = make(map[string]any)
	}
	c.params[name] = value
}

// Params returns the live parameter map. Mutations are visible to
// later handlers in the chain.
func (c *Context) Params() map[string]any {
	if c.params == nil {
		c.params = make(map[string]any)
	}
	return c.params
}

// Body returns the parsed request body, if a body parser stage ran.
// The concrete type depends on the configured mode: map or slice
// values for json, []byte for raw, string for text.
func (c *Context) Body() any {
	return c.body
}

// SetBody stores the parsed request body.
func (c *Context) SetBody(body any) {
	c.body = body
}

// Set stores a per-request value. The context hook and handlers use
// this instead of process-global state.
func (c *Context) Set(key string, value any) {
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = value
}

// Get returns a per-request value.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// RoutePattern returns the matched route pattern, or the empty string
// before routing (and for unmatched requests).
func (c *Context) RoutePattern() string {
	return c.pattern
}

// SetRoutePattern records the matched route pattern.
func (c *Context) SetRoutePattern(pattern string) {
	c.pattern = pattern
}

// ClientAddr returns the client network address used for rate limiting
// and access control. It prefers the address stored by SetClientAddr
// and falls back to the request's RemoteAddr host.
func (c *Context) ClientAddr() string {
	if c.clientAddr != "" {
		return c.clientAddr
	}
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}

// SetClientAddr records the resolved client network address.
func (c *Context) SetClientAddr(addr string) {
	c.clientAddr = addr
}

// Logger returns the request-scoped logger.
func (c *Context) Logger() observability.Logger {
	if c.logger == nil {
		return observability.L()
	}
	return c.logger
}

// SetLogger sets the request-scoped logger.
func (c *Context) SetLogger(logger observability.Logger) {
	c.logger = logger
}

// Context returns the request's context.
func (c *Context) Context() context.Context {
	return c.Request.Context()
}

// WithRequestContext replaces the request's context. Stages that
// enrich the context (request id, tracing) use this to make the
// enrichment visible downstream.
func (c *Context) WithRequestContext(ctx context.Context) {
	c.Request = c.Request.WithContext(ctx)
}
