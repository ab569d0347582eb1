package middleware

import (
	"io"
	"net/http/httptest"

	"github.com/relaykit/relay"
)

// runChain executes handlers against a synthetic request and returns
// the recorder plus the context for inspection.
func runChain(method, target string, body io.Reader, handlers ...relay.Handler) (*httptest.ResponseRecorder, *relay.Context) {
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	c := relay.NewContext(rec, req)
	c.Run(handlers)
	return rec, c
}

// passThrough records that the chain reached it and continues.
func passThrough(reached *bool) relay.Handler {
	return func(c *relay.Context) {
		*reached = true
		c.Next()
	}
}
