package relay

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()

	req := httptest.NewRequest("GET", "/things", nil)
	return NewContext(httptest.NewRecorder(), req)
}

func TestContext_Run_OnionOrdering(t *testing.T) {
	t.Parallel()

	var order []string
	c := newTestContext(t)

	c.Run([]Handler{
		func(c *Context) {
			order = append(order, "outer-pre")
			c.Next()
			order = append(order, "outer-post")
		},
		func(c *Context) {
			order = append(order, "inner-pre")
			c.Next()
			order = append(order, "inner-post")
		},
		func(c *Context) {
			order = append(order, "handler")
		},
	})

	assert.Equal(t,
		[]string{"outer-pre", "inner-pre", "handler", "inner-post", "outer-post"},
		order,
	)
}

func TestContext_MissingNextEndsChain(t *testing.T) {
	t.Parallel()

	var ran []string
	c := newTestContext(t)

	c.Run([]Handler{
		func(c *Context) {
			ran = append(ran, "first")
			// no Next: everything downstream must be skipped
		},
		func(c *Context) {
			ran = append(ran, "second")
		},
	})

	assert.Equal(t, []string{"first"}, ran)
}

func TestContext_AbortStopsLaterNext(t *testing.T) {
	t.Parallel()

	var ran []string
	c := newTestContext(t)

	c.Run([]Handler{
		func(c *Context) {
			ran = append(ran, "first")
			c.Abort()
			c.Next()
		},
		func(c *Context) {
			ran = append(ran, "second")
		},
	})

	assert.Equal(t, []string{"first"}, ran)
	assert.True(t, c.IsAborted())
}

func TestContext_NilHandlerInChain(t *testing.T) {
	t.Parallel()

	var ran bool
	c := newTestContext(t)

	c.Run([]Handler{nil, func(c *Context) { ran = true }})

	// A nil entry cannot call Next, so the chain ends there.
	assert.False(t, ran)
}

func TestContext_Params(t *testing.T) {
	t.Parallel()

	c := newTestContext(t)

	_, ok := c.Param("id")
	assert.False(t, ok)

	c.SetParam("id", "42")
	c.SetParam("limit", float64(10))

	v, ok := c.Param("id")
	require.True(t, ok)
	assert.Equal(t, "42", v)

	// Later writers overwrite earlier ones.
	c.SetParam("id", float64(7))
	v, _ = c.Param("id")
	assert.Equal(t, float64(7), v)

	assert.Len(t, c.Params(), 2)
}

func TestContext_Values(t *testing.T) {
	t.Parallel()

	c := newTestContext(t)

	_, ok := c.Get("user")
	assert.False(t, ok)

	c.Set("user", "alice")
	v, ok := c.Get("user")
	require.True(t, ok)
	assert.Equal(t, "alice", v)
}

func TestContext_Body(t *testing.T) {
	t.Parallel()

	c := newTestContext(t)
	assert.Nil(t, c.Body())

	c.SetBody(map[string]any{"name": "thing"})
	assert.Equal(t, map[string]any{"name": "thing"}, c.Body())
}

func TestContext_ClientAddr(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.7:54321"
	c := NewContext(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.7", c.ClientAddr())

	c.SetClientAddr("198.51.100.9")
	assert.Equal(t, "198.51.100.9", c.ClientAddr())
}

func TestContext_ClientAddr_NoPort(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.7"
	c := NewContext(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.7", c.ClientAddr())
}

func TestContext_RoutePattern(t *testing.T) {
	t.Parallel()

	c := newTestContext(t)
	assert.Empty(t, c.RoutePattern())

	c.SetRoutePattern("/v1/users/:id")
	assert.Equal(t, "/v1/users/:id", c.RoutePattern())
}

func TestContext_Logger_Fallback(t *testing.T) {
	t.Parallel()

	c := newTestContext(t)
	assert.NotNil(t, c.Logger())
}

func TestContext_WithRequestContext(t *testing.T) {
	t.Parallel()

	type ctxKey string

	c := newTestContext(t)
	ctx := context.WithValue(c.Context(), ctxKey("k"), "v")
	c.WithRequestContext(ctx)

	assert.Equal(t, "v", c.Context().Value(ctxKey("k")))
}
