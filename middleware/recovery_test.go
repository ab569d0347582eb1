package middleware

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaykit/relay"
	"github.com/relaykit/relay/observability"
)

func TestRecovery_PanicBecomes500(t *testing.T) {
	t.Parallel()

	boom := func(c *relay.Context) {
		panic("boom")
	}

	rec, c := runChain(http.MethodGet, "/panic", nil,
		Recovery(observability.NopLogger()), boom)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
	assert.True(t, c.IsAborted())
}

func TestRecovery_PanicAfterResponseWritten(t *testing.T) {
	t.Parallel()

	partial := func(c *relay.Context) {
		c.Send("partial")
		panic("late failure")
	}

	rec, c := runChain(http.MethodGet, "/late", nil,
		Recovery(observability.NopLogger()), partial)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
	assert.True(t, c.IsAborted())
}

func TestRecovery_NoPanicPassesThrough(t *testing.T) {
	t.Parallel()

	var reached bool
	ok := func(c *relay.Context) {
		c.Send("ok")
	}

	rec, _ := runChain(http.MethodGet, "/ok", nil,
		Recovery(nil), passThrough(&reached), ok)

	assert.True(t, reached)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRecovery_CatchesPanicDeepInChain(t *testing.T) {
	t.Parallel()

	step := func(c *relay.Context) { c.Next() }
	boom := func(c *relay.Context) { panic("deep") }

	rec, _ := runChain(http.MethodGet, "/deep", nil,
		Recovery(observability.NopLogger()), step, step, boom)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
