package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/relaykit/relay"
	"github.com/relaykit/relay/observability"
)

// Recovery returns the stage that converts handler panics into 500
// responses. The panic value and stack are logged; if the handler
// already wrote a response before panicking, the chain is aborted
// without writing again.
func Recovery(logger observability.Logger) relay.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(c *relay.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				GetStageMetrics().panicsRecovered.Inc()
				logger.Error("panic recovered",
					observability.String("method", c.Request.Method),
					observability.String("path", c.Request.URL.Path),
					observability.Any("panic", rec),
					observability.String("stack", string(debug.Stack())),
				)
				if c.Writer.Written() {
					c.Abort()
					return
				}
				c.Error(http.StatusInternalServerError, "internal server error")
			}
		}()
		c.Next()
	}
}
