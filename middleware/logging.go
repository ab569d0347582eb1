package middleware

import (
	"time"

	"github.com/relaykit/relay"
	"github.com/relaykit/relay/observability"
)

// Logging returns the stage that writes one structured log line per
// request after the rest of the chain has finished.
func Logging(logger observability.Logger) relay.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(c *relay.Context) {
		start := time.Now()
		c.Next()

		fields := []observability.Field{
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
			observability.Int("status", c.Writer.Status()),
			observability.Int("size", c.Writer.Size()),
			observability.Duration("duration", time.Since(start)),
			observability.String("client_addr", c.ClientAddr()),
		}
		if query := c.Request.URL.RawQuery; query != "" {
			fields = append(fields, observability.String("query", query))
		}
		if agent := c.Request.UserAgent(); agent != "" {
			fields = append(fields, observability.String("user_agent", agent))
		}
		if id := observability.RequestIDFromContext(c.Context()); id != "" {
			fields = append(fields, observability.String("request_id", id))
		}
		logger.Info("http request", fields...)
	}
}
