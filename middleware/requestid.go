package middleware

import (
	"github.com/google/uuid"

	"github.com/relaykit/relay"
	"github.com/relaykit/relay/observability"
)

// RequestID returns the stage that assigns each request an identifier.
// An incoming X-Request-ID header is reused so identifiers survive
// proxy hops; otherwise a fresh UUID is generated. The identifier is
// stored on the request context and echoed in the response header.
func RequestID() relay.Handler {
	return func(c *relay.Context) {
		id := c.Request.Header.Get(relay.HeaderXRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		c.WithRequestContext(observability.ContextWithRequestID(c.Context(), id))
		c.Header(relay.HeaderXRequestID, id)
		c.Next()
	}
}
