package middleware

import (
	"github.com/relaykit/relay"
)

// QueryParams returns the stage that copies URL query parameters into
// the request's parameter mapping. A key given once binds its raw
// string value; a key repeated binds the full slice of values.
func QueryParams() relay.Handler {
	return func(c *relay.Context) {
		for name, values := range c.Request.URL.Query() {
			if len(values) == 1 {
				c.SetParam(name, values[0])
				continue
			}
			c.SetParam(name, values)
		}
		c.Next()
	}
}
