// Package relay provides the request-scoped core types of the relay
// service framework: the per-request Context with its middleware
// chain cursor, the Handler contract, the buffered response writer,
// and the response helpers (Send, JSON, SendFile, Paginate).
//
// A handler receives a *Context and either writes a response or calls
// Next to pass control to the next handler in the chain:
//
//	func auth(c *relay.Context) {
//		if c.Request.Header.Get("Authorization") == "" {
//			c.Error(http.StatusUnauthorized, "missing credentials")
//			return
//		}
//		c.Next()
//	}
//
// Route registration, the middleware pipeline assembly, and the HTTP
// listener live in the server package; pattern matching lives in the
// router package; the realtime fan-out channel lives in the realtime
// package.
package relay
