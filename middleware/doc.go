// Package middleware provides the built-in pipeline stages for the
// relay service core.
//
// A stage is a relay.Handler that either calls c.Next to pass control
// down the chain or writes a response and returns to end it. The server
// composes enabled stages in a fixed relative order: recovery, request
// ID, client address resolution, request logging, rate limiting, query
// parameter parsing, body parsing, parameter-type validation, and
// access gating.
//
// # Features
//
//   - Panic recovery with stack logging
//   - Request ID propagation via X-Request-ID
//   - Client address resolution with trusted-proxy X-Forwarded-For
//   - Structured request logging
//   - Trailing-window rate limiting backed by the record store, with a
//     local token-bucket fallback
//   - Query and body parameter binding (JSON, raw bytes, or text)
//   - Parameter-type validation against per-route rules
//   - Blacklist/whitelist access gating
//
// # Usage
//
// Stages compose like any other handler:
//
//	chain := []relay.Handler{
//	    middleware.Recovery(logger),
//	    middleware.RequestID(),
//	    middleware.Logging(logger),
//	    routeHandler,
//	}
//	relay.NewContext(w, r).Run(chain)
package middleware
