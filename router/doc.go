// Package router provides versioned route registration and lookup for
// the relay service core.
//
// This package implements a route table keyed by version-qualified paths
// with per-method registration lists, segment-wise pattern matching with
// named parameters, parameter-type rules consumed by the validation
// stage, and builder-style chaining for sub-path registration.
//
// # Features
//
//   - Segment-wise pattern matching with ":name" parameter binding
//   - Version-qualified registration keys with per-call overrides
//   - Wildcard "ALL" method registrations consulted before exact methods
//   - Deterministic first-match selection in registration order
//   - Parameter-type rules (string, number, boolean, array, object, any)
//   - Thread-safe registration and lookup
//
// # Usage
//
// Create a table and register routes:
//
//	t := router.NewTable()
//	t.SetVersion("v1")
//	t.Register(router.MethodGet, "/users/:id", getUser,
//	    router.WithRules(router.Rules{"id": router.TypeString}))
//
//	m, ok := t.Lookup(router.MethodGet, "/v1/users/42")
//	if ok {
//	    // Route matched, use m.Registration and m.Params.
//	}
package router
