// Package store provides the keyed record store backing the rate
// limiter and login bookkeeping.
//
// A record is a key plus a timestamp. The store answers one question:
// how many records exist for a key at or after a point in time. That is
// enough for trailing-window rate limiting and recent-login checks
// without exposing backend details to callers.
//
// # Backends
//
//   - memory: process-local map with a background janitor
//   - redis: sorted sets scored by timestamp, shared across instances
//
// Both honor a record TTL after which entries are pruned. The redis
// backend can be wrapped in a circuit breaker so a struggling Redis
// fails fast instead of stalling every request.
//
// # Usage
//
// Create a store from configuration:
//
//	s, err := store.New(&cfg.Store, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	count, err := s.Find(ctx, "ratelimit:10.0.0.1", time.Now().Add(-time.Minute))
package store
