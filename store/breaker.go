package store

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/relaykit/relay"
	"github.com/relaykit/relay/config"
	"github.com/relaykit/relay/observability"
)

// breakerMinRequests is the minimum sample size before the breaker can trip.
const breakerMinRequests = 3

// BreakerStore wraps a Store with a circuit breaker so a struggling
// backend fails fast instead of stalling every request. Rejected
// operations surface as store errors; callers treat them like any other
// backend failure.
type BreakerStore struct {
	inner  Store
	cb     *gobreaker.CircuitBreaker
	logger observability.Logger
}

// NewBreakerStore wraps inner with a circuit breaker built from cfg.
func NewBreakerStore(inner Store, cfg config.BreakerConfig, logger observability.Logger) *BreakerStore {
	if logger == nil {
		logger = observability.NopLogger()
	}

	bs := &BreakerStore{
		inner:  inner,
		logger: logger,
	}

	maxRequests := cfg.MaxRequests
	if maxRequests == 0 {
		maxRequests = 1
	}

	settings := gobreaker.Settings{
		Name:        "store",
		MaxRequests: maxRequests,
		Interval:    cfg.Interval.Duration(),
		Timeout:     cfg.Timeout.Duration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= breakerMinRequests && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			bs.logger.Info("store circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	}

	bs.cb = gobreaker.NewCircuitBreaker(settings)
	return bs
}

// Find implements Store.
func (s *BreakerStore) Find(ctx context.Context, key string, since time.Time) (int, error) {
	result, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.Find(ctx, key, since)
	})
	if err != nil {
		return 0, s.wrapRejection("find", err)
	}

	count, ok := result.(int)
	if !ok {
		return 0, relay.NewStoreError("find", ErrInvalidConfig)
	}
	return count, nil
}

// Insert implements Store.
func (s *BreakerStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.inner.Insert(ctx, rec)
	})
	if err != nil {
		return s.wrapRejection("insert", err)
	}
	return nil
}

// admission carries an Admit result through the breaker.
type admission struct {
	count   int
	allowed bool
}

// Admit implements Admitter. Inner stores without an atomic admission
// path are emulated with a find followed by an insert inside one
// breaker execution.
func (s *BreakerStore) Admit(ctx context.Context, key string, since time.Time, limit int) (int, bool, error) {
	result, err := s.cb.Execute(func() (interface{}, error) {
		if a, ok := s.inner.(Admitter); ok {
			count, allowed, err := a.Admit(ctx, key, since, limit)
			return admission{count: count, allowed: allowed}, err
		}

		count, err := s.inner.Find(ctx, key, since)
		if err != nil {
			return admission{}, err
		}
		if count >= limit {
			return admission{count: count}, nil
		}
		if err := s.inner.Insert(ctx, Record{Key: key, At: time.Now()}); err != nil {
			return admission{}, err
		}
		return admission{count: count, allowed: true}, nil
	})
	if err != nil {
		return 0, false, s.wrapRejection("admit", err)
	}

	adm, ok := result.(admission)
	if !ok {
		return 0, false, relay.NewStoreError("admit", ErrInvalidConfig)
	}
	return adm.count, adm.allowed, nil
}

// Remove implements Store.
func (s *BreakerStore) Remove(ctx context.Context, key string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.inner.Remove(ctx, key)
	})
	if err != nil {
		return s.wrapRejection("remove", err)
	}
	return nil
}

// Ping implements Store. Pings bypass the breaker so health checks keep
// probing the backend while the breaker is open.
func (s *BreakerStore) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}

// Close implements Store.
func (s *BreakerStore) Close() error {
	return s.inner.Close()
}

// State returns the current breaker state.
func (s *BreakerStore) State() gobreaker.State {
	return s.cb.State()
}

// wrapRejection turns breaker rejections into store errors; backend
// errors already carry store context and pass through unchanged.
func (s *BreakerStore) wrapRejection(op string, err error) error {
	switch err {
	case gobreaker.ErrOpenState, gobreaker.ErrTooManyRequests:
		storeBreakerRejections.Inc()
		s.logger.Warn("store circuit breaker rejected operation",
			observability.String("operation", op),
			observability.String("state", s.cb.State().String()),
		)
		return relay.NewStoreError(op, err)
	default:
		return err
	}
}
