package store

import (
	"context"
	"errors"
	"time"

	"github.com/relaykit/relay/config"
	"github.com/relaykit/relay/observability"
)

// Common store errors.
var (
	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store closed")

	// ErrInvalidConfig indicates the store configuration is invalid.
	ErrInvalidConfig = errors.New("invalid store configuration")
)

// Record is a single keyed, timestamped entry.
type Record struct {
	// Key groups related records, e.g. "ratelimit:10.0.0.1".
	Key string

	// At is the moment the record was created.
	At time.Time
}

// Store is the abstract keyed record store. Implementations must be safe
// for concurrent use.
type Store interface {
	// Find returns the number of records under key created at or after
	// since.
	Find(ctx context.Context, key string, since time.Time) (int, error)

	// Insert adds a record.
	Insert(ctx context.Context, rec Record) error

	// Remove deletes every record under key.
	Remove(ctx context.Context, key string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources. Close is idempotent.
	Close() error
}

// Admitter is implemented by stores that can count a window and record
// the new entry in one atomic step, so concurrent callers sharing a key
// cannot slip past a ceiling between the count and the insert. Admit
// returns the number of records under key at or after since, before
// admission; when that count is below limit a record stamped now is
// added and allowed is true.
type Admitter interface {
	Admit(ctx context.Context, key string, since time.Time, limit int) (count int, allowed bool, err error)
}

// New creates a store from configuration. When the breaker is enabled the
// returned store wraps the backend in a circuit breaker.
func New(cfg *config.StoreConfig, logger observability.Logger) (Store, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}

	if logger == nil {
		logger = observability.NopLogger()
	}

	var (
		s   Store
		err error
	)

	switch cfg.Type {
	case config.StoreTypeMemory, "":
		s = newMemoryStore(cfg, logger)
	case config.StoreTypeRedis:
		s, err = newRedisStore(cfg, logger)
	default:
		return nil, errors.New("unknown store type: " + cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Breaker.Enabled {
		s = NewBreakerStore(s, cfg.Breaker, logger)
	}

	return s, nil
}
