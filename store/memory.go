package store

import (
	"context"
	"sync"
	"time"

	"github.com/relaykit/relay"
	"github.com/relaykit/relay/config"
	"github.com/relaykit/relay/observability"
)

// Default housekeeping values for the memory store.
const (
	defaultCleanupInterval = time.Minute
	defaultRecordTTL       = 24 * time.Hour
)

// memoryStore keeps records in a process-local map. A background janitor
// prunes entries older than the record TTL.
type memoryStore struct {
	logger observability.Logger
	ttl    time.Duration

	mu      sync.RWMutex
	records map[string][]time.Time

	stopCh chan struct{}
	closed bool
}

func newMemoryStore(cfg *config.StoreConfig, logger observability.Logger) *memoryStore {
	interval := cfg.CleanupInterval.Duration()
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	ttl := cfg.RecordTTL.Duration()
	if ttl <= 0 {
		ttl = defaultRecordTTL
	}

	s := &memoryStore{
		logger:  logger,
		ttl:     ttl,
		records: make(map[string][]time.Time),
		stopCh:  make(chan struct{}),
	}

	go s.cleanupLoop(interval)

	logger.Info("memory store initialized",
		observability.Duration("cleanupInterval", interval),
		observability.Duration("recordTTL", ttl))

	return s
}

// Find implements Store.
func (s *memoryStore) Find(ctx context.Context, key string, since time.Time) (int, error) {
	start := time.Now()
	defer func() {
		observeOperation("memory", "find", time.Since(start).Seconds(), nil)
	}()

	if err := ctx.Err(); err != nil {
		return 0, relay.NewStoreError("find", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, relay.NewStoreError("find", ErrClosed)
	}

	count := 0
	for _, at := range s.records[key] {
		if !at.Before(since) {
			count++
		}
	}
	return count, nil
}

// Insert implements Store.
func (s *memoryStore) Insert(ctx context.Context, rec Record) error {
	start := time.Now()
	defer func() {
		observeOperation("memory", "insert", time.Since(start).Seconds(), nil)
	}()

	if err := ctx.Err(); err != nil {
		return relay.NewStoreError("insert", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return relay.NewStoreError("insert", ErrClosed)
	}

	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	s.records[rec.Key] = append(s.records[rec.Key], at)
	return nil
}

// Admit implements Admitter. The count and the conditional insert run
// under one write lock, so concurrent admissions for a key serialize.
func (s *memoryStore) Admit(ctx context.Context, key string, since time.Time, limit int) (int, bool, error) {
	start := time.Now()
	defer func() {
		observeOperation("memory", "admit", time.Since(start).Seconds(), nil)
	}()

	if err := ctx.Err(); err != nil {
		return 0, false, relay.NewStoreError("admit", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, false, relay.NewStoreError("admit", ErrClosed)
	}

	count := 0
	for _, at := range s.records[key] {
		if !at.Before(since) {
			count++
		}
	}
	if count >= limit {
		return count, false, nil
	}

	s.records[key] = append(s.records[key], time.Now())
	return count, true, nil
}

// Remove implements Store.
func (s *memoryStore) Remove(ctx context.Context, key string) error {
	start := time.Now()
	defer func() {
		observeOperation("memory", "remove", time.Since(start).Seconds(), nil)
	}()

	if err := ctx.Err(); err != nil {
		return relay.NewStoreError("remove", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return relay.NewStoreError("remove", ErrClosed)
	}

	delete(s.records, key)
	return nil
}

// Ping implements Store.
func (s *memoryStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return relay.NewStoreError("ping", ErrClosed)
	}
	return nil
}

// Close implements Store. Close is idempotent.
func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stopCh)
	return nil
}

// cleanupLoop periodically removes records older than the TTL.
func (s *memoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup removes expired records under a single write lock so entries
// cannot change between scanning and pruning.
func (s *memoryStore) cleanup() {
	cutoff := time.Now().Add(-s.ttl)
	removed := 0

	s.mu.Lock()
	for key, times := range s.records {
		kept := times[:0]
		for _, at := range times {
			if at.After(cutoff) {
				kept = append(kept, at)
			}
		}
		removed += len(times) - len(kept)
		if len(kept) == 0 {
			delete(s.records, key)
			continue
		}
		s.records[key] = kept
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("pruned expired records",
			observability.Int("removed", removed))
	}
}

// len reports the number of live records, for tests.
func (s *memoryStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, times := range s.records {
		n += len(times)
	}
	return n
}
