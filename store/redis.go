package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaykit/relay"
	"github.com/relaykit/relay/config"
	"github.com/relaykit/relay/observability"
)

// storeTracerName is the OpenTelemetry tracer name for store operations.
const storeTracerName = "relay/store"

// keyPrefix namespaces relay records in a shared Redis.
const keyPrefix = "relay:"

// redisStore keeps records in Redis sorted sets scored by creation time
// in milliseconds, so multiple relay instances share one window.
type redisStore struct {
	logger observability.Logger
	client *redis.Client
	ttl    time.Duration

	mu     sync.Mutex
	closed bool
}

func newRedisStore(cfg *config.StoreConfig, logger observability.Logger) (*redisStore, error) {
	if cfg.Redis.Address == "" {
		return nil, errors.New("redis address is required")
	}

	opts := &redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	if cfg.Redis.PoolSize > 0 {
		opts.PoolSize = cfg.Redis.PoolSize
	}
	if d := cfg.Redis.DialTimeout.Duration(); d > 0 {
		opts.DialTimeout = d
	}

	client := redis.NewClient(opts)

	if err := pingRedis(client); err != nil {
		_ = client.Close()
		return nil, errors.New("redis connection failed: " + err.Error())
	}

	ttl := cfg.RecordTTL.Duration()
	if ttl <= 0 {
		ttl = defaultRecordTTL
	}

	s := &redisStore{
		logger: logger,
		client: client,
		ttl:    ttl,
	}

	logger.Info("redis store initialized",
		observability.String("address", cfg.Redis.Address),
		observability.Duration("recordTTL", ttl))

	return s, nil
}

// pingRedis tests the Redis connection with a timeout.
func pingRedis(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

// storeKey adds the relay prefix to a record key.
func storeKey(key string) string {
	return keyPrefix + key
}

// admitScript prunes entries past the record TTL, counts the window,
// and adds the new entry only while the count is under the limit, all
// in one atomic step on the Redis side.
// Returns: count before admission, allowed (0 or 1).
var admitScript = redis.NewScript(`
	local key = KEYS[1]
	local ttl_cutoff = ARGV[1]
	local since = ARGV[2]
	local now = tonumber(ARGV[3])
	local limit = tonumber(ARGV[4])
	local member = ARGV[5]
	local ttl_ms = tonumber(ARGV[6])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. ttl_cutoff)

	local count = redis.call('ZCOUNT', key, since, '+inf')

	local allowed = 0
	if count < limit then
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, ttl_ms)
		allowed = 1
	end

	return {count, allowed}
`)

// Admit implements Admitter via a server-side script, so concurrent
// requests against one key cannot overshoot the limit between the
// count and the insert.
func (s *redisStore) Admit(ctx context.Context, key string, since time.Time, limit int) (int, bool, error) {
	ctx, span := otel.Tracer(storeTracerName).Start(ctx, "store.Admit",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("store.backend", "redis"),
			attribute.String("store.key", key),
		),
	)
	defer span.End()

	start := time.Now()
	var err error
	defer func() {
		observeOperation("redis", "admit", time.Since(start).Seconds(), err)
	}()

	if err = ctx.Err(); err != nil {
		return 0, false, relay.NewStoreError("admit", err)
	}

	now := time.Now()
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()

	raw, err := admitScript.Run(ctx, s.client, []string{storeKey(key)},
		strconv.FormatInt(now.Add(-s.ttl).UnixMilli(), 10),
		strconv.FormatInt(since.UnixMilli(), 10),
		now.UnixMilli(),
		limit,
		member,
		s.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil || len(raw) != 2 {
		if err == nil {
			err = errors.New("unexpected admit script reply")
		}
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		s.logger.Error("redis admit failed",
			observability.String("key", key),
			observability.Error(err))
		return 0, false, relay.NewStoreError("admit", err)
	}

	count := int(raw[0])
	allowed := raw[1] == 1
	span.SetAttributes(
		attribute.Int("store.count", count),
		attribute.Bool("store.allowed", allowed),
	)
	return count, allowed, nil
}

// Find implements Store. Entries older than the record TTL are pruned in
// the same round trip; pruning never removes records inside any window a
// caller could still ask about.
func (s *redisStore) Find(ctx context.Context, key string, since time.Time) (int, error) {
	ctx, span := otel.Tracer(storeTracerName).Start(ctx, "store.Find",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("store.backend", "redis"),
			attribute.String("store.key", key),
		),
	)
	defer span.End()

	start := time.Now()
	var err error
	defer func() {
		observeOperation("redis", "find", time.Since(start).Seconds(), err)
	}()

	if err = ctx.Err(); err != nil {
		return 0, relay.NewStoreError("find", err)
	}

	full := storeKey(key)
	cutoff := strconv.FormatInt(time.Now().Add(-s.ttl).UnixMilli(), 10)
	lower := strconv.FormatInt(since.UnixMilli(), 10)

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, full, "-inf", "("+cutoff)
	countCmd := pipe.ZCount(ctx, full, lower, "+inf")

	if _, err = pipe.Exec(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		s.logger.Error("redis find failed",
			observability.String("key", key),
			observability.Error(err))
		return 0, relay.NewStoreError("find", err)
	}

	count := int(countCmd.Val())
	span.SetAttributes(attribute.Int("store.count", count))
	return count, nil
}

// Insert implements Store.
func (s *redisStore) Insert(ctx context.Context, rec Record) error {
	ctx, span := otel.Tracer(storeTracerName).Start(ctx, "store.Insert",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("store.backend", "redis"),
			attribute.String("store.key", rec.Key),
		),
	)
	defer span.End()

	start := time.Now()
	var err error
	defer func() {
		observeOperation("redis", "insert", time.Since(start).Seconds(), err)
	}()

	if err = ctx.Err(); err != nil {
		return relay.NewStoreError("insert", err)
	}

	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}

	full := storeKey(rec.Key)
	member := strconv.FormatInt(at.UnixNano(), 10) + ":" + uuid.NewString()

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, full, redis.Z{Score: float64(at.UnixMilli()), Member: member})
	pipe.Expire(ctx, full, s.ttl)

	if _, err = pipe.Exec(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		s.logger.Error("redis insert failed",
			observability.String("key", rec.Key),
			observability.Error(err))
		return relay.NewStoreError("insert", err)
	}

	return nil
}

// Remove implements Store.
func (s *redisStore) Remove(ctx context.Context, key string) error {
	ctx, span := otel.Tracer(storeTracerName).Start(ctx, "store.Remove",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("store.backend", "redis"),
			attribute.String("store.key", key),
		),
	)
	defer span.End()

	start := time.Now()
	var err error
	defer func() {
		observeOperation("redis", "remove", time.Since(start).Seconds(), err)
	}()

	if err = ctx.Err(); err != nil {
		return relay.NewStoreError("remove", err)
	}

	if err = s.client.Del(ctx, storeKey(key)).Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		s.logger.Error("redis remove failed",
			observability.String("key", key),
			observability.Error(err))
		return relay.NewStoreError("remove", err)
	}

	return nil
}

// Ping implements Store.
func (s *redisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return relay.NewStoreError("ping", err)
	}
	return nil
}

// Close implements Store. Close is idempotent.
func (s *redisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.logger.Info("redis store closing")
	return s.client.Close()
}
