package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/pkg/errors"
)

// ResultStore keeps JSON-encoded results of type R under a key prefix with
// a fixed TTL. It satisfies batch.RemoteStore[R], which makes it the
// shared cache tier between workers.
type ResultStore[R any] struct {
	client *Client
	prefix string
	ttl    time.Duration
	logger logging.Logger
}

// NewResultStore returns a store over client. A zero ttl keeps entries
// until evicted by redis.
func NewResultStore[R any](client *Client, prefix string, ttl time.Duration, log logging.Logger) *ResultStore[R] {
	return &ResultStore[R]{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logging.OrNop(log).Named("result_store"),
	}
}

func (s *ResultStore[R]) key(k string) string { return s.prefix + k }

// Get returns ok=false with a nil error on a miss.
func (s *ResultStore[R]) Get(ctx context.Context, key string) (R, bool, error) {
	var zero R
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, errors.Wrap(err, errors.ErrCodeCacheError, "redis get failed").WithDetail(key)
	}

	var v R
	if err := json.Unmarshal(raw, &v); err != nil {
		s.logger.Warn("discarding undecodable cache entry", logging.String("key", key), logging.Err(err))
		return zero, false, errors.Wrap(err, errors.ErrCodeSerialization, "decode cached result").WithDetail(key)
	}
	return v, true, nil
}

func (s *ResultStore[R]) Set(ctx context.Context, key string, value R) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "encode result").WithDetail(key)
	}
	if err := s.client.Set(ctx, s.key(key), string(data), s.ttl).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "redis set failed").WithDetail(key)
	}
	return nil
}

// Delete removes the given keys. Missing keys are not an error.
func (s *ResultStore[R]) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "redis del failed")
	}
	return nil
}
