package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweetpotato0/ai-research/pkg/logging"
	"github.com/sweetpotato0/ai-research/pkg/metrics"
)

// Store keeps opaque payloads keyed by string. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore adapts a TTLCache to the Store interface.
type MemoryStore struct {
	cache *TTLCache[string, []byte]
}

// NewMemoryStore wraps c. A nil cache gets a default-sized one.
func NewMemoryStore(c *TTLCache[string, []byte]) *MemoryStore {
	if c == nil {
		c = NewTTLCache[string, []byte]()
	}
	return &MemoryStore{cache: c}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.cache.Get(key)
	return v, ok, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.cache.PutWithTTL(key, value, ttl)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Remove(key)
	return nil
}

// Stats exposes the underlying cache counters.
func (s *MemoryStore) Stats() Stats {
	return s.cache.Stats()
}

// Memoize returns the cached JSON value for key, or calls fn and stores its result.
// Store failures are logged and never fail the call; fn errors are not cached.
func Memoize[T any](ctx context.Context, store Store, name, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	return MemoizeWhen(ctx, store, name, key, ttl, nil, fn)
}

// MemoizeWhen is Memoize with a filter: results for which keep returns false are
// returned but not stored. A nil keep stores every result.
func MemoizeWhen[T any](ctx context.Context, store Store, name, key string, ttl time.Duration, keep func(T) bool, fn func(context.Context) (T, error)) (T, error) {
	if store == nil {
		return fn(ctx)
	}
	logger := logging.WithComponent("cache").With("cache", name)

	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		logger.Warn("cache read failed", "error", err)
	}
	if ok {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			metrics.CacheRequests.WithLabelValues(name, "hit").Inc()
			return cached, nil
		}
		logger.Warn("discarding undecodable cache entry", "key", key)
	}
	metrics.CacheRequests.WithLabelValues(name, "miss").Inc()

	value, err := fn(ctx)
	if err != nil {
		return value, err
	}
	if keep != nil && !keep(value) {
		return value, nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return value, fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if err := store.Set(ctx, key, payload, ttl); err != nil {
		logger.Warn("cache write failed", "error", err)
	}
	return value, nil
}
