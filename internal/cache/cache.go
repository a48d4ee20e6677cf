package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/logging"
)

// DefaultTTL is how long every cached response lives.
const DefaultTTL = time.Hour

// Key builders for the cached resources.
const ActionsKey = "actions"

func IndicatorsKey(value string) string {
	return "indicators-" + value
}

func AlertCountKey(incidentID string) string {
	return "number-of-alerts-" + incidentID
}

// Cache stores JSON encoded values with a TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
	Close() error
}

// Options configures a Manager.
type Options struct {
	// RedisURL selects the Redis backend. Empty keeps everything in memory.
	RedisURL string
	// Prefix namespaces Redis keys.
	Prefix string
	// MaxEntries bounds the in-memory backend.
	MaxEntries int
	// SingleFlight collapses concurrent loads of the same missing key.
	SingleFlight bool
}

// Manager fronts a primary cache with an optional in-memory fallback and
// keeps hit/miss statistics.
type Manager struct {
	primary  Cache
	fallback Cache
	ttl      time.Duration
	logger   logging.Logger

	singleFlight bool
	group        singleflight.Group

	mu     sync.RWMutex
	hits   int64
	misses int64
}

// NewManager creates a Manager. A Redis backend that cannot be reached is
// logged and replaced by the in-memory cache.
func NewManager(opts Options, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}

	var primary, fallback Cache
	memory := NewMemoryCache(opts.MaxEntries)

	if opts.RedisURL != "" {
		redisCache, err := NewRedisCache(opts.RedisURL, opts.Prefix, logger)
		if err != nil {
			logger.Warn("failed to create Redis cache, using memory cache only", "error", err)
			primary = memory
		} else {
			primary = redisCache
			fallback = memory
		}
	} else {
		primary = memory
	}

	return newManager(primary, fallback, DefaultTTL, opts.SingleFlight, logger)
}

// NewManagerWith builds a Manager around explicit backends.
func NewManagerWith(primary, fallback Cache, opts Options, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return newManager(primary, fallback, DefaultTTL, opts.SingleFlight, logger)
}

func newManager(primary, fallback Cache, ttl time.Duration, singleFlight bool, logger logging.Logger) *Manager {
	return &Manager{
		primary:      primary,
		fallback:     fallback,
		ttl:          ttl,
		singleFlight: singleFlight,
		logger:       logger,
	}
}

// TTL returns the lifetime applied to every entry.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Get returns the raw value for key, trying primary then fallback.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	if data, found := m.primary.Get(ctx, key); found {
		m.recordHit()
		return data, true
	}

	if m.fallback != nil {
		if data, found := m.fallback.Get(ctx, key); found {
			m.recordHit()
			return data, true
		}
	}

	m.recordMiss()
	return nil, false
}

// Set stores value in every backend with the manager TTL.
func (m *Manager) Set(ctx context.Context, key string, value []byte) {
	m.primary.Set(ctx, key, value, m.ttl)
	if m.fallback != nil {
		m.fallback.Set(ctx, key, value, m.ttl)
	}
}

// Delete removes key from every backend.
func (m *Manager) Delete(ctx context.Context, key string) {
	m.primary.Delete(ctx, key)
	if m.fallback != nil {
		m.fallback.Delete(ctx, key)
	}
}

// Clear empties every backend.
func (m *Manager) Clear(ctx context.Context) {
	m.primary.Clear(ctx)
	if m.fallback != nil {
		m.fallback.Clear(ctx)
	}
}

// Close shuts down both backends.
func (m *Manager) Close() error {
	var err error
	if m.primary != nil {
		err = m.primary.Close()
	}
	if m.fallback != nil {
		if fallbackErr := m.fallback.Close(); fallbackErr != nil && err == nil {
			err = fallbackErr
		}
	}
	return err
}

// GetStats returns cache statistics.
func (m *Manager) GetStats() (hits, misses int64, hitRatio float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits = m.hits
	misses = m.misses
	total := hits + misses

	if total > 0 {
		hitRatio = float64(hits) / float64(total)
	}

	return
}

func (m *Manager) recordHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
}

func (m *Manager) recordMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
}

// GetJSON decodes the cached value for key into a T.
func GetJSON[T any](ctx context.Context, m *Manager, key string) (T, bool) {
	var value T
	data, found := m.Get(ctx, key)
	if !found {
		return value, false
	}
	if err := json.Unmarshal(data, &value); err != nil {
		m.logger.Warn("dropping undecodable cache entry", "key", key, "error", err)
		m.Delete(ctx, key)
		return value, false
	}
	return value, true
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, m *Manager, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value for %s: %w", key, err)
	}
	m.Set(ctx, key, data)
	return nil
}

// Fetch is a read-through lookup: a hit is returned directly, a miss calls
// load and caches its result. Failed loads are not cached.
func Fetch[T any](ctx context.Context, m *Manager, key string, load func(context.Context) (T, error)) (T, error) {
	if value, found := GetJSON[T](ctx, m, key); found {
		m.logger.Trace("found in cache", "key", key)
		return value, nil
	}
	m.logger.Trace("not found in cache", "key", key)

	loadAndStore := func() (T, error) {
		value, err := load(ctx)
		if err != nil {
			return value, err
		}
		if err := SetJSON(ctx, m, key, value); err != nil {
			m.logger.Warn("failed to cache value", "key", key, "error", err)
		}
		return value, nil
	}

	if !m.singleFlight {
		return loadAndStore()
	}

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		return loadAndStore()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
