package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	data       []byte
	insertedAt time.Time
	expiry     time.Time
}

// MemoryCache is an in-process TTL cache.
type MemoryCache struct {
	mu      sync.RWMutex
	data    map[string]entry
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache creates a memory cache holding at most maxSize entries and
// starts its background sweeper.
func NewMemoryCache(maxSize int) *MemoryCache {
	mc := newMemoryCache(maxSize, time.Now)
	go mc.cleanup(5 * time.Minute)
	return mc
}

// NewMemoryCacheWithClock creates a memory cache driven by now. No sweeper
// runs; expired entries are dropped on read.
func NewMemoryCacheWithClock(maxSize int, now func() time.Time) *MemoryCache {
	return newMemoryCache(maxSize, now)
}

func newMemoryCache(maxSize int, now func() time.Time) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 5000
	}
	return &MemoryCache{
		data:    make(map[string]entry),
		maxSize: maxSize,
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Get returns the value for key if it has not expired.
func (mc *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	mc.mu.RLock()
	e, exists := mc.data[key]
	mc.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if !mc.now().Before(e.expiry) {
		mc.mu.Lock()
		if cur, ok := mc.data[key]; ok && cur.insertedAt.Equal(e.insertedAt) {
			delete(mc.data, key)
		}
		mc.mu.Unlock()
		return nil, false
	}

	return e.data, true
}

// Set stores value for ttl from now.
func (mc *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, exists := mc.data[key]; !exists && len(mc.data) >= mc.maxSize {
		mc.evictOldest()
	}

	now := mc.now()
	mc.data[key] = entry{
		data:       value,
		insertedAt: now,
		expiry:     now.Add(ttl),
	}
}

// Delete removes key.
func (mc *MemoryCache) Delete(_ context.Context, key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	delete(mc.data, key)
}

// Clear removes all entries.
func (mc *MemoryCache) Clear(_ context.Context) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.data = make(map[string]entry)
}

// Len reports the number of stored entries, expired ones included.
func (mc *MemoryCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.data)
}

// Close stops the sweeper and drops all entries.
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() { close(mc.stop) })
	mc.Clear(context.Background())
	return nil
}

// evictOldest removes the entry closest to expiry. Caller holds mu.
func (mc *MemoryCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true

	for key, e := range mc.data {
		if first || e.expiry.Before(oldest) {
			oldestKey = key
			oldest = e.expiry
			first = false
		}
	}

	if !first {
		delete(mc.data, oldestKey)
	}
}

func (mc *MemoryCache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-mc.stop:
			return
		case <-ticker.C:
			mc.sweep()
		}
	}
}

func (mc *MemoryCache) sweep() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	for key, e := range mc.data {
		if !now.Before(e.expiry) {
			delete(mc.data, key)
		}
	}
}
