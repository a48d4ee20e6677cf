package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClockedManager(clock *fakeClock, singleFlight bool) *Manager {
	mem := NewMemoryCacheWithClock(100, clock.Now)
	return NewManagerWith(mem, nil, Options{SingleFlight: singleFlight}, nil)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "actions", ActionsKey)
	assert.Equal(t, "indicators-1.2.3.4", IndicatorsKey("1.2.3.4"))
	assert.Equal(t, "number-of-alerts-/api/3/incidents/42", AlertCountKey("/api/3/incidents/42"))
}

func TestManagerRoundTripWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := newClockedManager(clock, false)
	ctx := context.Background()

	require.NoError(t, SetJSON(ctx, m, "number-of-alerts-/api/3/incidents/1", 7))

	clock.Advance(59 * time.Minute)
	got, found := GetJSON[int](ctx, m, "number-of-alerts-/api/3/incidents/1")
	require.True(t, found)
	assert.Equal(t, 7, got)

	hits, misses, ratio := m.GetStats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(0), misses)
	assert.Equal(t, 1.0, ratio)
}

func TestManagerExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := newClockedManager(clock, false)
	ctx := context.Background()

	m.Set(ctx, ActionsKey, []byte(`["a"]`))

	clock.Advance(DefaultTTL)
	_, found := m.Get(ctx, ActionsKey)
	assert.False(t, found, "entry must not be served once the TTL has elapsed")
}

func TestFetchReadThrough(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := newClockedManager(clock, false)
	ctx := context.Background()

	var loads int32
	load := func(context.Context) ([]string, error) {
		atomic.AddInt32(&loads, 1)
		return []string{"Escalate"}, nil
	}

	v, err := Fetch(ctx, m, ActionsKey, load)
	require.NoError(t, err)
	assert.Equal(t, []string{"Escalate"}, v)

	v, err = Fetch(ctx, m, ActionsKey, load)
	require.NoError(t, err)
	assert.Equal(t, []string{"Escalate"}, v)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))

	clock.Advance(DefaultTTL + time.Second)
	_, err = Fetch(ctx, m, ActionsKey, load)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&loads), "expired entry triggers a re-fetch")
}

func TestFetchDoesNotCacheFailures(t *testing.T) {
	m := newClockedManager(&fakeClock{now: time.Unix(0, 0)}, false)
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := Fetch(ctx, m, "indicators-x", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	_, found := m.Get(ctx, "indicators-x")
	assert.False(t, found)
}

func TestFetchCachesZeroValues(t *testing.T) {
	m := newClockedManager(&fakeClock{now: time.Unix(0, 0)}, false)
	ctx := context.Background()

	var loads int32
	load := func(context.Context) (int, error) {
		atomic.AddInt32(&loads, 1)
		return 0, nil
	}
	_, _ = Fetch(ctx, m, AlertCountKey("/api/3/incidents/9"), load)
	_, _ = Fetch(ctx, m, AlertCountKey("/api/3/incidents/9"), load)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestFetchSingleFlight(t *testing.T) {
	m := newClockedManager(&fakeClock{now: time.Unix(0, 0)}, true)
	ctx := context.Background()

	var loads int32
	release := make(chan struct{})
	load := func(context.Context) (int, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Fetch(ctx, m, ActionsKey, load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	// Give the goroutines time to pile onto the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, 42, v)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&loads), int32(5))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&loads), int32(1))
}

func TestGetJSONDropsCorruptEntries(t *testing.T) {
	m := newClockedManager(&fakeClock{now: time.Unix(0, 0)}, false)
	ctx := context.Background()

	m.Set(ctx, "indicators-x", []byte("{not json"))
	_, found := GetJSON[[]int](ctx, m, "indicators-x")
	assert.False(t, found)

	_, found = m.Get(ctx, "indicators-x")
	assert.False(t, found)
}

func TestMemoryCacheEvictsWhenFull(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	mc := NewMemoryCacheWithClock(2, clock.Now)
	ctx := context.Background()

	mc.Set(ctx, "a", []byte("1"), time.Minute)
	clock.Advance(time.Second)
	mc.Set(ctx, "b", []byte("2"), time.Minute)
	clock.Advance(time.Second)
	mc.Set(ctx, "c", []byte("3"), time.Minute)

	assert.Equal(t, 2, mc.Len())
	_, found := mc.Get(ctx, "a")
	assert.False(t, found)

	mc.sweep()
	require.NoError(t, mc.Close())
	assert.Equal(t, 0, mc.Len())
}

func TestRedisCacheExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rc, err := NewRedisCache("redis://"+mr.Addr(), "", nil)
	require.NoError(t, err)
	defer rc.Close()

	ctx := context.Background()
	rc.Set(ctx, ActionsKey, []byte(`[{"name":"Escalate"}]`), DefaultTTL)

	assert.True(t, mr.Exists(defaultRedisPrefix+ActionsKey))

	data, found := rc.Get(ctx, ActionsKey)
	require.True(t, found)
	assert.JSONEq(t, `[{"name":"Escalate"}]`, string(data))

	mr.FastForward(DefaultTTL + time.Second)
	_, found = rc.Get(ctx, ActionsKey)
	assert.False(t, found)
}

func TestRedisCacheClearAndDelete(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rc, err := NewRedisCache("redis://"+mr.Addr(), "test:", nil)
	require.NoError(t, err)
	defer rc.Close()

	ctx := context.Background()
	rc.Set(ctx, "a", []byte("1"), time.Minute)
	rc.Set(ctx, "b", []byte("2"), time.Minute)

	rc.Delete(ctx, "a")
	_, found := rc.Get(ctx, "a")
	assert.False(t, found)

	rc.Clear(ctx)
	_, found = rc.Get(ctx, "b")
	assert.False(t, found)
}

func TestNewManagerFallsBackToMemory(t *testing.T) {
	m := NewManager(Options{RedisURL: "redis://127.0.0.1:1"}, nil)
	defer m.Close()

	ctx := context.Background()
	m.Set(ctx, "k", []byte("v"))
	data, found := m.Get(ctx, "k")
	require.True(t, found)
	assert.Equal(t, "v", string(data))
	assert.Equal(t, DefaultTTL, m.TTL())
}

func TestNewManagerWithRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	m := NewManager(Options{RedisURL: "redis://" + mr.Addr()}, nil)
	defer m.Close()

	ctx := context.Background()
	require.NoError(t, SetJSON(ctx, m, IndicatorsKey("evil.com"), []string{"x"}))
	assert.True(t, mr.Exists(defaultRedisPrefix+IndicatorsKey("evil.com")))

	got, found := GetJSON[[]string](ctx, m, IndicatorsKey("evil.com"))
	require.True(t, found)
	assert.Equal(t, []string{"x"}, got)
}
