package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) (*RedisBus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rb, err := NewRedisBus("redis://"+mr.Addr(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { rb.Close() })
	return rb, mr
}

func TestPublishEnrichment(t *testing.T) {
	rb, mr := newTestBus(t)
	ctx := context.Background()

	err := rb.PublishEnrichment(ctx, EnrichmentMessage{
		EventID:    "evt-1",
		Source:     "cybersponse",
		Type:       "incident_lookup",
		Data:       map[string]string{"cybersponse_1_2_3_4_alerts": "3"},
		PluginName: "cybersponse",
	})
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	entries, err := client.XRange(ctx, EnrichmentsStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := entries[0].Values
	assert.Equal(t, "evt-1", values["event_id"])
	assert.Equal(t, "cybersponse", values["plugin_name"])
	assert.NotEmpty(t, values["timestamp"])

	var data map[string]string
	require.NoError(t, json.Unmarshal([]byte(values["data"].(string)), &data))
	assert.Equal(t, "3", data["cybersponse_1_2_3_4_alerts"])
}

func TestReadEventsAcknowledgesHandled(t *testing.T) {
	rb, _ := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, rb.PublishEvent(ctx, EventMessage{
		EventID:   "evt-1",
		EventType: "network_activity",
		RawJSON:   `{"dst_endpoint":{"ip":"1.2.3.4"}}`,
		Timestamp: 1700000000000,
	}))

	var (
		mu  sync.Mutex
		got []EventMessage
	)
	done := make(chan error, 1)
	go func() {
		done <- rb.ReadEvents(ctx, "cybersponse", "test", func(_ context.Context, ev EventMessage) error {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
			cancel()
			return nil
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(15 * time.Second):
		t.Fatal("reader did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "evt-1", got[0].EventID)
	assert.Equal(t, "network_activity", got[0].EventType)
	assert.Equal(t, int64(1700000000), got[0].Timestamp)
}

func TestGetStats(t *testing.T) {
	rb, _ := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, rb.PublishEvent(ctx, EventMessage{EventID: "a"}))
	require.NoError(t, rb.PublishEvent(ctx, EventMessage{EventID: "b"}))

	stats, err := rb.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats["events_length"])
	assert.Equal(t, int64(0), stats["enrichments_length"])
}

func TestNewBusFallsBackToNull(t *testing.T) {
	_, ok := NewBus(Options{}, nil).(*NullBus)
	assert.True(t, ok)

	_, ok = NewBus(Options{RedisURL: "redis://127.0.0.1:1"}, nil).(*NullBus)
	assert.True(t, ok)
}

func TestNewBusAppliesRedelivery(t *testing.T) {
	mr := miniredis.RunT(t)

	b := NewBus(Options{RedisURL: "redis://" + mr.Addr(), RedeliverInterval: time.Second, MaxDeliveries: 2}, nil)
	defer b.Close()

	rb, ok := b.(*RedisBus)
	require.True(t, ok)
	assert.Equal(t, time.Second, rb.redeliverInterval)
	assert.Equal(t, int64(2), rb.maxDeliveries)

	b2 := NewBus(Options{RedisURL: "redis://" + mr.Addr()}, nil)
	defer b2.Close()
	assert.Equal(t, DefaultRedeliverInterval, b2.(*RedisBus).redeliverInterval)
	assert.Equal(t, int64(DefaultMaxDeliveries), b2.(*RedisBus).maxDeliveries)
}

// countingHandler fails the first failN calls and cancels once it has been
// called stopAfter times.
type countingHandler struct {
	mu        sync.Mutex
	calls     int
	failN     int
	stopAfter int
	cancel    context.CancelFunc
}

func (h *countingHandler) handle(_ context.Context, _ EventMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.stopAfter > 0 && h.calls >= h.stopAfter {
		h.cancel()
	}
	if h.calls <= h.failN {
		return errors.New("cybersponse unavailable")
	}
	return nil
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func pendingCount(t *testing.T, mr *miniredis.Miniredis, group string) int64 {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	p, err := client.XPending(context.Background(), EventsStream, group).Result()
	if err != nil {
		return -1
	}
	return p.Count
}

func TestReadEventsRedeliversFailedEvent(t *testing.T) {
	rb, _ := newTestBus(t)
	rb.setRedelivery(50*time.Millisecond, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	require.NoError(t, rb.PublishEvent(ctx, EventMessage{EventID: "evt-1", RawJSON: `{}`}))

	h := &countingHandler{failN: 1, stopAfter: 2, cancel: cancel}
	err := rb.ReadEvents(ctx, "cybersponse", "test", h.handle)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 2, h.count(), "failed event is handed to the handler again")
}

func TestReadEventsAcksRedeliveredEvent(t *testing.T) {
	rb, mr := newTestBus(t)
	rb.setRedelivery(50*time.Millisecond, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	require.NoError(t, rb.PublishEvent(ctx, EventMessage{EventID: "evt-1", RawJSON: `{}`}))

	h := &countingHandler{failN: 1}
	done := make(chan error, 1)
	go func() { done <- rb.ReadEvents(ctx, "cybersponse", "test", h.handle) }()

	assert.Eventually(t, func() bool {
		return h.count() >= 2 && pendingCount(t, mr, "cybersponse") == 0
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 2, h.count())
}

func TestReadEventsDropsAfterMaxDeliveries(t *testing.T) {
	rb, mr := newTestBus(t)
	rb.setRedelivery(50*time.Millisecond, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	require.NoError(t, rb.PublishEvent(ctx, EventMessage{EventID: "evt-1", RawJSON: `{}`}))

	h := &countingHandler{failN: 1000}
	done := make(chan error, 1)
	go func() { done <- rb.ReadEvents(ctx, "cybersponse", "test", h.handle) }()

	assert.Eventually(t, func() bool {
		return h.count() >= 2 && pendingCount(t, mr, "cybersponse") == 0
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 2, h.count(), "event is dropped once it reaches the delivery limit")
}

func TestNullBus(t *testing.T) {
	nb := NewNullBus(nil)
	ctx, cancel := context.WithCancel(context.Background())

	assert.NoError(t, nb.PublishEvent(ctx, EventMessage{EventID: "x"}))
	assert.NoError(t, nb.PublishEnrichment(ctx, EnrichmentMessage{EventID: "x"}))
	assert.NoError(t, nb.HealthCheck(ctx))

	stats, err := nb.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "null", stats["type"])

	cancel()
	assert.ErrorIs(t, nb.ReadEvents(ctx, "g", "c", nil), context.Canceled)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := parseTimestamp("1700000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), ts)

	ts, err = parseTimestamp("2023-11-14T22:13:20Z")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), ts)

	_, err = parseTimestamp("yesterday")
	assert.Error(t, err)
}
