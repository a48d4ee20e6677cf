package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/logging"
)

const (
	readCount    = 10
	readBlock    = time.Second
	readBackoff  = 5 * time.Second
	pingDeadline = 5 * time.Second
	pendingBatch = 50

	// DefaultRedeliverInterval is how often unacknowledged events are retried.
	DefaultRedeliverInterval = 30 * time.Second
	// DefaultMaxDeliveries bounds how often one event is handed to a handler.
	DefaultMaxDeliveries = 5
)

// RedisBus provides Redis Streams based messaging
type RedisBus struct {
	client  *redis.Client
	logger  logging.Logger
	backoff time.Duration

	redeliverInterval time.Duration
	maxDeliveries     int64
}

// EventMessage is an entry on the events stream
type EventMessage struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	RawJSON   string `json:"raw_json"`
	Timestamp int64  `json:"timestamp"`
}

// EnrichmentMessage is an entry on the enrichments stream
type EnrichmentMessage struct {
	EventID    string            `json:"event_id"`
	Source     string            `json:"source"`
	Type       string            `json:"type"`
	Data       map[string]string `json:"data"`
	Timestamp  int64             `json:"timestamp"`
	PluginName string            `json:"plugin_name"`
}

// NewRedisBus connects to redisURL and verifies the connection.
func NewRedisBus(redisURL string, logger logging.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingDeadline)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger == nil {
		logger = logging.Discard()
	}

	return &RedisBus{
		client:            client,
		logger:            logger,
		backoff:           readBackoff,
		redeliverInterval: DefaultRedeliverInterval,
		maxDeliveries:     DefaultMaxDeliveries,
	}, nil
}

// setRedelivery changes how often pending events are retried and how many
// deliveries an event gets before it is dropped. Non-positive values keep
// the current setting.
func (rb *RedisBus) setRedelivery(interval time.Duration, maxDeliveries int) {
	if interval > 0 {
		rb.redeliverInterval = interval
	}
	if maxDeliveries > 0 {
		rb.maxDeliveries = int64(maxDeliveries)
	}
}

func (rb *RedisBus) Close() error {
	return rb.client.Close()
}

func (rb *RedisBus) PublishEvent(ctx context.Context, event EventMessage) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	err := rb.client.XAdd(ctx, &redis.XAddArgs{
		Stream: EventsStream,
		Values: map[string]interface{}{
			"event_id":   event.EventID,
			"event_type": event.EventType,
			"raw_json":   event.RawJSON,
			"timestamp":  event.Timestamp,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	rb.logger.Debug("published event", "event_id", event.EventID)
	return nil
}

func (rb *RedisBus) PublishEnrichment(ctx context.Context, enrichment EnrichmentMessage) error {
	dataJSON, err := json.Marshal(enrichment.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal enrichment data: %w", err)
	}
	if enrichment.Timestamp == 0 {
		enrichment.Timestamp = time.Now().Unix()
	}

	err = rb.client.XAdd(ctx, &redis.XAddArgs{
		Stream: EnrichmentsStream,
		Values: map[string]interface{}{
			"event_id":    enrichment.EventID,
			"source":      enrichment.Source,
			"type":        enrichment.Type,
			"data":        string(dataJSON),
			"timestamp":   enrichment.Timestamp,
			"plugin_name": enrichment.PluginName,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish enrichment: %w", err)
	}

	rb.logger.Debug("published enrichment", "event_id", enrichment.EventID, "fields", len(enrichment.Data))
	return nil
}

// createConsumerGroup creates group on stream, tolerating an existing group.
func (rb *RedisBus) createConsumerGroup(ctx context.Context, stream, group string) error {
	err := rb.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s for stream %s: %w", group, stream, err)
	}

	rb.logger.Debug("consumer group ready", "stream", stream, "group", group)
	return nil
}

// ReadEvents reads the events stream in batches. Messages are acknowledged
// only after handler succeeds. Failed messages stay in this consumer's
// pending list and are retried on startup and every redeliverInterval until
// they have been delivered maxDeliveries times, after which they are
// acknowledged and dropped.
func (rb *RedisBus) ReadEvents(ctx context.Context, group, consumer string, handler EventHandler) error {
	if err := rb.createConsumerGroup(ctx, EventsStream, group); err != nil {
		return err
	}

	rb.logger.Info("reading events", "stream", EventsStream, "group", group, "consumer", consumer)

	var lastRedelivery time.Time
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if time.Since(lastRedelivery) >= rb.redeliverInterval {
			if err := rb.redeliverPending(ctx, group, consumer, handler); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				rb.logger.Error("error redelivering pending events", "group", group, "error", err)
			}
			lastRedelivery = time.Now()
		}

		streams, err := rb.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{EventsStream, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rb.logger.Error("error reading stream", "stream", EventsStream, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(rb.backoff):
			}
			continue
		}

		rb.handleMessages(ctx, group, streams, handler)
	}
}

// redeliverPending retries messages this consumer read but never acked.
func (rb *RedisBus) redeliverPending(ctx context.Context, group, consumer string, handler EventHandler) error {
	pending, err := rb.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   EventsStream,
		Group:    group,
		Start:    "-",
		End:      "+",
		Count:    pendingBatch,
		Consumer: consumer,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to list pending events: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	retry := 0
	for _, p := range pending {
		if p.RetryCount < rb.maxDeliveries {
			retry++
			continue
		}
		rb.logger.Error("dropping event after repeated failures", "message_id", p.ID, "deliveries", p.RetryCount)
		if err := rb.client.XAck(ctx, EventsStream, group, p.ID).Err(); err != nil {
			return fmt.Errorf("failed to drop pending event %s: %w", p.ID, err)
		}
	}
	if retry == 0 {
		return nil
	}

	// ID "0" returns this consumer's own pending entries; Block -1 omits BLOCK.
	streams, err := rb.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{EventsStream, "0"},
		Count:    pendingBatch,
		Block:    -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to read pending events: %w", err)
	}

	rb.logger.Debug("redelivering pending events", "count", retry)
	rb.handleMessages(ctx, group, streams, handler)
	return nil
}

func (rb *RedisBus) handleMessages(ctx context.Context, group string, streams []redis.XStream, handler EventHandler) {
	for _, stream := range streams {
		for _, message := range stream.Messages {
			event := decodeEvent(message)
			if err := handler(ctx, event); err != nil {
				rb.logger.Error("error processing event", "message_id", message.ID, "event_id", event.EventID, "error", err)
				continue
			}
			if err := rb.client.XAck(ctx, stream.Stream, group, message.ID).Err(); err != nil {
				rb.logger.Warn("error acknowledging message", "message_id", message.ID, "error", err)
			}
		}
	}
}

func decodeEvent(message redis.XMessage) EventMessage {
	event := EventMessage{
		EventID:   stringField(message.Values, "event_id"),
		EventType: stringField(message.Values, "event_type"),
		RawJSON:   stringField(message.Values, "raw_json"),
	}
	if ts, err := parseTimestamp(stringField(message.Values, "timestamp")); err == nil {
		event.Timestamp = ts
	}
	return event
}

func stringField(values map[string]interface{}, key string) string {
	if s, ok := values[key].(string); ok {
		return s
	}
	return ""
}

// parseTimestamp accepts epoch seconds, epoch milliseconds or RFC 3339.
func parseTimestamp(timestamp string) (int64, error) {
	if timestamp == "" {
		return time.Now().Unix(), nil
	}

	if n, err := strconv.ParseInt(timestamp, 10, 64); err == nil {
		if n > 1_000_000_000_000 {
			return n / 1000, nil
		}
		return n, nil
	}

	if ts, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
		return ts.Unix(), nil
	}

	return time.Now().Unix(), fmt.Errorf("unable to parse timestamp: %s", timestamp)
}

func (rb *RedisBus) HealthCheck(ctx context.Context) error {
	return rb.client.Ping(ctx).Err()
}

// GetStats reports stream lengths and consumer group counts.
func (rb *RedisBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{"type": "redis"}

	for _, stream := range []string{EventsStream, EnrichmentsStream} {
		n, err := rb.client.XLen(ctx, stream).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get length of %s: %w", stream, err)
		}
		stats[stream+"_length"] = n

		if groups, err := rb.client.XInfoGroups(ctx, stream).Result(); err == nil {
			stats[stream+"_consumer_groups"] = len(groups)
		}
	}

	return stats, nil
}
