// Package bus moves events in and enrichments out over Redis Streams.
package bus

import (
	"context"
	"time"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/logging"
)

// Stream names shared with the rest of the console pipeline.
const (
	EventsStream      = "events"
	EnrichmentsStream = "enrichments"
)

// EventHandler processes one event read from the events stream. A non-nil
// error leaves the message pending; it is redelivered later up to a
// delivery limit.
type EventHandler func(ctx context.Context, event EventMessage) error

// Bus defines the interface for event bus implementations
type Bus interface {
	// PublishEvent publishes an event to the events stream
	PublishEvent(ctx context.Context, event EventMessage) error

	// PublishEnrichment publishes an enrichment to the enrichments stream
	PublishEnrichment(ctx context.Context, enrichment EnrichmentMessage) error

	// ReadEvents consumes the events stream as a member of group until ctx
	// is cancelled
	ReadEvents(ctx context.Context, group, consumer string, handler EventHandler) error

	// GetStats returns basic statistics about the bus
	GetStats(ctx context.Context) (map[string]interface{}, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// Options configures NewBus.
type Options struct {
	RedisURL string `mapstructure:"url"`
	// RedeliverInterval is how often unacknowledged events are retried.
	// Zero uses DefaultRedeliverInterval.
	RedeliverInterval time.Duration `mapstructure:"redeliver_interval"`
	// MaxDeliveries caps deliveries per event. Zero uses DefaultMaxDeliveries.
	MaxDeliveries int `mapstructure:"max_deliveries"`
}

// NewBus returns a RedisBus for opts.RedisURL, or a NullBus when the URL is
// empty or Redis cannot be reached.
func NewBus(opts Options, logger logging.Logger) Bus {
	if logger == nil {
		logger = logging.Discard()
	}

	if opts.RedisURL == "" {
		return NewNullBus(logger)
	}

	redisBus, err := NewRedisBus(opts.RedisURL, logger)
	if err != nil {
		logger.Warn("redis bus unavailable, events will not flow", "error", err)
		return NewNullBus(logger)
	}
	redisBus.setRedelivery(opts.RedeliverInterval, opts.MaxDeliveries)
	return redisBus
}
