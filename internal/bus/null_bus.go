package bus

import (
	"context"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/logging"
)

// NullBus is a no-op Bus used when Redis is disabled
type NullBus struct {
	logger logging.Logger
}

// NewNullBus creates a new null bus instance
func NewNullBus(logger logging.Logger) *NullBus {
	if logger == nil {
		logger = logging.Discard()
	}
	return &NullBus{logger: logger}
}

func (nb *NullBus) Close() error {
	return nil
}

// PublishEvent logs the event but doesn't publish it
func (nb *NullBus) PublishEvent(_ context.Context, event EventMessage) error {
	nb.logger.Debug("would publish event (redis disabled)", "event_id", event.EventID)
	return nil
}

// PublishEnrichment logs the enrichment but doesn't publish it
func (nb *NullBus) PublishEnrichment(_ context.Context, enrichment EnrichmentMessage) error {
	nb.logger.Debug("would publish enrichment (redis disabled)",
		"event_id", enrichment.EventID, "plugin", enrichment.PluginName, "fields", len(enrichment.Data))
	return nil
}

// ReadEvents blocks until ctx is cancelled.
func (nb *NullBus) ReadEvents(ctx context.Context, group, consumer string, _ EventHandler) error {
	nb.logger.Info("redis disabled, no events to read", "group", group, "consumer", consumer)
	<-ctx.Done()
	return ctx.Err()
}

func (nb *NullBus) GetStats(_ context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":   "null",
		"status": "disabled",
	}, nil
}

func (nb *NullBus) HealthCheck(_ context.Context) error {
	return nil
}
