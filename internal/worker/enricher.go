// Package worker turns bus events into CyberSponse enrichments.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/bus"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/cybersponse"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/logging"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/observable"
)

const (
	// PluginName identifies this worker on the enrichments stream.
	PluginName     = "cybersponse"
	enrichmentType = "incident_lookup"
)

// Looker resolves entities into lookup results.
type Looker interface {
	Lookup(ctx context.Context, entities []cybersponse.Entity, opts cybersponse.Options) ([]cybersponse.LookupResult, error)
}

// Publisher accepts enrichment messages.
type Publisher interface {
	PublishEnrichment(ctx context.Context, enrichment bus.EnrichmentMessage) error
}

// Metrics tracks worker activity.
type Metrics struct {
	EventsProcessed    int64
	EventsSkipped      int64
	EnrichmentsAdded   int64
	LookupErrors       int64
	PublishErrors      int64
	LastActivity       time.Time
	AverageProcessTime time.Duration
}

// Enricher extracts observables from events, looks them up and publishes
// the matches. Options can be swapped while events are flowing.
type Enricher struct {
	looker    Looker
	publisher Publisher
	types     observable.Types
	logger    logging.Logger

	mu      sync.RWMutex
	opts    cybersponse.Options
	metrics Metrics
}

// NewEnricher creates an Enricher.
func NewEnricher(looker Looker, publisher Publisher, opts cybersponse.Options, types observable.Types, logger logging.Logger) *Enricher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Enricher{looker: looker, publisher: publisher, opts: opts, types: types, logger: logger}
}

// SetOptions replaces the options used for subsequent lookups.
func (e *Enricher) SetOptions(opts cybersponse.Options) {
	e.mu.Lock()
	e.opts = opts
	e.mu.Unlock()
}

// Options returns the current lookup options.
func (e *Enricher) Options() cybersponse.Options {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opts
}

// Metrics returns a snapshot of the worker counters.
func (e *Enricher) Metrics() Metrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.metrics
}

// HandleEvent is a bus.EventHandler. Events with unparsable JSON are
// acknowledged and skipped; lookup and publish failures are returned so the
// message stays pending.
func (e *Enricher) HandleEvent(ctx context.Context, event bus.EventMessage) error {
	start := time.Now()
	e.logger.Debug("processing event", "event_id", event.EventID, "event_type", event.EventType)

	observables, err := observable.Extract([]byte(event.RawJSON), e.types)
	if err != nil {
		e.logger.Warn("skipping event", "event_id", event.EventID, "error", err)
		e.update(start, func(m *Metrics) { m.EventsSkipped++ })
		return nil
	}

	values := observable.Values(observables)
	if len(values) == 0 {
		e.logger.Debug("no observables found", "event_id", event.EventID)
		e.update(start, func(m *Metrics) { m.EventsProcessed++ })
		return nil
	}

	entities := make([]cybersponse.Entity, len(values))
	for i, v := range values {
		entities[i] = cybersponse.Entity{Value: v}
	}

	results, err := e.looker.Lookup(ctx, entities, e.Options())
	if err != nil {
		e.update(start, func(m *Metrics) { m.LookupErrors++ })
		return fmt.Errorf("lookup for event %s failed: %w", event.EventID, err)
	}

	fields := cybersponse.EnrichmentFields(results)
	if len(fields) == 0 {
		e.logger.Debug("no incidents matched", "event_id", event.EventID, "observables", len(values))
		e.update(start, func(m *Metrics) { m.EventsProcessed++ })
		return nil
	}

	err = e.publisher.PublishEnrichment(ctx, bus.EnrichmentMessage{
		EventID:    event.EventID,
		Source:     PluginName,
		Type:       enrichmentType,
		Data:       fields,
		Timestamp:  time.Now().Unix(),
		PluginName: PluginName,
	})
	if err != nil {
		e.update(start, func(m *Metrics) { m.PublishErrors++ })
		return fmt.Errorf("failed to publish enrichment: %w", err)
	}

	e.logger.Info("enriched event", "event_id", event.EventID, "observables", len(values), "fields", len(fields))
	e.update(start, func(m *Metrics) {
		m.EventsProcessed++
		m.EnrichmentsAdded++
	})
	return nil
}

func (e *Enricher) update(start time.Time, fn func(*Metrics)) {
	duration := time.Since(start)

	e.mu.Lock()
	defer e.mu.Unlock()

	fn(&e.metrics)
	e.metrics.LastActivity = time.Now()

	n := e.metrics.EventsProcessed + e.metrics.EventsSkipped + e.metrics.LookupErrors + e.metrics.PublishErrors
	if n > 0 {
		e.metrics.AverageProcessTime = time.Duration((int64(e.metrics.AverageProcessTime)*(n-1) + int64(duration)) / n)
	}
}
