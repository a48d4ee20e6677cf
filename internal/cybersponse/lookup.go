package cybersponse

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/cache"
)

// entityIncidents is the incidents track output for one entity.
type entityIncidents struct {
	records        []Record
	numberOfAlerts int
}

// Lookup resolves entities against CyberSponse. Three tracks run
// concurrently over the whole batch (workflow actions, indicators with
// sightings, incidents with alert counts) and are joined once all of them
// finish. Any failure fails the batch; no partial results are returned.
//
// Output follows input order: one result per matched incident, or a single
// result with nil Data when an entity matched nothing.
func (s *Service) Lookup(ctx context.Context, entities []Entity, opts Options) ([]LookupResult, error) {
	s.logger.Trace("lookup options", "host", opts.Host, "username", opts.Username, "entities", len(entities))

	var (
		actions    []Action
		indicators = make([][]Indicator, len(entities))
		incidents  = make([]entityIncidents, len(entities))
	)

	// No derived context: a failing track does not cancel its siblings.
	var g errgroup.Group

	g.Go(func() error {
		var err error
		actions, err = s.getAlertActions(ctx, opts)
		return err
	})

	g.Go(func() error {
		return s.collectIndicators(ctx, opts, entities, indicators)
	})

	g.Go(func() error {
		return s.collectIncidents(ctx, opts, entities, incidents)
	})

	if err := g.Wait(); err != nil {
		s.logger.Error("error during lookup", "entities", len(entities), "error", err)
		return nil, fmt.Errorf("lookup failed: %w", err)
	}

	results := join(entities, opts, actions, indicators, incidents)

	hits, misses, _ := s.responses.GetStats()
	s.logger.Debug("lookup complete", "entities", len(entities), "results", len(results),
		"cache_hits", hits, "cache_misses", misses)
	return results, nil
}

func (s *Service) collectIndicators(ctx context.Context, opts Options, entities []Entity, out [][]Indicator) error {
	var g errgroup.Group
	for i, entity := range entities {
		i, entity := i, entity
		g.Go(func() error {
			found, err := s.getIndicators(ctx, opts, entity.Value)
			if err != nil {
				return err
			}
			out[i] = found
			return nil
		})
	}
	return g.Wait()
}

// getIndicators returns the indicators matching value with their sightings,
// cached per value.
func (s *Service) getIndicators(ctx context.Context, opts Options, value string) ([]Indicator, error) {
	return cache.Fetch(ctx, s.responses, cache.IndicatorsKey(value), func(ctx context.Context) ([]Indicator, error) {
		return s.loadIndicators(ctx, opts, value)
	})
}

func (s *Service) loadIndicators(ctx context.Context, opts Options, value string) ([]Indicator, error) {
	records, err := s.queryIndicators(ctx, opts, value)
	if err != nil {
		return nil, err
	}

	indicators := make([]Indicator, len(records))

	var g errgroup.Group
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			sightings, err := s.getSightings(ctx, opts, rec.ID())
			if err != nil {
				return err
			}
			indicators[i] = Indicator{Indicator: rec, Sightings: sightings}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return indicators, nil
}

// getSightings counts every sighting category for one indicator. All
// categories must succeed before the indicator is merged.
func (s *Service) getSightings(ctx context.Context, opts Options, id string) (Sightings, error) {
	counts := make([]int, len(SightingCategories))

	var g errgroup.Group
	for i, category := range SightingCategories {
		i, category := i, category
		g.Go(func() error {
			n, err := s.countRelated(ctx, opts, id, category)
			if err != nil {
				return err
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Sightings{}, err
	}

	var sightings Sightings
	for i, category := range SightingCategories {
		sightings.Set(category, counts[i])
	}
	return sightings, nil
}

func (s *Service) collectIncidents(ctx context.Context, opts Options, entities []Entity, out []entityIncidents) error {
	var g errgroup.Group
	for i, entity := range entities {
		i, entity := i, entity
		g.Go(func() error {
			records, err := s.queryIncidents(ctx, opts, entity.Value)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return nil
			}

			total, err := s.sumAlerts(ctx, opts, records)
			if err != nil {
				return err
			}
			out[i] = entityIncidents{records: records, numberOfAlerts: total}
			return nil
		})
	}
	return g.Wait()
}

// sumAlerts adds up the alert counts of every matched incident.
func (s *Service) sumAlerts(ctx context.Context, opts Options, records []Record) (int, error) {
	counts := make([]int, len(records))

	var g errgroup.Group
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			n, err := s.getNumberOfAlerts(ctx, opts, rec.ID())
			if err != nil {
				return err
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return total, nil
}

func join(entities []Entity, opts Options, actions []Action, indicators [][]Indicator, incidents []entityIncidents) []LookupResult {
	results := make([]LookupResult, 0, len(entities))

	for i, entity := range entities {
		matched := incidents[i]
		if len(matched.records) == 0 {
			results = append(results, LookupResult{Entity: entity, Data: nil})
			continue
		}

		entityIndicators := indicators[i]
		if entityIndicators == nil {
			entityIndicators = []Indicator{}
		}

		for _, rec := range matched.records {
			results = append(results, LookupResult{
				Entity: entity,
				Data: &Data{
					Summary: summarize(rec, matched.numberOfAlerts),
					Details: Details{
						Actions:        actions,
						Result:         rec,
						Host:           opts.Host,
						NumberOfAlerts: matched.numberOfAlerts,
						Indicators:     entityIndicators,
					},
				},
			})
		}
	}

	return results
}

// summarize builds the one-line tags for an incident. Missing picklist
// labels are left out.
func summarize(rec Record, numberOfAlerts int) []string {
	summary := make([]string, 0, 5)
	for _, field := range []string{"severity", "status", "phase", "category"} {
		if label := rec.PicklistValue(field); label != "" {
			summary = append(summary, label)
		}
	}
	return append(summary, fmt.Sprintf("Alerts: %d", numberOfAlerts))
}
