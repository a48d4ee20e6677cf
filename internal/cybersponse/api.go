package cybersponse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/cache"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/httpclient"
)

// collection is the hydra envelope wrapping every list response.
type collection[T any] struct {
	Members []T `json:"hydra:member"`
}

type queryFilter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type queryBody struct {
	Logic   string        `json:"logic"`
	Filters []queryFilter `json:"filters"`
}

// multiCasedBody matches field against the lower and upper cased value.
// Other casings stored on the server are not matched.
func multiCasedBody(field, value string) queryBody {
	return queryBody{
		Logic: "OR",
		Filters: []queryFilter{
			{Field: field, Operator: "eq", Value: strings.ToLower(value)},
			{Field: field, Operator: "eq", Value: strings.ToUpper(value)},
		},
	}
}

type workflowStep struct {
	ID        string `json:"@id"`
	Arguments struct {
		Route string `json:"route"`
	} `json:"arguments"`
}

type workflowAction struct {
	Name        string         `json:"name"`
	TriggerStep string         `json:"triggerStep"`
	Steps       []workflowStep `json:"steps"`
}

// triggerRoute returns the route of the step referenced by TriggerStep.
func (a workflowAction) triggerRoute() (string, bool) {
	var route string
	found := false
	for _, step := range a.Steps {
		if step.ID == a.TriggerStep {
			route = step.Arguments.Route
			found = true
		}
	}
	return route, found
}

// getAlertActions returns the active alert workflow actions, cached under
// cache.ActionsKey.
func (s *Service) getAlertActions(ctx context.Context, opts Options) ([]Action, error) {
	return cache.Fetch(ctx, s.responses, cache.ActionsKey, func(ctx context.Context) ([]Action, error) {
		return s.fetchAlertActions(ctx, opts)
	})
}

func (s *Service) fetchAlertActions(ctx context.Context, opts Options) ([]Action, error) {
	var body collection[workflowAction]
	err := s.client.Do(ctx, opts.Credentials(), httpclient.Request{
		Method: http.MethodGet,
		URL:    opts.endpoint("/api/workflows/actions"),
		Query: url.Values{
			"$relationships": {"true"},
			"isActive":       {"true"},
			"type":           {"alerts"},
		},
	}, &body)
	if err != nil {
		s.logger.Error("error getting alert actions", "host", opts.Host, "error", err)
		return nil, fmt.Errorf("failed to get alert actions: %w", err)
	}

	actions := make([]Action, 0, len(body.Members))
	for _, wa := range body.Members {
		route, ok := wa.triggerRoute()
		if !ok {
			s.logger.Warn("skipping action without trigger step", "action", wa.Name, "trigger_step", wa.TriggerStep)
			continue
		}
		actions = append(actions, Action{
			Invoke: opts.endpoint("/api/triggers/1/action/" + route),
			Name:   wa.Name,
		})
	}
	return actions, nil
}

// queryIncidents returns incidents whose source matches value.
func (s *Service) queryIncidents(ctx context.Context, opts Options, value string) ([]Record, error) {
	body := multiCasedBody("source", value)
	s.logger.Trace("request body", "body", body)

	var resp collection[Record]
	err := s.client.Do(ctx, opts.Credentials(), httpclient.Request{
		Method: http.MethodPost,
		URL:    opts.endpoint("/api/query/incidents"),
		Body:   body,
	}, &resp)
	if err != nil {
		s.logger.Error("error getting incidents", "value", value, "error", err)
		return nil, fmt.Errorf("failed to query incidents for %q: %w", value, err)
	}

	s.logger.Trace("lookup", "value", value, "incidents", len(resp.Members))
	return resp.Members, nil
}

// queryIndicators returns indicators whose value matches value.
func (s *Service) queryIndicators(ctx context.Context, opts Options, value string) ([]Record, error) {
	var resp collection[Record]
	err := s.client.Do(ctx, opts.Credentials(), httpclient.Request{
		Method: http.MethodPost,
		URL:    opts.endpoint("/api/query/indicators"),
		Body:   multiCasedBody("value", value),
	}, &resp)
	if err != nil {
		s.logger.Error("error getting indicators", "value", value, "error", err)
		return nil, fmt.Errorf("failed to query indicators for %q: %w", value, err)
	}
	return resp.Members, nil
}

// countRelated counts the category objects linked to the record at id.
func (s *Service) countRelated(ctx context.Context, opts Options, id, category string) (int, error) {
	var resp collection[json.RawMessage]
	err := s.client.Do(ctx, opts.Credentials(), httpclient.Request{
		Method: http.MethodGet,
		URL:    opts.endpoint(id + "/" + category + "?&__selectFields=id"),
	}, &resp)
	if err != nil {
		s.logger.Error("error getting "+category, "id", id, "error", err)
		return 0, fmt.Errorf("failed to count %s for %s: %w", category, id, err)
	}
	return len(resp.Members), nil
}

// getNumberOfAlerts returns the alert count of an incident, cached per id.
func (s *Service) getNumberOfAlerts(ctx context.Context, opts Options, id string) (int, error) {
	return cache.Fetch(ctx, s.responses, cache.AlertCountKey(id), func(ctx context.Context) (int, error) {
		return s.countRelated(ctx, opts, id, CategoryAlerts)
	})
}

// GetRecord fetches a single record by IRI.
func (s *Service) GetRecord(ctx context.Context, opts Options, iri string) (Record, error) {
	var rec Record
	err := s.client.Do(ctx, opts.Credentials(), httpclient.Request{
		Method: http.MethodGet,
		URL:    opts.endpoint(iri),
	}, &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", iri, err)
	}
	return rec, nil
}

// GetActions returns the workflow actions available for invocation.
func (s *Service) GetActions(ctx context.Context, opts Options) ([]Action, error) {
	return s.getAlertActions(ctx, opts)
}
