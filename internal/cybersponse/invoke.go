package cybersponse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/httpclient"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/store"
)

type invokeBody struct {
	Records []Record `json:"records"`
}

// Invoke runs action against record by posting the record as a one-element
// batch to the action's trigger URL. On success action.Success is set; on
// failure action.Error is set and Success is left alone. There is no retry
// beyond the client's single re-authentication.
func (s *Service) Invoke(ctx context.Context, opts Options, action *Action, record Record) error {
	if action == nil {
		return errors.New("no action given")
	}
	if action.Invoke == "" {
		return fmt.Errorf("action %q has no invocation URL", action.Name)
	}

	err := s.client.Do(ctx, opts.Credentials(), httpclient.Request{
		Method: http.MethodPost,
		URL:    action.Invoke,
		Body:   invokeBody{Records: []Record{record}},
	}, nil)

	s.record(ctx, opts, action, record, err)

	if err != nil {
		action.Error = true
		s.logger.Error("error invoking action", "action", action.Name, "record", record.ID(), "error", err)
		return fmt.Errorf("failed to invoke action %q: %w", action.Name, err)
	}

	action.Success = true
	s.logger.Info("action invoked", "action", action.Name, "record", record.ID())
	return nil
}

func (s *Service) record(ctx context.Context, opts Options, action *Action, record Record, invokeErr error) {
	if s.recorder == nil {
		return
	}

	inv := store.Invocation{
		ActionName: action.Name,
		InvokeURL:  action.Invoke,
		IncidentID: record.ID(),
		Actor:      opts.Username,
		Success:    invokeErr == nil,
		Timestamp:  time.Now(),
	}
	if invokeErr == nil {
		inv.StatusCode = http.StatusOK
	} else {
		inv.Error = invokeErr.Error()
		var apiErr *httpclient.APIError
		if errors.As(invokeErr, &apiErr) {
			inv.StatusCode = apiErr.StatusCode
		}
	}

	if err := s.recorder.RecordInvocation(ctx, inv); err != nil {
		s.logger.Warn("failed to record invocation", "action", action.Name, "error", err)
	}
}
