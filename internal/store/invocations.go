package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Invocation is one attempt to run a workflow action against a record.
type Invocation struct {
	ID         string    `json:"id"`
	ActionName string    `json:"action_name"`
	InvokeURL  string    `json:"invoke_url"`
	IncidentID string    `json:"incident_id,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// RecordInvocation appends inv to the audit log. ID and Timestamp are filled
// in when empty.
func (s *Store) RecordInvocation(ctx context.Context, inv Invocation) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.Timestamp.IsZero() {
		inv.Timestamp = time.Now()
	}

	success := 0
	if inv.Success {
		success = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_invocations
			(id, action_name, invoke_url, incident_id, actor, success, status_code, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.ActionName, inv.InvokeURL, inv.IncidentID, inv.Actor,
		success, inv.StatusCode, inv.Error, inv.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record invocation: %w", err)
	}
	return nil
}

// ListInvocations returns the most recent invocations, newest first.
// A non-empty incidentID restricts the result to that incident.
func (s *Store) ListInvocations(ctx context.Context, incidentID string, limit int) ([]Invocation, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, action_name, invoke_url, incident_id, actor, success, status_code, error, timestamp
		FROM action_invocations`
	args := []interface{}{}
	if incidentID != "" {
		query += ` WHERE incident_id = ?`
		args = append(args, incidentID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invocations: %w", err)
	}
	defer rows.Close()

	var out []Invocation
	for rows.Next() {
		var (
			inv                      Invocation
			incident, actor, errText sql.NullString
			statusCode               sql.NullInt64
			success                  int
			ts                       int64
		)
		if err := rows.Scan(&inv.ID, &inv.ActionName, &inv.InvokeURL, &incident, &actor,
			&success, &statusCode, &errText, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		inv.IncidentID = incident.String
		inv.Actor = actor.String
		inv.Success = success == 1
		inv.StatusCode = int(statusCode.Int64)
		inv.Error = errText.String
		inv.Timestamp = time.Unix(0, ts)
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invocations: %w", err)
	}
	return out, nil
}
