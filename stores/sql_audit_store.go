package stores

import (
	"context"

	"github.com/oarkflow/squealx"
	"github.com/oarkflow/wsauthz"
)

// SQLAuditStore persists audit entries in SQL
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) *SQLAuditStore {
	return &SQLAuditStore{db: db}
}

func (s *SQLAuditStore) LogDecision(ctx context.Context, entry *authz.AuditEntry) error {
	q := `INSERT INTO audit_log(id, timestamp, trace_id, identity_id, workspace_id, resource, action, outcome, reason, matched_by, error) VALUES(:id, :timestamp, :trace_id, :identity_id, :workspace_id, :resource, :action, :outcome, :reason, :matched_by, :error)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":           entry.ID,
		"timestamp":    entry.Timestamp,
		"trace_id":     entry.TraceID,
		"identity_id":  entry.IdentityID,
		"workspace_id": entry.WorkspaceID,
		"resource":     string(entry.Resource),
		"action":       string(entry.Action),
		"outcome":      entry.Outcome.String(),
		"reason":       string(entry.Reason),
		"matched_by":   entry.MatchedBy,
		"error":        entry.Error,
	})
	return err
}

func (s *SQLAuditStore) GetAccessLog(ctx context.Context, filter authz.AuditFilter) ([]*authz.AuditEntry, error) {
	q := `SELECT id, timestamp, trace_id, identity_id, workspace_id, resource, action, outcome, reason, matched_by, error FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.IdentityID != "" {
		q += " AND identity_id = :identity_id"
		params["identity_id"] = filter.IdentityID
	}
	if filter.WorkspaceID != "" {
		q += " AND workspace_id = :workspace_id"
		params["workspace_id"] = filter.WorkspaceID
	}
	if filter.Resource != "" {
		q += " AND resource = :resource"
		params["resource"] = string(filter.Resource)
	}
	if filter.Outcome != nil {
		q += " AND outcome = :outcome"
		params["outcome"] = filter.Outcome.String()
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.EndTime
	}
	q += " ORDER BY timestamp"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return scanAuditRows(r)
}

// auditRows is the part of a result set scanAuditRows reads.
type auditRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanAuditRows(r auditRows) ([]*authz.AuditEntry, error) {
	out := make([]*authz.AuditEntry, 0)
	for r.Next() {
		var id, traceID, identity, workspace, resource, action, outcome, reason, matchedBy, errText string
		var timestampRaw any
		if err := r.Scan(&id, &timestampRaw, &traceID, &identity, &workspace, &resource, &action, &outcome, &reason, &matchedBy, &errText); err != nil {
			return nil, err
		}
		o, err := authz.ParseOutcome(outcome)
		if err != nil {
			return nil, err
		}
		out = append(out, &authz.AuditEntry{
			ID:          id,
			Timestamp:   scanTime(timestampRaw),
			TraceID:     traceID,
			IdentityID:  identity,
			WorkspaceID: workspace,
			Resource:    authz.Resource(resource),
			Action:      authz.Action(action),
			Outcome:     o,
			Reason:      authz.Reason(reason),
			MatchedBy:   matchedBy,
			Error:       errText,
		})
	}
	return out, r.Err()
}
