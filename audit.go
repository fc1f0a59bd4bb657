package authz

import (
	"context"
	"time"
)

// AuditStore persists decisions for later review.
type AuditStore interface {
	LogDecision(ctx context.Context, entry *AuditEntry) error
	GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

// AuditEntry records one evaluated check.
type AuditEntry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	TraceID     string    `json:"trace_id,omitempty"`
	IdentityID  string    `json:"identity_id"`
	WorkspaceID string    `json:"workspace_id"`
	Resource    Resource  `json:"resource"`
	Action      Action    `json:"action"`
	Outcome     Outcome   `json:"outcome"`
	Reason      Reason    `json:"reason"`
	MatchedBy   string    `json:"matched_by,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// AuditFilter for querying audit logs
type AuditFilter struct {
	IdentityID  string
	WorkspaceID string
	Resource    Resource
	Outcome     *Outcome
	StartTime   time.Time
	EndTime     time.Time
	Limit       int
}

// Matches reports whether entry satisfies every set field of f.
func (f AuditFilter) Matches(entry *AuditEntry) bool {
	if entry == nil {
		return false
	}
	if f.IdentityID != "" && entry.IdentityID != f.IdentityID {
		return false
	}
	if f.WorkspaceID != "" && entry.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.Resource != "" && entry.Resource != f.Resource {
		return false
	}
	if f.Outcome != nil && entry.Outcome != *f.Outcome {
		return false
	}
	if !f.StartTime.IsZero() && entry.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && entry.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}
