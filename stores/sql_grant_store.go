package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"
	"github.com/oarkflow/wsauthz"
)

// SQLGrantStore persists workspace grants in SQL (squealx). A role grant has
// an empty resource and action; a direct grant has an empty role.
type SQLGrantStore struct {
	db *squealx.DB
}

func NewSQLGrantStore(db *squealx.DB) *SQLGrantStore {
	return &SQLGrantStore{db: db}
}

func (s *SQLGrantStore) AssignRole(ctx context.Context, identityID, workspaceID, role string) error {
	return s.insert(ctx, identityID, workspaceID, role, "", "")
}

func (s *SQLGrantStore) RevokeRole(ctx context.Context, identityID, workspaceID, role string) error {
	q := `DELETE FROM workspace_grants WHERE workspace_id = :workspace_id AND identity_id = :identity_id AND role = :role`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"workspace_id": workspaceID, "identity_id": identityID, "role": role})
	return err
}

func (s *SQLGrantStore) GrantAction(ctx context.Context, identityID, workspaceID string, resource authz.Resource, action authz.Action) error {
	return s.insert(ctx, identityID, workspaceID, "", string(resource), string(action))
}

func (s *SQLGrantStore) RevokeAction(ctx context.Context, identityID, workspaceID string, resource authz.Resource, action authz.Action) error {
	q := `DELETE FROM workspace_grants WHERE workspace_id = :workspace_id AND identity_id = :identity_id AND role = '' AND resource = :resource AND action = :action`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"workspace_id": workspaceID,
		"identity_id":  identityID,
		"resource":     string(resource),
		"action":       string(action),
	})
	return err
}

// RemoveMember drops every grant of identityID in workspaceID.
func (s *SQLGrantStore) RemoveMember(ctx context.Context, identityID, workspaceID string) error {
	q := `DELETE FROM workspace_grants WHERE workspace_id = :workspace_id AND identity_id = :identity_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"workspace_id": workspaceID, "identity_id": identityID})
	return err
}

func (s *SQLGrantStore) insert(ctx context.Context, identityID, workspaceID, role, resource, action string) error {
	q := `INSERT OR IGNORE INTO workspace_grants(workspace_id, identity_id, role, resource, action, created_at) VALUES(:workspace_id, :identity_id, :role, :resource, :action, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"workspace_id": workspaceID,
		"identity_id":  identityID,
		"role":         role,
		"resource":     resource,
		"action":       action,
		"created_at":   time.Now(),
	})
	return err
}

// Resolve implements authz.GrantResolver. Query failures are reported as
// resolution failures, never as an empty grant set.
func (s *SQLGrantStore) Resolve(ctx context.Context, identityID, workspaceID string) ([]authz.RoleRef, error) {
	grants, err := s.query(ctx, `SELECT identity_id, workspace_id, role, resource, action, created_at FROM workspace_grants WHERE workspace_id = :workspace_id AND identity_id = :identity_id`,
		map[string]any{"workspace_id": workspaceID, "identity_id": identityID})
	if err != nil {
		return nil, authz.ResolutionFailed(err)
	}
	return authz.RefsFromGrants(grants), nil
}

// ListGrants returns the grants held in workspaceID, ordered by identity.
func (s *SQLGrantStore) ListGrants(ctx context.Context, workspaceID string) ([]authz.Grant, error) {
	return s.query(ctx, `SELECT identity_id, workspace_id, role, resource, action, created_at FROM workspace_grants WHERE workspace_id = :workspace_id ORDER BY identity_id, role, resource, action`,
		map[string]any{"workspace_id": workspaceID})
}

func (s *SQLGrantStore) query(ctx context.Context, q string, params map[string]any) ([]authz.Grant, error) {
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]authz.Grant, 0)
	for r.Next() {
		var identity, workspace, role, resource, action string
		var createdRaw any
		if err := r.Scan(&identity, &workspace, &role, &resource, &action, &createdRaw); err != nil {
			return nil, err
		}
		out = append(out, authz.Grant{
			IdentityID:  identity,
			WorkspaceID: workspace,
			Role:        role,
			Resource:    authz.Resource(resource),
			Action:      authz.Action(action),
			CreatedAt:   scanTime(createdRaw),
		})
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
