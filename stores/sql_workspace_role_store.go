package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"
	"github.com/oarkflow/wsauthz"
)

// SQLWorkspaceRoleStore persists custom workspace roles in SQL (squealx).
type SQLWorkspaceRoleStore struct {
	db *squealx.DB
}

func NewSQLWorkspaceRoleStore(db *squealx.DB) *SQLWorkspaceRoleStore {
	return &SQLWorkspaceRoleStore{db: db}
}

func (s *SQLWorkspaceRoleStore) SaveWorkspaceRole(ctx context.Context, workspaceID, name string, perms authz.Permissions) error {
	permsJSON, err := encodePermissions(perms)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	q := `INSERT INTO workspace_roles(workspace_id, name, permissions_json, updated_at) VALUES(:workspace_id, :name, :permissions_json, :updated_at)
ON CONFLICT(workspace_id, name) DO UPDATE SET permissions_json = excluded.permissions_json, updated_at = excluded.updated_at`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"workspace_id":     workspaceID,
		"name":             name,
		"permissions_json": permsJSON,
		"updated_at":       time.Now(),
	})
	return err
}

func (s *SQLWorkspaceRoleStore) DeleteWorkspaceRole(ctx context.Context, workspaceID, name string) error {
	q := `DELETE FROM workspace_roles WHERE workspace_id = :workspace_id AND name = :name`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"workspace_id": workspaceID, "name": name})
	return err
}

func (s *SQLWorkspaceRoleStore) WorkspaceRole(ctx context.Context, workspaceID, name string) (authz.Permissions, bool, error) {
	q := `SELECT permissions_json FROM workspace_roles WHERE workspace_id = :workspace_id AND name = :name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"workspace_id": workspaceID, "name": name})
	if err != nil {
		return nil, false, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, false, r.Err()
	}
	var permsJSON string
	if err := r.Scan(&permsJSON); err != nil {
		return nil, false, err
	}
	perms, err := decodePermissions(permsJSON)
	if err != nil {
		return nil, false, fmt.Errorf("decode workspace role %s/%s: %w", workspaceID, name, err)
	}
	return perms, true, nil
}

// ListWorkspaceRoles returns the names of the custom roles of workspaceID.
func (s *SQLWorkspaceRoleStore) ListWorkspaceRoles(ctx context.Context, workspaceID string) ([]string, error) {
	q := `SELECT name FROM workspace_roles WHERE workspace_id = :workspace_id ORDER BY name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"workspace_id": workspaceID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]string, 0)
	for r.Next() {
		var name string
		if err := r.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, r.Err()
}
