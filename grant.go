package authz

import (
	"context"
	"time"
)

// RoleRef is one entry returned by a GrantResolver: either a role name or a
// set of directly granted (resource, action) pairs.
type RoleRef struct {
	Role        string      `json:"role,omitempty" yaml:"role,omitempty"`
	Permissions Permissions `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// IsExplicit reports whether the ref carries direct grants rather than a
// role name.
func (r RoleRef) IsExplicit() bool { return r.Role == "" }

// RoleName builds a RoleRef naming a role.
func RoleName(name string) RoleRef { return RoleRef{Role: name} }

// Explicit builds a RoleRef granting action on resource directly.
func Explicit(resource Resource, actions ...Action) RoleRef {
	return RoleRef{Permissions: Permissions{resource: actions}}
}

// Grant is the persisted association of an identity and a workspace with
// either a role or one directly granted action.
type Grant struct {
	IdentityID  string    `json:"identity_id" yaml:"identity_id"`
	WorkspaceID string    `json:"workspace_id" yaml:"workspace_id"`
	Role        string    `json:"role,omitempty" yaml:"role,omitempty"`
	Resource    Resource  `json:"resource,omitempty" yaml:"resource,omitempty"`
	Action      Action    `json:"action,omitempty" yaml:"action,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// GrantResolver returns the roles and direct grants an identity holds in one
// workspace. It returns an empty slice (not an error) when the identity has
// no relationship to the workspace, and an error matching
// ErrResolutionFailed only when the backing store cannot answer.
type GrantResolver interface {
	Resolve(ctx context.Context, identityID, workspaceID string) ([]RoleRef, error)
}

// ResolverFunc adapts a function to GrantResolver.
type ResolverFunc func(ctx context.Context, identityID, workspaceID string) ([]RoleRef, error)

func (f ResolverFunc) Resolve(ctx context.Context, identityID, workspaceID string) ([]RoleRef, error) {
	return f(ctx, identityID, workspaceID)
}

// GrantWriter mutates grants in a backing store.
type GrantWriter interface {
	AssignRole(ctx context.Context, identityID, workspaceID, role string) error
	RevokeRole(ctx context.Context, identityID, workspaceID, role string) error
	GrantAction(ctx context.Context, identityID, workspaceID string, resource Resource, action Action) error
	RevokeAction(ctx context.Context, identityID, workspaceID string, resource Resource, action Action) error
}

// WorkspaceRoleSource loads custom roles defined for a single workspace.
// A missing role returns ok=false and a nil error.
type WorkspaceRoleSource interface {
	WorkspaceRole(ctx context.Context, workspaceID, name string) (Permissions, bool, error)
}

// WorkspaceRoleWriter persists custom workspace roles.
type WorkspaceRoleWriter interface {
	SaveWorkspaceRole(ctx context.Context, workspaceID, name string, perms Permissions) error
	DeleteWorkspaceRole(ctx context.Context, workspaceID, name string) error
}

// RefsFromGrants folds persisted grant rows into resolver output: one ref
// per distinct role, followed by a single explicit ref holding every direct
// grant.
func RefsFromGrants(grants []Grant) []RoleRef {
	out := make([]RoleRef, 0, len(grants))
	seen := make(map[string]bool)
	var explicit Permissions
	for _, g := range grants {
		if g.Role != "" {
			if !seen[g.Role] {
				seen[g.Role] = true
				out = append(out, RoleName(g.Role))
			}
			continue
		}
		if g.Resource == "" || g.Action == "" {
			continue
		}
		if explicit == nil {
			explicit = make(Permissions)
		}
		explicit[g.Resource] = append(explicit[g.Resource], g.Action)
	}
	if explicit != nil {
		out = append(out, RoleRef{Permissions: explicit})
	}
	return out
}
