package stores

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oarkflow/wsauthz"
)

type memberKey struct {
	workspace string
	identity  string
}

// MemoryGrantStore keeps grants in memory. Writes rebuild an immutable
// snapshot under the write lock so Resolve never takes a lock.
type MemoryGrantStore struct {
	mu       sync.Mutex
	grants   map[memberKey][]authz.Grant
	snapshot atomic.Value // map[memberKey][]authz.RoleRef
	now      func() time.Time
}

func NewMemoryGrantStore() *MemoryGrantStore {
	s := &MemoryGrantStore{grants: make(map[memberKey][]authz.Grant), now: time.Now}
	s.snapshot.Store(map[memberKey][]authz.RoleRef{})
	return s
}

func (s *MemoryGrantStore) AssignRole(ctx context.Context, identityID, workspaceID, role string) error {
	return s.add(authz.Grant{IdentityID: identityID, WorkspaceID: workspaceID, Role: role})
}

func (s *MemoryGrantStore) RevokeRole(ctx context.Context, identityID, workspaceID, role string) error {
	s.remove(identityID, workspaceID, func(g authz.Grant) bool { return g.Role == role })
	return nil
}

func (s *MemoryGrantStore) GrantAction(ctx context.Context, identityID, workspaceID string, resource authz.Resource, action authz.Action) error {
	return s.add(authz.Grant{IdentityID: identityID, WorkspaceID: workspaceID, Resource: resource, Action: action})
}

func (s *MemoryGrantStore) RevokeAction(ctx context.Context, identityID, workspaceID string, resource authz.Resource, action authz.Action) error {
	s.remove(identityID, workspaceID, func(g authz.Grant) bool {
		return g.Role == "" && g.Resource == resource && g.Action == action
	})
	return nil
}

// RemoveMember drops every grant of identityID in workspaceID.
func (s *MemoryGrantStore) RemoveMember(ctx context.Context, identityID, workspaceID string) error {
	s.remove(identityID, workspaceID, func(authz.Grant) bool { return true })
	return nil
}

func (s *MemoryGrantStore) Resolve(ctx context.Context, identityID, workspaceID string) ([]authz.RoleRef, error) {
	snap := s.snapshot.Load().(map[memberKey][]authz.RoleRef)
	refs, ok := snap[memberKey{workspace: workspaceID, identity: identityID}]
	if !ok {
		return []authz.RoleRef{}, nil
	}
	return append([]authz.RoleRef(nil), refs...), nil
}

// ListGrants returns the grants held in workspaceID, ordered by identity.
func (s *MemoryGrantStore) ListGrants(ctx context.Context, workspaceID string) ([]authz.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]authz.Grant, 0)
	for k, list := range s.grants {
		if k.workspace == workspaceID {
			out = append(out, list...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IdentityID < out[j].IdentityID })
	return out, nil
}

func (s *MemoryGrantStore) add(g authz.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memberKey{workspace: g.WorkspaceID, identity: g.IdentityID}
	for _, existing := range s.grants[k] {
		if existing.Role == g.Role && existing.Resource == g.Resource && existing.Action == g.Action {
			return nil
		}
	}
	g.CreatedAt = s.now()
	s.grants[k] = append(s.grants[k], g)
	s.rebuildLocked()
	return nil
}

func (s *MemoryGrantStore) remove(identityID, workspaceID string, match func(authz.Grant) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memberKey{workspace: workspaceID, identity: identityID}
	list, ok := s.grants[k]
	if !ok {
		return
	}
	kept := list[:0]
	for _, g := range list {
		if !match(g) {
			kept = append(kept, g)
		}
	}
	if len(kept) == 0 {
		delete(s.grants, k)
	} else {
		s.grants[k] = kept
	}
	s.rebuildLocked()
}

func (s *MemoryGrantStore) rebuildLocked() {
	snap := make(map[memberKey][]authz.RoleRef, len(s.grants))
	for k, list := range s.grants {
		snap[k] = authz.RefsFromGrants(list)
	}
	s.snapshot.Store(snap)
}

type roleKey struct {
	workspace string
	name      string
}

// MemoryWorkspaceRoleStore keeps custom workspace roles in memory.
type MemoryWorkspaceRoleStore struct {
	mu    sync.RWMutex
	roles map[roleKey]authz.Permissions
}

func NewMemoryWorkspaceRoleStore() *MemoryWorkspaceRoleStore {
	return &MemoryWorkspaceRoleStore{roles: make(map[roleKey]authz.Permissions)}
}

func (s *MemoryWorkspaceRoleStore) SaveWorkspaceRole(ctx context.Context, workspaceID, name string, perms authz.Permissions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[roleKey{workspace: workspaceID, name: name}] = clonePermissions(perms)
	return nil
}

func (s *MemoryWorkspaceRoleStore) DeleteWorkspaceRole(ctx context.Context, workspaceID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, roleKey{workspace: workspaceID, name: name})
	return nil
}

func (s *MemoryWorkspaceRoleStore) WorkspaceRole(ctx context.Context, workspaceID, name string) (authz.Permissions, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.roles[roleKey{workspace: workspaceID, name: name}]
	if !ok {
		return nil, false, nil
	}
	return clonePermissions(p), true, nil
}

// MemoryAuditStore implements in-memory audit logging
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*authz.AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{entries: make([]*authz.AuditEntry, 0)}
}

func (s *MemoryAuditStore) LogDecision(ctx context.Context, entry *authz.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditStore) GetAccessLog(ctx context.Context, filter authz.AuditFilter) ([]*authz.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*authz.AuditEntry, 0)
	for _, entry := range s.entries {
		if !filter.Matches(entry) {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}
