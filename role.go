package authz

import (
	"sort"
	"sync"

	"github.com/oarkflow/wsauthz/utils"
)

// OwnerRole is the conventional name of the built-in full-access role.
const OwnerRole = "owner"

// Role is a named, validated subset of the Statement. Roles are immutable
// once compiled.
type Role struct {
	name      string
	workspace string
	perms     map[Resource]map[Action]struct{}
	size      int
}

// Name returns the role name.
func (r *Role) Name() string { return r.name }

// Workspace returns the owning workspace of a custom role, or "" for a
// built-in role.
func (r *Role) Workspace() string { return r.workspace }

// Size returns the number of (resource, action) pairs the role grants.
func (r *Role) Size() int { return r.size }

// Allows reports whether the role grants action on resource.
func (r *Role) Allows(resource Resource, action Action) bool {
	set, ok := r.perms[resource]
	if !ok {
		return false
	}
	_, ok = set[action]
	return ok
}

// Permissions returns a sorted copy of the role's grants. Resources listed
// with no actions are preserved.
func (r *Role) Permissions() Permissions {
	out := make(Permissions, len(r.perms))
	for res, set := range r.perms {
		list := make([]Action, 0, len(set))
		for a := range set {
			list = append(list, a)
		}
		out[res] = sortedActions(list)
	}
	return out
}

// RoleCompiler builds roles against a sealed Statement.
type RoleCompiler struct {
	stmt   *Statement
	mu     sync.Mutex
	roles  map[string]*Role
	sealed *RoleTable
}

func NewRoleCompiler(stmt *Statement) *RoleCompiler {
	return &RoleCompiler{stmt: stmt, roles: make(map[string]*Role)}
}

// Compile validates subset and registers it as role name. Every pair is
// checked against the statement before anything is registered; action
// patterns containing '*' are expanded against the statement here, never at
// evaluation time.
func (c *RoleCompiler) Compile(name string, subset Permissions) (*Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed != nil {
		return nil, definitionErr(ErrRegistrySealed, name, "", "")
	}
	if !validIdentifier(name) {
		return nil, definitionErr(ErrInvalidIdentifier, name, "", "")
	}
	if _, exists := c.roles[name]; exists {
		return nil, definitionErr(ErrDuplicateRole, name, "", "")
	}
	role, err := compileRole(c.stmt, "", name, subset)
	if err != nil {
		return nil, err
	}
	c.roles[name] = role
	return role, nil
}

// CompileFull registers name as a role holding every action of every
// resource in the statement.
func (c *RoleCompiler) CompileFull(name string) (*Role, error) {
	return c.Compile(name, c.stmt.All())
}

// Seal freezes the compiler and returns the role table. Calling Seal again
// returns the same table.
func (c *RoleCompiler) Seal() *RoleTable {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed != nil {
		return c.sealed
	}
	t := &RoleTable{roles: make(map[string]*Role, len(c.roles))}
	for name, r := range c.roles {
		t.roles[name] = r
		t.names = append(t.names, name)
	}
	sort.Strings(t.names)
	c.sealed = t
	return t
}

// RoleTable is the sealed set of built-in roles.
type RoleTable struct {
	roles map[string]*Role
	names []string
}

// Get returns the built-in role called name.
func (t *RoleTable) Get(name string) (*Role, bool) {
	if t == nil {
		return nil, false
	}
	r, ok := t.roles[name]
	return r, ok
}

// Names returns the role names in sorted order.
func (t *RoleTable) Names() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.names...)
}

// Len returns the number of roles.
func (t *RoleTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.roles)
}

// CompileWorkspaceRole validates a custom role stored for one workspace.
// The result is not registered anywhere; callers own its lifetime.
func CompileWorkspaceRole(stmt *Statement, workspaceID, name string, subset Permissions) (*Role, error) {
	if !validIdentifier(name) {
		return nil, definitionErr(ErrInvalidIdentifier, name, "", "")
	}
	return compileRole(stmt, workspaceID, name, subset)
}

func compileRole(stmt *Statement, workspace, name string, subset Permissions) (*Role, error) {
	expanded, err := expandPatterns(stmt, subset)
	if err != nil {
		return nil, withRole(err, name)
	}
	if err := stmt.Validate(expanded); err != nil {
		return nil, withRole(err, name)
	}
	role := &Role{
		name:      name,
		workspace: workspace,
		perms:     make(map[Resource]map[Action]struct{}, len(expanded)),
	}
	for res, actions := range expanded {
		set := make(map[Action]struct{}, len(actions))
		for _, a := range actions {
			set[a] = struct{}{}
		}
		role.perms[res] = set
		role.size += len(set)
	}
	return role, nil
}

func expandPatterns(stmt *Statement, subset Permissions) (Permissions, error) {
	out := make(Permissions, len(subset))
	for _, res := range sortedResources(subset) {
		actions := subset[res]
		list := make([]Action, 0, len(actions))
		for _, a := range sortedActions(actions) {
			if !utils.IsPattern(string(a)) {
				list = append(list, a)
				continue
			}
			declared, err := stmt.ActionsFor(res)
			if err != nil {
				return nil, definitionErr(ErrActionNotInStatement, "", res, a)
			}
			matched := 0
			for _, d := range declared {
				if utils.MatchGlob(string(a), string(d)) {
					list = append(list, d)
					matched++
				}
			}
			if matched == 0 {
				return nil, definitionErr(ErrActionNotInStatement, "", res, a)
			}
		}
		out[res] = list
	}
	return out, nil
}

func withRole(err error, name string) error {
	if de, ok := IsDefinitionError(err); ok {
		cp := *de
		cp.Role = name
		return &cp
	}
	return err
}
