package authz

import "fmt"

// ConfigBuilder provides fluent API for building configurations
type ConfigBuilder struct {
	cfg *Config
	err error
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		cfg: &Config{
			Version:   1,
			Statement: []ResourceConfig{},
			Roles:     []RoleConfig{},
			Engine: EngineConfig{
				AuditBuffer:      1024,
				BatchWorkerCount: 8,
			},
		},
	}
}

func (b *ConfigBuilder) Version(v uint16) *ConfigBuilder {
	b.cfg.Version = v
	return b
}

func (b *ConfigBuilder) AddResource(resource Resource, actions ...Action) *ConfigBuilder {
	b.cfg.Statement = append(b.cfg.Statement, ResourceConfig{Resource: resource, Actions: actions})
	return b
}

func (b *ConfigBuilder) Owner(role string) *ConfigBuilder {
	b.cfg.Owner = role
	return b
}

// AddRole adds a built-in role. perms are "resource:action" strings.
func (b *ConfigBuilder) AddRole(name string, perms ...string) *ConfigBuilder {
	p, err := permissionsFromStrings(perms)
	if err != nil {
		b.setErr(fmt.Errorf("role %s: %w", name, err))
		return b
	}
	b.cfg.Roles = append(b.cfg.Roles, RoleConfig{Name: name, Permissions: p})
	return b
}

func (b *ConfigBuilder) AddWorkspaceRole(workspace, name string, perms ...string) *ConfigBuilder {
	p, err := permissionsFromStrings(perms)
	if err != nil {
		b.setErr(fmt.Errorf("workspace role %s/%s: %w", workspace, name, err))
		return b
	}
	b.cfg.WorkspaceRoles = append(b.cfg.WorkspaceRoles, WorkspaceRoleConfig{Workspace: workspace, Name: name, Permissions: p})
	return b
}

func (b *ConfigBuilder) AssignRole(identity, workspace string, roles ...string) *ConfigBuilder {
	b.cfg.Grants = append(b.cfg.Grants, GrantConfig{Identity: identity, Workspace: workspace, Roles: roles})
	return b
}

func (b *ConfigBuilder) GrantPermission(identity, workspace string, perms ...string) *ConfigBuilder {
	b.cfg.Grants = append(b.cfg.Grants, GrantConfig{Identity: identity, Workspace: workspace, Permissions: perms})
	return b
}

func (b *ConfigBuilder) EngineSettings(fn func(*EngineConfig)) *ConfigBuilder {
	fn(&b.cfg.Engine)
	return b
}

// Build returns the configuration, or the first malformed permission string
// passed to the builder.
func (b *ConfigBuilder) Build() (*Config, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.cfg, nil
}

func (b *ConfigBuilder) ToYAML() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.cfg.ToYAML()
}

func (b *ConfigBuilder) ToJSON() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.cfg.ToJSON()
}

func (b *ConfigBuilder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

func permissionsFromStrings(perms []string) (Permissions, error) {
	out := make(Permissions)
	for _, s := range perms {
		res, act, err := ParsePermission(s)
		if err != nil {
			return nil, err
		}
		out[res] = append(out[res], act)
	}
	return out, nil
}
