package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete authz configuration
type Config struct {
	Version        uint16                `json:"version" yaml:"version"`
	Statement      []ResourceConfig      `json:"statement" yaml:"statement"`
	Owner          string                `json:"owner,omitempty" yaml:"owner,omitempty"` // name of the full-access role
	Roles          []RoleConfig          `json:"roles" yaml:"roles"`
	WorkspaceRoles []WorkspaceRoleConfig `json:"workspace_roles,omitempty" yaml:"workspace_roles,omitempty"`
	Grants         []GrantConfig         `json:"grants,omitempty" yaml:"grants,omitempty"`
	Engine         EngineConfig          `json:"engine" yaml:"engine"`
}

type ResourceConfig struct {
	Resource Resource `json:"resource" yaml:"resource"`
	Actions  []Action `json:"actions" yaml:"actions"`
}

type RoleConfig struct {
	Name        string      `json:"name" yaml:"name"`
	Permissions Permissions `json:"permissions" yaml:"permissions"`
}

type WorkspaceRoleConfig struct {
	Workspace   string      `json:"workspace" yaml:"workspace"`
	Name        string      `json:"name" yaml:"name"`
	Permissions Permissions `json:"permissions" yaml:"permissions"`
}

// GrantConfig seeds grants for one identity in one workspace. Permissions
// are "resource:action" strings.
type GrantConfig struct {
	Identity    string   `json:"identity" yaml:"identity"`
	Workspace   string   `json:"workspace" yaml:"workspace"`
	Roles       []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

type EngineConfig struct {
	GrantCacheTTL         int64 `json:"grant_cache_ttl_ms" yaml:"grant_cache_ttl_ms"`
	GrantCacheNumCounters int64 `json:"grant_cache_num_counters" yaml:"grant_cache_num_counters"`
	GrantCacheMaxCost     int64 `json:"grant_cache_max_cost" yaml:"grant_cache_max_cost"`
	GrantCacheBuffer      int64 `json:"grant_cache_buffer" yaml:"grant_cache_buffer"`
	AuditBuffer           int   `json:"audit_buffer" yaml:"audit_buffer"`
	BatchWorkerCount      int   `json:"batch_worker_count" yaml:"batch_worker_count"`
	ResolveTimeout        int64 `json:"resolve_timeout_ms" yaml:"resolve_timeout_ms"`
}

// Options translates the non-zero settings into engine options.
func (c EngineConfig) Options() []EngineOption {
	opts := make([]EngineOption, 0, 3)
	if c.AuditBuffer > 0 {
		opts = append(opts, WithAuditBuffer(c.AuditBuffer))
	}
	if c.BatchWorkerCount > 0 {
		opts = append(opts, WithBatchWorkers(c.BatchWorkerCount))
	}
	if c.ResolveTimeout > 0 {
		opts = append(opts, WithResolveTimeout(time.Duration(c.ResolveTimeout)*time.Millisecond))
	}
	return opts
}

// CacheEnabled reports whether a grant cache TTL is configured.
func (c EngineConfig) CacheEnabled() bool { return c.GrantCacheTTL > 0 }

// CacheConfig returns the grant cache sizing; zero fields fall back to
// DefaultCacheConfig inside NewCachingResolver.
func (c EngineConfig) CacheConfig() CacheConfig {
	return CacheConfig{
		TTL:         time.Duration(c.GrantCacheTTL) * time.Millisecond,
		NumCounters: c.GrantCacheNumCounters,
		MaxCost:     c.GrantCacheMaxCost,
		BufferItems: c.GrantCacheBuffer,
	}
}

// ConfigLoader loads configuration from various formats
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Bootstrap runs the definition phase described by cfg: it declares every
// resource, seals the statement, compiles the owner and every role, and
// seals the role table. All definition errors are reported together.
func Bootstrap(cfg *Config) (*Statement, *RoleTable, error) {
	if cfg == nil {
		return nil, nil, errors.New("config is required")
	}
	var errs []error
	reg := NewRegistry()
	for _, rc := range cfg.Statement {
		if err := reg.Define(rc.Resource, rc.Actions...); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}
	stmt := reg.Seal()

	compiler := NewRoleCompiler(stmt)
	if cfg.Owner != "" {
		if _, err := compiler.CompileFull(cfg.Owner); err != nil {
			errs = append(errs, err)
		}
	}
	for _, rc := range cfg.Roles {
		if _, err := compiler.Compile(rc.Name, rc.Permissions); err != nil {
			errs = append(errs, err)
		}
	}
	roles := compiler.Seal()
	for _, wr := range cfg.WorkspaceRoles {
		if _, ok := roles.Get(wr.Name); ok {
			errs = append(errs, definitionErr(ErrDuplicateRole, wr.Name, "", ""))
			continue
		}
		if _, err := CompileWorkspaceRole(stmt, wr.Workspace, wr.Name, wr.Permissions); err != nil {
			errs = append(errs, fmt.Errorf("workspace %s: %w", wr.Workspace, err))
		}
	}
	for i, g := range cfg.Grants {
		for _, p := range g.Permissions {
			res, act, err := ParsePermission(p)
			if err != nil {
				errs = append(errs, fmt.Errorf("grant %d: %w", i, err))
				continue
			}
			if !stmt.Has(res, act) {
				errs = append(errs, fmt.Errorf("grant %d: %w", i, definitionErr(ErrActionNotInStatement, "", res, act)))
			}
		}
	}
	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}
	return stmt, roles, nil
}

// ApplyGrants writes the configured grants through w.
func ApplyGrants(ctx context.Context, w GrantWriter, cfg *Config) error {
	for _, g := range cfg.Grants {
		for _, role := range g.Roles {
			if err := w.AssignRole(ctx, g.Identity, g.Workspace, role); err != nil {
				return fmt.Errorf("assign role %s to %s in %s: %w", role, g.Identity, g.Workspace, err)
			}
		}
		for _, p := range g.Permissions {
			res, act, err := ParsePermission(p)
			if err != nil {
				return err
			}
			if err := w.GrantAction(ctx, g.Identity, g.Workspace, res, act); err != nil {
				return fmt.Errorf("grant %s to %s in %s: %w", p, g.Identity, g.Workspace, err)
			}
		}
	}
	return nil
}

// ApplyWorkspaceRoles validates and persists the configured custom roles.
func ApplyWorkspaceRoles(ctx context.Context, e *Engine, w WorkspaceRoleWriter, cfg *Config) error {
	for _, wr := range cfg.WorkspaceRoles {
		if _, err := e.DefineWorkspaceRole(ctx, w, wr.Workspace, wr.Name, wr.Permissions); err != nil {
			return fmt.Errorf("workspace %s: %w", wr.Workspace, err)
		}
	}
	return nil
}

// NewEngineFromConfig bootstraps cfg and builds an engine over resolver.
// When cfg enables the grant cache, resolver is wrapped in a CachingResolver
// that is released by Engine.Close. Grants listed in cfg are not applied.
func NewEngineFromConfig(cfg *Config, resolver GrantResolver, opts ...EngineOption) (*Engine, error) {
	stmt, roles, err := Bootstrap(cfg)
	if err != nil {
		return nil, err
	}
	var cache *CachingResolver
	if cfg.Engine.CacheEnabled() {
		cache, err = NewCachingResolver(resolver, cfg.Engine.CacheConfig())
		if err != nil {
			return nil, err
		}
		resolver = cache
	}
	all := append(cfg.Engine.Options(), opts...)
	e, err := NewEngine(stmt, roles, resolver, all...)
	if err != nil {
		if cache != nil {
			cache.Close()
		}
		return nil, err
	}
	if cache != nil {
		e.onClose = append(e.onClose, cache.Close)
	}
	return e, nil
}
