package authz

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DSL Syntax:
// resource <name> <actions>
// owner <role>
// role <name> <resource:action,...>
// workspace-role <workspace> <name> <resource:action,...>
// grant <identity> <workspace> [roles:<r1,r2>] [perms:<resource:action,...>]
// engine <key>=<value>...
//
// Actions may use * globs inside role definitions, e.g. expense:*.
// An empty list is written as "-": "resource <name> -", "role <name> -",
// and "<resource>:-" for a resource listed with no actions.

type DSLParser struct {
	line int
}

func NewDSLParser() *DSLParser {
	return &DSLParser{}
}

func (p *DSLParser) Parse(data []byte) (*Config, error) {
	cfg := &Config{
		Version:   1,
		Statement: make([]ResourceConfig, 0, 8),
		Roles:     make([]RoleConfig, 0, 8),
	}

	p.line = 0
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			p.line++
			line := data[start:i]
			start = i + 1

			for len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
				line = line[1:]
			}
			for len(line) > 0 && (line[len(line)-1] == ' ' || line[len(line)-1] == '\t' || line[len(line)-1] == '\r') {
				line = line[:len(line)-1]
			}

			if len(line) == 0 || line[0] == '#' {
				continue
			}

			parts := splitLineBytes(line)
			if len(parts) == 0 {
				continue
			}

			var err error
			switch parts[0] {
			case "version":
				err = p.parseVersion(cfg, parts[1:])
			case "resource":
				err = p.parseResource(cfg, parts[1:])
			case "owner":
				err = p.parseOwner(cfg, parts[1:])
			case "role":
				err = p.parseRole(cfg, parts[1:])
			case "workspace-role":
				err = p.parseWorkspaceRole(cfg, parts[1:])
			case "grant":
				err = p.parseGrant(cfg, parts[1:])
			case "engine":
				err = p.parseEngine(cfg, parts[1:])
			default:
				err = fmt.Errorf("unknown directive: %s", parts[0])
			}
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", p.line, err)
			}
		}
	}

	return cfg, nil
}

func splitLineBytes(line []byte) []string {
	parts := make([]string, 0, 8)
	var start int
	inQuote := false

	for i := 0; i < len(line); i++ {
		ch := line[i]
		if ch == '"' {
			if inQuote {
				parts = append(parts, string(line[start:i]))
				inQuote = false
			} else {
				inQuote = true
			}
			start = i + 1
		} else if (ch == ' ' || ch == '\t') && !inQuote {
			if i > start {
				parts = append(parts, string(line[start:i]))
			}
			start = i + 1
		}
	}

	if start < len(line) {
		parts = append(parts, string(line[start:]))
	}

	return parts
}

func (p *DSLParser) parseVersion(cfg *Config, parts []string) error {
	if len(parts) != 1 {
		return fmt.Errorf("version requires: <n>")
	}
	v, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return fmt.Errorf("version: %w", err)
	}
	cfg.Version = uint16(v)
	return nil
}

func (p *DSLParser) parseResource(cfg *Config, parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("resource requires: <name> <actions>")
	}
	var actions []Action
	if parts[1] != emptySet {
		actions = parseList(parts[1])
	}
	cfg.Statement = append(cfg.Statement, ResourceConfig{
		Resource: Resource(parts[0]),
		Actions:  actions,
	})
	return nil
}

func (p *DSLParser) parseOwner(cfg *Config, parts []string) error {
	if len(parts) != 1 {
		return fmt.Errorf("owner requires: <role>")
	}
	if cfg.Owner != "" {
		return fmt.Errorf("owner already set to %s", cfg.Owner)
	}
	cfg.Owner = parts[0]
	return nil
}

func (p *DSLParser) parseRole(cfg *Config, parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("role requires: <name> <perms>")
	}
	perms, err := parsePermissions(parts[1])
	if err != nil {
		return err
	}
	cfg.Roles = append(cfg.Roles, RoleConfig{Name: parts[0], Permissions: perms})
	return nil
}

func (p *DSLParser) parseWorkspaceRole(cfg *Config, parts []string) error {
	if len(parts) != 3 {
		return fmt.Errorf("workspace-role requires: <workspace> <name> <perms>")
	}
	perms, err := parsePermissions(parts[2])
	if err != nil {
		return err
	}
	cfg.WorkspaceRoles = append(cfg.WorkspaceRoles, WorkspaceRoleConfig{
		Workspace:   parts[0],
		Name:        parts[1],
		Permissions: perms,
	})
	return nil
}

func (p *DSLParser) parseGrant(cfg *Config, parts []string) error {
	if len(parts) < 3 {
		return fmt.Errorf("grant requires: <identity> <workspace> [roles:<roles>] [perms:<perms>]")
	}
	g := GrantConfig{Identity: parts[0], Workspace: parts[1]}
	for _, opt := range parts[2:] {
		switch {
		case strings.HasPrefix(opt, "roles:"):
			g.Roles = append(g.Roles, splitList(opt[len("roles:"):])...)
		case strings.HasPrefix(opt, "perms:"):
			for _, perm := range splitList(opt[len("perms:"):]) {
				if _, _, err := ParsePermission(perm); err != nil {
					return err
				}
				g.Permissions = append(g.Permissions, perm)
			}
		default:
			return fmt.Errorf("grant: unknown option %q", opt)
		}
	}
	cfg.Grants = append(cfg.Grants, g)
	return nil
}

func (p *DSLParser) parseEngine(cfg *Config, parts []string) error {
	for _, kv := range parts {
		idx := strings.Index(kv, "=")
		if idx == -1 {
			return fmt.Errorf("engine: expected key=value, got %q", kv)
		}
		key, val := kv[:idx], kv[idx+1:]
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("engine %s: %w", key, err)
		}
		switch key {
		case "cache_ttl":
			cfg.Engine.GrantCacheTTL = n
		case "cache_counters":
			cfg.Engine.GrantCacheNumCounters = n
		case "cache_max_cost":
			cfg.Engine.GrantCacheMaxCost = n
		case "cache_buffer":
			cfg.Engine.GrantCacheBuffer = n
		case "audit_buffer":
			cfg.Engine.AuditBuffer = int(n)
		case "workers":
			cfg.Engine.BatchWorkerCount = int(n)
		case "resolve_timeout":
			cfg.Engine.ResolveTimeout = n
		default:
			return fmt.Errorf("engine: unknown key %s", key)
		}
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, strings.Count(s, ",")+1)
	for _, item := range strings.Split(s, ",") {
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseList(s string) []Action {
	items := splitList(s)
	actions := make([]Action, len(items))
	for i, item := range items {
		actions[i] = Action(item)
	}
	return actions
}

const emptySet = "-"

func parsePermissions(s string) (Permissions, error) {
	out := make(Permissions)
	if s == emptySet {
		return out, nil
	}
	for _, item := range splitList(s) {
		if res, ok := strings.CutSuffix(item, ":"+emptySet); ok {
			if _, seen := out[Resource(res)]; !seen {
				out[Resource(res)] = []Action{}
			}
			continue
		}
		res, act, err := ParsePermission(item)
		if err != nil {
			return nil, err
		}
		out[res] = append(out[res], act)
	}
	return out, nil
}

type DSLEncoder struct {
	buf []byte
}

func NewDSLEncoder() *DSLEncoder {
	return &DSLEncoder{buf: make([]byte, 0, 4096)}
}

// Encode renders cfg in the DSL. Permission lists are written in sorted
// order so the output is stable.
func (e *DSLEncoder) Encode(cfg *Config) ([]byte, error) {
	e.buf = e.buf[:0]

	if cfg.Version != 0 {
		e.buf = append(e.buf, "version "...)
		e.buf = strconv.AppendUint(e.buf, uint64(cfg.Version), 10)
		e.buf = append(e.buf, '\n')
	}

	for _, rc := range cfg.Statement {
		e.buf = append(e.buf, "resource "...)
		e.buf = append(e.buf, rc.Resource...)
		e.buf = append(e.buf, ' ')
		if len(rc.Actions) == 0 {
			e.buf = append(e.buf, emptySet...)
		}
		for i, a := range rc.Actions {
			if i > 0 {
				e.buf = append(e.buf, ',')
			}
			e.buf = append(e.buf, a...)
		}
		e.buf = append(e.buf, '\n')
	}

	if cfg.Owner != "" {
		e.buf = append(e.buf, "owner "...)
		e.buf = append(e.buf, cfg.Owner...)
		e.buf = append(e.buf, '\n')
	}

	for _, rc := range cfg.Roles {
		e.buf = append(e.buf, "role "...)
		e.buf = append(e.buf, rc.Name...)
		e.buf = append(e.buf, ' ')
		e.appendPermissions(rc.Permissions)
		e.buf = append(e.buf, '\n')
	}

	for _, wr := range cfg.WorkspaceRoles {
		e.buf = append(e.buf, "workspace-role "...)
		e.buf = append(e.buf, wr.Workspace...)
		e.buf = append(e.buf, ' ')
		e.buf = append(e.buf, wr.Name...)
		e.buf = append(e.buf, ' ')
		e.appendPermissions(wr.Permissions)
		e.buf = append(e.buf, '\n')
	}

	for _, g := range cfg.Grants {
		e.buf = append(e.buf, "grant "...)
		e.buf = append(e.buf, g.Identity...)
		e.buf = append(e.buf, ' ')
		e.buf = append(e.buf, g.Workspace...)
		if len(g.Roles) > 0 {
			e.buf = append(e.buf, " roles:"...)
			e.buf = append(e.buf, strings.Join(g.Roles, ",")...)
		}
		if len(g.Permissions) > 0 {
			e.buf = append(e.buf, " perms:"...)
			e.buf = append(e.buf, strings.Join(g.Permissions, ",")...)
		}
		e.buf = append(e.buf, '\n')
	}

	e.appendEngine(&cfg.Engine)
	return e.buf, nil
}

func (e *DSLEncoder) appendPermissions(p Permissions) {
	if len(p) == 0 {
		e.buf = append(e.buf, emptySet...)
		return
	}
	first := true
	for _, res := range sortedResources(p) {
		if len(p[res]) == 0 {
			if !first {
				e.buf = append(e.buf, ',')
			}
			first = false
			e.buf = append(e.buf, res...)
			e.buf = append(e.buf, ':')
			e.buf = append(e.buf, emptySet...)
			continue
		}
		for _, a := range sortedActions(p[res]) {
			if !first {
				e.buf = append(e.buf, ',')
			}
			first = false
			e.buf = append(e.buf, FormatPermission(res, a)...)
		}
	}
}

func (e *DSLEncoder) appendEngine(c *EngineConfig) {
	settings := map[string]int64{
		"cache_ttl":       c.GrantCacheTTL,
		"cache_counters":  c.GrantCacheNumCounters,
		"cache_max_cost":  c.GrantCacheMaxCost,
		"cache_buffer":    c.GrantCacheBuffer,
		"audit_buffer":    int64(c.AuditBuffer),
		"workers":         int64(c.BatchWorkerCount),
		"resolve_timeout": c.ResolveTimeout,
	}
	keys := make([]string, 0, len(settings))
	for k, v := range settings {
		if v != 0 {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)
	e.buf = append(e.buf, "engine"...)
	for _, k := range keys {
		e.buf = append(e.buf, ' ')
		e.buf = append(e.buf, k...)
		e.buf = append(e.buf, '=')
		e.buf = strconv.AppendInt(e.buf, settings[k], 10)
	}
	e.buf = append(e.buf, '\n')
}
