package authz

// Builders provide a fluent API for declaring the statement and compiling
// roles in code.

// StatementBuilder collects resource declarations and seals them.
type StatementBuilder struct {
	reg *Registry
	err error
}

func NewStatementBuilder() *StatementBuilder {
	return &StatementBuilder{reg: NewRegistry()}
}

// Resource declares resource with actions. The first failure is kept and
// returned by Build.
func (b *StatementBuilder) Resource(resource Resource, actions ...Action) *StatementBuilder {
	if b.err != nil {
		return b
	}
	b.err = b.reg.Define(resource, actions...)
	return b
}

func (b *StatementBuilder) Build() (*Statement, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.reg.Seal(), nil
}

// RoleBuilder accumulates the permission subset of one role.
type RoleBuilder struct {
	name  string
	perms Permissions
}

func NewRoleBuilder(name string) *RoleBuilder {
	return &RoleBuilder{name: name, perms: make(Permissions)}
}

func (b *RoleBuilder) Allow(resource Resource, actions ...Action) *RoleBuilder {
	b.perms[resource] = append(b.perms[resource], actions...)
	return b
}

// AllowAll grants every action of resource.
func (b *RoleBuilder) AllowAll(resource Resource) *RoleBuilder {
	return b.Allow(resource, "*")
}

func (b *RoleBuilder) Name() string { return b.name }

func (b *RoleBuilder) Permissions() Permissions { return b.perms }

// Compile hands the role to c.
func (b *RoleBuilder) Compile(c *RoleCompiler) (*Role, error) {
	return c.Compile(b.name, b.perms)
}
