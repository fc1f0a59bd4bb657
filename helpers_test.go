package authz_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/oarkflow/wsauthz"
	"github.com/oarkflow/wsauthz/stores"
)

func newExpenseStatement(t testing.TB) *authz.Statement {
	t.Helper()
	stmt, err := authz.NewStatementBuilder().
		Resource("expense", "read", "create", "update", "delete", "approve").
		Resource("wallet", "read", "transfer").
		Build()
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	return stmt
}

// newExpenseRoles compiles owner, admin, reader (expense:read) and
// remover (expense:delete).
func newExpenseRoles(t testing.TB, stmt *authz.Statement) *authz.RoleTable {
	t.Helper()
	c := authz.NewRoleCompiler(stmt)
	if _, err := c.CompileFull(authz.OwnerRole); err != nil {
		t.Fatalf("owner: %v", err)
	}
	builders := []*authz.RoleBuilder{
		authz.NewRoleBuilder("admin").AllowAll("expense").Allow("wallet", "read"),
		authz.NewRoleBuilder("reader").Allow("expense", "read"),
		authz.NewRoleBuilder("remover").Allow("expense", "delete"),
	}
	for _, b := range builders {
		if _, err := b.Compile(c); err != nil {
			t.Fatalf("%s: %v", b.Name(), err)
		}
	}
	return c.Seal()
}

func newTestEngine(t testing.TB, resolver authz.GrantResolver, opts ...authz.EngineOption) *authz.Engine {
	t.Helper()
	stmt := newExpenseStatement(t)
	engine, err := authz.NewEngine(stmt, newExpenseRoles(t, stmt), resolver, opts...)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func newGrantStore(t testing.TB) *stores.MemoryGrantStore {
	t.Helper()
	return stores.NewMemoryGrantStore()
}

type countingResolver struct {
	inner authz.GrantResolver
	calls atomic.Int64
}

func (c *countingResolver) Resolve(ctx context.Context, identityID, workspaceID string) ([]authz.RoleRef, error) {
	c.calls.Add(1)
	return c.inner.Resolve(ctx, identityID, workspaceID)
}
