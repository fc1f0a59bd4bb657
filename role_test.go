package authz_test

import (
	"errors"
	"testing"

	"github.com/oarkflow/wsauthz"
)

func TestCompileRejectsActionOutsideStatement(t *testing.T) {
	stmt := newExpenseStatement(t)
	c := authz.NewRoleCompiler(stmt)

	_, err := c.Compile("sneaky", authz.Permissions{"expense": {"read", "embezzle"}})
	if !errors.Is(err, authz.ErrActionNotInStatement) {
		t.Fatalf("expected ErrActionNotInStatement, got %v", err)
	}
	de, _ := authz.IsDefinitionError(err)
	if de.Role != "sneaky" || de.Resource != "expense" || de.Action != "embezzle" {
		t.Fatalf("unexpected error detail %+v", de)
	}
	if _, ok := c.Seal().Get("sneaky"); ok {
		t.Fatalf("failed role must not be registered")
	}
}

func TestCompileRejectsUndeclaredResource(t *testing.T) {
	c := authz.NewRoleCompiler(newExpenseStatement(t))
	_, err := c.Compile("r", authz.Permissions{"invoice": {"read"}})
	if !errors.Is(err, authz.ErrActionNotInStatement) {
		t.Fatalf("expected ErrActionNotInStatement, got %v", err)
	}
	_, err = c.Compile("r", authz.Permissions{"invoice": {}})
	if !errors.Is(err, authz.ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
}

func TestCompileAgainstEmptyStatement(t *testing.T) {
	stmt := authz.NewRegistry().Seal()
	c := authz.NewRoleCompiler(stmt)
	if _, err := c.Compile("r", authz.Permissions{"expense": {"read"}}); !errors.Is(err, authz.ErrActionNotInStatement) {
		t.Fatalf("expected ErrActionNotInStatement, got %v", err)
	}
}

func TestCompileReportsLowestOffendingPair(t *testing.T) {
	c := authz.NewRoleCompiler(newExpenseStatement(t))
	_, err := c.Compile("r", authz.Permissions{
		"wallet":  {"zap"},
		"expense": {"read", "zzz", "bogus"},
	})
	de, ok := authz.IsDefinitionError(err)
	if !ok || de.Resource != "expense" || de.Action != "bogus" {
		t.Fatalf("expected expense/bogus, got %v", err)
	}
}

func TestCompileExpandsGlobs(t *testing.T) {
	c := authz.NewRoleCompiler(newExpenseStatement(t))
	role, err := c.Compile("editor", authz.Permissions{"expense": {"*"}, "wallet": {"tr*"}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if role.Size() != 6 {
		t.Fatalf("expected 5 expense actions plus wallet:transfer, got %d", role.Size())
	}
	if !role.Allows("wallet", "transfer") || role.Allows("wallet", "read") {
		t.Fatalf("glob expanded incorrectly: %v", role.Permissions())
	}
	if _, err := c.Compile("none", authz.Permissions{"wallet": {"x*"}}); !errors.Is(err, authz.ErrActionNotInStatement) {
		t.Fatalf("glob matching nothing must fail, got %v", err)
	}
}

func TestCompileDuplicateAndInvalidNames(t *testing.T) {
	c := authz.NewRoleCompiler(newExpenseStatement(t))
	if _, err := c.Compile("reader", authz.Permissions{"expense": {"read"}}); err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := c.Compile("reader", authz.Permissions{"expense": {"read"}}); !errors.Is(err, authz.ErrDuplicateRole) {
		t.Fatalf("expected ErrDuplicateRole, got %v", err)
	}
	if _, err := c.Compile("bad name", authz.Permissions{}); !errors.Is(err, authz.ErrInvalidIdentifier) {
		t.Fatalf("expected ErrInvalidIdentifier, got %v", err)
	}
}

func TestCompileFullCoversStatement(t *testing.T) {
	stmt := newExpenseStatement(t)
	c := authz.NewRoleCompiler(stmt)
	owner, err := c.CompileFull(authz.OwnerRole)
	if err != nil {
		t.Fatalf("compile full: %v", err)
	}
	if owner.Size() != stmt.Len() {
		t.Fatalf("owner holds %d pairs, statement has %d", owner.Size(), stmt.Len())
	}
}

func TestCompileAfterSeal(t *testing.T) {
	c := authz.NewRoleCompiler(newExpenseStatement(t))
	_, _ = c.Compile("reader", authz.Permissions{"expense": {"read"}})
	table := c.Seal()
	if _, err := c.Compile("late", authz.Permissions{"expense": {"read"}}); !errors.Is(err, authz.ErrRegistrySealed) {
		t.Fatalf("expected ErrRegistrySealed, got %v", err)
	}
	if table.Len() != 1 || c.Seal() != table {
		t.Fatalf("role table changed after seal")
	}
	if names := table.Names(); len(names) != 1 || names[0] != "reader" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestCompileWorkspaceRole(t *testing.T) {
	stmt := newExpenseStatement(t)
	role, err := authz.CompileWorkspaceRole(stmt, "ws-1", "auditor", authz.Permissions{"expense": {"read", "approve"}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if role.Workspace() != "ws-1" || role.Name() != "auditor" {
		t.Fatalf("unexpected role identity %s/%s", role.Workspace(), role.Name())
	}
	perms := role.Permissions()
	if got := perms["expense"]; len(got) != 2 || got[0] != "approve" {
		t.Fatalf("expected sorted permissions, got %v", got)
	}
}
