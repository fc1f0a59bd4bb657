package authz_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/oarkflow/wsauthz"
	"github.com/oarkflow/wsauthz/stores"
)

func TestUndeclaredPairDeniedRegardlessOfGrants(t *testing.T) {
	grants := newGrantStore(t)
	ctx := context.Background()
	_ = grants.AssignRole(ctx, "alice", "ws-1", authz.OwnerRole)
	_ = grants.GrantAction(ctx, "alice", "ws-1", "invoice", "read")
	engine := newTestEngine(t, grants)

	for _, pair := range [][2]string{{"invoice", "read"}, {"expense", "embezzle"}} {
		d := engine.Check(ctx, "alice", "ws-1", authz.Resource(pair[0]), authz.Action(pair[1]))
		if d.Outcome != authz.Deny || d.Reason != authz.ReasonNoMatchingStatement {
			t.Fatalf("%v: expected deny(no matching statement), got %s", pair, d)
		}
	}
}

func TestUnionAcrossRoles(t *testing.T) {
	grants := newGrantStore(t)
	ctx := context.Background()
	_ = grants.AssignRole(ctx, "alice", "ws-1", "reader")
	_ = grants.AssignRole(ctx, "alice", "ws-1", "remover")
	engine := newTestEngine(t, grants)

	if d := engine.Check(ctx, "alice", "ws-1", "expense", "read"); !d.Allowed() || d.MatchedBy != "reader" {
		t.Fatalf("read: expected allow by reader, got %s", d)
	}
	if d := engine.Check(ctx, "alice", "ws-1", "expense", "delete"); !d.Allowed() || d.MatchedBy != "remover" {
		t.Fatalf("delete: expected allow by remover, got %s", d)
	}
	if d := engine.Check(ctx, "alice", "ws-1", "expense", "update"); d.Outcome != authz.Deny || d.Reason != authz.ReasonNoRoleGrants {
		t.Fatalf("update: expected deny(no role grants it), got %s", d)
	}
}

func TestWorkspaceIsolation(t *testing.T) {
	grants := newGrantStore(t)
	ctx := context.Background()
	_ = grants.AssignRole(ctx, "alice", "ws-a", "admin")
	engine := newTestEngine(t, grants)

	if d := engine.Check(ctx, "alice", "ws-a", "expense", "read"); !d.Allowed() {
		t.Fatalf("ws-a: expected allow, got %s", d)
	}
	if d := engine.Check(ctx, "alice", "ws-b", "expense", "read"); d.Allowed() {
		t.Fatalf("ws-b: expected deny, got %s", d)
	}
}

func TestOwnerAllowsEveryDeclaredPair(t *testing.T) {
	grants := newGrantStore(t)
	ctx := context.Background()
	_ = grants.AssignRole(ctx, "olga", "ws-1", authz.OwnerRole)
	engine := newTestEngine(t, grants)

	stmt := engine.Statement()
	for _, res := range stmt.Resources() {
		actions, _ := stmt.ActionsFor(res)
		for _, a := range actions {
			d := engine.Check(ctx, "olga", "ws-1", res, a)
			if !d.Allowed() || d.MatchedBy != authz.OwnerRole {
				t.Fatalf("%s:%s expected allow by owner, got %s", res, a, d)
			}
		}
	}
}

func TestExplicitGrant(t *testing.T) {
	grants := newGrantStore(t)
	ctx := context.Background()
	_ = grants.GrantAction(ctx, "bob", "ws-1", "wallet", "transfer")
	engine := newTestEngine(t, grants)

	d := engine.Check(ctx, "bob", "ws-1", "wallet", "transfer")
	if !d.Allowed() || d.Reason != authz.ReasonGrantedExplicitly {
		t.Fatalf("expected explicit allow, got %s", d)
	}
	if d := engine.Check(ctx, "bob", "ws-1", "wallet", "read"); d.Allowed() {
		t.Fatalf("explicit grant must not extend to other actions, got %s", d)
	}
}

func TestCheckIsIdempotent(t *testing.T) {
	grants := newGrantStore(t)
	ctx := context.Background()
	_ = grants.AssignRole(ctx, "alice", "ws-1", "reader")
	engine := newTestEngine(t, grants)

	first := engine.Check(ctx, "alice", "ws-1", "expense", "read")
	for i := 0; i < 10; i++ {
		if got := engine.Check(ctx, "alice", "ws-1", "expense", "read"); !reflect.DeepEqual(got, first) {
			t.Fatalf("decision changed: %+v vs %+v", got, first)
		}
	}
}

func TestMissingIdentityOrWorkspaceDenies(t *testing.T) {
	engine := newTestEngine(t, newGrantStore(t))
	ctx := context.Background()
	if d := engine.Check(ctx, "", "ws-1", "expense", "read"); d.Outcome != authz.Deny {
		t.Fatalf("expected deny for empty identity, got %s", d)
	}
	if d := engine.Check(ctx, "alice", "", "expense", "read"); d.Outcome != authz.Deny {
		t.Fatalf("expected deny for empty workspace, got %s", d)
	}
}

func TestResolverFailureIsIndeterminate(t *testing.T) {
	failing := authz.ResolverFunc(func(ctx context.Context, identityID, workspaceID string) ([]authz.RoleRef, error) {
		return nil, errors.New("connection refused")
	})
	engine := newTestEngine(t, failing)

	d := engine.Check(context.Background(), "alice", "ws-1", "expense", "read")
	if d.Outcome != authz.Indeterminate || d.Reason != authz.ReasonResolutionFailed {
		t.Fatalf("expected indeterminate, got %s", d)
	}
	if !errors.Is(d.Err, authz.ErrResolutionFailed) {
		t.Fatalf("expected ErrResolutionFailed, got %v", d.Err)
	}
	if d.Allowed() {
		t.Fatalf("indeterminate must never allow")
	}
}

func TestCancellationIsIndeterminate(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	blocking := authz.ResolverFunc(func(ctx context.Context, identityID, workspaceID string) ([]authz.RoleRef, error) {
		<-release // ignores ctx on purpose
		return []authz.RoleRef{authz.RoleName(authz.OwnerRole)}, nil
	})
	engine := newTestEngine(t, blocking)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	d := engine.Check(ctx, "alice", "ws-1", "expense", "read")
	if d.Outcome != authz.Indeterminate {
		t.Fatalf("expected indeterminate, got %s", d)
	}
	if !errors.Is(d.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", d.Err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("check did not return promptly after cancellation")
	}
}

func TestResolveTimeoutOption(t *testing.T) {
	slow := authz.ResolverFunc(func(ctx context.Context, identityID, workspaceID string) ([]authz.RoleRef, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	engine := newTestEngine(t, slow, authz.WithResolveTimeout(10*time.Millisecond))
	if d := engine.Check(context.Background(), "alice", "ws-1", "expense", "read"); d.Outcome != authz.Indeterminate {
		t.Fatalf("expected indeterminate after resolve timeout, got %s", d)
	}
}

func TestUnknownRoleNameIsIgnored(t *testing.T) {
	grants := newGrantStore(t)
	ctx := context.Background()
	_ = grants.AssignRole(ctx, "alice", "ws-1", "ghost")
	_ = grants.AssignRole(ctx, "alice", "ws-1", "reader")
	engine := newTestEngine(t, grants)
	if d := engine.Check(ctx, "alice", "ws-1", "expense", "read"); !d.Allowed() {
		t.Fatalf("expected allow via reader, got %s", d)
	}
	if d := engine.Check(ctx, "alice", "ws-1", "expense", "delete"); d.Outcome != authz.Deny {
		t.Fatalf("expected deny, got %s", d)
	}
}

func TestWorkspaceRoles(t *testing.T) {
	grants := newGrantStore(t)
	custom := stores.NewMemoryWorkspaceRoleStore()
	ctx := context.Background()
	engine := newTestEngine(t, grants, authz.WithWorkspaceRoles(custom))

	if _, err := engine.DefineWorkspaceRole(ctx, custom, "ws-1", "auditor", authz.Permissions{"expense": {"read", "approve"}}); err != nil {
		t.Fatalf("define: %v", err)
	}
	if _, err := engine.DefineWorkspaceRole(ctx, custom, "ws-1", "admin", authz.Permissions{"expense": {"read"}}); !errors.Is(err, authz.ErrDuplicateRole) {
		t.Fatalf("built-in names must not be shadowed, got %v", err)
	}
	if _, err := engine.DefineWorkspaceRole(ctx, custom, "ws-1", "bad", authz.Permissions{"expense": {"steal"}}); !errors.Is(err, authz.ErrActionNotInStatement) {
		t.Fatalf("expected ErrActionNotInStatement, got %v", err)
	}
	_ = grants.AssignRole(ctx, "carol", "ws-1", "auditor")
	_ = grants.AssignRole(ctx, "carol", "ws-2", "auditor")

	if d := engine.Check(ctx, "carol", "ws-1", "expense", "approve"); !d.Allowed() || d.MatchedBy != "auditor" {
		t.Fatalf("ws-1: expected allow by auditor, got %s", d)
	}
	if d := engine.Check(ctx, "carol", "ws-2", "expense", "approve"); d.Allowed() {
		t.Fatalf("ws-2: custom role of ws-1 must not apply, got %s", d)
	}
}

func TestInvalidStoredWorkspaceRoleIsSkipped(t *testing.T) {
	grants := newGrantStore(t)
	custom := stores.NewMemoryWorkspaceRoleStore()
	ctx := context.Background()
	// written directly, bypassing validation
	_ = custom.SaveWorkspaceRole(ctx, "ws-1", "rogue", authz.Permissions{"expense": {"read", "launder"}})
	_ = grants.AssignRole(ctx, "dave", "ws-1", "rogue")
	engine := newTestEngine(t, grants, authz.WithWorkspaceRoles(custom))

	if d := engine.Check(ctx, "dave", "ws-1", "expense", "read"); d.Allowed() {
		t.Fatalf("invalid custom role must grant nothing, got %s", d)
	}
}

type flakyRoleSource struct{}

func (flakyRoleSource) WorkspaceRole(ctx context.Context, workspaceID, name string) (authz.Permissions, bool, error) {
	return nil, false, errors.New("role store down")
}

func TestWorkspaceRoleStoreFailure(t *testing.T) {
	grants := newGrantStore(t)
	ctx := context.Background()
	_ = grants.AssignRole(ctx, "erin", "ws-1", "custom")
	_ = grants.AssignRole(ctx, "erin", "ws-1", "reader")
	engine := newTestEngine(t, grants, authz.WithWorkspaceRoles(flakyRoleSource{}))

	if d := engine.Check(ctx, "erin", "ws-1", "expense", "read"); !d.Allowed() {
		t.Fatalf("another ref allows, expected allow, got %s", d)
	}
	if d := engine.Check(ctx, "erin", "ws-1", "expense", "delete"); d.Outcome != authz.Indeterminate {
		t.Fatalf("expected indeterminate when a role could not be loaded, got %s", d)
	}
}

func TestRevocationTakesEffectImmediately(t *testing.T) {
	grants := newGrantStore(t)
	ctx := context.Background()
	_ = grants.AssignRole(ctx, "alice", "ws-1", "admin")
	engine := newTestEngine(t, grants)
	if d := engine.Check(ctx, "alice", "ws-1", "expense", "approve"); !d.Allowed() {
		t.Fatalf("expected allow, got %s", d)
	}
	_ = grants.RevokeRole(ctx, "alice", "ws-1", "admin")
	if d := engine.Check(ctx, "alice", "ws-1", "expense", "approve"); d.Allowed() {
		t.Fatalf("expected deny after revoke, got %s", d)
	}
}

func TestExplainTrace(t *testing.T) {
	grants := newGrantStore(t)
	ctx := context.Background()
	_ = grants.AssignRole(ctx, "alice", "ws-1", "reader")
	engine := newTestEngine(t, grants)

	d, err := engine.ExplainRequest(ctx, &authz.ExplainRequest{Workspace: "ws-1", IdentityID: "alice", Permission: "expense:read"})
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if !d.Allowed() || len(d.Trace) == 0 {
		t.Fatalf("expected allow with trace, got %+v", d)
	}
	if d.Trace[len(d.Trace)-1] != "   role reader MATCH" {
		t.Fatalf("unexpected last trace line %q", d.Trace[len(d.Trace)-1])
	}
	if plain := engine.Check(ctx, "alice", "ws-1", "expense", "read"); plain.Trace != nil {
		t.Fatalf("Check must not carry a trace")
	}
	if _, err := engine.ExplainRequest(ctx, &authz.ExplainRequest{Permission: "expense"}); err == nil {
		t.Fatalf("expected error for malformed permission")
	}
}

func TestEffectiveActions(t *testing.T) {
	grants := newGrantStore(t)
	ctx := context.Background()
	_ = grants.AssignRole(ctx, "alice", "ws-1", "reader")
	_ = grants.GrantAction(ctx, "alice", "ws-1", "expense", "approve")
	engine := newTestEngine(t, grants)

	got, err := engine.EffectiveActions(ctx, "alice", "ws-1", "expense")
	if err != nil {
		t.Fatalf("effective actions: %v", err)
	}
	if !reflect.DeepEqual(got, []authz.Action{"approve", "read"}) {
		t.Fatalf("unexpected actions %v", got)
	}
	if _, err := engine.EffectiveActions(ctx, "alice", "ws-1", "invoice"); !errors.Is(err, authz.ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
}

func TestAuditTrail(t *testing.T) {
	grants := newGrantStore(t)
	audit := stores.NewMemoryAuditStore()
	ctx := context.Background()
	_ = grants.AssignRole(ctx, "alice", "ws-1", "reader")
	stmt := newExpenseStatement(t)
	engine, err := authz.NewEngine(stmt, newExpenseRoles(t, stmt), grants,
		authz.WithAuditStore(audit),
		authz.WithTraceIDFunc(func() string { return "trace-1" }),
	)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	engine.Check(ctx, "alice", "ws-1", "expense", "read")
	engine.Check(ctx, "alice", "ws-1", "expense", "delete")
	if err := engine.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, _ := audit.GetAccessLog(ctx, authz.AuditFilter{IdentityID: "alice"})
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Outcome != authz.Allow || entries[0].MatchedBy != "reader" || entries[0].TraceID != "trace-1" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Outcome != authz.Deny {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
}

func TestConcurrentChecks(t *testing.T) {
	grants := newGrantStore(t)
	ctx := context.Background()
	_ = grants.AssignRole(ctx, "alice", "ws-1", "admin")
	engine := newTestEngine(t, grants)

	var wg sync.WaitGroup
	errs := make(chan string, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d := engine.Check(ctx, "alice", "ws-1", "expense", "approve"); !d.Allowed() {
				errs <- d.String()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Fatalf("unexpected decision %s", e)
	}
}

func TestNewEngineValidation(t *testing.T) {
	stmt := newExpenseStatement(t)
	if _, err := authz.NewEngine(nil, nil, newGrantStore(t)); err == nil {
		t.Fatalf("expected error without statement")
	}
	if _, err := authz.NewEngine(stmt, nil, nil); err == nil {
		t.Fatalf("expected error without resolver")
	}
	if _, err := authz.NewEngine(stmt, nil, newGrantStore(t), authz.WithBatchWorkers(0)); err == nil {
		t.Fatalf("expected error for zero batch workers")
	}
}
