package guard_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/oarkflow/wsauthz"
	"github.com/oarkflow/wsauthz/guard"
	"github.com/oarkflow/wsauthz/stores"
)

func newEngine(t *testing.T, resolver authz.GrantResolver) *authz.Engine {
	t.Helper()
	stmt, err := authz.NewStatementBuilder().
		Resource("expense", "read", "create", "delete").
		Build()
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	compiler := authz.NewRoleCompiler(stmt)
	if _, err := authz.NewRoleBuilder("viewer").Allow("expense", "read").Compile(compiler); err != nil {
		t.Fatalf("compile: %v", err)
	}
	engine, err := authz.NewEngine(stmt, compiler.Seal(), resolver)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func newRouter(c guard.Checker) http.Handler {
	r := chi.NewRouter()
	r.Route("/workspaces/{workspace}/expenses", func(r chi.Router) {
		r.Use(guard.New(c, guard.Options{
			Identity:  guard.HeaderIdentity("X-Identity"),
			Workspace: guard.ChiParam("workspace"),
			Resource:  guard.StaticResource("expense"),
			Action:    guard.MethodAction(guard.CRUDActions()),
		}))
		handler := func(w http.ResponseWriter, r *http.Request) {
			d, ok := authz.DecisionFromContext(r.Context())
			if !ok || !d.Allowed() {
				w.WriteHeader(http.StatusTeapot)
				return
			}
			_, _ = w.Write([]byte(d.MatchedBy))
		}
		r.Get("/", handler)
		r.Post("/", handler)
	})
	return r
}

func do(h http.Handler, method, path, identity string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if identity != "" {
		req.Header.Set("X-Identity", identity)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuardAllowAndDeny(t *testing.T) {
	grants := stores.NewMemoryGrantStore()
	_ = grants.AssignRole(context.Background(), "alice", "ws-1", "viewer")
	h := newRouter(newEngine(t, grants))

	rec := do(h, http.MethodGet, "/workspaces/ws-1/expenses/", "alice")
	if rec.Code != http.StatusOK || rec.Body.String() != "viewer" {
		t.Fatalf("expected 200 matched by viewer, got %d %q", rec.Code, rec.Body.String())
	}
	rec = do(h, http.MethodPost, "/workspaces/ws-1/expenses/", "alice")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for create, got %d", rec.Code)
	}
	rec = do(h, http.MethodGet, "/workspaces/ws-2/expenses/", "alice")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 in other workspace, got %d", rec.Code)
	}
	rec = do(h, http.MethodGet, "/workspaces/ws-1/expenses/", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without identity, got %d", rec.Code)
	}
}

func TestGuardIndeterminateIsServiceUnavailable(t *testing.T) {
	failing := authz.ResolverFunc(func(ctx context.Context, identityID, workspaceID string) ([]authz.RoleRef, error) {
		return nil, errors.New("store down")
	})
	h := newRouter(newEngine(t, failing))

	rec := do(h, http.MethodGet, "/workspaces/ws-1/expenses/", "alice")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestGuardMisconfigured(t *testing.T) {
	mw := guard.New(nil, guard.Options{})
	rec := httptest.NewRecorder()
	mw(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
