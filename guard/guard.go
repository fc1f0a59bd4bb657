// Package guard enforces authorization decisions on HTTP handlers.
package guard

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oarkflow/wsauthz"
)

// Checker is the subset of *authz.Engine the middleware needs.
type Checker interface {
	Check(ctx context.Context, identityID, workspaceID string, resource authz.Resource, action authz.Action) authz.Decision
}

// Options configures the middleware. Extractor functions are supplied by the
// application; Identity, Workspace, Resource and Action are required.
type Options struct {
	Identity  func(r *http.Request) string
	Workspace func(r *http.Request) string
	Resource  func(r *http.Request) authz.Resource
	Action    func(r *http.Request) authz.Action

	OnDenied        func(w http.ResponseWriter, r *http.Request, d authz.Decision)
	OnIndeterminate func(w http.ResponseWriter, r *http.Request, d authz.Decision)
	OnError         func(w http.ResponseWriter, r *http.Request, err error)

	// RetryAfter is sent with indeterminate responses. Defaults to 1s.
	RetryAfter time.Duration
}

var errMisconfigured = errors.New("guard misconfigured: Identity, Workspace, Resource and Action extractors are required")

// New returns middleware that checks every request against c. Allowed
// requests reach next with the decision attached to their context.
func New(c Checker, opts Options) func(next http.Handler) http.Handler {
	if opts.OnDenied == nil {
		opts.OnDenied = defaultDenied
	}
	if opts.OnIndeterminate == nil {
		opts.OnIndeterminate = defaultIndeterminate(opts.RetryAfter)
	}
	if opts.OnError == nil {
		opts.OnError = defaultError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c == nil || opts.Identity == nil || opts.Workspace == nil || opts.Resource == nil || opts.Action == nil {
				opts.OnError(w, r, errMisconfigured)
				return
			}
			d := c.Check(r.Context(), opts.Identity(r), opts.Workspace(r), opts.Resource(r), opts.Action(r))
			r = r.WithContext(authz.ContextWithDecision(r.Context(), d))
			switch d.Outcome {
			case authz.Allow:
				next.ServeHTTP(w, r)
			case authz.Indeterminate:
				opts.OnIndeterminate(w, r, d)
			default:
				opts.OnDenied(w, r, d)
			}
		})
	}
}

func defaultDenied(w http.ResponseWriter, r *http.Request, d authz.Decision) {
	http.Error(w, "forbidden", http.StatusForbidden)
}

func defaultIndeterminate(retryAfter time.Duration) func(http.ResponseWriter, *http.Request, authz.Decision) {
	secs := int(retryAfter / time.Second)
	if secs < 1 {
		secs = 1
	}
	value := strconv.Itoa(secs)
	return func(w http.ResponseWriter, r *http.Request, d authz.Decision) {
		w.Header().Set("Retry-After", value)
		http.Error(w, "authorization unavailable", http.StatusServiceUnavailable)
	}
}

func defaultError(w http.ResponseWriter, r *http.Request, err error) {
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// ChiParam extracts a chi URL parameter, e.g. the workspace id of
// /workspaces/{workspace}/expenses.
func ChiParam(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return chi.URLParam(r, name)
	}
}

// HeaderIdentity reads the identity from a request header set by an
// upstream authenticator.
func HeaderIdentity(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(header)
	}
}

// StaticResource always returns resource.
func StaticResource(resource authz.Resource) func(*http.Request) authz.Resource {
	return func(*http.Request) authz.Resource { return resource }
}

// MethodAction maps the HTTP method to an action. Unmapped methods yield an
// empty action, which the engine denies.
func MethodAction(actions map[string]authz.Action) func(*http.Request) authz.Action {
	return func(r *http.Request) authz.Action {
		return actions[r.Method]
	}
}

// CRUDActions is a common method to action mapping.
func CRUDActions() map[string]authz.Action {
	return map[string]authz.Action{
		http.MethodGet:    "read",
		http.MethodHead:   "read",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}
}
