package authz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oarkflow/wsauthz/logger"
)

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine) error

// WithAuditStore records every decision asynchronously in store.
func WithAuditStore(store AuditStore) EngineOption {
	return func(e *Engine) error {
		e.auditStore = store
		return nil
	}
}

// WithAuditBuffer sets the capacity of the audit queue. Entries are dropped
// when the queue is full.
func WithAuditBuffer(n int) EngineOption {
	return func(e *Engine) error {
		if n <= 0 {
			return fmt.Errorf("audit buffer must be positive, got %d", n)
		}
		e.auditBuffer = n
		return nil
	}
}

// WithWorkspaceRoles enables custom per-workspace roles loaded from src.
func WithWorkspaceRoles(src WorkspaceRoleSource) EngineOption {
	return func(e *Engine) error {
		e.workspaceRoles = src
		return nil
	}
}

// WithBatchWorkers bounds the concurrency of BatchCheck.
func WithBatchWorkers(n int) EngineOption {
	return func(e *Engine) error {
		if n <= 0 {
			return fmt.Errorf("batch workers must be positive, got %d", n)
		}
		e.batchWorkerCount = n
		return nil
	}
}

// WithResolveTimeout bounds every grant lookup. Zero disables the bound.
func WithResolveTimeout(d time.Duration) EngineOption {
	return func(e *Engine) error {
		if d < 0 {
			return fmt.Errorf("resolve timeout must not be negative, got %s", d)
		}
		e.resolveTimeout = d
		return nil
	}
}

// Engine evaluates authorization checks against a sealed Statement and role
// table. The only shared state it reads is immutable, so Check is safe for
// concurrent use without locking.
type Engine struct {
	stmt           *Statement
	roles          *RoleTable
	resolver       GrantResolver
	workspaceRoles WorkspaceRoleSource

	logger      logger.Logger
	traceIDFunc logger.TraceIDFunc

	auditStore  AuditStore
	auditBuffer int
	auditCh     chan AuditEntry
	auditDone   chan struct{}
	closeOnce   sync.Once

	batchWorkerCount int
	resolveTimeout   time.Duration

	onClose []func()
}

func NewEngine(stmt *Statement, roles *RoleTable, resolver GrantResolver, opts ...EngineOption) (*Engine, error) {
	if stmt == nil {
		return nil, errors.New("statement is required")
	}
	if resolver == nil {
		return nil, errors.New("grant resolver is required")
	}
	e := &Engine{
		stmt:             stmt,
		roles:            roles,
		resolver:         resolver,
		logger:           logger.NewNullLogger(),
		traceIDFunc:      uuid.NewString,
		auditBuffer:      1024,
		batchWorkerCount: 8,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.auditStore != nil {
		e.auditCh = make(chan AuditEntry, e.auditBuffer)
		e.auditDone = make(chan struct{})
		go e.drainAudit()
	}
	return e, nil
}

// Statement returns the sealed vocabulary the engine evaluates against.
func (e *Engine) Statement() *Statement { return e.stmt }

// Roles returns the built-in role table.
func (e *Engine) Roles() *RoleTable { return e.roles }

// Resolver returns the grant resolver, which may be a *CachingResolver.
func (e *Engine) Resolver() GrantResolver { return e.resolver }

// Check decides whether identityID may perform action on resource inside
// workspaceID. It never returns Allow when grants could not be resolved.
func (e *Engine) Check(ctx context.Context, identityID, workspaceID string, resource Resource, action Action) Decision {
	return e.evaluate(ctx, identityID, workspaceID, resource, action, false)
}

// Explain is Check with a step-by-step trace attached to the decision.
func (e *Engine) Explain(ctx context.Context, identityID, workspaceID string, resource Resource, action Action) Decision {
	return e.evaluate(ctx, identityID, workspaceID, resource, action, true)
}

func (e *Engine) evaluate(ctx context.Context, identityID, workspaceID string, resource Resource, action Action, includeTrace bool) Decision {
	var trace []string
	step := func(format string, args ...any) {
		if includeTrace {
			trace = append(trace, fmt.Sprintf(format, args...))
		}
	}
	finish := func(d Decision) Decision {
		if includeTrace {
			d.Trace = trace
		}
		e.record(identityID, workspaceID, resource, action, d)
		return d
	}

	// 1. Statement lookup: unknown permissions fail closed.
	step("1. statement lookup %s", FormatPermission(resource, action))
	if !e.stmt.Has(resource, action) {
		step("   DENY: %s", ReasonNoMatchingStatement)
		return finish(deny(ReasonNoMatchingStatement))
	}
	if identityID == "" || workspaceID == "" {
		step("   DENY: missing identity or workspace")
		return finish(deny(ReasonNoRoleGrants))
	}

	// 2. Resolve grants for exactly this (identity, workspace) pair.
	step("2. resolving grants identity=%s workspace=%s", identityID, workspaceID)
	refs, err := e.resolve(ctx, identityID, workspaceID)
	if err != nil {
		step("   INDETERMINATE: %v", err)
		return finish(indeterminate(err))
	}
	step("   %d grant ref(s)", len(refs))

	// 3. Union across every role and direct grant.
	step("3. matching grants")
	var lookupErr error
	for _, ref := range refs {
		if ref.IsExplicit() {
			if explicitAllows(ref.Permissions, resource, action) {
				step("   explicit grant MATCH")
				return finish(Decision{Outcome: Allow, Reason: ReasonGrantedExplicitly})
			}
			step("   explicit grant: no")
			continue
		}
		role, err := e.roleFor(ctx, workspaceID, ref.Role)
		if err != nil {
			step("   role %s: lookup failed: %v", ref.Role, err)
			lookupErr = err
			continue
		}
		if role == nil {
			step("   role %s: unknown", ref.Role)
			continue
		}
		if role.Allows(resource, action) {
			step("   role %s MATCH", role.Name())
			return finish(Decision{Outcome: Allow, Reason: ReasonGrantedByRole, MatchedBy: role.Name()})
		}
		step("   role %s: no", role.Name())
	}
	if lookupErr != nil {
		step("   INDETERMINATE: %v", lookupErr)
		return finish(indeterminate(lookupErr))
	}

	// 4. Nothing matched.
	step("4. DENY: %s", ReasonNoRoleGrants)
	return finish(deny(ReasonNoRoleGrants))
}

func explicitAllows(p Permissions, resource Resource, action Action) bool {
	for _, a := range p[resource] {
		if a == action {
			return true
		}
	}
	return false
}

// resolve calls the GrantResolver and returns as soon as ctx is done, even
// when the resolver itself ignores cancellation.
func (e *Engine) resolve(ctx context.Context, identityID, workspaceID string) ([]RoleRef, error) {
	if e.resolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.resolveTimeout)
		defer cancel()
	}
	refs, err := callWithContext(ctx, func(ctx context.Context) ([]RoleRef, error) {
		return e.resolver.Resolve(ctx, identityID, workspaceID)
	})
	if err != nil {
		return nil, ResolutionFailed(err)
	}
	return refs, nil
}

// roleFor returns the built-in role called name or, when a workspace role
// source is configured, the validated custom role of workspaceID. Unknown or
// invalid roles yield (nil, nil).
func (e *Engine) roleFor(ctx context.Context, workspaceID, name string) (*Role, error) {
	if r, ok := e.roles.Get(name); ok {
		return r, nil
	}
	if e.workspaceRoles == nil {
		return nil, nil
	}
	res, err := callWithContext(ctx, func(ctx context.Context) (workspaceRoleResult, error) {
		p, ok, err := e.workspaceRoles.WorkspaceRole(ctx, workspaceID, name)
		return workspaceRoleResult{perms: p, ok: ok}, err
	})
	if err != nil {
		return nil, ResolutionFailed(err)
	}
	if !res.ok {
		return nil, nil
	}
	role, err := CompileWorkspaceRole(e.stmt, workspaceID, name, res.perms)
	if err != nil {
		e.logger.Error("invalid workspace role ignored", "workspace", workspaceID, "role", name, "error", err)
		return nil, nil
	}
	return role, nil
}

type workspaceRoleResult struct {
	perms Permissions
	ok    bool
}

func callWithContext[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if ctx.Done() == nil {
		// not cancellable: call inline
		return fn(ctx)
	}
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

func (e *Engine) record(identityID, workspaceID string, resource Resource, action Action, d Decision) {
	traceID := e.traceIDFunc()
	keyvals := []any{
		"trace_id", traceID,
		"identity", identityID,
		"workspace", workspaceID,
		"resource", string(resource),
		"action", string(action),
		"outcome", d.Outcome.String(),
		"reason", string(d.Reason),
	}
	if d.MatchedBy != "" {
		keyvals = append(keyvals, "matched_by", d.MatchedBy)
	}
	if d.Outcome == Indeterminate {
		keyvals = append(keyvals, "error", d.Err)
		e.logger.Warn("authz decision indeterminate", keyvals...)
	} else {
		e.logger.Debug("authz decision", keyvals...)
	}

	if e.auditCh == nil {
		return
	}
	entry := AuditEntry{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		TraceID:     traceID,
		IdentityID:  identityID,
		WorkspaceID: workspaceID,
		Resource:    resource,
		Action:      action,
		Outcome:     d.Outcome,
		Reason:      d.Reason,
		MatchedBy:   d.MatchedBy,
	}
	if d.Err != nil {
		entry.Error = d.Err.Error()
	}
	select {
	case e.auditCh <- entry:
	default:
		e.logger.Warn("audit queue full, entry dropped", "trace_id", traceID)
	}
}

func (e *Engine) drainAudit() {
	defer close(e.auditDone)
	bg := context.Background()
	for entry := range e.auditCh {
		if err := e.auditStore.LogDecision(bg, &entry); err != nil {
			e.logger.Error("audit write failed", "trace_id", entry.TraceID, "error", err)
		}
	}
}

// Close flushes queued audit entries and stops the audit worker. Check must
// not be called after Close.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.auditCh != nil {
			close(e.auditCh)
			<-e.auditDone
		}
		for _, fn := range e.onClose {
			fn()
		}
	})
	return nil
}

// ============================================================================
// BATCH AND INTROSPECTION
// ============================================================================

// CheckRequest is one entry of a BatchCheck call.
type CheckRequest struct {
	IdentityID  string   `json:"identity_id"`
	WorkspaceID string   `json:"workspace_id"`
	Resource    Resource `json:"resource"`
	Action      Action   `json:"action"`
}

// BatchCheck evaluates requests concurrently and returns decisions in
// request order. It fails if any request is incomplete or ctx is cancelled.
func (e *Engine) BatchCheck(ctx context.Context, requests []CheckRequest) ([]Decision, error) {
	for i, req := range requests {
		if req.IdentityID == "" || req.WorkspaceID == "" || req.Resource == "" || req.Action == "" {
			return nil, fmt.Errorf("request %d: identity, workspace, resource and action are required", i)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	decisions := make([]Decision, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.batchWorkerCount)
	for i, req := range requests {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			decisions[i] = e.Check(gctx, req.IdentityID, req.WorkspaceID, req.Resource, req.Action)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return decisions, nil
}

// EffectiveActions lists every action identityID holds on resource inside
// workspaceID, in sorted order. Resolution failures are returned as errors
// rather than an empty list.
func (e *Engine) EffectiveActions(ctx context.Context, identityID, workspaceID string, resource Resource) ([]Action, error) {
	declared, err := e.stmt.ActionsFor(resource)
	if err != nil {
		return nil, err
	}
	if identityID == "" || workspaceID == "" {
		return []Action{}, nil
	}
	refs, err := e.resolve(ctx, identityID, workspaceID)
	if err != nil {
		return nil, err
	}
	roles := make([]*Role, 0, len(refs))
	explicit := make([]Permissions, 0, 1)
	for _, ref := range refs {
		if ref.IsExplicit() {
			explicit = append(explicit, ref.Permissions)
			continue
		}
		role, err := e.roleFor(ctx, workspaceID, ref.Role)
		if err != nil {
			return nil, err
		}
		if role != nil {
			roles = append(roles, role)
		}
	}
	out := make([]Action, 0, len(declared))
	for _, a := range declared {
		if holds(roles, explicit, resource, a) {
			out = append(out, a)
		}
	}
	return out, nil
}

func holds(roles []*Role, explicit []Permissions, resource Resource, action Action) bool {
	for _, r := range roles {
		if r.Allows(resource, action) {
			return true
		}
	}
	for _, p := range explicit {
		if explicitAllows(p, resource, action) {
			return true
		}
	}
	return false
}

// DefineWorkspaceRole validates a custom role for workspaceID against the
// statement and persists it through w. Built-in role names cannot be
// shadowed.
func (e *Engine) DefineWorkspaceRole(ctx context.Context, w WorkspaceRoleWriter, workspaceID, name string, subset Permissions) (*Role, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace id is required")
	}
	if _, ok := e.roles.Get(name); ok {
		return nil, definitionErr(ErrDuplicateRole, name, "", "")
	}
	role, err := CompileWorkspaceRole(e.stmt, workspaceID, name, subset)
	if err != nil {
		return nil, err
	}
	if err := w.SaveWorkspaceRole(ctx, workspaceID, name, role.Permissions()); err != nil {
		return nil, fmt.Errorf("save workspace role %s: %w", name, err)
	}
	e.logger.Info("workspace role defined", "workspace", workspaceID, "role", name, "pairs", role.Size())
	return role, nil
}
