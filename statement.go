package authz

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Resource names a protected capability domain such as "expense" or "wallet".
type Resource string

// Action names an operation on a resource. Actions are scoped to the
// resource they are declared under.
type Action string

// Permissions maps resources to action sets. It is the shape of a role
// definition and of an explicit grant.
type Permissions map[Resource][]Action

// Len returns the number of (resource, action) pairs.
func (p Permissions) Len() int {
	n := 0
	for _, actions := range p {
		n += len(actions)
	}
	return n
}

// Registry collects resource declarations during process initialization.
// Once sealed it rejects every further definition.
type Registry struct {
	mu        sync.Mutex
	resources map[Resource]map[Action]struct{}
	sealed    *Statement
}

func NewRegistry() *Registry {
	return &Registry{resources: make(map[Resource]map[Action]struct{})}
}

// Define declares resource with its valid actions.
func (r *Registry) Define(resource Resource, actions ...Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed != nil {
		return definitionErr(ErrRegistrySealed, "", resource, "")
	}
	if !validIdentifier(string(resource)) {
		return definitionErr(ErrInvalidIdentifier, "", resource, "")
	}
	if _, exists := r.resources[resource]; exists {
		return definitionErr(ErrDuplicateResource, "", resource, "")
	}
	if len(actions) == 0 {
		return definitionErr(ErrEmptyActionSet, "", resource, "")
	}
	set := make(map[Action]struct{}, len(actions))
	for _, a := range actions {
		if !validIdentifier(string(a)) {
			return definitionErr(ErrInvalidIdentifier, "", resource, a)
		}
		set[a] = struct{}{}
	}
	r.resources[resource] = set
	return nil
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed != nil
}

// Seal freezes the registry and returns the resulting Statement. Calling
// Seal again returns the same Statement.
func (r *Registry) Seal() *Statement {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed != nil {
		return r.sealed
	}
	st := &Statement{
		actions: make(map[Resource]map[Action]struct{}, len(r.resources)),
		sorted:  make(map[Resource][]Action, len(r.resources)),
	}
	for res, set := range r.resources {
		st.actions[res] = set
		list := make([]Action, 0, len(set))
		for a := range set {
			list = append(list, a)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		st.sorted[res] = list
		st.resources = append(st.resources, res)
		st.pairs += len(list)
	}
	sort.Slice(st.resources, func(i, j int) bool { return st.resources[i] < st.resources[j] })
	r.sealed = st
	return st
}

// Statement is the sealed permission vocabulary. It is never mutated, so
// it is safe for concurrent use without synchronization.
type Statement struct {
	actions   map[Resource]map[Action]struct{}
	sorted    map[Resource][]Action
	resources []Resource
	pairs     int
}

// Has reports whether action is declared under resource.
func (s *Statement) Has(resource Resource, action Action) bool {
	set, ok := s.actions[resource]
	if !ok {
		return false
	}
	_, ok = set[action]
	return ok
}

// ActionsFor returns the sorted actions declared for resource.
func (s *Statement) ActionsFor(resource Resource) ([]Action, error) {
	list, ok := s.sorted[resource]
	if !ok {
		return nil, definitionErr(ErrResourceNotFound, "", resource, "")
	}
	return append([]Action(nil), list...), nil
}

// Resources returns the declared resources in sorted order.
func (s *Statement) Resources() []Resource {
	return append([]Resource(nil), s.resources...)
}

// Len returns the number of declared (resource, action) pairs.
func (s *Statement) Len() int { return s.pairs }

// All returns a copy of the full vocabulary.
func (s *Statement) All() Permissions {
	out := make(Permissions, len(s.sorted))
	for res, list := range s.sorted {
		out[res] = append([]Action(nil), list...)
	}
	return out
}

// Validate checks every pair of p against the statement. Pairs are visited
// in sorted order so the reported error is deterministic.
func (s *Statement) Validate(p Permissions) error {
	for _, res := range sortedResources(p) {
		actions := p[res]
		if _, ok := s.actions[res]; !ok {
			if len(actions) == 0 {
				return definitionErr(ErrResourceNotFound, "", res, "")
			}
			return definitionErr(ErrActionNotInStatement, "", res, minAction(actions))
		}
		for _, a := range sortedActions(actions) {
			if !s.Has(res, a) {
				return definitionErr(ErrActionNotInStatement, "", res, a)
			}
		}
	}
	return nil
}

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, " \t\r\n:*,")
}

func sortedResources(p Permissions) []Resource {
	out := make([]Resource, 0, len(p))
	for res := range p {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedActions(actions []Action) []Action {
	out := append([]Action(nil), actions...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func minAction(actions []Action) Action {
	m := actions[0]
	for _, a := range actions[1:] {
		if a < m {
			m = a
		}
	}
	return m
}

// ParsePermission splits "resource:action" into its parts.
func ParsePermission(s string) (Resource, Action, error) {
	idx := strings.IndexByte(s, ':')
	if idx <= 0 || idx == len(s)-1 {
		return "", "", fmt.Errorf("invalid permission %q: want resource:action", s)
	}
	return Resource(s[:idx]), Action(s[idx+1:]), nil
}

// FormatPermission is the inverse of ParsePermission.
func FormatPermission(resource Resource, action Action) string {
	return string(resource) + ":" + string(action)
}
