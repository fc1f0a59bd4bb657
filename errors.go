package authz

import (
	"errors"
	"fmt"
	"strings"
)

// Definition error kinds. They are fatal during bootstrap and never
// produced while serving requests.
var (
	ErrDuplicateResource    = errors.New("duplicate resource")
	ErrEmptyActionSet       = errors.New("empty action set")
	ErrRegistrySealed       = errors.New("registry sealed")
	ErrActionNotInStatement = errors.New("action not in statement")
	ErrDuplicateRole        = errors.New("duplicate role")
	ErrResourceNotFound     = errors.New("resource not found")
	ErrInvalidIdentifier    = errors.New("invalid identifier")
)

// ErrResolutionFailed marks a grant lookup that could not be completed.
// It is distinct from "no access": callers must treat it as indeterminate.
var ErrResolutionFailed = errors.New("grant resolution failed")

// DefinitionError carries the offending resource, action or role for a
// definition-time failure. errors.Is matches on Kind.
type DefinitionError struct {
	Kind     error
	Resource Resource
	Action   Action
	Role     string
}

func (e *DefinitionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Role != "" {
		fmt.Fprintf(&b, " role=%q", e.Role)
	}
	if e.Resource != "" {
		fmt.Fprintf(&b, " resource=%q", e.Resource)
	}
	if e.Action != "" {
		fmt.Fprintf(&b, " action=%q", e.Action)
	}
	return b.String()
}

func (e *DefinitionError) Unwrap() error { return e.Kind }

// IsDefinitionError reports whether err carries a *DefinitionError.
func IsDefinitionError(err error) (*DefinitionError, bool) {
	var de *DefinitionError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func definitionErr(kind error, role string, resource Resource, action Action) error {
	return &DefinitionError{Kind: kind, Role: role, Resource: resource, Action: action}
}

// ResolutionFailed wraps a store error so it matches ErrResolutionFailed.
// A nil err yields nil.
func ResolutionFailed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrResolutionFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrResolutionFailed, err)
}
