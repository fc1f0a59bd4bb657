package authz

import "fmt"

// Outcome is the verdict of a single check.
type Outcome uint8

const (
	// Deny means the identity may not perform the action.
	Deny Outcome = iota
	// Allow means at least one role or direct grant covers the action.
	Allow
	// Indeterminate means grants could not be resolved. Callers treat it
	// as deny but must not cache it.
	Indeterminate
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Indeterminate:
		return "indeterminate"
	default:
		return "deny"
	}
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "allow":
		return Allow, nil
	case "deny":
		return Deny, nil
	case "indeterminate":
		return Indeterminate, nil
	}
	return Deny, fmt.Errorf("unknown outcome %q", s)
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(text []byte) error {
	v, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Reason explains a Decision.
type Reason string

const (
	ReasonNoMatchingStatement Reason = "no matching statement"
	ReasonNoRoleGrants        Reason = "no role grants it"
	ReasonGrantedByRole       Reason = "granted by role"
	ReasonGrantedExplicitly   Reason = "granted explicitly"
	ReasonResolutionFailed    Reason = "resolution failed"
	// ReasonExplicitDeny is reserved for workspace policy layers built on
	// top of the engine; the base model never denies explicitly.
	ReasonExplicitDeny Reason = "explicit deny"
)

// Decision is the result of one authorization check.
type Decision struct {
	Outcome   Outcome  `json:"outcome"`
	Reason    Reason   `json:"reason"`
	MatchedBy string   `json:"matched_by,omitempty"` // role name for ReasonGrantedByRole
	Err       error    `json:"-"`
	Trace     []string `json:"trace,omitempty"`
}

// Allowed reports whether the outcome is Allow.
func (d Decision) Allowed() bool { return d.Outcome == Allow }

func (d Decision) String() string {
	if d.Reason == ReasonGrantedByRole && d.MatchedBy != "" {
		return fmt.Sprintf("%s: %s %s", d.Outcome, d.Reason, d.MatchedBy)
	}
	return fmt.Sprintf("%s: %s", d.Outcome, d.Reason)
}

func deny(reason Reason) Decision { return Decision{Outcome: Deny, Reason: reason} }

func indeterminate(err error) Decision {
	return Decision{Outcome: Indeterminate, Reason: ReasonResolutionFailed, Err: err}
}
