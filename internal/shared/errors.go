package shared

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors so callers and the HTTP layer can map them
// without inspecting reason strings.
type Kind string

const (
	// KindValidation covers malformed names, oversized input, unsafe content.
	KindValidation Kind = "validation_error"
	// KindConflict covers duplicate names, cyclic parents, hierarchy depth.
	KindConflict Kind = "conflict_error"
	// KindDenied covers missing capabilities, escalation and system-entity
	// protection failures.
	KindDenied Kind = "permission_denied"
	// KindProtection covers self-lockout and sole-super-admin violations.
	// Never overridable, not even by force flags.
	KindProtection Kind = "protection_violation"
	// KindRateLimited is transient; the caller may retry after the window.
	KindRateLimited Kind = "rate_limited"
	// KindNotFound indicates the referenced role/permission/principal is gone.
	KindNotFound Kind = "not_found"
)

// Error is the structured failure surfaced by every engine operation.
// Predicate names the guardrail check that rejected the operation, when any.
type Error struct {
	Kind      Kind
	Predicate string
	Reason    string
	Details   map[string]any
}

func (e *Error) Error() string {
	if e.Predicate != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Predicate, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Is matches errors of the same kind, so errors.Is(err, shared.ErrNotFound)
// style checks work across packages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Kind sentinels for errors.Is checks.
var (
	ErrNotFound    = &Error{Kind: KindNotFound, Reason: "not found"}
	ErrConflict    = &Error{Kind: KindConflict, Reason: "conflict"}
	ErrValidation  = &Error{Kind: KindValidation, Reason: "validation failed"}
	ErrDenied      = &Error{Kind: KindDenied, Reason: "denied"}
	ErrProtection  = &Error{Kind: KindProtection, Reason: "protection violation"}
	ErrRateLimited = &Error{Kind: KindRateLimited, Reason: "rate limited"}
)

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Reason: fmt.Sprintf(format, args...)}
}

// Validationf builds a validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Reason: fmt.Sprintf(format, args...)}
}

// Conflictf builds a conflict error.
func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Reason: fmt.Sprintf(format, args...)}
}

// Denyf builds a permission-denied error attributed to a guardrail predicate.
func Denyf(predicate, format string, args ...any) *Error {
	return &Error{Kind: KindDenied, Predicate: predicate, Reason: fmt.Sprintf(format, args...)}
}

// Protectf builds a protection-violation error attributed to a predicate.
func Protectf(predicate, format string, args ...any) *Error {
	return &Error{Kind: KindProtection, Predicate: predicate, Reason: fmt.Sprintf(format, args...)}
}

// RateLimitedf builds a rate-limited error.
func RateLimitedf(format string, args ...any) *Error {
	return &Error{Kind: KindRateLimited, Predicate: "rate_limit", Reason: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from any error in the chain, defaulting to an
// empty kind for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// PredicateOf extracts the failing predicate name, if any.
func PredicateOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Predicate
	}
	return ""
}
