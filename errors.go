package accesskit

import (
	"errors"
	"fmt"
)

// Sentinel errors for AccessKit operations.
var (
	// ErrInvalidPattern is returned when a resource pattern cannot be compiled.
	ErrInvalidPattern = errors.New("accesskit: invalid pattern")

	// ErrInvalidRule is returned when a resource rule is malformed (no pattern, unknown type).
	ErrInvalidRule = errors.New("accesskit: invalid rule")

	// ErrHierarchyCycle is returned when role hierarchy edges form a cycle.
	ErrHierarchyCycle = errors.New("accesskit: role hierarchy cycle")

	// ErrInvalidHierarchy is returned when a hierarchy line cannot be parsed.
	ErrInvalidHierarchy = errors.New("accesskit: invalid role hierarchy")

	// ErrInvalidAddress is returned when an allow-list entry is neither an IP nor a CIDR prefix.
	ErrInvalidAddress = errors.New("accesskit: invalid address")

	// ErrInvalidConfig is returned when the engine or authorizer configuration is inconsistent.
	ErrInvalidConfig = errors.New("accesskit: invalid configuration")

	// ErrAccessDenied is returned by enforcement points when a verdict is DENY.
	ErrAccessDenied = errors.New("accesskit: access denied")

	// ErrUnauthenticated is returned when a protected resource is requested without an identity.
	ErrUnauthenticated = errors.New("accesskit: authentication required")

	// ErrRequestRejected indicates a request path that is not in canonical form.
	ErrRequestRejected = errors.New("accesskit: request rejected")

	// ErrSourceUnavailable is returned when a rule source cannot be read.
	ErrSourceUnavailable = errors.New("accesskit: source unavailable")

	// ErrNotLoaded is returned when a store is queried before its first successful load.
	ErrNotLoaded = errors.New("accesskit: snapshot not loaded")

	// ErrResourceNotFound is returned when a stored resource does not exist.
	ErrResourceNotFound = errors.New("accesskit: resource not found")

	// ErrNoActorID is returned when actor ID is not found in context for audit.
	ErrNoActorID = errors.New("accesskit: no actor ID in context")

	// ErrDatabaseError is returned when a database operation fails.
	ErrDatabaseError = errors.New("accesskit: database error")
)

// Error wraps a sentinel error with additional context.
type Error struct {
	Err       error  // Underlying sentinel error
	Message   string // Additional context
	Pattern   string // Resource pattern involved (if applicable)
	Role      string // Role involved (if applicable)
	Principal string // Principal involved (if applicable)
	Voter     string // Voter that produced the outcome (if applicable)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the error matches a target error.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new Error with context.
func NewError(err error, message string) *Error {
	return &Error{
		Err:     err,
		Message: message,
	}
}

// WithPattern adds resource pattern information to the error.
func (e *Error) WithPattern(pattern string) *Error {
	e.Pattern = pattern
	return e
}

// WithRole adds role information to the error.
func (e *Error) WithRole(role string) *Error {
	e.Role = role
	return e
}

// WithPrincipal adds principal information to the error.
func (e *Error) WithPrincipal(principal string) *Error {
	e.Principal = principal
	return e
}

// WithVoter adds voter information to the error.
func (e *Error) WithVoter(voter string) *Error {
	e.Voter = voter
	return e
}

// IsAccessDenied checks if an error is an authorization denial.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsUnauthenticated checks if an error is due to a missing identity.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// IsRequestRejected checks if a request was refused before any decision.
func IsRequestRejected(err error) bool {
	return errors.Is(err, ErrRequestRejected)
}

// IsConfigError checks if an error is a fatal configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidPattern) ||
		errors.Is(err, ErrInvalidRule) ||
		errors.Is(err, ErrHierarchyCycle) ||
		errors.Is(err, ErrInvalidHierarchy) ||
		errors.Is(err, ErrInvalidAddress) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsHierarchyCycle checks if an error is due to a role hierarchy cycle.
func IsHierarchyCycle(err error) bool {
	return errors.Is(err, ErrHierarchyCycle)
}
