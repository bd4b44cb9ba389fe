package accesskit

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSentinelErrors tests that all sentinel errors are properly defined
func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"ErrInvalidPattern", ErrInvalidPattern, "accesskit: invalid pattern"},
		{"ErrInvalidRule", ErrInvalidRule, "accesskit: invalid rule"},
		{"ErrHierarchyCycle", ErrHierarchyCycle, "accesskit: role hierarchy cycle"},
		{"ErrInvalidHierarchy", ErrInvalidHierarchy, "accesskit: invalid role hierarchy"},
		{"ErrInvalidAddress", ErrInvalidAddress, "accesskit: invalid address"},
		{"ErrInvalidConfig", ErrInvalidConfig, "accesskit: invalid configuration"},
		{"ErrAccessDenied", ErrAccessDenied, "accesskit: access denied"},
		{"ErrUnauthenticated", ErrUnauthenticated, "accesskit: authentication required"},
		{"ErrRequestRejected", ErrRequestRejected, "accesskit: request rejected"},
		{"ErrSourceUnavailable", ErrSourceUnavailable, "accesskit: source unavailable"},
		{"ErrNotLoaded", ErrNotLoaded, "accesskit: snapshot not loaded"},
		{"ErrResourceNotFound", ErrResourceNotFound, "accesskit: resource not found"},
		{"ErrNoActorID", ErrNoActorID, "accesskit: no actor ID in context"},
		{"ErrDatabaseError", ErrDatabaseError, "accesskit: database error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.msg, tt.err.Error())
		})
	}
}

func TestError_Error(t *testing.T) {
	t.Run("With message", func(t *testing.T) {
		err := &Error{Err: ErrInvalidPattern, Message: `"admin" must start with '/'`}
		assert.Equal(t, `accesskit: invalid pattern: "admin" must start with '/'`, err.Error())
	})

	t.Run("Without message", func(t *testing.T) {
		err := &Error{Err: ErrInvalidPattern}
		assert.Equal(t, "accesskit: invalid pattern", err.Error())
	})
}

func TestError_IsAndUnwrap(t *testing.T) {
	err := NewError(ErrAccessDenied, "vetoed")
	assert.Equal(t, ErrAccessDenied, err.Unwrap())
	assert.True(t, errors.Is(err, ErrAccessDenied))
	assert.False(t, errors.Is(err, ErrUnauthenticated))

	wrapped := fmt.Errorf("invoke: %w", err)
	var target *Error
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, "vetoed", target.Message)
}

func TestError_Builders(t *testing.T) {
	err := NewError(ErrAccessDenied, "insufficient roles").
		WithPattern("/admin/**").
		WithRole("ROLE_ADMIN").
		WithPrincipal("carol").
		WithVoter(RoleVoterName)

	assert.Equal(t, "/admin/**", err.Pattern)
	assert.Equal(t, "ROLE_ADMIN", err.Role)
	assert.Equal(t, "carol", err.Principal)
	assert.Equal(t, RoleVoterName, err.Voter)
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		denied        bool
		unauthentic   bool
		configError   bool
		hierarchyLoop bool
	}{
		{"nil", nil, false, false, false, false},
		{"denied", NewError(ErrAccessDenied, "x"), true, false, false, false},
		{"unauthenticated", NewError(ErrUnauthenticated, "x"), false, true, false, false},
		{"pattern", NewError(ErrInvalidPattern, "x"), false, false, true, false},
		{"rule", ErrInvalidRule, false, false, true, false},
		{"cycle", fmt.Errorf("reload: %w", NewError(ErrHierarchyCycle, "A > B > A")), false, false, true, true},
		{"hierarchy", ErrInvalidHierarchy, false, false, true, false},
		{"address", ErrInvalidAddress, false, false, true, false},
		{"config", ErrInvalidConfig, false, false, true, false},
		{"source", ErrSourceUnavailable, false, false, false, false},
		{"other", errors.New("boom"), false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.denied, IsAccessDenied(tt.err))
			assert.Equal(t, tt.unauthentic, IsUnauthenticated(tt.err))
			assert.Equal(t, tt.configError, IsConfigError(tt.err))
			assert.Equal(t, tt.hierarchyLoop, IsHierarchyCycle(tt.err))
		})
	}
}
