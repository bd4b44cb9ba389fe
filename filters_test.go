package accesskit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewAuditLogFilter(t *testing.T) {
	f := NewAuditLogFilter()
	assert.Equal(t, 100, f.Limit)
	assert.Equal(t, 0, f.Offset)
	assert.Empty(t, f.ActorID)
	assert.True(t, f.Since.IsZero())
}

func TestAuditLogFilter_Builders(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	base := NewAuditLogFilter()
	f := base.
		WithActor("admin").
		WithSubject(AuditSubjectResource).
		WithTarget("/orders/**").
		WithAction(AuditActionDeleted).
		WithRole("ROLE_USER").
		WithTimeRange(since, until).
		WithPagination(25, 50)

	assert.Equal(t, "admin", f.ActorID)
	assert.Equal(t, AuditSubjectResource, f.Subject)
	assert.Equal(t, "/orders/**", f.Target)
	assert.Equal(t, "deleted", f.Action)
	assert.Equal(t, "ROLE_USER", f.Role)
	assert.Equal(t, since, f.Since)
	assert.Equal(t, until, f.Until)
	assert.Equal(t, 25, f.Limit)
	assert.Equal(t, 50, f.Offset)

	// Builders work on copies.
	assert.Empty(t, base.ActorID)
	assert.Equal(t, 100, base.Limit)

	g := base.WithSince(since).WithUntil(until)
	assert.Equal(t, since, g.Since)
	assert.Equal(t, until, g.Until)
}
