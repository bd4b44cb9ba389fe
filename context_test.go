package accesskit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityContext(t *testing.T) {
	t.Run("Identity in context", func(t *testing.T) {
		id := NewIdentity("bob", "10.0.0.1", "ROLE_MANAGER")
		ctx := WithIdentity(context.Background(), id)

		got, ok := GetIdentity(ctx)
		assert.True(t, ok)
		assert.Equal(t, id, got)
		assert.Equal(t, id, MustGetIdentity(ctx))
	})

	t.Run("Identity not in context", func(t *testing.T) {
		_, ok := GetIdentity(context.Background())
		assert.False(t, ok)
		assert.Panics(t, func() { MustGetIdentity(context.Background()) })
	})

	t.Run("Wrong type in context", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), contextKeyIdentity, "bob")
		_, ok := GetIdentity(ctx)
		assert.False(t, ok)
	})
}

func TestVerdictContext(t *testing.T) {
	_, ok := GetVerdict(context.Background())
	assert.False(t, ok)

	v := Verdict{Outcome: OutcomeGrant, Pattern: "/mypage", DecidingVoter: RoleVoterName}
	got, ok := GetVerdict(WithVerdict(context.Background(), v))
	assert.True(t, ok)
	assert.Equal(t, v, got)
}

func TestGetActorID(t *testing.T) {
	t.Run("Explicit actor", func(t *testing.T) {
		ctx := WithIdentity(context.Background(), NewIdentity("bob", "", "ROLE_ADMIN"))
		ctx = WithActorID(ctx, "deploy-bot")
		assert.Equal(t, "deploy-bot", GetActorID(ctx))
	})

	t.Run("Falls back to identity", func(t *testing.T) {
		ctx := WithIdentity(context.Background(), NewIdentity("bob", "", "ROLE_ADMIN"))
		assert.Equal(t, "bob", GetActorID(ctx))
	})

	t.Run("Anonymous identity is not an actor", func(t *testing.T) {
		ctx := WithIdentity(context.Background(), Anonymous("10.0.0.1"))
		assert.Equal(t, "", GetActorID(ctx))
	})

	t.Run("Wrong type in context", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), contextKeyActorID, 42)
		assert.Equal(t, "", GetActorID(ctx))
	})
}

func TestGetIPAddress(t *testing.T) {
	assert.Equal(t, "", GetIPAddress(context.Background()))

	ctx := WithIdentity(context.Background(), NewIdentity("bob", "10.0.0.1"))
	assert.Equal(t, "10.0.0.1", GetIPAddress(ctx))

	ctx = WithIPAddress(ctx, "192.168.1.10")
	assert.Equal(t, "192.168.1.10", GetIPAddress(ctx))
}

func TestRequestMetadataContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", GetUserAgent(ctx))
	assert.Equal(t, "", GetRequestID(ctx))

	ctx = WithUserAgent(ctx, "Mozilla/5.0")
	ctx = WithRequestID(ctx, "req-123")
	assert.Equal(t, "Mozilla/5.0", GetUserAgent(ctx))
	assert.Equal(t, "req-123", GetRequestID(ctx))
}

func TestCheckerContext(t *testing.T) {
	assert.Nil(t, GetChecker(context.Background()))
	assert.Nil(t, FromContext(context.Background()))

	checker := NewChecker(NewIdentity("bob", ""), nil, nil)
	ctx := WithChecker(context.Background(), checker)
	assert.Same(t, checker, GetChecker(ctx))
	assert.Same(t, checker, FromContext(ctx))
}

func TestAuditContext(t *testing.T) {
	t.Run("Round trip", func(t *testing.T) {
		ac := AuditContext{
			ActorID:   "admin",
			IPAddress: "10.0.0.5",
			UserAgent: "curl/8.0",
			RequestID: "req-9",
		}
		assert.Equal(t, ac, GetAuditContext(WithAuditContext(context.Background(), ac)))
	})

	t.Run("Empty fields are not stored", func(t *testing.T) {
		ctx := WithIdentity(context.Background(), NewIdentity("bob", "10.0.0.1"))
		ctx = WithAuditContext(ctx, AuditContext{RequestID: "req-1"})

		got := GetAuditContext(ctx)
		assert.Equal(t, "bob", got.ActorID)
		assert.Equal(t, "10.0.0.1", got.IPAddress)
		assert.Equal(t, "", got.UserAgent)
		assert.Equal(t, "req-1", got.RequestID)
	})
}
