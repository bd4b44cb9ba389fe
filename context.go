package accesskit

import (
	"context"
)

// Context keys for AccessKit values.
type contextKey string

const (
	contextKeyIdentity  contextKey = "accesskit:identity"
	contextKeyVerdict   contextKey = "accesskit:verdict"
	contextKeyActorID   contextKey = "accesskit:actor_id"
	contextKeyIPAddress contextKey = "accesskit:ip_address"
	contextKeyUserAgent contextKey = "accesskit:user_agent"
	contextKeyRequestID contextKey = "accesskit:request_id"
	contextKeyChecker   contextKey = "accesskit:checker"
)

// WithIdentity adds the caller's identity to the context.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// GetIdentity retrieves the identity from context.
// Returns false if not set.
func GetIdentity(ctx context.Context) (Identity, bool) {
	if v := ctx.Value(contextKeyIdentity); v != nil {
		if id, ok := v.(Identity); ok {
			return id, true
		}
	}
	return Identity{}, false
}

// MustGetIdentity retrieves the identity from context.
// Panics if not set.
func MustGetIdentity(ctx context.Context) Identity {
	id, ok := GetIdentity(ctx)
	if !ok {
		panic("accesskit: identity not in context")
	}
	return id
}

// WithVerdict stores the verdict that let a request or invocation proceed.
func WithVerdict(ctx context.Context, v Verdict) context.Context {
	return context.WithValue(ctx, contextKeyVerdict, v)
}

// GetVerdict retrieves the verdict from context.
func GetVerdict(ctx context.Context) (Verdict, bool) {
	if v := ctx.Value(contextKeyVerdict); v != nil {
		if verdict, ok := v.(Verdict); ok {
			return verdict, true
		}
	}
	return Verdict{}, false
}

// WithActorID adds an actor ID to the context.
// This is the principal performing an administrative change (for audit purposes).
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, contextKeyActorID, actorID)
}

// GetActorID retrieves the actor ID from context.
// Falls back to the identity's principal if no actor is set explicitly.
func GetActorID(ctx context.Context) string {
	if v := ctx.Value(contextKeyActorID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	if id, ok := GetIdentity(ctx); ok && !id.IsAnonymous() {
		return id.PrincipalID
	}
	return ""
}

// WithIPAddress adds the client IP address to the context (for audit).
func WithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKeyIPAddress, ip)
}

// GetIPAddress retrieves the IP address from context.
func GetIPAddress(ctx context.Context) string {
	if v := ctx.Value(contextKeyIPAddress); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	if id, ok := GetIdentity(ctx); ok {
		return id.RemoteAddress
	}
	return ""
}

// WithUserAgent adds the user agent to the context (for audit).
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, contextKeyUserAgent, ua)
}

// GetUserAgent retrieves the user agent from context.
func GetUserAgent(ctx context.Context) string {
	if v := ctx.Value(contextKeyUserAgent); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context (for audit and correlation).
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(contextKeyRequestID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithChecker adds a Checker to the context.
// This is set by middleware and can be retrieved in handlers.
func WithChecker(ctx context.Context, checker *Checker) context.Context {
	return context.WithValue(ctx, contextKeyChecker, checker)
}

// GetChecker retrieves the Checker from context.
// Returns nil if not set.
func GetChecker(ctx context.Context) *Checker {
	if v := ctx.Value(contextKeyChecker); v != nil {
		if c, ok := v.(*Checker); ok {
			return c
		}
	}
	return nil
}

// FromContext is an alias for GetChecker.
func FromContext(ctx context.Context) *Checker {
	return GetChecker(ctx)
}

// AuditContext holds all audit-related information from context.
type AuditContext struct {
	ActorID   string
	IPAddress string
	UserAgent string
	RequestID string
}

// GetAuditContext extracts all audit information from context.
func GetAuditContext(ctx context.Context) AuditContext {
	return AuditContext{
		ActorID:   GetActorID(ctx),
		IPAddress: GetIPAddress(ctx),
		UserAgent: GetUserAgent(ctx),
		RequestID: GetRequestID(ctx),
	}
}

// WithAuditContext adds all audit information to context at once.
func WithAuditContext(ctx context.Context, ac AuditContext) context.Context {
	if ac.ActorID != "" {
		ctx = WithActorID(ctx, ac.ActorID)
	}
	if ac.IPAddress != "" {
		ctx = WithIPAddress(ctx, ac.IPAddress)
	}
	if ac.UserAgent != "" {
		ctx = WithUserAgent(ctx, ac.UserAgent)
	}
	if ac.RequestID != "" {
		ctx = WithRequestID(ctx, ac.RequestID)
	}
	return ctx
}
