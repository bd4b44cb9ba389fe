package accesskit

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IdentityExtractor builds the caller's identity from a request.
// remoteAddr is the client address already resolved by the middleware.
// An error means the presented credentials are invalid; a request without
// credentials should yield an anonymous identity instead.
type IdentityExtractor func(r *http.Request, remoteAddr string) (Identity, error)

// Middleware protects HTTP handlers with access decisions.
type Middleware struct {
	decider           Decider
	expander          RoleExpander
	extract           IdentityExtractor
	deniedHandler     func(http.ResponseWriter, *http.Request, Verdict)
	entryPoint        func(http.ResponseWriter, *http.Request, Verdict)
	errorHandler      func(http.ResponseWriter, *http.Request, error)
	trustForwardedFor bool
	logger            *zap.Logger
}

// MiddlewareOption configures the Middleware.
type MiddlewareOption func(*Middleware)

// NewMiddleware creates a new Middleware instance.
//
// Example:
//
//	mw := accesskit.NewMiddleware(authz,
//	    accesskit.WithIdentityExtractor(accesskit.BearerTokenExtractor(secret)),
//	    accesskit.WithRoleExpander(authz.Hierarchy()),
//	)
//	router.Use(mw.Handler)
func NewMiddleware(decider Decider, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		decider:       decider,
		extract:       ContextIdentityExtractor,
		deniedHandler: defaultDeniedHandler,
		entryPoint:    defaultEntryPoint,
		errorHandler:  defaultErrorHandler,
		logger:        zap.NewNop(),
	}
	if a, ok := decider.(*Authorizer); ok {
		m.expander = a.expander
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// WithIdentityExtractor sets how the caller's identity is read from a request.
func WithIdentityExtractor(fn IdentityExtractor) MiddlewareOption {
	return func(m *Middleware) {
		m.extract = fn
	}
}

// WithRoleExpander sets the expander used by the Checker placed in context.
func WithRoleExpander(e RoleExpander) MiddlewareOption {
	return func(m *Middleware) {
		m.expander = e
	}
}

// WithDeniedHandler sets the response for authenticated callers that are denied.
func WithDeniedHandler(fn func(http.ResponseWriter, *http.Request, Verdict)) MiddlewareOption {
	return func(m *Middleware) {
		m.deniedHandler = fn
	}
}

// WithAuthenticationEntryPoint sets the response for anonymous callers that
// must authenticate.
func WithAuthenticationEntryPoint(fn func(http.ResponseWriter, *http.Request, Verdict)) MiddlewareOption {
	return func(m *Middleware) {
		m.entryPoint = fn
	}
}

// WithErrorHandler sets the response for requests whose credentials cannot be read.
func WithErrorHandler(fn func(http.ResponseWriter, *http.Request, error)) MiddlewareOption {
	return func(m *Middleware) {
		m.errorHandler = fn
	}
}

// WithTrustForwardedFor takes the client address from the first
// X-Forwarded-For entry. Enable only behind a proxy that sets it.
func WithTrustForwardedFor(trust bool) MiddlewareOption {
	return func(m *Middleware) {
		m.trustForwardedFor = trust
	}
}

// WithMiddlewareLogger sets the logger.
func WithMiddlewareLogger(l *zap.Logger) MiddlewareOption {
	return func(m *Middleware) {
		if l != nil {
			m.logger = l
		}
	}
}

// ContextIdentityExtractor uses an identity already placed in the request
// context by earlier middleware, or an anonymous identity.
func ContextIdentityExtractor(r *http.Request, remoteAddr string) (Identity, error) {
	if id, ok := GetIdentity(r.Context()); ok {
		if id.RemoteAddress == "" {
			id.RemoteAddress = remoteAddr
		}
		return id, nil
	}
	return Anonymous(remoteAddr), nil
}

func defaultDeniedHandler(w http.ResponseWriter, r *http.Request, v Verdict) {
	http.Error(w, "Forbidden", http.StatusForbidden)
}

func defaultEntryPoint(w http.ResponseWriter, r *http.Request, v Verdict) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="accesskit"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

func defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if IsRequestRejected(err) {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if IsUnauthenticated(err) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="accesskit", error="invalid_token"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

// Handler decides every request by method and path before it reaches next.
// Paths with duplicate slashes or dot segments are rejected before any
// decision; a trailing slash is decided as the path without it. Granted
// requests carry the identity, verdict, a Checker and the audit
// context in their context.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := m.RemoteAddress(r)
		if _, ok := CleanURLPath(r.URL.Path); !ok {
			m.logger.Debug("non-canonical request path rejected",
				zap.String("path", r.URL.Path),
				zap.String("remote_address", addr))
			m.errorHandler(w, r, NewError(ErrRequestRejected, "non-canonical path").WithPattern(r.URL.Path))
			return
		}

		identity, err := m.extract(r, addr)
		if err != nil {
			m.logger.Debug("identity extraction failed",
				zap.String("remote_address", addr),
				zap.Error(err))
			m.errorHandler(w, r, NewError(ErrUnauthenticated, err.Error()))
			return
		}

		v := m.decider.Decide(identity, URLKey(r.Method, r.URL.Path))
		if !v.Granted() {
			if v.AuthenticationRequired {
				m.entryPoint(w, r, v)
				return
			}
			m.deniedHandler(w, r, v)
			return
		}

		ctx := WithIdentity(r.Context(), identity)
		ctx = WithVerdict(ctx, v)
		ctx = WithChecker(ctx, NewChecker(identity, m.decider, m.expander))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// InjectAuditContext extracts audit information from the request and adds
// it to the context for administrative changes. A request ID is generated
// when the caller sends none and echoed in the X-Request-ID header.
//
// Example:
//
//	router.Use(mw.InjectAuditContext)
func (m *Middleware) InjectAuditContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ctx = WithIPAddress(ctx, m.RemoteAddress(r))
		ctx = WithUserAgent(ctx, r.UserAgent())

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = WithRequestID(ctx, requestID)
		w.Header().Set("X-Request-ID", requestID)

		if id, ok := GetIdentity(ctx); ok && !id.IsAnonymous() {
			ctx = WithActorID(ctx, id.PrincipalID)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RemoteAddress returns the client IP of r without the port.
func (m *Middleware) RemoteAddress(r *http.Request) string {
	if m.trustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
