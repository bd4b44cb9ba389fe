package accesskit

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// AdminHandlers serves the read-only admin API, reload and decision probes.
type AdminHandlers struct {
	authz    *Authorizer
	health   HealthMonitor
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// AdminOption configures AdminHandlers.
type AdminOption func(*AdminHandlers)

// WithHealthMonitor adds database health to GET /health.
func WithHealthMonitor(h HealthMonitor) AdminOption {
	return func(a *AdminHandlers) {
		a.health = h
	}
}

// WithGatherer mounts GET /metrics for g.
func WithGatherer(g prometheus.Gatherer) AdminOption {
	return func(a *AdminHandlers) {
		a.gatherer = g
	}
}

// WithAdminLogger sets the logger.
func WithAdminLogger(l *zap.Logger) AdminOption {
	return func(a *AdminHandlers) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAdminHandlers creates the admin API over authz.
func NewAdminHandlers(authz *Authorizer, opts ...AdminOption) *AdminHandlers {
	a := &AdminHandlers{authz: authz, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Router returns the admin routes.
//
//	GET  /rules      ordered rule table
//	GET  /hierarchy  edges and reachable roles
//	GET  /allowlist  allowed addresses
//	POST /reload     reload every snapshot
//	POST /decide     decide one request
//	GET  /health     snapshot and database status
//	GET  /metrics    prometheus metrics, when a gatherer is set
func (a *AdminHandlers) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/rules", a.ListRules)
	r.Get("/hierarchy", a.GetHierarchy)
	r.Get("/allowlist", a.GetAllowList)
	r.Post("/reload", a.Reload)
	r.Post("/decide", a.Decide)
	r.Get("/health", a.Health)
	if a.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// ServeRouter puts every route behind mw: the admin API under /admin and,
// on any other GET, the verdict of the request as JSON. Admin routes are
// decided like any other URL, so the rule table must protect /admin/**.
func ServeRouter(mw *Middleware, admin *AdminHandlers) chi.Router {
	router := chi.NewRouter()
	router.Group(func(r chi.Router) {
		r.Use(mw.Handler, mw.InjectAuditContext)
		r.Mount("/admin", admin.Router())
		r.Get("/*", admin.EchoVerdict)
	})
	return router
}

// EchoVerdict writes the verdict the middleware placed in the request context.
func (a *AdminHandlers) EchoVerdict(w http.ResponseWriter, r *http.Request) {
	v, _ := GetVerdict(r.Context())
	a.writeJSON(w, http.StatusOK, v)
}

// ListRules returns the live rule table.
// GET /rules
func (a *AdminHandlers) ListRules(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"version": uint64(0), "rules": []ResourceRule{}, "roles": []string{}}
	if t := a.authz.Rules().Snapshot(); t != nil {
		resp["version"] = t.Version()
		resp["rules"] = t.Rules()
		resp["roles"] = t.Roles()
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// GetHierarchy returns the live hierarchy edges and each role's reachable set.
// GET /hierarchy
func (a *AdminHandlers) GetHierarchy(w http.ResponseWriter, r *http.Request) {
	h := a.authz.Hierarchy().Snapshot()
	if h == nil {
		h = EmptyHierarchy()
	}
	edges := h.Edges()
	lines := make([]string, 0, len(edges))
	reachable := make(map[string][]string)
	for _, e := range edges {
		lines = append(lines, e.String())
		if _, ok := reachable[e.Parent]; !ok {
			reachable[e.Parent] = h.Reachable(e.Parent)
		}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"version":   h.Version(),
		"edges":     lines,
		"reachable": reachable,
	})
}

// GetAllowList returns the live allow-list.
// GET /allowlist
func (a *AdminHandlers) GetAllowList(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"version": uint64(0), "entries": []string{}}
	if al := a.authz.AllowList().Snapshot(); al != nil {
		resp["version"] = al.Version()
		resp["entries"] = al.Entries()
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// Reload reloads every snapshot. On failure the previous snapshots keep
// serving and 503 is returned.
// POST /reload
func (a *AdminHandlers) Reload(w http.ResponseWriter, r *http.Request) {
	if err := a.authz.Reload(r.Context()); err != nil {
		a.logger.Warn("admin reload failed", zap.Error(err))
		a.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":  err.Error(),
			"status": a.authz.Status(),
		})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"status": a.authz.Status()})
}

// DecideRequest is the body of POST /decide. Set Path for a URL decision or
// Signature for a method invocation.
type DecideRequest struct {
	Principal     string   `json:"principal"`
	Roles         []string `json:"roles"`
	RemoteAddress string   `json:"remote_address"`
	Method        string   `json:"method"`
	Path          string   `json:"path"`
	Signature     string   `json:"signature"`
}

// Identity returns the identity described by the request.
func (d DecideRequest) Identity() Identity {
	if d.Principal == "" {
		return Anonymous(d.RemoteAddress)
	}
	return NewIdentity(d.Principal, d.RemoteAddress, d.Roles...)
}

// Key returns the resource described by the request.
func (d DecideRequest) Key() (ResourceKey, bool) {
	switch {
	case d.Signature != "":
		return MethodKey(d.Signature), true
	case strings.HasPrefix(d.Path, "/"):
		return URLKey(d.Method, d.Path), true
	default:
		return ResourceKey{}, false
	}
}

// Decide evaluates one request without performing it.
// POST /decide
func (a *AdminHandlers) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	key, ok := req.Key()
	if !ok {
		http.Error(w, "path starting with / or signature required", http.StatusBadRequest)
		return
	}

	v := a.authz.Decide(req.Identity(), key)
	a.writeJSON(w, http.StatusOK, map[string]any{
		"resource": key.String(),
		"verdict":  v,
	})
}

// Health reports snapshot versions and, when configured, database health.
// GET /health
func (a *AdminHandlers) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	resp := map[string]any{"snapshots": a.authz.Status()}
	if !a.authz.Rules().Loaded() {
		status = http.StatusServiceUnavailable
	}
	if a.health != nil {
		db := a.health.Health(r.Context())
		resp["database"] = db
		if !db.Healthy {
			status = http.StatusServiceUnavailable
		}
	}
	a.writeJSON(w, status, resp)
}

func (a *AdminHandlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", zap.Error(err))
	}
}
