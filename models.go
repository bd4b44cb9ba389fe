package accesskit

import (
	"path"
	"slices"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// ResourceType distinguishes how a rule pattern is interpreted.
type ResourceType string

const (
	// ResourceTypeURL rules match HTTP requests by Ant-style path pattern.
	ResourceTypeURL ResourceType = "url"
	// ResourceTypeMethod rules match dotted method signatures.
	ResourceTypeMethod ResourceType = "method"
	// ResourceTypePointcut rules match execution(...) expressions over method signatures.
	ResourceTypePointcut ResourceType = "pointcut"
)

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceTypeURL, ResourceTypeMethod, ResourceTypePointcut:
		return true
	}
	return false
}

// invocation reports whether t describes a method invocation rather than a request.
func (t ResourceType) invocation() bool {
	return t == ResourceTypeMethod || t == ResourceTypePointcut
}

// ResourceKey identifies the resource being accessed.
// For HTTP requests it is (method, path); for invocations it is the
// fully qualified method signature.
type ResourceKey struct {
	Type       ResourceType `json:"type"`
	HTTPMethod string       `json:"http_method,omitempty"`
	Path       string       `json:"path"`
}

// URLKey builds the key of an HTTP request. Query strings are dropped and
// the path is cleaned: duplicate slashes, "." and ".." segments and a
// trailing slash are removed, so "/messages/" and "/x/../messages" are
// both decided as "/messages".
func URLKey(httpMethod, p string) ResourceKey {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	p, _ = CleanURLPath(p)
	return ResourceKey{Type: ResourceTypeURL, HTTPMethod: strings.ToUpper(httpMethod), Path: p}
}

// CleanURLPath returns the cleaned, rooted form of p and whether p was
// already canonical. A single trailing slash counts as canonical.
func CleanURLPath(p string) (string, bool) {
	if p == "" {
		return "/", true
	}
	rooted := p
	if rooted[0] != '/' {
		rooted = "/" + rooted
	}
	cleaned := path.Clean(rooted)
	return cleaned, p == cleaned || p == cleaned+"/"
}

// MethodKey builds the key of a method invocation, e.g. "io.app.OrderService.order".
func MethodKey(signature string) ResourceKey {
	return ResourceKey{Type: ResourceTypeMethod, Path: signature}
}

// String returns a string representation of the key.
func (k ResourceKey) String() string {
	if k.Type.invocation() {
		return k.Path
	}
	if k.HTTPMethod == "" {
		return k.Path
	}
	return k.HTTPMethod + " " + k.Path
}

// ResourceRule maps a resource pattern to the roles required to access it.
type ResourceRule struct {
	Pattern       string       `json:"pattern" yaml:"pattern"`
	HTTPMethod    string       `json:"http_method,omitempty" yaml:"method,omitempty"`
	Type          ResourceType `json:"type" yaml:"type"`
	RequiredRoles []string     `json:"required_roles" yaml:"roles"`
	Order         int          `json:"order" yaml:"order"`
}

// String returns a string representation of the rule.
func (r ResourceRule) String() string {
	var b strings.Builder
	if r.HTTPMethod != "" {
		b.WriteString(r.HTTPMethod)
		b.WriteByte(' ')
	}
	b.WriteString(r.Pattern)
	b.WriteString(" -> [")
	b.WriteString(strings.Join(r.RequiredRoles, ","))
	b.WriteByte(']')
	return b.String()
}

// RoleHierarchyEdge states that Parent implies Child.
type RoleHierarchyEdge struct {
	Parent string `json:"parent" yaml:"parent"`
	Child  string `json:"child" yaml:"child"`
}

// String renders the edge in the textual hierarchy form.
func (e RoleHierarchyEdge) String() string {
	return e.Parent + " > " + e.Child
}

const (
	// AnonymousPrincipal is the principal ID of unauthenticated callers.
	AnonymousPrincipal = "anonymousUser"
	// AnonymousRole is the only authority of unauthenticated callers.
	AnonymousRole = "ROLE_ANONYMOUS"
)

// Identity is the authenticated caller. It is passed explicitly to every decision.
type Identity struct {
	PrincipalID   string   `json:"principal_id"`
	Authorities   []string `json:"authorities"`
	RemoteAddress string   `json:"remote_address"`
}

// NewIdentity creates an Identity.
func NewIdentity(principalID, remoteAddress string, authorities ...string) Identity {
	return Identity{
		PrincipalID:   principalID,
		Authorities:   authorities,
		RemoteAddress: remoteAddress,
	}
}

// Anonymous returns the identity of an unauthenticated caller.
func Anonymous(remoteAddress string) Identity {
	return Identity{
		PrincipalID:   AnonymousPrincipal,
		Authorities:   []string{AnonymousRole},
		RemoteAddress: remoteAddress,
	}
}

// IsAnonymous returns true for unauthenticated callers.
func (i Identity) IsAnonymous() bool {
	return i.PrincipalID == "" || i.PrincipalID == AnonymousPrincipal
}

// HasAuthority checks the direct authorities only; hierarchy is not applied.
func (i Identity) HasAuthority(role string) bool {
	return slices.Contains(i.Authorities, role)
}

// Outcome is the final result of a decision.
type Outcome int

const (
	OutcomeDeny Outcome = iota
	OutcomeGrant
)

// String returns "GRANT" or "DENY".
func (o Outcome) String() string {
	if o == OutcomeGrant {
		return "GRANT"
	}
	return "DENY"
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Verdict is the result of one access decision. It is never persisted.
type Verdict struct {
	Outcome Outcome `json:"outcome"`

	// VetoingVoter names the voter that vetoed the request, if any.
	VetoingVoter string `json:"vetoing_voter,omitempty"`

	// DecidingVoter names the voter whose vote settled the outcome, if any.
	DecidingVoter string `json:"deciding_voter,omitempty"`

	// Pattern is the rule or permit-all pattern that matched, empty when none did.
	Pattern string `json:"pattern,omitempty"`

	// RequiredRoles are the roles the matched rule demanded.
	RequiredRoles []string `json:"required_roles,omitempty"`

	// AuthenticationRequired is set when the caller was anonymous and the
	// resource needs an authenticated identity.
	AuthenticationRequired bool `json:"authentication_required,omitempty"`

	Reason string `json:"reason"`
}

// Granted returns true when the outcome is GRANT.
func (v Verdict) Granted() bool {
	return v.Outcome == OutcomeGrant
}

// Vetoed returns true when a voter vetoed the request.
func (v Verdict) Vetoed() bool {
	return v.VetoingVoter != ""
}

// Err converts a DENY verdict into an error; GRANT yields nil.
func (v Verdict) Err(identity Identity) error {
	if v.Granted() {
		return nil
	}
	sentinel := ErrAccessDenied
	if v.AuthenticationRequired {
		sentinel = ErrUnauthenticated
	}
	return NewError(sentinel, v.Reason).
		WithPattern(v.Pattern).
		WithPrincipal(identity.PrincipalID).
		WithVoter(v.VetoingVoter)
}

// ============================================================================
// PERSISTENT MODELS
// ============================================================================

// ResourceRecord is a protected resource stored in the database.
type ResourceRecord struct {
	bun.BaseModel `bun:"table:resources,alias:res"`

	ID           int64     `bun:"id,pk,autoincrement"`
	ResourceName string    `bun:"resource_name,notnull"`
	HTTPMethod   string    `bun:"http_method"`
	OrderNum     int       `bun:"order_num,notnull,default:0"`
	ResourceType string    `bun:"resource_type,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,notnull,default:current_timestamp"`

	Roles []ResourceRoleRecord `bun:"rel:has-many,join:id=resource_id"`
}

// ToRule converts the record to a ResourceRule.
func (r *ResourceRecord) ToRule() ResourceRule {
	roles := make([]string, 0, len(r.Roles))
	for _, role := range r.Roles {
		roles = append(roles, role.RoleName)
	}
	slices.Sort(roles)
	return ResourceRule{
		Pattern:       r.ResourceName,
		HTTPMethod:    r.HTTPMethod,
		Type:          ResourceType(r.ResourceType),
		RequiredRoles: roles,
		Order:         r.OrderNum,
	}
}

// ResourceRoleRecord links a resource to one required role.
type ResourceRoleRecord struct {
	bun.BaseModel `bun:"table:resource_roles,alias:rr"`

	ResourceID int64  `bun:"resource_id,pk"`
	RoleName   string `bun:"role_name,pk"`
}

// RoleHierarchyRecord stores one parent > child relation.
type RoleHierarchyRecord struct {
	bun.BaseModel `bun:"table:role_hierarchy,alias:rh"`

	ID         string    `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	ParentName string    `bun:"parent_name,notnull"`
	ChildName  string    `bun:"child_name,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// AccessIPRecord is one allow-listed address or CIDR prefix.
type AccessIPRecord struct {
	bun.BaseModel `bun:"table:access_ips,alias:aip"`

	ID          string    `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	IPAddress   string    `bun:"ip_address,notnull,unique"`
	Description string    `bun:"description"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// ChangeAuditLog records every change to rules, hierarchy and allow-list.
type ChangeAuditLog struct {
	bun.BaseModel `bun:"table:access_audit_log,alias:aal"`

	ID        string    `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Timestamp time.Time `bun:"timestamp,notnull,default:current_timestamp"`

	// Who performed the action
	ActorID string `bun:"actor_id,notnull"`

	// What changed
	Action  string `bun:"action,notnull"`
	Subject string `bun:"subject,notnull"` // "resource", "hierarchy", "access_ip"
	Target  string `bun:"target,notnull"`  // pattern, edge or address

	Roles []string `bun:"roles,type:text[],array"`

	// Request metadata for forensics
	IPAddress string `bun:"ip_address"`
	UserAgent string `bun:"user_agent"`
	RequestID string `bun:"request_id"`

	Metadata map[string]any `bun:"metadata,type:jsonb"`
}

// AuditAction represents the type of action in the audit log.
type AuditAction string

const (
	AuditActionCreated AuditAction = "created"
	AuditActionDeleted AuditAction = "deleted"
	AuditActionUpdated AuditAction = "updated"
)

// Audit subjects.
const (
	AuditSubjectResource  = "resource"
	AuditSubjectHierarchy = "hierarchy"
	AuditSubjectAccessIP  = "access_ip"
)

// AuditEntry is used to create new audit log entries.
type AuditEntry struct {
	ActorID   string
	Action    AuditAction
	Subject   string
	Target    string
	Roles     []string
	IPAddress string
	UserAgent string
	RequestID string
	Metadata  map[string]any
}

// ToModel converts an AuditEntry to a ChangeAuditLog model.
func (e *AuditEntry) ToModel() *ChangeAuditLog {
	return &ChangeAuditLog{
		ActorID:   e.ActorID,
		Action:    string(e.Action),
		Subject:   e.Subject,
		Target:    e.Target,
		Roles:     e.Roles,
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
		RequestID: e.RequestID,
		Metadata:  e.Metadata,
		Timestamp: time.Now(),
	}
}
