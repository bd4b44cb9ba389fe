package accesskit

import (
	"fmt"
	"sync"
)

// RuleSet collects rules, hierarchy edges and allow-listed addresses in code.
// Rules keep the order in which they are defined.
type RuleSet struct {
	mu        sync.RWMutex
	rules     []*RuleDefinition
	hierarchy []RoleHierarchyEdge
	addresses []string
}

// RuleDefinition is one rule under construction.
type RuleDefinition struct {
	set        *RuleSet
	typ        ResourceType
	pattern    string
	httpMethod string
	roles      []string
}

// NewRuleSet creates an empty rule set.
func NewRuleSet() *RuleSet {
	return &RuleSet{}
}

func (rs *RuleSet) add(typ ResourceType, pattern string) *RuleDefinition {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	def := &RuleDefinition{set: rs, typ: typ, pattern: pattern}
	rs.rules = append(rs.rules, def)
	return def
}

// URL starts a URL rule.
//
// Example:
//
//	accesskit.NewRuleSet().
//	    URL("/admin/pay").Roles("ROLE_ADMIN").
//	    URL("/admin/**").Roles("ROLE_ADMIN", "ROLE_MANAGER").
//	    URL("/api/orders").HTTPMethod("POST").Roles("ROLE_USER")
func (rs *RuleSet) URL(pattern string) *RuleDefinition {
	return rs.add(ResourceTypeURL, pattern)
}

// Method starts a method signature rule.
func (rs *RuleSet) Method(signature string) *RuleDefinition {
	return rs.add(ResourceTypeMethod, signature)
}

// Pointcut starts an execution(...) rule.
func (rs *RuleSet) Pointcut(expr string) *RuleDefinition {
	return rs.add(ResourceTypePointcut, expr)
}

// Hierarchy adds parent > child relations, e.g. Hierarchy("ROLE_ADMIN", "ROLE_MANAGER", "ROLE_USER")
// adds ADMIN > MANAGER and MANAGER > USER.
func (rs *RuleSet) Hierarchy(chain ...string) *RuleSet {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for i := 0; i+1 < len(chain); i++ {
		rs.hierarchy = append(rs.hierarchy, RoleHierarchyEdge{Parent: chain[i], Child: chain[i+1]})
	}
	return rs
}

// Allow adds allow-listed addresses or CIDR prefixes.
func (rs *RuleSet) Allow(addresses ...string) *RuleSet {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.addresses = append(rs.addresses, addresses...)
	return rs
}

// Rules returns the rules in definition order.
func (rs *RuleSet) Rules() []ResourceRule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	rules := make([]ResourceRule, 0, len(rs.rules))
	for i, def := range rs.rules {
		rules = append(rules, ResourceRule{
			Pattern:       def.pattern,
			HTTPMethod:    def.httpMethod,
			Type:          def.typ,
			RequiredRoles: append([]string(nil), def.roles...),
			Order:         i,
		})
	}
	return rules
}

// Validate compiles every rule and the hierarchy without publishing anything.
func (rs *RuleSet) Validate() error {
	if _, err := NewRuleTable(rs.Rules()); err != nil {
		return err
	}
	src := rs.Source()
	if _, err := NewRoleHierarchy(src.Hierarchy); err != nil {
		return err
	}
	if _, err := NewAllowList(src.Addresses); err != nil {
		return fmt.Errorf("allow-list: %w", err)
	}
	return nil
}

// Source snapshots the set into a StaticSource.
func (rs *RuleSet) Source() *StaticSource {
	rules := rs.Rules()

	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return &StaticSource{
		Rules:     rules,
		Hierarchy: append([]RoleHierarchyEdge(nil), rs.hierarchy...),
		Addresses: append([]string(nil), rs.addresses...),
	}
}

// HTTPMethod restricts a URL rule to one HTTP method.
func (d *RuleDefinition) HTTPMethod(method string) *RuleDefinition {
	d.set.mu.Lock()
	defer d.set.mu.Unlock()

	d.httpMethod = method
	return d
}

// Roles sets the roles required by the rule.
func (d *RuleDefinition) Roles(roles ...string) *RuleDefinition {
	d.set.mu.Lock()
	defer d.set.mu.Unlock()

	d.roles = append(d.roles, roles...)
	return d
}

// URL starts the next URL rule.
func (d *RuleDefinition) URL(pattern string) *RuleDefinition {
	return d.set.URL(pattern)
}

// Method starts the next method rule.
func (d *RuleDefinition) Method(signature string) *RuleDefinition {
	return d.set.Method(signature)
}

// Pointcut starts the next pointcut rule.
func (d *RuleDefinition) Pointcut(expr string) *RuleDefinition {
	return d.set.Pointcut(expr)
}

// Hierarchy returns to the set and adds relations.
func (d *RuleDefinition) Hierarchy(chain ...string) *RuleSet {
	return d.set.Hierarchy(chain...)
}

// Allow returns to the set and adds addresses.
func (d *RuleDefinition) Allow(addresses ...string) *RuleSet {
	return d.set.Allow(addresses...)
}

// Done returns the parent set.
func (d *RuleDefinition) Done() *RuleSet {
	return d.set
}

// DefaultRuleSet returns the stock web application rules: the home and
// user registration pages are open, /mypage, /messages and /config need
// USER, MANAGER and ADMIN, the admin API under /admin needs ADMIN, with
// ADMIN > MANAGER > USER and loopback callers allowed.
func DefaultRuleSet() *RuleSet {
	return NewRuleSet().
		URL("/mypage").Roles("ROLE_USER").
		URL("/messages").Roles("ROLE_MANAGER").
		URL("/config").Roles("ROLE_ADMIN").
		URL("/admin/**").Roles("ROLE_ADMIN").
		Hierarchy("ROLE_ADMIN", "ROLE_MANAGER", "ROLE_USER").
		Allow("127.0.0.1", "::1")
}

// DefaultPermitAll lists the patterns DefaultRuleSet expects to be open.
var DefaultPermitAll = []string{"/", "/users", "/login*", "/denied*", "/error"}
