package accesskit

import (
	"fmt"
	"slices"
	"strings"
)

type compiledRule struct {
	rule    ResourceRule
	pattern *Pattern
}

// RuleTable is an immutable, ordered snapshot of resource rules.
// Matching walks the rules in order and the first match wins; no
// specificity sorting is applied.
type RuleTable struct {
	rules   []compiledRule
	version uint64
}

// NewRuleTable compiles the rules in the given order. Rules are copied, so
// later changes to the input slice do not affect the table. A single
// invalid pattern fails the whole table.
func NewRuleTable(rules []ResourceRule) (*RuleTable, error) {
	t := &RuleTable{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		if r.Type == "" {
			r.Type = ResourceTypeURL
		}
		if !r.Type.Valid() {
			return nil, NewError(ErrInvalidRule, fmt.Sprintf("rule %d: unknown type %q", i, r.Type)).WithPattern(r.Pattern)
		}
		p, err := CompilePattern(r.Type, r.Pattern, r.HTTPMethod)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		r.Pattern = p.String()
		r.HTTPMethod = p.HTTPMethod()
		r.RequiredRoles = normalizeRoles(r.RequiredRoles)
		t.rules = append(t.rules, compiledRule{rule: r, pattern: p})
	}
	return t, nil
}

// SortByOrder returns a copy of rules stably sorted by Order ascending.
// Sources that persist an explicit order column use it before building a table.
func SortByOrder(rules []ResourceRule) []ResourceRule {
	sorted := slices.Clone(rules)
	slices.SortStableFunc(sorted, func(a, b ResourceRule) int {
		return a.Order - b.Order
	})
	return sorted
}

func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" || slices.Contains(out, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Match returns the first rule whose pattern matches the key.
func (t *RuleTable) Match(key ResourceKey) (ResourceRule, bool) {
	for _, cr := range t.rules {
		if cr.pattern.Matches(key) {
			return cr.rule, true
		}
	}
	return ResourceRule{}, false
}

// Rules returns a copy of the rules in match order.
func (t *RuleTable) Rules() []ResourceRule {
	out := make([]ResourceRule, len(t.rules))
	for i, cr := range t.rules {
		r := cr.rule
		r.RequiredRoles = slices.Clone(r.RequiredRoles)
		out[i] = r
	}
	return out
}

// Roles returns every role referenced by any rule, sorted.
func (t *RuleTable) Roles() []string {
	var roles []string
	for _, cr := range t.rules {
		for _, r := range cr.rule.RequiredRoles {
			if !slices.Contains(roles, r) {
				roles = append(roles, r)
			}
		}
	}
	slices.Sort(roles)
	return roles
}

// Len returns the number of rules.
func (t *RuleTable) Len() int {
	return len(t.rules)
}

// Version is the store generation that published this table.
func (t *RuleTable) Version() uint64 {
	return t.version
}

// Equal reports whether two tables hold the same rules in the same order.
func (t *RuleTable) Equal(other *RuleTable) bool {
	if t == nil || other == nil {
		return t == other
	}
	return slices.EqualFunc(t.rules, other.rules, func(a, b compiledRule) bool {
		return a.rule.Pattern == b.rule.Pattern &&
			a.rule.HTTPMethod == b.rule.HTTPMethod &&
			a.rule.Type == b.rule.Type &&
			slices.Equal(a.rule.RequiredRoles, b.rule.RequiredRoles)
	})
}
