package accesskit

import (
	"context"
	"slices"
)

// RuleSource loads the ordered resource rules.
type RuleSource interface {
	LoadRules(ctx context.Context) ([]ResourceRule, error)
}

// HierarchySource loads the role hierarchy edges.
type HierarchySource interface {
	LoadHierarchy(ctx context.Context) ([]RoleHierarchyEdge, error)
}

// AddressSource loads the allow-listed addresses.
type AddressSource interface {
	LoadAllowedAddresses(ctx context.Context) ([]string, error)
}

// Source provides everything an Authorizer needs.
type Source interface {
	RuleSource
	HierarchySource
	AddressSource
}

// StaticSource serves fixed, in-memory data. It is usually produced by a RuleSet.
type StaticSource struct {
	Rules     []ResourceRule
	Hierarchy []RoleHierarchyEdge
	Addresses []string
}

// LoadRules returns a copy of the rules.
func (s *StaticSource) LoadRules(ctx context.Context) ([]ResourceRule, error) {
	out := make([]ResourceRule, len(s.Rules))
	for i, r := range s.Rules {
		r.RequiredRoles = slices.Clone(r.RequiredRoles)
		out[i] = r
	}
	return out, nil
}

// LoadHierarchy returns a copy of the edges.
func (s *StaticSource) LoadHierarchy(ctx context.Context) ([]RoleHierarchyEdge, error) {
	return slices.Clone(s.Hierarchy), nil
}

// LoadAllowedAddresses returns a copy of the addresses.
func (s *StaticSource) LoadAllowedAddresses(ctx context.Context) ([]string, error) {
	return slices.Clone(s.Addresses), nil
}

// SourceFuncs adapts plain functions to Source. Nil functions load nothing.
type SourceFuncs struct {
	Rules     func(ctx context.Context) ([]ResourceRule, error)
	Hierarchy func(ctx context.Context) ([]RoleHierarchyEdge, error)
	Addresses func(ctx context.Context) ([]string, error)
}

// LoadRules implements RuleSource.
func (f SourceFuncs) LoadRules(ctx context.Context) ([]ResourceRule, error) {
	if f.Rules == nil {
		return nil, nil
	}
	return f.Rules(ctx)
}

// LoadHierarchy implements HierarchySource.
func (f SourceFuncs) LoadHierarchy(ctx context.Context) ([]RoleHierarchyEdge, error) {
	if f.Hierarchy == nil {
		return nil, nil
	}
	return f.Hierarchy(ctx)
}

// LoadAllowedAddresses implements AddressSource.
func (f SourceFuncs) LoadAllowedAddresses(ctx context.Context) ([]string, error) {
	if f.Addresses == nil {
		return nil, nil
	}
	return f.Addresses(ctx)
}
