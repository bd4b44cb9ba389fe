package accesskit

import (
	"bufio"
	"fmt"
	"slices"
	"strings"
)

// RoleHierarchy is the immutable transitive closure of parent > child edges.
// A parent role implies every role reachable below it.
type RoleHierarchy struct {
	edges   []RoleHierarchyEdge
	reach   map[string][]string // role -> implied roles (sorted, excludes itself)
	version uint64
}

// NewRoleHierarchy builds the closure. Any cycle, including a self edge,
// is rejected with ErrHierarchyCycle.
func NewRoleHierarchy(edges []RoleHierarchyEdge) (*RoleHierarchy, error) {
	children := make(map[string][]string)
	seen := make(map[RoleHierarchyEdge]bool, len(edges))
	kept := make([]RoleHierarchyEdge, 0, len(edges))

	for _, e := range edges {
		e.Parent = strings.TrimSpace(e.Parent)
		e.Child = strings.TrimSpace(e.Child)
		if e.Parent == "" || e.Child == "" {
			return nil, fmt.Errorf("%w: empty role in edge %q", ErrInvalidHierarchy, e.String())
		}
		if e.Parent == e.Child {
			return nil, NewError(ErrHierarchyCycle, e.String()).WithRole(e.Parent)
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		kept = append(kept, e)
		children[e.Parent] = append(children[e.Parent], e.Child)
	}

	if path := findCycle(children); path != nil {
		return nil, NewError(ErrHierarchyCycle, strings.Join(path, " > ")).WithRole(path[0])
	}

	reach := make(map[string][]string, len(children))
	for role := range children {
		set := make(map[string]struct{})
		collect(role, children, set)
		implied := make([]string, 0, len(set))
		for r := range set {
			implied = append(implied, r)
		}
		slices.Sort(implied)
		reach[role] = implied
	}

	return &RoleHierarchy{edges: kept, reach: reach}, nil
}

// MustRoleHierarchy is like NewRoleHierarchy but panics on error.
func MustRoleHierarchy(edges []RoleHierarchyEdge) *RoleHierarchy {
	h, err := NewRoleHierarchy(edges)
	if err != nil {
		panic(err)
	}
	return h
}

// EmptyHierarchy returns a hierarchy in which every role implies only itself.
func EmptyHierarchy() *RoleHierarchy {
	return &RoleHierarchy{reach: map[string][]string{}}
}

func collect(role string, children map[string][]string, set map[string]struct{}) {
	for _, child := range children[role] {
		if _, ok := set[child]; ok {
			continue
		}
		set[child] = struct{}{}
		collect(child, children, set)
	}
}

// findCycle runs a colored DFS and returns the first cycle found as a role path.
func findCycle(children map[string][]string) []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int)
	var stack []string
	var cycle []string

	var visit func(string) bool
	visit = func(role string) bool {
		color[role] = grey
		stack = append(stack, role)
		for _, child := range children[role] {
			switch color[child] {
			case grey:
				start := slices.Index(stack, child)
				cycle = append(slices.Clone(stack[start:]), child)
				return true
			case white:
				if visit(child) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[role] = black
		return false
	}

	roots := make([]string, 0, len(children))
	for role := range children {
		roots = append(roots, role)
	}
	slices.Sort(roots)
	for _, role := range roots {
		if color[role] == white && visit(role) {
			return cycle
		}
	}
	return nil
}

// Expand returns each role plus everything it implies. Direct roles come
// first in input order, followed by implied roles in sorted order, with no
// duplicates.
func (h *RoleHierarchy) Expand(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}

	var implied []string
	for _, r := range roles {
		for _, c := range h.reach[r] {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			implied = append(implied, c)
		}
	}
	slices.Sort(implied)
	return append(out, implied...)
}

// Implies reports whether parent implies child (directly or transitively).
// Every role implies itself.
func (h *RoleHierarchy) Implies(parent, child string) bool {
	if parent == child {
		return true
	}
	_, found := slices.BinarySearch(h.reach[parent], child)
	return found
}

// Reachable returns the roles implied by role, excluding role itself.
func (h *RoleHierarchy) Reachable(role string) []string {
	return slices.Clone(h.reach[role])
}

// Edges returns the distinct edges the hierarchy was built from.
func (h *RoleHierarchy) Edges() []RoleHierarchyEdge {
	return slices.Clone(h.edges)
}

// Version is the store generation that published this hierarchy.
func (h *RoleHierarchy) Version() uint64 {
	return h.version
}

// String renders the hierarchy in the textual form accepted by ParseHierarchy.
func (h *RoleHierarchy) String() string {
	var b strings.Builder
	for _, e := range h.edges {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseHierarchy parses "PARENT > CHILD" relations, one per line. Chains such
// as "A > B > C" expand to A > B and B > C. Blank lines and lines starting
// with '#' are ignored.
func ParseHierarchy(text string) ([]RoleHierarchyEdge, error) {
	var edges []RoleHierarchyEdge
	scanner := bufio.NewScanner(strings.NewReader(text))
	line := 0
	for scanner.Scan() {
		line++
		s := strings.TrimSpace(scanner.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		roles := strings.Split(s, ">")
		if len(roles) < 2 {
			return nil, fmt.Errorf("%w: line %d: %q has no '>'", ErrInvalidHierarchy, line, s)
		}
		for i := 0; i < len(roles)-1; i++ {
			parent := strings.TrimSpace(roles[i])
			child := strings.TrimSpace(roles[i+1])
			if parent == "" || child == "" {
				return nil, fmt.Errorf("%w: line %d: empty role in %q", ErrInvalidHierarchy, line, s)
			}
			edges = append(edges, RoleHierarchyEdge{Parent: parent, Child: child})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHierarchy, err)
	}
	return edges, nil
}

// ParseEdges parses a list of single relations such as loaded from a file or key-value store.
func ParseEdges(lines []string) ([]RoleHierarchyEdge, error) {
	return ParseHierarchy(strings.Join(lines, "\n"))
}
