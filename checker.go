package accesskit

import "slices"

// Checker answers access questions for one identity.
// It is typically created by the middleware and stored in context for use in handlers.
type Checker struct {
	identity Identity
	decider  Decider
	expander RoleExpander
}

// NewChecker creates a new Checker for an identity. A nil expander means
// roles are taken as granted, with no hierarchy.
func NewChecker(identity Identity, decider Decider, expander RoleExpander) *Checker {
	if expander == nil {
		expander = EmptyHierarchy()
	}
	return &Checker{
		identity: identity,
		decider:  decider,
		expander: expander,
	}
}

// Identity returns the identity this checker is for.
func (c *Checker) Identity() Identity {
	return c.identity
}

// IsAnonymous reports whether the identity is unauthenticated.
func (c *Checker) IsAnonymous() bool {
	return c.identity.IsAnonymous()
}

// Decide returns the full verdict for a resource.
func (c *Checker) Decide(key ResourceKey) Verdict {
	return c.decider.Decide(c.identity, key)
}

// CanAccess checks if the identity may send method to path.
//
// Example:
//
//	if checker.CanAccess(http.MethodGet, "/messages") {
//	    // Render the messages link
//	}
func (c *Checker) CanAccess(method, path string) bool {
	return c.Decide(URLKey(method, path)).Granted()
}

// CanInvoke checks if the identity may call the method named by signature.
//
// Example:
//
//	if checker.CanInvoke("io.app.OrderService.order") {
//	    // Show the order button
//	}
func (c *Checker) CanInvoke(signature string) bool {
	return c.Decide(MethodKey(signature)).Granted()
}

// Roles returns the identity's authorities with every implied role added.
func (c *Checker) Roles() []string {
	return c.expander.Expand(c.identity.Authorities)
}

// HasRole checks if the identity holds role directly or through the hierarchy.
//
// Example:
//
//	if checker.HasRole("ROLE_USER") {
//	    // True for ROLE_ADMIN too when ROLE_ADMIN > ROLE_USER
//	}
func (c *Checker) HasRole(role string) bool {
	return slices.Contains(c.Roles(), role)
}

// HasAnyRole checks if the identity holds any of the roles.
func (c *Checker) HasAnyRole(roles ...string) bool {
	held := c.Roles()
	for _, role := range roles {
		if slices.Contains(held, role) {
			return true
		}
	}
	return false
}

// HasAllRoles checks if the identity holds all of the roles.
func (c *Checker) HasAllRoles(roles ...string) bool {
	held := c.Roles()
	for _, role := range roles {
		if !slices.Contains(held, role) {
			return false
		}
	}
	return true
}
