// Package accesskit decides whether an identity may reach a protected
// resource: an HTTP request path or a named method invocation.
//
// A decision combines four pieces:
//
//   - RuleTable: ordered resource patterns, each with the roles it requires.
//     The first matching pattern wins.
//   - RoleHierarchy: "PARENT > CHILD" relations. A holder of a parent role
//     also holds every role reachable below it.
//   - AllowList: client addresses permitted at all. Requests from other
//     addresses are vetoed whatever the caller's roles.
//   - Engine: polls the voters and combines their votes with a strategy
//     (affirmative by default).
//
// Rules, hierarchy and allow-list are immutable snapshots. The stores that
// hold them swap a new snapshot in atomically on Reload, so decisions running
// concurrently see either the old or the new snapshot, never a mix. A failed
// reload keeps the previous snapshot.
//
// # Votes
//
//   - The IP allow-list voter abstains for listed addresses and vetoes all others.
//     A veto ends the decision regardless of strategy.
//   - The role voter grants when the caller's expanded roles share one
//     with the required set, and abstains otherwise. It never denies.
//   - If every voter abstains the request is denied, unless
//     WithAllowIfAllAbstain(true) is set.
//
// # Basic Usage
//
//	rules := accesskit.NewRuleSet().
//	    URL("/mypage").Roles("ROLE_USER").
//	    URL("/messages").Roles("ROLE_MANAGER").
//	    URL("/config").Roles("ROLE_ADMIN").
//	    Hierarchy("ROLE_ADMIN", "ROLE_MANAGER", "ROLE_USER").
//	    Allow("127.0.0.1", "::1")
//
//	authz, err := accesskit.NewAuthorizer(ctx, rules.Source(), accesskit.DefaultConfig().Decision)
//	if err != nil {
//	    return err
//	}
//
//	identity := accesskit.NewIdentity("alice", "127.0.0.1", "ROLE_MANAGER")
//	verdict := authz.Decide(identity, accesskit.URLKey(http.MethodGet, "/mypage"))
//	// verdict.Granted() == true: ROLE_MANAGER implies ROLE_USER
//
// # Middleware Usage
//
//	mw := accesskit.NewMiddleware(authz,
//	    accesskit.WithIdentityExtractor(accesskit.BearerTokenExtractor(secret)))
//	router.Use(mw.Handler)
//
// # Sources
//
// Snapshots are built from a Source: StaticSource and RuleSet in code,
// FileSource for YAML documents, RedisSource for shared deployments and
// Service for PostgreSQL. Service also provides audited administrative
// changes to the stored rules.
package accesskit
