package accesskit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthorizer(t *testing.T, src Source, opts ...AuthorizerOption) *Authorizer {
	t.Helper()
	cfg := DefaultConfig().Decision
	cfg.PermitAll = DefaultPermitAll
	authz, err := NewAuthorizer(context.Background(), src, cfg, opts...)
	require.NoError(t, err)
	return authz
}

func TestNewAuthorizer(t *testing.T) {
	authz := newTestAuthorizer(t, DefaultRuleSet().Source())

	assert.Equal(t, []string{IPAllowListVoterName, RoleVoterName}, authz.Engine().Voters())
	assert.Equal(t, StrategyAffirmative, authz.Engine().Strategy())
	assert.Nil(t, authz.Policy())

	admin := NewIdentity("admin", localAddr, "ROLE_ADMIN")
	user := NewIdentity("carol", localAddr, "ROLE_USER")

	assert.True(t, authz.Decide(admin, URLKey("GET", "/messages")).Granted())
	assert.False(t, authz.Decide(user, URLKey("GET", "/messages")).Granted())
	assert.True(t, authz.Decide(Anonymous(foreignAddr), URLKey("GET", "/login")).Granted())
	assert.True(t, authz.Decide(NewIdentity("admin", foreignAddr, "ROLE_ADMIN"), URLKey("GET", "/config")).Vetoed())
}

func TestNewAuthorizer_Errors(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig().Decision

	t.Run("nil source", func(t *testing.T) {
		_, err := NewAuthorizer(ctx, nil, cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("initial load failure is fatal", func(t *testing.T) {
		boom := errors.New("connection refused")
		_, err := NewAuthorizer(ctx, SourceFuncs{Rules: func(context.Context) ([]ResourceRule, error) {
			return nil, boom
		}}, cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSourceUnavailable)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cycle at startup is fatal", func(t *testing.T) {
		_, err := NewAuthorizer(ctx, NewRuleSet().Hierarchy("ROLE_A", "ROLE_B", "ROLE_A").Source(), cfg)
		assert.True(t, IsHierarchyCycle(err))
	})

	t.Run("unknown voter", func(t *testing.T) {
		bad := cfg
		bad.Voters = []string{"oracle"}
		_, err := NewAuthorizer(ctx, DefaultRuleSet().Source(), bad)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("bad permit all", func(t *testing.T) {
		bad := cfg
		bad.PermitAll = []string{"login"}
		_, err := NewAuthorizer(ctx, DefaultRuleSet().Source(), bad)
		assert.ErrorIs(t, err, ErrInvalidPattern)
	})

	t.Run("bad strategy", func(t *testing.T) {
		bad := cfg
		bad.Strategy = "majority"
		_, err := NewAuthorizer(ctx, DefaultRuleSet().Source(), bad)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestAuthorizer_PolicyVoter(t *testing.T) {
	cfg := DefaultConfig().Decision
	cfg.Voters = []string{IPAllowListVoterName, RoleVoterName, PolicyVoterName}

	src := NewRuleSet().
		URL("/reports/**").Roles("ROLE_AUDITOR").
		Hierarchy("ROLE_ADMIN", "ROLE_MANAGER").
		Allow(localAddr).
		Source()
	authz, err := NewAuthorizer(context.Background(), src, cfg)
	require.NoError(t, err)
	require.NotNil(t, authz.Policy())
	assert.Equal(t, []string{IPAllowListVoterName, RoleVoterName, PolicyVoterName}, authz.Engine().Voters())

	admin := NewIdentity("admin", localAddr, "ROLE_ADMIN")
	key := URLKey("GET", "/reports/2024")
	assert.False(t, authz.Decide(admin, key).Granted())

	_, err = authz.Policy().AddPolicy("ROLE_MANAGER", "/reports/*", "GET")
	require.NoError(t, err)

	v := authz.Decide(admin, key)
	assert.True(t, v.Granted())
	assert.Equal(t, PolicyVoterName, v.DecidingVoter)

	assert.True(t, authz.Decide(NewIdentity("admin", foreignAddr, "ROLE_ADMIN"), key).Vetoed())
}

func TestAuthorizer_WithVoters(t *testing.T) {
	always := VoterFunc{VoterName: "always", Fn: func(Identity, ResourceKey, []string) Vote { return VoteGrant }}
	authz := newTestAuthorizer(t, DefaultRuleSet().Source(), WithVoters(always))

	assert.Equal(t, []string{IPAllowListVoterName, RoleVoterName, "always"}, authz.Engine().Voters())
	v := authz.Decide(NewIdentity("carol", localAddr, "ROLE_USER"), URLKey("GET", "/config"))
	assert.True(t, v.Granted())
	assert.Equal(t, "always", v.DecidingVoter)
}

func TestAuthorizer_ConsensusTieDefaultsToGrant(t *testing.T) {
	ctx := context.Background()
	never := VoterFunc{VoterName: "never", Fn: func(Identity, ResourceKey, []string) Vote { return VoteDeny }}
	carol := NewIdentity("carol", localAddr, "ROLE_USER")

	authz, err := NewAuthorizer(ctx, DefaultRuleSet().Source(), DecisionConfig{Strategy: StrategyConsensus}, WithVoters(never))
	require.NoError(t, err)
	assert.True(t, authz.Decide(carol, URLKey("GET", "/mypage")).Granted(), "one grant against one deny")

	authz, err = NewAuthorizer(ctx, DefaultRuleSet().Source(),
		DecisionConfig{Strategy: StrategyConsensus, AllowIfEqualGrantedDenied: boolPtr(false)}, WithVoters(never))
	require.NoError(t, err)
	assert.False(t, authz.Decide(carol, URLKey("GET", "/mypage")).Granted())
}

func TestAuthorizer_PathVariantsDecideAsCanonical(t *testing.T) {
	authz := newTestAuthorizer(t, DefaultRuleSet().Source())
	carol := NewIdentity("carol", localAddr, "ROLE_USER")

	for _, path := range []string{"/messages", "/messages/", "//messages", "/./messages", "/x/../messages", "/messages?x=1"} {
		v := authz.Decide(carol, URLKey("GET", path))
		assert.False(t, v.Granted(), path)
		assert.Equal(t, "/messages", v.Pattern, path)
	}
}

func TestAuthorizer_Reload(t *testing.T) {
	ctx := context.Background()
	src := newMutableSource(DefaultRuleSet().Source())
	authz := newTestAuthorizer(t, src, WithClosureCache(time.Minute))

	user := NewIdentity("carol", localAddr, "ROLE_USER")
	assert.False(t, authz.Decide(user, URLKey("GET", "/messages")).Granted())

	next := NewRuleSet().
		URL("/messages").Roles("ROLE_USER").
		Hierarchy("ROLE_ADMIN", "ROLE_USER").
		Allow(localAddr).
		Source()
	src.set(next)
	require.NoError(t, authz.Reload(ctx))
	assert.True(t, authz.Decide(user, URLKey("GET", "/messages")).Granted())

	status := authz.Status()
	assert.Equal(t, uint64(2), status.Rules.Version)
	assert.Equal(t, 1, status.Rules.Entries)
	assert.Equal(t, 1, status.Hierarchy.Entries)
	assert.Equal(t, 1, status.AllowList.Entries)
	assert.Equal(t, int64(2), status.Rules.Reloads.Total)

	t.Run("partial failure keeps failed component", func(t *testing.T) {
		src.set(&StaticSource{
			Rules:     []ResourceRule{{Pattern: "/messages", RequiredRoles: []string{"ROLE_ADMIN"}}},
			Hierarchy: []RoleHierarchyEdge{{Parent: "ROLE_A", Child: "ROLE_A"}},
			Addresses: []string{localAddr},
		})
		err := authz.Reload(ctx)
		require.Error(t, err)
		assert.True(t, IsHierarchyCycle(err))

		// Rules moved on, hierarchy did not.
		assert.Equal(t, uint64(3), authz.Rules().Snapshot().Version())
		assert.Equal(t, uint64(2), authz.Hierarchy().Version())
		admin := NewIdentity("root", localAddr, "ROLE_ADMIN")
		assert.True(t, authz.Decide(admin, URLKey("GET", "/messages")).Granted())
		assert.False(t, authz.Decide(user, URLKey("GET", "/messages")).Granted())
	})
}

func TestAuthorizer_Checker(t *testing.T) {
	authz := newTestAuthorizer(t, DefaultRuleSet().Source())
	checker := authz.Checker(NewIdentity("bob", localAddr, "ROLE_MANAGER"))

	assert.True(t, checker.HasRole("ROLE_USER"))
	assert.False(t, checker.HasRole("ROLE_ADMIN"))
	assert.True(t, checker.CanAccess("GET", "/messages"))
	assert.False(t, checker.CanAccess("GET", "/config"))
}

func TestAuthorizer_Invoke(t *testing.T) {
	src := NewRuleSet().
		Pointcut("execution(* io.app.*Service.*(..))").Roles("ROLE_USER").
		Allow(localAddr).
		Source()
	authz := newTestAuthorizer(t, src)

	called := false
	err := authz.Invoke(context.Background(), NewIdentity("carol", localAddr, "ROLE_USER"), "io.app.OrderService.order", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	err = authz.Invoke(context.Background(), NewIdentity("eve", localAddr, "ROLE_GUEST"), "io.app.OrderService.order", func(context.Context) error {
		return nil
	})
	assert.True(t, IsAccessDenied(err))
}

func TestAuthorizer_ConcurrentDecideAndReload(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)
	authz := newTestAuthorizer(t, DefaultRuleSet().Source(), WithMetrics(metrics), WithClosureCache(time.Minute))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				v := authz.Decide(NewIdentity("bob", localAddr, "ROLE_MANAGER"), URLKey("GET", "/messages"))
				if !v.Granted() {
					t.Errorf("unexpected deny: %s", v.Reason)
					return
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, authz.Reload(ctx))
	}
	wg.Wait()
}
