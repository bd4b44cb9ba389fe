package accesskit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceResources(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := adminContext()

	adminID, err := service.CreateResource(ctx, ResourceRule{Pattern: "/admin/**", RequiredRoles: []string{"ROLE_ADMIN"}, Order: 10})
	require.NoError(t, err)
	ordersID, err := service.CreateResource(ctx, ResourceRule{Pattern: "/orders/{id}", HTTPMethod: "post", RequiredRoles: []string{"ROLE_USER", "ROLE_CLERK", "ROLE_USER"}, Order: 5})
	require.NoError(t, err)
	_, err = service.CreateResource(ctx, ResourceRule{Pattern: "io.app.*Service.*", Type: ResourceTypeMethod, RequiredRoles: []string{"ROLE_USER"}, Order: 20})
	require.NoError(t, err)

	rules, err := service.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "/orders/{id}", rules[0].Pattern, "ordered by order_num")
	assert.Equal(t, "POST", rules[0].HTTPMethod)
	assert.Equal(t, []string{"ROLE_CLERK", "ROLE_USER"}, rules[0].RequiredRoles)
	assert.Equal(t, ResourceTypeMethod, rules[2].Type)

	assert.True(t, service.ResourceExists(ctx, "/orders/{id}", "post"))
	assert.False(t, service.ResourceExists(ctx, "/orders/{id}", "GET"))
	count, err := service.CountResources(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	t.Run("duplicate is rejected", func(t *testing.T) {
		_, err := service.CreateResource(ctx, ResourceRule{Pattern: "/admin/**", RequiredRoles: []string{"ROLE_ADMIN"}})
		assert.ErrorIs(t, err, ErrDatabaseError)
	})

	t.Run("update roles and order", func(t *testing.T) {
		require.NoError(t, service.SetResourceRoles(ctx, adminID, []string{"ROLE_ROOT"}))
		require.NoError(t, service.SetResourceOrder(ctx, adminID, 1))

		record, err := service.GetResource(ctx, adminID)
		require.NoError(t, err)
		assert.Equal(t, []string{"ROLE_ROOT"}, record.ToRule().RequiredRoles)
		assert.Equal(t, 1, record.OrderNum)

		rules, err := service.LoadRules(ctx)
		require.NoError(t, err)
		assert.Equal(t, "/admin/**", rules[0].Pattern)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, service.DeleteResource(ctx, ordersID))
		_, err := service.GetResource(ctx, ordersID)
		assert.ErrorIs(t, err, ErrResourceNotFound)
		assert.ErrorIs(t, service.DeleteResource(ctx, ordersID), ErrResourceNotFound)
		assert.ErrorIs(t, service.SetResourceOrder(ctx, ordersID, 3), ErrResourceNotFound)
	})

	records, err := service.ListResources(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestServiceHierarchy(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := adminContext()

	require.NoError(t, service.AddHierarchyEdge(ctx, "ROLE_ADMIN", "ROLE_MANAGER"))
	require.NoError(t, service.AddHierarchyEdge(ctx, "ROLE_MANAGER", "ROLE_USER"))
	require.NoError(t, service.AddHierarchyEdge(ctx, "ROLE_MANAGER", "ROLE_USER"), "existing edge is a no-op")

	err := service.AddHierarchyEdge(ctx, "ROLE_USER", "ROLE_ADMIN")
	assert.True(t, IsHierarchyCycle(err))

	edges, err := service.LoadHierarchy(ctx)
	require.NoError(t, err)
	assert.Equal(t, []RoleHierarchyEdge{
		{Parent: "ROLE_ADMIN", Child: "ROLE_MANAGER"},
		{Parent: "ROLE_MANAGER", Child: "ROLE_USER"},
	}, edges)

	require.NoError(t, service.RemoveHierarchyEdge(ctx, "ROLE_ADMIN", "ROLE_MANAGER"))
	edges, err = service.LoadHierarchy(ctx)
	require.NoError(t, err)
	assert.Len(t, edges, 1)

	require.NoError(t, service.ReplaceHierarchy(ctx, "ROLE_ROOT > ROLE_ADMIN > ROLE_USER"))
	edges, err = service.LoadHierarchy(ctx)
	require.NoError(t, err)
	assert.Equal(t, []RoleHierarchyEdge{
		{Parent: "ROLE_ADMIN", Child: "ROLE_USER"},
		{Parent: "ROLE_ROOT", Child: "ROLE_ADMIN"},
	}, edges)
}

func TestServiceAllowList(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := adminContext()

	require.NoError(t, service.AddAllowedAddress(ctx, "127.0.0.1", "loopback"))
	require.NoError(t, service.AddAllowedAddress(ctx, "10.0.0.0/8", "office"))
	require.NoError(t, service.AddAllowedAddress(ctx, "127.0.0.1", "again"))

	addrs, err := service.LoadAllowedAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, addrs)

	require.NoError(t, service.RemoveAllowedAddress(ctx, "10.0.0.0/8"))
	addrs, err = service.LoadAllowedAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1"}, addrs)
}

func TestServiceAuditLog(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := adminContext()

	_, err := service.CreateResource(ctx, ResourceRule{Pattern: "/reports/**", RequiredRoles: []string{"ROLE_AUDITOR"}})
	require.NoError(t, err)
	require.NoError(t, service.AddAllowedAddress(WithActorID(ctx, "ops"), "192.168.0.0/16", ""))

	logs, err := service.GetAuditLog(ctx, NewAuditLogFilter())
	require.NoError(t, err)
	require.Len(t, logs, 2)

	logs, err = service.GetAuditLog(ctx, NewAuditLogFilter().WithActor("ops"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, AuditSubjectAccessIP, logs[0].Subject)
	assert.Equal(t, "192.168.0.0/16", logs[0].Target)
	assert.Equal(t, "10.0.0.5", logs[0].IPAddress)
	assert.Equal(t, "test-request", logs[0].RequestID)

	logs, err = service.GetAuditLog(ctx, NewAuditLogFilter().WithRole("ROLE_AUDITOR").WithAction(AuditActionCreated))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "/reports/**", logs[0].Target)
}

func TestServiceTransaction(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := adminContext()

	err := service.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		if _, err := tx.CreateResource(ctx, ResourceRule{Pattern: "/rollback", RequiredRoles: []string{"ROLE_USER"}}); err != nil {
			return err
		}
		return tx.AddAllowedAddress(ctx, "bogus", "")
	})
	require.Error(t, err)
	assert.False(t, service.ResourceExists(ctx, "/rollback", ""), "rolled back")

	require.NoError(t, service.ImportSource(ctx, DefaultRuleSet().Source()))
	all, err := service.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all.Rules, 4)
	assert.Len(t, all.Hierarchy, 2)
	assert.ElementsMatch(t, []string{"127.0.0.1", "::1"}, all.Addresses)

	metrics := service.GetTransactionMetrics()
	assert.Positive(t, metrics.Successful)
	assert.Positive(t, metrics.Failed)
}

func TestServiceAsSource(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := adminContext()
	require.NoError(t, service.ImportSource(ctx, DefaultRuleSet().Source()))

	cfg := DefaultConfig().Decision
	authz, err := NewAuthorizer(ctx, service, cfg)
	require.NoError(t, err)

	bob := NewIdentity("bob", localAddr, "ROLE_MANAGER")
	assert.True(t, authz.Decide(bob, URLKey("GET", "/messages")).Granted())

	_, err = service.CreateResource(ctx, ResourceRule{Pattern: "/reports/**", RequiredRoles: []string{"ROLE_AUDITOR"}, Order: -1})
	require.NoError(t, err)
	require.NoError(t, authz.Reload(ctx))
	assert.False(t, authz.Decide(bob, URLKey("GET", "/reports/q3")).Granted())
}

func TestHealthAndPool(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	health := NewHealthService(service)
	require.NoError(t, health.Ping(ctx))
	assert.True(t, health.IsHealthy(ctx))
	assert.True(t, health.Health(ctx).Healthy)

	pool := NewPoolService(service)
	require.NoError(t, pool.ConfigureConnectionPool(DefaultPoolConfig()))
	require.NoError(t, pool.OptimizeConnectionPool(DefaultPoolConfig()))
	require.NoError(t, pool.ResetConnectionPool())
}

func TestPoolService_RequiresDBKit(t *testing.T) {
	pool := NewPoolService(NewService(nil))
	assert.Error(t, pool.ConfigureConnectionPool(DefaultPoolConfig()))
	assert.Equal(t, 0, pool.GetPoolStats().MaxOpenConnections)
}
