package accesskit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminRules() []ResourceRule {
	return []ResourceRule{
		{Pattern: "/admin/pay", RequiredRoles: []string{"ROLE_ADMIN"}},
		{Pattern: "/admin/**", RequiredRoles: []string{"ROLE_ADMIN", "ROLE_MANAGER"}},
		{Pattern: "/api/orders", HTTPMethod: "post", RequiredRoles: []string{"ROLE_USER"}},
		{Pattern: "io.app.OrderService.*", Type: ResourceTypeMethod, RequiredRoles: []string{"ROLE_USER"}},
	}
}

func TestRuleTable_FirstMatchWins(t *testing.T) {
	table, err := NewRuleTable(adminRules())
	require.NoError(t, err)

	rule, ok := table.Match(URLKey("GET", "/admin/pay"))
	require.True(t, ok)
	assert.Equal(t, "/admin/pay", rule.Pattern)
	assert.Equal(t, []string{"ROLE_ADMIN"}, rule.RequiredRoles)

	rule, ok = table.Match(URLKey("GET", "/admin/users"))
	require.True(t, ok)
	assert.Equal(t, "/admin/**", rule.Pattern)

	t.Run("order is not specificity", func(t *testing.T) {
		reversed, err := NewRuleTable([]ResourceRule{
			{Pattern: "/admin/**", RequiredRoles: []string{"ROLE_ADMIN", "ROLE_MANAGER"}},
			{Pattern: "/admin/pay", RequiredRoles: []string{"ROLE_ADMIN"}},
		})
		require.NoError(t, err)

		rule, ok := reversed.Match(URLKey("GET", "/admin/pay"))
		require.True(t, ok)
		assert.Equal(t, "/admin/**", rule.Pattern)
	})
}

func TestRuleTable_MethodAndType(t *testing.T) {
	table, err := NewRuleTable(adminRules())
	require.NoError(t, err)

	rule, ok := table.Match(URLKey("POST", "/api/orders"))
	require.True(t, ok)
	assert.Equal(t, "POST", rule.HTTPMethod)

	_, ok = table.Match(URLKey("GET", "/api/orders"))
	assert.False(t, ok)

	rule, ok = table.Match(MethodKey("io.app.OrderService.order"))
	require.True(t, ok)
	assert.Equal(t, ResourceTypeMethod, rule.Type)

	_, ok = table.Match(URLKey("GET", "/unknown"))
	assert.False(t, ok)
}

func TestRuleTable_InvalidRuleFailsTable(t *testing.T) {
	rules := append(adminRules(), ResourceRule{Pattern: "no-slash", RequiredRoles: []string{"ROLE_USER"}})
	_, err := NewRuleTable(rules)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPattern)

	_, err = NewRuleTable([]ResourceRule{{Pattern: "/x", Type: "acl"}})
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestRuleTable_CopiesInput(t *testing.T) {
	rules := adminRules()
	table, err := NewRuleTable(rules)
	require.NoError(t, err)

	rules[0].Pattern = "/changed"
	rules[0].RequiredRoles[0] = "ROLE_NOBODY"

	got := table.Rules()
	assert.Equal(t, "/admin/pay", got[0].Pattern)
	assert.Equal(t, []string{"ROLE_ADMIN"}, got[0].RequiredRoles)

	got[1].RequiredRoles[0] = "ROLE_NOBODY"
	assert.Equal(t, []string{"ROLE_ADMIN", "ROLE_MANAGER"}, table.Rules()[1].RequiredRoles)
}

func TestRuleTable_NormalizesRoles(t *testing.T) {
	table, err := NewRuleTable([]ResourceRule{
		{Pattern: "/a", RequiredRoles: []string{" ROLE_B ", "ROLE_A", "ROLE_B", ""}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"ROLE_B", "ROLE_A"}, table.Rules()[0].RequiredRoles)
	assert.Equal(t, ResourceTypeURL, table.Rules()[0].Type)
}

func TestRuleTable_Roles(t *testing.T) {
	table, err := NewRuleTable(adminRules())
	require.NoError(t, err)
	assert.Equal(t, []string{"ROLE_ADMIN", "ROLE_MANAGER", "ROLE_USER"}, table.Roles())
	assert.Equal(t, 4, table.Len())
}

func TestRuleTable_Equal(t *testing.T) {
	a, err := NewRuleTable(adminRules())
	require.NoError(t, err)
	b, err := NewRuleTable(adminRules())
	require.NoError(t, err)
	assert.True(t, a.Equal(b))

	changed := adminRules()
	changed[0], changed[1] = changed[1], changed[0]
	c, err := NewRuleTable(changed)
	require.NoError(t, err)
	assert.False(t, a.Equal(c))

	var nilTable *RuleTable
	assert.False(t, a.Equal(nilTable))
	assert.True(t, nilTable.Equal(nil))
}

func TestSortByOrder(t *testing.T) {
	rules := []ResourceRule{
		{Pattern: "/c", Order: 2},
		{Pattern: "/a", Order: 1},
		{Pattern: "/b", Order: 1},
	}
	sorted := SortByOrder(rules)

	assert.Equal(t, "/a", sorted[0].Pattern)
	assert.Equal(t, "/b", sorted[1].Pattern)
	assert.Equal(t, "/c", sorted[2].Pattern)
	assert.Equal(t, "/c", rules[0].Pattern, "input is not modified")
}

func TestResourceRule_String(t *testing.T) {
	assert.Equal(t, "POST /api/orders -> [ROLE_USER]", ResourceRule{
		Pattern: "/api/orders", HTTPMethod: "POST", RequiredRoles: []string{"ROLE_USER"},
	}.String())
	assert.Equal(t, "/config -> []", ResourceRule{Pattern: "/config"}.String())
}
