package accesskit

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis returns a RedisSource under a unique prefix, or skips the
// test when TEST_REDIS_ADDR is not set.
func setupTestRedis(t *testing.T) *RedisSource {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("redis not available - set TEST_REDIS_ADDR to run this test")
	}

	prefix := fmt.Sprintf("accesskit-test-%d", time.Now().UnixNano())
	src, err := DialRedis(context.Background(), RedisConfig{Addr: addr, Prefix: prefix})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = src.client.Del(context.Background(), src.key("rules"), src.key("hierarchy"), src.key("allowlist")).Err()
		_ = src.Close()
	})
	return src
}

func TestRedisSource_PublishAndLoad(t *testing.T) {
	src := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, src.Ping(ctx))
	require.NoError(t, src.Publish(ctx, DefaultRuleSet().Source()))

	rules, err := src.LoadRules(ctx)
	require.NoError(t, err)
	want, _ := DefaultRuleSet().Source().LoadRules(ctx)
	assert.Equal(t, want, rules)

	edges, err := src.LoadHierarchy(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultRuleSet().Source().Hierarchy, edges)

	addrs, err := src.LoadAllowedAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1", "::1"}, addrs)

	t.Run("publish replaces", func(t *testing.T) {
		require.NoError(t, src.Publish(ctx, NewRuleSet().URL("/only").Roles("ROLE_USER").Done().Source()))

		rules, err := src.LoadRules(ctx)
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.Equal(t, "/only", rules[0].Pattern)

		edges, err := src.LoadHierarchy(ctx)
		require.NoError(t, err)
		assert.Empty(t, edges)
	})

	t.Run("drives an authorizer", func(t *testing.T) {
		require.NoError(t, src.Publish(ctx, DefaultRuleSet().Source()))
		authz := newTestAuthorizer(t, src)
		assert.True(t, authz.Decide(NewIdentity("bob", localAddr, "ROLE_MANAGER"), URLKey("GET", "/messages")).Granted())
	})
}

func TestRedisSource_CorruptRule(t *testing.T) {
	src := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, src.client.RPush(ctx, src.key("rules"), "{not json").Err())
	_, err := src.LoadRules(ctx)
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestDialRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := DialRedis(ctx, RedisConfig{Addr: "127.0.0.1:1"})
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestNewRedisSource_DefaultPrefix(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	src := NewRedisSource(client, "")
	assert.Equal(t, "accesskit:rules", src.key("rules"))
}
