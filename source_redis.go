package accesskit

import (
	"context"
	"fmt"
	"slices"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisSource reads rules, hierarchy and allow-list from Redis:
//
//	<prefix>:rules      LIST of JSON encoded ResourceRule, in match order
//	<prefix>:hierarchy  LIST of "PARENT > CHILD" strings
//	<prefix>:allowlist  SET of addresses and CIDR prefixes
type RedisSource struct {
	client redis.UniversalClient
	prefix string
}

// RedisConfig configures a RedisSource.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"min=0"`
	Prefix   string `koanf:"prefix"`
}

// NewRedisSource creates a RedisSource over an existing client.
func NewRedisSource(client redis.UniversalClient, prefix string) *RedisSource {
	if prefix == "" {
		prefix = "accesskit"
	}
	return &RedisSource{client: client, prefix: prefix}
}

// DialRedis connects to Redis and verifies the connection.
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisSource, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis %s: %w", ErrSourceUnavailable, cfg.Addr, err)
	}
	return NewRedisSource(client, cfg.Prefix), nil
}

func (s *RedisSource) key(name string) string {
	return s.prefix + ":" + name
}

// LoadRules implements RuleSource.
func (s *RedisSource) LoadRules(ctx context.Context) ([]ResourceRule, error) {
	raw, err := s.client.LRange(ctx, s.key("rules"), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	rules := make([]ResourceRule, 0, len(raw))
	for i, item := range raw {
		var r ResourceRule
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("%w: rule %d: %v", ErrInvalidRule, i, err)
		}
		r.Order = i
		rules = append(rules, r)
	}
	return rules, nil
}

// LoadHierarchy implements HierarchySource.
func (s *RedisSource) LoadHierarchy(ctx context.Context) ([]RoleHierarchyEdge, error) {
	lines, err := s.client.LRange(ctx, s.key("hierarchy"), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return ParseEdges(lines)
}

// LoadAllowedAddresses implements AddressSource. Addresses are sorted.
func (s *RedisSource) LoadAllowedAddresses(ctx context.Context) ([]string, error) {
	addrs, err := s.client.SMembers(ctx, s.key("allowlist")).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(addrs)
	return addrs, nil
}

// Publish replaces everything stored under the prefix in one transaction.
func (s *RedisSource) Publish(ctx context.Context, src *StaticSource) error {
	rules := make([]any, 0, len(src.Rules))
	for _, r := range src.Rules {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		rules = append(rules, string(data))
	}
	edges := make([]any, 0, len(src.Hierarchy))
	for _, e := range src.Hierarchy {
		edges = append(edges, e.String())
	}
	addrs := make([]any, 0, len(src.Addresses))
	for _, a := range src.Addresses {
		addrs = append(addrs, a)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key("rules"), s.key("hierarchy"), s.key("allowlist"))
		if len(rules) > 0 {
			pipe.RPush(ctx, s.key("rules"), rules...)
		}
		if len(edges) > 0 {
			pipe.RPush(ctx, s.key("hierarchy"), edges...)
		}
		if len(addrs) > 0 {
			pipe.SAdd(ctx, s.key("allowlist"), addrs...)
		}
		return nil
	})
	return err
}

// Ping checks the connection.
func (s *RedisSource) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisSource) Close() error {
	return s.client.Close()
}
