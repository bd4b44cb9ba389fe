package accesskit

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys are separated
// by a double underscore: ACCESSKIT_DECISION__STRATEGY=consensus.
const EnvPrefix = "ACCESSKIT_"

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "ACCESSKIT_CONFIG"

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"accesskit.yaml",
	"accesskit.yml",
	"/etc/accesskit/config.yaml",
}

// Source kinds.
const (
	SourceStatic   = "static"
	SourceFile     = "file"
	SourceDatabase = "database"
	SourceRedis    = "redis"
)

// Config is the full accesskit configuration.
type Config struct {
	Decision DecisionConfig `koanf:"decision"`
	Source   SourceConfig   `koanf:"source"`
	Reload   ReloadConfig   `koanf:"reload"`
	Cache    CacheConfig    `koanf:"cache"`
	Log      LogConfig      `koanf:"log"`
	HTTP     HTTPConfig     `koanf:"http"`
	Database PoolConfig     `koanf:"database"`
}

// DecisionConfig configures the engine and its voters.
type DecisionConfig struct {
	Strategy                  Strategy        `koanf:"strategy" validate:"oneof=affirmative consensus unanimous"`
	Unmatched                 UnmatchedPolicy `koanf:"unmatched" validate:"oneof=permit_all authenticated deny_all"`
	Voters                    []string        `koanf:"voters" validate:"min=1,unique,dive,oneof=ip_allowlist role policy"`
	PermitAll                 []string        `koanf:"permit_all"`
	AllowIfAllAbstain         bool            `koanf:"allow_if_all_abstain"`
	AllowIfEqualGrantedDenied *bool           `koanf:"allow_if_equal_granted_denied"`
	PolicyFile                string          `koanf:"policy_file"`
}

func boolPtr(b bool) *bool { return &b }

// AllowsTies reports whether a consensus tie grants. Unset means true.
func (c DecisionConfig) AllowsTies() bool {
	return c.AllowIfEqualGrantedDenied == nil || *c.AllowIfEqualGrantedDenied
}

// SourceConfig selects where rules, hierarchy and allow-list come from.
type SourceConfig struct {
	Kind        string      `koanf:"kind" validate:"oneof=static file database redis"`
	File        string      `koanf:"file" validate:"required_if=Kind file"`
	DatabaseURL string      `koanf:"database_url" validate:"required_if=Kind database"`
	Redis       RedisConfig `koanf:"redis"`
}

// ReloadConfig configures periodic reloads.
type ReloadConfig struct {
	// Interval between reloads; 0 disables periodic reloads.
	Interval         time.Duration `koanf:"interval" validate:"min=0"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"min=1"`
	OpenTimeout      time.Duration `koanf:"open_timeout" validate:"min=0"`
}

// CacheConfig configures the authority closure cache.
type CacheConfig struct {
	// ClosureTTL is the lifetime of a cached closure; 0 disables the cache.
	ClosureTTL time.Duration `koanf:"closure_ttl" validate:"min=0"`
}

// HTTPConfig configures the admin API and middleware.
type HTTPConfig struct {
	Addr              string        `koanf:"addr" validate:"required"`
	JWTSecret         string        `koanf:"jwt_secret" validate:"omitempty,min=32"`
	TrustForwardedFor bool          `koanf:"trust_forwarded_for"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" validate:"min=0"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"min=0"`
}

// DefaultConfig returns the defaults applied before file and environment.
func DefaultConfig() *Config {
	return &Config{
		Decision: DecisionConfig{
			Strategy:                  StrategyAffirmative,
			Unmatched:                 UnmatchedAuthenticated,
			Voters:                    []string{IPAllowListVoterName, RoleVoterName},
			PermitAll:                 []string{},
			AllowIfAllAbstain:         false,
			AllowIfEqualGrantedDenied: boolPtr(true),
		},
		Source: SourceConfig{
			Kind: SourceStatic,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "accesskit",
			},
		},
		Reload: ReloadConfig{
			Interval:         time.Minute,
			FailureThreshold: 3,
			OpenTimeout:      30 * time.Second,
		},
		Cache: CacheConfig{
			ClosureTTL: 5 * time.Minute,
		},
		Log: LogConfig{
			Env:         "dev",
			Level:       "info",
			ServiceName: "accesskit",
		},
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Database: DefaultPoolConfig(),
	}
}

// LoadConfig layers defaults, the YAML file at path (or the first file found
// in DefaultConfigPaths when path is empty) and ACCESSKIT_ environment
// variables, then validates the result.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that permit-all patterns compile.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return NewError(ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return NewError(ErrInvalidConfig, err.Error())
	}

	if c.Source.Kind == SourceRedis && c.Source.Redis.Addr == "" {
		return NewError(ErrInvalidConfig, "source.redis.addr is required for the redis source")
	}
	if _, err := CompilePermitAll(c.Decision.PermitAll); err != nil {
		return err
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Comma-separated environment values for these keys become lists.
var sliceConfigPaths = []string{
	"decision.voters",
	"decision.permit_all",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		strVal, ok := val.(string)
		if !ok {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envTransformFunc maps ACCESSKIT_HTTP__JWT_SECRET to http.jwt_secret.
func envTransformFunc(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	if key == "CONFIG" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}
