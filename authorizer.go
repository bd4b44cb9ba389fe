package accesskit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Authorizer wires the rule, hierarchy and allow-list stores to an Engine
// and reloads them together from one Source.
type Authorizer struct {
	rules     *RuleStore
	hierarchy *HierarchyStore
	allowlist *AllowListStore
	expander  RoleExpander
	cache     *CachingExpander
	policy    *PolicyVoter
	engine    *Engine
	logger    *zap.Logger
}

// AuthorizerOption configures an Authorizer.
type AuthorizerOption func(*authorizerOptions)

type authorizerOptions struct {
	logger     *zap.Logger
	metrics    *Metrics
	closureTTL time.Duration
	extra      []Voter
}

// WithLogger sets the logger shared by the stores and the engine.
func WithLogger(l *zap.Logger) AuthorizerOption {
	return func(o *authorizerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics shared by the stores and the engine.
func WithMetrics(m *Metrics) AuthorizerOption {
	return func(o *authorizerOptions) {
		o.metrics = m
	}
}

// WithClosureCache caches authority closures for ttl. A ttl of 0 disables the cache.
func WithClosureCache(ttl time.Duration) AuthorizerOption {
	return func(o *authorizerOptions) {
		o.closureTTL = ttl
	}
}

// WithVoters appends custom voters after the configured ones.
func WithVoters(voters ...Voter) AuthorizerOption {
	return func(o *authorizerOptions) {
		o.extra = append(o.extra, voters...)
	}
}

// NewAuthorizer loads every snapshot from src and builds the engine from cfg.
// A failed initial load is fatal: the Authorizer is not returned.
//
// Example:
//
//	authz, err := accesskit.NewAuthorizer(ctx, accesskit.DefaultRuleSet().Source(), cfg.Decision,
//	    accesskit.WithLogger(logger),
//	    accesskit.WithClosureCache(cfg.Cache.ClosureTTL))
func NewAuthorizer(ctx context.Context, src Source, cfg DecisionConfig, opts ...AuthorizerOption) (*Authorizer, error) {
	if src == nil {
		return nil, NewError(ErrInvalidConfig, "source is required")
	}
	o := authorizerOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	storeOpts := []StoreOption{WithStoreLogger(o.logger), WithStoreMetrics(o.metrics)}
	a := &Authorizer{
		rules:     NewRuleStore(src, storeOpts...),
		hierarchy: NewHierarchyStore(src, storeOpts...),
		allowlist: NewAllowListStore(src, storeOpts...),
		logger:    o.logger,
	}
	a.expander = a.hierarchy
	if o.closureTTL > 0 {
		a.cache = NewCachingExpander(a.hierarchy, o.closureTTL, o.metrics)
		a.expander = a.cache
	}

	if err := a.reloadAll(ctx); err != nil {
		return nil, fmt.Errorf("initial load: %w", err)
	}

	voters, err := a.buildVoters(cfg, o.extra)
	if err != nil {
		return nil, err
	}
	permitAll, err := CompilePermitAll(cfg.PermitAll)
	if err != nil {
		return nil, err
	}

	engineOpts := []EngineOption{
		WithPermitAll(permitAll...),
		WithAllowIfAllAbstain(cfg.AllowIfAllAbstain),
		WithAllowIfEqualGrantedDenied(cfg.AllowsTies()),
		WithEngineLogger(o.logger),
		WithEngineMetrics(o.metrics),
	}
	if cfg.Strategy != "" {
		engineOpts = append(engineOpts, WithStrategy(cfg.Strategy))
	}
	if cfg.Unmatched != "" {
		engineOpts = append(engineOpts, WithUnmatchedPolicy(cfg.Unmatched))
	}

	a.engine, err = NewEngine(a.rules, voters, engineOpts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Authorizer) buildVoters(cfg DecisionConfig, extra []Voter) ([]Voter, error) {
	names := cfg.Voters
	if len(names) == 0 {
		names = []string{IPAllowListVoterName, RoleVoterName}
	}

	voters := make([]Voter, 0, len(names)+len(extra))
	for _, name := range names {
		switch name {
		case IPAllowListVoterName:
			voters = append(voters, NewIPAllowListVoter(a.allowlist))
		case RoleVoterName:
			voters = append(voters, NewRoleVoter(a.expander))
		case PolicyVoterName:
			pv, err := NewPolicyVoter(cfg.PolicyFile, a.expander, a.logger)
			if err != nil {
				return nil, err
			}
			a.policy = pv
			voters = append(voters, pv)
		default:
			return nil, NewError(ErrInvalidConfig, fmt.Sprintf("unknown voter %q", name)).WithVoter(name)
		}
	}
	return append(voters, extra...), nil
}

func (a *Authorizer) reloadAll(ctx context.Context) error {
	return errors.Join(
		a.rules.Reload(ctx),
		a.hierarchy.Reload(ctx),
		a.allowlist.Reload(ctx),
	)
}

// Reload rebuilds every snapshot from the source. Components that fail keep
// their previous snapshot; the others are replaced. The casbin policy file,
// if any, is reloaded too.
func (a *Authorizer) Reload(ctx context.Context) error {
	err := a.reloadAll(ctx)
	if a.policy != nil && a.policy.policyPath != "" {
		err = errors.Join(err, a.policy.LoadPolicy())
	}
	if a.cache != nil {
		a.cache.Flush()
	}
	return err
}

// Decide implements Decider.
func (a *Authorizer) Decide(identity Identity, key ResourceKey) Verdict {
	return a.engine.Decide(identity, key)
}

// Invoke runs fn only if identity may call the method named by signature.
func (a *Authorizer) Invoke(ctx context.Context, identity Identity, signature string, fn func(ctx context.Context) error) error {
	return a.engine.Invoke(ctx, identity, signature, fn)
}

// Checker returns a Checker for identity.
func (a *Authorizer) Checker(identity Identity) *Checker {
	return NewChecker(identity, a, a.expander)
}

// Engine returns the decision engine.
func (a *Authorizer) Engine() *Engine { return a.engine }

// Rules returns the rule store.
func (a *Authorizer) Rules() *RuleStore { return a.rules }

// Hierarchy returns the hierarchy store.
func (a *Authorizer) Hierarchy() *HierarchyStore { return a.hierarchy }

// AllowList returns the allow-list store.
func (a *Authorizer) AllowList() *AllowListStore { return a.allowlist }

// Policy returns the casbin policy voter, or nil if it is not configured.
func (a *Authorizer) Policy() *PolicyVoter { return a.policy }

// ComponentStatus describes one live snapshot.
type ComponentStatus struct {
	Version uint64           `json:"version"`
	Entries int              `json:"entries"`
	Reloads OperationMetrics `json:"reloads"`
}

// Status describes every live snapshot.
type Status struct {
	Rules     ComponentStatus `json:"rules"`
	Hierarchy ComponentStatus `json:"hierarchy"`
	AllowList ComponentStatus `json:"allowlist"`
	Strategy  Strategy        `json:"strategy"`
	Voters    []string        `json:"voters"`
}

// Status returns snapshot versions, sizes and reload statistics.
func (a *Authorizer) Status() Status {
	s := Status{
		Strategy: a.engine.Strategy(),
		Voters:   a.engine.Voters(),
	}
	if t := a.rules.Snapshot(); t != nil {
		s.Rules = ComponentStatus{Version: t.Version(), Entries: t.Len()}
	}
	if h := a.hierarchy.Snapshot(); h != nil {
		s.Hierarchy = ComponentStatus{Version: h.Version(), Entries: len(h.Edges())}
	}
	if al := a.allowlist.Snapshot(); al != nil {
		s.AllowList = ComponentStatus{Version: al.Version(), Entries: al.Len()}
	}
	s.Rules.Reloads = a.rules.ReloadMetrics()
	s.Hierarchy.Reloads = a.hierarchy.ReloadMetrics()
	s.AllowList.Reloads = a.allowlist.ReloadMetrics()
	return s
}

var (
	_ Decider  = (*Authorizer)(nil)
	_ Reloader = (*Authorizer)(nil)
)
