package accesskit

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
)

// Strategy selects how votes are combined.
type Strategy string

const (
	// StrategyAffirmative grants on the first GRANT.
	StrategyAffirmative Strategy = "affirmative"
	// StrategyConsensus compares GRANT and DENY counts.
	StrategyConsensus Strategy = "consensus"
	// StrategyUnanimous denies on any DENY and needs at least one GRANT.
	StrategyUnanimous Strategy = "unanimous"
)

// UnmatchedPolicy decides requests for which no rule (or a rule without
// roles) applies. Voters are not consulted for such requests.
type UnmatchedPolicy string

const (
	// UnmatchedPermitAll grants every unmatched request.
	UnmatchedPermitAll UnmatchedPolicy = "permit_all"
	// UnmatchedAuthenticated grants unmatched requests to non-anonymous identities.
	UnmatchedAuthenticated UnmatchedPolicy = "authenticated"
	// UnmatchedDenyAll denies every unmatched request.
	UnmatchedDenyAll UnmatchedPolicy = "deny_all"
)

// Matcher finds the rule that applies to a key.
type Matcher interface {
	Match(key ResourceKey) (ResourceRule, bool)
}

// Engine turns an identity and a resource key into a Verdict. Decide is
// synchronous and performs no I/O; all data comes from in-memory snapshots.
type Engine struct {
	matcher           Matcher
	voters            []Voter
	strategy          Strategy
	unmatched         UnmatchedPolicy
	allowIfAllAbstain bool
	allowIfEqual      bool
	permitAll         []*Pattern
	logger            *zap.Logger
	metrics           *Metrics
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithStrategy sets the vote combination strategy. Default: affirmative.
func WithStrategy(s Strategy) EngineOption {
	return func(e *Engine) {
		e.strategy = s
	}
}

// WithUnmatchedPolicy sets the policy for unmatched resources. Default: authenticated.
func WithUnmatchedPolicy(p UnmatchedPolicy) EngineOption {
	return func(e *Engine) {
		e.unmatched = p
	}
}

// WithAllowIfAllAbstain grants when every voter abstains. Default: false.
func WithAllowIfAllAbstain(allow bool) EngineOption {
	return func(e *Engine) {
		e.allowIfAllAbstain = allow
	}
}

// WithAllowIfEqualGrantedDenied sets the consensus tie breaker. Default: true.
func WithAllowIfEqualGrantedDenied(allow bool) EngineOption {
	return func(e *Engine) {
		e.allowIfEqual = allow
	}
}

// WithPermitAll sets URL patterns that are granted without voting.
func WithPermitAll(patterns ...*Pattern) EngineOption {
	return func(e *Engine) {
		e.permitAll = append(e.permitAll, patterns...)
	}
}

// WithEngineLogger sets the logger.
func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEngineMetrics sets the metrics sink.
func WithEngineMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an Engine. Voters run in the given order, except that
// voters implementing Vetoer with CanVeto() true always run first.
//
// Example:
//
//	engine, err := accesskit.NewEngine(rules,
//	    []accesskit.Voter{
//	        accesskit.NewIPAllowListVoter(allowList),
//	        accesskit.NewRoleVoter(hierarchy),
//	    },
//	    accesskit.WithUnmatchedPolicy(accesskit.UnmatchedAuthenticated),
//	)
func NewEngine(matcher Matcher, voters []Voter, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		matcher:      matcher,
		strategy:     StrategyAffirmative,
		unmatched:    UnmatchedAuthenticated,
		allowIfEqual: true,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if matcher == nil {
		return nil, fmt.Errorf("%w: matcher is required", ErrInvalidConfig)
	}
	switch e.strategy {
	case StrategyAffirmative, StrategyConsensus, StrategyUnanimous:
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, e.strategy)
	}
	switch e.unmatched {
	case UnmatchedPermitAll, UnmatchedAuthenticated, UnmatchedDenyAll:
	default:
		return nil, fmt.Errorf("%w: unknown unmatched policy %q", ErrInvalidConfig, e.unmatched)
	}

	names := make(map[string]bool, len(voters))
	ordered := make([]Voter, 0, len(voters))
	var rest []Voter
	for _, v := range voters {
		if v == nil {
			return nil, fmt.Errorf("%w: nil voter", ErrInvalidConfig)
		}
		if names[v.Name()] {
			return nil, fmt.Errorf("%w: duplicate voter %q", ErrInvalidConfig, v.Name())
		}
		names[v.Name()] = true
		if vt, ok := v.(Vetoer); ok && vt.CanVeto() {
			ordered = append(ordered, v)
			continue
		}
		rest = append(rest, v)
	}
	e.voters = append(ordered, rest...)
	return e, nil
}

// Voters returns the voter names in evaluation order.
func (e *Engine) Voters() []string {
	names := make([]string, len(e.voters))
	for i, v := range e.voters {
		names[i] = v.Name()
	}
	return names
}

// Strategy returns the configured strategy.
func (e *Engine) Strategy() Strategy {
	return e.strategy
}

// UnmatchedPolicy returns the configured unmatched policy.
func (e *Engine) UnmatchedPolicy() UnmatchedPolicy {
	return e.unmatched
}

// Decide returns the verdict for identity accessing key.
func (e *Engine) Decide(identity Identity, key ResourceKey) Verdict {
	start := time.Now()
	v := e.decide(identity, key)
	e.metrics.observeDecision(v, e.strategy, time.Since(start))

	if v.Vetoed() {
		e.logger.Info("access vetoed",
			zap.String("principal", identity.PrincipalID),
			zap.String("remote_address", identity.RemoteAddress),
			zap.String("resource", key.String()),
			zap.String("voter", v.VetoingVoter))
	} else if ce := e.logger.Check(zap.DebugLevel, "access decided"); ce != nil {
		ce.Write(
			zap.String("principal", identity.PrincipalID),
			zap.String("resource", key.String()),
			zap.Stringer("outcome", v.Outcome),
			zap.String("pattern", v.Pattern),
			zap.String("reason", v.Reason))
	}
	return v
}

func (e *Engine) decide(identity Identity, key ResourceKey) Verdict {
	if p, ok := MatchAny(e.permitAll, key); ok {
		return Verdict{Outcome: OutcomeGrant, Pattern: p.String(), Reason: "permit all"}
	}

	rule, ok := e.matcher.Match(key)
	if !ok || len(rule.RequiredRoles) == 0 {
		v := e.decideUnmatched(identity)
		if ok {
			v.Pattern = rule.Pattern
		}
		return v
	}

	v := e.vote(identity, key, rule.RequiredRoles)
	v.Pattern = rule.Pattern
	v.RequiredRoles = slices.Clone(rule.RequiredRoles)
	if !v.Granted() && identity.IsAnonymous() && !v.Vetoed() {
		v.AuthenticationRequired = true
	}
	return v
}

func (e *Engine) decideUnmatched(identity Identity) Verdict {
	e.metrics.observeUnmatched(e.unmatched)
	switch e.unmatched {
	case UnmatchedPermitAll:
		return Verdict{Outcome: OutcomeGrant, Reason: "no rule matched: permit all"}
	case UnmatchedAuthenticated:
		if identity.IsAnonymous() {
			return Verdict{Outcome: OutcomeDeny, AuthenticationRequired: true, Reason: "no rule matched: authentication required"}
		}
		return Verdict{Outcome: OutcomeGrant, Reason: "no rule matched: authenticated"}
	default:
		return Verdict{Outcome: OutcomeDeny, Reason: "no rule matched: deny all"}
	}
}

func (e *Engine) vote(identity Identity, key ResourceKey, required []string) Verdict {
	var grants, denies int
	var firstGrant, firstDeny string

	for _, voter := range e.voters {
		switch voter.Vote(identity, key, required) {
		case VoteVeto:
			return Verdict{Outcome: OutcomeDeny, VetoingVoter: voter.Name(), DecidingVoter: voter.Name(), Reason: "vetoed by " + voter.Name()}
		case VoteGrant:
			if e.strategy == StrategyAffirmative {
				return Verdict{Outcome: OutcomeGrant, DecidingVoter: voter.Name(), Reason: "granted by " + voter.Name()}
			}
			grants++
			if firstGrant == "" {
				firstGrant = voter.Name()
			}
		case VoteDeny:
			if e.strategy == StrategyUnanimous {
				return Verdict{Outcome: OutcomeDeny, DecidingVoter: voter.Name(), Reason: "denied by " + voter.Name()}
			}
			denies++
			if firstDeny == "" {
				firstDeny = voter.Name()
			}
		}
	}

	switch e.strategy {
	case StrategyConsensus:
		switch {
		case grants > denies:
			return Verdict{Outcome: OutcomeGrant, DecidingVoter: firstGrant, Reason: fmt.Sprintf("consensus %d:%d", grants, denies)}
		case denies > grants:
			return Verdict{Outcome: OutcomeDeny, DecidingVoter: firstDeny, Reason: fmt.Sprintf("consensus %d:%d", grants, denies)}
		case grants > 0:
			if e.allowIfEqual {
				return Verdict{Outcome: OutcomeGrant, Reason: fmt.Sprintf("consensus tie %d:%d", grants, denies)}
			}
			return Verdict{Outcome: OutcomeDeny, Reason: fmt.Sprintf("consensus tie %d:%d", grants, denies)}
		}
	case StrategyUnanimous:
		if grants > 0 {
			return Verdict{Outcome: OutcomeGrant, DecidingVoter: firstGrant, Reason: "unanimous"}
		}
	default:
		if denies > 0 {
			return Verdict{Outcome: OutcomeDeny, DecidingVoter: firstDeny, Reason: "denied by " + firstDeny}
		}
	}

	if e.allowIfAllAbstain {
		return Verdict{Outcome: OutcomeGrant, Reason: "all voters abstained"}
	}
	return Verdict{Outcome: OutcomeDeny, Reason: "all voters abstained"}
}

// Invoke runs fn only if identity may call the method named by signature.
// A DENY verdict is returned as an *Error wrapping ErrAccessDenied or
// ErrUnauthenticated.
//
// Example:
//
//	err := engine.Invoke(ctx, identity, "io.app.OrderService.order", func(ctx context.Context) error {
//	    return orders.Place(ctx, order)
//	})
func (e *Engine) Invoke(ctx context.Context, identity Identity, signature string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := e.Decide(identity, MethodKey(signature))
	if err := v.Err(identity); err != nil {
		return err
	}
	return fn(WithVerdict(ctx, v))
}
