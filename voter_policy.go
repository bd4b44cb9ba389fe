package accesskit

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"go.uber.org/zap"
)

// PolicyVoterName is the name of PolicyVoter in verdicts and metrics.
const PolicyVoterName = "policy"

// policyModel matches (role, path, method) against p rows with keyMatch2
// path patterns ("/orders/:id", "/admin/*") and "*" for any method.
const policyModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch2(r.obj, p.obj) && (p.act == "*" || r.act == p.act)
`

// PolicyVoter grants URL requests allowed by a casbin policy for any of the
// identity's hierarchy-expanded roles. It abstains otherwise, and always
// abstains for method invocations.
type PolicyVoter struct {
	enforcer   *casbin.SyncedEnforcer
	expander   RoleExpander
	logger     *zap.Logger
	policyPath string
}

// NewPolicyVoter creates a PolicyVoter. An empty policyPath starts with no
// policies; rows can then be added with AddPolicy.
func NewPolicyVoter(policyPath string, expander RoleExpander, logger *zap.Logger) (*PolicyVoter, error) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, fmt.Errorf("%w: policy model: %v", ErrInvalidConfig, err)
	}

	var enforcer *casbin.SyncedEnforcer
	if policyPath != "" {
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(policyPath))
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: policy enforcer: %v", ErrInvalidConfig, err)
	}

	if expander == nil {
		expander = EmptyHierarchy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PolicyVoter{enforcer: enforcer, expander: expander, logger: logger, policyPath: policyPath}, nil
}

// Name implements Voter.
func (v *PolicyVoter) Name() string { return PolicyVoterName }

// Vote implements Voter.
func (v *PolicyVoter) Vote(identity Identity, key ResourceKey, required []string) Vote {
	if key.Type.invocation() {
		return VoteAbstain
	}
	for _, role := range v.expander.Expand(identity.Authorities) {
		ok, err := v.enforcer.Enforce(role, key.Path, key.HTTPMethod)
		if err != nil {
			v.logger.Warn("policy evaluation failed", zap.String("role", role), zap.Error(err))
			continue
		}
		if ok {
			return VoteGrant
		}
	}
	return VoteAbstain
}

// AddPolicy allows role to perform method on path. method "*" allows any method.
func (v *PolicyVoter) AddPolicy(role, path, method string) (bool, error) {
	return v.enforcer.AddPolicy(role, path, method)
}

// RemovePolicy removes a policy row.
func (v *PolicyVoter) RemovePolicy(role, path, method string) (bool, error) {
	return v.enforcer.RemovePolicy(role, path, method)
}

// LoadPolicy reloads policy rows from the policy file.
func (v *PolicyVoter) LoadPolicy() error {
	if v.policyPath == "" {
		return fmt.Errorf("%w: policy voter has no policy file", ErrInvalidConfig)
	}
	return v.enforcer.LoadPolicy()
}
