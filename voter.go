package accesskit

import (
	"slices"
)

// Vote is a single voter's opinion on a request.
type Vote int

const (
	// VoteAbstain means the voter has no opinion.
	VoteAbstain Vote = iota
	// VoteGrant is a vote in favor of access.
	VoteGrant
	// VoteDeny is an ordinary vote against access; strategies weigh it.
	VoteDeny
	// VoteVeto ends the decision immediately with DENY.
	VoteVeto
)

// String returns the vote name.
func (v Vote) String() string {
	switch v {
	case VoteGrant:
		return "GRANT"
	case VoteDeny:
		return "DENY"
	case VoteVeto:
		return "VETO"
	default:
		return "ABSTAIN"
	}
}

// Voter casts a vote on whether identity may access key, given the roles
// the matched rule requires. Voters must not block.
type Voter interface {
	Name() string
	Vote(identity Identity, key ResourceKey, required []string) Vote
}

// Vetoer is implemented by voters that may veto. The engine always runs
// them before every other voter.
type Vetoer interface {
	CanVeto() bool
}

// RoleExpander expands direct roles with everything they imply.
type RoleExpander interface {
	Expand(roles []string) []string
}

// AddressChecker reports whether a remote address is allow-listed.
type AddressChecker interface {
	Contains(addr string) bool
}

// VoterFunc adapts a function to the Voter interface.
type VoterFunc struct {
	VoterName string
	Fn        func(identity Identity, key ResourceKey, required []string) Vote
}

// Name implements Voter.
func (f VoterFunc) Name() string { return f.VoterName }

// Vote implements Voter.
func (f VoterFunc) Vote(identity Identity, key ResourceKey, required []string) Vote {
	return f.Fn(identity, key, required)
}

// ============================================================================
// ROLE VOTER
// ============================================================================

// RoleVoterName is the name of RoleVoter in verdicts and metrics.
const RoleVoterName = "role"

// RoleVoter grants when the identity's hierarchy-expanded authorities
// intersect the required roles. It never denies: a mismatch is an abstention.
type RoleVoter struct {
	expander RoleExpander
}

// NewRoleVoter creates a RoleVoter. A nil expander uses direct authorities only.
func NewRoleVoter(expander RoleExpander) *RoleVoter {
	if expander == nil {
		expander = EmptyHierarchy()
	}
	return &RoleVoter{expander: expander}
}

// Name implements Voter.
func (v *RoleVoter) Name() string { return RoleVoterName }

// Vote implements Voter.
func (v *RoleVoter) Vote(identity Identity, key ResourceKey, required []string) Vote {
	if len(required) == 0 {
		return VoteAbstain
	}
	for _, role := range v.expander.Expand(identity.Authorities) {
		if slices.Contains(required, role) {
			return VoteGrant
		}
	}
	return VoteAbstain
}

// ============================================================================
// IP ALLOW-LIST VOTER
// ============================================================================

// IPAllowListVoterName is the name of IPAllowListVoter in verdicts and metrics.
const IPAllowListVoterName = "ip_allowlist"

// IPAllowListVoter abstains for allow-listed remote addresses and vetoes
// everything else.
type IPAllowListVoter struct {
	addresses AddressChecker
}

// NewIPAllowListVoter creates an IPAllowListVoter over addresses.
func NewIPAllowListVoter(addresses AddressChecker) *IPAllowListVoter {
	return &IPAllowListVoter{addresses: addresses}
}

// Name implements Voter.
func (v *IPAllowListVoter) Name() string { return IPAllowListVoterName }

// CanVeto implements Vetoer.
func (v *IPAllowListVoter) CanVeto() bool { return true }

// Vote implements Voter.
func (v *IPAllowListVoter) Vote(identity Identity, key ResourceKey, required []string) Vote {
	if v.addresses != nil && v.addresses.Contains(identity.RemoteAddress) {
		return VoteAbstain
	}
	return VoteVeto
}
