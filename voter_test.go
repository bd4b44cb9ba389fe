package accesskit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVote_String(t *testing.T) {
	assert.Equal(t, "ABSTAIN", VoteAbstain.String())
	assert.Equal(t, "GRANT", VoteGrant.String())
	assert.Equal(t, "DENY", VoteDeny.String())
	assert.Equal(t, "VETO", VoteVeto.String())
}

func TestRoleVoter(t *testing.T) {
	voter := NewRoleVoter(stockHierarchy(t))
	key := URLKey("GET", "/messages")

	tests := []struct {
		name        string
		authorities []string
		required    []string
		want        Vote
	}{
		{"direct role", []string{"ROLE_MANAGER"}, []string{"ROLE_MANAGER"}, VoteGrant},
		{"implied role", []string{"ROLE_ADMIN"}, []string{"ROLE_MANAGER"}, VoteGrant},
		{"any of required", []string{"ROLE_USER"}, []string{"ROLE_ADMIN", "ROLE_USER"}, VoteGrant},
		{"missing role abstains", []string{"ROLE_USER"}, []string{"ROLE_MANAGER"}, VoteAbstain},
		{"no authorities abstains", nil, []string{"ROLE_USER"}, VoteAbstain},
		{"no required roles abstains", []string{"ROLE_ADMIN"}, nil, VoteAbstain},
		{"anonymous abstains", []string{AnonymousRole}, []string{"ROLE_USER"}, VoteAbstain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity := NewIdentity("alice", "127.0.0.1", tt.authorities...)
			got := voter.Vote(identity, key, tt.required)
			assert.Equal(t, tt.want, got)
			assert.NotEqual(t, VoteDeny, got, "role voter never denies")
			assert.NotEqual(t, VoteVeto, got, "role voter never vetoes")
		})
	}

	t.Run("nil expander uses direct roles", func(t *testing.T) {
		v := NewRoleVoter(nil)
		identity := NewIdentity("alice", "", "ROLE_ADMIN")
		assert.Equal(t, VoteAbstain, v.Vote(identity, key, []string{"ROLE_USER"}))
		assert.Equal(t, VoteGrant, v.Vote(identity, key, []string{"ROLE_ADMIN"}))
	})

	assert.Equal(t, RoleVoterName, voter.Name())
}

func TestIPAllowListVoter(t *testing.T) {
	al, err := NewAllowList([]string{"127.0.0.1", "::1", "10.0.0.0/8"})
	require.NoError(t, err)
	voter := NewIPAllowListVoter(al)
	key := URLKey("GET", "/config")

	tests := []struct {
		addr string
		want Vote
	}{
		{"127.0.0.1", VoteAbstain},
		{"::1", VoteAbstain},
		{"10.20.30.40", VoteAbstain},
		{"203.0.113.7", VoteVeto},
		{"", VoteVeto},
		{"garbage", VoteVeto},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			identity := NewIdentity("admin", tt.addr, "ROLE_ADMIN")
			got := voter.Vote(identity, key, []string{"ROLE_ADMIN"})
			assert.Equal(t, tt.want, got)
			assert.NotEqual(t, VoteGrant, got, "allow-list voter never grants")
		})
	}

	assert.True(t, voter.CanVeto())
	assert.Equal(t, IPAllowListVoterName, voter.Name())

	t.Run("nil checker vetoes everything", func(t *testing.T) {
		v := NewIPAllowListVoter(nil)
		assert.Equal(t, VoteVeto, v.Vote(NewIdentity("a", "127.0.0.1"), key, nil))
	})
}

func TestVoterFunc(t *testing.T) {
	var seen []string
	v := VoterFunc{
		VoterName: "custom",
		Fn: func(identity Identity, key ResourceKey, required []string) Vote {
			seen = required
			return VoteDeny
		},
	}

	assert.Equal(t, "custom", v.Name())
	assert.Equal(t, VoteDeny, v.Vote(Identity{}, URLKey("GET", "/"), []string{"ROLE_A"}))
	assert.Equal(t, []string{"ROLE_A"}, seen)
}
