package accesskit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyVoter_AddPolicy(t *testing.T) {
	voter, err := NewPolicyVoter("", stockHierarchy(t), nil)
	require.NoError(t, err)
	assert.Equal(t, PolicyVoterName, voter.Name())

	added, err := voter.AddPolicy("ROLE_MANAGER", "/reports/:id", "GET")
	require.NoError(t, err)
	assert.True(t, added)
	_, err = voter.AddPolicy("ROLE_USER", "/profile/*", "*")
	require.NoError(t, err)

	tests := []struct {
		name  string
		roles []string
		key   ResourceKey
		want  Vote
	}{
		{"direct role and method", []string{"ROLE_MANAGER"}, URLKey("GET", "/reports/7"), VoteGrant},
		{"implied role", []string{"ROLE_ADMIN"}, URLKey("GET", "/reports/7"), VoteGrant},
		{"wrong method", []string{"ROLE_MANAGER"}, URLKey("DELETE", "/reports/7"), VoteAbstain},
		{"any method", []string{"ROLE_USER"}, URLKey("PUT", "/profile/avatar"), VoteGrant},
		{"wildcard spans segments", []string{"ROLE_USER"}, URLKey("PATCH", "/profile/settings/theme"), VoteGrant},
		{"missing role", []string{"ROLE_USER"}, URLKey("GET", "/reports/7"), VoteAbstain},
		{"invocation abstains", []string{"ROLE_ADMIN"}, MethodKey("io.app.ReportService.get"), VoteAbstain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity := NewIdentity("p", localAddr, tt.roles...)
			got := voter.Vote(identity, tt.key, nil)
			assert.Equal(t, tt.want, got)
			assert.NotEqual(t, VoteDeny, got)
		})
	}

	removed, err := voter.RemovePolicy("ROLE_MANAGER", "/reports/:id", "GET")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, VoteAbstain, voter.Vote(NewIdentity("p", "", "ROLE_MANAGER"), URLKey("GET", "/reports/7"), nil))
}

func TestPolicyVoter_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.csv")
	require.NoError(t, os.WriteFile(path, []byte("p, ROLE_USER, /orders/:id, GET\n"), 0o644))

	voter, err := NewPolicyVoter(path, nil, nil)
	require.NoError(t, err)

	user := NewIdentity("carol", "", "ROLE_USER")
	assert.Equal(t, VoteGrant, voter.Vote(user, URLKey("GET", "/orders/1"), nil))
	assert.Equal(t, VoteAbstain, voter.Vote(user, URLKey("GET", "/invoices/1"), nil))

	require.NoError(t, os.WriteFile(path, []byte("p, ROLE_USER, /invoices/:id, GET\n"), 0o644))
	require.NoError(t, voter.LoadPolicy())

	assert.Equal(t, VoteAbstain, voter.Vote(user, URLKey("GET", "/orders/1"), nil))
	assert.Equal(t, VoteGrant, voter.Vote(user, URLKey("GET", "/invoices/1"), nil))
}

func TestPolicyVoter_LoadPolicyWithoutFile(t *testing.T) {
	voter, err := NewPolicyVoter("", nil, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, voter.LoadPolicy(), ErrInvalidConfig)
}
