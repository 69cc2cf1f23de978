package authz_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rossant/triagedeck/internal/authz"
)

func TestAllowMatrix(t *testing.T) {
	e := authz.NewEvaluator()
	open := authz.OrgPolicy{ViewerMayCreateExport: true, ReviewerMaySeeOthersExports: true}
	closed := authz.OrgPolicy{}

	cases := []struct {
		role   authz.Role
		action authz.Action
		policy authz.OrgPolicy
		want   bool
	}{
		{authz.RoleViewer, authz.ActionReadProject, closed, true},
		{authz.RoleViewer, authz.ActionWriteDecision, closed, false},
		{authz.RoleReviewer, authz.ActionWriteDecision, closed, true},
		{authz.RoleAdmin, authz.ActionWriteDecision, closed, true},
		{authz.RoleViewer, authz.ActionCreateExport, closed, false},
		{authz.RoleViewer, authz.ActionCreateExport, open, true},
		{authz.RoleReviewer, authz.ActionCreateExport, closed, true},
		{authz.RoleReviewer, authz.ActionReadOthersExport, closed, false},
		{authz.RoleReviewer, authz.ActionReadOthersExport, open, true},
		{authz.RoleAdmin, authz.ActionReadOthersExport, closed, true},
		{authz.RoleViewer, authz.ActionCancelExport, closed, false},
		{authz.RoleViewer, authz.ActionCancelExport, open, true},
	}

	for _, tc := range cases {
		got := e.Allow(tc.role, tc.action, tc.policy)
		require.Equalf(t, tc.want, got, "role=%s action=%s policy=%+v", tc.role, tc.action, tc.policy)
	}
}

type stubIdentity struct {
	role     authz.Role
	isMember bool
}

func (s stubIdentity) ID() string    { return "u1" }
func (s stubIdentity) Email() string { return "u1@example.com" }

func (s stubIdentity) RoleIn(_ context.Context, _ string) (authz.Role, bool, error) {
	return s.role, s.isMember, nil
}

func TestResolveDistinguishesNonMembershipFromDenial(t *testing.T) {
	e := authz.NewEvaluator()

	allowed, member, err := authz.Resolve(context.Background(), e, stubIdentity{isMember: false}, "p1", authz.ActionReadProject, authz.OrgPolicy{})
	require.NoError(t, err)
	require.False(t, allowed)
	require.False(t, member)

	allowed, member, err = authz.Resolve(context.Background(), e, stubIdentity{role: authz.RoleViewer, isMember: true}, "p1", authz.ActionWriteDecision, authz.OrgPolicy{})
	require.NoError(t, err)
	require.False(t, allowed)
	require.True(t, member)

	allowed, member, err = authz.Resolve(context.Background(), e, stubIdentity{role: authz.RoleAdmin, isMember: true}, "p1", authz.ActionWriteDecision, authz.OrgPolicy{})
	require.NoError(t, err)
	require.True(t, allowed)
	require.True(t, member)
}
