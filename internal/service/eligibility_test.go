package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrariahq/agraria-api/internal/models"
)

type identifierSourceStub struct {
	roles       map[string][]string
	permissions map[string][]string
	activeUsers []string
	roleUsers   map[string][]string
	permUsers   map[string][]string
	err         error
}

func (s *identifierSourceStub) RoleNamesForUser(ctx context.Context, userID string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.roles[userID], nil
}

func (s *identifierSourceStub) PermissionNamesForUser(ctx context.Context, userID string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.permissions[userID], nil
}

func (s *identifierSourceStub) ActiveUserIDs(ctx context.Context, ids []string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []string
	for _, id := range ids {
		for _, active := range s.activeUsers {
			if id == active {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func (s *identifierSourceStub) UserIDsWithAnyRole(ctx context.Context, roleNames []string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []string
	for _, name := range roleNames {
		out = append(out, s.roleUsers[name]...)
	}
	return out, nil
}

func (s *identifierSourceStub) UserIDsWithAnyPermission(ctx context.Context, permissions []string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []string
	for _, name := range permissions {
		out = append(out, s.permUsers[name]...)
	}
	return out, nil
}

func roleStep(approverType models.ApproverType, identifiers ...string) *models.ApprovalStep {
	return &models.ApprovalStep{
		ID:                  "step-1",
		StepOrder:           1,
		StepPurpose:         models.PurposeApproval,
		ApproverType:        approverType,
		ApproverIdentifiers: identifiers,
		RequiredApprovals:   1,
	}
}

func TestIdentifierSetMatchesStep(t *testing.T) {
	set := IdentifierSet{
		UserID:      "u1",
		Roles:       []string{"FINANCE", "RESEARCHER"},
		Permissions: []string{"program.approve"},
	}

	assert.True(t, set.MatchesStep(roleStep(models.ApproverUser, "u1", "u2")))
	assert.False(t, set.MatchesStep(roleStep(models.ApproverUser, "u2")))

	assert.True(t, set.MatchesStep(roleStep(models.ApproverRole, "FINANCE")))
	assert.False(t, set.MatchesStep(roleStep(models.ApproverRole, "SUPERADMIN")))

	assert.True(t, set.MatchesStep(roleStep(models.ApproverPermission, "program.approve")))
	assert.False(t, set.MatchesStep(roleStep(models.ApproverPermission, "program.delete")))

	// empty identifier lists never match
	assert.False(t, set.MatchesStep(roleStep(models.ApproverRole)))
	assert.False(t, set.MatchesStep(nil))
	assert.False(t, IdentifierSet{UserID: "u1"}.MatchesStep(roleStep(models.ApproverRole, "FINANCE")))
}

func TestResolverCanAct(t *testing.T) {
	ctx := context.Background()
	source := &identifierSourceStub{
		roles:       map[string][]string{"u1": {"FINANCE"}},
		permissions: map[string][]string{"u1": {"revenue.post"}},
	}
	resolver := NewEligibilityResolver(source, nil, 0, nil)

	ok, err := resolver.CanAct(ctx, "u1", roleStep(models.ApproverRole, "FINANCE"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = resolver.CanAct(ctx, "u1", roleStep(models.ApproverRole, "SITE_ADMIN"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = resolver.CanAct(ctx, "u2", roleStep(models.ApproverRole, "FINANCE"))
	require.NoError(t, err)
	assert.False(t, ok)

	source.err = errors.New("db down")
	_, err = resolver.CanAct(ctx, "u1", roleStep(models.ApproverRole, "FINANCE"))
	assert.Error(t, err)
}

func TestResolverEligibleUserIDs(t *testing.T) {
	ctx := context.Background()
	source := &identifierSourceStub{
		activeUsers: []string{"u1"},
		roleUsers:   map[string][]string{"FINANCE": {"u1", "u2"}},
		permUsers:   map[string][]string{"program.approve": {"u3"}},
	}
	resolver := NewEligibilityResolver(source, nil, 0, nil)

	ids, err := resolver.EligibleUserIDs(ctx, roleStep(models.ApproverUser, "u1", "u9"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)

	ids, err = resolver.EligibleUserIDs(ctx, roleStep(models.ApproverRole, "FINANCE"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)

	ids, err = resolver.EligibleUserIDs(ctx, roleStep(models.ApproverPermission, "program.approve"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, ids)

	ids, err = resolver.EligibleUserIDs(ctx, roleStep(models.ApproverRole))
	require.NoError(t, err)
	assert.Nil(t, ids)

	has, err := resolver.HasEligibleActors(ctx, roleStep(models.ApproverRole, "FINANCE"))
	require.NoError(t, err)
	assert.True(t, has)

	has, err = resolver.HasEligibleActors(ctx, roleStep(models.ApproverUser, "u9"))
	require.NoError(t, err)
	assert.False(t, has)
}
