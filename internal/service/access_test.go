package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schooltrack/demerit-api/internal/models"
)

type fakeLinkLookup struct {
	children map[string][]string
	err      error
}

func (f *fakeLinkLookup) ChildIDs(_ context.Context, parentID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.children[parentID], nil
}

func TestScopeForStaffSeesAll(t *testing.T) {
	gate := NewAccessGate(&fakeLinkLookup{}, nil)

	for _, role := range []models.UserRole{models.RoleAdmin, models.RoleTeacher} {
		scope, err := gate.ScopeFor(context.Background(), "u1", role)
		require.NoError(t, err)
		assert.True(t, scope.All)
	}
}

func TestScopeForStudentIsOwnID(t *testing.T) {
	gate := NewAccessGate(&fakeLinkLookup{}, nil)

	scope, err := gate.ScopeFor(context.Background(), "s1", models.RoleStudent)
	require.NoError(t, err)
	assert.False(t, scope.All)
	assert.Equal(t, []string{"s1"}, scope.StudentIDs)
}

func TestScopeForParentUsesLinks(t *testing.T) {
	gate := NewAccessGate(&fakeLinkLookup{children: map[string][]string{"p1": {"s1", "s2"}}}, nil)

	scope, err := gate.ScopeFor(context.Background(), "p1", models.RoleParent)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, scope.StudentIDs)
}

func TestScopeForUnlinkedParentIsEmptyNotError(t *testing.T) {
	gate := NewAccessGate(&fakeLinkLookup{}, nil)

	scope, err := gate.ScopeFor(context.Background(), "p1", models.RoleParent)
	require.NoError(t, err)
	assert.False(t, scope.All)
	assert.Empty(t, scope.StudentIDs)
	assert.NotNil(t, scope.StudentIDs)
}

func TestScopeForParentLookupError(t *testing.T) {
	gate := NewAccessGate(&fakeLinkLookup{err: errors.New("db down")}, nil)

	_, err := gate.ScopeFor(context.Background(), "p1", models.RoleParent)
	require.Error(t, err)
}

func TestCanViewStudent(t *testing.T) {
	gate := NewAccessGate(&fakeLinkLookup{children: map[string][]string{"p1": {"s1"}}}, nil)

	ok, err := gate.CanViewStudent(context.Background(), "t1", models.RoleTeacher, "s9")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gate.CanViewStudent(context.Background(), "s1", models.RoleStudent, "s2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = gate.CanViewStudent(context.Background(), "p1", models.RoleParent, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gate.CanViewStudent(context.Background(), "p1", models.RoleParent, "s2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRoleCapabilities(t *testing.T) {
	gate := NewAccessGate(&fakeLinkLookup{}, nil)

	assert.True(t, gate.CanIssueDemerits(models.RoleTeacher))
	assert.True(t, gate.CanIssueDemerits(models.RoleAdmin))
	assert.False(t, gate.CanIssueDemerits(models.RoleStudent))
	assert.False(t, gate.CanIssueDemerits(models.RoleParent))

	assert.True(t, gate.CanManageUsers(models.RoleAdmin))
	assert.False(t, gate.CanManageUsers(models.RoleTeacher))

	assert.True(t, gate.CanViewAnalytics(models.RoleTeacher))
	assert.False(t, gate.CanViewAnalytics(models.RoleParent))
}
