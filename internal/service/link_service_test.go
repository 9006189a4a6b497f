package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schooltrack/demerit-api/internal/models"
	appErrors "github.com/schooltrack/demerit-api/pkg/errors"
)

type mockLinkRepo struct {
	pairs map[string]map[string]time.Time
	names map[string]string
}

func newMockLinkRepo() *mockLinkRepo {
	return &mockLinkRepo{pairs: make(map[string]map[string]time.Time), names: make(map[string]string)}
}

func (m *mockLinkRepo) Insert(_ context.Context, parentID, studentID string) (bool, error) {
	if m.pairs[parentID] == nil {
		m.pairs[parentID] = make(map[string]time.Time)
	}
	if _, exists := m.pairs[parentID][studentID]; exists {
		return false, nil
	}
	m.pairs[parentID][studentID] = time.Now()
	return true, nil
}

func (m *mockLinkRepo) Delete(_ context.Context, parentID, studentID string) error {
	delete(m.pairs[parentID], studentID)
	return nil
}

func (m *mockLinkRepo) ListByParent(_ context.Context, parentID string) ([]models.ParentLink, error) {
	var out []models.ParentLink
	for studentID, created := range m.pairs[parentID] {
		out = append(out, models.ParentLink{ParentID: parentID, StudentID: studentID, CreatedAt: created})
	}
	return out, nil
}

func (m *mockLinkRepo) ListAll(_ context.Context) ([]models.ParentLink, error) {
	var out []models.ParentLink
	for parentID := range m.pairs {
		links, _ := m.ListByParent(context.Background(), parentID)
		out = append(out, links...)
	}
	return out, nil
}

func (m *mockLinkRepo) Children(_ context.Context, parentID string) ([]models.StudentInfo, error) {
	var out []models.StudentInfo
	for studentID := range m.pairs[parentID] {
		out = append(out, models.StudentInfo{ID: studentID, Name: m.names[studentID]})
	}
	return out, nil
}

type mockLinkUsers struct {
	users    map[string]*models.User
	profiles map[string]*models.StudentProfile
}

func (m *mockLinkUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockLinkUsers) GetProfile(_ context.Context, userID string) (*models.StudentProfile, error) {
	if p, ok := m.profiles[userID]; ok {
		return p, nil
	}
	return nil, sql.ErrNoRows
}

type mockLinkDemerits struct {
	byStudent map[string][]models.DemeritDetail
}

func (m *mockLinkDemerits) ListByStudent(_ context.Context, studentID string) ([]models.DemeritDetail, error) {
	return m.byStudent[studentID], nil
}

func newLinkFixture() (*LinkService, *mockLinkRepo, *mockLinkDemerits) {
	repo := newMockLinkRepo()
	repo.names["s1"] = "Sam Pupil"
	repo.names["s2"] = "Ana Pupil"
	grade := 8
	users := &mockLinkUsers{
		users: map[string]*models.User{
			"p1": {ID: "p1", Role: models.RoleParent},
			"s1": {ID: "s1", Role: models.RoleStudent},
			"s2": {ID: "s2", Role: models.RoleStudent},
			"t1": {ID: "t1", Role: models.RoleTeacher},
		},
		profiles: map[string]*models.StudentProfile{
			"s1": {UserID: "s1", GradeLevel: &grade},
		},
	}
	demerits := &mockLinkDemerits{byStudent: make(map[string][]models.DemeritDetail)}
	gate := NewAccessGate(&fakeLinkLookup{}, nil)
	svc := NewLinkService(repo, users, demerits, &mockAudit{}, gate, nil)
	return svc, repo, demerits
}

func TestAddLink(t *testing.T) {
	svc, repo, _ := newLinkFixture()

	err := svc.Add(context.Background(), "admin", models.RoleAdmin, "p1", "s1")
	require.NoError(t, err)
	assert.Contains(t, repo.pairs["p1"], "s1")
}

func TestAddLinkIdempotent(t *testing.T) {
	svc, repo, _ := newLinkFixture()

	require.NoError(t, svc.Add(context.Background(), "admin", models.RoleAdmin, "p1", "s1"))
	require.NoError(t, svc.Add(context.Background(), "admin", models.RoleAdmin, "p1", "s1"))
	assert.Len(t, repo.pairs["p1"], 1)
}

func TestAddLinkRoleChecks(t *testing.T) {
	svc, _, _ := newLinkFixture()

	err := svc.Add(context.Background(), "admin", models.RoleAdmin, "t1", "s1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRole.Code, appErrors.FromError(err).Code)

	err = svc.Add(context.Background(), "admin", models.RoleAdmin, "p1", "t1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRole.Code, appErrors.FromError(err).Code)

	err = svc.Add(context.Background(), "admin", models.RoleAdmin, "ghost", "s1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnknownReference.Code, appErrors.FromError(err).Code)
}

func TestAddLinkAdminOnly(t *testing.T) {
	svc, _, _ := newLinkFixture()

	err := svc.Add(context.Background(), "t1", models.RoleTeacher, "p1", "s1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestRemoveMissingLinkSucceeds(t *testing.T) {
	svc, _, _ := newLinkFixture()

	require.NoError(t, svc.Remove(context.Background(), "admin", models.RoleAdmin, "p1", "s1"))
}

func TestReplaceForParentIsAdditive(t *testing.T) {
	svc, repo, _ := newLinkFixture()

	require.NoError(t, svc.Add(context.Background(), "admin", models.RoleAdmin, "p1", "s1"))

	// s1 is omitted from the set but must survive.
	children, err := svc.ReplaceForParent(context.Background(), "admin", models.RoleAdmin, "p1", []string{"s2"})
	require.NoError(t, err)
	assert.Len(t, children, 2)
	assert.Contains(t, repo.pairs["p1"], "s1")
	assert.Contains(t, repo.pairs["p1"], "s2")
}

func TestReplaceForParentValidatesStudents(t *testing.T) {
	svc, _, _ := newLinkFixture()

	_, err := svc.ReplaceForParent(context.Background(), "admin", models.RoleAdmin, "p1", []string{"ghost"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnknownReference.Code, appErrors.FromError(err).Code)
}

func TestChildrenSelfOrAdmin(t *testing.T) {
	svc, _, _ := newLinkFixture()
	require.NoError(t, svc.Add(context.Background(), "admin", models.RoleAdmin, "p1", "s1"))

	children, err := svc.Children(context.Background(), "p1", models.RoleParent, "p1")
	require.NoError(t, err)
	assert.Len(t, children, 1)

	_, err = svc.Children(context.Background(), "p2", models.RoleParent, "p1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestChildSummaries(t *testing.T) {
	svc, _, demerits := newLinkFixture()
	require.NoError(t, svc.Add(context.Background(), "admin", models.RoleAdmin, "p1", "s1"))
	now := time.Now()
	demerits.byStudent["s1"] = []models.DemeritDetail{
		detail(1, "s1", "Tardiness", 2, now.Add(-time.Hour)),
		detail(2, "s1", "Disruption", 4, now),
	}

	summaries, err := svc.ChildSummaries(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	row := summaries[0]
	assert.Equal(t, "Sam Pupil", row.StudentName)
	assert.Equal(t, 6, row.TotalPoints)
	assert.Equal(t, models.SeverityHigh, row.Severity)
	require.NotNil(t, row.RecentCategory)
	assert.Equal(t, "Disruption", *row.RecentCategory)
	require.NotNil(t, row.GradeLevel)
	assert.Equal(t, 8, *row.GradeLevel)
}

func TestChildSummariesEmptyLedger(t *testing.T) {
	svc, _, _ := newLinkFixture()
	require.NoError(t, svc.Add(context.Background(), "admin", models.RoleAdmin, "p1", "s2"))

	summaries, err := svc.ChildSummaries(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 0, summaries[0].TotalPoints)
	assert.Equal(t, models.SeverityGood, summaries[0].Severity)
	assert.Nil(t, summaries[0].RecentCategory)
}
