package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schooltrack/demerit-api/internal/models"
	appErrors "github.com/schooltrack/demerit-api/pkg/errors"
)

type mockDemeritRepo struct {
	inserted   []*models.Demerit
	nextID     int64
	byStudent  map[string][]models.DemeritDetail
	all        []models.DemeritDetail
	categories map[string]*models.DemeritCategory
	insertErr  error
}

func (m *mockDemeritRepo) Insert(_ context.Context, d *models.Demerit) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.nextID++
	d.ID = m.nextID
	if d.DateIssued.IsZero() {
		d.DateIssued = time.Now().UTC()
	}
	m.inserted = append(m.inserted, d)
	return nil
}

func (m *mockDemeritRepo) ListByStudent(_ context.Context, studentID string) ([]models.DemeritDetail, error) {
	return m.byStudent[studentID], nil
}

func (m *mockDemeritRepo) ListByStudents(_ context.Context, studentIDs []string) ([]models.DemeritDetail, error) {
	var out []models.DemeritDetail
	for _, id := range studentIDs {
		out = append(out, m.byStudent[id]...)
	}
	return out, nil
}

func (m *mockDemeritRepo) ListAll(_ context.Context) ([]models.DemeritDetail, error) {
	return m.all, nil
}

func (m *mockDemeritRepo) FindCategory(_ context.Context, id string) (*models.DemeritCategory, error) {
	if c, ok := m.categories[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockDemeritRepo) FindCategoryByName(_ context.Context, name string) (*models.DemeritCategory, error) {
	for _, c := range m.categories {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockDemeritRepo) ListCategories(_ context.Context) ([]models.DemeritCategory, error) {
	var out []models.DemeritCategory
	for _, c := range m.categories {
		out = append(out, *c)
	}
	return out, nil
}

func (m *mockDemeritRepo) CreateCategory(_ context.Context, category *models.DemeritCategory) error {
	if m.categories == nil {
		m.categories = make(map[string]*models.DemeritCategory)
	}
	if category.ID == "" {
		category.ID = "generated"
	}
	m.categories[category.ID] = category
	return nil
}

type mockUserLookup struct {
	users map[string]*models.User
}

func (m *mockUserLookup) FindByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

type mockAudit struct {
	entries []*models.AuditLog
	err     error
}

func (m *mockAudit) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, log)
	return nil
}

func newDemeritFixture() (*DemeritService, *mockDemeritRepo, *mockAudit) {
	repo := &mockDemeritRepo{
		categories: map[string]*models.DemeritCategory{
			"c1": {ID: "c1", Name: "Tardiness", DefaultPoints: 1},
		},
	}
	users := &mockUserLookup{users: map[string]*models.User{
		"s1": {ID: "s1", Role: models.RoleStudent, FirstName: "Sam", LastName: "Pupil"},
		"t1": {ID: "t1", Role: models.RoleTeacher},
	}}
	audit := &mockAudit{}
	gate := NewAccessGate(&fakeLinkLookup{children: map[string][]string{"p1": {"s1"}}}, nil)
	svc := NewDemeritService(repo, users, audit, gate, nil, nil, nil, nil)
	return svc, repo, audit
}

func TestCreateDemerit(t *testing.T) {
	svc, repo, audit := newDemeritFixture()

	record, err := svc.Create(context.Background(), "t1", models.RoleTeacher, CreateDemeritRequest{
		StudentID:   "s1",
		CategoryID:  "c1",
		Points:      3,
		Description: "late again",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.ID)
	assert.Equal(t, "t1", record.TeacherID)
	require.Len(t, repo.inserted, 1)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionDemeritCreate, audit.entries[0].Action)
}

func TestCreateDemeritRejectsNonStaff(t *testing.T) {
	svc, _, _ := newDemeritFixture()

	for _, role := range []models.UserRole{models.RoleStudent, models.RoleParent} {
		_, err := svc.Create(context.Background(), "x", role, CreateDemeritRequest{StudentID: "s1", CategoryID: "c1", Points: 1})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	}
}

func TestCreateDemeritRejectsOutOfRangePoints(t *testing.T) {
	svc, repo, _ := newDemeritFixture()

	for _, points := range []int{-1, 0, 6, 100} {
		_, err := svc.Create(context.Background(), "t1", models.RoleTeacher, CreateDemeritRequest{StudentID: "s1", CategoryID: "c1", Points: points})
		require.Error(t, err, "points %d", points)
		assert.Equal(t, appErrors.ErrOutOfRange.Code, appErrors.FromError(err).Code)
	}
	assert.Empty(t, repo.inserted)
}

func TestCreateDemeritUnknownStudent(t *testing.T) {
	svc, _, _ := newDemeritFixture()

	_, err := svc.Create(context.Background(), "t1", models.RoleTeacher, CreateDemeritRequest{StudentID: "nope", CategoryID: "c1", Points: 2})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnknownReference.Code, appErrors.FromError(err).Code)
}

func TestCreateDemeritTargetNotStudent(t *testing.T) {
	svc, _, _ := newDemeritFixture()

	_, err := svc.Create(context.Background(), "t1", models.RoleTeacher, CreateDemeritRequest{StudentID: "t1", CategoryID: "c1", Points: 2})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRole.Code, appErrors.FromError(err).Code)
}

func TestCreateDemeritUnknownCategory(t *testing.T) {
	svc, _, _ := newDemeritFixture()

	_, err := svc.Create(context.Background(), "t1", models.RoleTeacher, CreateDemeritRequest{StudentID: "s1", CategoryID: "missing", Points: 2})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnknownReference.Code, appErrors.FromError(err).Code)
}

func TestListForRequesterScopes(t *testing.T) {
	svc, repo, _ := newDemeritFixture()
	now := time.Now()
	repo.all = []models.DemeritDetail{detail(1, "s1", "Tardiness", 1, now), detail(2, "s2", "Fighting", 5, now)}
	repo.byStudent = map[string][]models.DemeritDetail{
		"s1": {repo.all[0]},
		"s2": {repo.all[1]},
	}

	records, err := svc.ListForRequester(context.Background(), "t1", models.RoleTeacher)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = svc.ListForRequester(context.Background(), "s1", models.RoleStudent)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "s1", records[0].StudentID)

	records, err = svc.ListForRequester(context.Background(), "p1", models.RoleParent)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "s1", records[0].StudentID)
}

func TestListForStudentForbiddenOutsideScope(t *testing.T) {
	svc, _, _ := newDemeritFixture()

	_, err := svc.ListForStudent(context.Background(), "s1", models.RoleStudent, "s2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestSummaryForStudent(t *testing.T) {
	svc, repo, _ := newDemeritFixture()
	now := time.Now()
	repo.byStudent = map[string][]models.DemeritDetail{
		"s1": {detail(1, "s1", "Tardiness", 4, now.Add(-time.Hour)), detail(2, "s1", "Disruption", 3, now)},
	}

	summary, err := svc.SummaryForStudent(context.Background(), "s1", models.RoleStudent, "s1")
	require.NoError(t, err)
	assert.Equal(t, 7, summary.TotalPoints)
	assert.Equal(t, models.SeverityHigh, summary.Severity)
	assert.Equal(t, "Disruption", summary.MostRecentCategory)
}

func TestCreateCategoryAdminOnly(t *testing.T) {
	svc, _, _ := newDemeritFixture()

	_, err := svc.CreateCategory(context.Background(), models.RoleTeacher, CreateCategoryRequest{Name: "Phone Use", DefaultPoints: 2})
	require.Error(t, err)

	category, err := svc.CreateCategory(context.Background(), models.RoleAdmin, CreateCategoryRequest{Name: "Phone Use", DefaultPoints: 2})
	require.NoError(t, err)
	assert.Equal(t, "Phone Use", category.Name)
}

func TestCreateDemeritInsertFailure(t *testing.T) {
	svc, repo, _ := newDemeritFixture()
	repo.insertErr = errors.New("db down")

	_, err := svc.Create(context.Background(), "t1", models.RoleTeacher, CreateDemeritRequest{StudentID: "s1", CategoryID: "c1", Points: 2})
	require.Error(t, err)
}
