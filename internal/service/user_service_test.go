package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schooltrack/demerit-api/internal/models"
	appErrors "github.com/schooltrack/demerit-api/pkg/errors"
)

type mockUserRepo struct {
	users     map[string]*models.User
	profiles  map[string]*models.StudentProfile
	directory []models.DirectoryEntry
	students  []models.Student
	auditLogs []*models.AuditLog
	seq       int
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*models.User), profiles: make(map[string]*models.StudentProfile)}
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) List(_ context.Context, _ models.UserFilter) ([]models.User, int, error) {
	var out []models.User
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (m *mockUserRepo) ListDirectory(_ context.Context) ([]models.DirectoryEntry, error) {
	return m.directory, nil
}

func (m *mockUserRepo) Create(_ context.Context, user *models.User) error {
	if user.ID == "" {
		m.seq++
		user.ID = string(rune('a' + m.seq))
	}
	clone := *user
	m.users[user.ID] = &clone
	return nil
}

func (m *mockUserRepo) Update(_ context.Context, user *models.User) error {
	clone := *user
	m.users[user.ID] = &clone
	return nil
}

func (m *mockUserRepo) GetProfile(_ context.Context, userID string) (*models.StudentProfile, error) {
	if p, ok := m.profiles[userID]; ok {
		clone := *p
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) UpsertProfile(_ context.Context, profile *models.StudentProfile) error {
	clone := *profile
	m.profiles[profile.UserID] = &clone
	return nil
}

func (m *mockUserRepo) DeleteProfile(_ context.Context, userID string) error {
	delete(m.profiles, userID)
	return nil
}

func (m *mockUserRepo) ListStudents(_ context.Context) ([]models.Student, error) {
	return m.students, nil
}

func (m *mockUserRepo) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type mockCleanup struct {
	inserted        [][2]string
	deletedParents  []string
	deletedStudents []string
	insertErr       error
	parentErr       error
	studentErr      error
}

func (m *mockCleanup) Insert(_ context.Context, parentID, studentID string) (bool, error) {
	if m.insertErr != nil {
		return false, m.insertErr
	}
	m.inserted = append(m.inserted, [2]string{parentID, studentID})
	return true, nil
}

func (m *mockCleanup) DeleteByParent(_ context.Context, parentID string) error {
	if m.parentErr != nil {
		return m.parentErr
	}
	m.deletedParents = append(m.deletedParents, parentID)
	return nil
}

func (m *mockCleanup) DeleteByStudent(_ context.Context, studentID string) error {
	if m.studentErr != nil {
		return m.studentErr
	}
	m.deletedStudents = append(m.deletedStudents, studentID)
	return nil
}

func (m *mockCleanup) Children(_ context.Context, _ string) ([]models.StudentInfo, error) {
	return nil, nil
}

func newUserFixture() (*UserService, *mockUserRepo, *mockCleanup) {
	repo := newMockUserRepo()
	cleanup := &mockCleanup{}
	gate := NewAccessGate(&fakeLinkLookup{}, nil)
	svc := NewUserService(repo, cleanup, gate, nil, nil)
	return svc, repo, cleanup
}

func TestCreateUserAdminOnly(t *testing.T) {
	svc, _, _ := newUserFixture()

	_, err := svc.Create(context.Background(), "t1", models.RoleTeacher, CreateUserRequest{
		Username: "x", Email: "x@example.com", Password: "secret1", Role: "STUDENT", FirstName: "X", LastName: "Y",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestCreateStudentGetsProfile(t *testing.T) {
	svc, repo, _ := newUserFixture()

	grade := 7
	user, err := svc.Create(context.Background(), "admin", models.RoleAdmin, CreateUserRequest{
		Username: "spupil", Email: "s@example.com", Password: "secret1", Role: "STUDENT",
		FirstName: "Sam", LastName: "Pupil", GradeLevel: &grade,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, user.Role)
	require.Contains(t, repo.profiles, user.ID)
	assert.Equal(t, 7, *repo.profiles[user.ID].GradeLevel)
}

func TestCreateUserRejectsUnknownRole(t *testing.T) {
	svc, _, _ := newUserFixture()

	_, err := svc.Create(context.Background(), "admin", models.RoleAdmin, CreateUserRequest{
		Username: "x", Email: "x@example.com", Password: "secret1", Role: "WIZARD", FirstName: "X", LastName: "Y",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRole.Code, appErrors.FromError(err).Code)
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	svc, repo, _ := newUserFixture()
	repo.users["u1"] = &models.User{ID: "u1", Email: "x@example.com"}

	_, err := svc.Create(context.Background(), "admin", models.RoleAdmin, CreateUserRequest{
		Username: "x", Email: "x@example.com", Password: "secret1", Role: "PARENT", FirstName: "X", LastName: "Y",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUpdateRoleStudentToParentCascades(t *testing.T) {
	svc, repo, cleanup := newUserFixture()
	repo.users["s1"] = &models.User{ID: "s1", Role: models.RoleStudent, Active: true}
	repo.profiles["s1"] = &models.StudentProfile{UserID: "s1"}

	role := string(models.RoleParent)
	result, err := svc.Update(context.Background(), "admin", models.RoleAdmin, "s1", UpdateUserRequest{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, models.RoleParent, result.User.Role)
	assert.Empty(t, result.Warnings)
	assert.NotContains(t, repo.profiles, "s1")
	assert.Equal(t, []string{"s1"}, cleanup.deletedStudents)
	require.NotEmpty(t, repo.auditLogs)
	assert.Equal(t, models.AuditActionRoleChange, repo.auditLogs[len(repo.auditLogs)-1].Action)
}

func TestUpdateRoleParentToTeacherDropsLinks(t *testing.T) {
	svc, repo, cleanup := newUserFixture()
	repo.users["p1"] = &models.User{ID: "p1", Role: models.RoleParent, Active: true}

	role := string(models.RoleTeacher)
	_, err := svc.Update(context.Background(), "admin", models.RoleAdmin, "p1", UpdateUserRequest{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, cleanup.deletedParents)
}

func TestUpdateRoleToStudentCreatesProfile(t *testing.T) {
	svc, repo, _ := newUserFixture()
	repo.users["u1"] = &models.User{ID: "u1", Role: models.RoleParent, Active: true}

	role := string(models.RoleStudent)
	grade := 9
	_, err := svc.Update(context.Background(), "admin", models.RoleAdmin, "u1", UpdateUserRequest{Role: &role, GradeLevel: &grade})
	require.NoError(t, err)
	require.Contains(t, repo.profiles, "u1")
	assert.Equal(t, 9, *repo.profiles["u1"].GradeLevel)
}

func TestUpdateCleanupFailureWarnsNotFails(t *testing.T) {
	svc, repo, cleanup := newUserFixture()
	repo.users["p1"] = &models.User{ID: "p1", Role: models.RoleParent, Active: true}
	cleanup.parentErr = errors.New("links table unavailable")

	role := string(models.RoleTeacher)
	result, err := svc.Update(context.Background(), "admin", models.RoleAdmin, "p1", UpdateUserRequest{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, models.RoleTeacher, result.User.Role)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "link cleanup failed")
}

func TestUpdateParentAttachesStudents(t *testing.T) {
	svc, repo, cleanup := newUserFixture()
	repo.users["p1"] = &models.User{ID: "p1", Role: models.RoleParent, Active: true}
	repo.users["s1"] = &models.User{ID: "s1", Role: models.RoleStudent, Active: true}
	repo.users["t1"] = &models.User{ID: "t1", Role: models.RoleTeacher, Active: true}

	result, err := svc.Update(context.Background(), "admin", models.RoleAdmin, "p1", UpdateUserRequest{
		StudentIDs: []string{"s1", "t1"},
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"p1", "s1"}}, cleanup.inserted)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "non-student")
}

func TestSetRoleCascades(t *testing.T) {
	svc, repo, cleanup := newUserFixture()
	repo.users["s1"] = &models.User{ID: "s1", Role: models.RoleStudent, Active: true}
	repo.profiles["s1"] = &models.StudentProfile{UserID: "s1"}

	result, err := svc.SetRole(context.Background(), "admin", models.RoleAdmin, "s1", string(models.RoleTeacher))
	require.NoError(t, err)
	assert.Equal(t, models.RoleTeacher, result.User.Role)
	assert.NotContains(t, repo.profiles, "s1")
	assert.Equal(t, []string{"s1"}, cleanup.deletedStudents)
}

func TestUpdateUnknownUser(t *testing.T) {
	svc, _, _ := newUserFixture()

	_, err := svc.Update(context.Background(), "admin", models.RoleAdmin, "ghost", UpdateUserRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestListAndDirectoryAdminOnly(t *testing.T) {
	svc, _, _ := newUserFixture()

	for _, role := range []models.UserRole{models.RoleTeacher, models.RoleStudent, models.RoleParent} {
		_, _, err := svc.List(context.Background(), role, models.UserFilter{})
		require.Error(t, err, "list as %s", role)
		assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

		_, err = svc.Directory(context.Background(), role)
		require.Error(t, err, "directory as %s", role)
		assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	}
}

func TestDirectoryAttachesChildrenForParents(t *testing.T) {
	repo := newMockUserRepo()
	repo.directory = []models.DirectoryEntry{
		{User: models.User{ID: "p1", Role: models.RoleParent}},
		{User: models.User{ID: "s1", Role: models.RoleStudent}, TotalDemerits: 4},
	}
	gate := NewAccessGate(&fakeLinkLookup{}, nil)
	cleanup := &mockCleanup{}
	svc := NewUserService(repo, &childListCleanup{mockCleanup: cleanup, children: []models.StudentInfo{{ID: "s1", Name: "Sam Pupil"}}}, gate, nil, nil)

	entries, err := svc.Directory(context.Background(), models.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Len(t, entries[0].Children, 1)
	assert.Equal(t, "Sam Pupil", entries[0].Children[0].Name)
	assert.Empty(t, entries[1].Children)
	assert.Equal(t, 4, entries[1].TotalDemerits)
}

type childListCleanup struct {
	*mockCleanup
	children []models.StudentInfo
}

func (c *childListCleanup) Children(_ context.Context, _ string) ([]models.StudentInfo, error) {
	return c.children, nil
}
