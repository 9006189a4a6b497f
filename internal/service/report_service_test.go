package service

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schooltrack/demerit-api/internal/models"
	appErrors "github.com/schooltrack/demerit-api/pkg/errors"
	"github.com/schooltrack/demerit-api/pkg/storage"
)

type memoryReportRepo struct {
	mu   sync.Mutex
	jobs map[string]*models.ReportJob
}

func newMemoryReportRepo() *memoryReportRepo {
	return &memoryReportRepo{jobs: make(map[string]*models.ReportJob)}
}

func (m *memoryReportRepo) Create(_ context.Context, job *models.ReportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = "job-1"
	}
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *memoryReportRepo) FindByID(_ context.Context, id string) (*models.ReportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (m *memoryReportRepo) ListByUser(_ context.Context, userID string) ([]models.ReportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ReportJob
	for _, job := range m.jobs {
		if job.RequestedBy == userID {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *memoryReportRepo) MarkRunning(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = models.ReportRunning
	return nil
}

func (m *memoryReportRepo) MarkCompleted(_ context.Context, id, filePath string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[id]
	job.Status = models.ReportCompleted
	job.FilePath = &filePath
	job.CompletedAt = &completedAt
	return nil
}

func (m *memoryReportRepo) MarkFailed(_ context.Context, id, reason string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[id]
	job.Status = models.ReportFailed
	job.Error = &reason
	job.CompletedAt = &completedAt
	return nil
}

func (m *memoryReportRepo) DeleteCompletedBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var paths []string
	for id, job := range m.jobs {
		if (job.Status == models.ReportCompleted || job.Status == models.ReportFailed) && job.CreatedAt.Before(cutoff) {
			if job.FilePath != nil {
				paths = append(paths, *job.FilePath)
			}
			delete(m.jobs, id)
		}
	}
	return paths, nil
}

func newReportFixture(t *testing.T) (*ReportService, *memoryReportRepo, context.CancelFunc) {
	t.Helper()
	repo := newMemoryReportRepo()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	demerits := &countingDemeritSource{records: []models.DemeritDetail{
		{
			Demerit:      models.Demerit{ID: 1, StudentID: "s1", Points: 4, DateIssued: now},
			StudentName:  "Sam Pupil",
			CategoryName: "Tardiness",
		},
	}}
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("report-secret", time.Hour)
	gate := NewAccessGate(&fakeLinkLookup{}, nil)
	svc := NewReportService(repo, demerits, gate, store, signer, nil, ReportConfig{Workers: 1, Retries: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	t.Cleanup(func() {
		cancel()
		svc.Stop()
	})
	return svc, repo, cancel
}

func waitForStatus(t *testing.T, repo *memoryReportRepo, id string, want models.ReportStatus) *models.ReportJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := repo.FindByID(context.Background(), id)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("report %s never reached %s", id, want)
	return nil
}

func TestReportRequestRendersCSV(t *testing.T) {
	svc, repo, _ := newReportFixture(t)

	job, err := svc.Request(context.Background(), "t1", models.RoleTeacher, models.ReportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, models.ReportPending, job.Status)

	done := waitForStatus(t, repo, job.ID, models.ReportCompleted)
	require.NotNil(t, done.FilePath)

	finished, token, err := svc.Status(context.Background(), "t1", models.RoleTeacher, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportCompleted, finished.Status)
	require.NotEmpty(t, token)

	file, _, err := svc.Open(context.Background(), token)
	require.NoError(t, err)
	defer file.Close()
	content, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "Student,Total Points"))
	assert.Contains(t, string(content), "Sam Pupil")
}

func TestReportRequestStaffOnly(t *testing.T) {
	svc, _, _ := newReportFixture(t)

	_, err := svc.Request(context.Background(), "p1", models.RoleParent, models.ReportFormatCSV)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestReportRequestRejectsUnknownFormat(t *testing.T) {
	svc, _, _ := newReportFixture(t)

	_, err := svc.Request(context.Background(), "t1", models.RoleTeacher, models.ReportFormat("xlsx"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReportStatusOwnerOnly(t *testing.T) {
	svc, repo, _ := newReportFixture(t)

	job, err := svc.Request(context.Background(), "t1", models.RoleTeacher, models.ReportFormatCSV)
	require.NoError(t, err)
	waitForStatus(t, repo, job.ID, models.ReportCompleted)

	_, _, err = svc.Status(context.Background(), "t2", models.RoleTeacher, job.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	// Admins can poll anyone's report.
	_, _, err = svc.Status(context.Background(), "admin", models.RoleAdmin, job.ID)
	require.NoError(t, err)
}

func TestReportOpenRejectsForgedToken(t *testing.T) {
	svc, _, _ := newReportFixture(t)

	_, _, err := svc.Open(context.Background(), "forged.token.value.here")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
