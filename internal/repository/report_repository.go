package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/schooltrack/demerit-api/internal/models"
)

// ReportRepository persists async report job state.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository creates a new instance of ReportRepository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a new report job in PENDING state.
func (r *ReportRepository) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = models.ReportPending
	}
	const query = `INSERT INTO report_jobs (id, requested_by, format, status, file_path, error, created_at, completed_at) VALUES (:id, :requested_by, :format, :status, :file_path, :error, :created_at, :completed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create report job: %w", err)
	}
	return nil
}

// FindByID returns a report job, or sql.ErrNoRows.
func (r *ReportRepository) FindByID(ctx context.Context, id string) (*models.ReportJob, error) {
	const query = `SELECT id, requested_by, format, status, file_path, error, created_at, completed_at FROM report_jobs WHERE id = $1 LIMIT 1`
	var job models.ReportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find report job: %w", err)
	}
	return &job, nil
}

// ListByUser returns a requester's jobs, newest first.
func (r *ReportRepository) ListByUser(ctx context.Context, userID string) ([]models.ReportJob, error) {
	const query = `SELECT id, requested_by, format, status, file_path, error, created_at, completed_at FROM report_jobs WHERE requested_by = $1 ORDER BY created_at DESC`
	var jobs []models.ReportJob
	if err := r.db.SelectContext(ctx, &jobs, query, userID); err != nil {
		return nil, fmt.Errorf("list report jobs: %w", err)
	}
	return jobs, nil
}

// MarkRunning transitions a job to RUNNING.
func (r *ReportRepository) MarkRunning(ctx context.Context, id string) error {
	const query = `UPDATE report_jobs SET status = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.ReportRunning); err != nil {
		return fmt.Errorf("mark report running: %w", err)
	}
	return nil
}

// MarkCompleted records the produced file and completion time.
func (r *ReportRepository) MarkCompleted(ctx context.Context, id, filePath string, completedAt time.Time) error {
	const query = `UPDATE report_jobs SET status = $2, file_path = $3, completed_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.ReportCompleted, filePath, completedAt); err != nil {
		return fmt.Errorf("mark report completed: %w", err)
	}
	return nil
}

// MarkFailed records the failure reason.
func (r *ReportRepository) MarkFailed(ctx context.Context, id, reason string, completedAt time.Time) error {
	const query = `UPDATE report_jobs SET status = $2, error = $3, completed_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.ReportFailed, reason, completedAt); err != nil {
		return fmt.Errorf("mark report failed: %w", err)
	}
	return nil
}

// DeleteCompletedBefore removes completed or failed jobs older than the cutoff
// and returns their file paths for storage cleanup.
func (r *ReportRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	const query = `DELETE FROM report_jobs WHERE status IN ($1, $2) AND created_at < $3 RETURNING COALESCE(file_path, '')`
	var paths []string
	if err := r.db.SelectContext(ctx, &paths, query, models.ReportCompleted, models.ReportFailed, cutoff); err != nil {
		return nil, fmt.Errorf("delete old report jobs: %w", err)
	}
	return paths, nil
}
