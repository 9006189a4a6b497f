package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/schooltrack/demerit-api/internal/models"
	appErrors "github.com/schooltrack/demerit-api/pkg/errors"
	"github.com/schooltrack/demerit-api/pkg/export"
	"github.com/schooltrack/demerit-api/pkg/jobs"
	"github.com/schooltrack/demerit-api/pkg/storage"
)

type reportRepository interface {
	Create(ctx context.Context, job *models.ReportJob) error
	FindByID(ctx context.Context, id string) (*models.ReportJob, error)
	ListByUser(ctx context.Context, userID string) ([]models.ReportJob, error)
	MarkRunning(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, filePath string, completedAt time.Time) error
	MarkFailed(ctx context.Context, id, reason string, completedAt time.Time) error
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

type reportDemeritSource interface {
	ListByStudents(ctx context.Context, studentIDs []string) ([]models.DemeritDetail, error)
	ListAll(ctx context.Context) ([]models.DemeritDetail, error)
}

// ReportConfig tunes the async report pipeline.
type ReportConfig struct {
	Workers         int
	Retries         int
	CleanupInterval time.Duration
	FileTTL         time.Duration
}

// ReportService renders demerit summary exports asynchronously. A request
// creates a PENDING job, a worker folds the requester's visible ledger into a
// per-student table and stores the rendered file, and a signed token gates the
// download.
type ReportService struct {
	repo     reportRepository
	demerits reportDemeritSource
	gate     *AccessGate
	store    *storage.LocalStorage
	signer   *storage.SignedURLSigner
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	metrics  *MetricsService
	queue    *jobs.Queue
	config   ReportConfig
	logger   *zap.Logger
}

// NewReportService constructs the service. Start must be called before
// requests are accepted.
func NewReportService(repo reportRepository, demerits reportDemeritSource, gate *AccessGate, store *storage.LocalStorage, signer *storage.SignedURLSigner, metrics *MetricsService, config ReportConfig, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ReportService{
		repo:     repo,
		demerits: demerits,
		gate:     gate,
		store:    store,
		signer:   signer,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		metrics:  metrics,
		config:   config,
		logger:   logger,
	}
	s.queue = jobs.NewQueue("reports", s.process, jobs.QueueConfig{
		Workers:    config.Workers,
		MaxRetries: config.Retries,
		Logger:     logger,
	})
	return s
}

// Start launches the worker pool and the periodic cleanup loop.
func (s *ReportService) Start(ctx context.Context) {
	s.queue.Start(ctx)
	if s.config.CleanupInterval > 0 {
		go s.cleanupLoop(ctx)
	}
}

// Stop drains the worker pool.
func (s *ReportService) Stop() {
	s.queue.Stop()
}

// reportJobPayload is what travels through the queue. The requester's role is
// captured at request time so scope resolution matches what they could see.
type reportJobPayload struct {
	JobID  string
	UserID string
	Role   models.UserRole
}

// Request queues a new summary report. Staff only.
func (s *ReportService) Request(ctx context.Context, userID string, role models.UserRole, format models.ReportFormat) (*models.ReportJob, error) {
	if !s.gate.CanViewAnalytics(role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "reports are staff only")
	}
	if format != models.ReportFormatCSV && format != models.ReportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	job := &models.ReportJob{RequestedBy: userID, Format: format, Status: models.ReportPending}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "create report job")
	}

	if err := s.queue.Enqueue(jobs.Job{
		ID:      job.ID,
		Type:    "summary_report",
		Payload: reportJobPayload{JobID: job.ID, UserID: userID, Role: role},
	}); err != nil {
		reason := "queue unavailable"
		_ = s.repo.MarkFailed(ctx, job.ID, reason, time.Now().UTC())
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "enqueue report job")
	}
	return job, nil
}

// Status returns a job's state with a signed download token once completed.
// Only the requester or an admin may poll.
func (s *ReportService) Status(ctx context.Context, userID string, role models.UserRole, jobID string) (*models.ReportJob, string, error) {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "report not found")
	}
	if job.RequestedBy != userID && role != models.RoleAdmin {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "not your report")
	}
	var token string
	if job.Status == models.ReportCompleted && job.FilePath != nil {
		token, _, err = s.signer.Generate(job.ID, *job.FilePath)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "sign download token")
		}
	}
	return job, token, nil
}

// List returns the requester's jobs, newest first.
func (s *ReportService) List(ctx context.Context, userID string) ([]models.ReportJob, error) {
	reports, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list reports")
	}
	if reports == nil {
		reports = []models.ReportJob{}
	}
	return reports, nil
}

// Open validates a signed token and returns the stored file handle plus the
// job, for streaming to the client.
func (s *ReportService) Open(ctx context.Context, token string) (*os.File, *models.ReportJob, error) {
	jobID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
	}
	if job.Status != models.ReportCompleted || job.FilePath == nil || *job.FilePath != relPath {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "report file unavailable")
	}
	file, err := s.store.Open(relPath)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "open report file")
	}
	return file, job, nil
}

func (s *ReportService) process(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(reportJobPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	if err := s.repo.MarkRunning(ctx, payload.JobID); err != nil {
		return err
	}

	record, err := s.repo.FindByID(ctx, payload.JobID)
	if err != nil {
		return err
	}

	data, err := s.buildDataset(ctx, payload.UserID, payload.Role)
	if err != nil {
		s.fail(ctx, payload.JobID, err)
		return nil
	}

	var rendered []byte
	filename := fmt.Sprintf("%s/summary-%s.%s", payload.UserID, payload.JobID, record.Format)
	switch record.Format {
	case models.ReportFormatPDF:
		rendered, err = s.pdf.Render(data, "Demerit Summary")
	default:
		rendered, err = s.csv.Render(data)
	}
	if err != nil {
		s.fail(ctx, payload.JobID, err)
		return nil
	}

	relPath, err := s.store.Save(filename, rendered)
	if err != nil {
		s.fail(ctx, payload.JobID, err)
		return nil
	}
	if err := s.repo.MarkCompleted(ctx, payload.JobID, relPath, time.Now().UTC()); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordReportJob(string(models.ReportCompleted))
	}
	s.logger.Info("report completed", zap.String("report_id", payload.JobID), zap.String("file", relPath))
	return nil
}

// buildDataset folds the requester's visible ledger into one row per student.
func (s *ReportService) buildDataset(ctx context.Context, userID string, role models.UserRole) (export.Dataset, error) {
	scope, err := s.gate.ScopeFor(ctx, userID, role)
	if err != nil {
		return export.Dataset{}, err
	}
	var records []models.DemeritDetail
	if scope.All {
		records, err = s.demerits.ListAll(ctx)
	} else {
		records, err = s.demerits.ListByStudents(ctx, scope.StudentIDs)
	}
	if err != nil {
		return export.Dataset{}, err
	}

	names := make(map[string]string)
	for _, r := range records {
		names[r.StudentID] = r.StudentName
	}
	summaries := SummarizeByStudent(records)
	ids := make([]string, 0, len(summaries))
	for id := range summaries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return summaries[ids[i]].TotalPoints > summaries[ids[j]].TotalPoints
	})

	headers := []string{"Student", "Total Points", "Records", "Severity", "Most Recent Category"}
	rows := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		summary := summaries[id]
		rows = append(rows, map[string]string{
			"Student":              names[id],
			"Total Points":         strconv.Itoa(summary.TotalPoints),
			"Records":              strconv.Itoa(summary.RecordCount),
			"Severity":             string(summary.Severity),
			"Most Recent Category": summary.MostRecentCategory,
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}, nil
}

func (s *ReportService) fail(ctx context.Context, jobID string, cause error) {
	if err := s.repo.MarkFailed(ctx, jobID, cause.Error(), time.Now().UTC()); err != nil {
		s.logger.Error("mark report failed", zap.String("report_id", jobID), zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.RecordReportJob(string(models.ReportFailed))
	}
	s.logger.Warn("report failed", zap.String("report_id", jobID), zap.Error(cause))
}

func (s *ReportService) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup(ctx)
		}
	}
}

func (s *ReportService) cleanup(ctx context.Context) {
	ttl := s.config.FileTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	paths, err := s.repo.DeleteCompletedBefore(ctx, time.Now().UTC().Add(-ttl))
	if err != nil {
		s.logger.Warn("report cleanup query failed", zap.Error(err))
		return
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := s.store.Delete(path); err != nil {
			s.logger.Warn("report cleanup delete failed", zap.String("file", path), zap.Error(err))
		}
	}
	if _, err := s.store.CleanupOlderThan(ttl); err != nil {
		s.logger.Warn("report cleanup sweep failed", zap.Error(err))
	}
}
