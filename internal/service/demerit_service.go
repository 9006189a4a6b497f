package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/schooltrack/demerit-api/internal/models"
	appErrors "github.com/schooltrack/demerit-api/pkg/errors"
)

type demeritRepository interface {
	Insert(ctx context.Context, d *models.Demerit) error
	ListByStudent(ctx context.Context, studentID string) ([]models.DemeritDetail, error)
	ListByStudents(ctx context.Context, studentIDs []string) ([]models.DemeritDetail, error)
	ListAll(ctx context.Context) ([]models.DemeritDetail, error)
	FindCategory(ctx context.Context, id string) (*models.DemeritCategory, error)
	ListCategories(ctx context.Context) ([]models.DemeritCategory, error)
	CreateCategory(ctx context.Context, category *models.DemeritCategory) error
}

type demeritUserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// DemeritService owns the append-only ledger. Records are never updated or
// deleted after creation.
type DemeritService struct {
	repo      demeritRepository
	users     demeritUserLookup
	audit     auditWriter
	gate      *AccessGate
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewDemeritService constructs the service.
func NewDemeritService(repo demeritRepository, users demeritUserLookup, audit auditWriter, gate *AccessGate, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *DemeritService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DemeritService{repo: repo, users: users, audit: audit, gate: gate, cache: cache, metrics: metrics, validator: validate, logger: logger}
}

// CreateDemeritRequest describes one ledger append.
type CreateDemeritRequest struct {
	StudentID   string     `json:"student_id" validate:"required"`
	CategoryID  string     `json:"category_id" validate:"required"`
	Points      int        `json:"points"`
	Description string     `json:"description"`
	DateIssued  *time.Time `json:"date_issued"`
}

// CreateCategoryRequest describes a new infraction category.
type CreateCategoryRequest struct {
	Name          string `json:"name" validate:"required"`
	DefaultPoints int    `json:"default_points" validate:"required,min=1,max=5"`
}

// Create appends one record to the ledger. Only admins and teachers may
// issue; points outside [1,5] are rejected, never clamped; the target must be
// an existing user in the student role and the category must exist.
func (s *DemeritService) Create(ctx context.Context, issuerID string, issuerRole models.UserRole, req CreateDemeritRequest) (*models.Demerit, error) {
	if !s.gate.CanIssueDemerits(issuerRole) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff may issue demerits")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if req.Points < models.MinDemeritPoints || req.Points > models.MaxDemeritPoints {
		return nil, appErrors.ErrOutOfRange
	}

	student, err := s.users.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnknownReference, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load student")
	}
	if student.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrInvalidRole, "target user is not a student")
	}

	category, err := s.repo.FindCategory(ctx, req.CategoryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnknownReference, "category not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load category")
	}

	record := &models.Demerit{
		StudentID:   req.StudentID,
		TeacherID:   issuerID,
		CategoryID:  req.CategoryID,
		Points:      req.Points,
		Description: req.Description,
	}
	if req.DateIssued != nil {
		record.DateIssued = req.DateIssued.UTC()
	}
	if err := s.repo.Insert(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "append demerit")
	}

	s.metrics.RecordDemeritIssued(category.Name)
	if s.cache != nil {
		s.cache.InvalidateAnalytics(ctx)
	}
	s.writeAudit(ctx, issuerID, record)

	s.logger.Info("demerit issued",
		zap.Int64("demerit_id", record.ID),
		zap.String("student_id", record.StudentID),
		zap.String("teacher_id", issuerID),
		zap.Int("points", record.Points))
	return record, nil
}

// ListForRequester returns every ledger row the requester may see, most
// recent first.
func (s *DemeritService) ListForRequester(ctx context.Context, userID string, role models.UserRole) ([]models.DemeritDetail, error) {
	scope, err := s.gate.ScopeFor(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	var records []models.DemeritDetail
	if scope.All {
		records, err = s.repo.ListAll(ctx)
	} else {
		records, err = s.repo.ListByStudents(ctx, scope.StudentIDs)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list demerits")
	}
	if records == nil {
		records = []models.DemeritDetail{}
	}
	return records, nil
}

// ListForStudent returns one student's ledger, most recent first, after an
// access check against the requester's scope.
func (s *DemeritService) ListForStudent(ctx context.Context, requesterID string, requesterRole models.UserRole, studentID string) ([]models.DemeritDetail, error) {
	ok, err := s.gate.CanViewStudent(ctx, requesterID, requesterRole, studentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this student")
	}
	records, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list student demerits")
	}
	if records == nil {
		records = []models.DemeritDetail{}
	}
	return records, nil
}

// SummaryForStudent folds one student's ledger into totals and a severity
// band, honoring the same access rules as ListForStudent.
func (s *DemeritService) SummaryForStudent(ctx context.Context, requesterID string, requesterRole models.UserRole, studentID string) (*models.StudentSummary, error) {
	records, err := s.ListForStudent(ctx, requesterID, requesterRole, studentID)
	if err != nil {
		return nil, err
	}
	summary := SummarizeStudent(studentID, records)
	return &summary, nil
}

// Categories returns all infraction categories.
func (s *DemeritService) Categories(ctx context.Context) ([]models.DemeritCategory, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list categories")
	}
	if categories == nil {
		categories = []models.DemeritCategory{}
	}
	return categories, nil
}

// CreateCategory adds a new infraction category. Admin only.
func (s *DemeritService) CreateCategory(ctx context.Context, role models.UserRole, req CreateCategoryRequest) (*models.DemeritCategory, error) {
	if !s.gate.CanManageUsers(role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may manage categories")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	category := &models.DemeritCategory{Name: req.Name, DefaultPoints: req.DefaultPoints}
	if err := s.repo.CreateCategory(ctx, category); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "create category")
	}
	return category, nil
}

func (s *DemeritService) writeAudit(ctx context.Context, issuerID string, record *models.Demerit) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(record)
	entry := &models.AuditLog{
		UserID:    &issuerID,
		Action:    models.AuditActionDemeritCreate,
		Resource:  "demerits",
		NewValues: payload,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit demerit create", zap.Error(err))
	}
}
