package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/schooltrack/demerit-api/internal/models"
	appErrors "github.com/schooltrack/demerit-api/pkg/errors"
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	ListDirectory(ctx context.Context) ([]models.DirectoryEntry, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	GetProfile(ctx context.Context, userID string) (*models.StudentProfile, error)
	UpsertProfile(ctx context.Context, profile *models.StudentProfile) error
	DeleteProfile(ctx context.Context, userID string) error
	ListStudents(ctx context.Context) ([]models.Student, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type linkCleanup interface {
	Insert(ctx context.Context, parentID, studentID string) (bool, error)
	DeleteByParent(ctx context.Context, parentID string) error
	DeleteByStudent(ctx context.Context, studentID string) error
	Children(ctx context.Context, parentID string) ([]models.StudentInfo, error)
}

// UserService manages identities, role transitions and the role extension
// records that follow them.
type UserService struct {
	repo      userRepository
	links     linkCleanup
	gate      *AccessGate
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService constructs the service.
func NewUserService(repo userRepository, links linkCleanup, gate *AccessGate, validate *validator.Validate, logger *zap.Logger) *UserService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, links: links, gate: gate, validator: validate, logger: logger}
}

// CreateUserRequest is the admin user-creation payload.
type CreateUserRequest struct {
	Username     string  `json:"username" validate:"required"`
	Email        string  `json:"email" validate:"required,email"`
	Password     string  `json:"password" validate:"required,min=6"`
	Role         string  `json:"role" validate:"required"`
	FirstName    string  `json:"first_name" validate:"required"`
	LastName     string  `json:"last_name" validate:"required"`
	GradeLevel   *int    `json:"grade_level"`
	ClassSection *string `json:"class_section"`
}

// UpdateUserRequest is the admin user-update payload. Nil fields are left
// unchanged. StudentIDs, accepted for parents, attaches links as a best-effort
// second phase after the identity row is written.
type UpdateUserRequest struct {
	Username     *string  `json:"username"`
	Email        *string  `json:"email" validate:"omitempty,email"`
	Role         *string  `json:"role"`
	FirstName    *string  `json:"first_name"`
	LastName     *string  `json:"last_name"`
	Active       *bool    `json:"active"`
	GradeLevel   *int     `json:"grade_level"`
	ClassSection *string  `json:"class_section"`
	StudentIDs   []string `json:"student_ids"`
}

// UpdateResult carries the updated user plus warnings from best-effort
// secondary cleanup that did not abort the update.
type UpdateResult struct {
	User     *models.User `json:"user"`
	Warnings []string     `json:"warnings,omitempty"`
}

// Get returns one user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load user")
	}
	return user, nil
}

// List returns users matching the filter with pagination metadata. Admin only.
func (s *UserService) List(ctx context.Context, role models.UserRole, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	if !s.gate.CanManageUsers(role) {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may list users")
	}
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list users")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return users, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Directory returns the admin view of every user: base record, role extension
// fields, derived demerit totals and, for parents, their linked children.
func (s *UserService) Directory(ctx context.Context, role models.UserRole) ([]models.DirectoryEntry, error) {
	if !s.gate.CanManageUsers(role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may view the directory")
	}
	entries, err := s.repo.ListDirectory(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load directory")
	}
	for i := range entries {
		if entries[i].Role != models.RoleParent {
			continue
		}
		children, err := s.links.Children(ctx, entries[i].ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load parent children")
		}
		entries[i].Children = children
	}
	return entries, nil
}

// Students returns the student roster with profile fields.
func (s *UserService) Students(ctx context.Context) ([]models.Student, error) {
	students, err := s.repo.ListStudents(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list students")
	}
	if students == nil {
		students = []models.Student{}
	}
	return students, nil
}

// Create adds a user. Admin only. Student accounts get a profile row.
func (s *UserService) Create(ctx context.Context, actorID string, actorRole models.UserRole, req CreateUserRequest) (*models.User, error) {
	if !s.gate.CanManageUsers(actorRole) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may create users")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	role := models.UserRole(req.Role)
	if !role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidRole, "unknown role")
	}
	if existing, err := s.repo.FindByEmail(ctx, req.Email); err == nil && existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "check email")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "hash password")
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         role,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Active:       true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "create user")
	}
	if role == models.RoleStudent {
		profile := &models.StudentProfile{UserID: user.ID, GradeLevel: req.GradeLevel, ClassSection: req.ClassSection}
		if err := s.repo.UpsertProfile(ctx, profile); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "create student profile")
		}
	}

	s.writeAudit(ctx, actorID, models.AuditActionUserCreate, user.ID, nil, user)
	s.logger.Info("user created", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

// Update applies field changes to a user. Admin only. A role change cascades
// to the extension records: leaving the student role drops the profile and
// any links pointing at the student, leaving the parent role drops the
// parent's links. Cleanup failures after the identity row is written are
// reported as warnings, not rolled back.
func (s *UserService) Update(ctx context.Context, actorID string, actorRole models.UserRole, id string, req UpdateUserRequest) (*UpdateResult, error) {
	if !s.gate.CanManageUsers(actorRole) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may update users")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load user")
	}
	before := *user

	if req.Username != nil {
		user.Username = *req.Username
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.Active != nil {
		user.Active = *req.Active
	}

	newRole := user.Role
	if req.Role != nil {
		newRole = models.UserRole(*req.Role)
		if !newRole.Valid() {
			return nil, appErrors.Clone(appErrors.ErrInvalidRole, "unknown role")
		}
	}
	oldRole := user.Role
	user.Role = newRole

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "update user")
	}

	result := &UpdateResult{User: user}
	s.syncRoleRecords(ctx, user, oldRole, req, result)

	action := models.AuditActionUserUpdate
	if oldRole != newRole {
		action = models.AuditActionRoleChange
	}
	s.writeAudit(ctx, actorID, action, user.ID, &before, user)
	return result, nil
}

// syncRoleRecords keeps the extension tables consistent with the user's role.
// The identity update is already committed; failures here only add warnings.
func (s *UserService) syncRoleRecords(ctx context.Context, user *models.User, oldRole models.UserRole, req UpdateUserRequest, result *UpdateResult) {
	if user.Role == models.RoleStudent {
		profile := &models.StudentProfile{UserID: user.ID, GradeLevel: req.GradeLevel, ClassSection: req.ClassSection}
		if oldRole == models.RoleStudent && req.GradeLevel == nil && req.ClassSection == nil {
			if existing, err := s.repo.GetProfile(ctx, user.ID); err == nil {
				profile = existing
			}
		}
		if err := s.repo.UpsertProfile(ctx, profile); err != nil {
			s.warn(result, "student profile sync failed", err)
		}
	}

	if oldRole == models.RoleStudent && user.Role != models.RoleStudent {
		if err := s.repo.DeleteProfile(ctx, user.ID); err != nil {
			s.warn(result, "student profile cleanup failed", err)
		}
		if err := s.links.DeleteByStudent(ctx, user.ID); err != nil {
			s.warn(result, "student link cleanup failed", err)
		}
	}
	if oldRole == models.RoleParent && user.Role != models.RoleParent {
		if err := s.links.DeleteByParent(ctx, user.ID); err != nil {
			s.warn(result, "parent link cleanup failed", err)
		}
	}

	if user.Role == models.RoleParent && len(req.StudentIDs) > 0 {
		s.attachStudents(ctx, user.ID, req.StudentIDs, result)
	}
}

// attachStudents links the given students to a parent. Additive: existing
// links are untouched and re-adds collapse to no-ops at the storage layer.
func (s *UserService) attachStudents(ctx context.Context, parentID string, studentIDs []string, result *UpdateResult) {
	for _, studentID := range studentIDs {
		student, err := s.repo.FindByID(ctx, studentID)
		if err != nil {
			s.warn(result, "link sync could not resolve "+studentID, err)
			continue
		}
		if student.Role != models.RoleStudent {
			s.warn(result, "link sync skipped non-student "+studentID, nil)
			continue
		}
		if _, err := s.links.Insert(ctx, parentID, studentID); err != nil {
			s.warn(result, "link sync failed for "+studentID, err)
		}
	}
}

// SetRole changes only the user's role, with the full extension-record
// cascade of Update.
func (s *UserService) SetRole(ctx context.Context, actorID string, actorRole models.UserRole, id, role string) (*UpdateResult, error) {
	return s.Update(ctx, actorID, actorRole, id, UpdateUserRequest{Role: &role})
}

func (s *UserService) warn(result *UpdateResult, message string, err error) {
	result.Warnings = append(result.Warnings, message)
	s.logger.Warn(message, zap.Error(err))
}

func (s *UserService) writeAudit(ctx context.Context, actorID, action, resourceID string, before, after *models.User) {
	var oldValues, newValues []byte
	if before != nil {
		oldValues, _ = json.Marshal(before)
	}
	if after != nil {
		newValues, _ = json.Marshal(after)
	}
	entry := &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit user change", zap.Error(err))
	}
}
