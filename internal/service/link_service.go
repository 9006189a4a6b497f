package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/schooltrack/demerit-api/internal/models"
	appErrors "github.com/schooltrack/demerit-api/pkg/errors"
)

type linkRepository interface {
	Insert(ctx context.Context, parentID, studentID string) (bool, error)
	Delete(ctx context.Context, parentID, studentID string) error
	ListByParent(ctx context.Context, parentID string) ([]models.ParentLink, error)
	ListAll(ctx context.Context) ([]models.ParentLink, error)
	Children(ctx context.Context, parentID string) ([]models.StudentInfo, error)
}

type linkUserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	GetProfile(ctx context.Context, userID string) (*models.StudentProfile, error)
}

type linkDemeritLookup interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.DemeritDetail, error)
}

// LinkService manages the parent-student relationship registry. Links are
// plain pairs: no link types, no effective dates, no guardianship metadata.
type LinkService struct {
	repo     linkRepository
	users    linkUserLookup
	demerits linkDemeritLookup
	audit    auditWriter
	gate     *AccessGate
	logger   *zap.Logger
}

// NewLinkService constructs the service.
func NewLinkService(repo linkRepository, users linkUserLookup, demerits linkDemeritLookup, audit auditWriter, gate *AccessGate, logger *zap.Logger) *LinkService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkService{repo: repo, users: users, demerits: demerits, audit: audit, gate: gate, logger: logger}
}

// Add creates a parent-student link. Re-adding an existing pair succeeds as a
// no-op. Both endpoints must exist and carry the expected role.
func (s *LinkService) Add(ctx context.Context, actorID string, actorRole models.UserRole, parentID, studentID string) error {
	if !s.gate.CanManageUsers(actorRole) {
		return appErrors.Clone(appErrors.ErrForbidden, "only admins may manage links")
	}
	if err := s.checkEndpoints(ctx, parentID, studentID); err != nil {
		return err
	}
	created, err := s.repo.Insert(ctx, parentID, studentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "add link")
	}
	if created {
		s.writeAudit(ctx, actorID, models.AuditActionLinkAdd, parentID, studentID)
	}
	return nil
}

// Remove deletes one link. Removing a pair that does not exist succeeds.
func (s *LinkService) Remove(ctx context.Context, actorID string, actorRole models.UserRole, parentID, studentID string) error {
	if !s.gate.CanManageUsers(actorRole) {
		return appErrors.Clone(appErrors.ErrForbidden, "only admins may manage links")
	}
	if err := s.repo.Delete(ctx, parentID, studentID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "remove link")
	}
	s.writeAudit(ctx, actorID, models.AuditActionLinkRemove, parentID, studentID)
	return nil
}

// ReplaceForParent applies a child-ID set to a parent additively: IDs not yet
// linked are added, existing links never removed even when omitted from the
// set. Removal is always an explicit per-pair operation. Returns the parent's
// resulting children.
func (s *LinkService) ReplaceForParent(ctx context.Context, actorID string, actorRole models.UserRole, parentID string, studentIDs []string) ([]models.StudentInfo, error) {
	if !s.gate.CanManageUsers(actorRole) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may manage links")
	}
	parent, err := s.users.FindByID(ctx, parentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnknownReference, "parent not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load parent")
	}
	if parent.Role != models.RoleParent {
		return nil, appErrors.Clone(appErrors.ErrInvalidRole, "user is not a parent")
	}
	for _, studentID := range studentIDs {
		if err := s.checkStudent(ctx, studentID); err != nil {
			return nil, err
		}
		created, err := s.repo.Insert(ctx, parentID, studentID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "add link")
		}
		if created {
			s.writeAudit(ctx, actorID, models.AuditActionLinkAdd, parentID, studentID)
		}
	}
	return s.childrenOf(ctx, parentID)
}

// Children returns a parent's linked students in link-creation order. Parents
// may read only their own list; admins may read any.
func (s *LinkService) Children(ctx context.Context, requesterID string, requesterRole models.UserRole, parentID string) ([]models.StudentInfo, error) {
	if requesterRole != models.RoleAdmin && requesterID != parentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view these links")
	}
	return s.childrenOf(ctx, parentID)
}

// ChildSummaries builds the parent dashboard: one row per linked child with
// the derived point total, severity band and most recent category.
func (s *LinkService) ChildSummaries(ctx context.Context, parentID string) ([]models.ChildSummary, error) {
	children, err := s.childrenOf(ctx, parentID)
	if err != nil {
		return nil, err
	}
	summaries := make([]models.ChildSummary, 0, len(children))
	for _, child := range children {
		records, err := s.demerits.ListByStudent(ctx, child.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load child ledger")
		}
		folded := SummarizeStudent(child.ID, records)
		row := models.ChildSummary{
			StudentID:   child.ID,
			StudentName: child.Name,
			TotalPoints: folded.TotalPoints,
			Severity:    folded.Severity,
		}
		if folded.MostRecentCategory != "" {
			category := folded.MostRecentCategory
			row.RecentCategory = &category
		}
		if profile, err := s.users.GetProfile(ctx, child.ID); err == nil {
			row.GradeLevel = profile.GradeLevel
			row.ClassSection = profile.ClassSection
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load child profile")
		}
		summaries = append(summaries, row)
	}
	return summaries, nil
}

// ListAll returns every relationship row. Admin only.
func (s *LinkService) ListAll(ctx context.Context, role models.UserRole) ([]models.ParentLink, error) {
	if !s.gate.CanManageUsers(role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may list all links")
	}
	links, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list links")
	}
	if links == nil {
		links = []models.ParentLink{}
	}
	return links, nil
}

func (s *LinkService) childrenOf(ctx context.Context, parentID string) ([]models.StudentInfo, error) {
	children, err := s.repo.Children(ctx, parentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list children")
	}
	if children == nil {
		children = []models.StudentInfo{}
	}
	return children, nil
}

func (s *LinkService) checkEndpoints(ctx context.Context, parentID, studentID string) error {
	parent, err := s.users.FindByID(ctx, parentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrUnknownReference, "parent not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load parent")
	}
	if parent.Role != models.RoleParent {
		return appErrors.Clone(appErrors.ErrInvalidRole, "user is not a parent")
	}
	return s.checkStudent(ctx, studentID)
}

func (s *LinkService) checkStudent(ctx context.Context, studentID string) error {
	student, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrUnknownReference, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load student")
	}
	if student.Role != models.RoleStudent {
		return appErrors.Clone(appErrors.ErrInvalidRole, "user is not a student")
	}
	return nil
}

func (s *LinkService) writeAudit(ctx context.Context, actorID, action, parentID, studentID string) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"parent_id": parentID, "student_id": studentID})
	entry := &models.AuditLog{
		UserID:    &actorID,
		Action:    action,
		Resource:  "parent_students",
		NewValues: payload,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit link change", zap.Error(err))
	}
}
