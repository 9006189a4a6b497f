package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/schooltrack/demerit-api/internal/models"
	appErrors "github.com/schooltrack/demerit-api/pkg/errors"
)

type accessLinkRepository interface {
	ChildIDs(ctx context.Context, parentID string) ([]string, error)
}

// AccessGate decides which ledger records a requester may see and which
// operations a role may perform. Admins and teachers see everything, students
// see only their own rows, parents see their linked children. A parent with no
// links gets an empty scope, not an error.
type AccessGate struct {
	links  accessLinkRepository
	logger *zap.Logger
}

// NewAccessGate constructs the gate.
func NewAccessGate(links accessLinkRepository, logger *zap.Logger) *AccessGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessGate{links: links, logger: logger}
}

// ScopeFor resolves the record visibility for a requester.
func (g *AccessGate) ScopeFor(ctx context.Context, userID string, role models.UserRole) (models.DemeritScope, error) {
	switch role {
	case models.RoleAdmin, models.RoleTeacher:
		return models.DemeritScope{All: true}, nil
	case models.RoleStudent:
		return models.DemeritScope{StudentIDs: []string{userID}}, nil
	case models.RoleParent:
		ids, err := g.links.ChildIDs(ctx, userID)
		if err != nil {
			return models.DemeritScope{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "resolve parent scope")
		}
		if ids == nil {
			ids = []string{}
		}
		return models.DemeritScope{StudentIDs: ids}, nil
	default:
		return models.DemeritScope{}, appErrors.Clone(appErrors.ErrForbidden, "unknown role")
	}
}

// CanViewStudent reports whether the requester may read one student's ledger.
func (g *AccessGate) CanViewStudent(ctx context.Context, userID string, role models.UserRole, studentID string) (bool, error) {
	scope, err := g.ScopeFor(ctx, userID, role)
	if err != nil {
		return false, err
	}
	if scope.All {
		return true, nil
	}
	for _, id := range scope.StudentIDs {
		if id == studentID {
			return true, nil
		}
	}
	return false, nil
}

// CanIssueDemerits reports whether the role may append ledger rows.
func (g *AccessGate) CanIssueDemerits(role models.UserRole) bool {
	return role == models.RoleAdmin || role == models.RoleTeacher
}

// CanManageUsers reports whether the role may create users, change roles and
// edit relationship links.
func (g *AccessGate) CanManageUsers(role models.UserRole) bool {
	return role == models.RoleAdmin
}

// CanViewAnalytics reports whether the role may read school-wide aggregates.
func (g *AccessGate) CanViewAnalytics(role models.UserRole) bool {
	return role == models.RoleAdmin || role == models.RoleTeacher
}
