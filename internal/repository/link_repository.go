package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/schooltrack/demerit-api/internal/models"
)

// LinkRepository provides database access for parent-student relationships.
type LinkRepository struct {
	db *sqlx.DB
}

// NewLinkRepository creates a new instance of LinkRepository.
func NewLinkRepository(db *sqlx.DB) *LinkRepository {
	return &LinkRepository{db: db}
}

// Insert adds a parent-student pair. Duplicate pairs are silently ignored so
// the call is idempotent; the returned bool reports whether a row was created.
func (r *LinkRepository) Insert(ctx context.Context, parentID, studentID string) (bool, error) {
	const query = `INSERT INTO parent_students (parent_id, student_id, created_at) VALUES ($1, $2, $3) ON CONFLICT (parent_id, student_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, parentID, studentID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("insert parent link: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert parent link rows affected: %w", err)
	}
	return rows > 0, nil
}

// Delete removes one parent-student pair. Missing pairs are not an error.
func (r *LinkRepository) Delete(ctx context.Context, parentID, studentID string) error {
	const query = `DELETE FROM parent_students WHERE parent_id = $1 AND student_id = $2`
	if _, err := r.db.ExecContext(ctx, query, parentID, studentID); err != nil {
		return fmt.Errorf("delete parent link: %w", err)
	}
	return nil
}

// DeleteByParent removes every link owned by a parent.
func (r *LinkRepository) DeleteByParent(ctx context.Context, parentID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM parent_students WHERE parent_id = $1`, parentID); err != nil {
		return fmt.Errorf("delete links by parent: %w", err)
	}
	return nil
}

// DeleteByStudent removes every link pointing at a student.
func (r *LinkRepository) DeleteByStudent(ctx context.Context, studentID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM parent_students WHERE student_id = $1`, studentID); err != nil {
		return fmt.Errorf("delete links by student: %w", err)
	}
	return nil
}

// ListByParent returns a parent's links in link-creation order.
func (r *LinkRepository) ListByParent(ctx context.Context, parentID string) ([]models.ParentLink, error) {
	const query = `SELECT parent_id, student_id, created_at FROM parent_students WHERE parent_id = $1 ORDER BY created_at ASC, student_id ASC`
	var links []models.ParentLink
	if err := r.db.SelectContext(ctx, &links, query, parentID); err != nil {
		return nil, fmt.Errorf("list links by parent: %w", err)
	}
	return links, nil
}

// ListByStudent returns every parent linked to a student.
func (r *LinkRepository) ListByStudent(ctx context.Context, studentID string) ([]models.ParentLink, error) {
	const query = `SELECT parent_id, student_id, created_at FROM parent_students WHERE student_id = $1 ORDER BY created_at ASC, parent_id ASC`
	var links []models.ParentLink
	if err := r.db.SelectContext(ctx, &links, query, studentID); err != nil {
		return nil, fmt.Errorf("list links by student: %w", err)
	}
	return links, nil
}

// ListAll returns every relationship row.
func (r *LinkRepository) ListAll(ctx context.Context) ([]models.ParentLink, error) {
	const query = `SELECT parent_id, student_id, created_at FROM parent_students ORDER BY parent_id ASC, created_at ASC`
	var links []models.ParentLink
	if err := r.db.SelectContext(ctx, &links, query); err != nil {
		return nil, fmt.Errorf("list all links: %w", err)
	}
	return links, nil
}

// ChildIDs returns the student IDs linked to a parent in creation order.
func (r *LinkRepository) ChildIDs(ctx context.Context, parentID string) ([]string, error) {
	const query = `SELECT student_id FROM parent_students WHERE parent_id = $1 ORDER BY created_at ASC, student_id ASC`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, parentID); err != nil {
		return nil, fmt.Errorf("list child ids: %w", err)
	}
	return ids, nil
}

// Children returns the linked students with display names, in creation order.
func (r *LinkRepository) Children(ctx context.Context, parentID string) ([]models.StudentInfo, error) {
	const query = `SELECT u.id, u.first_name || ' ' || u.last_name AS name
FROM parent_students ps
JOIN users u ON u.id = ps.student_id
WHERE ps.parent_id = $1
ORDER BY ps.created_at ASC, u.id ASC`
	var children []models.StudentInfo
	if err := r.db.SelectContext(ctx, &children, query, parentID); err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return children, nil
}
