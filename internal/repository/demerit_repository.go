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

// DemeritRepository provides database access for the demerit ledger.
type DemeritRepository struct {
	db *sqlx.DB
}

// NewDemeritRepository creates a new instance of DemeritRepository.
func NewDemeritRepository(db *sqlx.DB) *DemeritRepository {
	return &DemeritRepository{db: db}
}

const demeritDetailSelect = `SELECT d.id, d.student_id, d.teacher_id, d.category_id, d.points, d.description, d.date_issued,
	s.first_name || ' ' || s.last_name AS student_name,
	t.first_name || ' ' || t.last_name AS teacher_name,
	c.name AS category_name
FROM demerits d
JOIN users s ON s.id = d.student_id
JOIN users t ON t.id = d.teacher_id
JOIN demerit_categories c ON c.id = d.category_id`

// Insert appends one ledger row and fills in the generated ID. Rows are never
// updated or deleted afterwards.
func (r *DemeritRepository) Insert(ctx context.Context, d *models.Demerit) error {
	if d.DateIssued.IsZero() {
		d.DateIssued = time.Now().UTC()
	}
	const query = `INSERT INTO demerits (student_id, teacher_id, category_id, points, description, date_issued) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, d.StudentID, d.TeacherID, d.CategoryID, d.Points, d.Description, d.DateIssued).Scan(&d.ID); err != nil {
		return fmt.Errorf("insert demerit: %w", err)
	}
	return nil
}

// ListByStudent returns a student's ledger rows, most recent first. Ties on
// date_issued fall back to the higher ID so insertion order decides.
func (r *DemeritRepository) ListByStudent(ctx context.Context, studentID string) ([]models.DemeritDetail, error) {
	query := demeritDetailSelect + `
WHERE d.student_id = $1
ORDER BY d.date_issued DESC, d.id DESC`
	var records []models.DemeritDetail
	if err := r.db.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list demerits by student: %w", err)
	}
	return records, nil
}

// ListByStudents returns ledger rows for a set of students, most recent first.
func (r *DemeritRepository) ListByStudents(ctx context.Context, studentIDs []string) ([]models.DemeritDetail, error) {
	if len(studentIDs) == 0 {
		return []models.DemeritDetail{}, nil
	}
	query, args, err := sqlx.In(demeritDetailSelect+`
WHERE d.student_id IN (?)
ORDER BY d.date_issued DESC, d.id DESC`, studentIDs)
	if err != nil {
		return nil, fmt.Errorf("build demerit query: %w", err)
	}
	query = r.db.Rebind(query)
	var records []models.DemeritDetail
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list demerits by students: %w", err)
	}
	return records, nil
}

// ListAll returns every ledger row, most recent first.
func (r *DemeritRepository) ListAll(ctx context.Context) ([]models.DemeritDetail, error) {
	query := demeritDetailSelect + `
ORDER BY d.date_issued DESC, d.id DESC`
	var records []models.DemeritDetail
	if err := r.db.SelectContext(ctx, &records, query); err != nil {
		return nil, fmt.Errorf("list all demerits: %w", err)
	}
	return records, nil
}

// FindCategory returns a category by ID, or sql.ErrNoRows.
func (r *DemeritRepository) FindCategory(ctx context.Context, id string) (*models.DemeritCategory, error) {
	const query = `SELECT id, name, default_points, created_at FROM demerit_categories WHERE id = $1 LIMIT 1`
	var category models.DemeritCategory
	if err := r.db.GetContext(ctx, &category, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find demerit category: %w", err)
	}
	return &category, nil
}

// FindCategoryByName returns a category by exact name, or sql.ErrNoRows.
func (r *DemeritRepository) FindCategoryByName(ctx context.Context, name string) (*models.DemeritCategory, error) {
	const query = `SELECT id, name, default_points, created_at FROM demerit_categories WHERE name = $1 LIMIT 1`
	var category models.DemeritCategory
	if err := r.db.GetContext(ctx, &category, query, name); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find demerit category by name: %w", err)
	}
	return &category, nil
}

// ListCategories returns all categories ordered by name.
func (r *DemeritRepository) ListCategories(ctx context.Context) ([]models.DemeritCategory, error) {
	const query = `SELECT id, name, default_points, created_at FROM demerit_categories ORDER BY name ASC`
	var categories []models.DemeritCategory
	if err := r.db.SelectContext(ctx, &categories, query); err != nil {
		return nil, fmt.Errorf("list demerit categories: %w", err)
	}
	return categories, nil
}

// CreateCategory inserts a new category.
func (r *DemeritRepository) CreateCategory(ctx context.Context, category *models.DemeritCategory) error {
	if category.ID == "" {
		category.ID = uuid.NewString()
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO demerit_categories (id, name, default_points, created_at) VALUES (:id, :name, :default_points, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, category); err != nil {
		return fmt.Errorf("create demerit category: %w", err)
	}
	return nil
}

// TotalPoints sums a student's ledger at read time.
func (r *DemeritRepository) TotalPoints(ctx context.Context, studentID string) (int, error) {
	const query = `SELECT COALESCE(SUM(points), 0) FROM demerits WHERE student_id = $1`
	var total int
	if err := r.db.GetContext(ctx, &total, query, studentID); err != nil {
		return 0, fmt.Errorf("sum demerit points: %w", err)
	}
	return total, nil
}
