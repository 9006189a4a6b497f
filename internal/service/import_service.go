package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/schooltrack/demerit-api/internal/models"
	appErrors "github.com/schooltrack/demerit-api/pkg/errors"
)

// importSeedCategory labels ledger rows created to carry demerit totals from
// an imported roster.
const importSeedCategory = "Imported"

const passwordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type importUserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	UpsertProfile(ctx context.Context, profile *models.StudentProfile) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type importCategoryRepository interface {
	FindCategoryByName(ctx context.Context, name string) (*models.DemeritCategory, error)
	CreateCategory(ctx context.Context, category *models.DemeritCategory) error
}

type demeritIssuer interface {
	Create(ctx context.Context, issuerID string, issuerRole models.UserRole, req CreateDemeritRequest) (*models.Demerit, error)
}

// ImportConfig bounds a single import run.
type ImportConfig struct {
	MaxRows            int
	GeneratedPwdLength int
}

// ImportedStudent is one successfully created account with its generated
// credentials, returned once and never stored in the clear.
type ImportedStudent struct {
	Row      int    `json:"row"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ImportRowError is one rejected row. A bad row never aborts the run.
type ImportRowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportResult summarizes an import run.
type ImportResult struct {
	Created []ImportedStudent `json:"created"`
	Errors  []ImportRowError  `json:"errors"`
}

// ImportService bulk-creates student accounts from CSV rosters. Expected
// columns: name, grade, class, demerits. Each row is processed independently
// with errors accumulated per row.
type ImportService struct {
	users      importUserRepository
	categories importCategoryRepository
	demerits   demeritIssuer
	gate       *AccessGate
	metrics    *MetricsService
	config     ImportConfig
	logger     *zap.Logger
}

// NewImportService constructs the service.
func NewImportService(users importUserRepository, categories importCategoryRepository, demerits demeritIssuer, gate *AccessGate, metrics *MetricsService, config ImportConfig, logger *zap.Logger) *ImportService {
	if config.MaxRows <= 0 {
		config.MaxRows = 1000
	}
	if config.GeneratedPwdLength <= 0 {
		config.GeneratedPwdLength = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportService{users: users, categories: categories, demerits: demerits, gate: gate, metrics: metrics, config: config, logger: logger}
}

// Run parses the CSV stream and creates one student account per row. Admin
// only. Pre-existing demerit totals are carried into the ledger through the
// same validated issue path as live records, so the range rules still hold.
func (s *ImportService) Run(ctx context.Context, actorID string, actorRole models.UserRole, r io.Reader) (*ImportResult, error) {
	if !s.gate.CanManageUsers(actorRole) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may import students")
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "empty or unreadable CSV")
	}
	columns, err := mapImportColumns(header)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid CSV header")
	}

	result := &ImportResult{Created: []ImportedStudent{}, Errors: []ImportRowError{}}
	rowNum := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			s.failRow(result, rowNum, "unparseable row")
			continue
		}
		if len(result.Created)+len(result.Errors) >= s.config.MaxRows {
			s.failRow(result, rowNum, "row limit exceeded")
			break
		}
		if created, rowErr := s.importRow(ctx, actorID, actorRole, rowNum, columns, record); rowErr != nil {
			s.failRow(result, rowNum, rowErr.Error())
		} else {
			result.Created = append(result.Created, *created)
			if s.metrics != nil {
				s.metrics.RecordImportRow("created")
			}
		}
	}

	s.auditRun(ctx, actorID, result)
	s.logger.Info("student import finished",
		zap.Int("created", len(result.Created)),
		zap.Int("failed", len(result.Errors)))
	return result, nil
}

type importColumns struct {
	name     int
	grade    int
	class    int
	demerits int
}

func mapImportColumns(header []string) (importColumns, error) {
	cols := importColumns{name: -1, grade: -1, class: -1, demerits: -1}
	for i, raw := range header {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "name":
			cols.name = i
		case "grade":
			cols.grade = i
		case "class":
			cols.class = i
		case "demerits":
			cols.demerits = i
		}
	}
	if cols.name < 0 {
		return cols, fmt.Errorf("missing required column %q", "name")
	}
	return cols, nil
}

func (s *ImportService) importRow(ctx context.Context, actorID string, actorRole models.UserRole, rowNum int, cols importColumns, record []string) (*ImportedStudent, error) {
	field := func(idx int) string {
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	name := field(cols.name)
	if name == "" {
		return nil, errors.New("name is required")
	}

	var gradeLevel *int
	if raw := field(cols.grade); raw != "" {
		grade, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid grade %q", raw)
		}
		gradeLevel = &grade
	}
	var classSection *string
	if raw := field(cols.class); raw != "" {
		classSection = &raw
	}
	seedPoints := 0
	if raw := field(cols.demerits); raw != "" {
		points, err := strconv.Atoi(raw)
		if err != nil || points < 0 {
			return nil, fmt.Errorf("invalid demerits %q", raw)
		}
		seedPoints = points
	}

	username, err := s.generateUsername(ctx, name)
	if err != nil {
		return nil, err
	}
	email := username + "@students.local"
	password, err := generatePassword(s.config.GeneratedPwdLength)
	if err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	first, last := splitName(name)
	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         models.RoleStudent,
		FirstName:    first,
		LastName:     last,
		Active:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	profile := &models.StudentProfile{UserID: user.ID, GradeLevel: gradeLevel, ClassSection: classSection}
	if err := s.users.UpsertProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}

	if seedPoints > 0 {
		if err := s.seedDemerits(ctx, actorID, actorRole, user.ID, seedPoints); err != nil {
			return nil, err
		}
	}

	return &ImportedStudent{Row: rowNum, Name: name, Username: username, Email: email, Password: password}, nil
}

// seedDemerits carries an imported total into the ledger in range-sized
// chunks so every row still satisfies the point bounds.
func (s *ImportService) seedDemerits(ctx context.Context, actorID string, actorRole models.UserRole, studentID string, total int) error {
	category, err := s.seedCategory(ctx)
	if err != nil {
		return err
	}
	remaining := total
	for remaining > 0 {
		points := remaining
		if points > models.MaxDemeritPoints {
			points = models.MaxDemeritPoints
		}
		_, err := s.demerits.Create(ctx, actorID, actorRole, CreateDemeritRequest{
			StudentID:   studentID,
			CategoryID:  category.ID,
			Points:      points,
			Description: "carried over from roster import",
		})
		if err != nil {
			return fmt.Errorf("seed demerits: %w", err)
		}
		remaining -= points
	}
	return nil
}

func (s *ImportService) seedCategory(ctx context.Context) (*models.DemeritCategory, error) {
	category, err := s.categories.FindCategoryByName(ctx, importSeedCategory)
	if err == nil {
		return category, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load seed category: %w", err)
	}
	category = &models.DemeritCategory{Name: importSeedCategory, DefaultPoints: models.MinDemeritPoints}
	if err := s.categories.CreateCategory(ctx, category); err != nil {
		return nil, fmt.Errorf("create seed category: %w", err)
	}
	return category, nil
}

func (s *ImportService) generateUsername(ctx context.Context, name string) (string, error) {
	base := strings.ToLower(strings.Join(strings.Fields(name), "."))
	base = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '.' {
			return r
		}
		return -1
	}, base)
	if base == "" {
		base = "student"
	}
	suffix, err := generatePassword(4)
	if err != nil {
		return "", fmt.Errorf("generate username: %w", err)
	}
	return base + "." + strings.ToLower(suffix), nil
}

func (s *ImportService) failRow(result *ImportResult, row int, message string) {
	result.Errors = append(result.Errors, ImportRowError{Row: row, Message: message})
	if s.metrics != nil {
		s.metrics.RecordImportRow("failed")
	}
}

func (s *ImportService) auditRun(ctx context.Context, actorID string, result *ImportResult) {
	payload, _ := json.Marshal(map[string]int{"created": len(result.Created), "failed": len(result.Errors)})
	entry := &models.AuditLog{
		UserID:    &actorID,
		Action:    models.AuditActionImportRun,
		Resource:  "imports",
		NewValues: payload,
	}
	if err := s.users.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit import run", zap.Error(err))
	}
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	if len(parts) == 1 {
		return parts[0], parts[0]
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}

func generatePassword(length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}
