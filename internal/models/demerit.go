package models

import "time"

// Demerit point bounds. Values outside this range are rejected, never clamped.
const (
	MinDemeritPoints = 1
	MaxDemeritPoints = 5
)

// DemeritCategory is reference data describing a class of infraction.
type DemeritCategory struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	DefaultPoints int       `db:"default_points" json:"default_points"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Demerit is one append-only ledger entry. Rows are immutable once created;
// history is authoritative and totals are derived from it at read time.
// The bigserial ID carries insertion order and breaks date_issued ties.
type Demerit struct {
	ID          int64     `db:"id" json:"id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	TeacherID   string    `db:"teacher_id" json:"teacher_id"`
	CategoryID  string    `db:"category_id" json:"category_id"`
	Points      int       `db:"points" json:"points"`
	Description string    `db:"description" json:"description"`
	DateIssued  time.Time `db:"date_issued" json:"date_issued"`
}

// DemeritDetail joins the ledger row with display names for list endpoints.
type DemeritDetail struct {
	Demerit
	StudentName  string `db:"student_name" json:"student_name"`
	TeacherName  string `db:"teacher_name" json:"teacher_name"`
	CategoryName string `db:"category_name" json:"category_name"`
}

// DemeritScope is the record visibility decided by the authorization gate.
// Either All is set (admin, teacher) or StudentIDs carries the explicit set a
// requester may see (own ID for students, linked children for parents).
type DemeritScope struct {
	All        bool
	StudentIDs []string
}

// SeverityBand is the categorical label derived from a point total.
type SeverityBand string

const (
	SeverityGood     SeverityBand = "good"
	SeverityMedium   SeverityBand = "medium"
	SeverityHigh     SeverityBand = "high"
	SeverityVeryHigh SeverityBand = "very_high"
)

// StudentSummary aggregates ledger rows for one student.
type StudentSummary struct {
	StudentID          string       `json:"student_id"`
	TotalPoints        int          `json:"total_points"`
	RecordCount        int          `json:"record_count"`
	Severity           SeverityBand `json:"severity"`
	MostRecentCategory string       `json:"most_recent_category,omitempty"`
}
