package models

import "time"

// ParentLink is one parent-to-student relationship row. The pair is unique at
// the storage layer; re-adding an existing pair is a no-op.
type ParentLink struct {
	ParentID  string    `db:"parent_id" json:"parent_id"`
	StudentID string    `db:"student_id" json:"student_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ChildSummary is the parent dashboard row for one linked student.
type ChildSummary struct {
	StudentID      string       `json:"student_id"`
	StudentName    string       `json:"student_name"`
	TotalPoints    int          `json:"total_points"`
	Severity       SeverityBand `json:"severity"`
	RecentCategory *string      `json:"recent_category,omitempty"`
	GradeLevel     *int         `json:"grade_level,omitempty"`
	ClassSection   *string      `json:"class_section,omitempty"`
}
