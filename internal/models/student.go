package models

// StudentProfile holds the student-specific extension record. Exactly one row
// exists per user with role STUDENT; the row is removed when the user leaves
// the student role.
type StudentProfile struct {
	UserID       string  `db:"user_id" json:"user_id"`
	GradeLevel   *int    `db:"grade_level" json:"grade_level,omitempty"`
	ClassSection *string `db:"class_section" json:"class_section,omitempty"`
}

// StudentInfo is a compact student reference used in selection lists and
// parent child listings.
type StudentInfo struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Student pairs the identity record with its profile for roster views.
type Student struct {
	StudentInfo
	GradeLevel   *int    `db:"grade_level" json:"grade_level,omitempty"`
	ClassSection *string `db:"class_section" json:"class_section,omitempty"`
}
