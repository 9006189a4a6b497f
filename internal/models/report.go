package models

import "time"

// ReportStatus tracks the lifecycle of an async report job.
type ReportStatus string

const (
	ReportPending   ReportStatus = "PENDING"
	ReportRunning   ReportStatus = "RUNNING"
	ReportCompleted ReportStatus = "COMPLETED"
	ReportFailed    ReportStatus = "FAILED"
)

// ReportFormat enumerates supported output encodings.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// ReportJob is one requested summary export.
type ReportJob struct {
	ID          string       `db:"id" json:"id"`
	RequestedBy string       `db:"requested_by" json:"requested_by"`
	Format      ReportFormat `db:"format" json:"format"`
	Status      ReportStatus `db:"status" json:"status"`
	FilePath    *string      `db:"file_path" json:"-"`
	Error       *string      `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	CompletedAt *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
}
