package models

import "time"

// CategoryCount is one slice of the category distribution.
type CategoryCount struct {
	CategoryName string `json:"category_name"`
	Count        int    `json:"count"`
}

// GradeCount is one slice of the grade-level distribution. Records for
// students without a grade level are excluded, not zero-bucketed.
type GradeCount struct {
	GradeLevel int `json:"grade_level"`
	Count      int `json:"count"`
}

// TrendPoint is one day of demerit activity. The series is sparse: days with
// no records are not synthesized.
type TrendPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// SystemMetrics is a lightweight instrumentation snapshot surfaced on the
// admin analytics endpoint.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	DemeritsIssued           uint64    `json:"demerits_issued"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
