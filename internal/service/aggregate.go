package service

import (
	"sort"

	"github.com/schooltrack/demerit-api/internal/models"
)

// Severity thresholds over a student's point total.
const (
	severityMediumAt   = 3
	severityHighAt     = 6
	severityVeryHighAt = 12
)

// SeverityFor maps a point total to its severity band.
func SeverityFor(total int) models.SeverityBand {
	switch {
	case total >= severityVeryHighAt:
		return models.SeverityVeryHigh
	case total >= severityHighAt:
		return models.SeverityHigh
	case total >= severityMediumAt:
		return models.SeverityMedium
	default:
		return models.SeverityGood
	}
}

// SummarizeStudent folds a student's ledger rows into one summary. The most
// recent category is decided by date_issued; equal dates fall back to the
// higher ledger ID so the later insertion wins. Order of input rows does not
// matter.
func SummarizeStudent(studentID string, records []models.DemeritDetail) models.StudentSummary {
	summary := models.StudentSummary{StudentID: studentID}
	var latest *models.DemeritDetail
	for i := range records {
		r := &records[i]
		if r.StudentID != studentID {
			continue
		}
		summary.TotalPoints += r.Points
		summary.RecordCount++
		if latest == nil || r.DateIssued.After(latest.DateIssued) ||
			(r.DateIssued.Equal(latest.DateIssued) && r.ID > latest.ID) {
			latest = r
		}
	}
	summary.Severity = SeverityFor(summary.TotalPoints)
	if latest != nil {
		summary.MostRecentCategory = latest.CategoryName
	}
	return summary
}

// SummarizeByStudent groups ledger rows and summarizes each student present.
func SummarizeByStudent(records []models.DemeritDetail) map[string]models.StudentSummary {
	grouped := make(map[string][]models.DemeritDetail)
	for _, r := range records {
		grouped[r.StudentID] = append(grouped[r.StudentID], r)
	}
	summaries := make(map[string]models.StudentSummary, len(grouped))
	for id, rows := range grouped {
		summaries[id] = SummarizeStudent(id, rows)
	}
	return summaries
}

// DistributionByCategory counts records per category name, busiest first.
// Ties sort by name for a stable order.
func DistributionByCategory(records []models.DemeritDetail) []models.CategoryCount {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.CategoryName]++
	}
	out := make([]models.CategoryCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, models.CategoryCount{CategoryName: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].CategoryName < out[j].CategoryName
	})
	return out
}

// DistributionByGrade counts records per grade level, ascending. Records for
// students without a grade level are excluded rather than zero-bucketed.
func DistributionByGrade(records []models.DemeritDetail, profiles map[string]models.StudentProfile) []models.GradeCount {
	counts := make(map[int]int)
	for _, r := range records {
		profile, ok := profiles[r.StudentID]
		if !ok || profile.GradeLevel == nil {
			continue
		}
		counts[*profile.GradeLevel]++
	}
	out := make([]models.GradeCount, 0, len(counts))
	for grade, count := range counts {
		out = append(out, models.GradeCount{GradeLevel: grade, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GradeLevel < out[j].GradeLevel
	})
	return out
}

// TrendOverTime buckets records per calendar day, ascending. The series is
// sparse: days with no activity produce no point.
func TrendOverTime(records []models.DemeritDetail) []models.TrendPoint {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.DateIssued.UTC().Format("2006-01-02")]++
	}
	out := make([]models.TrendPoint, 0, len(counts))
	for date, count := range counts {
		out = append(out, models.TrendPoint{Date: date, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Date < out[j].Date
	})
	return out
}
