package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schooltrack/demerit-api/internal/models"
)

func TestSeverityFor(t *testing.T) {
	cases := []struct {
		total int
		want  models.SeverityBand
	}{
		{0, models.SeverityGood},
		{2, models.SeverityGood},
		{3, models.SeverityMedium},
		{5, models.SeverityMedium},
		{6, models.SeverityHigh},
		{11, models.SeverityHigh},
		{12, models.SeverityVeryHigh},
		{40, models.SeverityVeryHigh},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SeverityFor(tc.total), "total %d", tc.total)
	}
}

func detail(id int64, studentID, category string, points int, issued time.Time) models.DemeritDetail {
	return models.DemeritDetail{
		Demerit: models.Demerit{
			ID:         id,
			StudentID:  studentID,
			TeacherID:  "t1",
			CategoryID: category,
			Points:     points,
			DateIssued: issued,
		},
		CategoryName: category,
	}
}

func TestSummarizeStudent(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	records := []models.DemeritDetail{
		detail(1, "s1", "Tardiness", 2, now.Add(-48*time.Hour)),
		detail(2, "s1", "Disruption", 3, now),
		detail(3, "s2", "Fighting", 5, now),
	}

	summary := SummarizeStudent("s1", records)
	assert.Equal(t, 5, summary.TotalPoints)
	assert.Equal(t, 2, summary.RecordCount)
	assert.Equal(t, models.SeverityMedium, summary.Severity)
	assert.Equal(t, "Disruption", summary.MostRecentCategory)
}

func TestSummarizeStudentTieBreaksOnHigherID(t *testing.T) {
	issued := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	records := []models.DemeritDetail{
		detail(7, "s1", "Later", 1, issued),
		detail(4, "s1", "Earlier", 1, issued),
	}

	summary := SummarizeStudent("s1", records)
	assert.Equal(t, "Later", summary.MostRecentCategory)
}

func TestSummarizeStudentEmptyLedger(t *testing.T) {
	summary := SummarizeStudent("s1", nil)
	assert.Equal(t, 0, summary.TotalPoints)
	assert.Equal(t, 0, summary.RecordCount)
	assert.Equal(t, models.SeverityGood, summary.Severity)
	assert.Empty(t, summary.MostRecentCategory)
}

func TestSummarizeByStudent(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	records := []models.DemeritDetail{
		detail(1, "s1", "Tardiness", 2, now),
		detail(2, "s2", "Fighting", 5, now),
		detail(3, "s2", "Fighting", 5, now.Add(time.Hour)),
	}

	summaries := SummarizeByStudent(records)
	require.Len(t, summaries, 2)
	assert.Equal(t, 2, summaries["s1"].TotalPoints)
	assert.Equal(t, 10, summaries["s2"].TotalPoints)
	assert.Equal(t, models.SeverityHigh, summaries["s2"].Severity)
}

func TestDistributionByCategory(t *testing.T) {
	now := time.Now()
	records := []models.DemeritDetail{
		detail(1, "s1", "Tardiness", 1, now),
		detail(2, "s2", "Tardiness", 1, now),
		detail(3, "s1", "Fighting", 5, now),
	}

	dist := DistributionByCategory(records)
	require.Len(t, dist, 2)
	assert.Equal(t, models.CategoryCount{CategoryName: "Tardiness", Count: 2}, dist[0])
	assert.Equal(t, models.CategoryCount{CategoryName: "Fighting", Count: 1}, dist[1])
}

func TestDistributionByGradeExcludesUnknownGrades(t *testing.T) {
	now := time.Now()
	records := []models.DemeritDetail{
		detail(1, "s1", "Tardiness", 1, now),
		detail(2, "s2", "Tardiness", 1, now),
		detail(3, "s3", "Tardiness", 1, now),
	}
	grade8 := 8
	profiles := map[string]models.StudentProfile{
		"s1": {UserID: "s1", GradeLevel: &grade8},
		"s2": {UserID: "s2"},
	}

	dist := DistributionByGrade(records, profiles)
	require.Len(t, dist, 1)
	assert.Equal(t, models.GradeCount{GradeLevel: 8, Count: 1}, dist[0])
}

func TestTrendOverTimeSparseAscending(t *testing.T) {
	records := []models.DemeritDetail{
		detail(1, "s1", "Tardiness", 1, time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)),
		detail(2, "s1", "Tardiness", 1, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)),
		detail(3, "s2", "Fighting", 5, time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)),
	}

	trend := TrendOverTime(records)
	require.Len(t, trend, 2)
	assert.Equal(t, models.TrendPoint{Date: "2026-03-10", Count: 2}, trend[0])
	assert.Equal(t, models.TrendPoint{Date: "2026-03-12", Count: 1}, trend[1])
}
