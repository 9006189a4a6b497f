package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/schooltrack/demerit-api/internal/models"
	appErrors "github.com/schooltrack/demerit-api/pkg/errors"
)

type analyticsDemeritRepository interface {
	ListAll(ctx context.Context) ([]models.DemeritDetail, error)
}

type analyticsProfileRepository interface {
	ListProfiles(ctx context.Context) (map[string]models.StudentProfile, error)
}

// AnalyticsService computes school-wide aggregates from the ledger with cache
// integration. Aggregates are always folded from ledger rows, never from
// stored counters.
type AnalyticsService struct {
	demerits analyticsDemeritRepository
	profiles analyticsProfileRepository
	cache    *CacheService
	metrics  *MetricsService
	gate     *AccessGate
	logger   *zap.Logger
}

// NewAnalyticsService constructs an analytics service.
func NewAnalyticsService(demerits analyticsDemeritRepository, profiles analyticsProfileRepository, cache *CacheService, metrics *MetricsService, gate *AccessGate, logger *zap.Logger) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsService{demerits: demerits, profiles: profiles, cache: cache, metrics: metrics, gate: gate, logger: logger}
}

// CategoryDistribution returns record counts per category, busiest first. The
// boolean indicates whether data originated from cache.
func (s *AnalyticsService) CategoryDistribution(ctx context.Context, role models.UserRole) ([]models.CategoryCount, bool, error) {
	if !s.gate.CanViewAnalytics(role) {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "analytics are staff only")
	}
	cacheKey := makeAnalyticsCacheKey("categories")
	var cached []models.CategoryCount
	if hit, err := s.cacheGet(ctx, cacheKey, &cached); err == nil && hit {
		return cached, true, nil
	}

	records, err := s.loadLedger(ctx, "analytics_categories")
	if err != nil {
		return nil, false, err
	}
	dist := DistributionByCategory(records)
	s.cacheSet(ctx, cacheKey, dist)
	return dist, false, nil
}

// GradeDistribution returns record counts per grade level, ascending.
// Students without a grade level contribute nothing.
func (s *AnalyticsService) GradeDistribution(ctx context.Context, role models.UserRole) ([]models.GradeCount, bool, error) {
	if !s.gate.CanViewAnalytics(role) {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "analytics are staff only")
	}
	cacheKey := makeAnalyticsCacheKey("grades")
	var cached []models.GradeCount
	if hit, err := s.cacheGet(ctx, cacheKey, &cached); err == nil && hit {
		return cached, true, nil
	}

	records, err := s.loadLedger(ctx, "analytics_grades")
	if err != nil {
		return nil, false, err
	}
	profiles, err := s.profiles.ListProfiles(ctx)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load student profiles")
	}
	dist := DistributionByGrade(records, profiles)
	s.cacheSet(ctx, cacheKey, dist)
	return dist, false, nil
}

// Trend returns the per-day record counts, ascending and sparse.
func (s *AnalyticsService) Trend(ctx context.Context, role models.UserRole) ([]models.TrendPoint, bool, error) {
	if !s.gate.CanViewAnalytics(role) {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "analytics are staff only")
	}
	cacheKey := makeAnalyticsCacheKey("trend")
	var cached []models.TrendPoint
	if hit, err := s.cacheGet(ctx, cacheKey, &cached); err == nil && hit {
		return cached, true, nil
	}

	records, err := s.loadLedger(ctx, "analytics_trend")
	if err != nil {
		return nil, false, err
	}
	trend := TrendOverTime(records)
	s.cacheSet(ctx, cacheKey, trend)
	return trend, false, nil
}

// Summaries folds the whole ledger into one summary per student with demerits.
func (s *AnalyticsService) Summaries(ctx context.Context, role models.UserRole) (map[string]models.StudentSummary, bool, error) {
	if !s.gate.CanViewAnalytics(role) {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "analytics are staff only")
	}
	cacheKey := makeAnalyticsCacheKey("summaries")
	var cached map[string]models.StudentSummary
	if hit, err := s.cacheGet(ctx, cacheKey, &cached); err == nil && hit {
		return cached, true, nil
	}

	records, err := s.loadLedger(ctx, "analytics_summaries")
	if err != nil {
		return nil, false, err
	}
	summaries := SummarizeByStudent(records)
	s.cacheSet(ctx, cacheKey, summaries)
	return summaries, false, nil
}

// SystemMetrics returns the instrumentation snapshot. Admin only.
func (s *AnalyticsService) SystemMetrics(role models.UserRole) (models.SystemMetrics, error) {
	if role != models.RoleAdmin {
		return models.SystemMetrics{}, appErrors.Clone(appErrors.ErrForbidden, "system metrics are admin only")
	}
	if s.metrics == nil {
		return models.SystemMetrics{}, nil
	}
	return s.metrics.Snapshot(), nil
}

func (s *AnalyticsService) loadLedger(ctx context.Context, label string) ([]models.DemeritDetail, error) {
	start := time.Now()
	records, err := s.demerits.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load ledger")
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery(label, time.Since(start))
	}
	return records, nil
}

func (s *AnalyticsService) cacheGet(ctx context.Context, key string, dest interface{}) (bool, error) {
	if s.cache == nil {
		return false, nil
	}
	return s.cache.Get(ctx, key, dest)
}

func (s *AnalyticsService) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, 0); err != nil {
		s.logger.Warn("cache analytics", zap.String("key", key), zap.Error(err))
	}
}

func makeAnalyticsCacheKey(parts ...string) string {
	var builder strings.Builder
	builder.Grow(len(parts) * 16)
	builder.WriteString("analytics")
	for _, part := range parts {
		if part == "" {
			continue
		}
		builder.WriteByte(':')
		builder.WriteString(strings.ReplaceAll(part, ":", "|"))
	}
	return builder.String()
}
