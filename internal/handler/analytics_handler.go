package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/schooltrack/demerit-api/internal/models"
	appErrors "github.com/schooltrack/demerit-api/pkg/errors"
	"github.com/schooltrack/demerit-api/pkg/response"
)

type analyticsService interface {
	Summaries(ctx context.Context, role models.UserRole) (map[string]models.StudentSummary, bool, error)
	CategoryDistribution(ctx context.Context, role models.UserRole) ([]models.CategoryCount, bool, error)
	GradeDistribution(ctx context.Context, role models.UserRole) ([]models.GradeCount, bool, error)
	Trend(ctx context.Context, role models.UserRole) ([]models.TrendPoint, bool, error)
	SystemMetrics(role models.UserRole) (models.SystemMetrics, error)
}

// AnalyticsHandler wires HTTP endpoints to the analytics service. Every
// aggregate response carries a cached flag in the meta block.
type AnalyticsHandler struct {
	service analyticsService
}

// NewAnalyticsHandler creates a new handler.
func NewAnalyticsHandler(svc analyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{service: svc}
}

func cacheMeta(hit bool) map[string]interface{} {
	return map[string]interface{}{"cached": hit}
}

// Summary godoc
// @Summary Per-student aggregate summaries
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /analytics/summary [get]
func (h *AnalyticsHandler) Summary(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	summaries, hit, err := h.service.Summaries(c.Request.Context(), claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, summaries, nil, cacheMeta(hit))
}

// Categories godoc
// @Summary Demerit distribution by category
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /analytics/categories [get]
func (h *AnalyticsHandler) Categories(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	counts, hit, err := h.service.CategoryDistribution(c.Request.Context(), claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, counts, nil, cacheMeta(hit))
}

// Grades godoc
// @Summary Demerit distribution by grade level
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /analytics/grades [get]
func (h *AnalyticsHandler) Grades(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	counts, hit, err := h.service.GradeDistribution(c.Request.Context(), claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, counts, nil, cacheMeta(hit))
}

// Trend godoc
// @Summary Demerit points per day over time
// @Description Sparse ascending series; days with no records are omitted.
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /analytics/trend [get]
func (h *AnalyticsHandler) Trend(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	points, hit, err := h.service.Trend(c.Request.Context(), claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, points, nil, cacheMeta(hit))
}

// System godoc
// @Summary Runtime and traffic metrics snapshot
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /analytics/system [get]
func (h *AnalyticsHandler) System(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	snapshot, err := h.service.SystemMetrics(claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, snapshot, nil)
}
