package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/schooltrack/demerit-api/internal/models"
	"github.com/schooltrack/demerit-api/internal/service"
	appErrors "github.com/schooltrack/demerit-api/pkg/errors"
	"github.com/schooltrack/demerit-api/pkg/response"
)

type demeritService interface {
	Create(ctx context.Context, issuerID string, issuerRole models.UserRole, req service.CreateDemeritRequest) (*models.Demerit, error)
	ListForRequester(ctx context.Context, requesterID string, role models.UserRole) ([]models.DemeritDetail, error)
	ListForStudent(ctx context.Context, requesterID string, role models.UserRole, studentID string) ([]models.DemeritDetail, error)
	SummaryForStudent(ctx context.Context, requesterID string, role models.UserRole, studentID string) (*models.StudentSummary, error)
	Categories(ctx context.Context) ([]models.DemeritCategory, error)
	CreateCategory(ctx context.Context, role models.UserRole, req service.CreateCategoryRequest) (*models.DemeritCategory, error)
}

// DemeritHandler wires HTTP endpoints to the demerit ledger service.
type DemeritHandler struct {
	service demeritService
}

// NewDemeritHandler creates a new handler.
func NewDemeritHandler(svc demeritService) *DemeritHandler {
	return &DemeritHandler{service: svc}
}

// List godoc
// @Summary List demerit records visible to the requester
// @Description Staff see every record; students their own; parents their linked children's.
// @Tags Demerits
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /demerits [get]
func (h *DemeritHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	records, err := h.service.ListForRequester(c.Request.Context(), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, records, nil)
}

// Create godoc
// @Summary Issue a demerit
// @Description Appends one record to the ledger. Points must be between 1 and 5.
// @Tags Demerits
// @Accept json
// @Produce json
// @Param payload body service.CreateDemeritRequest true "Demerit payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /demerits [post]
func (h *DemeritHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateDemeritRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid demerit payload"))
		return
	}

	record, err := h.service.Create(c.Request.Context(), claims.UserID, claims.Role, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, record)
}

// StudentDemerits godoc
// @Summary One student's demerit history
// @Description Most recent first. Requires visibility of the student.
// @Tags Demerits
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/demerits [get]
func (h *DemeritHandler) StudentDemerits(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	records, err := h.service.ListForStudent(c.Request.Context(), claims.UserID, claims.Role, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, records, nil)
}

// StudentSummary godoc
// @Summary One student's aggregated totals
// @Description Point total, record count, severity band and most recent category.
// @Tags Demerits
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/summary [get]
func (h *DemeritHandler) StudentSummary(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	summary, err := h.service.SummaryForStudent(c.Request.Context(), claims.UserID, claims.Role, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, summary, nil)
}

// Categories godoc
// @Summary List infraction categories
// @Tags Demerits
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /categories [get]
func (h *DemeritHandler) Categories(c *gin.Context) {
	categories, err := h.service.Categories(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, categories, nil)
}

// CreateCategory godoc
// @Summary Create an infraction category
// @Tags Demerits
// @Accept json
// @Produce json
// @Param payload body service.CreateCategoryRequest true "Category payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /categories [post]
func (h *DemeritHandler) CreateCategory(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid category payload"))
		return
	}

	category, err := h.service.CreateCategory(c.Request.Context(), claims.Role, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, category)
}
