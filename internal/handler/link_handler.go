package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/schooltrack/demerit-api/internal/service"
	appErrors "github.com/schooltrack/demerit-api/pkg/errors"
	"github.com/schooltrack/demerit-api/pkg/response"
)

// LinkHandler wires HTTP endpoints to the parent-student link service.
type LinkHandler struct {
	service *service.LinkService
}

// NewLinkHandler creates a new handler.
func NewLinkHandler(svc *service.LinkService) *LinkHandler {
	return &LinkHandler{service: svc}
}

// LinkRequest identifies one parent-student pair.
type LinkRequest struct {
	ParentID  string `json:"parent_id" binding:"required"`
	StudentID string `json:"student_id" binding:"required"`
}

// ReplaceChildrenRequest carries the student IDs to attach to a parent.
type ReplaceChildrenRequest struct {
	StudentIDs []string `json:"student_ids"`
}

// Add godoc
// @Summary Link a parent to a student
// @Description Creating an existing link is a no-op, not an error.
// @Tags Links
// @Accept json
// @Produce json
// @Param payload body LinkRequest true "Link payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /links [post]
func (h *LinkHandler) Add(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid link payload"))
		return
	}

	if err := h.service.Add(c.Request.Context(), claims.UserID, claims.Role, req.ParentID, req.StudentID); err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, gin.H{"parent_id": req.ParentID, "student_id": req.StudentID})
}

// Remove godoc
// @Summary Unlink a parent from a student
// @Description Removing a missing link succeeds silently.
// @Tags Links
// @Accept json
// @Produce json
// @Param payload body LinkRequest true "Link payload"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /links [delete]
func (h *LinkHandler) Remove(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid link payload"))
		return
	}

	if err := h.service.Remove(c.Request.Context(), claims.UserID, claims.Role, req.ParentID, req.StudentID); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// ReplaceChildren godoc
// @Summary Attach students to a parent in bulk
// @Description Additive only; students omitted from the list keep their existing link.
// @Tags Links
// @Accept json
// @Produce json
// @Param parentId path string true "Parent ID"
// @Param payload body ReplaceChildrenRequest true "Student IDs"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /parents/{parentId}/students [put]
func (h *LinkHandler) ReplaceChildren(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req ReplaceChildrenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid children payload"))
		return
	}

	children, err := h.service.ReplaceForParent(c.Request.Context(), claims.UserID, claims.Role, c.Param("parentId"), req.StudentIDs)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, children, nil)
}

// Children godoc
// @Summary List a parent's linked children
// @Tags Links
// @Produce json
// @Param parentId path string true "Parent ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /parents/{parentId}/children [get]
func (h *LinkHandler) Children(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	children, err := h.service.Children(c.Request.Context(), claims.UserID, claims.Role, c.Param("parentId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, children, nil)
}

// Dashboard godoc
// @Summary Parent dashboard
// @Description Per-child point totals, severity bands and most recent infraction.
// @Tags Links
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /parents/dashboard [get]
func (h *LinkHandler) Dashboard(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	summaries, err := h.service.ChildSummaries(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, summaries, nil)
}

// ListAll godoc
// @Summary List every parent-student link
// @Tags Links
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /links [get]
func (h *LinkHandler) ListAll(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	links, err := h.service.ListAll(c.Request.Context(), claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, links, nil)
}
