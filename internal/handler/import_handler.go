package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/schooltrack/demerit-api/internal/service"
	appErrors "github.com/schooltrack/demerit-api/pkg/errors"
	"github.com/schooltrack/demerit-api/pkg/response"
)

// ImportHandler wires the roster import endpoint to the import service.
type ImportHandler struct {
	service *service.ImportService
}

// NewImportHandler creates a new handler.
func NewImportHandler(svc *service.ImportService) *ImportHandler {
	return &ImportHandler{service: svc}
}

// Students godoc
// @Summary Import students from a CSV roster
// @Description Accepts a multipart "file" field or a raw CSV body. Each valid
// @Description row creates a student with generated credentials; any carried-over
// @Description demerit total is recorded through the normal issue path.
// @Tags Imports
// @Accept mpfd
// @Produce json
// @Param file formData file false "CSV roster"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /imports/students [post]
func (h *ImportHandler) Students(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	reader, cleanup, err := importBody(c)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "missing roster file"))
		return
	}
	defer cleanup()

	result, err := h.service.Run(c.Request.Context(), claims.UserID, claims.Role, reader)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result, nil)
}

// importBody prefers the multipart "file" field, falling back to the raw body
// so CLI clients can pipe a CSV directly.
func importBody(c *gin.Context) (io.Reader, func(), error) {
	file, _, err := c.Request.FormFile("file")
	if err == nil {
		return file, func() { _ = file.Close() }, nil
	}
	if c.Request.Body == nil {
		return nil, nil, http.ErrMissingFile
	}
	return c.Request.Body, func() {}, nil
}
