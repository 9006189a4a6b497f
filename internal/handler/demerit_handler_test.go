package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/schooltrack/demerit-api/internal/middleware"
	"github.com/schooltrack/demerit-api/internal/models"
	"github.com/schooltrack/demerit-api/internal/service"
	appErrors "github.com/schooltrack/demerit-api/pkg/errors"
)

type fakeDemeritSrv struct {
	created    *models.Demerit
	createErr  error
	lastCreate service.CreateDemeritRequest
	lastIssuer string
	records    []models.DemeritDetail
	listErr    error
	summary    *models.StudentSummary
	summaryErr error
}

func (f *fakeDemeritSrv) Create(_ context.Context, issuerID string, _ models.UserRole, req service.CreateDemeritRequest) (*models.Demerit, error) {
	f.lastIssuer = issuerID
	f.lastCreate = req
	return f.created, f.createErr
}

func (f *fakeDemeritSrv) ListForRequester(context.Context, string, models.UserRole) ([]models.DemeritDetail, error) {
	return f.records, f.listErr
}

func (f *fakeDemeritSrv) ListForStudent(context.Context, string, models.UserRole, string) ([]models.DemeritDetail, error) {
	return f.records, f.listErr
}

func (f *fakeDemeritSrv) SummaryForStudent(context.Context, string, models.UserRole, string) (*models.StudentSummary, error) {
	return f.summary, f.summaryErr
}

func (f *fakeDemeritSrv) Categories(context.Context) ([]models.DemeritCategory, error) {
	return nil, nil
}

func (f *fakeDemeritSrv) CreateCategory(context.Context, models.UserRole, service.CreateCategoryRequest) (*models.DemeritCategory, error) {
	return nil, nil
}

func testContext(t *testing.T, method, target, body string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
		c.Request = httptest.NewRequest(method, target, reader)
		c.Request.Header.Set("Content-Type", "application/json")
	} else {
		c.Request = httptest.NewRequest(method, target, nil)
	}
	return c, rec
}

func asUser(c *gin.Context, userID string, role models.UserRole) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: userID, Role: role})
}

func TestDemeritCreateRequiresSession(t *testing.T) {
	handler := NewDemeritHandler(&fakeDemeritSrv{})

	c, rec := testContext(t, http.MethodPost, "/demerits", `{"student_id":"s1","category_id":"c1","points":3}`)
	handler.Create(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDemeritCreateSuccess(t *testing.T) {
	srv := &fakeDemeritSrv{created: &models.Demerit{ID: 7, StudentID: "s1", Points: 3}}
	handler := NewDemeritHandler(srv)

	c, rec := testContext(t, http.MethodPost, "/demerits", `{"student_id":"s1","category_id":"c1","points":3,"description":"late"}`)
	asUser(c, "t1", models.RoleTeacher)
	handler.Create(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "t1", srv.lastIssuer)
	assert.Equal(t, "s1", srv.lastCreate.StudentID)
	assert.Equal(t, 3, srv.lastCreate.Points)
}

func TestDemeritCreateServiceErrorPassthrough(t *testing.T) {
	handler := NewDemeritHandler(&fakeDemeritSrv{createErr: appErrors.ErrOutOfRange})

	c, rec := testContext(t, http.MethodPost, "/demerits", `{"student_id":"s1","category_id":"c1","points":9}`)
	asUser(c, "t1", models.RoleTeacher)
	handler.Create(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDemeritListSuccess(t *testing.T) {
	srv := &fakeDemeritSrv{records: []models.DemeritDetail{
		{Demerit: models.Demerit{ID: 2, StudentID: "s1", Points: 4}, CategoryName: "Disruption"},
	}}
	handler := NewDemeritHandler(srv)

	c, rec := testContext(t, http.MethodGet, "/demerits", "")
	asUser(c, "s1", models.RoleStudent)
	handler.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data []map[string]interface{} `json:"data"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &envelope)
	assert.Len(t, envelope.Data, 1)
	assert.Equal(t, "Disruption", envelope.Data[0]["category_name"])
}

func TestDemeritStudentSummary(t *testing.T) {
	srv := &fakeDemeritSrv{summary: &models.StudentSummary{
		StudentID:   "s1",
		TotalPoints: 7,
		RecordCount: 2,
		Severity:    models.SeverityHigh,
	}}
	handler := NewDemeritHandler(srv)

	c, rec := testContext(t, http.MethodGet, "/students/s1/summary", "")
	c.Params = gin.Params{{Key: "id", Value: "s1"}}
	asUser(c, "admin-1", models.RoleAdmin)
	handler.StudentSummary(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data map[string]interface{} `json:"data"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &envelope)
	assert.Equal(t, "high", envelope.Data["severity"])
	assert.Equal(t, float64(7), envelope.Data["total_points"])
}

func TestDemeritStudentSummaryForbidden(t *testing.T) {
	handler := NewDemeritHandler(&fakeDemeritSrv{summaryErr: appErrors.ErrForbidden})

	c, rec := testContext(t, http.MethodGet, "/students/s2/summary", "")
	c.Params = gin.Params{{Key: "id", Value: "s2"}}
	asUser(c, "s1", models.RoleStudent)
	handler.StudentSummary(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
