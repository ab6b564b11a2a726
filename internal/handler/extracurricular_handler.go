package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-portal-api/internal/dto"
	"github.com/noah-isme/sma-portal-api/internal/middleware"
	"github.com/noah-isme/sma-portal-api/internal/models"
	"github.com/noah-isme/sma-portal-api/pkg/response"
)

type extracurricularService interface {
	ListAvailable(ctx context.Context, filter dto.ActivityFilter, actor *models.JWTClaims) ([]models.AvailableActivity, error)
	ListEnrollments(ctx context.Context, studentID string, actor *models.JWTClaims) (*models.StudentEnrollments, error)
	Select(ctx context.Context, studentID string, req dto.SelectActivityRequest, actor *models.JWTClaims) (*models.Enrollment, error)
	Unselect(ctx context.Context, studentID, activityID string, actor *models.JWTClaims) error
	Finalize(ctx context.Context, studentID string, actor *models.JWTClaims) (*models.StudentEnrollments, error)
	CreateActivity(ctx context.Context, req dto.CreateActivityRequest, actor *models.JWTClaims) (*models.Activity, error)
	ReplaceSlots(ctx context.Context, activityID string, req dto.ReplaceSlotsRequest, actor *models.JWTClaims) (*models.Activity, error)
}

// ExtracurricularHandler exposes activity listing and the per-student enrollment ledger.
type ExtracurricularHandler struct {
	service extracurricularService
}

// NewExtracurricularHandler builds a new handler.
func NewExtracurricularHandler(service extracurricularService) *ExtracurricularHandler {
	return &ExtracurricularHandler{service: service}
}

// ListAvailable godoc
// @Summary List available extracurricular activities
// @Description With studentId each activity is annotated with the student's selection and schedule conflicts.
// @Tags Extracurriculars
// @Produce json
// @Param studentId query string false "Student ID"
// @Param classId query string false "Class ID"
// @Success 200 {object} response.Envelope
// @Router /extracurriculars [get]
func (h *ExtracurricularHandler) ListAvailable(c *gin.Context) {
	filter := dto.ActivityFilter{
		StudentID: c.Query("studentId"),
		ClassID:   c.Query("classId"),
	}
	items, err := h.service.ListAvailable(c.Request.Context(), filter, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, middleware.ExtractMeta(c))
}

// ListEnrollments godoc
// @Summary List a student's selected activities
// @Tags Extracurriculars
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/extracurriculars [get]
func (h *ExtracurricularHandler) ListEnrollments(c *gin.Context) {
	result, err := h.service.ListEnrollments(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, middleware.ExtractMeta(c))
}

// Select godoc
// @Summary Select an extracurricular activity
// @Tags Extracurriculars
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body dto.SelectActivityRequest true "Selection payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /students/{id}/extracurriculars [post]
func (h *ExtracurricularHandler) Select(c *gin.Context) {
	var req dto.SelectActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid selection payload"))
		return
	}
	enrollment, err := h.service.Select(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Unselect godoc
// @Summary Remove a selected activity
// @Tags Extracurriculars
// @Param id path string true "Student ID"
// @Param activityId path string true "Activity ID"
// @Success 204
// @Router /students/{id}/extracurriculars/{activityId} [delete]
func (h *ExtracurricularHandler) Unselect(c *gin.Context) {
	if err := h.service.Unselect(c.Request.Context(), c.Param("id"), c.Param("activityId"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Finalize godoc
// @Summary Finalize a student's selections
// @Description After finalization the selection set can no longer change.
// @Tags Extracurriculars
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/extracurriculars/finalize [post]
func (h *ExtracurricularHandler) Finalize(c *gin.Context) {
	result, err := h.service.Finalize(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// CreateActivity godoc
// @Summary Create an extracurricular activity
// @Tags Extracurriculars
// @Accept json
// @Produce json
// @Param payload body dto.CreateActivityRequest true "Activity payload"
// @Success 201 {object} response.Envelope
// @Router /extracurriculars [post]
func (h *ExtracurricularHandler) CreateActivity(c *gin.Context) {
	var req dto.CreateActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid activity payload"))
		return
	}
	activity, err := h.service.CreateActivity(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, activity)
}

// ReplaceSlots godoc
// @Summary Replace an activity's weekly schedule
// @Tags Extracurriculars
// @Accept json
// @Produce json
// @Param id path string true "Activity ID"
// @Param payload body dto.ReplaceSlotsRequest true "Slots payload"
// @Success 200 {object} response.Envelope
// @Router /extracurriculars/{id}/slots [put]
func (h *ExtracurricularHandler) ReplaceSlots(c *gin.Context) {
	var req dto.ReplaceSlotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid slots payload"))
		return
	}
	activity, err := h.service.ReplaceSlots(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, activity)
}
