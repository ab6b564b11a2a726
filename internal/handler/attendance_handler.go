package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-portal-api/internal/dto"
	"github.com/noah-isme/sma-portal-api/internal/models"
	"github.com/noah-isme/sma-portal-api/internal/service"
	"github.com/noah-isme/sma-portal-api/pkg/response"
)

type attendanceService interface {
	CreateForm(ctx context.Context, req dto.CreateAttendanceFormRequest, actor *models.JWTClaims) (*models.AttendanceForm, error)
	Submit(ctx context.Context, formID string, req dto.SubmitAttendanceRequest, actor *models.JWTClaims) (*models.AttendanceRecord, error)
	Summary(ctx context.Context, formID string, actor *models.JWTClaims) (*models.AttendanceSummary, error)
	Export(ctx context.Context, formID, format string, actor *models.JWTClaims) (*service.ExportResult, error)
}

// AttendanceHandler exposes attendance forms.
type AttendanceHandler struct {
	service attendanceService
}

// NewAttendanceHandler builds a new handler.
func NewAttendanceHandler(service attendanceService) *AttendanceHandler {
	return &AttendanceHandler{service: service}
}

// CreateForm godoc
// @Summary Open an attendance form
// @Description Times are HH:MM in the school timezone. One form per teacher per date.
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.CreateAttendanceFormRequest true "Form payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /attendance-forms [post]
func (h *AttendanceHandler) CreateForm(c *gin.Context) {
	var req dto.CreateAttendanceFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid attendance form payload"))
		return
	}
	form, err := h.service.CreateForm(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, form)
}

// Submit godoc
// @Summary Record the caller's attendance
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Form ID"
// @Param payload body dto.SubmitAttendanceRequest true "Attendance payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /attendance-forms/{id}/records [post]
func (h *AttendanceHandler) Submit(c *gin.Context) {
	var req dto.SubmitAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid attendance payload"))
		return
	}
	record, err := h.service.Submit(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Summary godoc
// @Summary Attendance summary for a form
// @Description Students without a record are shown as Belum Mengisi while the window is open and Tidak Hadir after it closes.
// @Tags Attendance
// @Produce json
// @Param id path string true "Form ID"
// @Success 200 {object} response.Envelope
// @Router /attendance-forms/{id}/summary [get]
func (h *AttendanceHandler) Summary(c *gin.Context) {
	summary, err := h.service.Summary(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary)
}

// Export godoc
// @Summary Export the attendance summary
// @Tags Attendance
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Form ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Router /attendance-forms/{id}/summary/export [get]
func (h *AttendanceHandler) Export(c *gin.Context) {
	result, err := h.service.Export(c.Request.Context(), c.Param("id"), c.Query("format"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, result.FileName, result.ContentType, result.Content)
}
