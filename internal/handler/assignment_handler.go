package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-portal-api/internal/dto"
	"github.com/noah-isme/sma-portal-api/internal/models"
	"github.com/noah-isme/sma-portal-api/pkg/response"
)

type assignmentService interface {
	Create(ctx context.Context, req dto.CreateAssignmentRequest, actor *models.JWTClaims) (*models.Assignment, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Assignment, error)
	UploadFile(ctx context.Context, assignmentID string, input dto.UploadFileInput, content io.Reader, actor *models.JWTClaims) (*models.AssignmentFile, error)
	OpenFile(ctx context.Context, token string) (*models.AssignmentFile, io.ReadCloser, error)
	GetSubmission(ctx context.Context, assignmentID, studentID string, actor *models.JWTClaims) (*models.Submission, models.SubmissionState, error)
	Submit(ctx context.Context, assignmentID, studentID string, req dto.SubmitAssignmentRequest, actor *models.JWTClaims) (*models.Submission, error)
	Finalize(ctx context.Context, assignmentID, studentID string, actor *models.JWTClaims) (*models.Submission, error)
	Grade(ctx context.Context, assignmentID, studentID string, req dto.GradeSubmissionRequest, actor *models.JWTClaims) (*models.Submission, error)
	Summary(ctx context.Context, assignmentID string, actor *models.JWTClaims) (*models.SubmissionSummary, error)
}

// AssignmentHandler exposes assignments, attachments and the submission lifecycle.
type AssignmentHandler struct {
	service assignmentService
}

// NewAssignmentHandler builds a new handler.
func NewAssignmentHandler(service assignmentService) *AssignmentHandler {
	return &AssignmentHandler{service: service}
}

// Create godoc
// @Summary Create an assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body dto.CreateAssignmentRequest true "Assignment payload"
// @Success 201 {object} response.Envelope
// @Router /assignments [post]
func (h *AssignmentHandler) Create(c *gin.Context) {
	var req dto.CreateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid assignment payload"))
		return
	}
	assignment, err := h.service.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// Get godoc
// @Summary Get an assignment with signed attachment links
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id} [get]
func (h *AssignmentHandler) Get(c *gin.Context) {
	assignment, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment)
}

// UploadFile godoc
// @Summary Attach a file to an assignment
// @Tags Assignments
// @Accept mpfd
// @Produce json
// @Param id path string true "Assignment ID"
// @Param file formData file true "Attachment"
// @Success 201 {object} response.Envelope
// @Router /assignments/{id}/files [post]
func (h *AssignmentHandler) UploadFile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, bindError(err, "multipart field \"file\" is required"))
		return
	}
	content, err := header.Open()
	if err != nil {
		response.Error(c, bindError(err, "unreadable upload"))
		return
	}
	defer content.Close()

	input := dto.UploadFileInput{
		FileName: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
	}
	file, err := h.service.UploadFile(c.Request.Context(), c.Param("id"), input, content, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, file)
}

// Download godoc
// @Summary Download an attachment through a signed link
// @Tags Assignments
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /files/{token} [get]
func (h *AssignmentHandler) Download(c *gin.Context) {
	file, reader, err := h.service.OpenFile(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer reader.Close()

	c.Header("Cache-Control", "private, no-store")
	c.DataFromReader(http.StatusOK, file.SizeBytes, file.MimeType, reader, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", file.FileName),
	})
}

// GetSubmission godoc
// @Summary Get a student's submission and its state
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/submissions/{studentId} [get]
func (h *AssignmentHandler) GetSubmission(c *gin.Context) {
	submission, state, err := h.service.GetSubmission(c.Request.Context(), c.Param("id"), c.Param("studentId"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.SubmissionView{State: state, Submission: submission})
}

// Submit godoc
// @Summary Save or overwrite a draft submission
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param studentId path string true "Student ID"
// @Param payload body dto.SubmitAssignmentRequest true "Submission payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /assignments/{id}/submissions/{studentId} [put]
func (h *AssignmentHandler) Submit(c *gin.Context) {
	var req dto.SubmitAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid submission payload"))
		return
	}
	submission, err := h.service.Submit(c.Request.Context(), c.Param("id"), c.Param("studentId"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission)
}

// Finalize godoc
// @Summary Finalize a submission
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/submissions/{studentId}/finalize [post]
func (h *AssignmentHandler) Finalize(c *gin.Context) {
	submission, err := h.service.Finalize(c.Request.Context(), c.Param("id"), c.Param("studentId"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission)
}

// Grade godoc
// @Summary Grade a submission
// @Description A null grade clears an existing grade.
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param studentId path string true "Student ID"
// @Param payload body dto.GradeSubmissionRequest true "Grade payload"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/submissions/{studentId}/grade [put]
func (h *AssignmentHandler) Grade(c *gin.Context) {
	var req dto.GradeSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid grade payload"))
		return
	}
	submission, err := h.service.Grade(c.Request.Context(), c.Param("id"), c.Param("studentId"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission)
}

// Summary godoc
// @Summary Submission ratio for an assignment
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/summary [get]
func (h *AssignmentHandler) Summary(c *gin.Context) {
	summary, err := h.service.Summary(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary)
}
