package dto

import (
	"time"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

// CreateAssignmentRequest is the payload teachers send to issue an assignment.
type CreateAssignmentRequest struct {
	ClassID     string    `json:"class_id" validate:"required"`
	SubjectID   string    `json:"subject_id" validate:"required"`
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=5000"`
	DueAt       time.Time `json:"due_at" validate:"required"`
}

// UploadFileInput carries an attachment upload from the handler to the service.
type UploadFileInput struct {
	FileName string
	MimeType string
	Size     int64
}

// SubmitAssignmentRequest creates or overwrites a draft submission.
type SubmitAssignmentRequest struct {
	Text    string  `json:"text" validate:"max=20000"`
	FileRef *string `json:"file_ref" validate:"omitempty,max=500"`
}

// GradeSubmissionRequest sets or clears a grade. A nil grade removes it.
type GradeSubmissionRequest struct {
	Grade    *int    `json:"grade" validate:"omitempty,min=0,max=100"`
	Feedback *string `json:"feedback" validate:"omitempty,max=5000"`
}

// SubmissionView pairs a submission with its lifecycle state.
type SubmissionView struct {
	State      models.SubmissionState `json:"state"`
	Submission *models.Submission     `json:"submission,omitempty"`
}
