package models

import "time"

// Assignment is a piece of class work issued by a teacher.
type Assignment struct {
	ID          string           `db:"id" json:"id"`
	ClassID     string           `db:"class_id" json:"class_id"`
	SubjectID   string           `db:"subject_id" json:"subject_id"`
	Title       string           `db:"title" json:"title"`
	Description string           `db:"description" json:"description"`
	DueAt       time.Time        `db:"due_at" json:"due_at"`
	CreatedBy   string           `db:"created_by" json:"created_by"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
	Files       []AssignmentFile `db:"-" json:"files"`
}

// PastDue reports whether now lies after the due timestamp. The due instant itself is still open.
func (a *Assignment) PastDue(now time.Time) bool {
	return now.After(a.DueAt)
}

// AssignmentFile is attachment metadata. The blob lives in file storage under StorageKey.
type AssignmentFile struct {
	ID           string     `db:"id" json:"id"`
	AssignmentID string     `db:"assignment_id" json:"assignment_id"`
	FileName     string     `db:"file_name" json:"file_name"`
	StorageKey   string     `db:"storage_key" json:"-"`
	MimeType     string     `db:"mime_type" json:"mime_type"`
	SizeBytes    int64      `db:"size_bytes" json:"size_bytes"`
	UploadedBy   string     `db:"uploaded_by" json:"uploaded_by"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	DownloadURL  string     `db:"-" json:"download_url,omitempty"`
	URLExpiresAt *time.Time `db:"-" json:"download_url_expires_at,omitempty"`
}

// SubmissionState is the lifecycle position of a student's work on an assignment.
type SubmissionState string

const (
	SubmissionStateNone      SubmissionState = "NO_SUBMISSION"
	SubmissionStateDraft     SubmissionState = "DRAFT"
	SubmissionStateFinalized SubmissionState = "FINALIZED"
)

// Submission is a student's work product for an assignment. Grade and feedback are
// written by staff and are independent of the lifecycle state.
type Submission struct {
	ID           string     `db:"id" json:"id"`
	AssignmentID string     `db:"assignment_id" json:"assignment_id"`
	StudentID    string     `db:"student_id" json:"student_id"`
	Text         string     `db:"text" json:"text"`
	FileRef      *string    `db:"file_ref" json:"file_ref,omitempty"`
	SubmittedAt  time.Time  `db:"submitted_at" json:"submitted_at"`
	IsFinalized  bool       `db:"is_finalized" json:"is_finalized"`
	Grade        *int       `db:"grade" json:"grade"`
	Feedback     *string    `db:"feedback" json:"feedback"`
	GradedAt     *time.Time `db:"graded_at" json:"graded_at,omitempty"`
	GradedBy     *string    `db:"graded_by" json:"graded_by,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// StateOf derives the lifecycle state; a nil submission has not been started.
func StateOf(s *Submission) SubmissionState {
	switch {
	case s == nil:
		return SubmissionStateNone
	case s.IsFinalized:
		return SubmissionStateFinalized
	default:
		return SubmissionStateDraft
	}
}

// SubmissionCounts aggregates submissions stored for one assignment.
type SubmissionCounts struct {
	Submitted int `db:"submitted"`
	Finalized int `db:"finalized"`
	Graded    int `db:"graded"`
}

// SubmissionSummary is the submitted-versus-roster ratio for an assignment.
type SubmissionSummary struct {
	AssignmentID string  `json:"assignment_id"`
	ClassID      string  `json:"class_id"`
	Submitted    int     `json:"submitted"`
	Finalized    int     `json:"finalized"`
	Graded       int     `json:"graded"`
	RosterSize   int     `json:"roster_size"`
	Ratio        float64 `json:"ratio"`
}
