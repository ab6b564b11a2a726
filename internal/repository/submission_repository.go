package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

const submissionColumns = "id, assignment_id, student_id, text, file_ref, submitted_at, is_finalized, grade, feedback, graded_at, graded_by, created_at, updated_at"

// SubmissionRepository persists student submissions. Lifecycle guards are part of
// each statement so a finalized row can never be overwritten by a racing save.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository constructs a SubmissionRepository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Find returns the submission of a student for an assignment.
func (r *SubmissionRepository) Find(ctx context.Context, assignmentID, studentID string) (*models.Submission, error) {
	var submission models.Submission
	query := "SELECT " + submissionColumns + " FROM submissions WHERE assignment_id = $1 AND student_id = $2"
	if err := r.db.GetContext(ctx, &submission, query, assignmentID, studentID); err != nil {
		return nil, err
	}
	return &submission, nil
}

// SaveDraft creates the submission or overwrites its content while it is not finalized.
// It returns sql.ErrNoRows when the stored submission is already finalized.
func (r *SubmissionRepository) SaveDraft(ctx context.Context, submission *models.Submission) error {
	now := time.Now().UTC()
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	query := `INSERT INTO submissions (id, assignment_id, student_id, text, file_ref, submitted_at, is_finalized, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $7)
ON CONFLICT (assignment_id, student_id) DO UPDATE
SET text = EXCLUDED.text, file_ref = EXCLUDED.file_ref, submitted_at = EXCLUDED.submitted_at, updated_at = EXCLUDED.updated_at
WHERE submissions.is_finalized = FALSE
RETURNING ` + submissionColumns
	err := r.db.GetContext(ctx, submission, query,
		submission.ID, submission.AssignmentID, submission.StudentID, submission.Text, submission.FileRef, submission.SubmittedAt, now)
	if err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("save submission: %w", err)
	}
	return nil
}

// Finalize locks a draft. It reports false when no draft matched.
func (r *SubmissionRepository) Finalize(ctx context.Context, assignmentID, studentID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE submissions SET is_finalized = TRUE, updated_at = $3
WHERE assignment_id = $1 AND student_id = $2 AND is_finalized = FALSE`, assignmentID, studentID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("finalize submission: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finalize submission rows: %w", err)
	}
	return affected > 0, nil
}

// SetGrade writes grade and feedback regardless of lifecycle state. It returns
// sql.ErrNoRows when no submission exists.
func (r *SubmissionRepository) SetGrade(ctx context.Context, assignmentID, studentID string, grade *int, feedback *string, gradedBy string, gradedAt time.Time) (*models.Submission, error) {
	query := `UPDATE submissions SET grade = $3, feedback = $4, graded_at = $5, graded_by = $6, updated_at = $5
WHERE assignment_id = $1 AND student_id = $2
RETURNING ` + submissionColumns
	var submission models.Submission
	if err := r.db.GetContext(ctx, &submission, query, assignmentID, studentID, grade, feedback, gradedAt, gradedBy); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("grade submission: %w", err)
	}
	return &submission, nil
}

// CountByAssignment aggregates stored submissions of students still on the class roster.
func (r *SubmissionRepository) CountByAssignment(ctx context.Context, assignmentID, classID string) (models.SubmissionCounts, error) {
	const query = `SELECT COUNT(*) AS submitted,
    COUNT(*) FILTER (WHERE sub.is_finalized) AS finalized,
    COUNT(*) FILTER (WHERE sub.grade IS NOT NULL) AS graded
FROM submissions sub
JOIN students s ON s.id = sub.student_id
WHERE sub.assignment_id = $1 AND s.class_id = $2 AND s.active = TRUE`
	var counts models.SubmissionCounts
	if err := r.db.GetContext(ctx, &counts, query, assignmentID, classID); err != nil {
		return counts, fmt.Errorf("count submissions: %w", err)
	}
	return counts, nil
}
