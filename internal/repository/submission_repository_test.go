package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

func submissionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "assignment_id", "student_id", "text", "file_ref", "submitted_at", "is_finalized", "grade", "feedback", "graded_at", "graded_by", "created_at", "updated_at"})
}

func TestSubmissionRepositorySaveDraft(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	submittedAt := time.Date(2025, 1, 9, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("(?s)INSERT INTO submissions.*ON CONFLICT \\(assignment_id, student_id\\) DO UPDATE.*WHERE submissions.is_finalized = FALSE").
		WithArgs(sqlmock.AnyArg(), "asg-1", "stu-1", "draft1", nil, submittedAt, sqlmock.AnyArg()).
		WillReturnRows(submissionRows().AddRow("sub-1", "asg-1", "stu-1", "draft1", nil, submittedAt, false, nil, nil, nil, nil, submittedAt, submittedAt))

	submission := &models.Submission{AssignmentID: "asg-1", StudentID: "stu-1", Text: "draft1", SubmittedAt: submittedAt}
	require.NoError(t, repo.SaveDraft(context.Background(), submission))
	assert.Equal(t, "sub-1", submission.ID)
	assert.False(t, submission.IsFinalized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositorySaveDraftOnFinalizedRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	mock.ExpectQuery("INSERT INTO submissions").WillReturnRows(submissionRows())

	err := repo.SaveDraft(context.Background(), &models.Submission{AssignmentID: "asg-1", StudentID: "stu-1", SubmittedAt: time.Now()})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSubmissionRepositoryFinalize(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions SET is_finalized = TRUE")).
		WithArgs("asg-1", "stu-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions SET is_finalized = TRUE")).
		WithArgs("asg-1", "stu-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Finalize(context.Background(), "asg-1", "stu-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Finalize(context.Background(), "asg-1", "stu-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositorySetGrade(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	gradedAt := time.Date(2025, 1, 12, 9, 0, 0, 0, time.UTC)
	grade := 85
	feedback := "Bagus"
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE submissions SET grade = $3, feedback = $4")).
		WithArgs("asg-1", "stu-1", 85, "Bagus", gradedAt, "tch-1").
		WillReturnRows(submissionRows().AddRow("sub-1", "asg-1", "stu-1", "draft2", nil, gradedAt, true, 85, "Bagus", gradedAt, "tch-1", gradedAt, gradedAt))

	submission, err := repo.SetGrade(context.Background(), "asg-1", "stu-1", &grade, &feedback, "tch-1", gradedAt)
	require.NoError(t, err)
	require.NotNil(t, submission.Grade)
	assert.Equal(t, 85, *submission.Grade)
	assert.True(t, submission.IsFinalized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryCountByAssignment(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	mock.ExpectQuery("FROM submissions sub\\s+JOIN students s").
		WithArgs("asg-1", "class-1").
		WillReturnRows(sqlmock.NewRows([]string{"submitted", "finalized", "graded"}).AddRow(12, 10, 4))

	counts, err := repo.CountByAssignment(context.Background(), "asg-1", "class-1")
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionCounts{Submitted: 12, Finalized: 10, Graded: 4}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
