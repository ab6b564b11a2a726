package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-portal-api/internal/dto"
	"github.com/noah-isme/sma-portal-api/internal/models"
	appErrors "github.com/noah-isme/sma-portal-api/pkg/errors"
	"github.com/noah-isme/sma-portal-api/pkg/storage"
)

type fakeAssignments struct {
	mu          sync.Mutex
	assignments map[string]*models.Assignment
	files       map[string]*models.AssignmentFile
	addFileErr  error
}

func newFakeAssignments(assignments ...models.Assignment) *fakeAssignments {
	f := &fakeAssignments{assignments: map[string]*models.Assignment{}, files: map[string]*models.AssignmentFile{}}
	for i := range assignments {
		a := assignments[i]
		f.assignments[a.ID] = &a
	}
	return f
}

func (f *fakeAssignments) Create(ctx context.Context, assignment *models.Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	assignment.ID = uuid.NewString()
	stored := *assignment
	f.assignments[assignment.ID] = &stored
	return nil
}

func (f *fakeAssignments) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *a
	clone.Files = []models.AssignmentFile{}
	for _, file := range f.files {
		if file.AssignmentID == id {
			clone.Files = append(clone.Files, *file)
		}
	}
	return &clone, nil
}

func (f *fakeAssignments) AddFile(ctx context.Context, file *models.AssignmentFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addFileErr != nil {
		return f.addFileErr
	}
	stored := *file
	f.files[file.ID] = &stored
	return nil
}

func (f *fakeAssignments) FindFile(ctx context.Context, id string) (*models.AssignmentFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *file
	return &clone, nil
}

// fakeSubmissions honours the same guards as the SQL statements.
type fakeSubmissions struct {
	mu   sync.Mutex
	rows map[string]*models.Submission
}

func newFakeSubmissions() *fakeSubmissions {
	return &fakeSubmissions{rows: map[string]*models.Submission{}}
}

func submissionKey(assignmentID, studentID string) string { return assignmentID + "/" + studentID }

func (f *fakeSubmissions) Find(ctx context.Context, assignmentID, studentID string) (*models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[submissionKey(assignmentID, studentID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *row
	return &clone, nil
}

func (f *fakeSubmissions) SaveDraft(ctx context.Context, submission *models.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := submissionKey(submission.AssignmentID, submission.StudentID)
	row, ok := f.rows[key]
	if !ok {
		submission.ID = uuid.NewString()
		stored := *submission
		f.rows[key] = &stored
		return nil
	}
	if row.IsFinalized {
		return sql.ErrNoRows
	}
	row.Text = submission.Text
	row.FileRef = submission.FileRef
	row.SubmittedAt = submission.SubmittedAt
	*submission = *row
	return nil
}

func (f *fakeSubmissions) Finalize(ctx context.Context, assignmentID, studentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[submissionKey(assignmentID, studentID)]
	if !ok || row.IsFinalized {
		return false, nil
	}
	row.IsFinalized = true
	return true, nil
}

func (f *fakeSubmissions) SetGrade(ctx context.Context, assignmentID, studentID string, grade *int, feedback *string, gradedBy string, gradedAt time.Time) (*models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[submissionKey(assignmentID, studentID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	row.Grade = grade
	row.Feedback = feedback
	row.GradedBy = &gradedBy
	row.GradedAt = &gradedAt
	clone := *row
	return &clone, nil
}

func (f *fakeSubmissions) CountByAssignment(ctx context.Context, assignmentID, classID string) (models.SubmissionCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var counts models.SubmissionCounts
	for _, row := range f.rows {
		if row.AssignmentID != assignmentID {
			continue
		}
		counts.Submitted++
		if row.IsFinalized {
			counts.Finalized++
		}
		if row.Grade != nil {
			counts.Graded++
		}
	}
	return counts, nil
}

type fakeClassAccess map[string]bool

func (f fakeClassAccess) IsTeacherOfClass(ctx context.Context, teacherID, classID string) (bool, error) {
	return f[teacherID+"/"+classID], nil
}

type assignmentFixture struct {
	svc         *AssignmentService
	clock       *fixedClock
	assignments *fakeAssignments
	submissions *fakeSubmissions
	events      *recordingPublisher
	storage     *storage.LocalStorage
}

var dueAt = time.Date(2025, 1, 10, 23, 59, 0, 0, time.UTC)

func newAssignmentFixture(t *testing.T, cfg AssignmentConfig) *assignmentFixture {
	t.Helper()
	clock := &fixedClock{now: time.Date(2025, 1, 9, 10, 0, 0, 0, time.UTC)}
	students := newFakeStudents(
		models.Student{ID: "stu-1", FullName: "Siti", ClassID: strPtr("class-a")},
		models.Student{ID: "stu-2", FullName: "Budi", ClassID: strPtr("class-a")},
		models.Student{ID: "stu-3", FullName: "Andi", ClassID: strPtr("class-b")},
	)
	assignments := newFakeAssignments(models.Assignment{ID: "asg-1", ClassID: "class-a", SubjectID: "math", Title: "Aljabar", DueAt: dueAt, CreatedBy: "tch-1"})
	submissions := newFakeSubmissions()
	events := &recordingPublisher{}
	store, err := storage.NewLocalStorage(t.TempDir(), 1024)
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour).WithClock(clock.Now)

	if cfg.AllowedMIMEs == nil {
		cfg.AllowedMIMEs = []string{"application/pdf", "text/plain"}
	}
	svc := NewAssignmentService(AssignmentDeps{
		Assignments: assignments,
		Submissions: submissions,
		Students:    students,
		Roster:      students,
		Classes:     fakeClassAccess{"tch-1/class-a": true},
		Files:       store,
		Signer:      signer,
		Events:      events,
		Clock:       clock.Now,
	}, cfg)
	return &assignmentFixture{svc: svc, clock: clock, assignments: assignments, submissions: submissions, events: events, storage: store}
}

func TestAssignmentLifecycleEndToEnd(t *testing.T) {
	f := newAssignmentFixture(t, AssignmentConfig{FinalizeAfterDue: true})
	ctx := context.Background()
	student := studentClaims("stu-1")

	f.clock.Set(time.Date(2025, 1, 9, 9, 0, 0, 0, time.UTC))
	first, err := f.svc.Submit(ctx, "asg-1", "stu-1", dto.SubmitAssignmentRequest{Text: "draft1"}, student)
	require.NoError(t, err)
	assert.Equal(t, "draft1", first.Text)

	f.clock.Set(time.Date(2025, 1, 9, 15, 0, 0, 0, time.UTC))
	second, err := f.svc.Submit(ctx, "asg-1", "stu-1", dto.SubmitAssignmentRequest{Text: "draft2"}, student)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "draft2", second.Text)
	assert.Equal(t, f.clock.Now(), second.SubmittedAt)

	_, state, err := f.svc.GetSubmission(ctx, "asg-1", "stu-1", student)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStateDraft, state)

	finalized, err := f.svc.Finalize(ctx, "asg-1", "stu-1", student)
	require.NoError(t, err)
	assert.True(t, finalized.IsFinalized)

	_, err = f.svc.Submit(ctx, "asg-1", "stu-1", dto.SubmitAssignmentRequest{Text: "draft3"}, student)
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyFinalized))

	grade := 85
	feedback := "Bagus"
	graded, err := f.svc.Grade(ctx, "asg-1", "stu-1", dto.GradeSubmissionRequest{Grade: &grade, Feedback: &feedback}, teacherClaims("tch-1"))
	require.NoError(t, err)
	require.NotNil(t, graded.Grade)
	assert.Equal(t, 85, *graded.Grade)
	assert.Equal(t, "draft2", graded.Text)
	assert.True(t, graded.IsFinalized)

	assert.Equal(t, []models.EventType{
		models.EventSubmissionSaved,
		models.EventSubmissionSaved,
		models.EventSubmissionFinalized,
		models.EventSubmissionGraded,
	}, f.events.types())
}

func TestAssignmentDeadlineEnforcement(t *testing.T) {
	f := newAssignmentFixture(t, AssignmentConfig{FinalizeAfterDue: true})
	ctx := context.Background()

	f.clock.Set(dueAt)
	_, err := f.svc.Submit(ctx, "asg-1", "stu-2", dto.SubmitAssignmentRequest{Text: "on time"}, studentClaims("stu-2"))
	require.NoError(t, err)

	f.clock.Set(dueAt.Add(time.Second))
	_, err = f.svc.Submit(ctx, "asg-1", "stu-1", dto.SubmitAssignmentRequest{Text: "late"}, studentClaims("stu-1"))
	assert.True(t, errors.Is(err, appErrors.ErrPastDue))

	_, err = f.svc.Submit(ctx, "asg-1", "stu-2", dto.SubmitAssignmentRequest{Text: "late edit"}, studentClaims("stu-2"))
	assert.True(t, errors.Is(err, appErrors.ErrPastDue))

	_, err = f.svc.Finalize(ctx, "asg-1", "stu-2", studentClaims("stu-2"))
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, "asg-1", "stu-2", dto.SubmitAssignmentRequest{Text: "late edit"}, studentClaims("stu-2"))
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyFinalized))
}

func TestAssignmentFinalizeAfterDuePolicy(t *testing.T) {
	f := newAssignmentFixture(t, AssignmentConfig{FinalizeAfterDue: false})
	ctx := context.Background()
	student := studentClaims("stu-1")

	_, err := f.svc.Finalize(ctx, "asg-1", "stu-1", student)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = f.svc.Submit(ctx, "asg-1", "stu-1", dto.SubmitAssignmentRequest{Text: "draft"}, student)
	require.NoError(t, err)

	f.clock.Set(dueAt.Add(time.Minute))
	_, err = f.svc.Finalize(ctx, "asg-1", "stu-1", student)
	assert.True(t, errors.Is(err, appErrors.ErrPastDue))
}

func TestAssignmentAccessRules(t *testing.T) {
	f := newAssignmentFixture(t, AssignmentConfig{})
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "asg-1", "stu-1", dto.SubmitAssignmentRequest{Text: "x"}, studentClaims("stu-2"))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.Submit(ctx, "asg-1", "stu-3", dto.SubmitAssignmentRequest{Text: "x"}, studentClaims("stu-3"))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.Submit(ctx, "asg-1", "stu-1", dto.SubmitAssignmentRequest{}, studentClaims("stu-1"))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.Submit(ctx, "missing", "stu-1", dto.SubmitAssignmentRequest{Text: "x"}, studentClaims("stu-1"))
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	grade := 90
	_, err = f.svc.Grade(ctx, "asg-1", "stu-1", dto.GradeSubmissionRequest{Grade: &grade}, studentClaims("stu-1"))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.Grade(ctx, "asg-1", "stu-1", dto.GradeSubmissionRequest{Grade: &grade}, teacherClaims("tch-9"))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.Grade(ctx, "asg-1", "stu-1", dto.GradeSubmissionRequest{Grade: &grade}, adminClaims())
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	tooHigh := 101
	_, err = f.svc.Grade(ctx, "asg-1", "stu-1", dto.GradeSubmissionRequest{Grade: &tooHigh}, adminClaims())
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestAssignmentGradeCanBeCleared(t *testing.T) {
	f := newAssignmentFixture(t, AssignmentConfig{})
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, "asg-1", "stu-1", dto.SubmitAssignmentRequest{Text: "work"}, studentClaims("stu-1"))
	require.NoError(t, err)

	grade := 70
	_, err = f.svc.Grade(ctx, "asg-1", "stu-1", dto.GradeSubmissionRequest{Grade: &grade}, teacherClaims("tch-1"))
	require.NoError(t, err)

	cleared, err := f.svc.Grade(ctx, "asg-1", "stu-1", dto.GradeSubmissionRequest{}, teacherClaims("tch-1"))
	require.NoError(t, err)
	assert.Nil(t, cleared.Grade)
}

func TestAssignmentSummary(t *testing.T) {
	f := newAssignmentFixture(t, AssignmentConfig{})
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, "asg-1", "stu-1", dto.SubmitAssignmentRequest{Text: "work"}, studentClaims("stu-1"))
	require.NoError(t, err)

	summary, err := f.svc.Summary(ctx, "asg-1", teacherClaims("tch-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Submitted)
	assert.Equal(t, 2, summary.RosterSize)
	assert.InDelta(t, 0.5, summary.Ratio, 0.0001)

	_, err = f.svc.Summary(ctx, "asg-1", studentClaims("stu-1"))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestAssignmentCreate(t *testing.T) {
	f := newAssignmentFixture(t, AssignmentConfig{})
	ctx := context.Background()
	req := dto.CreateAssignmentRequest{ClassID: "class-a", SubjectID: "math", Title: " Geometri ", DueAt: dueAt}

	created, err := f.svc.Create(ctx, req, teacherClaims("tch-1"))
	require.NoError(t, err)
	assert.Equal(t, "Geometri", created.Title)
	assert.Equal(t, "tch-1", created.CreatedBy)

	_, err = f.svc.Create(ctx, req, teacherClaims("tch-2"))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.Create(ctx, dto.CreateAssignmentRequest{ClassID: "class-a"}, adminClaims())
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestAssignmentFileUploadAndSignedDownload(t *testing.T) {
	f := newAssignmentFixture(t, AssignmentConfig{MaxFileSize: 512})
	ctx := context.Background()
	teacher := teacherClaims("tch-1")

	file, err := f.svc.UploadFile(ctx, "asg-1", dto.UploadFileInput{FileName: "../soal.PDF", MimeType: "application/pdf; charset=binary", Size: 11}, strings.NewReader("hello world"), teacher)
	require.NoError(t, err)
	assert.Equal(t, "soal.PDF", file.FileName)
	assert.Equal(t, "application/pdf", file.MimeType)
	assert.EqualValues(t, 11, file.SizeBytes)
	assert.True(t, strings.HasPrefix(file.StorageKey, "assignments/asg-1/"))
	assert.True(t, strings.HasSuffix(file.StorageKey, ".pdf"))
	require.NotEmpty(t, file.DownloadURL)
	require.NotNil(t, file.URLExpiresAt)

	token := file.DownloadURL[strings.LastIndex(file.DownloadURL, "/")+1:]
	meta, reader, err := f.svc.OpenFile(ctx, token)
	require.NoError(t, err)
	defer reader.Close()
	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))
	assert.Equal(t, file.ID, meta.ID)

	assignment, err := f.svc.Get(ctx, "asg-1", studentClaims("stu-1"))
	require.NoError(t, err)
	require.Len(t, assignment.Files, 1)
	assert.NotEmpty(t, assignment.Files[0].DownloadURL)

	f.clock.Set(f.clock.Now().Add(2 * time.Hour))
	_, _, err = f.svc.OpenFile(ctx, token)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, _, err = f.svc.OpenFile(ctx, "bogus")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestAssignmentFileUploadRejections(t *testing.T) {
	f := newAssignmentFixture(t, AssignmentConfig{MaxFileSize: 4096})
	ctx := context.Background()
	teacher := teacherClaims("tch-1")

	_, err := f.svc.UploadFile(ctx, "asg-1", dto.UploadFileInput{FileName: "run.exe", MimeType: "application/x-msdownload", Size: 3}, strings.NewReader("bin"), teacher)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	// the storage limit (1 KiB) is lower than the configured size, so Save rejects the stream
	_, err = f.svc.UploadFile(ctx, "asg-1", dto.UploadFileInput{FileName: "big.txt", MimeType: "text/plain", Size: 2048}, bytes.NewReader(make([]byte, 2048)), teacher)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.UploadFile(ctx, "asg-1", dto.UploadFileInput{FileName: "a.txt", MimeType: "text/plain", Size: 1}, strings.NewReader("a"), studentClaims("stu-1"))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	f.assignments.addFileErr = errors.New("db down")
	_, err = f.svc.UploadFile(ctx, "asg-1", dto.UploadFileInput{FileName: "a.txt", MimeType: "text/plain", Size: 1}, strings.NewReader("a"), teacher)
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
}
