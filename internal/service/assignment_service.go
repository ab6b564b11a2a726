package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-portal-api/internal/dto"
	"github.com/noah-isme/sma-portal-api/internal/models"
	"github.com/noah-isme/sma-portal-api/pkg/database"
	appErrors "github.com/noah-isme/sma-portal-api/pkg/errors"
	"github.com/noah-isme/sma-portal-api/pkg/storage"
)

const (
	assignmentResource = "assignment"
	submissionResource = "submission"
)

type assignmentStore interface {
	Create(ctx context.Context, assignment *models.Assignment) error
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	AddFile(ctx context.Context, file *models.AssignmentFile) error
	FindFile(ctx context.Context, id string) (*models.AssignmentFile, error)
}

type submissionStore interface {
	Find(ctx context.Context, assignmentID, studentID string) (*models.Submission, error)
	SaveDraft(ctx context.Context, submission *models.Submission) error
	Finalize(ctx context.Context, assignmentID, studentID string) (bool, error)
	SetGrade(ctx context.Context, assignmentID, studentID string, grade *int, feedback *string, gradedBy string, gradedAt time.Time) (*models.Submission, error)
	CountByAssignment(ctx context.Context, assignmentID, classID string) (models.SubmissionCounts, error)
}

type rosterCounter interface {
	CountByClass(ctx context.Context, classID string) (int, error)
}

type classAccessChecker interface {
	IsTeacherOfClass(ctx context.Context, teacherID, classID string) (bool, error)
}

type attachmentStorage interface {
	Save(key string, r io.Reader) (int64, error)
	Open(key string) (*os.File, error)
	Delete(key string) error
}

type downloadSigner interface {
	Generate(fileID, key string) (string, time.Time, error)
	Parse(token string) (string, string, error)
}

// AssignmentConfig controls the submission lifecycle and attachment handling.
type AssignmentConfig struct {
	FinalizeAfterDue bool
	MaxFileSize      int64
	AllowedMIMEs     []string
	DownloadBaseURL  string
}

// AssignmentService manages assignments and the NoSubmission → Draft → Finalized lifecycle.
type AssignmentService struct {
	assignments assignmentStore
	submissions submissionStore
	students    studentReader
	roster      rosterCounter
	classes     classAccessChecker
	files       attachmentStorage
	signer      downloadSigner
	events      EventPublisher
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	clock       Clock
	config      AssignmentConfig
	allowed     map[string]struct{}
}

// AssignmentDeps groups the collaborators of AssignmentService.
type AssignmentDeps struct {
	Assignments assignmentStore
	Submissions submissionStore
	Students    studentReader
	Roster      rosterCounter
	Classes     classAccessChecker
	Files       attachmentStorage
	Signer      downloadSigner
	Events      EventPublisher
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
	Clock       Clock
}

// NewAssignmentService builds an AssignmentService.
func NewAssignmentService(deps AssignmentDeps, config AssignmentConfig) *AssignmentService {
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = noopPublisher{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	allowed := make(map[string]struct{}, len(config.AllowedMIMEs))
	for _, m := range config.AllowedMIMEs {
		allowed[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	return &AssignmentService{
		assignments: deps.Assignments,
		submissions: deps.Submissions,
		students:    deps.Students,
		roster:      deps.Roster,
		classes:     deps.Classes,
		files:       deps.Files,
		signer:      deps.Signer,
		events:      deps.Events,
		metrics:     deps.Metrics,
		validator:   deps.Validator,
		logger:      deps.Logger,
		clock:       deps.Clock,
		config:      config,
		allowed:     allowed,
	}
}

// Create issues a new assignment for a class the actor teaches.
func (s *AssignmentService) Create(ctx context.Context, req dto.CreateAssignmentRequest, actor *models.JWTClaims) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	if err := s.authorizeStaff(ctx, req.ClassID, actor); err != nil {
		return nil, err
	}

	assignment := &models.Assignment{
		ClassID:     req.ClassID,
		SubjectID:   req.SubjectID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		DueAt:       req.DueAt.UTC(),
		CreatedBy:   actor.UserID,
		Files:       []models.AssignmentFile{},
	}
	if err := s.assignments.Create(ctx, assignment); err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class or subject not found")
		}
		return nil, appErrors.Internal(err, "failed to create assignment")
	}

	s.publish(ctx, actor, models.EventAssignmentCreated, assignmentResource, assignment.ID, map[string]interface{}{
		"class_id": assignment.ClassID,
		"due_at":   assignment.DueAt,
	})
	return assignment, nil
}

// Get returns an assignment with short-lived download URLs for its files. Students
// only see assignments of their own class.
func (s *AssignmentService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Assignment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	assignment, err := s.loadAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleStudent {
		student, err := s.loadStudent(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		if !student.InClass(assignment.ClassID) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "assignment belongs to another class")
		}
	}
	for i := range assignment.Files {
		s.signFile(&assignment.Files[i])
	}
	return assignment, nil
}

// UploadFile stores an attachment for an assignment.
func (s *AssignmentService) UploadFile(ctx context.Context, assignmentID string, input dto.UploadFileInput, content io.Reader, actor *models.JWTClaims) (*models.AssignmentFile, error) {
	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeStaff(ctx, assignment.ClassID, actor); err != nil {
		return nil, err
	}

	name := filepath.Base(strings.TrimSpace(input.FileName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file name is required")
	}
	mimeType := normalizeMIME(input.MimeType)
	if _, ok := s.allowed[mimeType]; len(s.allowed) > 0 && !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file type %q is not allowed", mimeType))
	}
	if s.config.MaxFileSize > 0 && input.Size > s.config.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file exceeds size limit")
	}

	fileID := uuid.NewString()
	key := fmt.Sprintf("assignments/%s/%s%s", assignment.ID, fileID, strings.ToLower(filepath.Ext(name)))
	written, err := s.files.Save(key, content)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "file exceeds size limit")
		}
		return nil, appErrors.Internal(err, "failed to store file")
	}

	file := &models.AssignmentFile{
		ID:           fileID,
		AssignmentID: assignment.ID,
		FileName:     name,
		StorageKey:   key,
		MimeType:     mimeType,
		SizeBytes:    written,
		UploadedBy:   actor.UserID,
	}
	if err := s.assignments.AddFile(ctx, file); err != nil {
		if delErr := s.files.Delete(key); delErr != nil {
			s.logger.Warn("failed to remove orphaned upload", zap.String("key", key), zap.Error(delErr))
		}
		return nil, appErrors.Internal(err, "failed to record file")
	}
	s.signFile(file)

	s.publish(ctx, actor, models.EventAssignmentFileAdded, assignmentResource, assignment.ID, map[string]interface{}{
		"file_id":   file.ID,
		"file_name": file.FileName,
		"size":      file.SizeBytes,
	})
	return file, nil
}

// OpenFile resolves a signed download token to the stored attachment. The caller closes the reader.
func (s *AssignmentService) OpenFile(ctx context.Context, token string) (*models.AssignmentFile, io.ReadCloser, error) {
	fileID, key, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	file, err := s.assignments.FindFile(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, nil, appErrors.Internal(err, "failed to load file")
	}
	if file.StorageKey != key {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	reader, err := s.files.Open(file.StorageKey)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "file content missing")
		}
		return nil, nil, appErrors.Internal(err, "failed to open file")
	}
	return file, reader, nil
}

// GetSubmission returns a student's submission and its lifecycle state. A missing
// submission is reported as NO_SUBMISSION rather than an error.
func (s *AssignmentService) GetSubmission(ctx context.Context, assignmentID, studentID string, actor *models.JWTClaims) (*models.Submission, models.SubmissionState, error) {
	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, "", err
	}
	if actor == nil {
		return nil, "", appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleStudent {
		if actor.UserID != studentID {
			return nil, "", appErrors.Clone(appErrors.ErrForbidden, "students may only view their own submission")
		}
	} else if err := s.authorizeStaff(ctx, assignment.ClassID, actor); err != nil {
		return nil, "", err
	}
	submission, err := s.findSubmission(ctx, assignmentID, studentID)
	if err != nil {
		return nil, "", err
	}
	return submission, models.StateOf(submission), nil
}

// Submit creates or overwrites the student's draft. It is rejected once the
// submission is finalized or the due date has passed.
func (s *AssignmentService) Submit(ctx context.Context, assignmentID, studentID string, req dto.SubmitAssignmentRequest, actor *models.JWTClaims) (*models.Submission, error) {
	if err := s.authorizeStudentSelf(studentID, actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}
	if strings.TrimSpace(req.Text) == "" && (req.FileRef == nil || strings.TrimSpace(*req.FileRef) == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "submission requires text or a file")
	}

	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if !student.InClass(assignment.ClassID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "assignment belongs to another class")
	}

	now := s.clock()
	if assignment.PastDue(now) {
		existing, err := s.findSubmission(ctx, assignmentID, studentID)
		if err != nil {
			return nil, err
		}
		return nil, s.reject(s.pastDueOrFinalized(existing))
	}

	submission := &models.Submission{
		AssignmentID: assignmentID,
		StudentID:    studentID,
		Text:         req.Text,
		FileRef:      req.FileRef,
		SubmittedAt:  now,
	}
	if err := s.submissions.SaveDraft(ctx, submission); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.reject(appErrors.ErrAlreadyFinalized)
		}
		return nil, appErrors.Internal(err, "failed to save submission")
	}

	s.publish(ctx, actor, models.EventSubmissionSaved, submissionResource, submission.ID, map[string]interface{}{
		"assignment_id": assignmentID,
		"student_id":    studentID,
	})
	return submission, nil
}

// Finalize locks the student's draft. Finalizing after the due date depends on configuration.
func (s *AssignmentService) Finalize(ctx context.Context, assignmentID, studentID string, actor *models.JWTClaims) (*models.Submission, error) {
	if err := s.authorizeStudentSelf(studentID, actor); err != nil {
		return nil, err
	}
	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	existing, err := s.findSubmission(ctx, assignmentID, studentID)
	if err != nil {
		return nil, err
	}
	switch models.StateOf(existing) {
	case models.SubmissionStateNone:
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no draft submission to finalize")
	case models.SubmissionStateFinalized:
		return nil, s.reject(appErrors.ErrAlreadyFinalized)
	}
	if !s.config.FinalizeAfterDue && assignment.PastDue(s.clock()) {
		return nil, s.reject(appErrors.ErrPastDue)
	}

	updated, err := s.submissions.Finalize(ctx, assignmentID, studentID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to finalize submission")
	}
	if !updated {
		return nil, s.reject(appErrors.ErrAlreadyFinalized)
	}
	existing.IsFinalized = true

	s.publish(ctx, actor, models.EventSubmissionFinalized, submissionResource, existing.ID, map[string]interface{}{
		"assignment_id": assignmentID,
		"student_id":    studentID,
	})
	return existing, nil
}

// Grade records a grade and feedback. It works on drafts and finalized submissions
// alike and ignores the due date.
func (s *AssignmentService) Grade(ctx context.Context, assignmentID, studentID string, req dto.GradeSubmissionRequest, actor *models.JWTClaims) (*models.Submission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeStaff(ctx, assignment.ClassID, actor); err != nil {
		return nil, err
	}

	submission, err := s.submissions.SetGrade(ctx, assignmentID, studentID, req.Grade, req.Feedback, actor.UserID, s.clock())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, appErrors.Internal(err, "failed to grade submission")
	}

	payload := map[string]interface{}{"assignment_id": assignmentID, "student_id": studentID, "grade": nil}
	if req.Grade != nil {
		payload["grade"] = *req.Grade
	}
	s.publish(ctx, actor, models.EventSubmissionGraded, submissionResource, submission.ID, payload)
	return submission, nil
}

// Summary reports how many roster students have submitted.
func (s *AssignmentService) Summary(ctx context.Context, assignmentID string, actor *models.JWTClaims) (*models.SubmissionSummary, error) {
	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeStaff(ctx, assignment.ClassID, actor); err != nil {
		return nil, err
	}

	var counts models.SubmissionCounts
	var rosterSize int
	err = database.RetryRead(ctx, func(ctx context.Context) error {
		var readErr error
		if counts, readErr = s.submissions.CountByAssignment(ctx, assignmentID, assignment.ClassID); readErr != nil {
			return readErr
		}
		rosterSize, readErr = s.roster.CountByClass(ctx, assignment.ClassID)
		return readErr
	})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to summarize submissions")
	}

	summary := &models.SubmissionSummary{
		AssignmentID: assignment.ID,
		ClassID:      assignment.ClassID,
		Submitted:    counts.Submitted,
		Finalized:    counts.Finalized,
		Graded:       counts.Graded,
		RosterSize:   rosterSize,
	}
	if rosterSize > 0 {
		summary.Ratio = float64(counts.Submitted) / float64(rosterSize)
	}
	return summary, nil
}

func (s *AssignmentService) authorizeStaff(ctx context.Context, classID string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if !actor.Role.IsStaff() {
		return appErrors.ErrForbidden
	}
	if actor.Role.IsAdmin() {
		return nil
	}
	teaches, err := s.classes.IsTeacherOfClass(ctx, actor.UserID, classID)
	if err != nil {
		return appErrors.Internal(err, "failed to verify class access")
	}
	if !teaches {
		return appErrors.Clone(appErrors.ErrForbidden, "teacher is not assigned to this class")
	}
	return nil
}

func (s *AssignmentService) authorizeStudentSelf(studentID string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent || actor.UserID != studentID {
		return appErrors.Clone(appErrors.ErrForbidden, "only the student may change their submission")
	}
	return nil
}

func (s *AssignmentService) loadAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	var assignment *models.Assignment
	err := database.RetryRead(ctx, func(ctx context.Context) error {
		var readErr error
		assignment, readErr = s.assignments.FindByID(ctx, id)
		return readErr
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Internal(err, "failed to load assignment")
	}
	return assignment, nil
}

func (s *AssignmentService) loadStudent(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Internal(err, "failed to load student")
	}
	return student, nil
}

// findSubmission returns nil without error when the student has not submitted.
func (s *AssignmentService) findSubmission(ctx context.Context, assignmentID, studentID string) (*models.Submission, error) {
	var submission *models.Submission
	err := database.RetryRead(ctx, func(ctx context.Context) error {
		var readErr error
		submission, readErr = s.submissions.Find(ctx, assignmentID, studentID)
		return readErr
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Internal(err, "failed to load submission")
	}
	return submission, nil
}

func (s *AssignmentService) pastDueOrFinalized(existing *models.Submission) *appErrors.Error {
	if models.StateOf(existing) == models.SubmissionStateFinalized {
		return appErrors.ErrAlreadyFinalized
	}
	return appErrors.ErrPastDue
}

func (s *AssignmentService) reject(err *appErrors.Error) error {
	s.metrics.RecordPolicyRejection(err.Code)
	return err
}

func (s *AssignmentService) signFile(file *models.AssignmentFile) {
	if s.signer == nil {
		return
	}
	token, expiresAt, err := s.signer.Generate(file.ID, file.StorageKey)
	if err != nil {
		s.logger.Warn("failed to sign download url", zap.String("file_id", file.ID), zap.Error(err))
		return
	}
	file.DownloadURL = strings.TrimRight(s.config.DownloadBaseURL, "/") + "/files/" + token
	file.URLExpiresAt = &expiresAt
}

func (s *AssignmentService) publish(ctx context.Context, actor *models.JWTClaims, eventType models.EventType, resource, resourceID string, payload map[string]interface{}) {
	s.events.Publish(ctx, models.DomainEvent{
		Type:       eventType,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Resource:   resource,
		ResourceID: resourceID,
		Payload:    payload,
	})
}

func normalizeMIME(raw string) string {
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return strings.ToLower(mediaType)
}
