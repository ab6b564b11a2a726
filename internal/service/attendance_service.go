package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-portal-api/internal/dto"
	"github.com/noah-isme/sma-portal-api/internal/models"
	"github.com/noah-isme/sma-portal-api/internal/repository"
	"github.com/noah-isme/sma-portal-api/pkg/database"
	appErrors "github.com/noah-isme/sma-portal-api/pkg/errors"
	"github.com/noah-isme/sma-portal-api/pkg/export"
)

const (
	attendanceFormResource   = "attendance_form"
	attendanceRecordResource = "attendance_record"
)

type attendanceStore interface {
	CreateForm(ctx context.Context, form *models.AttendanceForm) error
	FindForm(ctx context.Context, id string) (*models.AttendanceForm, error)
	FindRecord(ctx context.Context, formID, studentID string) (*models.AttendanceRecord, error)
	InsertRecord(ctx context.Context, record *models.AttendanceRecord) error
	ListRecords(ctx context.Context, formID string) ([]models.AttendanceRecord, error)
}

type rosterReader interface {
	ListByClass(ctx context.Context, classID string) ([]models.Student, error)
}

type classFinder interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

// AttendanceService runs attendance forms: opening a window, accepting one record per
// student while it is open, and resolving every roster student's status.
type AttendanceService struct {
	forms     attendanceStore
	students  studentReader
	roster    rosterReader
	classes   classAccessChecker
	directory classFinder
	renderers map[export.Format]export.Renderer
	events    EventPublisher
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	clock     Clock
	location  *time.Location
}

// AttendanceDeps groups the collaborators of AttendanceService.
type AttendanceDeps struct {
	Forms     attendanceStore
	Students  studentReader
	Roster    rosterReader
	Classes   classAccessChecker
	Directory classFinder
	Events    EventPublisher
	Metrics   *MetricsService
	Validator *validator.Validate
	Logger    *zap.Logger
	Clock     Clock
	Location  *time.Location
}

// NewAttendanceService builds an AttendanceService. Form times are interpreted in Location.
func NewAttendanceService(deps AttendanceDeps) *AttendanceService {
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
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &AttendanceService{
		forms:     deps.Forms,
		students:  deps.Students,
		roster:    deps.Roster,
		classes:   deps.Classes,
		directory: deps.Directory,
		renderers: map[export.Format]export.Renderer{
			export.FormatCSV: export.NewCSVExporter(),
			export.FormatPDF: export.NewPDFExporter(),
		},
		events:    deps.Events,
		metrics:   deps.Metrics,
		validator: deps.Validator,
		logger:    deps.Logger,
		clock:     deps.Clock,
		location:  deps.Location,
	}
}

// CreateForm opens an attendance window. A teacher may open one form per date.
func (s *AttendanceService) CreateForm(ctx context.Context, req dto.CreateAttendanceFormRequest, actor *models.JWTClaims) (*models.AttendanceForm, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers may open attendance forms")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance form payload")
	}

	date, err := time.ParseInLocation("2006-01-02", req.Date, s.location)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
	}
	start, err := models.ParseClockTime(req.StartTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start_time")
	}
	end, err := models.ParseClockTime(req.EndTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid end_time")
	}
	if start >= end {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_time must be before end_time")
	}

	teaches, err := s.classes.IsTeacherOfClass(ctx, actor.UserID, req.ClassID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to verify class access")
	}
	if !teaches {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "teacher is not assigned to this class")
	}

	form := &models.AttendanceForm{
		ClassID:   req.ClassID,
		TeacherID: actor.UserID,
		Date:      date,
		StartAt:   start.On(date, s.location),
		EndAt:     end.On(date, s.location),
	}
	if err := s.forms.CreateForm(ctx, form); err != nil {
		switch {
		case database.IsUniqueViolation(err) && database.ConstraintName(err) == repository.AttendanceFormTeacherDateKey:
			s.metrics.RecordPolicyRejection(appErrors.ErrDuplicateFormForDate.Code)
			return nil, appErrors.ErrDuplicateFormForDate
		case database.IsUniqueViolation(err):
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "attendance form conflicts with an existing form")
		case database.IsForeignKeyViolation(err):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		default:
			return nil, appErrors.Internal(err, "failed to create attendance form")
		}
	}

	s.events.Publish(ctx, models.DomainEvent{
		Type:       models.EventAttendanceFormCreated,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Resource:   attendanceFormResource,
		ResourceID: form.ID,
		Payload:    map[string]interface{}{"class_id": form.ClassID, "date": req.Date, "start_at": form.StartAt, "end_at": form.EndAt},
	})
	return form, nil
}

// Submit records the acting student's attendance while the window is open.
func (s *AttendanceService) Submit(ctx context.Context, formID string, req dto.SubmitAttendanceRequest, actor *models.JWTClaims) (*models.AttendanceRecord, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students may submit attendance")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	status := models.AttendanceStatus(req.Status)
	if !status.Recordable() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("status %q cannot be submitted", req.Status))
	}

	form, err := s.loadForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	student, err := s.students.FindByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Internal(err, "failed to load student")
	}
	if !student.InClass(form.ClassID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "attendance form belongs to another class")
	}

	existing, err := s.findRecord(ctx, form.ID, student.ID)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	if existing != nil {
		s.metrics.RecordPolicyRejection(appErrors.ErrDuplicateSubmission.Code)
		return nil, appErrors.ErrDuplicateSubmission
	}
	if !CanSubmitAttendance(form, existing, now) {
		s.metrics.RecordPolicyRejection(appErrors.ErrWindowClosed.Code)
		return nil, appErrors.ErrWindowClosed
	}

	record := &models.AttendanceRecord{FormID: form.ID, StudentID: student.ID, Status: status, SubmittedAt: now}
	if err := s.forms.InsertRecord(ctx, record); err != nil {
		if database.IsUniqueViolation(err) && database.ConstraintName(err) == repository.AttendanceRecordFormStudentKey {
			s.metrics.RecordPolicyRejection(appErrors.ErrDuplicateSubmission.Code)
			return nil, appErrors.ErrDuplicateSubmission
		}
		return nil, appErrors.Internal(err, "failed to record attendance")
	}

	s.events.Publish(ctx, models.DomainEvent{
		Type:       models.EventAttendanceRecorded,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Resource:   attendanceRecordResource,
		ResourceID: record.ID,
		Payload:    map[string]interface{}{"form_id": form.ID, "student_id": student.ID, "status": string(status)},
	})
	return record, nil
}

// Summary resolves the status of every student on the form's class roster.
func (s *AttendanceService) Summary(ctx context.Context, formID string, actor *models.JWTClaims) (*models.AttendanceSummary, error) {
	form, err := s.loadForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeFormReader(ctx, form, actor); err != nil {
		return nil, err
	}

	var students []models.Student
	var records []models.AttendanceRecord
	err = database.RetryRead(ctx, func(ctx context.Context) error {
		var readErr error
		if students, readErr = s.roster.ListByClass(ctx, form.ClassID); readErr != nil {
			return readErr
		}
		records, readErr = s.forms.ListRecords(ctx, form.ID)
		return readErr
	})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load attendance")
	}

	byStudent := make(map[string]*models.AttendanceRecord, len(records))
	for i := range records {
		byStudent[records[i].StudentID] = &records[i]
	}

	now := s.clock()
	summary := &models.AttendanceSummary{Form: *form, Rows: make([]models.AttendanceSummaryRow, 0, len(students))}
	for _, student := range students {
		record := byStudent[student.ID]
		row := models.AttendanceSummaryRow{
			StudentID: student.ID,
			NIS:       student.NIS,
			FullName:  student.FullName,
			Status:    ResolveAttendanceStatus(form, record, now),
			Derived:   record == nil,
		}
		if record != nil {
			submittedAt := record.SubmittedAt
			row.SubmittedAt = &submittedAt
		}
		switch row.Status {
		case models.AttendanceStatusPresent:
			summary.Present++
		case models.AttendanceStatusAbsent:
			summary.Absent++
		default:
			summary.Pending++
		}
		summary.Rows = append(summary.Rows, row)
	}
	return summary, nil
}

// ExportResult is a rendered attendance recap.
type ExportResult struct {
	FileName    string
	ContentType string
	Content     []byte
}

// Export renders the attendance summary as CSV or PDF.
func (s *AttendanceService) Export(ctx context.Context, formID, rawFormat string, actor *models.JWTClaims) (*ExportResult, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	summary, err := s.Summary(ctx, formID, actor)
	if err != nil {
		return nil, err
	}

	// form_date is read back as UTC midnight; the local start carries the school date
	date := summary.Form.StartAt.In(s.location).Format("2006-01-02")
	dataset := export.Dataset{
		Title: "Rekap Absensi " + date,
		Meta: []string{
			"Kelas: " + s.classLabel(ctx, summary.Form.ClassID),
			fmt.Sprintf("Waktu: %s - %s", summary.Form.StartAt.In(s.location).Format("15:04"), summary.Form.EndAt.In(s.location).Format("15:04")),
			fmt.Sprintf("Hadir: %d  Tidak Hadir: %d  Belum Mengisi: %d", summary.Present, summary.Absent, summary.Pending),
		},
		Headers: []string{"NIS", "Nama", "Status", "Waktu Submit"},
	}
	for _, row := range summary.Rows {
		submitted := "-"
		if row.SubmittedAt != nil {
			submitted = row.SubmittedAt.In(s.location).Format("15:04:05")
		}
		dataset.Rows = append(dataset.Rows, []string{row.NIS, row.FullName, string(row.Status), submitted})
	}

	content, err := renderer.Render(dataset)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render attendance export")
	}
	return &ExportResult{
		FileName:    fmt.Sprintf("absensi-%s-%s.%s", summary.Form.ClassID, date, renderer.Extension()),
		ContentType: renderer.ContentType(),
		Content:     content,
	}, nil
}

func (s *AttendanceService) classLabel(ctx context.Context, classID string) string {
	if s.directory == nil {
		return classID
	}
	class, err := s.directory.FindByID(ctx, classID)
	if err != nil {
		s.logger.Warn("class lookup failed for attendance export", zap.String("class_id", classID), zap.Error(err))
		return classID
	}
	return class.Label()
}

func (s *AttendanceService) authorizeFormReader(ctx context.Context, form *models.AttendanceForm, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role.IsAdmin() || (actor.Role == models.RoleTeacher && actor.UserID == form.TeacherID) {
		return nil
	}
	if actor.Role != models.RoleTeacher {
		return appErrors.ErrForbidden
	}
	teaches, err := s.classes.IsTeacherOfClass(ctx, actor.UserID, form.ClassID)
	if err != nil {
		return appErrors.Internal(err, "failed to verify class access")
	}
	if !teaches {
		return appErrors.Clone(appErrors.ErrForbidden, "teacher is not assigned to this class")
	}
	return nil
}

func (s *AttendanceService) loadForm(ctx context.Context, id string) (*models.AttendanceForm, error) {
	var form *models.AttendanceForm
	err := database.RetryRead(ctx, func(ctx context.Context) error {
		var readErr error
		form, readErr = s.forms.FindForm(ctx, id)
		return readErr
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance form not found")
		}
		return nil, appErrors.Internal(err, "failed to load attendance form")
	}
	return form, nil
}

func (s *AttendanceService) findRecord(ctx context.Context, formID, studentID string) (*models.AttendanceRecord, error) {
	record, err := s.forms.FindRecord(ctx, formID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Internal(err, "failed to load attendance record")
	}
	return record, nil
}
