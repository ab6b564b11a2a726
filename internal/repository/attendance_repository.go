package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

const (
	attendanceFormColumns   = "id, class_id, teacher_id, form_date, start_at, end_at, created_at"
	attendanceRecordColumns = "id, form_id, student_id, status, submitted_at"
)

// Unique keys the attendance schema enforces, as named by PostgreSQL.
const (
	AttendanceFormTeacherDateKey   = "attendance_forms_teacher_id_form_date_key"
	AttendanceRecordFormStudentKey = "attendance_records_form_id_student_id_key"
)

// AttendanceRepository persists attendance forms and the records students submit.
// Uniqueness of (teacher_id, form_date) and (form_id, student_id) is enforced by the schema.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs an AttendanceRepository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// CreateForm inserts a form.
func (r *AttendanceRepository) CreateForm(ctx context.Context, form *models.AttendanceForm) error {
	if form.ID == "" {
		form.ID = uuid.NewString()
	}
	form.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO attendance_forms (id, class_id, teacher_id, form_date, start_at, end_at, created_at)
VALUES (:id, :class_id, :teacher_id, :form_date, :start_at, :end_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, form); err != nil {
		return fmt.Errorf("create attendance form: %w", err)
	}
	return nil
}

// FindForm returns a form by id.
func (r *AttendanceRepository) FindForm(ctx context.Context, id string) (*models.AttendanceForm, error) {
	var form models.AttendanceForm
	if err := r.db.GetContext(ctx, &form, "SELECT "+attendanceFormColumns+" FROM attendance_forms WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &form, nil
}

// FindRecord returns a student's record for a form.
func (r *AttendanceRepository) FindRecord(ctx context.Context, formID, studentID string) (*models.AttendanceRecord, error) {
	var record models.AttendanceRecord
	query := "SELECT " + attendanceRecordColumns + " FROM attendance_records WHERE form_id = $1 AND student_id = $2"
	if err := r.db.GetContext(ctx, &record, query, formID, studentID); err != nil {
		return nil, err
	}
	return &record, nil
}

// InsertRecord stores a record. A duplicate surfaces as a unique violation.
func (r *AttendanceRepository) InsertRecord(ctx context.Context, record *models.AttendanceRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	const query = `INSERT INTO attendance_records (id, form_id, student_id, status, submitted_at)
VALUES (:id, :form_id, :student_id, :status, :submitted_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create attendance record: %w", err)
	}
	return nil
}

// ListRecords returns every record stored for a form.
func (r *AttendanceRepository) ListRecords(ctx context.Context, formID string) ([]models.AttendanceRecord, error) {
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, "SELECT "+attendanceRecordColumns+" FROM attendance_records WHERE form_id = $1", formID); err != nil {
		return nil, fmt.Errorf("list attendance records: %w", err)
	}
	return records, nil
}
