package models

import "time"

// AttendanceStatus is the status shown for a student on an attendance form.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "Hadir"
	AttendanceStatusAbsent  AttendanceStatus = "Tidak Hadir"
	// AttendanceStatusPending is derived only, while the window is still open.
	AttendanceStatusPending AttendanceStatus = "Belum Mengisi"
)

// Recordable returns true for statuses a student may submit.
func (s AttendanceStatus) Recordable() bool {
	return s == AttendanceStatusPresent || s == AttendanceStatusAbsent
}

// AttendanceForm opens a time window during which students of a class record attendance.
type AttendanceForm struct {
	ID        string    `db:"id" json:"id"`
	ClassID   string    `db:"class_id" json:"class_id"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	Date      time.Time `db:"form_date" json:"date"`
	StartAt   time.Time `db:"start_at" json:"start_at"`
	EndAt     time.Time `db:"end_at" json:"end_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Open reports whether now lies inside the closed window [StartAt, EndAt].
func (f *AttendanceForm) Open(now time.Time) bool {
	return !now.Before(f.StartAt) && !now.After(f.EndAt)
}

// AttendanceRecord is a student's single submission for a form.
type AttendanceRecord struct {
	ID          string           `db:"id" json:"id"`
	FormID      string           `db:"form_id" json:"form_id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	Status      AttendanceStatus `db:"status" json:"status"`
	SubmittedAt time.Time        `db:"submitted_at" json:"submitted_at"`
}

// AttendanceSummaryRow is one roster entry with its resolved status.
type AttendanceSummaryRow struct {
	StudentID   string           `json:"student_id"`
	NIS         string           `json:"nis"`
	FullName    string           `json:"full_name"`
	Status      AttendanceStatus `json:"status"`
	Derived     bool             `json:"derived"`
	SubmittedAt *time.Time       `json:"submitted_at,omitempty"`
}

// AttendanceSummary is the resolved attendance of a form's class roster.
type AttendanceSummary struct {
	Form    AttendanceForm         `json:"form"`
	Present int                    `json:"present"`
	Absent  int                    `json:"absent"`
	Pending int                    `json:"pending"`
	Rows    []AttendanceSummaryRow `json:"rows"`
}
