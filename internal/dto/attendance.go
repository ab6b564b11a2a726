package dto

// CreateAttendanceFormRequest opens an attendance window for a class on a date.
// Date is YYYY-MM-DD and the times are HH:MM in the school timezone.
type CreateAttendanceFormRequest struct {
	ClassID   string `json:"class_id" validate:"required"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
}

// SubmitAttendanceRequest records a student's own attendance.
type SubmitAttendanceRequest struct {
	Status string `json:"status" validate:"required,oneof='Hadir' 'Tidak Hadir'"`
}
