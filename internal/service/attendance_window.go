package service

import (
	"time"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

// CanSubmitAttendance reports whether a student without a record may still submit.
func CanSubmitAttendance(form *models.AttendanceForm, record *models.AttendanceRecord, now time.Time) bool {
	return form != nil && record == nil && form.Open(now)
}

// ResolveAttendanceStatus returns the stored status when a record exists. Otherwise the
// student is inferred absent once the window has closed and pending before that.
func ResolveAttendanceStatus(form *models.AttendanceForm, record *models.AttendanceRecord, now time.Time) models.AttendanceStatus {
	if record != nil {
		return record.Status
	}
	if now.After(form.EndAt) {
		return models.AttendanceStatusAbsent
	}
	return models.AttendanceStatusPending
}
