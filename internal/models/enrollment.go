package models

import "time"

// Enrollment records a student's selection of an extracurricular activity.
// Rows are inserted and deleted, never updated.
type Enrollment struct {
	ID         string    `db:"id" json:"id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	ActivityID string    `db:"activity_id" json:"activity_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// EnrollmentDetail enriches Enrollment with the activity name.
type EnrollmentDetail struct {
	Enrollment
	ActivityName string `db:"activity_name" json:"activity_name"`
}

// EnrollmentLedger is a student's enrollment state read under the student row lock.
type EnrollmentLedger struct {
	StudentID   string
	Finalized   bool
	Enrollments []Enrollment
	// Slots of every currently enrolled activity.
	Slots []ScheduleSlot
}

// Has reports whether the ledger already contains activityID.
func (l EnrollmentLedger) Has(activityID string) bool {
	for _, e := range l.Enrollments {
		if e.ActivityID == activityID {
			return true
		}
	}
	return false
}

// StudentEnrollments is the listing returned for a single student.
type StudentEnrollments struct {
	StudentID string             `json:"student_id"`
	Finalized bool               `json:"finalized"`
	Items     []EnrollmentDetail `json:"items"`
}
