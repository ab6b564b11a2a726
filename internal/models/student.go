package models

import "time"

// Student represents a learner registered in the institution. The ID matches the
// user ID carried in the student's access token.
type Student struct {
	ID                       string    `db:"id" json:"id"`
	NIS                      string    `db:"nis" json:"nis"`
	FullName                 string    `db:"full_name" json:"full_name"`
	ClassID                  *string   `db:"class_id" json:"class_id,omitempty"`
	ExtracurricularFinalized bool      `db:"extracurricular_finalized" json:"extracurricular_finalized"`
	Active                   bool      `db:"active" json:"active"`
	CreatedAt                time.Time `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time `db:"updated_at" json:"updated_at"`
}

// InClass reports whether the student is currently assigned to classID.
func (s *Student) InClass(classID string) bool {
	return s != nil && s.ClassID != nil && *s.ClassID == classID
}
