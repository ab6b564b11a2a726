package models

// Class is the homeroom group a student belongs to. Rows are owned by the academic
// core; the portal only reads them.
type Class struct {
	ID                string  `db:"id" json:"id"`
	Name              string  `db:"name" json:"name"`
	Grade             string  `db:"grade" json:"grade"`
	HomeroomTeacherID *string `db:"homeroom_teacher_id" json:"homeroom_teacher_id,omitempty"`
}

// Label is the name printed on recaps, e.g. "XI IPA 2".
func (c *Class) Label() string {
	if c == nil {
		return ""
	}
	if c.Name == "" {
		return c.ID
	}
	return c.Name
}
