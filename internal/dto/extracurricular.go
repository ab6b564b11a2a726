package dto

// ActivityFilter selects the activity listing. StudentID takes precedence: the class is
// derived from the student and each activity is annotated for that student.
type ActivityFilter struct {
	StudentID string
	ClassID   string
}

// SelectActivityRequest is the payload for choosing an activity.
type SelectActivityRequest struct {
	ActivityID string `json:"activity_id" validate:"required"`
}

// SlotRequest describes one weekly slot on the wire.
type SlotRequest struct {
	DayOfWeek int    `json:"day_of_week" validate:"min=0,max=6"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
	Location  string `json:"location" validate:"max=120"`
}

// CreateActivityRequest is the admin payload for a new activity.
type CreateActivityRequest struct {
	Name        string        `json:"name" validate:"required,max=120"`
	Description string        `json:"description" validate:"max=2000"`
	ClassID     *string       `json:"class_id"`
	Slots       []SlotRequest `json:"slots" validate:"dive"`
}

// ReplaceSlotsRequest swaps the full slot set of an activity.
type ReplaceSlotsRequest struct {
	Slots []SlotRequest `json:"slots" validate:"dive"`
}
