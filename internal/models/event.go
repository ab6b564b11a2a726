package models

import "time"

// EventType names a domain state transition.
type EventType string

const (
	EventEnrollmentSelected    EventType = "ENROLLMENT_SELECTED"
	EventEnrollmentUnselected  EventType = "ENROLLMENT_UNSELECTED"
	EventEnrollmentFinalized   EventType = "ENROLLMENT_FINALIZED"
	EventActivityCreated       EventType = "ACTIVITY_CREATED"
	EventActivitySlotsReplaced EventType = "ACTIVITY_SLOTS_REPLACED"
	EventAssignmentCreated     EventType = "ASSIGNMENT_CREATED"
	EventAssignmentFileAdded   EventType = "ASSIGNMENT_FILE_ADDED"
	EventSubmissionSaved       EventType = "SUBMISSION_SAVED"
	EventSubmissionFinalized   EventType = "SUBMISSION_FINALIZED"
	EventSubmissionGraded      EventType = "SUBMISSION_GRADED"
	EventAttendanceFormCreated EventType = "ATTENDANCE_FORM_CREATED"
	EventAttendanceRecorded    EventType = "ATTENDANCE_RECORDED"
)

// DomainEvent is emitted after a state transition has been committed.
type DomainEvent struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	ActorID    string                 `json:"actor_id"`
	ActorRole  UserRole               `json:"actor_role"`
	Resource   string                 `json:"resource"`
	ResourceID string                 `json:"resource_id"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}
