package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ClockTime is a wall-clock time expressed as minutes since midnight. It travels as "HH:MM".
type ClockTime int

// MinutesPerDay bounds ClockTime values; 24:00 is accepted as an end-of-day marker.
const MinutesPerDay = 24 * 60

// ParseClockTime parses an "HH:MM" string.
func ParseClockTime(raw string) (ClockTime, error) {
	var h, m int
	raw = strings.TrimSpace(raw)
	if len(raw) != 5 || raw[2] != ':' {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", raw)
	}
	if _, err := fmt.Sscanf(raw, "%02d:%02d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", raw)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time %q: out of range", raw)
	}
	return ClockTime(h*60 + m), nil
}

// String renders the time as "HH:MM".
func (t ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// On returns the instant at this clock time on the calendar day of date, in loc.
func (t ClockTime) On(date time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, mo, d := date.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, loc).Add(time.Duration(t) * time.Minute)
}

// MarshalJSON implements json.Marshaler.
func (t ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *ClockTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("time must be an HH:MM string: %w", err)
	}
	parsed, err := ParseClockTime(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ErrInvalidSlot is returned by NewScheduleSlot for malformed slots.
var ErrInvalidSlot = errors.New("invalid schedule slot")

// ScheduleSlot is a recurring weekly occupancy of an activity. DayOfWeek follows
// time.Weekday numbering (0 = Sunday).
type ScheduleSlot struct {
	ID         string    `db:"id" json:"id,omitempty"`
	ActivityID string    `db:"activity_id" json:"activity_id,omitempty"`
	DayOfWeek  int       `db:"day_of_week" json:"day_of_week"`
	StartTime  ClockTime `db:"start_minute" json:"start_time"`
	EndTime    ClockTime `db:"end_minute" json:"end_time"`
	Location   string    `db:"location" json:"location"`
}

// NewScheduleSlot validates and builds a slot from wire values.
func NewScheduleSlot(dayOfWeek int, start, end, location string) (ScheduleSlot, error) {
	if dayOfWeek < 0 || dayOfWeek > 6 {
		return ScheduleSlot{}, fmt.Errorf("%w: day_of_week %d outside 0..6", ErrInvalidSlot, dayOfWeek)
	}
	startTime, err := ParseClockTime(start)
	if err != nil {
		return ScheduleSlot{}, fmt.Errorf("%w: start_time: %v", ErrInvalidSlot, err)
	}
	endTime, err := ParseClockTime(end)
	if err != nil {
		return ScheduleSlot{}, fmt.Errorf("%w: end_time: %v", ErrInvalidSlot, err)
	}
	if startTime >= endTime {
		return ScheduleSlot{}, fmt.Errorf("%w: start_time %s must be before end_time %s", ErrInvalidSlot, startTime, endTime)
	}
	return ScheduleSlot{
		DayOfWeek: dayOfWeek,
		StartTime: startTime,
		EndTime:   endTime,
		Location:  strings.TrimSpace(location),
	}, nil
}


// Activity is an extracurricular program. A nil ClassID means it is open to every class.
type Activity struct {
	ID          string         `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Description string         `db:"description" json:"description"`
	ClassID     *string        `db:"class_id" json:"class_id,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
	Slots       []ScheduleSlot `db:"-" json:"slots"`
}

// OpenTo reports whether a student of classID may pick the activity.
func (a *Activity) OpenTo(classID *string) bool {
	if a.ClassID == nil {
		return true
	}
	return classID != nil && *a.ClassID == *classID
}

// AvailableActivity annotates an activity with a student's selection state.
type AvailableActivity struct {
	Activity
	Selected  bool `json:"selected"`
	Conflicts bool `json:"conflicts"`
}
