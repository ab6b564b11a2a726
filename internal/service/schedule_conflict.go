package service

import (
	"time"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

// Clock returns the current time. Services take one so tests can pin "now".
type Clock func() time.Time

// SystemClock reports the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// SlotConflict pairs a candidate slot with the existing slot it overlaps.
type SlotConflict struct {
	Candidate models.ScheduleSlot `json:"candidate"`
	Existing  models.ScheduleSlot `json:"existing"`
}

// SlotsConflict reports whether any slot of a overlaps any slot of b.
// Empty lists never conflict and the relation is symmetric.
func SlotsConflict(a, b []models.ScheduleSlot) bool {
	for _, x := range a {
		for _, y := range b {
			if slotsOverlap(x, y) {
				return true
			}
		}
	}
	return false
}

// FindSlotConflicts lists every overlapping pair between candidate and existing.
func FindSlotConflicts(candidate, existing []models.ScheduleSlot) []SlotConflict {
	var conflicts []SlotConflict
	for _, c := range candidate {
		for _, e := range existing {
			if slotsOverlap(c, e) {
				conflicts = append(conflicts, SlotConflict{Candidate: c, Existing: e})
			}
		}
	}
	return conflicts
}

// slotsOverlap treats slots as half-open intervals on the same weekday, so
// back-to-back slots do not overlap.
func slotsOverlap(a, b models.ScheduleSlot) bool {
	return a.DayOfWeek == b.DayOfWeek && a.StartTime < b.EndTime && a.EndTime > b.StartTime
}
