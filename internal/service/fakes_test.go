package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-portal-api/internal/models"
	"github.com/noah-isme/sma-portal-api/internal/repository"
)

// fakeStudents is an in-memory roster shared by the enrollment ledger fake.
type fakeStudents struct {
	mu       sync.Mutex
	students map[string]*models.Student
	err      error
}

func newFakeStudents(students ...models.Student) *fakeStudents {
	f := &fakeStudents{students: map[string]*models.Student{}}
	for i := range students {
		s := students[i]
		s.Active = true
		f.students[s.ID] = &s
	}
	return f
}

func (f *fakeStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *s
	return &clone, nil
}

func (f *fakeStudents) ListByClass(ctx context.Context, classID string) ([]models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Student
	for _, s := range f.students {
		if s.InClass(classID) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (f *fakeStudents) CountByClass(ctx context.Context, classID string) (int, error) {
	list, err := f.ListByClass(ctx, classID)
	return len(list), err
}

type fakeActivities struct {
	mu         sync.Mutex
	activities map[string]*models.Activity
	listCalls  int
	enrolled   int
}

func newFakeActivities(activities ...models.Activity) *fakeActivities {
	f := &fakeActivities{activities: map[string]*models.Activity{}}
	for i := range activities {
		a := activities[i]
		f.activities[a.ID] = &a
	}
	return f
}

func (f *fakeActivities) ListAvailable(ctx context.Context, classID string) ([]models.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	var out []models.Activity
	for _, a := range f.activities {
		if a.ClassID == nil || (classID != "" && *a.ClassID == classID) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeActivities) FindByID(ctx context.Context, id string) (*models.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.activities[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *a
	return &clone, nil
}

func (f *fakeActivities) ListSlots(ctx context.Context, activityIDs []string) (map[string][]models.ScheduleSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]models.ScheduleSlot, len(activityIDs))
	for _, id := range activityIDs {
		if a, ok := f.activities[id]; ok {
			out[id] = append([]models.ScheduleSlot(nil), a.Slots...)
		}
	}
	return out, nil
}

func (f *fakeActivities) Create(ctx context.Context, activity *models.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	activity.ID = uuid.NewString()
	stored := *activity
	f.activities[activity.ID] = &stored
	return nil
}

func (f *fakeActivities) ReplaceSlots(ctx context.Context, activityID string, slots []models.ScheduleSlot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.activities[activityID]
	if !ok {
		return sql.ErrNoRows
	}
	a.Slots = slots
	return nil
}

func (f *fakeActivities) CountEnrollments(ctx context.Context, activityID string) (int, error) {
	return f.enrolled, nil
}

// fakeLedger mirrors the repository contract: one lock per write, guard sees the
// committed state, guard errors abort the write.
type fakeLedger struct {
	mu          sync.Mutex
	students    *fakeStudents
	activities  *fakeActivities
	enrollments map[string][]models.Enrollment
}

func newFakeLedger(students *fakeStudents, activities *fakeActivities) *fakeLedger {
	return &fakeLedger{students: students, activities: activities, enrollments: map[string][]models.Enrollment{}}
}

func (f *fakeLedger) ledger(studentID string) (models.EnrollmentLedger, error) {
	f.students.mu.Lock()
	student, ok := f.students.students[studentID]
	f.students.mu.Unlock()
	if !ok {
		return models.EnrollmentLedger{}, sql.ErrNoRows
	}
	ledger := models.EnrollmentLedger{StudentID: studentID, Finalized: student.ExtracurricularFinalized}
	ledger.Enrollments = append(ledger.Enrollments, f.enrollments[studentID]...)
	f.activities.mu.Lock()
	for _, e := range ledger.Enrollments {
		if a, ok := f.activities.activities[e.ActivityID]; ok {
			ledger.Slots = append(ledger.Slots, a.Slots...)
		}
	}
	f.activities.mu.Unlock()
	return ledger, nil
}

func (f *fakeLedger) ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.EnrollmentDetail
	for _, e := range f.enrollments[studentID] {
		out = append(out, models.EnrollmentDetail{Enrollment: e})
	}
	return out, nil
}

func (f *fakeLedger) Insert(ctx context.Context, studentID, activityID string, guard repository.LedgerGuard) (*models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ledger, err := f.ledger(studentID)
	if err != nil {
		return nil, err
	}
	if err := guard(ledger); err != nil {
		return nil, err
	}
	e := models.Enrollment{ID: uuid.NewString(), StudentID: studentID, ActivityID: activityID, CreatedAt: time.Now()}
	f.enrollments[studentID] = append(f.enrollments[studentID], e)
	return &e, nil
}

func (f *fakeLedger) Delete(ctx context.Context, studentID, activityID string, guard repository.LedgerGuard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ledger, err := f.ledger(studentID)
	if err != nil {
		return err
	}
	if err := guard(ledger); err != nil {
		return err
	}
	kept := f.enrollments[studentID][:0]
	for _, e := range f.enrollments[studentID] {
		if e.ActivityID != activityID {
			kept = append(kept, e)
		}
	}
	f.enrollments[studentID] = kept
	return nil
}

func (f *fakeLedger) Finalize(ctx context.Context, studentID string, guard repository.LedgerGuard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ledger, err := f.ledger(studentID)
	if err != nil {
		return err
	}
	if err := guard(ledger); err != nil {
		return err
	}
	f.students.mu.Lock()
	f.students.students[studentID].ExtracurricularFinalized = true
	f.students.mu.Unlock()
	return nil
}

func (f *fakeLedger) count(studentID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enrollments[studentID])
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.DomainEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event models.DomainEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []models.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func strPtr(s string) *string { return &s }

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func teacherClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTeacher}
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}
