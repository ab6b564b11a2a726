package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-portal-api/internal/dto"
	"github.com/noah-isme/sma-portal-api/internal/models"
	appErrors "github.com/noah-isme/sma-portal-api/pkg/errors"
)

type ledgerFixture struct {
	svc        *ExtracurricularService
	students   *fakeStudents
	activities *fakeActivities
	ledger     *fakeLedger
	events     *recordingPublisher
}

func activityWithSlots(t *testing.T, id, name string, classID *string, slots ...models.ScheduleSlot) models.Activity {
	t.Helper()
	for i := range slots {
		slots[i].ActivityID = id
	}
	return models.Activity{ID: id, Name: name, ClassID: classID, Slots: slots}
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	students := newFakeStudents(
		models.Student{ID: "stu-1", FullName: "Siti", ClassID: strPtr("class-a")},
		models.Student{ID: "stu-2", FullName: "Budi", ClassID: strPtr("class-b")},
	)
	activities := newFakeActivities(
		activityWithSlots(t, "act-a", "Pramuka", nil, slot(t, 1, "08:00", "10:00")),
		activityWithSlots(t, "act-b", "Basket", nil, slot(t, 1, "09:00", "11:00")),
		activityWithSlots(t, "act-c", "Paduan Suara", nil, slot(t, 2, "08:00", "10:00")),
		activityWithSlots(t, "act-d", "Robotik", nil, slot(t, 4, "13:00", "15:00")),
		activityWithSlots(t, "act-e", "Jurnalistik", nil),
		activityWithSlots(t, "act-x", "Olimpiade Kelas A", strPtr("class-a"), slot(t, 5, "13:00", "15:00")),
	)
	ledger := newFakeLedger(students, activities)
	events := &recordingPublisher{}
	svc := NewExtracurricularService(students, activities, ledger, nil, events, nil, nil, zap.NewNop(), ExtracurricularConfig{MaxSelections: 2})
	return &ledgerFixture{svc: svc, students: students, activities: activities, ledger: ledger, events: events}
}

func (f *ledgerFixture) selectActivity(studentID, activityID string) error {
	_, err := f.svc.Select(context.Background(), studentID, dto.SelectActivityRequest{ActivityID: activityID}, studentClaims(studentID))
	return err
}

func TestExtracurricularEndToEndScenario(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	actor := studentClaims("stu-1")

	require.NoError(t, f.selectActivity("stu-1", "act-a"))

	err := f.selectActivity("stu-1", "act-b")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrScheduleConflict))
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	conflicts, ok := appErr.Details.([]SlotConflict)
	require.True(t, ok)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "act-a", conflicts[0].Existing.ActivityID)
	assert.Equal(t, "act-b", conflicts[0].Candidate.ActivityID)

	require.NoError(t, f.selectActivity("stu-1", "act-c"))
	assert.Equal(t, 2, f.ledger.count("stu-1"))

	err = f.selectActivity("stu-1", "act-d")
	assert.True(t, errors.Is(err, appErrors.ErrCapacityExceeded))

	result, err := f.svc.Finalize(ctx, "stu-1", actor)
	require.NoError(t, err)
	assert.True(t, result.Finalized)
	assert.Len(t, result.Items, 2)

	err = f.svc.Unselect(ctx, "stu-1", "act-a", actor)
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyFinalized))
	assert.Equal(t, 2, f.ledger.count("stu-1"))

	assert.Equal(t, []models.EventType{
		models.EventEnrollmentSelected,
		models.EventEnrollmentSelected,
		models.EventEnrollmentFinalized,
	}, f.events.types())
}

func TestExtracurricularFinalizationIsImmutable(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	actor := studentClaims("stu-1")

	require.NoError(t, f.selectActivity("stu-1", "act-e"))
	_, err := f.svc.Finalize(ctx, "stu-1", actor)
	require.NoError(t, err)

	assert.True(t, errors.Is(f.selectActivity("stu-1", "act-c"), appErrors.ErrAlreadyFinalized))
	assert.True(t, errors.Is(f.svc.Unselect(ctx, "stu-1", "act-e", actor), appErrors.ErrAlreadyFinalized))
	_, err = f.svc.Finalize(ctx, "stu-1", actor)
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyFinalized))

	_, err = f.svc.Select(ctx, "stu-1", dto.SelectActivityRequest{ActivityID: "act-c"}, adminClaims())
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyFinalized))
	assert.Equal(t, 1, f.ledger.count("stu-1"))
}

func TestExtracurricularCapacityUnderConcurrency(t *testing.T) {
	f := newLedgerFixture(t)
	ids := []string{"act-a", "act-c", "act-d", "act-e", "act-x"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded int
	for round := 0; round < 4; round++ {
		for _, id := range ids {
			wg.Add(1)
			go func(activityID string) {
				defer wg.Done()
				if err := f.selectActivity("stu-1", activityID); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}(id)
		}
	}
	wg.Wait()

	assert.Equal(t, 2, f.ledger.count("stu-1"))
	assert.Equal(t, 2, succeeded)
}

func TestExtracurricularSelectRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate selection", func(t *testing.T) {
		f := newLedgerFixture(t)
		require.NoError(t, f.selectActivity("stu-1", "act-a"))
		assert.True(t, errors.Is(f.selectActivity("stu-1", "act-a"), appErrors.ErrDuplicateSelection))
	})

	t.Run("activity reserved for another class", func(t *testing.T) {
		f := newLedgerFixture(t)
		err := f.selectActivity("stu-2", "act-x")
		assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	})

	t.Run("unknown activity", func(t *testing.T) {
		f := newLedgerFixture(t)
		assert.True(t, errors.Is(f.selectActivity("stu-1", "missing"), appErrors.ErrNotFound))
	})

	t.Run("unknown student", func(t *testing.T) {
		f := newLedgerFixture(t)
		_, err := f.svc.Select(ctx, "ghost", dto.SelectActivityRequest{ActivityID: "act-a"}, adminClaims())
		assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	})

	t.Run("student acting for another student", func(t *testing.T) {
		f := newLedgerFixture(t)
		_, err := f.svc.Select(ctx, "stu-2", dto.SelectActivityRequest{ActivityID: "act-a"}, studentClaims("stu-1"))
		assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	})

	t.Run("teacher cannot select", func(t *testing.T) {
		f := newLedgerFixture(t)
		_, err := f.svc.Select(ctx, "stu-1", dto.SelectActivityRequest{ActivityID: "act-a"}, teacherClaims("tch-1"))
		assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	})

	t.Run("missing activity id", func(t *testing.T) {
		f := newLedgerFixture(t)
		assert.True(t, errors.Is(f.selectActivity("stu-1", ""), appErrors.ErrValidation))
	})

	t.Run("activity without slots never conflicts", func(t *testing.T) {
		f := newLedgerFixture(t)
		require.NoError(t, f.selectActivity("stu-1", "act-a"))
		require.NoError(t, f.selectActivity("stu-1", "act-e"))
	})
}

func TestExtracurricularUnselectAndFinalizeRules(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	actor := studentClaims("stu-1")

	err := f.svc.Unselect(ctx, "stu-1", "act-a", actor)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = f.svc.Finalize(ctx, "stu-1", actor)
	assert.True(t, errors.Is(err, appErrors.ErrNoSelection))

	require.NoError(t, f.selectActivity("stu-1", "act-a"))
	require.NoError(t, f.svc.Unselect(ctx, "stu-1", "act-a", actor))
	assert.Equal(t, 0, f.ledger.count("stu-1"))

	require.NoError(t, f.selectActivity("stu-1", "act-b"))
	assert.Equal(t, models.EventEnrollmentUnselected, f.events.types()[1])
}

func TestExtracurricularListAvailableAnnotatesStudent(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	require.NoError(t, f.selectActivity("stu-1", "act-a"))

	items, err := f.svc.ListAvailable(ctx, dto.ActivityFilter{StudentID: "stu-1"}, studentClaims("stu-1"))
	require.NoError(t, err)

	byID := map[string]models.AvailableActivity{}
	for _, item := range items {
		byID[item.ID] = item
	}
	assert.Len(t, items, 6)
	assert.True(t, byID["act-a"].Selected)
	assert.False(t, byID["act-a"].Conflicts)
	assert.True(t, byID["act-b"].Conflicts)
	assert.False(t, byID["act-c"].Conflicts)
	assert.Contains(t, byID, "act-x")

	other, err := f.svc.ListAvailable(ctx, dto.ActivityFilter{ClassID: "class-b"}, teacherClaims("tch-1"))
	require.NoError(t, err)
	assert.Len(t, other, 5)
	for _, item := range other {
		assert.False(t, item.Selected)
		assert.False(t, item.Conflicts)
	}

	_, err = f.svc.ListAvailable(ctx, dto.ActivityFilter{StudentID: "stu-2"}, studentClaims("stu-1"))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestExtracurricularListAvailableSeesEnrollmentsOutsideListing(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	require.NoError(t, f.selectActivity("stu-1", "act-x"))

	// stu-1 moves to class-b; act-x stays enrolled but leaves the listing
	f.students.mu.Lock()
	f.students.students["stu-1"].ClassID = strPtr("class-b")
	f.students.mu.Unlock()
	y := activityWithSlots(t, "act-y", "Olimpiade Kelas B", strPtr("class-b"), slot(t, 5, "14:00", "16:00"))
	f.activities.activities[y.ID] = &y

	items, err := f.svc.ListAvailable(ctx, dto.ActivityFilter{StudentID: "stu-1"}, studentClaims("stu-1"))
	require.NoError(t, err)

	byID := map[string]models.AvailableActivity{}
	for _, item := range items {
		byID[item.ID] = item
	}
	assert.NotContains(t, byID, "act-x")
	require.Contains(t, byID, "act-y")
	assert.True(t, byID["act-y"].Conflicts)
	assert.False(t, byID["act-a"].Conflicts)
}

func TestExtracurricularReselectAtCapacityIsDuplicate(t *testing.T) {
	f := newLedgerFixture(t)
	require.NoError(t, f.selectActivity("stu-1", "act-a"))
	require.NoError(t, f.selectActivity("stu-1", "act-c"))

	err := f.selectActivity("stu-1", "act-a")
	assert.True(t, errors.Is(err, appErrors.ErrDuplicateSelection))
	err = f.selectActivity("stu-1", "act-d")
	assert.True(t, errors.Is(err, appErrors.ErrCapacityExceeded))
}

type memoryCacheRepo struct {
	mu      sync.Mutex
	entries map[string]interface{}
	deleted []string
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	target, ok := dest.(*[]models.Activity)
	if !ok {
		return errors.New("unexpected destination")
	}
	*target = value.([]models.Activity)
	return nil
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = map[string]interface{}{}
	}
	m.entries[key] = value
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, pattern)
	m.entries = nil
	return nil
}

func TestExtracurricularListAvailableUsesCache(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	repo := &memoryCacheRepo{}
	f.svc.cache = NewCacheService(repo, NewMetricsService(), time.Minute, zap.NewNop(), true)

	_, err := f.svc.ListAvailable(ctx, dto.ActivityFilter{ClassID: "class-a"}, adminClaims())
	require.NoError(t, err)
	_, err = f.svc.ListAvailable(ctx, dto.ActivityFilter{ClassID: "class-a"}, adminClaims())
	require.NoError(t, err)
	assert.Equal(t, 1, f.activities.listCalls)

	sub := CacheInvalidationSubscriber(f.svc.cache)
	require.NoError(t, sub.Handle(ctx, models.DomainEvent{Type: models.EventActivitySlotsReplaced}))
	assert.Equal(t, []string{ActivityCachePattern}, repo.deleted)

	_, err = f.svc.ListAvailable(ctx, dto.ActivityFilter{ClassID: "class-a"}, adminClaims())
	require.NoError(t, err)
	assert.Equal(t, 2, f.activities.listCalls)
}

func TestExtracurricularActivityAdministration(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)

	req := dto.CreateActivityRequest{
		Name: "Futsal",
		Slots: []dto.SlotRequest{
			{DayOfWeek: 3, StartTime: "15:00", EndTime: "17:00", Location: "Lapangan"},
		},
	}
	_, err := f.svc.CreateActivity(ctx, req, teacherClaims("tch-1"))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	activity, err := f.svc.CreateActivity(ctx, req, adminClaims())
	require.NoError(t, err)
	require.Len(t, activity.Slots, 1)
	assert.Equal(t, models.ClockTime(15*60), activity.Slots[0].StartTime)

	_, err = f.svc.CreateActivity(ctx, dto.CreateActivityRequest{
		Name:  "Broken",
		Slots: []dto.SlotRequest{{DayOfWeek: 1, StartTime: "10:00", EndTime: "09:00"}},
	}, adminClaims())
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.CreateActivity(ctx, dto.CreateActivityRequest{
		Name: "Overlapping",
		Slots: []dto.SlotRequest{
			{DayOfWeek: 1, StartTime: "08:00", EndTime: "10:00"},
			{DayOfWeek: 1, StartTime: "09:30", EndTime: "11:00"},
		},
	}, adminClaims())
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	f.activities.enrolled = 3
	updated, err := f.svc.ReplaceSlots(ctx, activity.ID, dto.ReplaceSlotsRequest{
		Slots: []dto.SlotRequest{{DayOfWeek: 5, StartTime: "14:00", EndTime: "16:00"}},
	}, adminClaims())
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Slots[0].DayOfWeek)

	_, err = f.svc.ReplaceSlots(ctx, "missing", dto.ReplaceSlotsRequest{}, adminClaims())
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	assert.Equal(t, []models.EventType{models.EventActivityCreated, models.EventActivitySlotsReplaced}, f.events.types())
}
