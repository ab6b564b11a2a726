package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-portal-api/internal/dto"
	"github.com/noah-isme/sma-portal-api/internal/models"
	"github.com/noah-isme/sma-portal-api/internal/repository"
	"github.com/noah-isme/sma-portal-api/pkg/database"
	appErrors "github.com/noah-isme/sma-portal-api/pkg/errors"
)

const (
	enrollmentResource = "extracurricular_enrollment"
	activityResource   = "extracurricular_activity"
)

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type activityStore interface {
	ListAvailable(ctx context.Context, classID string) ([]models.Activity, error)
	FindByID(ctx context.Context, id string) (*models.Activity, error)
	ListSlots(ctx context.Context, activityIDs []string) (map[string][]models.ScheduleSlot, error)
	Create(ctx context.Context, activity *models.Activity) error
	ReplaceSlots(ctx context.Context, activityID string, slots []models.ScheduleSlot) error
	CountEnrollments(ctx context.Context, activityID string) (int, error)
}

type enrollmentStore interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
	Insert(ctx context.Context, studentID, activityID string, guard repository.LedgerGuard) (*models.Enrollment, error)
	Delete(ctx context.Context, studentID, activityID string, guard repository.LedgerGuard) error
	Finalize(ctx context.Context, studentID string, guard repository.LedgerGuard) error
}

// ExtracurricularConfig tunes the enrollment rules.
type ExtracurricularConfig struct {
	MaxSelections int
}

// ExtracurricularService owns the enrollment ledger: selecting, unselecting and
// finalizing activities under the capacity and schedule rules.
type ExtracurricularService struct {
	students    studentReader
	activities  activityStore
	enrollments enrollmentStore
	cache       *CacheService
	events      EventPublisher
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	config      ExtracurricularConfig
}

// NewExtracurricularService builds an ExtracurricularService with sane defaults.
func NewExtracurricularService(
	students studentReader,
	activities activityStore,
	enrollments enrollmentStore,
	cache *CacheService,
	events EventPublisher,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	config ExtracurricularConfig,
) *ExtracurricularService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = noopPublisher{}
	}
	if config.MaxSelections <= 0 {
		config.MaxSelections = 2
	}
	return &ExtracurricularService{
		students:    students,
		activities:  activities,
		enrollments: enrollments,
		cache:       cache,
		events:      events,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		config:      config,
	}
}

// ListAvailable returns the activities open to all classes plus those owned by the
// class. With a student filter the class comes from the student and each activity is
// annotated with the student's selection and conflict state.
func (s *ExtracurricularService) ListAvailable(ctx context.Context, filter dto.ActivityFilter, actor *models.JWTClaims) ([]models.AvailableActivity, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	classID := filter.ClassID
	var enrolled map[string]bool
	var enrolledSlots []models.ScheduleSlot
	if filter.StudentID != "" {
		if actor.Role == models.RoleStudent && actor.UserID != filter.StudentID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only view their own selections")
		}
		student, err := s.loadStudent(ctx, filter.StudentID)
		if err != nil {
			return nil, err
		}
		classID = ""
		if student.ClassID != nil {
			classID = *student.ClassID
		}
		enrolled, err = s.enrolledActivityIDs(ctx, student.ID)
		if err != nil {
			return nil, err
		}
		// enrollments may sit outside the current class listing
		enrolledSlots, err = s.slotsOf(ctx, enrolled)
		if err != nil {
			return nil, err
		}
	}

	activities, err := s.listActivities(ctx, classID)
	if err != nil {
		return nil, err
	}

	result := make([]models.AvailableActivity, 0, len(activities))
	for _, activity := range activities {
		item := models.AvailableActivity{Activity: activity, Selected: enrolled[activity.ID]}
		if enrolled != nil && !item.Selected {
			item.Conflicts = SlotsConflict(activity.Slots, enrolledSlots)
		}
		result = append(result, item)
	}
	return result, nil
}

// ListEnrollments returns a student's current selections and finalization state.
func (s *ExtracurricularService) ListEnrollments(ctx context.Context, studentID string, actor *models.JWTClaims) (*models.StudentEnrollments, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleStudent && actor.UserID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only view their own selections")
	}
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	var items []models.EnrollmentDetail
	err = database.RetryRead(ctx, func(ctx context.Context) error {
		var readErr error
		items, readErr = s.enrollments.ListByStudent(ctx, studentID)
		return readErr
	})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list enrollments")
	}
	if items == nil {
		items = []models.EnrollmentDetail{}
	}
	return &models.StudentEnrollments{StudentID: student.ID, Finalized: student.ExtracurricularFinalized, Items: items}, nil
}

// Select enrolls the student in an activity. The rules are evaluated against the
// student's ledger while its row is locked, in this order: finalization, duplicate,
// capacity, schedule conflict.
func (s *ExtracurricularService) Select(ctx context.Context, studentID string, req dto.SelectActivityRequest, actor *models.JWTClaims) (*models.Enrollment, error) {
	if err := s.authorizeStudentWrite(studentID, actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid selection payload")
	}

	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	activity, err := s.activities.FindByID(ctx, req.ActivityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "activity not found")
		}
		return nil, appErrors.Internal(err, "failed to load activity")
	}
	if !activity.OpenTo(student.ClassID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "activity is reserved for another class")
	}

	enrollment, err := s.enrollments.Insert(ctx, studentID, activity.ID, func(ledger models.EnrollmentLedger) error {
		if ledger.Finalized {
			return appErrors.ErrAlreadyFinalized
		}
		if ledger.Has(activity.ID) {
			return appErrors.ErrDuplicateSelection
		}
		if len(ledger.Enrollments) >= s.config.MaxSelections {
			return appErrors.ErrCapacityExceeded
		}
		if conflicts := FindSlotConflicts(activity.Slots, ledger.Slots); len(conflicts) > 0 {
			return appErrors.WithDetails(appErrors.ErrScheduleConflict, conflicts)
		}
		return nil
	})
	if err != nil {
		return nil, s.ledgerError(err, "failed to select activity")
	}

	s.events.Publish(ctx, models.DomainEvent{
		Type:       models.EventEnrollmentSelected,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Resource:   enrollmentResource,
		ResourceID: enrollment.ID,
		Payload:    map[string]interface{}{"student_id": studentID, "activity_id": activity.ID},
	})
	return enrollment, nil
}

// Unselect removes an activity from a student's selections before finalization.
func (s *ExtracurricularService) Unselect(ctx context.Context, studentID, activityID string, actor *models.JWTClaims) error {
	if err := s.authorizeStudentWrite(studentID, actor); err != nil {
		return err
	}
	err := s.enrollments.Delete(ctx, studentID, activityID, func(ledger models.EnrollmentLedger) error {
		if ledger.Finalized {
			return appErrors.ErrAlreadyFinalized
		}
		if !ledger.Has(activityID) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil
	})
	if err != nil {
		return s.ledgerError(err, "failed to unselect activity")
	}

	s.events.Publish(ctx, models.DomainEvent{
		Type:       models.EventEnrollmentUnselected,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Resource:   enrollmentResource,
		ResourceID: studentID,
		Payload:    map[string]interface{}{"student_id": studentID, "activity_id": activityID},
	})
	return nil
}

// Finalize locks the student's selections. At least one selection is required.
func (s *ExtracurricularService) Finalize(ctx context.Context, studentID string, actor *models.JWTClaims) (*models.StudentEnrollments, error) {
	if err := s.authorizeStudentWrite(studentID, actor); err != nil {
		return nil, err
	}
	var selected []string
	err := s.enrollments.Finalize(ctx, studentID, func(ledger models.EnrollmentLedger) error {
		if ledger.Finalized {
			return appErrors.ErrAlreadyFinalized
		}
		if len(ledger.Enrollments) == 0 {
			return appErrors.ErrNoSelection
		}
		for _, e := range ledger.Enrollments {
			selected = append(selected, e.ActivityID)
		}
		return nil
	})
	if err != nil {
		return nil, s.ledgerError(err, "failed to finalize selections")
	}

	s.events.Publish(ctx, models.DomainEvent{
		Type:       models.EventEnrollmentFinalized,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Resource:   enrollmentResource,
		ResourceID: studentID,
		Payload:    map[string]interface{}{"student_id": studentID, "activity_ids": selected},
	})
	return s.ListEnrollments(ctx, studentID, actor)
}

// CreateActivity registers a new activity with its weekly slots.
func (s *ExtracurricularService) CreateActivity(ctx context.Context, req dto.CreateActivityRequest, actor *models.JWTClaims) (*models.Activity, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.IsAdmin() {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid activity payload")
	}
	slots, err := buildSlots(req.Slots)
	if err != nil {
		return nil, err
	}

	activity := &models.Activity{Name: req.Name, Description: req.Description, ClassID: req.ClassID, Slots: slots}
	if err := s.activities.Create(ctx, activity); err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Internal(err, "failed to create activity")
	}

	s.events.Publish(ctx, models.DomainEvent{
		Type:       models.EventActivityCreated,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Resource:   activityResource,
		ResourceID: activity.ID,
		Payload:    map[string]interface{}{"name": activity.Name, "slots": len(slots)},
	})
	return activity, nil
}

// ReplaceSlots swaps an activity's slot set. Students already enrolled are not
// re-checked for conflicts against the new schedule.
func (s *ExtracurricularService) ReplaceSlots(ctx context.Context, activityID string, req dto.ReplaceSlotsRequest, actor *models.JWTClaims) (*models.Activity, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.IsAdmin() {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot payload")
	}
	slots, err := buildSlots(req.Slots)
	if err != nil {
		return nil, err
	}

	if err := s.activities.ReplaceSlots(ctx, activityID, slots); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "activity not found")
		}
		return nil, appErrors.Internal(err, "failed to replace activity slots")
	}
	if enrolled, err := s.activities.CountEnrollments(ctx, activityID); err != nil {
		s.logger.Warn("failed to count enrollments after slot change", zap.String("activity_id", activityID), zap.Error(err))
	} else if enrolled > 0 {
		s.logger.Warn("activity slots changed with existing enrollments; conflicts are not re-evaluated",
			zap.String("activity_id", activityID), zap.Int("enrollments", enrolled))
	}

	s.events.Publish(ctx, models.DomainEvent{
		Type:       models.EventActivitySlotsReplaced,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Resource:   activityResource,
		ResourceID: activityID,
		Payload:    map[string]interface{}{"slots": len(slots)},
	})

	activity, err := s.activities.FindByID(ctx, activityID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to reload activity")
	}
	return activity, nil
}

func (s *ExtracurricularService) authorizeStudentWrite(studentID string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleTeacher || !actor.ActsFor(studentID) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the student or an administrator may change selections")
	}
	return nil
}

func (s *ExtracurricularService) loadStudent(ctx context.Context, id string) (*models.Student, error) {
	var student *models.Student
	err := database.RetryRead(ctx, func(ctx context.Context) error {
		var readErr error
		student, readErr = s.students.FindByID(ctx, id)
		return readErr
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Internal(err, "failed to load student")
	}
	return student, nil
}

func (s *ExtracurricularService) enrolledActivityIDs(ctx context.Context, studentID string) (map[string]bool, error) {
	var items []models.EnrollmentDetail
	err := database.RetryRead(ctx, func(ctx context.Context) error {
		var readErr error
		items, readErr = s.enrollments.ListByStudent(ctx, studentID)
		return readErr
	})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list enrollments")
	}
	ids := make(map[string]bool, len(items))
	for _, item := range items {
		ids[item.ActivityID] = true
	}
	return ids, nil
}

func (s *ExtracurricularService) slotsOf(ctx context.Context, activityIDs map[string]bool) ([]models.ScheduleSlot, error) {
	if len(activityIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(activityIDs))
	for id := range activityIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var byActivity map[string][]models.ScheduleSlot
	err := database.RetryRead(ctx, func(ctx context.Context) error {
		var readErr error
		byActivity, readErr = s.activities.ListSlots(ctx, ids)
		return readErr
	})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load enrolled schedules")
	}
	var slots []models.ScheduleSlot
	for _, id := range ids {
		slots = append(slots, byActivity[id]...)
	}
	return slots, nil
}

// listActivities serves the class listing from cache when possible.
func (s *ExtracurricularService) listActivities(ctx context.Context, classID string) ([]models.Activity, error) {
	key := ActivityListCacheKey(classID)
	var activities []models.Activity
	if s.cache.Get(ctx, key, &activities) {
		return activities, nil
	}
	err := database.RetryRead(ctx, func(ctx context.Context) error {
		var readErr error
		activities, readErr = s.activities.ListAvailable(ctx, classID)
		return readErr
	})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list activities")
	}
	if activities == nil {
		activities = []models.Activity{}
	}
	s.cache.Set(ctx, key, activities, 0)
	return activities, nil
}

// ledgerError maps errors coming out of a guarded ledger write.
func (s *ExtracurricularService) ledgerError(err error, message string) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		if appErr.Kind == appErrors.KindPolicy || appErr.Kind == appErrors.KindConflict {
			s.metrics.RecordPolicyRejection(appErr.Code)
		}
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "student not found")
	case database.IsUniqueViolation(err):
		s.metrics.RecordPolicyRejection(appErrors.ErrDuplicateSelection.Code)
		return appErrors.ErrDuplicateSelection
	default:
		return appErrors.Internal(err, message)
	}
}

func buildSlots(reqs []dto.SlotRequest) ([]models.ScheduleSlot, error) {
	slots := make([]models.ScheduleSlot, 0, len(reqs))
	for _, req := range reqs {
		slot, err := models.NewScheduleSlot(req.DayOfWeek, req.StartTime, req.EndTime, req.Location)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
		}
		slots = append(slots, slot)
	}
	for i := range slots {
		for j := i + 1; j < len(slots); j++ {
			if slotsOverlap(slots[i], slots[j]) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "activity slots overlap each other")
			}
		}
	}
	return slots, nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, models.DomainEvent) {}
