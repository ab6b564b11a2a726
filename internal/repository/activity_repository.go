package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

const (
	activityColumns = "id, name, description, class_id, created_at, updated_at"
	slotColumns     = "id, activity_id, day_of_week, start_minute, end_minute, location"
)

// ActivityRepository persists extracurricular activities and their weekly slots.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository constructs an ActivityRepository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// ListAvailable returns activities open to every class plus those owned by classID.
// An empty classID yields only the open activities.
func (r *ActivityRepository) ListAvailable(ctx context.Context, classID string) ([]models.Activity, error) {
	query := "SELECT " + activityColumns + " FROM activities WHERE class_id IS NULL"
	args := []interface{}{}
	if classID != "" {
		query += " OR class_id = $1"
		args = append(args, classID)
	}
	query += " ORDER BY name ASC"

	var activities []models.Activity
	if err := r.db.SelectContext(ctx, &activities, query, args...); err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	if err := r.attachSlots(ctx, activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// FindByID returns an activity with its slots.
func (r *ActivityRepository) FindByID(ctx context.Context, id string) (*models.Activity, error) {
	var activity models.Activity
	if err := r.db.GetContext(ctx, &activity, "SELECT "+activityColumns+" FROM activities WHERE id = $1", id); err != nil {
		return nil, err
	}
	list := []models.Activity{activity}
	if err := r.attachSlots(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// ListSlots returns the slots of the given activities keyed by activity ID.
func (r *ActivityRepository) ListSlots(ctx context.Context, activityIDs []string) (map[string][]models.ScheduleSlot, error) {
	result := make(map[string][]models.ScheduleSlot, len(activityIDs))
	if len(activityIDs) == 0 {
		return result, nil
	}
	query := "SELECT " + slotColumns + " FROM activity_slots WHERE activity_id = ANY($1) ORDER BY day_of_week, start_minute"
	var slots []models.ScheduleSlot
	if err := r.db.SelectContext(ctx, &slots, query, pq.Array(activityIDs)); err != nil {
		return nil, fmt.Errorf("list activity slots: %w", err)
	}
	for _, slot := range slots {
		result[slot.ActivityID] = append(result[slot.ActivityID], slot)
	}
	return result, nil
}

// Create inserts the activity and its slots in one transaction.
func (r *ActivityRepository) Create(ctx context.Context, activity *models.Activity) (err error) {
	now := time.Now().UTC()
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	activity.CreatedAt = now
	activity.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activity transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertActivity = `INSERT INTO activities (id, name, description, class_id, created_at, updated_at)
VALUES (:id, :name, :description, :class_id, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertActivity, activity); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	if err = insertSlots(ctx, tx, activity.ID, activity.Slots); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit activity: %w", err)
	}
	return nil
}

// ReplaceSlots swaps the full slot set of an activity. It returns sql.ErrNoRows when
// the activity does not exist. Existing enrollments are not re-checked.
func (r *ActivityRepository) ReplaceSlots(ctx context.Context, activityID string, slots []models.ScheduleSlot) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin slot transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var id string
	if err = tx.GetContext(ctx, &id, "SELECT id FROM activities WHERE id = $1 FOR UPDATE", activityID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM activity_slots WHERE activity_id = $1", activityID); err != nil {
		return fmt.Errorf("delete activity slots: %w", err)
	}
	if err = insertSlots(ctx, tx, activityID, slots); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, "UPDATE activities SET updated_at = $2 WHERE id = $1", activityID, time.Now().UTC()); err != nil {
		return fmt.Errorf("touch activity: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit activity slots: %w", err)
	}
	return nil
}

// CountEnrollments returns how many students currently hold the activity.
func (r *ActivityRepository) CountEnrollments(ctx context.Context, activityID string) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM extracurricular_enrollments WHERE activity_id = $1", activityID); err != nil {
		return 0, fmt.Errorf("count activity enrollments: %w", err)
	}
	return total, nil
}

func (r *ActivityRepository) attachSlots(ctx context.Context, activities []models.Activity) error {
	if len(activities) == 0 {
		return nil
	}
	ids := make([]string, len(activities))
	for i := range activities {
		ids[i] = activities[i].ID
	}
	slots, err := r.ListSlots(ctx, ids)
	if err != nil {
		return err
	}
	for i := range activities {
		activities[i].Slots = slots[activities[i].ID]
		if activities[i].Slots == nil {
			activities[i].Slots = []models.ScheduleSlot{}
		}
	}
	return nil
}

func insertSlots(ctx context.Context, tx *sqlx.Tx, activityID string, slots []models.ScheduleSlot) error {
	const query = `INSERT INTO activity_slots (id, activity_id, day_of_week, start_minute, end_minute, location)
VALUES (:id, :activity_id, :day_of_week, :start_minute, :end_minute, :location)`
	for i := range slots {
		slots[i].ActivityID = activityID
		if slots[i].ID == "" {
			slots[i].ID = uuid.NewString()
		}
		if _, err := tx.NamedExecContext(ctx, query, &slots[i]); err != nil {
			return fmt.Errorf("insert activity slot: %w", err)
		}
	}
	return nil
}
