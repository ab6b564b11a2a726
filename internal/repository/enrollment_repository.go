package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

// LedgerGuard inspects a locked ledger and returns a non-nil error to abort the write.
type LedgerGuard func(ledger models.EnrollmentLedger) error

// EnrollmentRepository persists extracurricular enrollments. Every write locks the
// student row first so that concurrent writes for one student serialize and the
// guard always sees the committed state.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository creates a new repository instance.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// ListByStudent returns a student's enrollments with activity names.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.activity_id, e.created_at, a.name AS activity_name
FROM extracurricular_enrollments e
JOIN activities a ON a.id = e.activity_id
WHERE e.student_id = $1
ORDER BY e.created_at ASC`
	var items []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &items, query, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return items, nil
}

// Insert adds an enrollment once guard accepts the locked ledger. It returns
// sql.ErrNoRows when the student does not exist.
func (r *EnrollmentRepository) Insert(ctx context.Context, studentID, activityID string, guard LedgerGuard) (enrollment *models.Enrollment, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enrollment transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ledger, err := lockLedger(ctx, tx, studentID, true)
	if err != nil {
		return nil, err
	}
	if err = guard(ledger); err != nil {
		return nil, err
	}

	enrollment = &models.Enrollment{
		ID:         uuid.NewString(),
		StudentID:  studentID,
		ActivityID: activityID,
		CreatedAt:  time.Now().UTC(),
	}
	const insert = `INSERT INTO extracurricular_enrollments (id, student_id, activity_id, created_at)
VALUES (:id, :student_id, :activity_id, :created_at)`
	if _, err = tx.NamedExecContext(ctx, insert, enrollment); err != nil {
		return nil, fmt.Errorf("insert enrollment: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enrollment: %w", err)
	}
	return enrollment, nil
}

// Delete removes an enrollment once guard accepts the locked ledger. It returns
// sql.ErrNoRows when the student does not exist.
func (r *EnrollmentRepository) Delete(ctx context.Context, studentID, activityID string, guard LedgerGuard) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ledger, err := lockLedger(ctx, tx, studentID, false)
	if err != nil {
		return err
	}
	if err = guard(ledger); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM extracurricular_enrollments WHERE student_id = $1 AND activity_id = $2", studentID, activityID); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment delete: %w", err)
	}
	return nil
}

// Finalize sets the student's finalization flag once guard accepts the locked ledger.
func (r *EnrollmentRepository) Finalize(ctx context.Context, studentID string, guard LedgerGuard) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finalize transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ledger, err := lockLedger(ctx, tx, studentID, false)
	if err != nil {
		return err
	}
	if err = guard(ledger); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, "UPDATE students SET extracurricular_finalized = TRUE, updated_at = $2 WHERE id = $1", studentID, time.Now().UTC()); err != nil {
		return fmt.Errorf("finalize enrollments: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit finalize: %w", err)
	}
	return nil
}

func lockLedger(ctx context.Context, tx *sqlx.Tx, studentID string, withSlots bool) (models.EnrollmentLedger, error) {
	ledger := models.EnrollmentLedger{StudentID: studentID}
	if err := tx.GetContext(ctx, &ledger.Finalized, "SELECT extracurricular_finalized FROM students WHERE id = $1 FOR UPDATE", studentID); err != nil {
		return ledger, err
	}
	if err := tx.SelectContext(ctx, &ledger.Enrollments, "SELECT id, student_id, activity_id, created_at FROM extracurricular_enrollments WHERE student_id = $1 ORDER BY created_at ASC", studentID); err != nil {
		return ledger, fmt.Errorf("load enrollments: %w", err)
	}
	if !withSlots || len(ledger.Enrollments) == 0 {
		return ledger, nil
	}
	const slotQuery = `SELECT s.id, s.activity_id, s.day_of_week, s.start_minute, s.end_minute, s.location
FROM activity_slots s
JOIN extracurricular_enrollments e ON e.activity_id = s.activity_id
WHERE e.student_id = $1
ORDER BY s.day_of_week, s.start_minute`
	if err := tx.SelectContext(ctx, &ledger.Slots, slotQuery, studentID); err != nil {
		return ledger, fmt.Errorf("load enrolled slots: %w", err)
	}
	return ledger, nil
}
