package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

// ClassRepository reads classes and their teaching staff.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs a new class repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// FindByID returns a class by id. A missing class surfaces as sql.ErrNoRows.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	var class models.Class
	if err := r.db.GetContext(ctx, &class, `SELECT id, name, grade, homeroom_teacher_id FROM classes WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// IsTeacherOfClass reports whether the teacher is the homeroom teacher of the class
// or teaches one of its subjects.
func (r *ClassRepository) IsTeacherOfClass(ctx context.Context, teacherID, classID string) (bool, error) {
	const query = `SELECT 1 FROM classes c
WHERE c.id = $1 AND (c.homeroom_teacher_id = $2
    OR EXISTS (SELECT 1 FROM class_subjects cs WHERE cs.class_id = c.id AND cs.teacher_id = $2))`
	var found int
	if err := r.db.GetContext(ctx, &found, query, classID, teacherID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check class teacher: %w", err)
	}
	return true, nil
}
