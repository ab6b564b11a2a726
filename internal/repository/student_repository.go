package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

const studentColumns = "id, nis, full_name, class_id, extracurricular_finalized, active, created_at, updated_at"

// StudentRepository reads the roster of students. Mutations other than the
// extracurricular finalization flag belong to the roster owner.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID fetches a student by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := "SELECT " + studentColumns + " FROM students WHERE id = $1"
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// ListByClass returns the active roster of a class ordered by name.
func (r *StudentRepository) ListByClass(ctx context.Context, classID string) ([]models.Student, error) {
	query := "SELECT " + studentColumns + " FROM students WHERE class_id = $1 AND active = TRUE ORDER BY full_name ASC"
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, classID); err != nil {
		return nil, fmt.Errorf("list students by class: %w", err)
	}
	return students, nil
}

// CountByClass returns the size of a class's active roster.
func (r *StudentRepository) CountByClass(ctx context.Context, classID string) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM students WHERE class_id = $1 AND active = TRUE", classID); err != nil {
		return 0, fmt.Errorf("count students by class: %w", err)
	}
	return total, nil
}
