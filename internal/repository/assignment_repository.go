package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

const assignmentFileColumns = "id, assignment_id, file_name, storage_key, mime_type, size_bytes, uploaded_by, created_at"

// AssignmentRepository persists assignments and their attachment metadata.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs an AssignmentRepository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Create inserts a new assignment.
func (r *AssignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	now := time.Now().UTC()
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	assignment.CreatedAt = now
	assignment.UpdatedAt = now
	const query = `INSERT INTO assignments (id, class_id, subject_id, title, description, due_at, created_by, created_at, updated_at)
VALUES (:id, :class_id, :subject_id, :title, :description, :due_at, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

// FindByID returns an assignment with its files.
func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	const query = `SELECT id, class_id, subject_id, title, description, due_at, created_by, created_at, updated_at FROM assignments WHERE id = $1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, err
	}
	files, err := r.ListFiles(ctx, id)
	if err != nil {
		return nil, err
	}
	assignment.Files = files
	return &assignment, nil
}

// AddFile records attachment metadata for an assignment.
func (r *AssignmentRepository) AddFile(ctx context.Context, file *models.AssignmentFile) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	file.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO assignment_files (id, assignment_id, file_name, storage_key, mime_type, size_bytes, uploaded_by, created_at)
VALUES (:id, :assignment_id, :file_name, :storage_key, :mime_type, :size_bytes, :uploaded_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, file); err != nil {
		return fmt.Errorf("create assignment file: %w", err)
	}
	return nil
}

// FindFile returns attachment metadata by id.
func (r *AssignmentRepository) FindFile(ctx context.Context, id string) (*models.AssignmentFile, error) {
	var file models.AssignmentFile
	if err := r.db.GetContext(ctx, &file, "SELECT "+assignmentFileColumns+" FROM assignment_files WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &file, nil
}

// ListFiles returns the attachments of an assignment in upload order.
func (r *AssignmentRepository) ListFiles(ctx context.Context, assignmentID string) ([]models.AssignmentFile, error) {
	files := []models.AssignmentFile{}
	if err := r.db.SelectContext(ctx, &files, "SELECT "+assignmentFileColumns+" FROM assignment_files WHERE assignment_id = $1 ORDER BY created_at ASC", assignmentID); err != nil {
		return nil, fmt.Errorf("list assignment files: %w", err)
	}
	return files, nil
}
