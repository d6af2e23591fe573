package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// ConstraintRepository persists structural scheduling rules.
type ConstraintRepository struct {
	db *sqlx.DB
}

// NewConstraintRepository constructs the repository.
func NewConstraintRepository(db *sqlx.DB) *ConstraintRepository {
	return &ConstraintRepository{db: db}
}

const constraintColumns = `id, academic_year_id, constraint_type, class_id, subject_id, teacher_id, day, period, period_range_start, period_range_end, max_consecutive, min_break, applies_to_all_sections, session_type, priority, description, active, created_at, updated_at`

// Create inserts a constraint with generated defaults.
func (r *ConstraintRepository) Create(ctx context.Context, constraint *models.ScheduleConstraint) error {
	if constraint == nil {
		return fmt.Errorf("constraint payload is nil")
	}
	if constraint.ID == "" {
		constraint.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if constraint.CreatedAt.IsZero() {
		constraint.CreatedAt = now
	}
	constraint.UpdatedAt = now

	const query = `
INSERT INTO schedule_constraints (id, academic_year_id, constraint_type, class_id, subject_id, teacher_id, day, period, period_range_start, period_range_end, max_consecutive, min_break, applies_to_all_sections, session_type, priority, description, active, created_at, updated_at)
VALUES (:id, :academic_year_id, :constraint_type, :class_id, :subject_id, :teacher_id, :day, :period, :period_range_start, :period_range_end, :max_consecutive, :min_break, :applies_to_all_sections, :session_type, :priority, :description, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, constraint); err != nil {
		return fmt.Errorf("insert schedule constraint: %w", err)
	}
	return nil
}

// FindByID loads one constraint.
func (r *ConstraintRepository) FindByID(ctx context.Context, id string) (*models.ScheduleConstraint, error) {
	const query = `SELECT ` + constraintColumns + ` FROM schedule_constraints WHERE id = $1`
	var constraint models.ScheduleConstraint
	if err := r.db.GetContext(ctx, &constraint, query, id); err != nil {
		return nil, err
	}
	return &constraint, nil
}

// List returns constraints matching the filter, highest priority first.
func (r *ConstraintRepository) List(ctx context.Context, filter models.ConstraintFilter) ([]models.ScheduleConstraint, error) {
	conditions := []string{"academic_year_id = $1"}
	args := []interface{}{filter.AcademicYearID}
	argPos := 2

	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("(class_id = $%d OR class_id IS NULL)", argPos))
		args = append(args, filter.ClassID)
		argPos++
	}
	if filter.SubjectID != "" {
		conditions = append(conditions, fmt.Sprintf("subject_id = $%d", argPos))
		args = append(args, filter.SubjectID)
		argPos++
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", argPos))
		args = append(args, filter.TeacherID)
		argPos++
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("constraint_type = $%d", argPos))
		args = append(args, filter.Type)
		argPos++
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "active = TRUE")
	}

	query := fmt.Sprintf(`SELECT %s FROM schedule_constraints WHERE %s ORDER BY priority DESC, created_at ASC`,
		constraintColumns, strings.Join(conditions, " AND "))

	var constraints []models.ScheduleConstraint
	if err := r.db.SelectContext(ctx, &constraints, query, args...); err != nil {
		return nil, fmt.Errorf("list schedule constraints: %w", err)
	}
	return constraints, nil
}

// Update replaces the mutable fields of a constraint.
func (r *ConstraintRepository) Update(ctx context.Context, constraint *models.ScheduleConstraint) error {
	if constraint == nil || constraint.ID == "" {
		return fmt.Errorf("constraint id is required")
	}
	constraint.UpdatedAt = time.Now().UTC()

	const query = `
UPDATE schedule_constraints
SET constraint_type = :constraint_type, class_id = :class_id, subject_id = :subject_id, teacher_id = :teacher_id,
    day = :day, period = :period, period_range_start = :period_range_start, period_range_end = :period_range_end,
    max_consecutive = :max_consecutive, min_break = :min_break, applies_to_all_sections = :applies_to_all_sections,
    session_type = :session_type, priority = :priority, description = :description, active = :active, updated_at = :updated_at
WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, constraint)
	if err != nil {
		return fmt.Errorf("update schedule constraint: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("schedule constraint rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a constraint.
func (r *ConstraintRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM schedule_constraints WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete schedule constraint: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("schedule constraint rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
