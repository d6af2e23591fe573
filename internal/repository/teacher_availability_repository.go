package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// TeacherAvailabilityRepository persists per-teacher weekly grids. The grid
// is stored as a JSONB array of 30 slots and validated on every read.
type TeacherAvailabilityRepository struct {
	db *sqlx.DB
}

// NewTeacherAvailabilityRepository constructs the repository.
func NewTeacherAvailabilityRepository(db *sqlx.DB) *TeacherAvailabilityRepository {
	return &TeacherAvailabilityRepository{db: db}
}

func (r *TeacherAvailabilityRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

type availabilityRow struct {
	TeacherID string    `db:"teacher_id"`
	Slots     []byte    `db:"slots"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row availabilityRow) toModel() (*models.TeacherAvailability, error) {
	grid, err := models.ParseAvailabilityGrid(row.Slots)
	if err != nil {
		return nil, fmt.Errorf("teacher %s availability: %w", row.TeacherID, err)
	}
	return &models.TeacherAvailability{
		TeacherID: row.TeacherID,
		Slots:     row.Slots,
		UpdatedAt: row.UpdatedAt,
		Grid:      grid,
	}, nil
}

// GetByTeacher loads and validates one teacher's grid.
func (r *TeacherAvailabilityRepository) GetByTeacher(ctx context.Context, teacherID string) (*models.TeacherAvailability, error) {
	const query = `SELECT teacher_id, slots, updated_at FROM teacher_availability WHERE teacher_id = $1`
	var row availabilityRow
	if err := r.db.GetContext(ctx, &row, query, teacherID); err != nil {
		return nil, err
	}
	return row.toModel()
}

// GetByTeacherForUpdate loads a grid under a row lock inside a transaction.
// Publish and delete both mutate availability through this path so
// concurrent commits serialize on the teacher row.
func (r *TeacherAvailabilityRepository) GetByTeacherForUpdate(ctx context.Context, exec sqlx.ExtContext, teacherID string) (*models.TeacherAvailability, error) {
	const query = `SELECT teacher_id, slots, updated_at FROM teacher_availability WHERE teacher_id = $1 FOR UPDATE`
	var row availabilityRow
	if err := sqlx.GetContext(ctx, r.exec(exec), &row, query, teacherID); err != nil {
		return nil, err
	}
	return row.toModel()
}

// ListByTeachers loads validated grids for a set of teachers.
func (r *TeacherAvailabilityRepository) ListByTeachers(ctx context.Context, teacherIDs []string) (map[string]models.AvailabilityGrid, error) {
	grids := make(map[string]models.AvailabilityGrid, len(teacherIDs))
	if len(teacherIDs) == 0 {
		return grids, nil
	}
	query, args, err := sqlx.In(`SELECT teacher_id, slots, updated_at FROM teacher_availability WHERE teacher_id IN (?)`, teacherIDs)
	if err != nil {
		return nil, fmt.Errorf("build availability query: %w", err)
	}
	query = r.db.Rebind(query)

	var rows []availabilityRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list teacher availability: %w", err)
	}
	for _, row := range rows {
		availability, err := row.toModel()
		if err != nil {
			return nil, err
		}
		grids[row.TeacherID] = availability.Grid
	}
	return grids, nil
}

// Save upserts a teacher's validated grid.
func (r *TeacherAvailabilityRepository) Save(ctx context.Context, exec sqlx.ExtContext, teacherID string, grid models.AvailabilityGrid) error {
	if err := grid.Validate(); err != nil {
		return fmt.Errorf("refusing to persist malformed grid: %w", err)
	}
	payload, err := json.Marshal(grid)
	if err != nil {
		return fmt.Errorf("encode availability grid: %w", err)
	}

	const query = `
INSERT INTO teacher_availability (teacher_id, slots, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (teacher_id) DO UPDATE SET slots = EXCLUDED.slots, updated_at = EXCLUDED.updated_at`
	if _, err := r.exec(exec).ExecContext(ctx, query, teacherID, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("save teacher availability: %w", err)
	}
	return nil
}
