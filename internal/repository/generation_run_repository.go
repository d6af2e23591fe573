package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// GenerationRunRepository records every generation attempt for audit and
// diagnostics.
type GenerationRunRepository struct {
	db *sqlx.DB
}

// NewGenerationRunRepository constructs the repository.
func NewGenerationRunRepository(db *sqlx.DB) *GenerationRunRepository {
	return &GenerationRunRepository{db: db}
}

const generationRunColumns = `id, academic_year_id, session_type, class_id, status, schedule_name, obstruction_count, cell_count, error_message, duration_ms, created_at`

// Create inserts a run record.
func (r *GenerationRunRepository) Create(ctx context.Context, run *models.GenerationRun) error {
	if run == nil {
		return fmt.Errorf("run payload is nil")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	const query = `
INSERT INTO generation_runs (id, academic_year_id, session_type, class_id, status, schedule_name, obstruction_count, cell_count, error_message, duration_ms, created_at)
VALUES (:id, :academic_year_id, :session_type, :class_id, :status, :schedule_name, :obstruction_count, :cell_count, :error_message, :duration_ms, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("insert generation run: %w", err)
	}
	return nil
}

// UpdateStatus moves a run to a terminal state.
func (r *GenerationRunRepository) UpdateStatus(ctx context.Context, id string, status models.RunStatus) error {
	const query = `UPDATE generation_runs SET status = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, status, id); err != nil {
		return fmt.Errorf("update generation run status: %w", err)
	}
	return nil
}

// List returns run history newest first with pagination.
func (r *GenerationRunRepository) List(ctx context.Context, filter models.GenerationRunFilter) ([]models.GenerationRun, int, error) {
	conditions := []string{"academic_year_id = $1", "session_type = $2"}
	args := []interface{}{filter.AcademicYearID, filter.SessionType}
	argPos := 3

	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", argPos))
		args = append(args, filter.ClassID)
		argPos++
	}

	where := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM generation_runs WHERE %s`, where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count generation runs: %w", err)
	}

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	listQuery := fmt.Sprintf(`SELECT %s FROM generation_runs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		generationRunColumns, where, argPos, argPos+1)
	args = append(args, pageSize, (page-1)*pageSize)

	var runs []models.GenerationRun
	if err := r.db.SelectContext(ctx, &runs, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list generation runs: %w", err)
	}
	return runs, total, nil
}
