package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// ScheduleCellRepository persists published timetable cells. Uniqueness of
// (year, session, class, section, day, period) and of
// (year, session, teacher, day, period) is enforced by database indexes as
// the last line of defense behind the integrity validator.
type ScheduleCellRepository struct {
	db *sqlx.DB
}

// NewScheduleCellRepository constructs the repository.
func NewScheduleCellRepository(db *sqlx.DB) *ScheduleCellRepository {
	return &ScheduleCellRepository{db: db}
}

func (r *ScheduleCellRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

const scheduleCellColumns = `id, academic_year_id, session_type, class_id, section, day, period, subject_id, teacher_id, schedule_name, published_at`

// InsertBatch writes every cell of a publish in insertion order. Callers
// wrap it in a transaction; a failure on any row aborts the whole publish.
func (r *ScheduleCellRepository) InsertBatch(ctx context.Context, exec sqlx.ExtContext, cells []models.ScheduleCell) error {
	if len(cells) == 0 {
		return nil
	}
	target := r.exec(exec)
	now := time.Now().UTC()

	const query = `
INSERT INTO schedule_cells (id, academic_year_id, session_type, class_id, section, day, period, subject_id, teacher_id, schedule_name, published_at)
VALUES (:id, :academic_year_id, :session_type, :class_id, :section, :day, :period, :subject_id, :teacher_id, :schedule_name, :published_at)`

	for i := range cells {
		cell := &cells[i]
		if cell.ID == "" {
			cell.ID = uuid.NewString()
		}
		if cell.PublishedAt == nil {
			cell.PublishedAt = &now
		}
		if _, err := sqlx.NamedExecContext(ctx, target, query, cell); err != nil {
			return fmt.Errorf("insert schedule cell (%d,%d): %w", cell.Day, cell.Period, err)
		}
	}
	return nil
}

// ListByIdentity returns the cells of one class/section grid in day/period
// order.
func (r *ScheduleCellRepository) ListByIdentity(ctx context.Context, id models.GridIdentity) ([]models.ScheduleCell, error) {
	const query = `SELECT ` + scheduleCellColumns + `
FROM schedule_cells
WHERE academic_year_id = $1 AND session_type = $2 AND class_id = $3 AND section = $4
ORDER BY day ASC, period ASC`
	var cells []models.ScheduleCell
	if err := r.db.SelectContext(ctx, &cells, query, id.AcademicYearID, id.SessionType, id.ClassID, id.Section); err != nil {
		return nil, fmt.Errorf("list schedule cells: %w", err)
	}
	return cells, nil
}

// ListByIdentityForUpdate locks and returns a grid's cells inside a delete
// transaction.
func (r *ScheduleCellRepository) ListByIdentityForUpdate(ctx context.Context, exec sqlx.ExtContext, id models.GridIdentity) ([]models.ScheduleCell, error) {
	const query = `SELECT ` + scheduleCellColumns + `
FROM schedule_cells
WHERE academic_year_id = $1 AND session_type = $2 AND class_id = $3 AND section = $4
ORDER BY day ASC, period ASC
FOR UPDATE`
	var cells []models.ScheduleCell
	if err := sqlx.SelectContext(ctx, r.exec(exec), &cells, query, id.AcademicYearID, id.SessionType, id.ClassID, id.Section); err != nil {
		return nil, fmt.Errorf("lock schedule cells: %w", err)
	}
	return cells, nil
}

// ListByClass returns every published cell of a class across its sections.
func (r *ScheduleCellRepository) ListByClass(ctx context.Context, academicYearID string, session models.SessionType, classID string) ([]models.ScheduleCell, error) {
	const query = `SELECT ` + scheduleCellColumns + `
FROM schedule_cells
WHERE academic_year_id = $1 AND session_type = $2 AND class_id = $3
ORDER BY section ASC, day ASC, period ASC`
	var cells []models.ScheduleCell
	if err := r.db.SelectContext(ctx, &cells, query, academicYearID, session, classID); err != nil {
		return nil, fmt.Errorf("list class schedule cells: %w", err)
	}
	return cells, nil
}

// ListByScope returns every published cell in a year/session scope. The
// conflict resolver scans this set for cross-grid teacher overlaps.
func (r *ScheduleCellRepository) ListByScope(ctx context.Context, academicYearID string, session models.SessionType) ([]models.ScheduleCell, error) {
	const query = `SELECT ` + scheduleCellColumns + `
FROM schedule_cells
WHERE academic_year_id = $1 AND session_type = $2
ORDER BY class_id ASC, section ASC, day ASC, period ASC`
	var cells []models.ScheduleCell
	if err := r.db.SelectContext(ctx, &cells, query, academicYearID, session); err != nil {
		return nil, fmt.Errorf("list scope schedule cells: %w", err)
	}
	return cells, nil
}

// DeleteByIdentity removes a grid's cells and reports how many went away.
func (r *ScheduleCellRepository) DeleteByIdentity(ctx context.Context, exec sqlx.ExtContext, id models.GridIdentity) (int64, error) {
	const query = `DELETE FROM schedule_cells
WHERE academic_year_id = $1 AND session_type = $2 AND class_id = $3 AND section = $4`
	result, err := r.exec(exec).ExecContext(ctx, query, id.AcademicYearID, id.SessionType, id.ClassID, id.Section)
	if err != nil {
		return 0, fmt.Errorf("delete schedule cells: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("schedule cell rows affected: %w", err)
	}
	return affected, nil
}

// IdentityExists reports whether any published cell occupies the identity.
func (r *ScheduleCellRepository) IdentityExists(ctx context.Context, exec sqlx.ExtContext, id models.GridIdentity) (bool, error) {
	const query = `SELECT EXISTS (
SELECT 1 FROM schedule_cells
WHERE academic_year_id = $1 AND session_type = $2 AND class_id = $3 AND section = $4)`
	var exists bool
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query, id.AcademicYearID, id.SessionType, id.ClassID, id.Section); err != nil {
		return false, fmt.Errorf("check schedule identity: %w", err)
	}
	return exists, nil
}

// NameTaken reports whether a schedule name is already used in the
// year/session scope by a different class.
func (r *ScheduleCellRepository) NameTaken(ctx context.Context, exec sqlx.ExtContext, academicYearID string, session models.SessionType, name, excludeClassID string) (bool, error) {
	const query = `SELECT EXISTS (
SELECT 1 FROM schedule_cells
WHERE academic_year_id = $1 AND session_type = $2 AND schedule_name = $3 AND class_id <> $4)`
	var taken bool
	if err := sqlx.GetContext(ctx, r.exec(exec), &taken, query, academicYearID, session, name, excludeClassID); err != nil {
		return false, fmt.Errorf("check schedule name: %w", err)
	}
	return taken, nil
}

// ListSummaries aggregates published grids in a scope.
func (r *ScheduleCellRepository) ListSummaries(ctx context.Context, academicYearID string, session models.SessionType) ([]models.PublishedScheduleSummary, error) {
	const query = `
SELECT academic_year_id, session_type, class_id, section, schedule_name,
       COUNT(*) AS cell_count,
       COUNT(DISTINCT teacher_id) AS teacher_count,
       MAX(published_at) AS published_at
FROM schedule_cells
WHERE academic_year_id = $1 AND session_type = $2
GROUP BY academic_year_id, session_type, class_id, section, schedule_name
ORDER BY class_id ASC, section ASC`
	var summaries []models.PublishedScheduleSummary
	if err := r.db.SelectContext(ctx, &summaries, query, academicYearID, session); err != nil {
		return nil, fmt.Errorf("list schedule summaries: %w", err)
	}
	return summaries, nil
}
