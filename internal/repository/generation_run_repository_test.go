package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

func newGenerationRunRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestGenerationRunRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newGenerationRunRepoMock(t)
	defer cleanup()
	repo := NewGenerationRunRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO generation_runs")).
		WithArgs(sqlmock.AnyArg(), "year-1", "morning", "class-1", "preview_ready", "Week Plan A", 0, 60, nil, int64(12), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	run := &models.GenerationRun{
		AcademicYearID: "year-1",
		SessionType:    models.SessionMorning,
		ClassID:        "class-1",
		Status:         models.RunPreviewReady,
		ScheduleName:   "Week Plan A",
		CellCount:      60,
		DurationMs:     12,
	}
	require.NoError(t, repo.Create(context.Background(), run))
	assert.NotEmpty(t, run.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerationRunRepositoryList(t *testing.T) {
	db, mock, cleanup := newGenerationRunRepoMock(t)
	defer cleanup()
	repo := NewGenerationRunRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM generation_runs WHERE academic_year_id = $1 AND session_type = $2 AND class_id = $3")).
		WithArgs("year-1", models.SessionMorning, "class-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	rows := sqlmock.NewRows([]string{"id", "academic_year_id", "session_type", "class_id", "status", "schedule_name", "obstruction_count", "cell_count", "error_message", "duration_ms", "created_at"}).
		AddRow("run-1", "year-1", "morning", "class-1", "published", "Week Plan A", 0, 60, nil, 15, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT $4 OFFSET $5")).
		WithArgs("year-1", models.SessionMorning, "class-1", 20, 0).
		WillReturnRows(rows)

	runs, total, err := repo.List(context.Background(), models.GenerationRunFilter{
		AcademicYearID: "year-1",
		SessionType:    models.SessionMorning,
		ClassID:        "class-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunPublished, runs[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerationRunRepositoryUpdateStatus(t *testing.T) {
	db, mock, cleanup := newGenerationRunRepoMock(t)
	defer cleanup()
	repo := NewGenerationRunRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE generation_runs SET status = $1 WHERE id = $2")).
		WithArgs(models.RunPublished, "run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), "run-1", models.RunPublished))
	assert.NoError(t, mock.ExpectationsWereMet())
}
