package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

func newConstraintRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestConstraintRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newConstraintRepoMock(t)
	defer cleanup()
	repo := NewConstraintRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_constraints")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	day := 0
	constraint := &models.ScheduleConstraint{
		AcademicYearID: "year-1",
		Type:           models.ConstraintForbidden,
		Day:            &day,
		SessionType:    "both",
		Priority:       3,
		Active:         true,
	}
	require.NoError(t, repo.Create(context.Background(), constraint))
	assert.NotEmpty(t, constraint.ID)
	assert.False(t, constraint.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConstraintRepositoryListWithClassFilter(t *testing.T) {
	db, mock, cleanup := newConstraintRepoMock(t)
	defer cleanup()
	repo := NewConstraintRepository(db)

	rows := sqlmock.NewRows([]string{"id", "academic_year_id", "constraint_type", "class_id", "subject_id", "teacher_id", "day", "period", "period_range_start", "period_range_end", "max_consecutive", "min_break", "applies_to_all_sections", "session_type", "priority", "description", "active", "created_at", "updated_at"}).
		AddRow("con-1", "year-1", "forbidden", nil, nil, nil, 0, nil, nil, nil, nil, nil, true, "both", 4, "assembly morning", true, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("WHERE academic_year_id = $1 AND (class_id = $2 OR class_id IS NULL) AND active = TRUE ORDER BY priority DESC, created_at ASC")).
		WithArgs("year-1", "class-1").
		WillReturnRows(rows)

	constraints, err := repo.List(context.Background(), models.ConstraintFilter{
		AcademicYearID: "year-1",
		ClassID:        "class-1",
		ActiveOnly:     true,
	})
	require.NoError(t, err)
	require.Len(t, constraints, 1)
	assert.Equal(t, models.ConstraintForbidden, constraints[0].Type)
	assert.Nil(t, constraints[0].ClassID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConstraintRepositoryUpdateNotFound(t *testing.T) {
	db, mock, cleanup := newConstraintRepoMock(t)
	defer cleanup()
	repo := NewConstraintRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedule_constraints")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.ScheduleConstraint{
		ID:          "missing",
		Type:        models.ConstraintForbidden,
		SessionType: "both",
		Priority:    1,
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConstraintRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newConstraintRepoMock(t)
	defer cleanup()
	repo := NewConstraintRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedule_constraints WHERE id = $1")).
		WithArgs("con-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "con-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConstraintRepositoryDeleteNotFound(t *testing.T) {
	db, mock, cleanup := newConstraintRepoMock(t)
	defer cleanup()
	repo := NewConstraintRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedule_constraints WHERE id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
