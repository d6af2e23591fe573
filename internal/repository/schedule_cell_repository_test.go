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

func newScheduleCellRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func testGridIdentity() models.GridIdentity {
	return models.GridIdentity{
		AcademicYearID: "year-1",
		SessionType:    models.SessionMorning,
		ClassID:        "class-1",
		Section:        "A",
	}
}

func TestScheduleCellRepositoryInsertBatch(t *testing.T) {
	db, mock, cleanup := newScheduleCellRepoMock(t)
	defer cleanup()
	repo := NewScheduleCellRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_cells")).
		WithArgs(sqlmock.AnyArg(), "year-1", "morning", "class-1", "A", 0, 0, "sub-1", "teacher-1", "Week Plan A", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_cells")).
		WithArgs(sqlmock.AnyArg(), "year-1", "morning", "class-1", "A", 0, 1, "sub-2", "teacher-2", "Week Plan A", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	cells := []models.ScheduleCell{
		{AcademicYearID: "year-1", SessionType: models.SessionMorning, ClassID: "class-1", Section: "A", Day: 0, Period: 0, SubjectID: "sub-1", TeacherID: "teacher-1", ScheduleName: "Week Plan A"},
		{AcademicYearID: "year-1", SessionType: models.SessionMorning, ClassID: "class-1", Section: "A", Day: 0, Period: 1, SubjectID: "sub-2", TeacherID: "teacher-2", ScheduleName: "Week Plan A"},
	}
	require.NoError(t, repo.InsertBatch(context.Background(), nil, cells))
	assert.NotEmpty(t, cells[0].ID)
	assert.NotNil(t, cells[0].PublishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleCellRepositoryListByIdentity(t *testing.T) {
	db, mock, cleanup := newScheduleCellRepoMock(t)
	defer cleanup()
	repo := NewScheduleCellRepository(db)

	rows := sqlmock.NewRows([]string{"id", "academic_year_id", "session_type", "class_id", "section", "day", "period", "subject_id", "teacher_id", "schedule_name", "published_at"}).
		AddRow("cell-1", "year-1", "morning", "class-1", "A", 0, 0, "sub-1", "teacher-1", "Week Plan A", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("WHERE academic_year_id = $1 AND session_type = $2 AND class_id = $3 AND section = $4 ORDER BY day ASC, period ASC")).
		WithArgs("year-1", models.SessionMorning, "class-1", "A").
		WillReturnRows(rows)

	cells, err := repo.ListByIdentity(context.Background(), testGridIdentity())
	require.NoError(t, err)
	assert.Len(t, cells, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleCellRepositoryDeleteByIdentity(t *testing.T) {
	db, mock, cleanup := newScheduleCellRepoMock(t)
	defer cleanup()
	repo := NewScheduleCellRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedule_cells")).
		WithArgs("year-1", models.SessionMorning, "class-1", "A").
		WillReturnResult(sqlmock.NewResult(0, 30))

	deleted, err := repo.DeleteByIdentity(context.Background(), nil, testGridIdentity())
	require.NoError(t, err)
	assert.Equal(t, int64(30), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleCellRepositoryIdentityExists(t *testing.T) {
	db, mock, cleanup := newScheduleCellRepoMock(t)
	defer cleanup()
	repo := NewScheduleCellRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("year-1", models.SessionMorning, "class-1", "A").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.IdentityExists(context.Background(), nil, testGridIdentity())
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleCellRepositoryNameTaken(t *testing.T) {
	db, mock, cleanup := newScheduleCellRepoMock(t)
	defer cleanup()
	repo := NewScheduleCellRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("schedule_name = $3 AND class_id <> $4")).
		WithArgs("year-1", models.SessionMorning, "Week Plan A", "class-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	taken, err := repo.NameTaken(context.Background(), nil, "year-1", models.SessionMorning, "Week Plan A", "class-1")
	require.NoError(t, err)
	assert.False(t, taken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleCellRepositoryListSummaries(t *testing.T) {
	db, mock, cleanup := newScheduleCellRepoMock(t)
	defer cleanup()
	repo := NewScheduleCellRepository(db)

	rows := sqlmock.NewRows([]string{"academic_year_id", "session_type", "class_id", "section", "schedule_name", "cell_count", "teacher_count", "published_at"}).
		AddRow("year-1", "morning", "class-1", "A", "Week Plan A", 30, 8, time.Now()).
		AddRow("year-1", "morning", "class-1", "B", "Week Plan A", 30, 8, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY academic_year_id, session_type, class_id, section, schedule_name")).
		WithArgs("year-1", models.SessionMorning).
		WillReturnRows(rows)

	summaries, err := repo.ListSummaries(context.Background(), "year-1", models.SessionMorning)
	require.NoError(t, err)
	assert.Len(t, summaries, 2)
	assert.Equal(t, 30, summaries[0].CellCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
