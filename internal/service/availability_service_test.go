package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

type availabilityCatalogStub struct {
	teachers    map[string]models.Teacher
	assignments []models.TeacherAssignment
}

func (s availabilityCatalogStub) GetTeacher(ctx context.Context, teacherID string) (*models.Teacher, error) {
	if teacher, ok := s.teachers[teacherID]; ok {
		cp := teacher
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (s availabilityCatalogStub) ListAssignmentsByClass(ctx context.Context, classID string) ([]models.TeacherAssignment, error) {
	return s.assignments, nil
}

func (s availabilityCatalogStub) ListTeachersByIDs(ctx context.Context, teacherIDs []string) (map[string]models.Teacher, error) {
	result := make(map[string]models.Teacher, len(teacherIDs))
	for _, id := range teacherIDs {
		if teacher, ok := s.teachers[id]; ok {
			result[id] = teacher
		}
	}
	return result, nil
}

func declarationFrom(grid models.AvailabilityGrid) []models.AvailabilitySlot {
	return []models.AvailabilitySlot(grid.Clone())
}

func scheduleAssignment() *models.SlotAssignment {
	return &models.SlotAssignment{
		AcademicYearID: "ay-2026",
		SessionType:    models.SessionMorning,
		ClassID:        "class-10a",
		Section:        "A",
		SubjectID:      "sub-1",
		ScheduleName:   "Term 1 v1",
	}
}

func TestAvailabilityServiceGetDefaultsToFree(t *testing.T) {
	repo := &availabilityStoreStub{grids: map[string]models.AvailabilityGrid{}}
	catalog := availabilityCatalogStub{teachers: map[string]models.Teacher{
		"t-1": {ID: "t-1", FullName: "Siti Rahma", Active: true},
	}}
	service := NewAvailabilityService(repo, catalog, nil, validator.New(), zap.NewNop())

	resp, err := service.GetByTeacher(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, "Siti Rahma", resp.TeacherName)
	assert.Equal(t, models.SlotsPerWeek, resp.Slots.FreeCount())
}

func TestAvailabilityServiceGetUnknownTeacher(t *testing.T) {
	repo := &availabilityStoreStub{grids: map[string]models.AvailabilityGrid{}}
	service := NewAvailabilityService(repo, availabilityCatalogStub{}, nil, validator.New(), zap.NewNop())

	_, err := service.GetByTeacher(context.Background(), "t-ghost")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAvailabilityServiceUpdate(t *testing.T) {
	txProv, mock := newTimetableTxMock(t)
	repo := &availabilityStoreStub{grids: map[string]models.AvailabilityGrid{}}
	catalog := availabilityCatalogStub{teachers: map[string]models.Teacher{
		"t-1": {ID: "t-1", FullName: "Siti Rahma", Active: true},
	}}
	service := NewAvailabilityService(repo, catalog, txProv, validator.New(), zap.NewNop())

	declared := models.NewFreeGrid()
	declared.SetSlot(0, 0, models.AvailabilitySlot{Day: 0, Period: 0, Status: models.SlotUnavailable})
	declared.SetSlot(4, 5, models.AvailabilitySlot{Day: 4, Period: 5, Status: models.SlotUnavailable})

	mock.ExpectBegin()
	mock.ExpectCommit()
	resp, err := service.Update(context.Background(), "t-1", dto.UpdateAvailabilityRequest{Slots: declarationFrom(declared)})
	require.NoError(t, err)
	assert.Equal(t, models.SlotUnavailable, resp.Slots.Slot(0, 0).Status)
	assert.Equal(t, models.SlotUnavailable, resp.Slots.Slot(4, 5).Status)
	assert.Equal(t, models.SlotsPerWeek-2, resp.Slots.FreeCount())
	assert.NoError(t, mock.ExpectationsWereMet())

	stored := repo.grids["t-1"]
	require.NotNil(t, stored)
	assert.Equal(t, models.SlotUnavailable, stored.Slot(0, 0).Status)
}

func TestAvailabilityServiceUpdateKeepsAssignedEcho(t *testing.T) {
	txProv, mock := newTimetableTxMock(t)
	stored := models.NewFreeGrid()
	stored.SetSlot(0, 0, models.AvailabilitySlot{Day: 0, Period: 0, Status: models.SlotAssigned, Assignment: scheduleAssignment()})
	repo := &availabilityStoreStub{grids: map[string]models.AvailabilityGrid{"t-1": stored}}
	catalog := availabilityCatalogStub{teachers: map[string]models.Teacher{
		"t-1": {ID: "t-1", FullName: "Siti Rahma", Active: true},
	}}
	service := NewAvailabilityService(repo, catalog, txProv, validator.New(), zap.NewNop())

	// Echo the assigned cell untouched, flip another one.
	declared := stored.Clone()
	declared.SetSlot(0, 1, models.AvailabilitySlot{Day: 0, Period: 1, Status: models.SlotUnavailable})

	mock.ExpectBegin()
	mock.ExpectCommit()
	resp, err := service.Update(context.Background(), "t-1", dto.UpdateAvailabilityRequest{Slots: declarationFrom(declared)})
	require.NoError(t, err)
	assert.Equal(t, models.SlotAssigned, resp.Slots.Slot(0, 0).Status)
	require.NotNil(t, resp.Slots.Slot(0, 0).Assignment, "assignment provenance must survive a declaration update")
	assert.Equal(t, models.SlotUnavailable, resp.Slots.Slot(0, 1).Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityServiceUpdateBlockedByPublishedSchedule(t *testing.T) {
	txProv, mock := newTimetableTxMock(t)
	stored := models.NewFreeGrid()
	stored.SetSlot(2, 3, models.AvailabilitySlot{Day: 2, Period: 3, Status: models.SlotAssigned, Assignment: scheduleAssignment()})
	repo := &availabilityStoreStub{grids: map[string]models.AvailabilityGrid{"t-1": stored}}
	catalog := availabilityCatalogStub{teachers: map[string]models.Teacher{
		"t-1": {ID: "t-1", FullName: "Siti Rahma", Active: true},
	}}
	service := NewAvailabilityService(repo, catalog, txProv, validator.New(), zap.NewNop())

	// Declaring a consumed cell free is refused whole.
	declared := models.NewFreeGrid()

	mock.ExpectBegin()
	mock.ExpectRollback()
	_, err := service.Update(context.Background(), "t-1", dto.UpdateAvailabilityRequest{Slots: declarationFrom(declared)})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	blocked, ok := appErr.Details.([]models.AvailabilityConflictCell)
	require.True(t, ok)
	require.Len(t, blocked, 1)
	assert.Equal(t, 2, blocked[0].Day)
	assert.Equal(t, 3, blocked[0].Period)
	assert.NoError(t, mock.ExpectationsWereMet())

	// Stored state is untouched.
	assert.Equal(t, models.SlotAssigned, repo.grids["t-1"].Slot(2, 3).Status)
}

func TestAvailabilityServiceUpdateRejectsDeclaredAssigned(t *testing.T) {
	txProv, mock := newTimetableTxMock(t)
	repo := &availabilityStoreStub{grids: map[string]models.AvailabilityGrid{}}
	catalog := availabilityCatalogStub{teachers: map[string]models.Teacher{
		"t-1": {ID: "t-1", FullName: "Siti Rahma", Active: true},
	}}
	service := NewAvailabilityService(repo, catalog, txProv, validator.New(), zap.NewNop())

	declared := models.NewFreeGrid()
	declared.SetSlot(1, 2, models.AvailabilitySlot{Day: 1, Period: 2, Status: models.SlotAssigned, Assignment: scheduleAssignment()})

	mock.ExpectBegin()
	mock.ExpectRollback()
	_, err := service.Update(context.Background(), "t-1", dto.UpdateAvailabilityRequest{Slots: declarationFrom(declared)})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityServiceUpdateRejectsMalformedGrid(t *testing.T) {
	repo := &availabilityStoreStub{grids: map[string]models.AvailabilityGrid{}}
	catalog := availabilityCatalogStub{teachers: map[string]models.Teacher{
		"t-1": {ID: "t-1", FullName: "Siti Rahma", Active: true},
	}}
	service := NewAvailabilityService(repo, catalog, nil, validator.New(), zap.NewNop())

	t.Run("truncated", func(t *testing.T) {
		short := declarationFrom(models.NewFreeGrid())[:29]
		_, err := service.Update(context.Background(), "t-1", dto.UpdateAvailabilityRequest{Slots: short})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	})

	t.Run("shuffled coordinates", func(t *testing.T) {
		shuffled := declarationFrom(models.NewFreeGrid())
		shuffled[0], shuffled[1] = shuffled[1], shuffled[0]
		_, err := service.Update(context.Background(), "t-1", dto.UpdateAvailabilityRequest{Slots: shuffled})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	})
}

func TestAvailabilityServiceClassSummary(t *testing.T) {
	busy := models.NewFreeGrid()
	busy.SetSlot(0, 0, models.AvailabilitySlot{Day: 0, Period: 0, Status: models.SlotAssigned, Assignment: scheduleAssignment()})
	busy.SetSlot(0, 1, models.AvailabilitySlot{Day: 0, Period: 1, Status: models.SlotUnavailable})
	busy.SetSlot(0, 2, models.AvailabilitySlot{Day: 0, Period: 2, Status: models.SlotUnavailable})

	repo := &availabilityStoreStub{grids: map[string]models.AvailabilityGrid{"t-1": busy}}
	catalog := availabilityCatalogStub{
		teachers: map[string]models.Teacher{
			"t-1": {ID: "t-1", FullName: "Siti Rahma", Active: true},
			"t-2": {ID: "t-2", FullName: "Budi Santoso", Active: true},
		},
		assignments: []models.TeacherAssignment{
			{ID: "asg-1", TeacherID: "t-1", ClassID: "class-10a", SubjectID: "sub-1"},
			{ID: "asg-2", TeacherID: "t-1", ClassID: "class-10a", SubjectID: "sub-2"},
			{ID: "asg-3", TeacherID: "t-2", ClassID: "class-10a", SubjectID: "sub-3"},
		},
	}
	service := NewAvailabilityService(repo, catalog, nil, validator.New(), zap.NewNop())

	resp, err := service.ClassSummary(context.Background(), dto.AvailabilitySummaryQuery{ClassID: "class-10a"})
	require.NoError(t, err)
	require.Len(t, resp.Teachers, 2, "duplicate assignments collapse to one row per teacher")

	assert.Equal(t, "t-1", resp.Teachers[0].TeacherID)
	assert.Equal(t, 27, resp.Teachers[0].FreeCount)
	assert.Equal(t, 1, resp.Teachers[0].AssignedCount)
	assert.Equal(t, 2, resp.Teachers[0].UnavailableCount)

	// A teacher with no stored grid reads as fully free.
	assert.Equal(t, "t-2", resp.Teachers[1].TeacherID)
	assert.Equal(t, models.SlotsPerWeek, resp.Teachers[1].FreeCount)
}

func TestAvailabilityServiceClassSummaryNoAssignments(t *testing.T) {
	repo := &availabilityStoreStub{grids: map[string]models.AvailabilityGrid{}}
	service := NewAvailabilityService(repo, availabilityCatalogStub{}, nil, validator.New(), zap.NewNop())

	resp, err := service.ClassSummary(context.Background(), dto.AvailabilitySummaryQuery{ClassID: "class-empty"})
	require.NoError(t, err)
	assert.Empty(t, resp.Teachers)
}
