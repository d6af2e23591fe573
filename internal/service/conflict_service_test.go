package service

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

type conflictCellSourceStub struct {
	cells []models.ScheduleCell
}

func (s conflictCellSourceStub) ListByScope(ctx context.Context, academicYearID string, session models.SessionType) ([]models.ScheduleCell, error) {
	return s.cells, nil
}

func publishedCell(id, classID, section string, day, period int, subjectID, teacherID string) models.ScheduleCell {
	return models.ScheduleCell{
		ID:             id,
		AcademicYearID: "ay-2026",
		SessionType:    models.SessionMorning,
		ClassID:        classID,
		Section:        section,
		Day:            day,
		Period:         period,
		SubjectID:      subjectID,
		TeacherID:      teacherID,
		ScheduleName:   "Term 1 v1",
	}
}

// consistentGrids builds availability where every published cell is assigned
// to exactly the grid that consumed it.
func consistentGrids(cells []models.ScheduleCell) map[string]models.AvailabilityGrid {
	grids := make(map[string]models.AvailabilityGrid)
	for _, cell := range cells {
		grid, ok := grids[cell.TeacherID]
		if !ok {
			grid = models.NewFreeGrid()
			grids[cell.TeacherID] = grid
		}
		grid.SetSlot(cell.Day, cell.Period, models.AvailabilitySlot{
			Day:    cell.Day,
			Period: cell.Period,
			Status: models.SlotAssigned,
			Assignment: &models.SlotAssignment{
				AcademicYearID: cell.AcademicYearID,
				SessionType:    cell.SessionType,
				ClassID:        cell.ClassID,
				Section:        cell.Section,
				SubjectID:      cell.SubjectID,
				ScheduleName:   cell.ScheduleName,
			},
		})
	}
	return grids
}

func newConflictFixture(cells []models.ScheduleCell, constraints []models.ScheduleConstraint, grids map[string]models.AvailabilityGrid) *ConflictService {
	teachers := map[string]models.Teacher{
		"t-1": {ID: "t-1", FullName: "Siti Rahma", Active: true},
		"t-2": {ID: "t-2", FullName: "Budi Santoso", Active: true},
	}
	return NewConflictService(
		conflictCellSourceStub{cells: cells},
		constraintSourceStub{items: constraints},
		&availabilityStoreStub{grids: grids},
		availabilityCatalogStub{teachers: teachers},
		validator.New(),
		zap.NewNop(),
	)
}

func conflictKinds(resp *dto.ConflictResponse) map[models.ConflictKind]int {
	kinds := make(map[models.ConflictKind]int)
	for _, c := range resp.Conflicts {
		kinds[c.Kind]++
	}
	return kinds
}

func TestConflictServiceCleanScope(t *testing.T) {
	cells := []models.ScheduleCell{
		publishedCell("c1", "class-10a", "A", 0, 0, "sub-1", "t-1"),
		publishedCell("c2", "class-10a", "A", 0, 1, "sub-2", "t-2"),
	}
	service := newConflictFixture(cells, nil, consistentGrids(cells))

	resp, err := service.Resolve(context.Background(), dto.ConflictQuery{
		AcademicYearID: "ay-2026",
		SessionType:    "morning",
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Conflicts)
}

func TestConflictServiceEmptyScope(t *testing.T) {
	service := newConflictFixture(nil, nil, nil)

	resp, err := service.Resolve(context.Background(), dto.ConflictQuery{
		AcademicYearID: "ay-2026",
		SessionType:    "morning",
	})
	require.NoError(t, err)
	assert.NotNil(t, resp.Conflicts)
	assert.Empty(t, resp.Conflicts)
}

func TestConflictServiceRejectsQuery(t *testing.T) {
	service := newConflictFixture(nil, nil, nil)

	_, err := service.Resolve(context.Background(), dto.ConflictQuery{SessionType: "morning"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestConflictServiceTeacherOverlap(t *testing.T) {
	// The same teacher holds (0,0) in two different classes. Availability can
	// only trace one of them, so the scan reports the overlap plus one desync.
	cells := []models.ScheduleCell{
		publishedCell("c1", "class-10a", "A", 0, 0, "sub-1", "t-1"),
		publishedCell("c2", "class-11b", "A", 0, 0, "sub-9", "t-1"),
	}
	grids := consistentGrids(cells[:1])
	service := newConflictFixture(cells, nil, grids)

	resp, err := service.Resolve(context.Background(), dto.ConflictQuery{
		AcademicYearID: "ay-2026",
		SessionType:    "morning",
	})
	require.NoError(t, err)
	kinds := conflictKinds(resp)
	assert.Equal(t, 1, kinds[models.ConflictTeacherOverlap])
	assert.Equal(t, 1, kinds[models.ConflictAvailabilityDesync])

	for _, conflict := range resp.Conflicts {
		if conflict.Kind == models.ConflictTeacherOverlap {
			assert.Equal(t, "t-1", conflict.TeacherID)
			assert.Equal(t, "Siti Rahma", conflict.TeacherName)
			assert.Len(t, conflict.CellIDs, 2)
		}
	}
}

func TestConflictServiceClassFilterKeepsScopeOverlaps(t *testing.T) {
	// Filtering on class-10a still reports the cross-class double booking,
	// but constraint and desync checks no longer cover class-11b's cells.
	cells := []models.ScheduleCell{
		publishedCell("c1", "class-10a", "A", 0, 0, "sub-1", "t-1"),
		publishedCell("c2", "class-11b", "A", 0, 0, "sub-9", "t-1"),
	}
	grids := consistentGrids(cells[:1])
	service := newConflictFixture(cells, nil, grids)

	resp, err := service.Resolve(context.Background(), dto.ConflictQuery{
		AcademicYearID: "ay-2026",
		SessionType:    "morning",
		ClassID:        "class-10a",
	})
	require.NoError(t, err)
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, models.ConflictTeacherOverlap, resp.Conflicts[0].Kind)
}

func TestConflictServiceConstraintViolation(t *testing.T) {
	cells := []models.ScheduleCell{
		publishedCell("c1", "class-10a", "A", 0, 0, "sub-1", "t-1"),
	}
	subjectID := "sub-1"
	day := 0
	constraints := []models.ScheduleConstraint{{
		ID:             "con-forbid",
		AcademicYearID: "ay-2026",
		Type:           models.ConstraintForbidden,
		SubjectID:      &subjectID,
		Day:            &day,
		SessionType:    "both",
		Priority:       3,
		Active:         true,
	}}
	service := newConflictFixture(cells, constraints, consistentGrids(cells))

	resp, err := service.Resolve(context.Background(), dto.ConflictQuery{
		AcademicYearID: "ay-2026",
		SessionType:    "morning",
	})
	require.NoError(t, err)
	require.Len(t, resp.Conflicts, 1)
	conflict := resp.Conflicts[0]
	assert.Equal(t, models.ConflictConstraintViolation, conflict.Kind)
	assert.Equal(t, "con-forbid", conflict.ConstraintID)
	assert.Equal(t, []string{"c1"}, conflict.CellIDs)
}

func TestConflictServiceMaxConsecutive(t *testing.T) {
	cells := []models.ScheduleCell{
		publishedCell("c1", "class-10a", "A", 0, 0, "sub-1", "t-1"),
		publishedCell("c2", "class-10a", "A", 0, 1, "sub-1", "t-1"),
		publishedCell("c3", "class-10a", "A", 0, 2, "sub-1", "t-1"),
	}
	subjectID := "sub-1"
	limit := 2
	constraints := []models.ScheduleConstraint{{
		ID:             "con-pace",
		AcademicYearID: "ay-2026",
		Type:           models.ConstraintMaxConsecutive,
		SubjectID:      &subjectID,
		MaxConsecutive: &limit,
		SessionType:    "morning",
		Priority:       2,
		Active:         true,
	}}
	service := newConflictFixture(cells, constraints, consistentGrids(cells))

	resp, err := service.Resolve(context.Background(), dto.ConflictQuery{
		AcademicYearID: "ay-2026",
		SessionType:    "morning",
	})
	require.NoError(t, err)
	require.Len(t, resp.Conflicts, 1)
	conflict := resp.Conflicts[0]
	assert.Equal(t, models.ConflictConstraintViolation, conflict.Kind)
	assert.Equal(t, "con-pace", conflict.ConstraintID)
	assert.Equal(t, 0, conflict.Period)
	assert.Len(t, conflict.CellIDs, 3)
}

func TestConflictServiceMinBreak(t *testing.T) {
	cells := []models.ScheduleCell{
		publishedCell("c1", "class-10a", "A", 0, 0, "sub-1", "t-1"),
		publishedCell("c2", "class-10a", "A", 0, 1, "sub-1", "t-1"),
		publishedCell("c3", "class-10a", "A", 0, 2, "sub-2", "t-2"),
		publishedCell("c4", "class-10a", "A", 0, 3, "sub-1", "t-1"),
	}
	subjectID := "sub-1"
	gap := 2
	constraints := []models.ScheduleConstraint{{
		ID:             "con-break",
		AcademicYearID: "ay-2026",
		Type:           models.ConstraintMinBreak,
		SubjectID:      &subjectID,
		MinBreak:       &gap,
		SessionType:    "morning",
		Priority:       2,
		Active:         true,
	}}
	service := newConflictFixture(cells, constraints, consistentGrids(cells))

	resp, err := service.Resolve(context.Background(), dto.ConflictQuery{
		AcademicYearID: "ay-2026",
		SessionType:    "morning",
	})
	require.NoError(t, err)
	require.Len(t, resp.Conflicts, 1)
	conflict := resp.Conflicts[0]
	assert.Equal(t, models.ConflictConstraintViolation, conflict.Kind)
	assert.Equal(t, "con-break", conflict.ConstraintID)
	assert.Equal(t, 3, conflict.Period)
}

func TestConflictServiceAvailabilityDesync(t *testing.T) {
	cells := []models.ScheduleCell{
		publishedCell("c1", "class-10a", "A", 0, 0, "sub-1", "t-1"),
		publishedCell("c2", "class-10a", "A", 0, 1, "sub-2", "t-2"),
	}
	// t-1's grid says the slot is still free; t-2 has no grid at all.
	grids := map[string]models.AvailabilityGrid{"t-1": models.NewFreeGrid()}
	service := newConflictFixture(cells, nil, grids)

	resp, err := service.Resolve(context.Background(), dto.ConflictQuery{
		AcademicYearID: "ay-2026",
		SessionType:    "morning",
	})
	require.NoError(t, err)
	require.Len(t, resp.Conflicts, 2)
	for _, conflict := range resp.Conflicts {
		assert.Equal(t, models.ConflictAvailabilityDesync, conflict.Kind)
	}
	assert.Contains(t, resp.Conflicts[0].Description, `availability says "free"`)
	assert.Contains(t, resp.Conflicts[1].Description, "no availability row")
}
