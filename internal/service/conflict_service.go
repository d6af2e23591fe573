package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

type conflictCellSource interface {
	ListByScope(ctx context.Context, academicYearID string, session models.SessionType) ([]models.ScheduleCell, error)
}

type conflictConstraintSource interface {
	List(ctx context.Context, filter models.ConstraintFilter) ([]models.ScheduleConstraint, error)
}

type conflictAvailabilitySource interface {
	ListByTeachers(ctx context.Context, teacherIDs []string) (map[string]models.AvailabilityGrid, error)
}

type conflictCatalog interface {
	ListTeachersByIDs(ctx context.Context, teacherIDs []string) (map[string]models.Teacher, error)
}

// ConflictService diagnoses published grids. Generation guarantees a clean
// batch at publish time, but constraints edited afterwards, imports, or
// manual interventions can leave published data contradicting current rules;
// this resolver reports every such contradiction without modifying anything.
type ConflictService struct {
	cells        conflictCellSource
	constraints  conflictConstraintSource
	availability conflictAvailabilitySource
	catalog      conflictCatalog
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewConflictService wires the resolver dependencies.
func NewConflictService(cells conflictCellSource, constraints conflictConstraintSource, availability conflictAvailabilitySource, catalog conflictCatalog, validate *validator.Validate, logger *zap.Logger) *ConflictService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictService{
		cells:        cells,
		constraints:  constraints,
		availability: availability,
		catalog:      catalog,
		validator:    validate,
		logger:       logger,
	}
}

// Resolve scans a year/session scope for teacher overlaps, rule violations,
// and availability desyncs. Overlap detection always spans the whole scope
// even when a class filter narrows the report, since a teacher's double
// booking by definition involves a second class.
func (s *ConflictService) Resolve(ctx context.Context, query dto.ConflictQuery) (*dto.ConflictResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid conflict query")
	}
	session := models.SessionType(query.SessionType)

	scopeCells, err := s.cells.ListByScope(ctx, query.AcademicYearID, session)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load published cells")
	}
	if len(scopeCells) == 0 {
		return &dto.ConflictResponse{Conflicts: []models.ConflictDetail{}}, nil
	}

	targetCells := scopeCells
	if query.ClassID != "" {
		targetCells = make([]models.ScheduleCell, 0, len(scopeCells))
		for _, cell := range scopeCells {
			if cell.ClassID == query.ClassID {
				targetCells = append(targetCells, cell)
			}
		}
	}

	teachers, err := s.catalog.ListTeachersByIDs(ctx, distinctTeacherIDs(scopeCells))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teachers")
	}

	conflicts := make([]models.ConflictDetail, 0)
	conflicts = append(conflicts, s.findTeacherOverlaps(scopeCells, query.ClassID, teachers)...)

	constraints, err := s.constraints.List(ctx, models.ConstraintFilter{AcademicYearID: query.AcademicYearID, ActiveOnly: true})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load constraints")
	}
	conflicts = append(conflicts, findConstraintViolations(targetCells, constraints, session, teachers)...)

	desyncs, err := s.findAvailabilityDesyncs(ctx, targetCells, teachers)
	if err != nil {
		return nil, err
	}
	conflicts = append(conflicts, desyncs...)

	sort.SliceStable(conflicts, func(i, j int) bool {
		if conflicts[i].Day != conflicts[j].Day {
			return conflicts[i].Day < conflicts[j].Day
		}
		if conflicts[i].Period != conflicts[j].Period {
			return conflicts[i].Period < conflicts[j].Period
		}
		if conflicts[i].Kind != conflicts[j].Kind {
			return conflicts[i].Kind < conflicts[j].Kind
		}
		return conflicts[i].TeacherID < conflicts[j].TeacherID
	})

	if len(conflicts) > 0 {
		s.logger.Info("conflict scan found violations",
			zap.String("academicYearId", query.AcademicYearID),
			zap.String("sessionType", query.SessionType),
			zap.Int("conflicts", len(conflicts)))
	}
	return &dto.ConflictResponse{Conflicts: conflicts}, nil
}

func (s *ConflictService) findTeacherOverlaps(scopeCells []models.ScheduleCell, classFilter string, teachers map[string]models.Teacher) []models.ConflictDetail {
	type slotKey struct {
		teacherID string
		day       int
		period    int
	}
	bySlot := make(map[slotKey][]models.ScheduleCell)
	for _, cell := range scopeCells {
		key := slotKey{teacherID: cell.TeacherID, day: cell.Day, period: cell.Period}
		bySlot[key] = append(bySlot[key], cell)
	}

	keys := make([]slotKey, 0, len(bySlot))
	for key := range bySlot {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].day != keys[j].day {
			return keys[i].day < keys[j].day
		}
		if keys[i].period != keys[j].period {
			return keys[i].period < keys[j].period
		}
		return keys[i].teacherID < keys[j].teacherID
	})

	conflicts := make([]models.ConflictDetail, 0)
	for _, key := range keys {
		group := bySlot[key]
		if len(group) < 2 {
			continue
		}
		if classFilter != "" && !anyCellOfClass(group, classFilter) {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if group[i].ClassID != group[j].ClassID {
				return group[i].ClassID < group[j].ClassID
			}
			return group[i].Section < group[j].Section
		})
		cellIDs := make([]string, 0, len(group))
		grids := make([]string, 0, len(group))
		for _, cell := range group {
			cellIDs = append(cellIDs, cell.ID)
			grids = append(grids, fmt.Sprintf("%s/%s", cell.ClassID, cell.Section))
		}
		conflicts = append(conflicts, models.ConflictDetail{
			Kind:        models.ConflictTeacherOverlap,
			Day:         key.day,
			Period:      key.period,
			TeacherID:   key.teacherID,
			TeacherName: teachers[key.teacherID].FullName,
			CellIDs:     cellIDs,
			Description: fmt.Sprintf("teacher is booked in %d grids at once: %s", len(group), strings.Join(grids, ", ")),
		})
	}
	return conflicts
}

func anyCellOfClass(cells []models.ScheduleCell, classID string) bool {
	for _, cell := range cells {
		if cell.ClassID == classID {
			return true
		}
	}
	return false
}

// findConstraintViolations re-checks published cells against the rules as
// they stand now, including the pacing rules generation treats as advisory.
func findConstraintViolations(cells []models.ScheduleCell, constraints []models.ScheduleConstraint, session models.SessionType, teachers map[string]models.Teacher) []models.ConflictDetail {
	conflicts := make([]models.ConflictDetail, 0)

	for _, cell := range cells {
		for _, constraint := range constraints {
			if !constraint.Active || !constraint.AppliesToSession(session) {
				continue
			}
			if !constraint.MatchesTarget(cell.ClassID, cell.SubjectID, cell.TeacherID) {
				continue
			}
			if constraint.ForbidsSlot(cell.Day, cell.Period) {
				conflicts = append(conflicts, models.ConflictDetail{
					Kind:         models.ConflictConstraintViolation,
					Day:          cell.Day,
					Period:       cell.Period,
					TeacherID:    cell.TeacherID,
					TeacherName:  teachers[cell.TeacherID].FullName,
					SubjectID:    cell.SubjectID,
					ConstraintID: constraint.ID,
					CellIDs:      []string{cell.ID},
					Description:  fmt.Sprintf("cell sits in a slot forbidden by rule %s", constraint.ID),
				})
			}
			if !constraint.AllowsPeriod(cell.Period) {
				conflicts = append(conflicts, models.ConflictDetail{
					Kind:         models.ConflictConstraintViolation,
					Day:          cell.Day,
					Period:       cell.Period,
					TeacherID:    cell.TeacherID,
					TeacherName:  teachers[cell.TeacherID].FullName,
					SubjectID:    cell.SubjectID,
					ConstraintID: constraint.ID,
					CellIDs:      []string{cell.ID},
					Description:  fmt.Sprintf("cell falls outside the window required by rule %s", constraint.ID),
				})
			}
		}
	}

	conflicts = append(conflicts, findPacingViolations(cells, constraints, session)...)
	return conflicts
}

// findPacingViolations checks max_consecutive and min_break over each
// section's day rows. A run is a maximal streak of periods whose cells match
// the rule's scope.
func findPacingViolations(cells []models.ScheduleCell, constraints []models.ScheduleConstraint, session models.SessionType) []models.ConflictDetail {
	type dayKey struct {
		identity models.GridIdentity
		day      int
	}
	byDay := make(map[dayKey][]models.ScheduleCell)
	dayKeys := make([]dayKey, 0)
	for _, cell := range cells {
		key := dayKey{identity: cell.Identity(), day: cell.Day}
		if _, seen := byDay[key]; !seen {
			dayKeys = append(dayKeys, key)
		}
		byDay[key] = append(byDay[key], cell)
	}
	sort.Slice(dayKeys, func(i, j int) bool {
		if dayKeys[i].identity != dayKeys[j].identity {
			return dayKeys[i].identity.String() < dayKeys[j].identity.String()
		}
		return dayKeys[i].day < dayKeys[j].day
	})

	conflicts := make([]models.ConflictDetail, 0)
	for _, constraint := range constraints {
		if !constraint.Active || !constraint.AppliesToSession(session) {
			continue
		}
		if constraint.Type != models.ConstraintMaxConsecutive && constraint.Type != models.ConstraintMinBreak {
			continue
		}
		for _, key := range dayKeys {
			row := byDay[key]
			sort.Slice(row, func(i, j int) bool { return row[i].Period < row[j].Period })
			runs := matchingRuns(row, constraint)
			switch constraint.Type {
			case models.ConstraintMaxConsecutive:
				for _, run := range runs {
					length := run.end - run.start + 1
					if constraint.MaxConsecutive == nil || length <= *constraint.MaxConsecutive {
						continue
					}
					conflicts = append(conflicts, models.ConflictDetail{
						Kind:         models.ConflictConstraintViolation,
						Day:          key.day,
						Period:       run.start,
						TeacherID:    run.teacherID,
						SubjectID:    run.subjectID,
						ConstraintID: constraint.ID,
						CellIDs:      run.cellIDs,
						Description:  fmt.Sprintf("%d consecutive periods exceed the limit of %d set by rule %s", length, *constraint.MaxConsecutive, constraint.ID),
					})
				}
			case models.ConstraintMinBreak:
				for i := 1; i < len(runs); i++ {
					gap := runs[i].start - runs[i-1].end - 1
					if constraint.MinBreak == nil || gap >= *constraint.MinBreak {
						continue
					}
					conflicts = append(conflicts, models.ConflictDetail{
						Kind:         models.ConflictConstraintViolation,
						Day:          key.day,
						Period:       runs[i].start,
						TeacherID:    runs[i].teacherID,
						SubjectID:    runs[i].subjectID,
						ConstraintID: constraint.ID,
						CellIDs:      append(append([]string{}, runs[i-1].cellIDs...), runs[i].cellIDs...),
						Description:  fmt.Sprintf("only %d period(s) separate two blocks; rule %s requires %d", gap, constraint.ID, *constraint.MinBreak),
					})
				}
			}
		}
	}
	return conflicts
}

type periodRun struct {
	start     int
	end       int
	subjectID string
	teacherID string
	cellIDs   []string
}

// matchingRuns collapses a sorted day row into maximal streaks of cells the
// rule's scope matches.
func matchingRuns(row []models.ScheduleCell, constraint models.ScheduleConstraint) []periodRun {
	runs := make([]periodRun, 0)
	var current *periodRun
	for _, cell := range row {
		if !constraint.MatchesTarget(cell.ClassID, cell.SubjectID, cell.TeacherID) {
			current = nil
			continue
		}
		if current != nil && cell.Period == current.end+1 {
			current.end = cell.Period
			current.cellIDs = append(current.cellIDs, cell.ID)
			continue
		}
		runs = append(runs, periodRun{
			start:     cell.Period,
			end:       cell.Period,
			subjectID: cell.SubjectID,
			teacherID: cell.TeacherID,
			cellIDs:   []string{cell.ID},
		})
		current = &runs[len(runs)-1]
	}
	return runs
}

func (s *ConflictService) findAvailabilityDesyncs(ctx context.Context, cells []models.ScheduleCell, teachers map[string]models.Teacher) ([]models.ConflictDetail, error) {
	teacherIDs := distinctTeacherIDs(cells)
	if len(teacherIDs) == 0 {
		return []models.ConflictDetail{}, nil
	}
	grids, err := s.availability.ListByTeachers(ctx, teacherIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability")
	}

	conflicts := make([]models.ConflictDetail, 0)
	for _, cell := range cells {
		grid, ok := grids[cell.TeacherID]
		if !ok {
			conflicts = append(conflicts, models.ConflictDetail{
				Kind:        models.ConflictAvailabilityDesync,
				Day:         cell.Day,
				Period:      cell.Period,
				TeacherID:   cell.TeacherID,
				TeacherName: teachers[cell.TeacherID].FullName,
				SubjectID:   cell.SubjectID,
				CellIDs:     []string{cell.ID},
				Description: "teacher has no availability row although a published cell consumes one of their slots",
			})
			continue
		}
		slot := grid.Slot(cell.Day, cell.Period)
		if slot.Status == models.SlotAssigned && slot.Assignment.Matches(cell.Identity()) {
			continue
		}
		conflicts = append(conflicts, models.ConflictDetail{
			Kind:        models.ConflictAvailabilityDesync,
			Day:         cell.Day,
			Period:      cell.Period,
			TeacherID:   cell.TeacherID,
			TeacherName: teachers[cell.TeacherID].FullName,
			SubjectID:   cell.SubjectID,
			CellIDs:     []string{cell.ID},
			Description: fmt.Sprintf("published cell expects the slot to be assigned to it, availability says %q", slot.Status),
		})
	}
	return conflicts, nil
}
