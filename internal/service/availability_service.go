package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

type availabilityRepository interface {
	GetByTeacher(ctx context.Context, teacherID string) (*models.TeacherAvailability, error)
	GetByTeacherForUpdate(ctx context.Context, exec sqlx.ExtContext, teacherID string) (*models.TeacherAvailability, error)
	ListByTeachers(ctx context.Context, teacherIDs []string) (map[string]models.AvailabilityGrid, error)
	Save(ctx context.Context, exec sqlx.ExtContext, teacherID string, grid models.AvailabilityGrid) error
}

type availabilityCatalog interface {
	GetTeacher(ctx context.Context, teacherID string) (*models.Teacher, error)
	ListAssignmentsByClass(ctx context.Context, classID string) ([]models.TeacherAssignment, error)
	ListTeachersByIDs(ctx context.Context, teacherIDs []string) (map[string]models.Teacher, error)
}

// AvailabilityService owns teacher self-declaration of weekly availability.
// Assigned cells belong to the published schedules that consumed them and can
// only change through publish and delete, never through this service.
type AvailabilityService struct {
	repo      availabilityRepository
	catalog   availabilityCatalog
	tx        txProvider
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAvailabilityService wires the availability dependencies.
func NewAvailabilityService(repo availabilityRepository, catalog availabilityCatalog, tx txProvider, validate *validator.Validate, logger *zap.Logger) *AvailabilityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{repo: repo, catalog: catalog, tx: tx, validator: validate, logger: logger}
}

// GetByTeacher returns a teacher's grid, defaulting to all-free when the
// teacher has never declared one.
func (s *AvailabilityService) GetByTeacher(ctx context.Context, teacherID string) (*dto.AvailabilityResponse, error) {
	if teacherID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher id is required")
	}
	teacher, err := s.catalog.GetTeacher(ctx, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}

	availability, err := s.repo.GetByTeacher(ctx, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &dto.AvailabilityResponse{
				TeacherID:   teacherID,
				TeacherName: teacher.FullName,
				UpdatedAt:   time.Time{},
				Slots:       models.NewFreeGrid(),
			}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability")
	}
	return &dto.AvailabilityResponse{
		TeacherID:   teacherID,
		TeacherName: teacher.FullName,
		UpdatedAt:   availability.UpdatedAt,
		Slots:       availability.Grid,
	}, nil
}

// Update replaces the free/unavailable declaration of a teacher's grid.
// Slots consumed by a published schedule are immutable here: a request that
// touches one is refused whole, so a teacher can never free a cell out from
// under a live timetable.
func (s *AvailabilityService) Update(ctx context.Context, teacherID string, req dto.UpdateAvailabilityRequest) (*dto.AvailabilityResponse, error) {
	if teacherID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher id is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability payload")
	}
	incoming := models.AvailabilityGrid(req.Slots)
	if err := incoming.Validate(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability grid")
	}

	teacher, err := s.catalog.GetTeacher(ctx, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current := models.NewFreeGrid()
	stored, loadErr := s.repo.GetByTeacherForUpdate(ctx, tx, teacherID)
	switch {
	case loadErr == nil:
		current = stored.Grid
	case errors.Is(loadErr, sql.ErrNoRows):
	default:
		err = appErrors.Wrap(loadErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock availability")
		return nil, err
	}

	// Assigned cells may be echoed back unchanged; declaring one free or
	// unavailable is an explicit flip attempt and fails the whole request.
	// Declaring assigned on a cell that is not is equally invalid.
	merged := current.Clone()
	blocked := make([]models.AvailabilityConflictCell, 0)
	for i, slot := range incoming {
		existing := merged[i]
		if existing.Status == models.SlotAssigned {
			if slot.Status != models.SlotAssigned {
				blocked = append(blocked, models.AvailabilityConflictCell{
					TeacherID: teacherID,
					Day:       existing.Day,
					Period:    existing.Period,
					Status:    existing.Status,
				})
			}
			continue
		}
		if slot.Status == models.SlotAssigned {
			err = appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("slot day %d period %d: assigned status is set by publishing, not by declaration", existing.Day, existing.Period))
			return nil, err
		}
		merged[i] = models.AvailabilitySlot{Day: existing.Day, Period: existing.Period, Status: slot.Status}
	}
	if len(blocked) > 0 {
		err = appErrors.WithDetails(appErrors.ErrConflict,
			fmt.Sprintf("%d slot(s) are consumed by a published schedule; delete that schedule to release them", len(blocked)),
			blocked)
		return nil, err
	}

	if err = s.repo.Save(ctx, tx, teacherID, merged); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save availability")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit availability update")
		return nil, err
	}

	s.logger.Info("teacher availability updated",
		zap.String("teacherId", teacherID),
		zap.Int("free", merged.FreeCount()))
	return &dto.AvailabilityResponse{
		TeacherID:   teacherID,
		TeacherName: teacher.FullName,
		UpdatedAt:   time.Now().UTC(),
		Slots:       merged,
	}, nil
}

// ClassSummary tallies grid status counts for every teacher assigned to a
// class, the view planners check before attempting a generation.
func (s *AvailabilityService) ClassSummary(ctx context.Context, query dto.AvailabilitySummaryQuery) (*dto.AvailabilitySummaryResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid summary query")
	}
	assignments, err := s.catalog.ListAssignmentsByClass(ctx, query.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher assignments")
	}
	response := &dto.AvailabilitySummaryResponse{
		ClassID:  query.ClassID,
		Teachers: []models.AvailabilitySummary{},
	}
	if len(assignments) == 0 {
		return response, nil
	}

	teacherIDs := make([]string, 0, len(assignments))
	seen := make(map[string]bool, len(assignments))
	for _, assignment := range assignments {
		if seen[assignment.TeacherID] {
			continue
		}
		seen[assignment.TeacherID] = true
		teacherIDs = append(teacherIDs, assignment.TeacherID)
	}

	teachers, err := s.catalog.ListTeachersByIDs(ctx, teacherIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teachers")
	}
	grids, err := s.repo.ListByTeachers(ctx, teacherIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability")
	}

	for _, teacherID := range teacherIDs {
		grid, ok := grids[teacherID]
		if !ok {
			grid = models.NewFreeGrid()
		}
		counts := grid.CountByStatus()
		response.Teachers = append(response.Teachers, models.AvailabilitySummary{
			TeacherID:        teacherID,
			TeacherName:      teachers[teacherID].FullName,
			FreeCount:        counts[models.SlotFree],
			AssignedCount:    counts[models.SlotAssigned],
			UnavailableCount: counts[models.SlotUnavailable],
		})
	}
	return response, nil
}
