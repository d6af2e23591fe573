package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

type constraintStore interface {
	Create(ctx context.Context, constraint *models.ScheduleConstraint) error
	FindByID(ctx context.Context, id string) (*models.ScheduleConstraint, error)
	List(ctx context.Context, filter models.ConstraintFilter) ([]models.ScheduleConstraint, error)
	Update(ctx context.Context, constraint *models.ScheduleConstraint) error
	Delete(ctx context.Context, id string) error
}

// ConstraintService manages the structural rules generation runs consume.
// Edits only influence future runs; published grids are never re-checked
// retroactively here (the conflict resolver reports on those).
type ConstraintService struct {
	repo      constraintStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewConstraintService wires the constraint dependencies.
func NewConstraintService(repo constraintStore, validate *validator.Validate, logger *zap.Logger) *ConstraintService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConstraintService{repo: repo, validator: validate, logger: logger}
}

// Create registers a rule after shape validation.
func (s *ConstraintService) Create(ctx context.Context, req dto.CreateConstraintRequest) (*models.ScheduleConstraint, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid constraint payload")
	}
	constraint := &models.ScheduleConstraint{
		AcademicYearID:       req.AcademicYearID,
		Type:                 models.ConstraintType(req.Type),
		ClassID:              req.ClassID,
		SubjectID:            req.SubjectID,
		TeacherID:            req.TeacherID,
		Day:                  req.Day,
		Period:               req.Period,
		PeriodRangeStart:     req.PeriodRangeStart,
		PeriodRangeEnd:       req.PeriodRangeEnd,
		MaxConsecutive:       req.MaxConsecutive,
		MinBreak:             req.MinBreak,
		AppliesToAllSections: req.AppliesToAllSections,
		SessionType:          req.SessionType,
		Priority:             req.Priority,
		Description:          req.Description,
		Active:               true,
	}
	if req.Active != nil {
		constraint.Active = *req.Active
	}
	if err := checkRuleShape(constraint); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, constraint); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create constraint")
	}
	s.logger.Info("constraint created",
		zap.String("constraintId", constraint.ID),
		zap.String("type", string(constraint.Type)),
		zap.Int("priority", constraint.Priority))
	return constraint, nil
}

// Get returns one rule.
func (s *ConstraintService) Get(ctx context.Context, id string) (*models.ScheduleConstraint, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "constraint id is required")
	}
	constraint, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "constraint not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load constraint")
	}
	return constraint, nil
}

// List returns the rules matching the filter, highest priority first.
func (s *ConstraintService) List(ctx context.Context, query dto.ConstraintQuery) ([]models.ScheduleConstraint, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid constraint query")
	}
	constraints, err := s.repo.List(ctx, models.ConstraintFilter{
		AcademicYearID: query.AcademicYearID,
		ClassID:        query.ClassID,
		SubjectID:      query.SubjectID,
		TeacherID:      query.TeacherID,
		Type:           models.ConstraintType(query.Type),
		ActiveOnly:     query.ActiveOnly,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list constraints")
	}
	return constraints, nil
}

// Update replaces the mutable fields of a rule.
func (s *ConstraintService) Update(ctx context.Context, id string, req dto.UpdateConstraintRequest) (*models.ScheduleConstraint, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "constraint id is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid constraint payload")
	}
	constraint, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "constraint not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load constraint")
	}

	constraint.Type = models.ConstraintType(req.Type)
	constraint.ClassID = req.ClassID
	constraint.SubjectID = req.SubjectID
	constraint.TeacherID = req.TeacherID
	constraint.Day = req.Day
	constraint.Period = req.Period
	constraint.PeriodRangeStart = req.PeriodRangeStart
	constraint.PeriodRangeEnd = req.PeriodRangeEnd
	constraint.MaxConsecutive = req.MaxConsecutive
	constraint.MinBreak = req.MinBreak
	constraint.AppliesToAllSections = req.AppliesToAllSections
	constraint.SessionType = req.SessionType
	constraint.Priority = req.Priority
	constraint.Description = req.Description
	if req.Active != nil {
		constraint.Active = *req.Active
	}
	if err := checkRuleShape(constraint); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, constraint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "constraint not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update constraint")
	}
	return constraint, nil
}

// Delete removes a rule.
func (s *ConstraintService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return appErrors.Clone(appErrors.ErrValidation, "constraint id is required")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "constraint not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete constraint")
	}
	s.logger.Info("constraint deleted", zap.String("constraintId", id))
	return nil
}

// checkRuleShape enforces cross-field rules the struct tags cannot express.
func checkRuleShape(c *models.ScheduleConstraint) error {
	if c.PeriodRangeStart != nil && c.PeriodRangeEnd != nil && *c.PeriodRangeStart > *c.PeriodRangeEnd {
		return appErrors.Clone(appErrors.ErrValidation, "periodRangeStart must not exceed periodRangeEnd")
	}
	switch c.Type {
	case models.ConstraintForbidden:
		if c.Day == nil && c.Period == nil && c.PeriodRangeStart == nil && c.PeriodRangeEnd == nil {
			return appErrors.Clone(appErrors.ErrValidation, "forbidden rules need a day, period, or period range; an unscoped rule would exclude the whole week")
		}
	case models.ConstraintRequired:
		if c.Period == nil && c.PeriodRangeStart == nil && c.PeriodRangeEnd == nil {
			return appErrors.Clone(appErrors.ErrValidation, "required rules need a period or period range to confine placements to")
		}
	case models.ConstraintMaxConsecutive:
		if c.MaxConsecutive == nil {
			return appErrors.Clone(appErrors.ErrValidation, "max_consecutive rules need maxConsecutive")
		}
	case models.ConstraintMinBreak:
		if c.MinBreak == nil {
			return appErrors.Clone(appErrors.ErrValidation, "min_break rules need minBreak")
		}
	}
	return nil
}
