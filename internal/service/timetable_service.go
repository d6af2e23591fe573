package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

type timetableCatalog interface {
	GetClass(ctx context.Context, classID string) (*models.Class, error)
	ListSubjectsByClass(ctx context.Context, classID string) ([]models.Subject, error)
	ListAssignmentsByClass(ctx context.Context, classID string) ([]models.TeacherAssignment, error)
	ListTeachersByIDs(ctx context.Context, teacherIDs []string) (map[string]models.Teacher, error)
}

type availabilityStore interface {
	ListByTeachers(ctx context.Context, teacherIDs []string) (map[string]models.AvailabilityGrid, error)
	GetByTeacherForUpdate(ctx context.Context, exec sqlx.ExtContext, teacherID string) (*models.TeacherAvailability, error)
	Save(ctx context.Context, exec sqlx.ExtContext, teacherID string, grid models.AvailabilityGrid) error
}

type scheduleCellStore interface {
	InsertBatch(ctx context.Context, exec sqlx.ExtContext, cells []models.ScheduleCell) error
	ListByIdentity(ctx context.Context, id models.GridIdentity) ([]models.ScheduleCell, error)
	ListByIdentityForUpdate(ctx context.Context, exec sqlx.ExtContext, id models.GridIdentity) ([]models.ScheduleCell, error)
	DeleteByIdentity(ctx context.Context, exec sqlx.ExtContext, id models.GridIdentity) (int64, error)
	IdentityExists(ctx context.Context, exec sqlx.ExtContext, id models.GridIdentity) (bool, error)
	NameTaken(ctx context.Context, exec sqlx.ExtContext, academicYearID string, session models.SessionType, name, excludeClassID string) (bool, error)
	ListSummaries(ctx context.Context, academicYearID string, session models.SessionType) ([]models.PublishedScheduleSummary, error)
}

type constraintSource interface {
	List(ctx context.Context, filter models.ConstraintFilter) ([]models.ScheduleConstraint, error)
}

type runLog interface {
	Create(ctx context.Context, run *models.GenerationRun) error
	UpdateStatus(ctx context.Context, id string, status models.RunStatus) error
	List(ctx context.Context, filter models.GenerationRunFilter) ([]models.GenerationRun, int, error)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// TimetableService drives the generation workflow: feasibility, preview,
// publish, delete. Previews live in memory under a token until published or
// discarded; only Publish and Delete touch durable state.
type TimetableService struct {
	catalog      timetableCatalog
	availability availabilityStore
	cells        scheduleCellStore
	constraints  constraintSource
	runs         runLog
	tx           txProvider
	cache        *CacheService
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	previews     *previewStore
	locks        *classLocks
	previewTTL   time.Duration
	cacheTTL     time.Duration
}

// TimetableConfig governs preview retention and read caching.
type TimetableConfig struct {
	PreviewTTL time.Duration
	CacheTTL   time.Duration
}

// NewTimetableService wires the workflow dependencies.
func NewTimetableService(
	catalog timetableCatalog,
	availability availabilityStore,
	cells scheduleCellStore,
	constraints constraintSource,
	runs runLog,
	tx txProvider,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg TimetableConfig,
) *TimetableService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PreviewTTL <= 0 {
		cfg.PreviewTTL = 30 * time.Minute
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &TimetableService{
		catalog:      catalog,
		availability: availability,
		cells:        cells,
		constraints:  constraints,
		runs:         runs,
		tx:           tx,
		cache:        cache,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		previews:     newPreviewStore(cfg.PreviewTTL),
		locks:        newClassLocks(),
		previewTTL:   cfg.PreviewTTL,
		cacheTTL:     cfg.CacheTTL,
	}
}

// ValidateFeasibility runs the pre-generation checks without generating.
func (s *TimetableService) ValidateFeasibility(ctx context.Context, req dto.FeasibilityRequest) (*dto.FeasibilityResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid feasibility payload")
	}
	identity := models.GridIdentity{
		AcademicYearID: req.AcademicYearID,
		SessionType:    models.SessionType(req.SessionType),
		ClassID:        req.ClassID,
	}
	inputs, err := s.loadInputs(ctx, identity)
	if err != nil {
		return nil, err
	}
	report := checkFeasibility(inputs.plan, inputs.availability, inputs.constraints, identity.SessionType, inputs.teachers)
	return &dto.FeasibilityResponse{
		Feasible:     report.Feasible,
		Obstructions: report.Obstructions,
		Requirements: inputs.plan.canonical,
	}, nil
}

// GeneratePreview builds candidate grids for every section of a class and
// holds them under a token. Durable state is untouched.
func (s *TimetableService) GeneratePreview(ctx context.Context, req dto.GeneratePreviewRequest) (*dto.PreviewResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generation payload")
	}
	identity := models.GridIdentity{
		AcademicYearID: req.AcademicYearID,
		SessionType:    models.SessionType(req.SessionType),
		ClassID:        req.ClassID,
	}
	key := identity.ClassScope()
	if !s.locks.acquire(key) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "another generation or publish is in flight for this class")
	}
	defer s.locks.release(key)

	preview, err := s.buildBatch(ctx, identity, req.ScheduleName)
	if err != nil {
		return nil, err
	}
	s.previews.Save(*preview)
	return s.previewResponse(preview), nil
}

// GetPreview re-reads a held preview.
func (s *TimetableService) GetPreview(ctx context.Context, token string) (*dto.PreviewResponse, error) {
	if token == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "preview token is required")
	}
	preview, ok := s.previews.Get(token)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "preview not found or expired")
	}
	return s.previewResponse(&preview), nil
}

// DiscardPreview drops a held preview. Nothing was reserved, so there is
// nothing to clean up beyond the token itself.
func (s *TimetableService) DiscardPreview(ctx context.Context, token string) error {
	if token == "" {
		return appErrors.Clone(appErrors.ErrValidation, "preview token is required")
	}
	preview, ok := s.previews.Get(token)
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "preview not found or expired")
	}
	s.previews.Delete(token)
	s.markRun(ctx, preview.RunID, models.RunDiscarded)
	return nil
}

// Publish commits a preview atomically: every cell is persisted and every
// consumed availability cell flips to assigned, or neither happens. Without
// a token it regenerates from the identity fields and publishes in one step.
func (s *TimetableService) Publish(ctx context.Context, req dto.PublishRequest) (*dto.PublishResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid publish payload")
	}

	if req.PreviewToken != "" {
		preview, ok := s.previews.Get(req.PreviewToken)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "preview not found or expired")
		}
		key := preview.Identity.ClassScope()
		if !s.locks.acquire(key) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "another generation or publish is in flight for this class")
		}
		defer s.locks.release(key)

		resp, err := s.publishBatch(ctx, &preview)
		if err != nil {
			return nil, err
		}
		s.previews.Delete(req.PreviewToken)
		s.markRun(ctx, preview.RunID, models.RunPublished)
		return resp, nil
	}

	identity := models.GridIdentity{
		AcademicYearID: req.AcademicYearID,
		SessionType:    models.SessionType(req.SessionType),
		ClassID:        req.ClassID,
	}
	key := identity.ClassScope()
	if !s.locks.acquire(key) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "another generation or publish is in flight for this class")
	}
	defer s.locks.release(key)

	preview, err := s.buildBatch(ctx, identity, req.ScheduleName)
	if err != nil {
		return nil, err
	}
	resp, err := s.publishBatch(ctx, preview)
	if err != nil {
		return nil, err
	}
	s.markRun(ctx, preview.RunID, models.RunPublished)
	return resp, nil
}

// DeleteClassSchedule removes one published grid and restores exactly the
// availability cells it consumed. Cells held by other grids stay busy.
func (s *TimetableService) DeleteClassSchedule(ctx context.Context, req dto.DeleteScheduleRequest) (*dto.DeleteScheduleResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid delete payload")
	}
	identity := models.GridIdentity{
		AcademicYearID: req.AcademicYearID,
		SessionType:    models.SessionType(req.SessionType),
		ClassID:        req.ClassID,
		Section:        req.Section,
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

	cells, err := s.cells.ListByIdentityForUpdate(ctx, tx, identity)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load published schedule")
		return nil, err
	}
	if len(cells) == 0 {
		err = appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no published schedule for class %s section %s", identity.ClassID, identity.Section))
		return nil, err
	}

	consumed := groupCellsByTeacher(cells)
	restoredIDs := make([]string, 0, len(consumed))
	for _, teacherID := range sortedTeacherIDs(consumed) {
		availability, loadErr := s.availability.GetByTeacherForUpdate(ctx, tx, teacherID)
		if loadErr != nil {
			if errors.Is(loadErr, sql.ErrNoRows) {
				s.logger.Warn("availability row missing during restore",
					zap.String("teacherId", teacherID),
					zap.String("grid", identity.String()))
				continue
			}
			err = appErrors.Wrap(loadErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock teacher availability")
			return nil, err
		}
		grid := availability.Grid
		flipped := 0
		for _, cell := range consumed[teacherID] {
			slot := grid.Slot(cell.Day, cell.Period)
			if slot.Status != models.SlotAssigned || !slot.Assignment.Matches(identity) {
				continue
			}
			grid.SetSlot(cell.Day, cell.Period, models.AvailabilitySlot{Day: cell.Day, Period: cell.Period, Status: models.SlotFree})
			flipped++
		}
		if flipped == 0 {
			continue
		}
		if err = s.availability.Save(ctx, tx, teacherID, grid); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to restore teacher availability")
			return nil, err
		}
		restoredIDs = append(restoredIDs, teacherID)
	}

	deleted, err := s.cells.DeleteByIdentity(ctx, tx, identity)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete schedule cells")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit delete transaction")
		return nil, err
	}

	s.invalidateClass(ctx, identity)
	return &dto.DeleteScheduleResponse{
		DeletedCount:     int(deleted),
		RestoredTeachers: s.teacherNames(ctx, restoredIDs),
	}, nil
}

// WeeklyView renders one published section grid as a day-by-period matrix.
func (s *TimetableService) WeeklyView(ctx context.Context, query dto.WeeklyViewQuery) (*dto.WeeklyViewResponse, bool, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid weekly view query")
	}
	identity := models.GridIdentity{
		AcademicYearID: query.AcademicYearID,
		SessionType:    models.SessionType(query.SessionType),
		ClassID:        query.ClassID,
		Section:        query.Section,
	}

	cacheKey := weeklyViewCacheKey(identity)
	var cached dto.WeeklyViewResponse
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, true, nil
	}

	cells, err := s.cells.ListByIdentity(ctx, identity)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load published schedule")
	}
	if len(cells) == 0 {
		return nil, false, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no published schedule for class %s section %s", identity.ClassID, identity.Section))
	}

	subjects, err := s.catalog.ListSubjectsByClass(ctx, identity.ClassID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subjects")
	}
	subjectNames := make(map[string]string, len(subjects))
	for _, subject := range subjects {
		subjectNames[subject.ID] = subject.Name
	}
	teachers, err := s.catalog.ListTeachersByIDs(ctx, distinctTeacherIDs(cells))
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teachers")
	}

	days := make([]dto.WeeklyViewDay, models.DaysPerWeek)
	for day := range days {
		days[day] = dto.WeeklyViewDay{
			Day:     day,
			DayName: models.DayNames[day],
			Periods: make([]dto.WeeklyViewCell, models.PeriodsPerDay),
		}
	}
	for _, cell := range cells {
		days[cell.Day].Periods[cell.Period] = dto.WeeklyViewCell{
			SubjectID:   cell.SubjectID,
			SubjectName: subjectNames[cell.SubjectID],
			TeacherID:   cell.TeacherID,
			TeacherName: teachers[cell.TeacherID].FullName,
		}
	}

	resp := &dto.WeeklyViewResponse{
		AcademicYearID: query.AcademicYearID,
		SessionType:    query.SessionType,
		ClassID:        query.ClassID,
		Section:        query.Section,
		ScheduleName:   cells[0].ScheduleName,
		PublishedAt:    cells[0].PublishedAt,
		Days:           days,
	}
	_ = s.cache.Set(ctx, cacheKey, resp, s.cacheTTL)
	return resp, false, nil
}

// ListSchedules summarises the published grids of a year/session scope.
func (s *TimetableService) ListSchedules(ctx context.Context, query dto.ScheduleListQuery) ([]models.PublishedScheduleSummary, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule list query")
	}
	summaries, err := s.cells.ListSummaries(ctx, query.AcademicYearID, models.SessionType(query.SessionType))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list published schedules")
	}
	return summaries, nil
}

// ListRuns pages through generation history, newest first.
func (s *TimetableService) ListRuns(ctx context.Context, query dto.GenerationRunQuery) ([]models.GenerationRun, int, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid run history query")
	}
	filter := models.GenerationRunFilter{
		AcademicYearID: query.AcademicYearID,
		SessionType:    models.SessionType(query.SessionType),
		ClassID:        query.ClassID,
		Page:           query.Page,
		PageSize:       query.PageSize,
	}
	runs, total, err := s.runs.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list generation runs")
	}
	return runs, total, nil
}

// --- Generation pipeline ---

type generationInputs struct {
	class        *models.Class
	plan         *requirementPlan
	availability map[string]models.AvailabilityGrid
	constraints  []models.ScheduleConstraint
	teachers     map[string]models.Teacher
}

func (s *TimetableService) loadInputs(ctx context.Context, identity models.GridIdentity) (*generationInputs, error) {
	class, err := s.catalog.GetClass(ctx, identity.ClassID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if class.AcademicYearID != identity.AcademicYearID {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("class %s belongs to academic year %s", class.ID, class.AcademicYearID))
	}
	if class.SessionType != identity.SessionType {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("class %s belongs to the %s session", class.ID, class.SessionType))
	}

	subjects, err := s.catalog.ListSubjectsByClass(ctx, identity.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subjects")
	}
	if len(subjects) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "class has no active subjects to schedule")
	}
	assignments, err := s.catalog.ListAssignmentsByClass(ctx, identity.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher assignments")
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

	plan := buildRequirementPlan(class, subjects, assignments, teachers)

	availability, err := s.availability.ListByTeachers(ctx, plan.teacherIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher availability")
	}
	constraints, err := s.constraints.List(ctx, models.ConstraintFilter{
		AcademicYearID: identity.AcademicYearID,
		ClassID:        identity.ClassID,
		ActiveOnly:     true,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load constraints")
	}

	return &generationInputs{
		class:        class,
		plan:         plan,
		availability: availability,
		constraints:  constraints,
		teachers:     teachers,
	}, nil
}

// buildBatch walks a request through validating, generating, and integrity
// checking, recording the run outcome. It returns a held preview; callers
// decide whether it lands in the store or goes straight to publish.
func (s *TimetableService) buildBatch(ctx context.Context, identity models.GridIdentity, scheduleName string) (*timetablePreview, error) {
	started := time.Now()

	inputs, err := s.loadInputs(ctx, identity)
	if err != nil {
		return nil, err
	}

	report := checkFeasibility(inputs.plan, inputs.availability, inputs.constraints, identity.SessionType, inputs.teachers)
	if !report.Feasible {
		runID := s.recordRun(ctx, identity, scheduleName, models.RunFeasibilityRejected, len(report.Obstructions), 0, nil, started)
		s.metrics.RecordGeneration("feasibility_rejected", time.Since(started))
		s.logger.Info("generation refused as infeasible",
			zap.String("runId", runID),
			zap.String("classId", identity.ClassID),
			zap.Int("obstructions", len(report.Obstructions)))
		return nil, appErrors.WithDetails(appErrors.ErrFeasibility,
			fmt.Sprintf("class %s cannot be scheduled: %d obstruction(s) found", identity.ClassID, len(report.Obstructions)),
			report.Obstructions)
	}

	grids, failure := generateGrids(identity, inputs.plan, inputs.availability, inputs.constraints, scheduleName)
	if failure != nil {
		message := failure.Error()
		runID := s.recordRun(ctx, identity, scheduleName, models.RunFailed, 0, 0, &message, started)
		s.metrics.RecordGeneration("failed", time.Since(started))
		s.logger.Error("distribution aborted despite passing feasibility",
			zap.String("runId", runID),
			zap.String("classId", identity.ClassID),
			zap.String("subjectId", failure.SubjectID),
			zap.String("teacherId", failure.TeacherID),
			zap.String("section", failure.Section))
		return nil, appErrors.WithDetails(appErrors.ErrGeneration, message, failure)
	}

	if violations := validateIntegrity(grids, inputs.plan); len(violations) > 0 {
		message := fmt.Sprintf("%d integrity violation(s) in generated grids", len(violations))
		runID := s.recordRun(ctx, identity, scheduleName, models.RunFailed, 0, 0, &message, started)
		s.metrics.RecordGeneration("integrity_violation", time.Since(started))
		s.logger.Error("generated grids failed integrity validation",
			zap.String("runId", runID),
			zap.String("classId", identity.ClassID),
			zap.Int("violations", len(violations)),
			zap.Any("first", violations[0]))
		return nil, appErrors.WithDetails(appErrors.ErrIntegrity, message, violations)
	}

	cellCount := 0
	for _, grid := range grids {
		cellCount += len(grid.Cells)
	}
	runID := s.recordRun(ctx, identity, scheduleName, models.RunPreviewReady, 0, cellCount, nil, started)
	s.metrics.RecordGeneration("preview_ready", time.Since(started))

	return &timetablePreview{
		Token:        uuid.NewString(),
		RunID:        runID,
		Identity:     identity,
		ScheduleName: scheduleName,
		Grids:        grids,
		Plan:         inputs.plan,
		Teachers:     inputs.teachers,
		RequestedAt:  time.Now().UTC(),
	}, nil
}

// publishBatch is the transactional half of publish: uniqueness checks,
// availability re-validation under row locks, cell inserts, and slot flips
// all commit together or not at all.
func (s *TimetableService) publishBatch(ctx context.Context, preview *timetablePreview) (*dto.PublishResponse, error) {
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

	identity := preview.Identity
	for _, grid := range preview.Grids {
		exists, checkErr := s.cells.IdentityExists(ctx, tx, grid.Identity)
		if checkErr != nil {
			err = appErrors.Wrap(checkErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check published schedules")
			return nil, err
		}
		if exists {
			err = appErrors.Clone(appErrors.ErrNameConflict,
				fmt.Sprintf("a schedule is already published for class %s section %s; delete it before publishing again", grid.Identity.ClassID, grid.Identity.Section))
			return nil, err
		}
	}
	taken, takenErr := s.cells.NameTaken(ctx, tx, identity.AcademicYearID, identity.SessionType, preview.ScheduleName, identity.ClassID)
	if takenErr != nil {
		err = appErrors.Wrap(takenErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check schedule name")
		return nil, err
	}
	if taken {
		err = appErrors.Clone(appErrors.ErrNameConflict,
			fmt.Sprintf("schedule name %q is already used in this academic year and session; choose another name", preview.ScheduleName))
		return nil, err
	}

	// Availability is re-read under row locks at publish time. A preview is
	// a snapshot; another publish may have consumed the same cells since.
	allCells := make([]models.ScheduleCell, 0, len(preview.Grids)*models.SlotsPerWeek)
	for _, grid := range preview.Grids {
		allCells = append(allCells, grid.Cells...)
	}
	consumed := groupCellsByTeacher(allCells)
	teacherIDs := sortedTeacherIDs(consumed)

	grids := make(map[string]models.AvailabilityGrid, len(teacherIDs))
	stale := make([]models.AvailabilityConflictCell, 0)
	for _, teacherID := range teacherIDs {
		availability, loadErr := s.availability.GetByTeacherForUpdate(ctx, tx, teacherID)
		var grid models.AvailabilityGrid
		switch {
		case loadErr == nil:
			grid = availability.Grid
		case errors.Is(loadErr, sql.ErrNoRows):
			grid = models.NewFreeGrid()
		default:
			err = appErrors.Wrap(loadErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock teacher availability")
			return nil, err
		}
		for _, cell := range consumed[teacherID] {
			slot := grid.Slot(cell.Day, cell.Period)
			if slot.IsFree() {
				continue
			}
			stale = append(stale, models.AvailabilityConflictCell{
				TeacherID:   teacherID,
				TeacherName: preview.Teachers[teacherID].FullName,
				Day:         cell.Day,
				Period:      cell.Period,
				Status:      slot.Status,
			})
		}
		grids[teacherID] = grid
	}
	if len(stale) > 0 {
		err = appErrors.WithDetails(appErrors.ErrAvailabilityConflict,
			fmt.Sprintf("%d availability cell(s) were consumed since the preview was generated; regenerate and retry", len(stale)),
			stale)
		return nil, err
	}

	if err = s.cells.InsertBatch(ctx, tx, allCells); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist schedule cells")
		return nil, err
	}
	for _, teacherID := range teacherIDs {
		grid := grids[teacherID]
		for _, cell := range consumed[teacherID] {
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
		if err = s.availability.Save(ctx, tx, teacherID, grid); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to consume teacher availability")
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit publish transaction")
		return nil, err
	}

	s.invalidateClass(ctx, identity)
	s.metrics.RecordPublish(len(allCells))
	s.logger.Info("schedule published",
		zap.String("classId", identity.ClassID),
		zap.String("scheduleName", preview.ScheduleName),
		zap.Int("cells", len(allCells)),
		zap.Int("teachers", len(teacherIDs)))

	sections := make([]string, 0, len(preview.Grids))
	for _, grid := range preview.Grids {
		sections = append(sections, grid.Identity.Section)
	}
	return &dto.PublishResponse{
		ScheduleName:   preview.ScheduleName,
		PublishedCount: len(allCells),
		Sections:       sections,
	}, nil
}

func (s *TimetableService) previewResponse(preview *timetablePreview) *dto.PreviewResponse {
	sections := make([]dto.SectionGrid, 0, len(preview.Grids))
	cellCount := 0
	for _, grid := range preview.Grids {
		sections = append(sections, dto.SectionGrid{Section: grid.Identity.Section, Cells: grid.Cells})
		cellCount += len(grid.Cells)
	}
	return &dto.PreviewResponse{
		PreviewToken: preview.Token,
		ExpiresAt:    preview.RequestedAt.Add(s.previewTTL),
		ScheduleName: preview.ScheduleName,
		ClassID:      preview.Identity.ClassID,
		SessionType:  string(preview.Identity.SessionType),
		CellCount:    cellCount,
		Sections:     sections,
	}
}

func (s *TimetableService) recordRun(ctx context.Context, identity models.GridIdentity, scheduleName string, status models.RunStatus, obstructions, cellCount int, errorMessage *string, started time.Time) string {
	run := &models.GenerationRun{
		AcademicYearID:   identity.AcademicYearID,
		SessionType:      identity.SessionType,
		ClassID:          identity.ClassID,
		Status:           status,
		ScheduleName:     scheduleName,
		ObstructionCount: obstructions,
		CellCount:        cellCount,
		ErrorMessage:     errorMessage,
		DurationMs:       time.Since(started).Milliseconds(),
	}
	if err := s.runs.Create(ctx, run); err != nil {
		s.logger.Warn("failed to record generation run", zap.Error(err), zap.String("classId", identity.ClassID))
	}
	return run.ID
}

func (s *TimetableService) markRun(ctx context.Context, runID string, status models.RunStatus) {
	if runID == "" {
		return
	}
	if err := s.runs.UpdateStatus(ctx, runID, status); err != nil {
		s.logger.Warn("failed to update generation run status", zap.Error(err), zap.String("runId", runID))
	}
}

func (s *TimetableService) teacherNames(ctx context.Context, teacherIDs []string) []string {
	if len(teacherIDs) == 0 {
		return []string{}
	}
	names := make([]string, 0, len(teacherIDs))
	teachers, err := s.catalog.ListTeachersByIDs(ctx, teacherIDs)
	if err != nil {
		s.logger.Warn("failed to resolve teacher names", zap.Error(err))
		names = append(names, teacherIDs...)
		sort.Strings(names)
		return names
	}
	for _, teacherID := range teacherIDs {
		if teacher, ok := teachers[teacherID]; ok && teacher.FullName != "" {
			names = append(names, teacher.FullName)
			continue
		}
		names = append(names, teacherID)
	}
	sort.Strings(names)
	return names
}

func (s *TimetableService) invalidateClass(ctx context.Context, identity models.GridIdentity) {
	pattern := fmt.Sprintf("timetable:weekly:%s:%s:%s:*", identity.AcademicYearID, identity.SessionType, identity.ClassID)
	if err := s.cache.Invalidate(ctx, pattern); err != nil {
		s.logger.Warn("failed to invalidate weekly view cache", zap.Error(err), zap.String("pattern", pattern))
	}
}

func weeklyViewCacheKey(identity models.GridIdentity) string {
	return strings.Join([]string{"timetable", "weekly", identity.AcademicYearID, string(identity.SessionType), identity.ClassID, identity.Section}, ":")
}

func groupCellsByTeacher(cells []models.ScheduleCell) map[string][]models.ScheduleCell {
	grouped := make(map[string][]models.ScheduleCell)
	for _, cell := range cells {
		grouped[cell.TeacherID] = append(grouped[cell.TeacherID], cell)
	}
	return grouped
}

func sortedTeacherIDs(grouped map[string][]models.ScheduleCell) []string {
	ids := make([]string, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func distinctTeacherIDs(cells []models.ScheduleCell) []string {
	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, cell := range cells {
		if seen[cell.TeacherID] {
			continue
		}
		seen[cell.TeacherID] = true
		ids = append(ids, cell.TeacherID)
	}
	return ids
}

// --- Preview store ---

type timetablePreview struct {
	Token        string
	RunID        string
	Identity     models.GridIdentity
	ScheduleName string
	Grids        []models.ScheduleGrid
	Plan         *requirementPlan
	Teachers     map[string]models.Teacher
	RequestedAt  time.Time
}

type previewStore struct {
	ttl   time.Duration
	mu    sync.RWMutex
	items map[string]timetablePreview
}

func newPreviewStore(ttl time.Duration) *previewStore {
	return &previewStore{
		ttl:   ttl,
		items: make(map[string]timetablePreview),
	}
}

func (s *previewStore) Save(preview timetablePreview) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[preview.Token] = preview
}

func (s *previewStore) Get(token string) (timetablePreview, bool) {
	s.mu.RLock()
	preview, ok := s.items[token]
	s.mu.RUnlock()
	if !ok {
		return timetablePreview{}, false
	}
	if time.Since(preview.RequestedAt) > s.ttl {
		s.Delete(token)
		return timetablePreview{}, false
	}
	return preview, true
}

func (s *previewStore) Delete(token string) {
	s.mu.Lock()
	delete(s.items, token)
	s.mu.Unlock()
}

// --- Per-class serialization ---

// classLocks guarantees one in-flight generation or publish per class
// scope. Concurrent requests for other classes proceed untouched.
type classLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newClassLocks() *classLocks {
	return &classLocks{held: make(map[string]bool)}
}

func (l *classLocks) acquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false
	}
	l.held[key] = true
	return true
}

func (l *classLocks) release(key string) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
}
