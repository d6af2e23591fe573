package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/repository"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/export"
	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
	"github.com/noah-isme/sma-timetable-api/pkg/storage"
)

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type exportCellSource interface {
	ListByIdentity(ctx context.Context, id models.GridIdentity) ([]models.ScheduleCell, error)
}

type exportCatalog interface {
	GetClass(ctx context.Context, classID string) (*models.Class, error)
	ListSubjectsByClass(ctx context.Context, classID string) ([]models.Subject, error)
	ListTeachersByIDs(ctx context.Context, teacherIDs []string) (map[string]models.Teacher, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type gridRenderer interface {
	Render(doc export.GridDocument) ([]byte, error)
}

type exportGenerator interface {
	Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	MaxRetries      int
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ExportFormat
	ExpiresAt    time.Time
}

// ExportDownload aggregates resolved download data.
type ExportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ExportFormat
	ExpiresAt time.Time
}

// ExportService renders published grids into downloadable files. Requests
// are persisted as jobs, processed by a worker pool, and resolved through
// signed download tokens so files are never exposed by raw path.
type ExportService struct {
	jobs      exportJobStore
	cells     exportCellSource
	catalog   exportCatalog
	storage   fileStorage
	signer    *storage.SignedURLSigner
	queue     jobDispatcher
	csv       csvRenderer
	grid      gridRenderer
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(
	jobStore exportJobStore,
	cells exportCellSource,
	catalog exportCatalog,
	store fileStorage,
	signer *storage.SignedURLSigner,
	queue jobDispatcher,
	cfg ExportConfig,
	validate *validator.Validate,
	logger *zap.Logger,
	csv csvRenderer,
	grid gridRenderer,
) *ExportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if grid == nil {
		grid = export.NewGridPDFExporter()
	}
	return &ExportService{
		jobs:      jobStore,
		cells:     cells,
		catalog:   catalog,
		storage:   store,
		signer:    signer,
		queue:     queue,
		csv:       csv,
		grid:      grid,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// CreateJob validates the request, persists the job, and enqueues processing.
// Only published grids can be exported, so the identity is checked up front
// rather than surfacing a failed job later.
func (s *ExportService) CreateJob(ctx context.Context, req dto.CreateExportRequest, actorID string) (*dto.ExportJobResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export request")
	}
	params := models.ExportJobParams{
		AcademicYearID: req.AcademicYearID,
		SessionType:    models.SessionType(req.SessionType),
		ClassID:        req.ClassID,
		Section:        strings.ToUpper(req.Section),
		Format:         models.ExportFormat(req.Format),
	}
	cells, err := s.cells.ListByIdentity(ctx, params.Identity())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check published schedule")
	}
	if len(cells) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no published schedule for the requested grid")
	}

	job := &models.ExportJob{
		Params:    params,
		Status:    models.ExportStatusQueued,
		Progress:  0,
		CreatedBy: actorID,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "timetable_export"}); err != nil {
		status := models.ExportStatusFailed
		msg := "failed to enqueue job"
		now := time.Now().UTC()
		progress := 100
		_ = s.jobs.Update(ctx, job.ID, repository.UpdateExportJobParams{
			Status:       &status,
			Progress:     &progress,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}
	return jobResponse(job), nil
}

// GetStatus exposes job metadata, enforcing ownership for teachers.
func (s *ExportService) GetStatus(ctx context.Context, id, actorID string, role models.UserRole) (*dto.ExportJobResponse, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if role == models.RoleTeacher && job.CreatedBy != actorID {
		return nil, appErrors.ErrForbidden
	}
	return jobResponse(job), nil
}

// ResolveDownload validates the token and opens the stored export file.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	jobID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	if job.Status != models.ExportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export not ready")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ExportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    job.Params.Format,
		ExpiresAt: expiresAt,
	}, nil
}

// RecoverPendingJobs replays queued jobs (e.g. after process restart).
func (s *ExportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.jobs.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover queued export jobs", "error", err)
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "timetable_export"}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending export", "job_id", job.ID, "error", err)
		}
	}
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ExportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

func (s *ExportService) cleanupExpired(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.ResultTTL)
	for {
		finished, err := s.jobs.ListFinishedBefore(ctx, cutoff, 100)
		if err != nil {
			s.logger.Sugar().Warnw("export cleanup list failed", "error", err)
			return
		}
		if len(finished) == 0 {
			break
		}
		for _, job := range finished {
			if job.ResultURL == nil {
				continue
			}
			token := extractToken(*job.ResultURL)
			if token == "" {
				continue
			}
			_, relPath, _, err := s.signer.Parse(token, true)
			if err != nil {
				continue
			}
			if err := s.storage.Delete(relPath); err != nil {
				s.logger.Sugar().Warnw("export cleanup delete failed", "job_id", job.ID, "error", err)
			}
		}
		if len(finished) < 100 {
			break
		}
	}
	if _, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL); err != nil {
		s.logger.Sugar().Warnw("export filesystem cleanup failed", "error", err)
	}
}

// Generate loads the published grid, renders it in the requested format, and
// stores the file behind a signed download token.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	week, err := s.loadWeek(ctx, job.Params)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(week.dataset())
	case models.ExportFormatPDF:
		payload, err = s.grid.Render(week.document())
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	signedURL := fmt.Sprintf("%s/timetable/exports/download/%s", prefix, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// exportWeek is the fully named weekly matrix an export renders from.
type exportWeek struct {
	title    string
	subtitle string
	slots    [models.PeriodsPerDay][models.DaysPerWeek]export.GridCell
}

func (s *ExportService) loadWeek(ctx context.Context, params models.ExportJobParams) (*exportWeek, error) {
	identity := params.Identity()
	cells, err := s.cells.ListByIdentity(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("load published cells: %w", err)
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("no published schedule for grid %s", identity)
	}

	class, err := s.catalog.GetClass(ctx, identity.ClassID)
	if err != nil {
		return nil, fmt.Errorf("load class: %w", err)
	}
	subjects, err := s.catalog.ListSubjectsByClass(ctx, identity.ClassID)
	if err != nil {
		return nil, fmt.Errorf("load subjects: %w", err)
	}
	subjectNames := make(map[string]string, len(subjects))
	for _, subject := range subjects {
		subjectNames[subject.ID] = subject.Name
	}

	teacherIDs := make([]string, 0, len(cells))
	seen := make(map[string]struct{}, len(cells))
	for _, cell := range cells {
		if _, ok := seen[cell.TeacherID]; ok {
			continue
		}
		seen[cell.TeacherID] = struct{}{}
		teacherIDs = append(teacherIDs, cell.TeacherID)
	}
	sort.Strings(teacherIDs)
	teachers, err := s.catalog.ListTeachersByIDs(ctx, teacherIDs)
	if err != nil {
		return nil, fmt.Errorf("load teachers: %w", err)
	}

	week := &exportWeek{
		title:    fmt.Sprintf("Weekly Timetable %s / Section %s", class.GradeLabel, identity.Section),
		subtitle: fmt.Sprintf("%s session, %s", identity.SessionType, cells[0].ScheduleName),
	}
	for _, cell := range cells {
		if cell.Day < 0 || cell.Day >= models.DaysPerWeek || cell.Period < 0 || cell.Period >= models.PeriodsPerDay {
			return nil, fmt.Errorf("published cell out of range: day %d period %d", cell.Day, cell.Period)
		}
		subjectName := subjectNames[cell.SubjectID]
		if subjectName == "" {
			subjectName = cell.SubjectID
		}
		teacherName := teachers[cell.TeacherID].FullName
		if teacherName == "" {
			teacherName = cell.TeacherID
		}
		week.slots[cell.Period][cell.Day] = export.GridCell{Primary: subjectName, Secondary: teacherName}
	}
	return week, nil
}

func (w *exportWeek) dataset() export.Dataset {
	headers := make([]string, 0, models.DaysPerWeek+1)
	headers = append(headers, "Period")
	headers = append(headers, models.DayNames[:]...)

	rows := make([][]string, 0, models.PeriodsPerDay)
	for period := 0; period < models.PeriodsPerDay; period++ {
		row := make([]string, 0, len(headers))
		row = append(row, strconv.Itoa(period+1))
		for day := 0; day < models.DaysPerWeek; day++ {
			slot := w.slots[period][day]
			value := slot.Primary
			if slot.Secondary != "" {
				value = fmt.Sprintf("%s (%s)", slot.Primary, slot.Secondary)
			}
			row = append(row, value)
		}
		rows = append(rows, row)
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func (w *exportWeek) document() export.GridDocument {
	labels := make([]string, models.PeriodsPerDay)
	cells := make([][]export.GridCell, models.PeriodsPerDay)
	for period := 0; period < models.PeriodsPerDay; period++ {
		labels[period] = strconv.Itoa(period + 1)
		cells[period] = w.slots[period][:]
	}
	return export.GridDocument{
		Title:      w.title,
		Subtitle:   w.subtitle,
		DayHeaders: models.DayNames[:],
		RowLabels:  labels,
		Cells:      cells,
	}
}

func (s *ExportService) buildFilename(job *models.ExportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	classPart := sanitizeFilename(job.Params.ClassID)
	sectionPart := sanitizeFilename(job.Params.Section)
	return fmt.Sprintf("timetable_%s_%s_%s_%s.%s", classPart, sectionPart, job.Params.SessionType, timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func jobResponse(job *models.ExportJob) *dto.ExportJobResponse {
	resp := &dto.ExportJobResponse{
		ID:        job.ID,
		Status:    job.Status,
		Format:    job.Params.Format,
		Progress:  job.Progress,
		CreatedAt: job.CreatedAt,
	}
	if job.ResultURL != nil {
		resp.ResultURL = job.ResultURL
	}
	if job.FinishedAt != nil {
		resp.FinishedAt = job.FinishedAt
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.ErrorMessage = job.ErrorMessage
	}
	return resp
}

func extractToken(url string) string {
	if url == "" {
		return ""
	}
	parts := strings.Split(url, "/")
	return parts[len(parts)-1]
}

// ExportWorker bridges queue jobs to the export generator.
type ExportWorker struct {
	jobs       exportJobStore
	generator  exportGenerator
	logger     *zap.Logger
	maxRetries int
}

// NewExportWorker constructs a worker.
func NewExportWorker(jobStore exportJobStore, generator exportGenerator, maxRetries int, logger *zap.Logger) *ExportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ExportWorker{
		jobs:       jobStore,
		generator:  generator,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Handle processes a queue job through the QUEUED -> PROCESSING -> terminal
// state transitions, requeueing failures until retries are exhausted.
func (w *ExportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.jobs.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	processing := models.ExportStatusProcessing
	progress := 10
	if err := w.jobs.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:   &processing,
		Progress: &progress,
	}); err != nil {
		return err
	}
	result, err := w.generator.Generate(ctx, record)
	if err != nil {
		msg := err.Error()
		if job.Attempt >= w.maxRetries {
			failed := models.ExportStatusFailed
			progress = 100
			now := time.Now().UTC()
			if updateErr := w.jobs.Update(ctx, job.ID, repository.UpdateExportJobParams{
				Status:       &failed,
				Progress:     &progress,
				ErrorMessage: &msg,
				FinishedAt:   &now,
			}); updateErr != nil {
				w.logger.Sugar().Warnw("failed to mark export failed", "job_id", job.ID, "error", updateErr)
			}
		} else {
			queued := models.ExportStatusQueued
			reset := 0
			if updateErr := w.jobs.Update(ctx, job.ID, repository.UpdateExportJobParams{
				Status:       &queued,
				Progress:     &reset,
				ErrorMessage: &msg,
			}); updateErr != nil {
				w.logger.Sugar().Warnw("failed to mark export queued", "job_id", job.ID, "error", updateErr)
			}
		}
		return err
	}
	finished := models.ExportStatusFinished
	progress = 100
	now := time.Now().UTC()
	url := result.URL
	clear := ""
	if err := w.jobs.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:       &finished,
		Progress:     &progress,
		ResultURL:    &url,
		ErrorMessage: &clear,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark export finished", "job_id", job.ID, "error", err)
		return err
	}
	return nil
}
