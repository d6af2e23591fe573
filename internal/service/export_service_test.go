package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/repository"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
	"github.com/noah-isme/sma-timetable-api/pkg/storage"
)

type exportJobStoreStub struct {
	byID   map[string]models.ExportJob
	nextID int
}

func newExportJobStoreStub() *exportJobStoreStub {
	return &exportJobStoreStub{byID: make(map[string]models.ExportJob)}
}

func (s *exportJobStoreStub) Create(ctx context.Context, job *models.ExportJob) error {
	s.nextID++
	job.ID = fmt.Sprintf("job-%d", s.nextID)
	job.CreatedAt = time.Now().UTC()
	s.byID[job.ID] = *job
	return nil
}

func (s *exportJobStoreStub) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	job, ok := s.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := job
	return &cp, nil
}

func (s *exportJobStoreStub) Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error {
	job, ok := s.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	s.byID[id] = job
	return nil
}

func (s *exportJobStoreStub) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	out := make([]models.ExportJob, 0)
	for _, job := range s.byID {
		if job.Status == models.ExportStatusQueued {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *exportJobStoreStub) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	return nil, nil
}

type queueDispatchStub struct {
	enqueued []jobs.Job
	failWith error
}

func (q *queueDispatchStub) Enqueue(job jobs.Job) error {
	if q.failWith != nil {
		return q.failWith
	}
	q.enqueued = append(q.enqueued, job)
	return nil
}

type failingGenerator struct {
	err error
}

func (g failingGenerator) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	return nil, g.err
}

type exportFixture struct {
	service *ExportService
	worker  *ExportWorker
	jobs    *exportJobStoreStub
	cells   *cellStoreStub
	queue   *queueDispatchStub
	signer  *storage.SignedURLSigner
	store   *storage.LocalStorage
}

func newExportFixture(t *testing.T) *exportFixture {
	t.Helper()
	jobStore := newExportJobStoreStub()
	cells := newCellStoreStub()
	queue := &queueDispatchStub{}
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	service := NewExportService(
		jobStore,
		cells,
		catalogStub{balancedFixture()},
		store,
		signer,
		queue,
		ExportConfig{APIPrefix: "/api/v1", ResultTTL: time.Hour, MaxRetries: 2},
		validator.New(),
		zap.NewNop(),
		nil,
		nil,
	)
	worker := NewExportWorker(jobStore, service, 2, zap.NewNop())
	return &exportFixture{
		service: service,
		worker:  worker,
		jobs:    jobStore,
		cells:   cells,
		queue:   queue,
		signer:  signer,
		store:   store,
	}
}

// publishedWeek fills a grid with a rotating subject layout so every cell of
// the rendered matrix is populated.
func publishedWeek(identity models.GridIdentity) []models.ScheduleCell {
	cells := make([]models.ScheduleCell, 0, models.SlotsPerWeek)
	for day := 0; day < models.DaysPerWeek; day++ {
		for period := 0; period < models.PeriodsPerDay; period++ {
			idx := (day*models.PeriodsPerDay + period) % 5
			cells = append(cells, models.ScheduleCell{
				ID:             fmt.Sprintf("cell-%d-%d", day, period),
				AcademicYearID: identity.AcademicYearID,
				SessionType:    identity.SessionType,
				ClassID:        identity.ClassID,
				Section:        identity.Section,
				Day:            day,
				Period:         period,
				SubjectID:      subjectIDFor(idx),
				TeacherID:      teacherIDFor(idx),
				ScheduleName:   "Term 1 v1",
			})
		}
	}
	return cells
}

func (f *exportFixture) seedPublishedGrid() models.GridIdentity {
	identity := models.GridIdentity{
		AcademicYearID: "ay-2026",
		SessionType:    models.SessionMorning,
		ClassID:        "class-10a",
		Section:        "A",
	}
	f.cells.published[identity.String()] = publishedWeek(identity)
	return identity
}

func csvExportRequest() dto.CreateExportRequest {
	return dto.CreateExportRequest{
		AcademicYearID: "ay-2026",
		SessionType:    "morning",
		ClassID:        "class-10a",
		Section:        "a",
		Format:         "csv",
	}
}

func TestExportServiceCreateJob(t *testing.T) {
	f := newExportFixture(t)
	f.seedPublishedGrid()

	resp, err := f.service.CreateJob(context.Background(), csvExportRequest(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", resp.ID)
	assert.Equal(t, models.ExportStatusQueued, resp.Status)
	assert.Equal(t, models.ExportFormatCSV, resp.Format)
	assert.Equal(t, 0, resp.Progress)

	require.Len(t, f.queue.enqueued, 1)
	assert.Equal(t, "job-1", f.queue.enqueued[0].ID)
	assert.Equal(t, "timetable_export", f.queue.enqueued[0].Type)

	stored := f.jobs.byID["job-1"]
	assert.Equal(t, "A", stored.Params.Section, "section is canonicalized to upper case")
	assert.Equal(t, "user-1", stored.CreatedBy)
}

func TestExportServiceCreateJobUnpublished(t *testing.T) {
	f := newExportFixture(t)

	_, err := f.service.CreateJob(context.Background(), csvExportRequest(), "user-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.queue.enqueued)
	assert.Empty(t, f.jobs.byID)
}

func TestExportServiceCreateJobRejectsPayload(t *testing.T) {
	f := newExportFixture(t)
	f.seedPublishedGrid()

	req := csvExportRequest()
	req.Format = "xlsx"

	_, err := f.service.CreateJob(context.Background(), req, "user-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestExportServiceCreateJobEnqueueFailure(t *testing.T) {
	f := newExportFixture(t)
	f.seedPublishedGrid()
	f.queue.failWith = errors.New("queue closed")

	_, err := f.service.CreateJob(context.Background(), csvExportRequest(), "user-1")
	require.Error(t, err)

	stored, ok := f.jobs.byID["job-1"]
	require.True(t, ok, "job row survives so the failure is inspectable")
	assert.Equal(t, models.ExportStatusFailed, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.ErrorMessage)
	assert.NotNil(t, stored.FinishedAt)
}

func TestExportServiceGetStatus(t *testing.T) {
	f := newExportFixture(t)
	f.seedPublishedGrid()
	created, err := f.service.CreateJob(context.Background(), csvExportRequest(), "user-1")
	require.NoError(t, err)

	resp, err := f.service.GetStatus(context.Background(), created.ID, "user-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, created.ID, resp.ID)

	_, err = f.service.GetStatus(context.Background(), created.ID, "user-2", models.RoleTeacher)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = f.service.GetStatus(context.Background(), created.ID, "someone-else", models.RoleAdmin)
	require.NoError(t, err)

	_, err = f.service.GetStatus(context.Background(), "job-missing", "user-1", models.RoleAdmin)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestExportWorkerRendersCSV(t *testing.T) {
	f := newExportFixture(t)
	f.seedPublishedGrid()
	created, err := f.service.CreateJob(context.Background(), csvExportRequest(), "user-1")
	require.NoError(t, err)

	err = f.worker.Handle(context.Background(), jobs.Job{ID: created.ID, Type: "timetable_export"})
	require.NoError(t, err)

	stored := f.jobs.byID[created.ID]
	assert.Equal(t, models.ExportStatusFinished, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.FinishedAt)
	require.NotNil(t, stored.ResultURL)
	assert.True(t, strings.HasPrefix(*stored.ResultURL, "/api/v1/timetable/exports/download/"))

	token := extractToken(*stored.ResultURL)
	jobID, relPath, _, err := f.signer.Parse(token, false)
	require.NoError(t, err)
	assert.Equal(t, created.ID, jobID)
	assert.True(t, strings.HasSuffix(relPath, ".csv"))

	file, err := f.store.Open(relPath)
	require.NoError(t, err)
	defer file.Close()
	payload, err := io.ReadAll(file)
	require.NoError(t, err)

	content := string(payload)
	assert.Contains(t, content, "Period,Sunday,Monday,Tuesday,Wednesday,Thursday")
	assert.Contains(t, content, "1,Mathematics (Teacher A),Biology (Teacher B),Chemistry (Teacher C),History (Teacher D),English (Teacher E)")
}

func TestExportWorkerRendersPDF(t *testing.T) {
	f := newExportFixture(t)
	f.seedPublishedGrid()

	req := csvExportRequest()
	req.Format = "pdf"
	created, err := f.service.CreateJob(context.Background(), req, "user-1")
	require.NoError(t, err)

	err = f.worker.Handle(context.Background(), jobs.Job{ID: created.ID, Type: "timetable_export"})
	require.NoError(t, err)

	stored := f.jobs.byID[created.ID]
	require.NotNil(t, stored.ResultURL)
	_, relPath, _, err := f.signer.Parse(extractToken(*stored.ResultURL), false)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(relPath, ".pdf"))

	file, err := f.store.Open(relPath)
	require.NoError(t, err)
	defer file.Close()
	payload, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(payload), "%PDF"), "rendered file is a pdf document")
}

func TestExportWorkerRetriesBeforeFailing(t *testing.T) {
	jobStore := newExportJobStoreStub()
	job := &models.ExportJob{
		Params: models.ExportJobParams{
			AcademicYearID: "ay-2026",
			SessionType:    models.SessionMorning,
			ClassID:        "class-10a",
			Section:        "A",
			Format:         models.ExportFormatCSV,
		},
		Status: models.ExportStatusQueued,
	}
	require.NoError(t, jobStore.Create(context.Background(), job))
	worker := NewExportWorker(jobStore, failingGenerator{err: errors.New("render exploded")}, 2, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: job.ID, Attempt: 0})
	require.Error(t, err)
	stored := jobStore.byID[job.ID]
	assert.Equal(t, models.ExportStatusQueued, stored.Status, "early failures requeue")
	assert.Equal(t, 0, stored.Progress)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "render exploded", *stored.ErrorMessage)
	assert.Nil(t, stored.FinishedAt)

	err = worker.Handle(context.Background(), jobs.Job{ID: job.ID, Attempt: 2})
	require.Error(t, err)
	stored = jobStore.byID[job.ID]
	assert.Equal(t, models.ExportStatusFailed, stored.Status, "exhausted retries park the job as failed")
	assert.Equal(t, 100, stored.Progress)
	assert.NotNil(t, stored.FinishedAt)
}

func TestExportServiceResolveDownload(t *testing.T) {
	f := newExportFixture(t)
	f.seedPublishedGrid()
	created, err := f.service.CreateJob(context.Background(), csvExportRequest(), "user-1")
	require.NoError(t, err)
	require.NoError(t, f.worker.Handle(context.Background(), jobs.Job{ID: created.ID, Type: "timetable_export"}))

	stored := f.jobs.byID[created.ID]
	require.NotNil(t, stored.ResultURL)
	token := extractToken(*stored.ResultURL)

	download, err := f.service.ResolveDownload(context.Background(), token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, models.ExportFormatCSV, download.Format)
	assert.True(t, strings.HasPrefix(download.Filename, "timetable_class-10a_A_morning_"))
	assert.True(t, download.ExpiresAt.After(time.Now()))

	payload, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.NotEmpty(t, payload)
	assert.True(t, strings.HasSuffix(download.Filename, ".csv"))
}

func TestExportServiceResolveDownloadRejectsBadTokens(t *testing.T) {
	f := newExportFixture(t)
	f.seedPublishedGrid()
	created, err := f.service.CreateJob(context.Background(), csvExportRequest(), "user-1")
	require.NoError(t, err)
	require.NoError(t, f.worker.Handle(context.Background(), jobs.Job{ID: created.ID, Type: "timetable_export"}))

	_, err = f.service.ResolveDownload(context.Background(), "not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	// A signed token no longer referenced by the job row is refused too.
	stored := f.jobs.byID[created.ID]
	token := extractToken(*stored.ResultURL)
	replaced := "/api/v1/timetable/exports/download/rotated"
	stored.ResultURL = &replaced
	f.jobs.byID[created.ID] = stored

	_, err = f.service.ResolveDownload(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestExportServiceResolveDownloadRequiresFinishedJob(t *testing.T) {
	f := newExportFixture(t)
	queued := &models.ExportJob{
		Params: models.ExportJobParams{
			AcademicYearID: "ay-2026",
			SessionType:    models.SessionMorning,
			ClassID:        "class-10a",
			Section:        "A",
			Format:         models.ExportFormatCSV,
		},
		Status: models.ExportStatusQueued,
	}
	require.NoError(t, f.jobs.Create(context.Background(), queued))
	token, _, err := f.signer.Generate(queued.ID, "pending.csv")
	require.NoError(t, err)
	url := "/api/v1/timetable/exports/download/" + token
	record := f.jobs.byID[queued.ID]
	record.ResultURL = &url
	f.jobs.byID[queued.ID] = record

	_, err = f.service.ResolveDownload(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestExportServiceRecoverPendingJobs(t *testing.T) {
	f := newExportFixture(t)
	f.seedPublishedGrid()

	first, err := f.service.CreateJob(context.Background(), csvExportRequest(), "user-1")
	require.NoError(t, err)
	second, err := f.service.CreateJob(context.Background(), csvExportRequest(), "user-1")
	require.NoError(t, err)

	// Finish the second job; only the still-queued one should be replayed.
	require.NoError(t, f.worker.Handle(context.Background(), jobs.Job{ID: second.ID, Type: "timetable_export"}))
	f.queue.enqueued = nil

	f.service.RecoverPendingJobs(context.Background())
	require.Len(t, f.queue.enqueued, 1)
	assert.Equal(t, first.ID, f.queue.enqueued[0].ID)
}
