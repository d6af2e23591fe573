package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/middleware"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
)

type timetablePlanner interface {
	ValidateFeasibility(ctx context.Context, req dto.FeasibilityRequest) (*dto.FeasibilityResponse, error)
	GeneratePreview(ctx context.Context, req dto.GeneratePreviewRequest) (*dto.PreviewResponse, error)
	GetPreview(ctx context.Context, token string) (*dto.PreviewResponse, error)
	DiscardPreview(ctx context.Context, token string) error
	Publish(ctx context.Context, req dto.PublishRequest) (*dto.PublishResponse, error)
	DeleteClassSchedule(ctx context.Context, req dto.DeleteScheduleRequest) (*dto.DeleteScheduleResponse, error)
	WeeklyView(ctx context.Context, query dto.WeeklyViewQuery) (*dto.WeeklyViewResponse, bool, error)
	ListSchedules(ctx context.Context, query dto.ScheduleListQuery) ([]models.PublishedScheduleSummary, error)
	ListRuns(ctx context.Context, query dto.GenerationRunQuery) ([]models.GenerationRun, int, error)
}

type conflictResolver interface {
	Resolve(ctx context.Context, query dto.ConflictQuery) (*dto.ConflictResponse, error)
}

// TimetableHandler exposes the generation workflow endpoints.
type TimetableHandler struct {
	service   timetablePlanner
	conflicts conflictResolver
}

// NewTimetableHandler constructs the handler.
func NewTimetableHandler(svc *service.TimetableService, conflicts *service.ConflictService) *TimetableHandler {
	return &TimetableHandler{service: svc, conflicts: conflicts}
}

// Feasibility godoc
// @Summary Check whether a class can be scheduled
// @Description Runs every feasibility check and reports the complete obstruction list without generating a timetable.
// @Tags Timetable
// @Accept json
// @Produce json
// @Param payload body dto.FeasibilityRequest true "Feasibility payload"
// @Success 200 {object} response.Envelope
// @Router /timetable/feasibility [post]
func (h *TimetableHandler) Feasibility(c *gin.Context) {
	var req dto.FeasibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid feasibility payload"))
		return
	}
	result, err := h.service.ValidateFeasibility(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// GeneratePreview godoc
// @Summary Generate a timetable preview for every section of a class
// @Description Validates feasibility, distributes slots, and holds the result in memory under a token. Nothing is persisted until the preview is published.
// @Tags Timetable
// @Accept json
// @Produce json
// @Param payload body dto.GeneratePreviewRequest true "Generate preview payload"
// @Success 201 {object} response.Envelope
// @Router /timetable/previews [post]
func (h *TimetableHandler) GeneratePreview(c *gin.Context) {
	var req dto.GeneratePreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid preview payload"))
		return
	}
	preview, err := h.service.GeneratePreview(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, preview)
}

// GetPreview godoc
// @Summary Fetch a held preview by token
// @Tags Timetable
// @Produce json
// @Param token path string true "Preview token"
// @Success 200 {object} response.Envelope
// @Router /timetable/previews/{token} [get]
func (h *TimetableHandler) GetPreview(c *gin.Context) {
	preview, err := h.service.GetPreview(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

// DiscardPreview godoc
// @Summary Discard a held preview
// @Description Drops the in-memory candidate. Discarding never touches published schedules or teacher availability.
// @Tags Timetable
// @Param token path string true "Preview token"
// @Success 204
// @Router /timetable/previews/{token} [delete]
func (h *TimetableHandler) DiscardPreview(c *gin.Context) {
	if err := h.service.DiscardPreview(c.Request.Context(), c.Param("token")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// PublishPreview godoc
// @Summary Publish a held preview atomically
// @Description Re-validates teacher availability under lock, inserts every cell, and flips the consumed slots in one transaction.
// @Tags Timetable
// @Produce json
// @Param token path string true "Preview token"
// @Success 200 {object} response.Envelope
// @Router /timetable/previews/{token}/publish [post]
func (h *TimetableHandler) PublishPreview(c *gin.Context) {
	result, err := h.service.Publish(c.Request.Context(), dto.PublishRequest{PreviewToken: c.Param("token")})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Publish godoc
// @Summary Publish a timetable
// @Description Publishes a held preview by token, or regenerates and publishes in one step when identity fields are supplied instead.
// @Tags Timetable
// @Accept json
// @Produce json
// @Param payload body dto.PublishRequest true "Publish payload"
// @Success 200 {object} response.Envelope
// @Router /timetable/publish [post]
func (h *TimetableHandler) Publish(c *gin.Context) {
	var req dto.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid publish payload"))
		return
	}
	result, err := h.service.Publish(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// DeleteSchedule godoc
// @Summary Delete a published schedule
// @Description Removes the grid's cells and restores the assigned availability slots of its teachers in one transaction.
// @Tags Timetable
// @Produce json
// @Param academicYearId query string true "Academic year ID"
// @Param sessionType query string true "Session type" Enums(morning, evening)
// @Param classId query string true "Class ID"
// @Param section query string true "Section name"
// @Success 200 {object} response.Envelope
// @Router /timetable/schedule [delete]
func (h *TimetableHandler) DeleteSchedule(c *gin.Context) {
	req := dto.DeleteScheduleRequest{
		AcademicYearID: c.Query("academicYearId"),
		SessionType:    c.Query("sessionType"),
		ClassID:        c.Query("classId"),
		Section:        c.Query("section"),
	}
	result, err := h.service.DeleteClassSchedule(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Conflicts godoc
// @Summary Inspect published schedules for conflicts
// @Description Reports teacher double-bookings, constraint violations, and availability desyncs across the published scope.
// @Tags Timetable
// @Produce json
// @Param academicYearId query string true "Academic year ID"
// @Param sessionType query string true "Session type" Enums(morning, evening)
// @Param classId query string false "Limit findings to one class"
// @Success 200 {object} response.Envelope
// @Router /timetable/conflicts [get]
func (h *TimetableHandler) Conflicts(c *gin.Context) {
	query := dto.ConflictQuery{
		AcademicYearID: c.Query("academicYearId"),
		SessionType:    c.Query("sessionType"),
		ClassID:        c.Query("classId"),
	}
	result, err := h.conflicts.Resolve(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Weekly godoc
// @Summary Render one published section grid as a weekly matrix
// @Tags Timetable
// @Produce json
// @Param academicYearId query string true "Academic year ID"
// @Param sessionType query string true "Session type" Enums(morning, evening)
// @Param classId query string true "Class ID"
// @Param section query string true "Section name"
// @Success 200 {object} response.Envelope
// @Router /timetable/weekly [get]
func (h *TimetableHandler) Weekly(c *gin.Context) {
	query := dto.WeeklyViewQuery{
		AcademicYearID: c.Query("academicYearId"),
		SessionType:    c.Query("sessionType"),
		ClassID:        c.Query("classId"),
		Section:        c.Query("section"),
	}
	view, cacheHit, err := h.service.WeeklyView(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	response.JSON(c, http.StatusOK, view, nil, meta)
}

// Schedules godoc
// @Summary List published schedules for a year and session
// @Tags Timetable
// @Produce json
// @Param academicYearId query string true "Academic year ID"
// @Param sessionType query string true "Session type" Enums(morning, evening)
// @Success 200 {object} response.Envelope
// @Router /timetable/schedules [get]
func (h *TimetableHandler) Schedules(c *gin.Context) {
	query := dto.ScheduleListQuery{
		AcademicYearID: c.Query("academicYearId"),
		SessionType:    c.Query("sessionType"),
	}
	summaries, err := h.service.ListSchedules(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summaries, nil)
}

// Runs godoc
// @Summary Page through generation run history
// @Tags Timetable
// @Produce json
// @Param academicYearId query string true "Academic year ID"
// @Param sessionType query string true "Session type" Enums(morning, evening)
// @Param classId query string false "Class ID"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /timetable/runs [get]
func (h *TimetableHandler) Runs(c *gin.Context) {
	query := dto.GenerationRunQuery{
		AcademicYearID: c.Query("academicYearId"),
		SessionType:    c.Query("sessionType"),
		ClassID:        c.Query("classId"),
		Page:           1,
		PageSize:       20,
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		query.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("pageSize", "20")); err == nil {
		query.PageSize = size
	}
	runs, total, err := h.service.ListRuns(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := &models.Pagination{
		Page:       query.Page,
		PageSize:   query.PageSize,
		TotalCount: total,
	}
	response.JSON(c, http.StatusOK, runs, pagination)
}
