package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
)

type availabilityManager interface {
	GetByTeacher(ctx context.Context, teacherID string) (*dto.AvailabilityResponse, error)
	Update(ctx context.Context, teacherID string, req dto.UpdateAvailabilityRequest) (*dto.AvailabilityResponse, error)
	ClassSummary(ctx context.Context, query dto.AvailabilitySummaryQuery) (*dto.AvailabilitySummaryResponse, error)
}

// AvailabilityHandler exposes teacher availability endpoints.
type AvailabilityHandler struct {
	service availabilityManager
}

// NewAvailabilityHandler constructs the handler.
func NewAvailabilityHandler(svc *service.AvailabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{service: svc}
}

// Get godoc
// @Summary Get a teacher's weekly availability grid
// @Description Teachers without a stored grid receive an all-free default; malformed stored grids are rejected rather than silently repaired.
// @Tags Availability
// @Produce json
// @Param id path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Router /availability/teachers/{id} [get]
func (h *AvailabilityHandler) Get(c *gin.Context) {
	grid, err := h.service.GetByTeacher(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grid, nil)
}

// Update godoc
// @Summary Replace a teacher's self-declared availability
// @Description Slots consumed by a published schedule stay assigned; redeclaring them is rejected with the conflicting cells listed.
// @Tags Availability
// @Accept json
// @Produce json
// @Param id path string true "Teacher ID"
// @Param payload body dto.UpdateAvailabilityRequest true "Availability payload"
// @Success 200 {object} response.Envelope
// @Router /availability/teachers/{id} [put]
func (h *AvailabilityHandler) Update(c *gin.Context) {
	var req dto.UpdateAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid availability payload"))
		return
	}
	grid, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grid, nil)
}

// Summary godoc
// @Summary Aggregate availability for a class's teachers
// @Tags Availability
// @Produce json
// @Param classId query string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /availability/summary [get]
func (h *AvailabilityHandler) Summary(c *gin.Context) {
	query := dto.AvailabilitySummaryQuery{ClassID: c.Query("classId")}
	summary, err := h.service.ClassSummary(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
