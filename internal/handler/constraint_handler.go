package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
)

type constraintManager interface {
	Create(ctx context.Context, req dto.CreateConstraintRequest) (*models.ScheduleConstraint, error)
	Get(ctx context.Context, id string) (*models.ScheduleConstraint, error)
	List(ctx context.Context, query dto.ConstraintQuery) ([]models.ScheduleConstraint, error)
	Update(ctx context.Context, id string, req dto.UpdateConstraintRequest) (*models.ScheduleConstraint, error)
	Delete(ctx context.Context, id string) error
}

// ConstraintHandler exposes scheduling constraint CRUD.
type ConstraintHandler struct {
	service constraintManager
}

// NewConstraintHandler constructs the handler.
func NewConstraintHandler(svc *service.ConstraintService) *ConstraintHandler {
	return &ConstraintHandler{service: svc}
}

// Create godoc
// @Summary Register a scheduling constraint
// @Tags Constraints
// @Accept json
// @Produce json
// @Param payload body dto.CreateConstraintRequest true "Constraint payload"
// @Success 201 {object} response.Envelope
// @Router /constraints [post]
func (h *ConstraintHandler) Create(c *gin.Context) {
	var req dto.CreateConstraintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid constraint payload"))
		return
	}
	constraint, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, constraint)
}

// Get godoc
// @Summary Get one scheduling constraint
// @Tags Constraints
// @Produce json
// @Param id path string true "Constraint ID"
// @Success 200 {object} response.Envelope
// @Router /constraints/{id} [get]
func (h *ConstraintHandler) Get(c *gin.Context) {
	constraint, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, constraint, nil)
}

// List godoc
// @Summary List scheduling constraints
// @Tags Constraints
// @Produce json
// @Param academicYearId query string true "Academic year ID"
// @Param classId query string false "Class ID"
// @Param subjectId query string false "Subject ID"
// @Param teacherId query string false "Teacher ID"
// @Param type query string false "Constraint type" Enums(forbidden, required, max_consecutive, min_break)
// @Param activeOnly query bool false "Only active constraints"
// @Success 200 {object} response.Envelope
// @Router /constraints [get]
func (h *ConstraintHandler) List(c *gin.Context) {
	query := dto.ConstraintQuery{
		AcademicYearID: c.Query("academicYearId"),
		ClassID:        c.Query("classId"),
		SubjectID:      c.Query("subjectId"),
		TeacherID:      c.Query("teacherId"),
		Type:           c.Query("type"),
		ActiveOnly:     c.Query("activeOnly") == "true",
	}
	constraints, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, constraints, nil)
}

// Update godoc
// @Summary Replace a scheduling constraint
// @Tags Constraints
// @Accept json
// @Produce json
// @Param id path string true "Constraint ID"
// @Param payload body dto.UpdateConstraintRequest true "Constraint payload"
// @Success 200 {object} response.Envelope
// @Router /constraints/{id} [put]
func (h *ConstraintHandler) Update(c *gin.Context) {
	var req dto.UpdateConstraintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid constraint payload"))
		return
	}
	constraint, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, constraint, nil)
}

// Delete godoc
// @Summary Delete a scheduling constraint
// @Tags Constraints
// @Param id path string true "Constraint ID"
// @Success 204
// @Router /constraints/{id} [delete]
func (h *ConstraintHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
