package dto

import (
	"time"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// AvailabilityResponse returns one teacher's validated weekly grid.
type AvailabilityResponse struct {
	TeacherID   string                  `json:"teacherId"`
	TeacherName string                  `json:"teacherName,omitempty"`
	UpdatedAt   time.Time               `json:"updatedAt"`
	Slots       models.AvailabilityGrid `json:"slots"`
}

// UpdateAvailabilityRequest replaces a teacher's self-declared grid. Cells
// consumed by a published schedule cannot be redeclared here.
type UpdateAvailabilityRequest struct {
	Slots []models.AvailabilitySlot `json:"slots" validate:"required,len=30"`
}

// AvailabilitySummaryQuery scopes the per-class availability overview.
type AvailabilitySummaryQuery struct {
	ClassID string `form:"classId" validate:"required"`
}

// AvailabilitySummaryResponse aggregates the grids of a class's teachers.
type AvailabilitySummaryResponse struct {
	ClassID  string                       `json:"classId"`
	Teachers []models.AvailabilitySummary `json:"teachers"`
}
