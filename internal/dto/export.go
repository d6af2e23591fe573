package dto

import (
	"time"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// CreateExportRequest queues a background export of one published grid.
type CreateExportRequest struct {
	AcademicYearID string `json:"academicYearId" validate:"required"`
	SessionType    string `json:"sessionType" validate:"required,oneof=morning evening"`
	ClassID        string `json:"classId" validate:"required"`
	Section        string `json:"section" validate:"required"`
	Format         string `json:"format" validate:"required,oneof=csv pdf"`
}

// ExportJobResponse reports the state of an export job.
type ExportJobResponse struct {
	ID           string              `json:"id"`
	Status       models.ExportStatus `json:"status"`
	Format       models.ExportFormat `json:"format"`
	Progress     int                 `json:"progress"`
	ResultURL    *string             `json:"resultUrl,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	FinishedAt   *time.Time          `json:"finishedAt,omitempty"`
	ErrorMessage *string             `json:"errorMessage,omitempty"`
}
