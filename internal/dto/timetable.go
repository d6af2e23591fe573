package dto

import (
	"time"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// FeasibilityRequest asks whether a class can be scheduled at all.
type FeasibilityRequest struct {
	AcademicYearID string `json:"academicYearId" validate:"required"`
	SessionType    string `json:"sessionType" validate:"required,oneof=morning evening"`
	ClassID        string `json:"classId" validate:"required"`
}

// FeasibilityResponse reports the complete obstruction list, never just the
// first finding.
type FeasibilityResponse struct {
	Feasible     bool                        `json:"feasible"`
	Obstructions []models.Obstruction        `json:"obstructions"`
	Requirements []models.SubjectRequirement `json:"requirements"`
}

// GeneratePreviewRequest starts a generation run for every section of a class.
type GeneratePreviewRequest struct {
	AcademicYearID string `json:"academicYearId" validate:"required"`
	SessionType    string `json:"sessionType" validate:"required,oneof=morning evening"`
	ClassID        string `json:"classId" validate:"required"`
	ScheduleName   string `json:"scheduleName" validate:"required,min=3,max=120"`
}

// SectionGrid is one section's complete candidate grid.
type SectionGrid struct {
	Section string                `json:"section"`
	Cells   []models.ScheduleCell `json:"cells"`
}

// PreviewResponse returns an unpersisted candidate held under a token until
// it is published or discarded.
type PreviewResponse struct {
	PreviewToken string        `json:"previewToken"`
	ExpiresAt    time.Time     `json:"expiresAt"`
	ScheduleName string        `json:"scheduleName"`
	ClassID      string        `json:"classId"`
	SessionType  string        `json:"sessionType"`
	CellCount    int           `json:"cellCount"`
	Sections     []SectionGrid `json:"sections"`
}

// PublishRequest commits a preview. Either a token references a held
// preview, or the identity fields regenerate and publish in one step.
type PublishRequest struct {
	PreviewToken   string `json:"previewToken" validate:"omitempty,uuid4"`
	AcademicYearID string `json:"academicYearId" validate:"required_without=PreviewToken"`
	SessionType    string `json:"sessionType" validate:"required_without=PreviewToken,omitempty,oneof=morning evening"`
	ClassID        string `json:"classId" validate:"required_without=PreviewToken"`
	ScheduleName   string `json:"scheduleName" validate:"required_without=PreviewToken,omitempty,min=3,max=120"`
}

// PublishResponse reports a completed atomic publish.
type PublishResponse struct {
	ScheduleName   string   `json:"scheduleName"`
	PublishedCount int      `json:"publishedCount"`
	Sections       []string `json:"sections"`
}

// DeleteScheduleRequest identifies the published grid to remove.
type DeleteScheduleRequest struct {
	AcademicYearID string `form:"academicYearId" json:"academicYearId" validate:"required"`
	SessionType    string `form:"sessionType" json:"sessionType" validate:"required,oneof=morning evening"`
	ClassID        string `form:"classId" json:"classId" validate:"required"`
	Section        string `form:"section" json:"section" validate:"required"`
}

// DeleteScheduleResponse reports removed cells and restored teachers.
type DeleteScheduleResponse struct {
	DeletedCount     int      `json:"deletedCount"`
	RestoredTeachers []string `json:"restoredTeachers"`
}

// ConflictQuery scopes the published-data diagnostic.
type ConflictQuery struct {
	AcademicYearID string `form:"academicYearId" validate:"required"`
	SessionType    string `form:"sessionType" validate:"required,oneof=morning evening"`
	ClassID        string `form:"classId"`
}

// ConflictResponse lists violations found in already-published grids.
type ConflictResponse struct {
	Conflicts []models.ConflictDetail `json:"conflicts"`
}

// WeeklyViewQuery identifies one published section grid.
type WeeklyViewQuery struct {
	AcademicYearID string `form:"academicYearId" validate:"required"`
	SessionType    string `form:"sessionType" validate:"required,oneof=morning evening"`
	ClassID        string `form:"classId" validate:"required"`
	Section        string `form:"section" validate:"required"`
}

// WeeklyViewCell is one rendered period of the weekly matrix.
type WeeklyViewCell struct {
	SubjectID   string `json:"subjectId"`
	SubjectName string `json:"subjectName"`
	TeacherID   string `json:"teacherId"`
	TeacherName string `json:"teacherName"`
}

// WeeklyViewDay groups the six periods of one school day.
type WeeklyViewDay struct {
	Day     int              `json:"day"`
	DayName string           `json:"dayName"`
	Periods []WeeklyViewCell `json:"periods"`
}

// WeeklyViewResponse renders a published grid for display.
type WeeklyViewResponse struct {
	AcademicYearID string          `json:"academicYearId"`
	SessionType    string          `json:"sessionType"`
	ClassID        string          `json:"classId"`
	Section        string          `json:"section"`
	ScheduleName   string          `json:"scheduleName"`
	PublishedAt    *time.Time      `json:"publishedAt,omitempty"`
	Days           []WeeklyViewDay `json:"days"`
}

// ScheduleListQuery scopes the published-schedule listing.
type ScheduleListQuery struct {
	AcademicYearID string `form:"academicYearId" validate:"required"`
	SessionType    string `form:"sessionType" validate:"required,oneof=morning evening"`
}

// GenerationRunQuery pages through run history.
type GenerationRunQuery struct {
	AcademicYearID string `form:"academicYearId" validate:"required"`
	SessionType    string `form:"sessionType" validate:"required,oneof=morning evening"`
	ClassID        string `form:"classId"`
	Page           int    `form:"page" validate:"omitempty,min=1"`
	PageSize       int    `form:"pageSize" validate:"omitempty,min=1,max=100"`
}
