package models

import (
	"fmt"
	"time"
)

// Weekly grid dimensions: Sunday through Thursday, six periods a day.
const (
	DaysPerWeek   = 5
	PeriodsPerDay = 6
	SlotsPerWeek  = DaysPerWeek * PeriodsPerDay
)

// DayNames maps day indexes to their school-week names.
var DayNames = [DaysPerWeek]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday"}

// SessionType partitions the school day into cohorts.
type SessionType string

const (
	SessionMorning SessionType = "morning"
	SessionEvening SessionType = "evening"
)

// Valid reports whether the session type is a known cohort.
func (s SessionType) Valid() bool {
	return s == SessionMorning || s == SessionEvening
}

// GridIdentity is the ownership tuple of one published or candidate grid.
type GridIdentity struct {
	AcademicYearID string      `json:"academicYearId"`
	SessionType    SessionType `json:"sessionType"`
	ClassID        string      `json:"classId"`
	Section        string      `json:"section"`
}

// String renders the identity for logs and lock keys.
func (id GridIdentity) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", id.AcademicYearID, id.SessionType, id.ClassID, id.Section)
}

// ClassScope drops the section, identifying the whole class's run.
func (id GridIdentity) ClassScope() string {
	return fmt.Sprintf("%s/%s/%s", id.AcademicYearID, id.SessionType, id.ClassID)
}

// ScheduleCell is the atomic unit of a published or candidate grid.
type ScheduleCell struct {
	ID             string      `db:"id" json:"id,omitempty"`
	AcademicYearID string      `db:"academic_year_id" json:"academicYearId"`
	SessionType    SessionType `db:"session_type" json:"sessionType"`
	ClassID        string      `db:"class_id" json:"classId"`
	Section        string      `db:"section" json:"section"`
	Day            int         `db:"day" json:"day"`
	Period         int         `db:"period" json:"period"`
	SubjectID      string      `db:"subject_id" json:"subjectId"`
	TeacherID      string      `db:"teacher_id" json:"teacherId"`
	ScheduleName   string      `db:"schedule_name" json:"scheduleName,omitempty"`
	PublishedAt    *time.Time  `db:"published_at" json:"publishedAt,omitempty"`
}

// Identity returns the owning grid tuple of the cell.
func (c ScheduleCell) Identity() GridIdentity {
	return GridIdentity{
		AcademicYearID: c.AcademicYearID,
		SessionType:    c.SessionType,
		ClassID:        c.ClassID,
		Section:        c.Section,
	}
}

// ScheduleGrid is a complete 30-cell candidate for one class/section.
type ScheduleGrid struct {
	Identity GridIdentity   `json:"identity"`
	Cells    []ScheduleCell `json:"cells"`
}

// SubjectRequirement is derived per generation request and never persisted.
// A nil Section means the pairing spans every section of the class and
// WeeklyHoursOwed already includes the section-count multiplier.
type SubjectRequirement struct {
	ClassID         string  `json:"classId"`
	SubjectID       string  `json:"subjectId"`
	SubjectName     string  `json:"subjectName"`
	TeacherID       string  `json:"teacherId"`
	TeacherName     string  `json:"teacherName"`
	Section         *string `json:"section"`
	WeeklyHoursOwed int     `json:"weeklyHoursOwed"`
}

// ObstructionKind classifies feasibility failures.
type ObstructionKind string

const (
	ObstructionHoursSum           ObstructionKind = "hours_sum_mismatch"
	ObstructionTeacherCapacity    ObstructionKind = "teacher_capacity"
	ObstructionGuaranteedEmpty    ObstructionKind = "guaranteed_empty_slot"
	ObstructionConstraintExcluded ObstructionKind = "constraint_exclusion"
	ObstructionUnassignedSubject  ObstructionKind = "unassigned_subject"
	ObstructionSlotCoverage       ObstructionKind = "slot_coverage"
)

// Obstruction is one reason generation cannot proceed. The full list is
// always reported; callers never see just the first failure.
type Obstruction struct {
	Kind         ObstructionKind `json:"kind"`
	SubjectID    string          `json:"subjectId,omitempty"`
	SubjectName  string          `json:"subjectName,omitempty"`
	TeacherID    string          `json:"teacherId,omitempty"`
	TeacherName  string          `json:"teacherName,omitempty"`
	Section      string          `json:"section,omitempty"`
	ConstraintID string          `json:"constraintId,omitempty"`
	Day          *int            `json:"day,omitempty"`
	Period       *int            `json:"period,omitempty"`
	MissingHours int             `json:"missingHours,omitempty"`
	Detail       string          `json:"detail"`
}

// FeasibilityReport is the complete outcome of the pre-generation check.
type FeasibilityReport struct {
	Feasible     bool          `json:"feasible"`
	Obstructions []Obstruction `json:"obstructions"`
}

// IntegrityKind classifies post-generation grid defects.
type IntegrityKind string

const (
	IntegrityMissingCell         IntegrityKind = "missing_cell"
	IntegrityTeacherOverlap      IntegrityKind = "teacher_overlap"
	IntegrityRequirementMismatch IntegrityKind = "requirement_mismatch"
)

// IntegrityViolation pinpoints one defect found in a candidate grid batch.
type IntegrityViolation struct {
	Kind      IntegrityKind `json:"kind"`
	Section   string        `json:"section,omitempty"`
	Day       *int          `json:"day,omitempty"`
	Period    *int          `json:"period,omitempty"`
	SubjectID string        `json:"subjectId,omitempty"`
	TeacherID string        `json:"teacherId,omitempty"`
	Detail    string        `json:"detail"`
}

// ConflictKind classifies diagnostics over published grids.
type ConflictKind string

const (
	ConflictTeacherOverlap      ConflictKind = "teacher_overlap"
	ConflictConstraintViolation ConflictKind = "constraint_violation"
	ConflictAvailabilityDesync  ConflictKind = "availability_desync"
)

// ConflictDetail describes one violation found in published data.
type ConflictDetail struct {
	Kind         ConflictKind `json:"kind"`
	Day          int          `json:"day"`
	Period       int          `json:"period"`
	TeacherID    string       `json:"teacherId,omitempty"`
	TeacherName  string       `json:"teacherName,omitempty"`
	SubjectID    string       `json:"subjectId,omitempty"`
	ConstraintID string       `json:"constraintId,omitempty"`
	CellIDs      []string     `json:"cellIds,omitempty"`
	Description  string       `json:"description"`
}

// RunStatus tracks a generation request through its state machine.
type RunStatus string

const (
	RunRequested           RunStatus = "requested"
	RunValidating          RunStatus = "validating"
	RunGenerating          RunStatus = "generating"
	RunPreviewReady        RunStatus = "preview_ready"
	RunPublished           RunStatus = "published"
	RunDiscarded           RunStatus = "discarded"
	RunFeasibilityRejected RunStatus = "feasibility_rejected"
	RunFailed              RunStatus = "failed"
)

// GenerationRun is the persisted record of one generation attempt.
type GenerationRun struct {
	ID               string      `db:"id" json:"id"`
	AcademicYearID   string      `db:"academic_year_id" json:"academicYearId"`
	SessionType      SessionType `db:"session_type" json:"sessionType"`
	ClassID          string      `db:"class_id" json:"classId"`
	Status           RunStatus   `db:"status" json:"status"`
	ScheduleName     string      `db:"schedule_name" json:"scheduleName"`
	ObstructionCount int         `db:"obstruction_count" json:"obstructionCount"`
	CellCount        int         `db:"cell_count" json:"cellCount"`
	ErrorMessage     *string     `db:"error_message" json:"errorMessage,omitempty"`
	DurationMs       int64       `db:"duration_ms" json:"durationMs"`
	CreatedAt        time.Time   `db:"created_at" json:"createdAt"`
}

// GenerationRunFilter narrows run-history listings.
type GenerationRunFilter struct {
	AcademicYearID string
	SessionType    SessionType
	ClassID        string
	Page           int
	PageSize       int
}

// PublishResult reports a successful atomic publish.
type PublishResult struct {
	ScheduleName   string   `json:"scheduleName"`
	PublishedCount int      `json:"publishedCount"`
	Sections       []string `json:"sections"`
}

// DeleteResult reports a completed deletion with restored availability.
type DeleteResult struct {
	DeletedCount     int      `json:"deletedCount"`
	RestoredTeachers []string `json:"restoredTeachers"`
}

// PublishedScheduleSummary lists one published grid's identity and size.
type PublishedScheduleSummary struct {
	AcademicYearID string      `db:"academic_year_id" json:"academicYearId"`
	SessionType    SessionType `db:"session_type" json:"sessionType"`
	ClassID        string      `db:"class_id" json:"classId"`
	Section        string      `db:"section" json:"section"`
	ScheduleName   string      `db:"schedule_name" json:"scheduleName"`
	CellCount      int         `db:"cell_count" json:"cellCount"`
	TeacherCount   int         `db:"teacher_count" json:"teacherCount"`
	PublishedAt    *time.Time  `db:"published_at" json:"publishedAt,omitempty"`
}

// AvailabilityConflictCell names one stale slot found by publish-time
// re-validation.
type AvailabilityConflictCell struct {
	TeacherID   string     `json:"teacherId"`
	TeacherName string     `json:"teacherName,omitempty"`
	Day         int        `json:"day"`
	Period      int        `json:"period"`
	Status      SlotStatus `json:"status"`
}
