package dto

// CreateConstraintRequest registers a structural scheduling rule.
type CreateConstraintRequest struct {
	AcademicYearID       string  `json:"academicYearId" validate:"required"`
	Type                 string  `json:"type" validate:"required,oneof=forbidden required max_consecutive min_break"`
	ClassID              *string `json:"classId"`
	SubjectID            *string `json:"subjectId"`
	TeacherID            *string `json:"teacherId"`
	Day                  *int    `json:"day" validate:"omitempty,min=0,max=4"`
	Period               *int    `json:"period" validate:"omitempty,min=0,max=5"`
	PeriodRangeStart     *int    `json:"periodRangeStart" validate:"omitempty,min=0,max=5"`
	PeriodRangeEnd       *int    `json:"periodRangeEnd" validate:"omitempty,min=0,max=5"`
	MaxConsecutive       *int    `json:"maxConsecutive" validate:"omitempty,min=1,max=6"`
	MinBreak             *int    `json:"minBreak" validate:"omitempty,min=1,max=5"`
	AppliesToAllSections bool    `json:"appliesToAllSections"`
	SessionType          string  `json:"sessionType" validate:"required,oneof=morning evening both"`
	Priority             int     `json:"priority" validate:"required,min=1,max=4"`
	Description          string  `json:"description" validate:"max=255"`
	Active               *bool   `json:"active"`
}

// UpdateConstraintRequest replaces the mutable fields of a rule.
type UpdateConstraintRequest struct {
	Type                 string  `json:"type" validate:"required,oneof=forbidden required max_consecutive min_break"`
	ClassID              *string `json:"classId"`
	SubjectID            *string `json:"subjectId"`
	TeacherID            *string `json:"teacherId"`
	Day                  *int    `json:"day" validate:"omitempty,min=0,max=4"`
	Period               *int    `json:"period" validate:"omitempty,min=0,max=5"`
	PeriodRangeStart     *int    `json:"periodRangeStart" validate:"omitempty,min=0,max=5"`
	PeriodRangeEnd       *int    `json:"periodRangeEnd" validate:"omitempty,min=0,max=5"`
	MaxConsecutive       *int    `json:"maxConsecutive" validate:"omitempty,min=1,max=6"`
	MinBreak             *int    `json:"minBreak" validate:"omitempty,min=1,max=5"`
	AppliesToAllSections bool    `json:"appliesToAllSections"`
	SessionType          string  `json:"sessionType" validate:"required,oneof=morning evening both"`
	Priority             int     `json:"priority" validate:"required,min=1,max=4"`
	Description          string  `json:"description" validate:"max=255"`
	Active               *bool   `json:"active"`
}

// ConstraintQuery filters the constraint listing.
type ConstraintQuery struct {
	AcademicYearID string `form:"academicYearId" validate:"required"`
	ClassID        string `form:"classId"`
	SubjectID      string `form:"subjectId"`
	TeacherID      string `form:"teacherId"`
	Type           string `form:"type" validate:"omitempty,oneof=forbidden required max_consecutive min_break"`
	ActiveOnly     bool   `form:"activeOnly"`
}
