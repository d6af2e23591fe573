package models

import "time"

// ConstraintType enumerates structural scheduling rules.
type ConstraintType string

const (
	ConstraintForbidden      ConstraintType = "forbidden"
	ConstraintRequired       ConstraintType = "required"
	ConstraintMaxConsecutive ConstraintType = "max_consecutive"
	ConstraintMinBreak       ConstraintType = "min_break"
)

// Valid reports whether the constraint type is known.
func (t ConstraintType) Valid() bool {
	switch t {
	case ConstraintForbidden, ConstraintRequired, ConstraintMaxConsecutive, ConstraintMinBreak:
		return true
	}
	return false
}

// Constraint priority bounds, low to critical.
const (
	ConstraintPriorityMin = 1
	ConstraintPriorityMax = 4
)

// ScheduleConstraint is a structural rule owned by an academic year and
// shared read-only across every generation run within it.
type ScheduleConstraint struct {
	ID                   string         `db:"id" json:"id"`
	AcademicYearID       string         `db:"academic_year_id" json:"academicYearId"`
	Type                 ConstraintType `db:"constraint_type" json:"type"`
	ClassID              *string        `db:"class_id" json:"classId,omitempty"`
	SubjectID            *string        `db:"subject_id" json:"subjectId,omitempty"`
	TeacherID            *string        `db:"teacher_id" json:"teacherId,omitempty"`
	Day                  *int           `db:"day" json:"day,omitempty"`
	Period               *int           `db:"period" json:"period,omitempty"`
	PeriodRangeStart     *int           `db:"period_range_start" json:"periodRangeStart,omitempty"`
	PeriodRangeEnd       *int           `db:"period_range_end" json:"periodRangeEnd,omitempty"`
	MaxConsecutive       *int           `db:"max_consecutive" json:"maxConsecutive,omitempty"`
	MinBreak             *int           `db:"min_break" json:"minBreak,omitempty"`
	AppliesToAllSections bool           `db:"applies_to_all_sections" json:"appliesToAllSections"`
	SessionType          string         `db:"session_type" json:"sessionType"`
	Priority             int            `db:"priority" json:"priority"`
	Description          string         `db:"description" json:"description,omitempty"`
	Active               bool           `db:"active" json:"active"`
	CreatedAt            time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time      `db:"updated_at" json:"updatedAt"`
}

// AppliesToSession reports whether the constraint binds the given cohort.
// Constraints stored with session "both" bind every cohort.
func (c ScheduleConstraint) AppliesToSession(session SessionType) bool {
	return c.SessionType == "both" || c.SessionType == string(session)
}

// MatchesTarget reports whether the constraint's subject/teacher/class scope
// covers the given pairing. Nil scope fields match anything.
func (c ScheduleConstraint) MatchesTarget(classID, subjectID, teacherID string) bool {
	if c.ClassID != nil && *c.ClassID != classID {
		return false
	}
	if c.SubjectID != nil && *c.SubjectID != subjectID {
		return false
	}
	if c.TeacherID != nil && *c.TeacherID != teacherID {
		return false
	}
	return true
}

// ForbidsSlot reports whether a forbidden constraint excludes (day, period).
// A nil day or period scopes the rule to every day or period respectively;
// a period range bounds the exclusion window.
func (c ScheduleConstraint) ForbidsSlot(day, period int) bool {
	if c.Type != ConstraintForbidden {
		return false
	}
	if c.Day != nil && *c.Day != day {
		return false
	}
	if c.Period != nil && *c.Period != period {
		return false
	}
	if c.PeriodRangeStart != nil && period < *c.PeriodRangeStart {
		return false
	}
	if c.PeriodRangeEnd != nil && period > *c.PeriodRangeEnd {
		return false
	}
	return true
}

// AllowsPeriod reports whether a required-window constraint admits the
// period. Required constraints confine a subject to a period range.
func (c ScheduleConstraint) AllowsPeriod(period int) bool {
	if c.Type != ConstraintRequired {
		return true
	}
	if c.PeriodRangeStart != nil && period < *c.PeriodRangeStart {
		return false
	}
	if c.PeriodRangeEnd != nil && period > *c.PeriodRangeEnd {
		return false
	}
	if c.Period != nil && *c.Period != period {
		return false
	}
	return true
}

// ConstraintFilter narrows constraint listings.
type ConstraintFilter struct {
	AcademicYearID string
	ClassID        string
	SubjectID      string
	TeacherID      string
	Type           ConstraintType
	ActiveOnly     bool
}
