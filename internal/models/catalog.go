package models

// Catalog shapes consumed from the platform's administration modules.
// This service reads them and never writes.

// Class identifies a grade cohort and how many sections it splits into.
type Class struct {
	ID             string      `db:"id" json:"id"`
	AcademicYearID string      `db:"academic_year_id" json:"academicYearId"`
	SessionType    SessionType `db:"session_type" json:"sessionType"`
	GradeLabel     string      `db:"grade_label" json:"gradeLabel"`
	SectionCount   int         `db:"section_count" json:"sectionCount"`
}

// Subject carries the weekly period quota owed to a class.
type Subject struct {
	ID          string `db:"id" json:"id"`
	ClassID     string `db:"class_id" json:"classId"`
	Name        string `db:"name" json:"name"`
	WeeklyHours int    `db:"weekly_hours" json:"weeklyHours"`
	Active      bool   `db:"active" json:"active"`
}

// Teacher is the catalog projection needed for scheduling.
type Teacher struct {
	ID       string `db:"id" json:"id"`
	FullName string `db:"full_name" json:"fullName"`
	Active   bool   `db:"active" json:"active"`
}

// TeacherAssignment links a teacher to a subject within a class. A nil
// Section means the assignment spans every section of the class.
type TeacherAssignment struct {
	ID        string  `db:"id" json:"id"`
	TeacherID string  `db:"teacher_id" json:"teacherId"`
	ClassID   string  `db:"class_id" json:"classId"`
	SubjectID string  `db:"subject_id" json:"subjectId"`
	Section   *string `db:"section" json:"section,omitempty"`
}

// CoversSection reports whether the assignment serves the named section.
func (a TeacherAssignment) CoversSection(section string) bool {
	return a.Section == nil || *a.Section == "" || *a.Section == section
}

// SectionSpecific reports whether the assignment targets one exact section.
func (a TeacherAssignment) SectionSpecific() bool {
	return a.Section != nil && *a.Section != ""
}
