package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// CatalogRepository reads the class/subject/teacher/assignment catalogs
// maintained by the platform's administration modules. Strictly read-only.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetClass loads a class row.
func (r *CatalogRepository) GetClass(ctx context.Context, classID string) (*models.Class, error) {
	const query = `SELECT id, academic_year_id, session_type, grade_label, section_count FROM classes WHERE id = $1`
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, classID); err != nil {
		return nil, err
	}
	return &class, nil
}

// ListSubjectsByClass returns the active subjects owed to a class.
func (r *CatalogRepository) ListSubjectsByClass(ctx context.Context, classID string) ([]models.Subject, error) {
	const query = `SELECT id, class_id, name, weekly_hours, active FROM subjects WHERE class_id = $1 AND active = TRUE ORDER BY weekly_hours DESC, id ASC`
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, classID); err != nil {
		return nil, fmt.Errorf("list class subjects: %w", err)
	}
	return subjects, nil
}

// ListAssignmentsByClass returns every teacher assignment of a class.
func (r *CatalogRepository) ListAssignmentsByClass(ctx context.Context, classID string) ([]models.TeacherAssignment, error) {
	const query = `SELECT id, teacher_id, class_id, subject_id, section FROM teacher_assignments WHERE class_id = $1 ORDER BY subject_id ASC, section ASC NULLS FIRST`
	var assignments []models.TeacherAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, classID); err != nil {
		return nil, fmt.Errorf("list teacher assignments: %w", err)
	}
	return assignments, nil
}

// GetTeacher loads one teacher projection.
func (r *CatalogRepository) GetTeacher(ctx context.Context, teacherID string) (*models.Teacher, error) {
	const query = `SELECT id, full_name, active FROM teachers WHERE id = $1`
	var teacher models.Teacher
	if err := r.db.GetContext(ctx, &teacher, query, teacherID); err != nil {
		return nil, err
	}
	return &teacher, nil
}

// ListTeachersByIDs resolves teacher names for a set of ids.
func (r *CatalogRepository) ListTeachersByIDs(ctx context.Context, teacherIDs []string) (map[string]models.Teacher, error) {
	teachers := make(map[string]models.Teacher, len(teacherIDs))
	if len(teacherIDs) == 0 {
		return teachers, nil
	}
	query, args, err := sqlx.In(`SELECT id, full_name, active FROM teachers WHERE id IN (?)`, teacherIDs)
	if err != nil {
		return nil, fmt.Errorf("build teacher query: %w", err)
	}
	query = r.db.Rebind(query)

	var rows []models.Teacher
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list teachers: %w", err)
	}
	for _, teacher := range rows {
		teachers[teacher.ID] = teacher
	}
	return teachers, nil
}
