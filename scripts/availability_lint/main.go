// Command availability_lint audits stored teacher availability grids. The API
// rejects malformed grids at read time instead of repairing them, so rows
// imported from the legacy system or edited by hand surface here before they
// start failing requests. With -assignments it also cross-checks assigned
// slots against the published schedule cells that should back them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/pkg/config"
	"github.com/noah-isme/sma-timetable-api/pkg/database"
)

type gridRow struct {
	TeacherID string    `db:"teacher_id"`
	Slots     []byte    `db:"slots"`
	UpdatedAt time.Time `db:"updated_at"`
}

type cellRow struct {
	TeacherID      string             `db:"teacher_id"`
	AcademicYearID string             `db:"academic_year_id"`
	SessionType    models.SessionType `db:"session_type"`
	ClassID        string             `db:"class_id"`
	Section        string             `db:"section"`
	SubjectID      string             `db:"subject_id"`
	ScheduleName   string             `db:"schedule_name"`
	Day            int                `db:"day"`
	Period         int                `db:"period"`
}

func (c cellRow) identity() models.GridIdentity {
	return models.GridIdentity{
		AcademicYearID: c.AcademicYearID,
		SessionType:    c.SessionType,
		ClassID:        c.ClassID,
		Section:        c.Section,
	}
}

type finding struct {
	TeacherID string
	Kind      string
	Detail    string
}

func main() {
	var (
		teacherID        string
		checkAssignments bool
		timeout          time.Duration
	)
	flag.StringVar(&teacherID, "teacher", "", "Lint a single teacher instead of every stored grid")
	flag.BoolVar(&checkAssignments, "assignments", false, "Cross-check assigned slots against published schedule cells")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Overall database timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	grids, err := loadGrids(ctx, db, teacherID)
	if err != nil {
		log.Fatalf("failed to load availability grids: %v", err)
	}

	var cells []cellRow
	if checkAssignments {
		cells, err = loadCells(ctx, db, teacherID)
		if err != nil {
			log.Fatalf("failed to load schedule cells: %v", err)
		}
	}

	findings := lint(grids, cells, checkAssignments)
	printReport(findings)

	fmt.Printf("Grids checked: %d, Findings: %d\n", len(grids), len(findings))
	if len(findings) > 0 {
		os.Exit(1)
	}
}

func loadGrids(ctx context.Context, db *sqlx.DB, teacherID string) ([]gridRow, error) {
	query := `SELECT teacher_id, slots, updated_at FROM teacher_availability`
	args := []interface{}{}
	if teacherID != "" {
		query += ` WHERE teacher_id = $1`
		args = append(args, teacherID)
	}
	query += ` ORDER BY teacher_id`

	var rows []gridRow
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func loadCells(ctx context.Context, db *sqlx.DB, teacherID string) ([]cellRow, error) {
	query := `SELECT teacher_id, academic_year_id, session_type, class_id, section, subject_id, schedule_name, day, period FROM schedule_cells`
	args := []interface{}{}
	if teacherID != "" {
		query += ` WHERE teacher_id = $1`
		args = append(args, teacherID)
	}
	query += ` ORDER BY teacher_id, day, period`

	var rows []cellRow
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func lint(grids []gridRow, cells []cellRow, checkAssignments bool) []finding {
	var findings []finding

	parsed := make(map[string]models.AvailabilityGrid, len(grids))
	for _, row := range grids {
		grid, err := models.ParseAvailabilityGrid(row.Slots)
		if err != nil {
			findings = append(findings, finding{
				TeacherID: row.TeacherID,
				Kind:      "malformed",
				Detail:    err.Error(),
			})
			continue
		}
		parsed[row.TeacherID] = grid
	}

	if !checkAssignments {
		return findings
	}

	// Every published cell must be backed by an assigned slot pointing at
	// the same grid identity.
	covered := make(map[string]map[int]bool, len(parsed))
	for _, cell := range cells {
		grid, ok := parsed[cell.TeacherID]
		if !ok {
			findings = append(findings, finding{
				TeacherID: cell.TeacherID,
				Kind:      "desync",
				Detail:    fmt.Sprintf("published cell %s day %d period %d has no availability row", cell.identity(), cell.Day, cell.Period),
			})
			continue
		}
		if covered[cell.TeacherID] == nil {
			covered[cell.TeacherID] = make(map[int]bool, models.SlotsPerWeek)
		}
		covered[cell.TeacherID][cell.Day*models.PeriodsPerDay+cell.Period] = true

		slot := grid.Slot(cell.Day, cell.Period)
		switch {
		case slot.Status != models.SlotAssigned:
			findings = append(findings, finding{
				TeacherID: cell.TeacherID,
				Kind:      "desync",
				Detail:    fmt.Sprintf("published cell %s day %d period %d expects an assigned slot, found %q", cell.identity(), cell.Day, cell.Period, slot.Status),
			})
		case !slot.Assignment.Matches(cell.identity()):
			findings = append(findings, finding{
				TeacherID: cell.TeacherID,
				Kind:      "desync",
				Detail:    fmt.Sprintf("slot day %d period %d is assigned to a different grid than published cell %s", cell.Day, cell.Period, cell.identity()),
			})
		}
	}

	// The reverse direction: an assigned slot nothing published points at is
	// a leak that permanently blocks the teacher's slot.
	for teacherID, grid := range parsed {
		for i, slot := range grid {
			if slot.Status != models.SlotAssigned {
				continue
			}
			if !covered[teacherID][i] {
				findings = append(findings, finding{
					TeacherID: teacherID,
					Kind:      "orphan",
					Detail:    fmt.Sprintf("slot day %d period %d is assigned but no published cell consumes it", slot.Day, slot.Period),
				})
			}
		}
	}

	return findings
}

func printReport(findings []finding) {
	fmt.Println("Availability Lint Report")
	fmt.Println("========================")
	if len(findings) == 0 {
		fmt.Println("[OK] every stored grid is well-formed")
		return
	}
	for _, f := range findings {
		fmt.Printf("[%s] teacher %s\n", f.Kind, f.TeacherID)
		fmt.Printf("  %s\n", f.Detail)
	}
}
