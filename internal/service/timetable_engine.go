package service

import (
	"fmt"
	"sort"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// The engine is the pure, in-memory half of timetable generation: it derives
// requirements, checks feasibility, distributes slots, and validates the
// result. It never touches storage; TimetableService feeds it snapshots and
// persists what it approves.

// sectionNames derives the section labels of a class ("A", "B", ...).
func sectionNames(count int) []string {
	if count <= 0 {
		count = 1
	}
	names := make([]string, count)
	for i := 0; i < count; i++ {
		names[i] = string(rune('A' + i))
	}
	return names
}

// uncoveredSubject is a subject/section with no teacher assignment.
type uncoveredSubject struct {
	subject models.Subject
	section string
}

// requirementPlan is the derived requirement set of one generation request.
// It is recomputed from the catalogs on every request and never persisted.
type requirementPlan struct {
	classID  string
	sections []string

	// bySection holds the per-section working set: each requirement's
	// Section is concrete and WeeklyHoursOwed is the unmultiplied subject
	// quota for that one section.
	bySection map[string][]models.SubjectRequirement

	// canonical is the reporting view: one entry per assignment, with a
	// nil Section carrying the section-count multiplier.
	canonical []models.SubjectRequirement

	// teacherOwed aggregates hours owed per teacher across every section.
	teacherOwed map[string]int
	teacherIDs  []string

	uncovered []uncoveredSubject
}

// buildRequirementPlan derives per-section subject requirements from the
// class catalog. When several assignments cover the same subject and
// section, the first in catalog order wins.
func buildRequirementPlan(class *models.Class, subjects []models.Subject, assignments []models.TeacherAssignment, teachers map[string]models.Teacher) *requirementPlan {
	plan := &requirementPlan{
		classID:     class.ID,
		sections:    sectionNames(class.SectionCount),
		bySection:   make(map[string][]models.SubjectRequirement),
		teacherOwed: make(map[string]int),
	}

	assignmentsBySubject := make(map[string][]models.TeacherAssignment)
	for _, assignment := range assignments {
		assignmentsBySubject[assignment.SubjectID] = append(assignmentsBySubject[assignment.SubjectID], assignment)
	}

	teacherName := func(id string) string {
		if teacher, ok := teachers[id]; ok {
			return teacher.FullName
		}
		return ""
	}

	seenTeacher := make(map[string]bool)
	for _, subject := range subjects {
		subjectAssignments := assignmentsBySubject[subject.ID]

		var classWide *models.TeacherAssignment
		sectionOwner := make(map[string]*models.TeacherAssignment)
		for i := range subjectAssignments {
			assignment := &subjectAssignments[i]
			if assignment.SectionSpecific() {
				if sectionOwner[*assignment.Section] == nil {
					sectionOwner[*assignment.Section] = assignment
				}
				continue
			}
			if classWide == nil {
				classWide = assignment
			}
		}

		classWideSections := 0
		for _, section := range plan.sections {
			owner := sectionOwner[section]
			if owner == nil {
				owner = classWide
			}
			if owner == nil {
				plan.uncovered = append(plan.uncovered, uncoveredSubject{subject: subject, section: section})
				continue
			}
			if owner.SectionSpecific() {
				sectionCopy := section
				plan.canonical = append(plan.canonical, models.SubjectRequirement{
					ClassID:         class.ID,
					SubjectID:       subject.ID,
					SubjectName:     subject.Name,
					TeacherID:       owner.TeacherID,
					TeacherName:     teacherName(owner.TeacherID),
					Section:         &sectionCopy,
					WeeklyHoursOwed: subject.WeeklyHours,
				})
			} else {
				classWideSections++
			}
			sectionCopy := section
			plan.bySection[section] = append(plan.bySection[section], models.SubjectRequirement{
				ClassID:         class.ID,
				SubjectID:       subject.ID,
				SubjectName:     subject.Name,
				TeacherID:       owner.TeacherID,
				TeacherName:     teacherName(owner.TeacherID),
				Section:         &sectionCopy,
				WeeklyHoursOwed: subject.WeeklyHours,
			})
			plan.teacherOwed[owner.TeacherID] += subject.WeeklyHours
			if !seenTeacher[owner.TeacherID] {
				seenTeacher[owner.TeacherID] = true
				plan.teacherIDs = append(plan.teacherIDs, owner.TeacherID)
			}
		}

		// The class-wide entry multiplies only over the sections it
		// actually serves; overridden sections carry their own entry.
		if classWide != nil && classWideSections > 0 {
			plan.canonical = append(plan.canonical, models.SubjectRequirement{
				ClassID:         class.ID,
				SubjectID:       subject.ID,
				SubjectName:     subject.Name,
				TeacherID:       classWide.TeacherID,
				TeacherName:     teacherName(classWide.TeacherID),
				Section:         nil,
				WeeklyHoursOwed: subject.WeeklyHours * classWideSections,
			})
		}
	}
	sort.Strings(plan.teacherIDs)
	return plan
}

// --- Feasibility ---

// slotExcluded reports whether constraints remove (day, period) for a
// pairing. Forbidden rules veto matching cells; required rules confine the
// subject to their window. MaxConsecutive and minBreak are diagnostic-only
// and never filter candidates.
func slotExcluded(constraints []models.ScheduleConstraint, session models.SessionType, classID string, req models.SubjectRequirement, day, period int) (bool, string) {
	for _, constraint := range constraints {
		if !constraint.Active || !constraint.AppliesToSession(session) {
			continue
		}
		if !constraint.MatchesTarget(classID, req.SubjectID, req.TeacherID) {
			continue
		}
		if constraint.ForbidsSlot(day, period) {
			return true, constraint.ID
		}
		if !constraint.AllowsPeriod(period) {
			return true, constraint.ID
		}
	}
	return false, ""
}

// pairingCapacity counts how many cells remain placeable for a requirement:
// free in the teacher's grid and not excluded by constraints. It also
// reports the unconstrained free count and the first constraint that vetoed
// an otherwise-free cell, so the caller can tell a capacity shortfall from a
// constraint exclusion.
func pairingCapacity(grid models.AvailabilityGrid, constraints []models.ScheduleConstraint, session models.SessionType, classID string, req models.SubjectRequirement) (eligible, free int, vetoedBy string) {
	for day := 0; day < models.DaysPerWeek; day++ {
		for period := 0; period < models.PeriodsPerDay; period++ {
			if !grid.Slot(day, period).IsFree() {
				continue
			}
			free++
			excluded, constraintID := slotExcluded(constraints, session, classID, req, day, period)
			if excluded {
				if vetoedBy == "" {
					vetoedBy = constraintID
				}
				continue
			}
			eligible++
		}
	}
	return eligible, free, vetoedBy
}

// checkFeasibility runs every pre-generation check and reports the complete
// obstruction list. Nothing short-circuits: the caller always sees the full
// picture.
func checkFeasibility(plan *requirementPlan, availability map[string]models.AvailabilityGrid, constraints []models.ScheduleConstraint, session models.SessionType, teachers map[string]models.Teacher) models.FeasibilityReport {
	obstructions := make([]models.Obstruction, 0)

	teacherName := func(id string) string {
		if teacher, ok := teachers[id]; ok {
			return teacher.FullName
		}
		return ""
	}
	gridFor := func(teacherID string) models.AvailabilityGrid {
		if grid, ok := availability[teacherID]; ok {
			return grid
		}
		return models.NewFreeGrid()
	}

	// Every section's grid holds exactly 30 periods; the owed hours must
	// account for each one.
	for _, section := range plan.sections {
		total := 0
		for _, req := range plan.bySection[section] {
			total += req.WeeklyHoursOwed
		}
		if total != models.SlotsPerWeek {
			obstructions = append(obstructions, models.Obstruction{
				Kind:         models.ObstructionHoursSum,
				Section:      section,
				MissingHours: models.SlotsPerWeek - total,
				Detail:       fmt.Sprintf("section %s owes %d weekly hours, the grid holds exactly %d", section, total, models.SlotsPerWeek),
			})
		}
	}

	for _, gap := range plan.uncovered {
		obstructions = append(obstructions, models.Obstruction{
			Kind:        models.ObstructionUnassignedSubject,
			SubjectID:   gap.subject.ID,
			SubjectName: gap.subject.Name,
			Section:     gap.section,
			Detail:      fmt.Sprintf("subject %s has no teacher assigned for section %s", gap.subject.Name, gap.section),
		})
	}

	// Aggregate capacity: a teacher owing more hours than free cells can
	// never fill their share, regardless of where the cells sit.
	for _, teacherID := range plan.teacherIDs {
		owed := plan.teacherOwed[teacherID]
		free := gridFor(teacherID).FreeCount()
		if owed > free {
			obstructions = append(obstructions, models.Obstruction{
				Kind:         models.ObstructionTeacherCapacity,
				TeacherID:    teacherID,
				TeacherName:  teacherName(teacherID),
				MissingHours: owed - free,
				Detail:       fmt.Sprintf("teacher %s owes %d hours but has only %d free cells", teacherName(teacherID), owed, free),
			})
		}
	}

	// Per-pairing capacity within the subject's eligible cells.
	for _, section := range plan.sections {
		for _, req := range plan.bySection[section] {
			eligible, free, vetoedBy := pairingCapacity(gridFor(req.TeacherID), constraints, session, plan.classID, req)
			if eligible >= req.WeeklyHoursOwed {
				continue
			}
			if free >= req.WeeklyHoursOwed && vetoedBy != "" {
				obstructions = append(obstructions, models.Obstruction{
					Kind:         models.ObstructionConstraintExcluded,
					SubjectID:    req.SubjectID,
					SubjectName:  req.SubjectName,
					TeacherID:    req.TeacherID,
					TeacherName:  req.TeacherName,
					Section:      section,
					ConstraintID: vetoedBy,
					MissingHours: req.WeeklyHoursOwed - eligible,
					Detail:       fmt.Sprintf("constraints leave %d eligible cells for %s in section %s, %d owed", eligible, req.SubjectName, section, req.WeeklyHoursOwed),
				})
				continue
			}
			obstructions = append(obstructions, models.Obstruction{
				Kind:         models.ObstructionGuaranteedEmpty,
				SubjectID:    req.SubjectID,
				SubjectName:  req.SubjectName,
				TeacherID:    req.TeacherID,
				TeacherName:  req.TeacherName,
				Section:      section,
				MissingHours: req.WeeklyHoursOwed - eligible,
				Detail:       fmt.Sprintf("%s has %d eligible free cells for %s in section %s, %d owed", req.TeacherName, eligible, req.SubjectName, section, req.WeeklyHoursOwed),
			})
		}
	}

	// Slot coverage: a cell no pairing can ever reach is a guaranteed hole.
	for _, section := range plan.sections {
		reqs := plan.bySection[section]
		for day := 0; day < models.DaysPerWeek; day++ {
			for period := 0; period < models.PeriodsPerDay; period++ {
				covered := false
				for _, req := range reqs {
					if !gridFor(req.TeacherID).Slot(day, period).IsFree() {
						continue
					}
					if excluded, _ := slotExcluded(constraints, session, plan.classID, req, day, period); excluded {
						continue
					}
					covered = true
					break
				}
				if !covered {
					d, p := day, period
					obstructions = append(obstructions, models.Obstruction{
						Kind:    models.ObstructionSlotCoverage,
						Section: section,
						Day:     &d,
						Period:  &p,
						Detail:  fmt.Sprintf("no subject can occupy %s period %d in section %s", models.DayNames[day], period+1, section),
					})
				}
			}
		}
	}

	return models.FeasibilityReport{Feasible: len(obstructions) == 0, Obstructions: obstructions}
}

// --- Distribution ---

// placementFailure names the exact occurrence the generator could not place.
type placementFailure struct {
	Section     string
	SubjectID   string
	SubjectName string
	TeacherID   string
	Placed      int
	Owed        int
}

func (f *placementFailure) Error() string {
	return fmt.Sprintf("no candidate cell for %s (teacher %s) in section %s: placed %d of %d",
		f.SubjectName, f.TeacherID, f.Section, f.Placed, f.Owed)
}

// sortRequirements orders a section's working set for placement: hardest
// first (descending owed hours), subject id as the deterministic tie-break.
func sortRequirements(reqs []models.SubjectRequirement) []models.SubjectRequirement {
	sorted := make([]models.SubjectRequirement, len(reqs))
	copy(sorted, reqs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].WeeklyHoursOwed != sorted[j].WeeklyHoursOwed {
			return sorted[i].WeeklyHoursOwed > sorted[j].WeeklyHoursOwed
		}
		return sorted[i].SubjectID < sorted[j].SubjectID
	})
	return sorted
}

// generateGrids distributes every owed occurrence over the week. It works on
// a cloned availability snapshot shared across the class's sections, so a
// teacher placed in section A is busy for section B at the same cell. Any
// unplaceable occurrence aborts the whole run; partial grids are never
// returned.
func generateGrids(identity models.GridIdentity, plan *requirementPlan, availability map[string]models.AvailabilityGrid, constraints []models.ScheduleConstraint, scheduleName string) ([]models.ScheduleGrid, *placementFailure) {
	working := make(map[string]models.AvailabilityGrid, len(plan.teacherIDs))
	for _, teacherID := range plan.teacherIDs {
		if grid, ok := availability[teacherID]; ok {
			working[teacherID] = grid.Clone()
			continue
		}
		working[teacherID] = models.NewFreeGrid()
	}

	grids := make([]models.ScheduleGrid, 0, len(plan.sections))
	for _, section := range plan.sections {
		sectionIdentity := identity
		sectionIdentity.Section = section

		var occupied [models.SlotsPerWeek]bool
		perDay := make(map[string]*[models.DaysPerWeek]int)
		cells := make([]models.ScheduleCell, 0, models.SlotsPerWeek)

		for _, req := range sortRequirements(plan.bySection[section]) {
			placedDays := perDay[req.SubjectID]
			if placedDays == nil {
				placedDays = &[models.DaysPerWeek]int{}
				perDay[req.SubjectID] = placedDays
			}
			grid := working[req.TeacherID]

			for placed := 0; placed < req.WeeklyHoursOwed; placed++ {
				bestDay, bestPeriod := -1, -1
				for day := 0; day < models.DaysPerWeek; day++ {
					for period := 0; period < models.PeriodsPerDay; period++ {
						if occupied[day*models.PeriodsPerDay+period] {
							continue
						}
						if !grid.Slot(day, period).IsFree() {
							continue
						}
						if excluded, _ := slotExcluded(constraints, identity.SessionType, plan.classID, req, day, period); excluded {
							continue
						}
						if bestDay == -1 || betterCandidate(placedDays, day, period, bestDay, bestPeriod) {
							bestDay, bestPeriod = day, period
						}
					}
				}
				if bestDay == -1 {
					return nil, &placementFailure{
						Section:     section,
						SubjectID:   req.SubjectID,
						SubjectName: req.SubjectName,
						TeacherID:   req.TeacherID,
						Placed:      placed,
						Owed:        req.WeeklyHoursOwed,
					}
				}

				occupied[bestDay*models.PeriodsPerDay+bestPeriod] = true
				placedDays[bestDay]++
				grid.SetSlot(bestDay, bestPeriod, models.AvailabilitySlot{
					Day:    bestDay,
					Period: bestPeriod,
					Status: models.SlotAssigned,
					Assignment: &models.SlotAssignment{
						AcademicYearID: identity.AcademicYearID,
						SessionType:    identity.SessionType,
						ClassID:        plan.classID,
						Section:        section,
						SubjectID:      req.SubjectID,
						ScheduleName:   scheduleName,
					},
				})
				cells = append(cells, models.ScheduleCell{
					AcademicYearID: identity.AcademicYearID,
					SessionType:    identity.SessionType,
					ClassID:        plan.classID,
					Section:        section,
					Day:            bestDay,
					Period:         bestPeriod,
					SubjectID:      req.SubjectID,
					TeacherID:      req.TeacherID,
					ScheduleName:   scheduleName,
				})
			}
		}

		sort.Slice(cells, func(i, j int) bool {
			if cells[i].Day != cells[j].Day {
				return cells[i].Day < cells[j].Day
			}
			return cells[i].Period < cells[j].Period
		})
		grids = append(grids, models.ScheduleGrid{Identity: sectionIdentity, Cells: cells})
	}
	return grids, nil
}

// betterCandidate prefers the day carrying the fewest placements of this
// subject, then the earliest period, then the earliest day. Spreading a
// subject across the week beats clustering it.
func betterCandidate(placedDays *[models.DaysPerWeek]int, day, period, bestDay, bestPeriod int) bool {
	if placedDays[day] != placedDays[bestDay] {
		return placedDays[day] < placedDays[bestDay]
	}
	if period != bestPeriod {
		return period < bestPeriod
	}
	return day < bestDay
}

// --- Integrity ---

// validateIntegrity re-checks what the generator already promises: full
// grids, no cross-section teacher overlap, and cells that trace back to the
// requirement plan. It guards preview exposure against future algorithm
// changes and must stay even while it never fires.
func validateIntegrity(grids []models.ScheduleGrid, plan *requirementPlan) []models.IntegrityViolation {
	violations := make([]models.IntegrityViolation, 0)

	type teacherSlot struct {
		teacherID string
		day       int
		period    int
	}
	teacherSeen := make(map[teacherSlot]string)

	for _, grid := range grids {
		section := grid.Identity.Section

		var present [models.SlotsPerWeek]bool
		for _, cell := range grid.Cells {
			if cell.Day < 0 || cell.Day >= models.DaysPerWeek || cell.Period < 0 || cell.Period >= models.PeriodsPerDay {
				d, p := cell.Day, cell.Period
				violations = append(violations, models.IntegrityViolation{
					Kind:    models.IntegrityMissingCell,
					Section: section,
					Day:     &d,
					Period:  &p,
					Detail:  fmt.Sprintf("cell (%d,%d) is outside the weekly grid", cell.Day, cell.Period),
				})
				continue
			}
			idx := cell.Day*models.PeriodsPerDay + cell.Period
			if present[idx] {
				d, p := cell.Day, cell.Period
				violations = append(violations, models.IntegrityViolation{
					Kind:    models.IntegrityMissingCell,
					Section: section,
					Day:     &d,
					Period:  &p,
					Detail:  fmt.Sprintf("cell (%d,%d) appears twice in section %s", cell.Day, cell.Period, section),
				})
				continue
			}
			present[idx] = true

			slot := teacherSlot{teacherID: cell.TeacherID, day: cell.Day, period: cell.Period}
			if other, dup := teacherSeen[slot]; dup {
				d, p := cell.Day, cell.Period
				violations = append(violations, models.IntegrityViolation{
					Kind:      models.IntegrityTeacherOverlap,
					Section:   section,
					Day:       &d,
					Period:    &p,
					TeacherID: cell.TeacherID,
					Detail:    fmt.Sprintf("teacher %s holds (%d,%d) in sections %s and %s", cell.TeacherID, cell.Day, cell.Period, other, section),
				})
			} else {
				teacherSeen[slot] = section
			}
		}

		for idx := 0; idx < models.SlotsPerWeek; idx++ {
			if present[idx] {
				continue
			}
			d, p := idx/models.PeriodsPerDay, idx%models.PeriodsPerDay
			violations = append(violations, models.IntegrityViolation{
				Kind:    models.IntegrityMissingCell,
				Section: section,
				Day:     &d,
				Period:  &p,
				Detail:  fmt.Sprintf("section %s has no cell at %s period %d", section, models.DayNames[d], p+1),
			})
		}

		violations = append(violations, checkCellProvenance(grid, plan)...)
	}
	return violations
}

// checkCellProvenance verifies every cell's pairing and count against the
// plan, catching stray writes the distribution loop should never produce.
func checkCellProvenance(grid models.ScheduleGrid, plan *requirementPlan) []models.IntegrityViolation {
	violations := make([]models.IntegrityViolation, 0)
	section := grid.Identity.Section

	owedBySubject := make(map[string]models.SubjectRequirement)
	for _, req := range plan.bySection[section] {
		owedBySubject[req.SubjectID] = req
	}

	counts := make(map[string]int)
	for _, cell := range grid.Cells {
		req, known := owedBySubject[cell.SubjectID]
		if !known {
			violations = append(violations, models.IntegrityViolation{
				Kind:      models.IntegrityRequirementMismatch,
				Section:   section,
				SubjectID: cell.SubjectID,
				Detail:    fmt.Sprintf("subject %s is not in the requirement plan for section %s", cell.SubjectID, section),
			})
			continue
		}
		if cell.TeacherID != req.TeacherID {
			violations = append(violations, models.IntegrityViolation{
				Kind:      models.IntegrityRequirementMismatch,
				Section:   section,
				SubjectID: cell.SubjectID,
				TeacherID: cell.TeacherID,
				Detail:    fmt.Sprintf("subject %s in section %s is taught by %s, cell names %s", cell.SubjectID, section, req.TeacherID, cell.TeacherID),
			})
		}
		counts[cell.SubjectID]++
	}

	subjectIDs := make([]string, 0, len(owedBySubject))
	for subjectID := range owedBySubject {
		subjectIDs = append(subjectIDs, subjectID)
	}
	sort.Strings(subjectIDs)
	for _, subjectID := range subjectIDs {
		req := owedBySubject[subjectID]
		if counts[subjectID] != req.WeeklyHoursOwed {
			violations = append(violations, models.IntegrityViolation{
				Kind:      models.IntegrityRequirementMismatch,
				Section:   section,
				SubjectID: subjectID,
				TeacherID: req.TeacherID,
				Detail:    fmt.Sprintf("subject %s in section %s occupies %d cells, %d owed", req.SubjectName, section, counts[subjectID], req.WeeklyHoursOwed),
			})
		}
	}
	return violations
}
