package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SlotStatus describes one cell of a teacher's weekly grid.
type SlotStatus string

const (
	SlotFree        SlotStatus = "free"
	SlotAssigned    SlotStatus = "assigned"
	SlotUnavailable SlotStatus = "unavailable"
)

// SlotAssignment records which published grid consumed an availability slot.
type SlotAssignment struct {
	AcademicYearID string      `json:"academicYearId"`
	SessionType    SessionType `json:"sessionType"`
	ClassID        string      `json:"classId"`
	Section        string      `json:"section"`
	SubjectID      string      `json:"subjectId"`
	ScheduleName   string      `json:"scheduleName"`
}

// Matches reports whether the assignment belongs to the given grid identity.
func (a *SlotAssignment) Matches(id GridIdentity) bool {
	if a == nil {
		return false
	}
	return a.AcademicYearID == id.AcademicYearID &&
		a.SessionType == id.SessionType &&
		a.ClassID == id.ClassID &&
		a.Section == id.Section
}

// AvailabilitySlot is one of the 30 cells of a teacher's weekly grid.
type AvailabilitySlot struct {
	Day        int             `json:"day"`
	Period     int             `json:"period"`
	Status     SlotStatus      `json:"status"`
	Assignment *SlotAssignment `json:"assignment,omitempty"`
}

// IsFree reports whether the slot can still be consumed.
func (s AvailabilitySlot) IsFree() bool {
	return s.Status == SlotFree
}

// AvailabilityGrid is the fixed 30-slot weekly grid, indexed day*6+period.
type AvailabilityGrid []AvailabilitySlot

// NewFreeGrid returns a grid with every slot free.
func NewFreeGrid() AvailabilityGrid {
	grid := make(AvailabilityGrid, SlotsPerWeek)
	for i := range grid {
		grid[i] = AvailabilitySlot{Day: i / PeriodsPerDay, Period: i % PeriodsPerDay, Status: SlotFree}
	}
	return grid
}

// Validate enforces the fixed shape: exactly 30 slots, slot i at coordinates
// (i/6, i%6), with a known status. Legacy 2-D or truncated payloads are
// rejected at the boundary, never reinterpreted.
func (g AvailabilityGrid) Validate() error {
	if len(g) != SlotsPerWeek {
		return fmt.Errorf("availability grid must hold exactly %d slots, got %d", SlotsPerWeek, len(g))
	}
	for i, slot := range g {
		wantDay, wantPeriod := i/PeriodsPerDay, i%PeriodsPerDay
		if slot.Day != wantDay || slot.Period != wantPeriod {
			return fmt.Errorf("slot %d must be day %d period %d, got day %d period %d", i, wantDay, wantPeriod, slot.Day, slot.Period)
		}
		switch slot.Status {
		case SlotFree, SlotAssigned, SlotUnavailable:
		default:
			return fmt.Errorf("slot %d has unknown status %q", i, slot.Status)
		}
		if slot.Status == SlotAssigned && slot.Assignment == nil {
			return fmt.Errorf("slot %d is assigned but carries no assignment", i)
		}
	}
	return nil
}

// ParseAvailabilityGrid decodes and validates a stored grid payload.
func ParseAvailabilityGrid(raw []byte) (AvailabilityGrid, error) {
	var grid AvailabilityGrid
	if err := json.Unmarshal(raw, &grid); err != nil {
		return nil, fmt.Errorf("decode availability grid: %w", err)
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	return grid, nil
}

// Slot returns the cell at (day, period). Callers must pass validated
// coordinates; out-of-range access panics like any slice misuse would.
func (g AvailabilityGrid) Slot(day, period int) AvailabilitySlot {
	return g[day*PeriodsPerDay+period]
}

// SetSlot replaces the cell at (day, period).
func (g AvailabilityGrid) SetSlot(day, period int, slot AvailabilitySlot) {
	g[day*PeriodsPerDay+period] = slot
}

// FreeCount returns the number of free slots.
func (g AvailabilityGrid) FreeCount() int {
	count := 0
	for _, slot := range g {
		if slot.IsFree() {
			count++
		}
	}
	return count
}

// CountByStatus tallies slots per status.
func (g AvailabilityGrid) CountByStatus() map[SlotStatus]int {
	counts := make(map[SlotStatus]int, 3)
	for _, slot := range g {
		counts[slot.Status]++
	}
	return counts
}

// Clone returns a deep copy so working snapshots never alias stored state.
func (g AvailabilityGrid) Clone() AvailabilityGrid {
	clone := make(AvailabilityGrid, len(g))
	for i, slot := range g {
		clone[i] = slot
		if slot.Assignment != nil {
			assignment := *slot.Assignment
			clone[i].Assignment = &assignment
		}
	}
	return clone
}

// TeacherAvailability is the persisted weekly grid of one teacher.
type TeacherAvailability struct {
	TeacherID string    `db:"teacher_id" json:"teacherId"`
	Slots     []byte    `db:"slots" json:"-"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`

	Grid AvailabilityGrid `db:"-" json:"slots"`
}

// AvailabilitySummary aggregates a teacher's grid for quick inspection.
type AvailabilitySummary struct {
	TeacherID        string `json:"teacherId"`
	TeacherName      string `json:"teacherName"`
	FreeCount        int    `json:"freeCount"`
	AssignedCount    int    `json:"assignedCount"`
	UnavailableCount int    `json:"unavailableCount"`
}
