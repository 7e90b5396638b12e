package grading

import (
	"fmt"
	"strings"

	"github.com/yuribz/grades-dsc/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATTENDANCE-POLL VARIANT
// Online lecture participation polls. A student gets full credit for the
// session when they answered at least the threshold fraction of the prompts
// offered, otherwise zero.
// ══════════════════════════════════════════════════════════════════════════════

const (
	attendanceContactColumn = "User Email"

	defaultAttendancePoints    = 1.0
	defaultAttendanceThreshold = 0.75
)

// attendanceMetaColumns are export columns that are neither the contact
// identifier nor poll prompts.
var attendanceMetaColumns = map[string]struct{}{
	"User ID":               {},
	"User Name":             {},
	"User company":          {},
	"Total Correct Answers": {},
}

// AttendancePoll grades participation-poll exports.
type AttendancePoll struct {
	points    float64
	threshold float64
}

// AttendanceOption configures an AttendancePoll variant.
type AttendanceOption func(*AttendancePoll)

// WithAttendancePoints overrides the default full-credit points.
func WithAttendancePoints(points float64) AttendanceOption {
	return func(a *AttendancePoll) {
		if points > 0 {
			a.points = points
		}
	}
}

// WithAttendanceThreshold overrides the default answer-rate threshold.
func WithAttendanceThreshold(threshold float64) AttendanceOption {
	return func(a *AttendancePoll) {
		if threshold > 0 && threshold <= 1 {
			a.threshold = threshold
		}
	}
}

// NewAttendancePoll creates the attendance-poll variant with its defaults
// (1 point, 75% answer threshold).
func NewAttendancePoll(opts ...AttendanceOption) *AttendancePoll {
	a := &AttendancePoll{
		points:    defaultAttendancePoints,
		threshold: defaultAttendanceThreshold,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Source implements Strategy.
func (a *AttendancePoll) Source() string { return "attendance-poll" }

// Points implements Strategy.
func (a *AttendancePoll) Points() float64 { return a.points }

// Parse reads one poll session export: a contact column plus one column per
// prompt offered. A prompt counts as answered when its cell is non-empty.
func (a *AttendancePoll) Parse(export *Table) ([]RawSubmission, error) {
	if export.Empty() {
		return nil, shared.ErrEmptyExport
	}

	contactIdx, ok := export.ColumnIndex(attendanceContactColumn)
	if !ok {
		return nil, shared.WrapError("grading", "Parse", shared.ErrMalformedExport,
			fmt.Sprintf("attendance export missing %q column", attendanceContactColumn), nil)
	}

	promptCols := make([]int, 0, len(export.Columns))
	for i, col := range export.Columns {
		if i == contactIdx {
			continue
		}
		if _, meta := attendanceMetaColumns[strings.TrimSpace(col)]; meta {
			continue
		}
		promptCols = append(promptCols, i)
	}
	if len(promptCols) == 0 {
		return nil, shared.WrapError("grading", "Parse", shared.ErrMalformedExport,
			"attendance export has no prompt columns", nil)
	}

	subs := make([]RawSubmission, 0, len(export.Rows))
	for row := range export.Rows {
		observed := export.Cell(row, contactIdx)
		if observed == "" {
			continue
		}

		answered := 0
		for _, col := range promptCols {
			if export.Cell(row, col) != "" {
				answered++
			}
		}

		subs = append(subs, RawSubmission{
			Observed: observed,
			Answered: answered,
			Offered:  len(promptCols),
		})
	}
	return subs, nil
}

// Score gives full points when any of the student's session records meets the
// threshold, zero otherwise. No submissions means zero.
func (a *AttendancePoll) Score(subs []RawSubmission) (float64, string, error) {
	for _, sub := range subs {
		if sub.Offered == 0 {
			continue
		}
		if float64(sub.Answered) >= a.threshold*float64(sub.Offered) {
			return a.points, fmt.Sprintf("answered %d/%d", sub.Answered, sub.Offered), nil
		}
	}
	if len(subs) > 0 {
		sub := subs[0]
		return 0, fmt.Sprintf("answered %d/%d", sub.Answered, sub.Offered), nil
	}
	return 0, "", nil
}
