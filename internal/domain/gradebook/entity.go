// Package gradebook contains the assembled gradebook model, the remote
// publication capability, and the assembler that joins resolved identities
// with computed scores.
package gradebook

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yuribz/grades-dsc/internal/domain/roster"
	"github.com/yuribz/grades-dsc/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ASSIGNMENT
// ══════════════════════════════════════════════════════════════════════════════

// AssignmentDescriptor identifies a remote assignment. The (Name, Group) pair
// is the natural key: the publication engine must never create a second
// remote assignment under it.
type AssignmentDescriptor struct {
	// Name is the assignment name as shown in the remote gradebook.
	Name string

	// Group is the owning assignment group (e.g., "Homework").
	Group string

	// Points is the assignment's total points.
	Points float64

	// DueAt is the optional due timestamp.
	DueAt *time.Time

	// DirName is the snapshot directory name (e.g., "homework").
	DirName string

	// OmitFromFinal excludes the assignment from the remote final-grade
	// calculation. Used by bookkeeping assignments such as the slip-day
	// tally, which carry a running count rather than a grade.
	OmitFromFinal bool
}

// Validate checks the descriptor's required fields.
func (d AssignmentDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return shared.NewDomainError("gradebook", "Validate", shared.ErrEmptyValue, "assignment name is required")
	}
	if strings.TrimSpace(d.Group) == "" {
		return shared.NewDomainError("gradebook", "Validate", shared.ErrEmptyValue, "assignment group is required")
	}
	if d.Points <= 0 {
		return shared.NewDomainError("gradebook", "Validate", shared.ErrValueOutOfRange, "assignment points must be positive")
	}
	return nil
}

// SnapshotDir returns the directory component for this assignment's
// snapshots, defaulting to a slug of the group name.
func (d AssignmentDescriptor) SnapshotDir() string {
	if d.DirName != "" {
		return d.DirName
	}
	return slug(d.Group)
}

// slug lowercases a name and squeezes it into a file-system friendly form.
func slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.NewReplacer(" (", "_", ")", "", "/", "", " ", "").Replace(s)
	return s
}

// Assignment is a remote assignment after ensure: the descriptor plus the
// remote service's identifiers.
type Assignment struct {
	// ID is the remote assignment ID.
	ID string

	// GroupID is the remote assignment-group ID.
	GroupID string

	// Descriptor echoes the natural key and points.
	Descriptor AssignmentDescriptor
}

// ══════════════════════════════════════════════════════════════════════════════
// GRADEBOOK TABLE
// ══════════════════════════════════════════════════════════════════════════════

// Row is one student's assembled result. The table is total over the active
// roster: students with no matching submission get the default score rather
// than an absent row.
type Row struct {
	// StudentID is the canonical student identifier.
	StudentID roster.InstitutionID

	// DisplayName is the student's display name.
	DisplayName string

	// Score is the computed score, bounded [0, assignment points].
	Score float64

	// Note is free-form (e.g., lateness tier applied). May be empty.
	Note string

	// Withheld marks a row excluded from automatic scoring pending operator
	// review (duplicate resolution). Withheld rows are never published.
	Withheld bool
}

// Table is the ordered, de-duplicated gradebook for one assignment. Row order
// is stable and reproducible from the same inputs; publication follows it.
type Table struct {
	Assignment AssignmentDescriptor
	Rows       []Row
}

// RenderCSV renders the table for operator download and snapshot audit.
func (t *Table) RenderCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"id", "name", t.Assignment.Name, "note"}); err != nil {
		return nil, err
	}
	for _, row := range t.Rows {
		record := []string{
			row.StudentID.String(),
			row.DisplayName,
			strconv.FormatFloat(row.Score, 'f', -1, 64),
			row.Note,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// The persisted table is the audit trail of record for what was computed,
// independent of whether publication succeeded.
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is one immutable, timestamped persisted table, named by
// (dir name, assignment name, timestamp).
type Snapshot struct {
	ID             string
	DirName        string
	AssignmentName string
	TakenAt        time.Time
	Table          *Table
}

// Key returns the snapshot's storage key.
func (s *Snapshot) Key() string {
	return fmt.Sprintf("%s/%s/%s", s.DirName, slug(s.AssignmentName), s.TakenAt.UTC().Format("20060102T150405Z"))
}

// SnapshotStore persists assembled tables before any publication attempt, so
// a publication failure never loses the computed result.
type SnapshotStore interface {
	// Save persists a snapshot. Snapshots are read-only after creation.
	Save(ctx context.Context, snapshot *Snapshot) error
}

// ══════════════════════════════════════════════════════════════════════════════
// REMOTE CAPABILITY
// ══════════════════════════════════════════════════════════════════════════════

// Remote is the remote gradebook service capability. The core never assumes a
// particular transport; the service accepts one grade write per call.
type Remote interface {
	// FindAssignment looks up an assignment by its natural key.
	// Returns (nil, nil) when no assignment exists under the key.
	FindAssignment(ctx context.Context, name, group string) (*Assignment, error)

	// CreateAssignment creates a remote assignment (and its group when the
	// group does not exist yet).
	CreateAssignment(ctx context.Context, desc AssignmentDescriptor) (*Assignment, error)

	// WriteGrade writes one student's grade. There is no batch write.
	WriteGrade(ctx context.Context, assignmentID string, studentID roster.InstitutionID, score float64, note string) error
}

// GradeReader is the optional read-back capability of a remote service.
// Tally assignments accumulate across runs, so their updates start from the
// grades currently on the remote side.
type GradeReader interface {
	// ReadGrades returns the current grade per student for one assignment.
	// Students with no grade yet are absent from the map.
	ReadGrades(ctx context.Context, assignmentID string) (map[roster.InstitutionID]float64, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNC RESULTS
// ══════════════════════════════════════════════════════════════════════════════

// SyncOutcome is the per-student publication outcome.
type SyncOutcome string

const (
	// SyncWritten - the grade write succeeded.
	SyncWritten SyncOutcome = "written"
	// SyncFailed - the grade write failed after retries; recorded and the
	// loop continued.
	SyncFailed SyncOutcome = "failed"
	// SyncSkipped - the row was withheld from publication (operator review
	// pending).
	SyncSkipped SyncOutcome = "skipped"
)

// SyncResult records one row's publication outcome.
type SyncResult struct {
	StudentID roster.InstitutionID
	Outcome   SyncOutcome
	Detail    string
}

// Report aggregates a publication run. The run succeeded iff Failed == 0;
// otherwise it is surfaced for operator remediation, never silently dropped.
type Report struct {
	RunID      string
	Assignment AssignmentDescriptor

	Written int
	Failed  int
	Skipped int

	Results []SyncResult

	StartedAt  time.Time
	FinishedAt time.Time
}

// Record appends one result and updates the counters.
func (r *Report) Record(result SyncResult) {
	r.Results = append(r.Results, result)
	switch result.Outcome {
	case SyncWritten:
		r.Written++
	case SyncFailed:
		r.Failed++
	case SyncSkipped:
		r.Skipped++
	}
}

// Failures returns only the failed results, in publication order. Useful for
// resuming a partially-failed run by re-slicing the table to failed rows.
func (r *Report) Failures() []SyncResult {
	var failed []SyncResult
	for _, res := range r.Results {
		if res.Outcome == SyncFailed {
			failed = append(failed, res)
		}
	}
	return failed
}

// Succeeded reports whether every attempted write landed.
func (r *Report) Succeeded() bool {
	return r.Failed == 0
}
