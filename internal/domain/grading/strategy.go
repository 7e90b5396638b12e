package grading

import (
	"time"

	"github.com/yuribz/grades-dsc/internal/domain/roster"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRADING STRATEGY
// One variant per assignment source. Adding a new source means adding a new
// variant, never branching on source type inside shared code.
// ══════════════════════════════════════════════════════════════════════════════

// RawSubmission is one row from a third-party export, produced and consumed
// within a single strategy invocation. Only the fields relevant to the
// producing variant are populated.
type RawSubmission struct {
	// Observed is the contact identifier exactly as it appears in the export.
	Observed string

	// Answered / Offered are the attendance-poll prompt counts.
	Answered int
	Offered  int

	// Completed holds reading-activity completion flags keyed by
	// CompletionKey(section, kind).
	Completed map[string]bool

	// Points is the raw point total from a homework export.
	Points float64

	// RubricItem is the lateness rubric string from a homework export.
	RubricItem string

	// SlipDays is the number of slip days this submission consumed, derived
	// from the lateness rubric columns when slip-day tracking is on.
	SlipDays int

	// Extras holds supplementary per-section scores merged by identifier,
	// keyed by the caller-defined column name.
	Extras map[string]float64

	// SubmittedAt is the submission timestamp, when the export carries one.
	SubmittedAt time.Time
}

// Resolved is a RawSubmission joined to its identity resolution. Every
// RawSubmission yields exactly one Resolved - no silent drops.
type Resolved struct {
	Submission RawSubmission
	Resolution roster.Resolution
}

// Strategy is the shared capability set implemented per assignment source.
// Parse is source-specific layout interpretation; Score is a pure function of
// one student's submission data.
type Strategy interface {
	// Source names the variant (e.g., "attendance-poll"), used for snapshot
	// directories and logging.
	Source() string

	// Points is the assignment's total points; scores are bounded [0, Points].
	Points() float64

	// Parse converts a raw export into submission records. Fails with a
	// MalformedExport error when required columns are absent.
	Parse(export *Table) ([]RawSubmission, error)

	// Score computes one student's score from that student's submissions
	// (possibly none - the default score applies). The returned note is
	// free-form (e.g., the lateness tier applied) and may be empty.
	Score(subs []RawSubmission) (score float64, note string, err error)
}

// SlipDayTracker is the optional capability of a strategy that accounts for
// lateness in slip days instead of score penalties. The pipeline publishes
// the usage as a running tally on a dedicated remote assignment.
type SlipDayTracker interface {
	// TracksSlipDays reports whether slip-day accounting is configured.
	TracksSlipDays() bool

	// TotalSlipDays is the per-student budget for the term.
	TotalSlipDays() float64

	// SlipDayUsage returns each matched student's slip-day consumption for
	// this assignment. Students with zero usage are omitted.
	SlipDayUsage(resolved []Resolved) map[roster.InstitutionID]int
}

// ResolveAll resolves every submission's observed identifier. The result has
// one entry per input submission, resolved or not; staff rows keep their
// staff outcome so the assembler can discard them.
func ResolveAll(r *roster.Resolver, subs []RawSubmission) []Resolved {
	resolved := make([]Resolved, 0, len(subs))
	for _, sub := range subs {
		resolved = append(resolved, Resolved{
			Submission: sub,
			Resolution: r.Resolve(sub.Observed),
		})
	}
	return resolved
}

// CompletionKey builds the key under which a (section, activity-kind) pair's
// completion flag is stored.
func CompletionKey(section, kind string) string {
	return section + "|" + kind
}

// clamp bounds a score to [0, points].
func clamp(score, points float64) float64 {
	if score < 0 {
		return 0
	}
	if score > points {
		return points
	}
	return score
}
