package grading

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yuribz/grades-dsc/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// READING-ACTIVITY VARIANT
// Interactive reading exports with per-(section, activity-kind) completion
// columns, e.g. "1.2 - Participation (10)". Full points only when every
// required pair shows completion; no partial credit.
// ══════════════════════════════════════════════════════════════════════════════

const (
	readingContactColumn = "Primary email"

	defaultReadingPoints = 5.0

	// completionCutoff is the completion percentage a column must reach for
	// the (section, kind) pair to count as done.
	completionCutoff = 100.0
)

// ReadingActivity grades reading-activity exports against a required-work
// configuration mapping section to required activity kinds.
type ReadingActivity struct {
	points float64
	config map[string][]string
}

// ReadingOption configures a ReadingActivity variant.
type ReadingOption func(*ReadingActivity)

// WithReadingPoints overrides the default full-credit points.
func WithReadingPoints(points float64) ReadingOption {
	return func(r *ReadingActivity) {
		if points > 0 {
			r.points = points
		}
	}
}

// NewReadingActivity creates the reading-activity variant. The config maps a
// section label (e.g., "1.2") to the activity kinds required in that section
// (e.g., ["Participation", "Challenge"]).
func NewReadingActivity(config map[string][]string, opts ...ReadingOption) *ReadingActivity {
	r := &ReadingActivity{
		points: defaultReadingPoints,
		config: config,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Source implements Strategy.
func (r *ReadingActivity) Source() string { return "reading-activity" }

// Points implements Strategy.
func (r *ReadingActivity) Points() float64 { return r.points }

// requiredPairs flattens the config into (section, kind) pairs in a stable
// order: sections sorted, kinds in configured order.
func (r *ReadingActivity) requiredPairs() [][2]string {
	sections := make([]string, 0, len(r.config))
	for sec := range r.config {
		sections = append(sections, sec)
	}
	sort.Strings(sections)

	var pairs [][2]string
	for _, sec := range sections {
		for _, kind := range r.config[sec] {
			pairs = append(pairs, [2]string{sec, kind})
		}
	}
	return pairs
}

// Parse reads a reading export. Each required (section, kind) pair must have
// a column whose header starts with "<section> - <kind>"; a configured
// section with no matching column at all is a configuration error, a missing
// contact column is a malformed export.
func (r *ReadingActivity) Parse(export *Table) ([]RawSubmission, error) {
	if export.Empty() {
		return nil, shared.ErrEmptyExport
	}

	contactIdx, ok := export.ColumnIndex(readingContactColumn)
	if !ok {
		return nil, shared.WrapError("grading", "Parse", shared.ErrMalformedExport,
			fmt.Sprintf("reading export missing %q column", readingContactColumn), nil)
	}

	pairCols := make(map[string]int)
	for _, pair := range r.requiredPairs() {
		prefix := pair[0] + " - " + pair[1]
		idx, found := export.ColumnIndexFunc(func(header string) bool {
			return strings.HasPrefix(header, prefix)
		})
		if !found {
			return nil, shared.WrapError("grading", "Configure", shared.ErrUnknownSection,
				fmt.Sprintf("configured section %q has no %q column in the export", pair[0], pair[1]), nil)
		}
		pairCols[CompletionKey(pair[0], pair[1])] = idx
	}

	subs := make([]RawSubmission, 0, len(export.Rows))
	for row := range export.Rows {
		observed := export.Cell(row, contactIdx)
		if observed == "" {
			continue
		}

		completed := make(map[string]bool, len(pairCols))
		for key, col := range pairCols {
			v, present := export.CellFloat(row, col)
			completed[key] = present && v >= completionCutoff
		}

		subs = append(subs, RawSubmission{
			Observed:  observed,
			Completed: completed,
		})
	}
	return subs, nil
}

// Score gives full points only when every required (section, kind) pair is
// completed across the student's submissions. Anything missing scores zero.
func (r *ReadingActivity) Score(subs []RawSubmission) (float64, string, error) {
	if len(subs) == 0 {
		return 0, "", nil
	}

	var missing []string
	for _, pair := range r.requiredPairs() {
		key := CompletionKey(pair[0], pair[1])
		done := false
		for _, sub := range subs {
			if sub.Completed[key] {
				done = true
				break
			}
		}
		if !done {
			missing = append(missing, pair[0]+" "+pair[1])
		}
	}

	if len(missing) > 0 {
		return 0, "incomplete: " + strings.Join(missing, ", "), nil
	}
	return r.points, "", nil
}
