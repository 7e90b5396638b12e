package grading

import (
	"fmt"
	"strings"
	"time"

	"github.com/yuribz/grades-dsc/internal/domain/roster"
	"github.com/yuribz/grades-dsc/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADVANCED-HOMEWORK VARIANT
// Autograder exports with raw point totals, an optional lateness rubric, and
// optional supplementary per-section files merged by student identifier.
// ══════════════════════════════════════════════════════════════════════════════

const (
	homeworkContactColumn = "Email"
	homeworkScoreColumn   = "Total Score"
	homeworkLatenessCol   = "Lateness"
	homeworkSubmittedCol  = "Submission Time"
	homeworkNoLatenessCol = "No Lateness"
	homeworkSlipDayCol    = "Slip Day Used"

	defaultHomeworkPoints = 100.0
)

// submissionTimeLayouts are the timestamp layouts seen in homework exports.
var submissionTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04",
}

// LateRule maps a keyword found in a lateness rubric item to a score
// multiplier. Rules are matched in order and the first match wins, so the
// configured order is significant for tie-breaking.
type LateRule struct {
	Keyword    string
	Multiplier float64
}

// MergeMode says how a supplementary section score combines with the main
// assignment score.
type MergeMode int

const (
	// MergeAdd adds the section score to the main score (extra credit).
	MergeAdd MergeMode = iota
	// MergeSubstitute replaces the main score when the section has one
	// (e.g., a regrade or checkpoint substitution).
	MergeSubstitute
)

// SectionMerge is one supplementary per-section file, merged by student
// identifier under a caller-defined column name.
type SectionMerge struct {
	// Column is the caller-defined name the section score is recorded under.
	Column string

	// Mode chooses add or substitute.
	Mode MergeMode

	// Export is the supplementary table ("Email" + "Total Score").
	Export *Table
}

// AdvancedHomework grades autograder exports with lateness and supplementary
// section handling. All adjustments are deterministic functions of the merged
// row.
type AdvancedHomework struct {
	points        float64
	latePolicy    []LateRule
	merges        []SectionMerge
	totalSlipDays float64
}

// HomeworkOption configures an AdvancedHomework variant.
type HomeworkOption func(*AdvancedHomework)

// WithHomeworkPoints overrides the default total points.
func WithHomeworkPoints(points float64) HomeworkOption {
	return func(h *AdvancedHomework) {
		if points > 0 {
			h.points = points
		}
	}
}

// WithLatePolicy supplies the ordered keyword table for lateness multipliers.
func WithLatePolicy(rules []LateRule) HomeworkOption {
	return func(h *AdvancedHomework) {
		h.latePolicy = rules
	}
}

// WithSlipDays switches lateness accounting from score penalties to slip
// days. Late submissions keep their full score; usage is derived from the
// lateness rubric columns and tallied against the per-term budget on a
// dedicated remote assignment. Mutually exclusive with WithLatePolicy: when
// both are configured the slip-day mode wins and no multiplier applies.
func WithSlipDays(total float64) HomeworkOption {
	return func(h *AdvancedHomework) {
		if total > 0 {
			h.totalSlipDays = total
		}
	}
}

// WithSectionMerge adds a supplementary per-section file. Merges apply in the
// order configured.
func WithSectionMerge(merge SectionMerge) HomeworkOption {
	return func(h *AdvancedHomework) {
		h.merges = append(h.merges, merge)
	}
}

var _ SlipDayTracker = (*AdvancedHomework)(nil)

// NewAdvancedHomework creates the advanced-homework variant (default 100
// points, no late policy, no merges).
func NewAdvancedHomework(opts ...HomeworkOption) *AdvancedHomework {
	h := &AdvancedHomework{points: defaultHomeworkPoints}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Source implements Strategy.
func (h *AdvancedHomework) Source() string { return "advanced-homework" }

// Points implements Strategy.
func (h *AdvancedHomework) Points() float64 { return h.points }

// Parse reads the primary export ("Email" and "Total Score" required, lateness
// and submission time optional) and merges the supplementary section files by
// normalized identifier into each submission's Extras.
func (h *AdvancedHomework) Parse(export *Table) ([]RawSubmission, error) {
	if export.Empty() {
		return nil, shared.ErrEmptyExport
	}

	contactIdx, ok := export.ColumnIndex(homeworkContactColumn)
	if !ok {
		return nil, shared.WrapError("grading", "Parse", shared.ErrMalformedExport,
			fmt.Sprintf("homework export missing %q column", homeworkContactColumn), nil)
	}
	scoreIdx, ok := export.ColumnIndex(homeworkScoreColumn)
	if !ok {
		return nil, shared.WrapError("grading", "Parse", shared.ErrMalformedExport,
			fmt.Sprintf("homework export missing %q column", homeworkScoreColumn), nil)
	}
	latenessIdx, hasLateness := export.ColumnIndex(homeworkLatenessCol)
	submittedIdx, hasSubmitted := export.ColumnIndex(homeworkSubmittedCol)

	var noLateIdx, slipIdx int
	if h.totalSlipDays > 0 {
		var found bool
		if noLateIdx, found = export.ColumnIndex(homeworkNoLatenessCol); !found {
			return nil, shared.WrapError("grading", "Parse", shared.ErrMalformedExport,
				fmt.Sprintf("slip-day homework export missing %q column", homeworkNoLatenessCol), nil)
		}
		if slipIdx, found = export.ColumnIndex(homeworkSlipDayCol); !found {
			return nil, shared.WrapError("grading", "Parse", shared.ErrMalformedExport,
				fmt.Sprintf("slip-day homework export missing %q column", homeworkSlipDayCol), nil)
		}
	}

	sectionScores, err := h.parseSections()
	if err != nil {
		return nil, err
	}

	subs := make([]RawSubmission, 0, len(export.Rows))
	for row := range export.Rows {
		observed := export.Cell(row, contactIdx)
		if observed == "" {
			continue
		}

		sub := RawSubmission{Observed: observed}
		sub.Points, _ = export.CellFloat(row, scoreIdx)
		if hasLateness {
			sub.RubricItem = export.Cell(row, latenessIdx)
		}
		if hasSubmitted {
			sub.SubmittedAt = parseSubmissionTime(export.Cell(row, submittedIdx))
		}
		if h.totalSlipDays > 0 {
			// The rubric marks exactly one of the two columns; a tie
			// counts as on time.
			noLate, _ := export.CellFloat(row, noLateIdx)
			used, _ := export.CellFloat(row, slipIdx)
			if used > noLate {
				sub.SlipDays = 1
			}
		}

		key := normalizeKey(observed)
		for _, merge := range h.merges {
			score, found := sectionScores[merge.Column][key]
			if !found {
				continue
			}
			if sub.Extras == nil {
				sub.Extras = make(map[string]float64, len(h.merges))
			}
			sub.Extras[merge.Column] = score
		}

		subs = append(subs, sub)
	}
	return subs, nil
}

// parseSections indexes every supplementary table by normalized identifier.
func (h *AdvancedHomework) parseSections() (map[string]map[string]float64, error) {
	scores := make(map[string]map[string]float64, len(h.merges))
	for _, merge := range h.merges {
		contactIdx, ok := merge.Export.ColumnIndex(homeworkContactColumn)
		if !ok {
			return nil, shared.WrapError("grading", "Parse", shared.ErrMalformedExport,
				fmt.Sprintf("section %q export missing %q column", merge.Column, homeworkContactColumn), nil)
		}
		scoreIdx, ok := merge.Export.ColumnIndex(homeworkScoreColumn)
		if !ok {
			return nil, shared.WrapError("grading", "Parse", shared.ErrMalformedExport,
				fmt.Sprintf("section %q export missing %q column", merge.Column, homeworkScoreColumn), nil)
		}

		byKey := make(map[string]float64, len(merge.Export.Rows))
		for row := range merge.Export.Rows {
			observed := merge.Export.Cell(row, contactIdx)
			if observed == "" {
				continue
			}
			v, _ := merge.Export.CellFloat(row, scoreIdx)
			byKey[normalizeKey(observed)] = v
		}
		scores[merge.Column] = byKey
	}
	return scores, nil
}

// Score applies the lateness multiplier to the raw point total, then the
// configured section merges in order, and bounds the result to [0, points].
// In slip-day mode the score is never penalized; consumption is noted on the
// row and tallied separately.
func (h *AdvancedHomework) Score(subs []RawSubmission) (float64, string, error) {
	if len(subs) == 0 {
		return 0, "", nil
	}
	sub := subs[0]

	score := sub.Points
	var note string
	switch {
	case h.totalSlipDays > 0:
		if sub.SlipDays > 0 {
			note = "slip day used"
		}
	default:
		if factor, keyword, matched := h.lateFactor(sub.RubricItem); matched {
			score *= factor
			if factor != 1.0 {
				note = fmt.Sprintf("late: %q x%.2f", keyword, factor)
			}
		}
	}

	for _, merge := range h.merges {
		extra, found := sub.Extras[merge.Column]
		if !found {
			continue
		}
		switch merge.Mode {
		case MergeSubstitute:
			score = extra
		default:
			score += extra
		}
	}

	return clamp(score, h.points), note, nil
}

// TracksSlipDays implements SlipDayTracker.
func (h *AdvancedHomework) TracksSlipDays() bool { return h.totalSlipDays > 0 }

// TotalSlipDays implements SlipDayTracker.
func (h *AdvancedHomework) TotalSlipDays() float64 { return h.totalSlipDays }

// SlipDayUsage collects per-student slip-day consumption from the matched
// resolutions. Only the first submission per student counts, mirroring Score.
func (h *AdvancedHomework) SlipDayUsage(resolved []Resolved) map[roster.InstitutionID]int {
	usage := make(map[roster.InstitutionID]int)
	seen := make(map[roster.InstitutionID]struct{})
	for _, res := range resolved {
		if res.Resolution.Outcome != roster.OutcomeMatched {
			continue
		}
		id := res.Resolution.Student.ID
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if res.Submission.SlipDays > 0 {
			usage[id] = res.Submission.SlipDays
		}
	}
	return usage
}

// lateFactor finds the multiplier for a rubric item. The first rule whose
// keyword appears as a substring wins; an unmatched item keeps factor 1.0.
func (h *AdvancedHomework) lateFactor(rubricItem string) (factor float64, keyword string, matched bool) {
	item := strings.ToLower(rubricItem)
	for _, rule := range h.latePolicy {
		if strings.Contains(item, strings.ToLower(rule.Keyword)) {
			return rule.Multiplier, rule.Keyword, true
		}
	}
	return 1.0, "", false
}

// normalizeKey lowercases and trims an identifier for merge joins. Mirrors
// roster normalization closely enough for intra-export joins, which compare
// the same source system's spellings to themselves.
func normalizeKey(observed string) string {
	return strings.ToLower(strings.TrimSpace(observed))
}

// parseSubmissionTime tries the known export layouts; a zero time means the
// cell was blank or unparseable.
func parseSubmissionTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range submissionTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
