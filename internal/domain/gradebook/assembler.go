package gradebook

import (
	"fmt"
	"sort"

	"github.com/yuribz/grades-dsc/internal/domain/grading"
	"github.com/yuribz/grades-dsc/internal/domain/roster"
	"github.com/yuribz/grades-dsc/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRADEBOOK ASSEMBLER
// Joins resolved identities with computed scores into a table that is total
// over the active roster. Side-effect-free with respect to the remote
// service: assembling twice from the same inputs yields identical output.
// ══════════════════════════════════════════════════════════════════════════════

// Duplicate records two or more distinct observed identifiers resolving to
// the same canonical student. Neither is silently merged; the operator must
// decide.
type Duplicate struct {
	StudentID roster.InstitutionID
	Observed  []string
}

// Review is the operator-facing residue of one assembly: identifiers that
// could not be resolved and duplicate resolutions awaiting a decision.
type Review struct {
	Unresolved []string
	Duplicates []Duplicate
}

// Clean reports whether the assembly left nothing for the operator.
func (r *Review) Clean() bool {
	return len(r.Unresolved) == 0 && len(r.Duplicates) == 0
}

// Assembler builds gradebook tables for one strategy.
type Assembler struct {
	strategy grading.Strategy
}

// NewAssembler creates an assembler for the given grading strategy.
func NewAssembler(strategy grading.Strategy) *Assembler {
	return &Assembler{strategy: strategy}
}

// Assemble produces exactly one row per active-enrollment student (total join
// over the roster, left join against submissions), ordered by canonical
// student ID. Staff rows are discarded and duplicate students' rows are
// withheld from automatic scoring. The unresolved list is the resolver's
// accumulated run record, carried into the review verbatim so there is a
// single owner of what failed to resolve.
func (a *Assembler) Assemble(desc AssignmentDescriptor, students []roster.Student, resolved []grading.Resolved, unresolved []string) (*Table, *Review, error) {
	if err := desc.Validate(); err != nil {
		return nil, nil, err
	}

	active := roster.ActiveStudents(students)
	if len(active) == 0 {
		return nil, nil, shared.ErrEmptyRoster
	}

	review := &Review{Unresolved: append([]string(nil), unresolved...)}
	byStudent := make(map[roster.InstitutionID][]grading.RawSubmission, len(active))
	observedBy := make(map[roster.InstitutionID][]string, len(active))
	seenObserved := make(map[roster.InstitutionID]map[roster.ContactID]struct{}, len(active))

	for _, res := range resolved {
		switch res.Resolution.Outcome {
		case roster.OutcomeStaff, roster.OutcomeUnresolved:
			continue

		case roster.OutcomeMatched:
			id := res.Resolution.Student.ID
			byStudent[id] = append(byStudent[id], res.Submission)

			obs := roster.NormalizeContactID(res.Resolution.Observed)
			if seenObserved[id] == nil {
				seenObserved[id] = make(map[roster.ContactID]struct{}, 1)
			}
			if _, seen := seenObserved[id][obs]; !seen {
				seenObserved[id][obs] = struct{}{}
				observedBy[id] = append(observedBy[id], res.Resolution.Observed)
			}
		}
	}

	duplicates := make(map[roster.InstitutionID]struct{})
	for _, s := range active {
		if len(observedBy[s.ID]) > 1 {
			duplicates[s.ID] = struct{}{}
			review.Duplicates = append(review.Duplicates, Duplicate{
				StudentID: s.ID,
				Observed:  observedBy[s.ID],
			})
		}
	}
	sort.Slice(review.Duplicates, func(i, j int) bool {
		return review.Duplicates[i].StudentID < review.Duplicates[j].StudentID
	})

	rows := make([]Row, 0, len(active))
	for _, s := range active {
		row := Row{
			StudentID:   s.ID,
			DisplayName: s.DisplayName,
		}

		if _, dup := duplicates[s.ID]; dup {
			// Withheld pending operator decision; never summed or overwritten.
			row.Withheld = true
			row.Note = "withheld: duplicate submissions"
		} else {
			score, note, err := a.strategy.Score(byStudent[s.ID])
			if err != nil {
				return nil, nil, err
			}
			if score < 0 || score > desc.Points {
				return nil, nil, shared.WrapError("gradebook", "Assemble", shared.ErrScoreOutOfBounds,
					fmt.Sprintf("student %s scored %.2f against %.2f points", s.ID, score, desc.Points), nil)
			}
			row.Score = score
			row.Note = note
		}

		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].StudentID < rows[j].StudentID
	})

	return &Table{Assignment: desc, Rows: rows}, review, nil
}
