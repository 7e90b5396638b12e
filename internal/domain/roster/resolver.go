package roster

// ══════════════════════════════════════════════════════════════════════════════
// IDENTITY RESOLVER
// Maps an observed contact identifier from a raw export to a canonical
// student record. No fuzzy matching: ambiguity is a human decision, because a
// wrong automatic match silently assigns one student's grade to another.
// ══════════════════════════════════════════════════════════════════════════════

// Outcome classifies the result of resolving one observed identifier.
type Outcome string

const (
	// OutcomeMatched - the identifier resolved to a roster student.
	OutcomeMatched Outcome = "matched"
	// OutcomeUnresolved - the identifier matched neither roster, overrides,
	// nor staff; retained verbatim for operator triage.
	OutcomeUnresolved Outcome = "unresolved"
	// OutcomeStaff - the identifier belongs to staff; the row is discarded
	// entirely (not graded, not reported as unresolved).
	OutcomeStaff Outcome = "staff"
)

// Resolution is the result of resolving one observed identifier.
type Resolution struct {
	// Outcome classifies the result.
	Outcome Outcome

	// Student is the matched roster record (zero value unless matched).
	Student Student

	// Observed is the identifier exactly as it appeared in the export.
	Observed string

	// ViaOverride is true when the match went through the override map
	// rather than a direct roster hit.
	ViaOverride bool
}

// Resolver resolves observed identifiers against a fixed roster, staff list,
// and override map. Resolution is a pure function of those three inputs; the
// only accumulated state is the deduplicated unresolved list surfaced to the
// assembler.
type Resolver struct {
	byContact map[ContactID]Student
	staff     map[ContactID]struct{}
	overrides *Overrides

	unresolvedSeen  map[string]struct{}
	unresolvedOrder []string
}

// NewResolver builds a resolver. Roster contact identifiers are indexed in
// normalized form; later duplicates on the roster itself keep the first record.
func NewResolver(students []Student, staff []Staff, overrides *Overrides) *Resolver {
	r := &Resolver{
		byContact:      make(map[ContactID]Student, len(students)),
		staff:          make(map[ContactID]struct{}, len(staff)),
		overrides:      overrides,
		unresolvedSeen: make(map[string]struct{}),
	}
	for _, s := range students {
		if _, ok := r.byContact[s.Contact]; !ok {
			r.byContact[s.Contact] = s
		}
	}
	for _, st := range staff {
		r.staff[st.Contact] = struct{}{}
	}
	return r
}

// Resolve maps one observed identifier to a canonical student record.
// Lookup order: (1) direct roster match on the normalized identifier - a
// direct match wins even when the override map also contains the key;
// (2) override map, then roster on the canonical identifier; (3) staff
// exclusion list; (4) unresolved.
func (r *Resolver) Resolve(observed string) Resolution {
	id := NormalizeContactID(observed)

	if s, ok := r.byContact[id]; ok {
		return Resolution{Outcome: OutcomeMatched, Student: s, Observed: observed}
	}

	if canonical, ok := r.overrides.Canonical(id); ok {
		if s, found := r.byContact[canonical]; found {
			return Resolution{Outcome: OutcomeMatched, Student: s, Observed: observed, ViaOverride: true}
		}
	}

	if _, ok := r.staff[id]; ok {
		return Resolution{Outcome: OutcomeStaff, Observed: observed}
	}

	r.recordUnresolved(observed)
	return Resolution{Outcome: OutcomeUnresolved, Observed: observed}
}

// recordUnresolved accumulates an unresolved identifier, deduplicated on the
// normalized form but retaining the first literal spelling seen.
func (r *Resolver) recordUnresolved(observed string) {
	key := NormalizeContactID(observed).String()
	if _, seen := r.unresolvedSeen[key]; seen {
		return
	}
	r.unresolvedSeen[key] = struct{}{}
	r.unresolvedOrder = append(r.unresolvedOrder, observed)
}

// Unresolved returns the identifiers that failed to resolve so far this run,
// in first-seen order.
func (r *Resolver) Unresolved() []string {
	out := make([]string, len(r.unresolvedOrder))
	copy(out, r.unresolvedOrder)
	return out
}
