package roster

import (
	"context"

	"github.com/yuribz/grades-dsc/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// OVERRIDE MAP
// Persistent mapping from an observed contact identifier, exactly as it
// appears in a raw export, to the canonical identifier on the roster.
// The only entity in the system with cross-run lifetime.
// ══════════════════════════════════════════════════════════════════════════════

// OverrideStore is the durable backing for the override map. The storage
// format is opaque to the domain; any serializable key-to-key mapping works.
type OverrideStore interface {
	// Load reads the full override mapping.
	Load(ctx context.Context) (map[string]string, error)

	// Append persists newly recorded overrides. Existing keys must never be
	// overwritten by Append; replacing a mapping is an explicit operator
	// action outside this interface.
	Append(ctx context.Context, entries map[string]string) error
}

// Overrides is the in-memory override map for one pipeline run. Loaded once at
// start, appended to during operator review, re-persisted at the end.
// Not safe for concurrent use; runs against a shared store are serialized
// externally (see the redis run lock).
type Overrides struct {
	entries map[ContactID]ContactID
	pending map[string]string // recorded this session, not yet persisted
}

// NewOverrides creates an override map from a loaded key-to-key mapping.
// Both sides are normalized so lookups behave like roster lookups.
func NewOverrides(loaded map[string]string) *Overrides {
	o := &Overrides{
		entries: make(map[ContactID]ContactID, len(loaded)),
		pending: make(map[string]string),
	}
	for observed, canonical := range loaded {
		o.entries[NormalizeContactID(observed)] = NormalizeContactID(canonical)
	}
	return o
}

// LoadOverrides loads the override map from its store.
func LoadOverrides(ctx context.Context, store OverrideStore) (*Overrides, error) {
	loaded, err := store.Load(ctx)
	if err != nil {
		return nil, shared.WrapError("roster", "LoadOverrides", shared.ErrExternalService, "load override map", err)
	}
	return NewOverrides(loaded), nil
}

// Canonical looks up the canonical identifier for an observed one.
func (o *Overrides) Canonical(observed ContactID) (ContactID, bool) {
	canonical, ok := o.entries[observed]
	return canonical, ok
}

// Record adds an operator-confirmed mapping from an observed identifier to its
// canonical counterpart. A new mapping for an existing key is rejected: the
// map grows monotonically and replacing an entry is a human decision, not an
// automatic one.
func (o *Overrides) Record(observed, canonical string) error {
	obs := NormalizeContactID(observed)
	can := NormalizeContactID(canonical)

	if !obs.IsValid() || !can.IsValid() {
		return shared.ErrInvalidIdentifier
	}
	if obs == can {
		return shared.ErrOverrideSelfLoop
	}
	if existing, ok := o.entries[obs]; ok {
		if existing == can {
			return nil // idempotent re-record of the same mapping
		}
		return shared.ErrOverrideExists
	}

	o.entries[obs] = can
	o.pending[obs.String()] = can.String()
	return nil
}

// Len returns the number of entries in the map.
func (o *Overrides) Len() int {
	return len(o.entries)
}

// Pending returns the count of entries recorded since the last Save.
func (o *Overrides) Pending() int {
	return len(o.pending)
}

// Save appends the session's new entries to the store. Entries loaded at
// start are never rewritten.
func (o *Overrides) Save(ctx context.Context, store OverrideStore) error {
	if len(o.pending) == 0 {
		return nil
	}
	if err := store.Append(ctx, o.pending); err != nil {
		return shared.WrapError("roster", "SaveOverrides", shared.ErrExternalService, "persist override map", err)
	}
	o.pending = make(map[string]string)
	return nil
}
