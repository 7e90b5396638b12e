package command

import (
	"context"
	"fmt"

	"github.com/yuribz/grades-dsc/internal/domain/roster"
	"github.com/yuribz/grades-dsc/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD OVERRIDE COMMAND
// Records an operator decision mapping an observed identifier to a
// canonical roster identifier. Once recorded, a mapping is never
// overwritten.
// ══════════════════════════════════════════════════════════════════════════════

// RecordOverrideCommand maps one observed identifier to its canonical form.
type RecordOverrideCommand struct {
	// Observed is the identifier as it appeared in a tool export.
	Observed string

	// Canonical is the roster identifier it maps to.
	Canonical string
}

// Validate validates the command.
func (c RecordOverrideCommand) Validate() error {
	if !roster.NormalizeContactID(c.Observed).IsValid() {
		return fmt.Errorf("record_override: observed identifier is required")
	}
	if !roster.NormalizeContactID(c.Canonical).IsValid() {
		return fmt.Errorf("record_override: canonical identifier is required")
	}
	return nil
}

// RecordOverrideResult reports the persisted mapping.
type RecordOverrideResult struct {
	Observed  string
	Canonical string

	// Total is the override count after the write.
	Total int
}

// RecordOverrideHandler handles the RecordOverrideCommand.
type RecordOverrideHandler struct {
	store roster.OverrideStore
	log   *logger.Logger
}

// NewRecordOverrideHandler creates a new RecordOverrideHandler.
func NewRecordOverrideHandler(store roster.OverrideStore, log *logger.Logger) *RecordOverrideHandler {
	if log == nil {
		log = logger.Default()
	}
	return &RecordOverrideHandler{
		store: store,
		log:   log.With(logger.Component("overrides")),
	}
}

// Handle loads the current map, records the mapping, and appends it to the
// store. Re-recording an identical mapping is a no-op; a conflicting mapping
// for an already-mapped identifier fails.
func (h *RecordOverrideHandler) Handle(ctx context.Context, cmd RecordOverrideCommand) (*RecordOverrideResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	overrides, err := roster.LoadOverrides(ctx, h.store)
	if err != nil {
		return nil, fmt.Errorf("record_override: load overrides: %w", err)
	}

	if err := overrides.Record(cmd.Observed, cmd.Canonical); err != nil {
		return nil, err
	}

	if err := overrides.Save(ctx, h.store); err != nil {
		return nil, fmt.Errorf("record_override: save overrides: %w", err)
	}

	h.log.Info("override recorded",
		logger.ObservedID(cmd.Observed),
		logger.F("canonical", cmd.Canonical),
		logger.Int("total", overrides.Len()),
	)

	return &RecordOverrideResult{
		Observed:  cmd.Observed,
		Canonical: cmd.Canonical,
		Total:     overrides.Len(),
	}, nil
}
