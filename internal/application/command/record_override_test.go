package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuribz/grades-dsc/internal/domain/shared"
)

func TestRecordOverride(t *testing.T) {
	store := &memoryOverrideStore{}
	h := NewRecordOverrideHandler(store, nil)

	result, err := h.Handle(context.Background(), RecordOverrideCommand{
		Observed:  "Alice@Gmial.com",
		Canonical: "alice@example.edu",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, "alice@example.edu", store.entries["alice@gmial.com"])
}

func TestRecordOverrideConflictRejected(t *testing.T) {
	store := &memoryOverrideStore{entries: map[string]string{
		"typo@x.edu": "alice@example.edu",
	}}
	h := NewRecordOverrideHandler(store, nil)

	_, err := h.Handle(context.Background(), RecordOverrideCommand{
		Observed:  "typo@x.edu",
		Canonical: "bob@example.edu",
	})

	assert.ErrorIs(t, err, shared.ErrOverrideExists)
	assert.Equal(t, "alice@example.edu", store.entries["typo@x.edu"])
}

func TestRecordOverrideIdempotent(t *testing.T) {
	store := &memoryOverrideStore{entries: map[string]string{
		"typo@x.edu": "alice@example.edu",
	}}
	h := NewRecordOverrideHandler(store, nil)

	result, err := h.Handle(context.Background(), RecordOverrideCommand{
		Observed:  "typo@x.edu",
		Canonical: "alice@example.edu",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
}

func TestRecordOverrideValidate(t *testing.T) {
	assert.Error(t, RecordOverrideCommand{Canonical: "a@x.edu"}.Validate())
	assert.Error(t, RecordOverrideCommand{Observed: "a@x.edu", Canonical: "not an address"}.Validate())
	assert.NoError(t, RecordOverrideCommand{Observed: "a@x.edu", Canonical: "b@x.edu"}.Validate())
}
