package roster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuribz/grades-dsc/internal/domain/shared"
)

type memoryOverrideStore struct {
	entries map[string]string
	loadErr error
	appends int
}

func (m *memoryOverrideStore) Load(ctx context.Context) (map[string]string, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make(map[string]string, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out, nil
}

func (m *memoryOverrideStore) Append(ctx context.Context, entries map[string]string) error {
	if m.entries == nil {
		m.entries = make(map[string]string)
	}
	for k, v := range entries {
		if _, ok := m.entries[k]; !ok {
			m.entries[k] = v
		}
	}
	m.appends++
	return nil
}

func TestOverridesRecordAndLookup(t *testing.T) {
	o := NewOverrides(nil)

	require.NoError(t, o.Record("Alice@Gmial.com", "alice@example.edu"))

	canonical, ok := o.Canonical(NormalizeContactID("alice@gmial.com"))
	assert.True(t, ok)
	assert.Equal(t, ContactID("alice@example.edu"), canonical)
	assert.Equal(t, 1, o.Len())
	assert.Equal(t, 1, o.Pending())
}

func TestOverridesNeverOverwritten(t *testing.T) {
	o := NewOverrides(map[string]string{"typo@x.edu": "alice@example.edu"})

	err := o.Record("typo@x.edu", "bob@example.edu")

	assert.ErrorIs(t, err, shared.ErrOverrideExists)
	canonical, _ := o.Canonical(NormalizeContactID("typo@x.edu"))
	assert.Equal(t, ContactID("alice@example.edu"), canonical)
}

func TestOverridesIdempotentReRecord(t *testing.T) {
	o := NewOverrides(map[string]string{"typo@x.edu": "alice@example.edu"})

	assert.NoError(t, o.Record("Typo@X.EDU", "Alice@Example.edu"))
	assert.Zero(t, o.Pending(), "re-recording an existing mapping persists nothing")
}

func TestOverridesSelfLoopRejected(t *testing.T) {
	o := NewOverrides(nil)

	err := o.Record("Same@Example.edu", "same@example.edu")

	assert.ErrorIs(t, err, shared.ErrOverrideSelfLoop)
	assert.Zero(t, o.Len())
}

func TestOverridesInvalidIdentifierRejected(t *testing.T) {
	o := NewOverrides(nil)

	assert.ErrorIs(t, o.Record("not-an-address", "alice@example.edu"), shared.ErrInvalidIdentifier)
	assert.ErrorIs(t, o.Record("alice@gmial.com", ""), shared.ErrInvalidIdentifier)
}

func TestOverridesSaveAppendsOnlyPending(t *testing.T) {
	store := &memoryOverrideStore{entries: map[string]string{"old@x.edu": "alice@example.edu"}}
	ctx := context.Background()

	o, err := LoadOverrides(ctx, store)
	require.NoError(t, err)
	require.NoError(t, o.Record("new@x.edu", "bob@example.edu"))

	require.NoError(t, o.Save(ctx, store))
	assert.Equal(t, 1, store.appends)
	assert.Equal(t, "bob@example.edu", store.entries["new@x.edu"])
	assert.Zero(t, o.Pending())

	// Nothing pending means no store round-trip.
	require.NoError(t, o.Save(ctx, store))
	assert.Equal(t, 1, store.appends)
}

func TestLoadOverridesStoreFailure(t *testing.T) {
	store := &memoryOverrideStore{loadErr: errors.New("connection refused")}

	_, err := LoadOverrides(context.Background(), store)

	assert.ErrorIs(t, err, shared.ErrExternalService)
}
