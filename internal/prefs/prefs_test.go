package prefs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcwave/arbicore/internal/domain"
)

type memStore struct {
	docs map[string]domain.Preferences
}

func newMemStore() *memStore { return &memStore{docs: make(map[string]domain.Preferences)} }

func (m *memStore) Load(_ context.Context, userID string) (domain.Preferences, error) {
	doc, ok := m.docs[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *memStore) Save(_ context.Context, userID string, prefs domain.Preferences) error {
	m.docs[userID] = prefs.Clone()
	return nil
}

func (m *memStore) Delete(_ context.Context, userID string) error {
	delete(m.docs, userID)
	return nil
}

func TestManagerGetFallsBackToDefaultForNewUser(t *testing.T) {
	m := New(newMemStore())
	v, err := m.Get(context.Background(), "alice", "ui", "theme")
	require.NoError(t, err)
	assert.Equal(t, "light", v)
}

func TestManagerSetThenGetRoundTrips(t *testing.T) {
	store := newMemStore()
	m := New(store)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "bob", "ui", "theme", "dark"))
	v, err := m.Get(ctx, "bob", "ui", "theme")
	require.NoError(t, err)
	assert.Equal(t, "dark", v)

	v, err = m.Get(ctx, "bob", "trading", "risk_tolerance")
	require.NoError(t, err)
	assert.Equal(t, "medium", v, "unset keys still fall back to default")
}

func TestManagerResetCategory(t *testing.T) {
	store := newMemStore()
	m := New(store)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "carol", "ui", "theme", "dark"))
	require.NoError(t, m.ResetCategory(ctx, "carol", "ui"))

	v, err := m.Get(ctx, "carol", "ui", "theme")
	require.NoError(t, err)
	assert.Equal(t, "light", v)
}

func TestManagerResetCategoryUnknownCategoryFails(t *testing.T) {
	m := New(newMemStore())
	err := m.ResetCategory(context.Background(), "dave", "nonexistent")
	require.Error(t, err)
	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindConfigError, kind)
}

func TestManagerValidateCatchesOutOfRangeValues(t *testing.T) {
	store := newMemStore()
	m := New(store)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "erin", "trading", "max_position_size", 1.5))
	require.NoError(t, m.Set(ctx, "erin", "ui", "theme", "neon"))

	result, err := m.Validate(ctx, "erin")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Len(t, result.Issues, 2)
}

func TestManagerExportImportRoundTrips(t *testing.T) {
	store := newMemStore()
	m := New(store)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "frank", "trading", "auto_trade", true))
	exported, err := m.Export(ctx, "frank")
	require.NoError(t, err)

	require.NoError(t, m.Import(ctx, "gina", exported))
	v, err := m.Get(ctx, "gina", "trading", "auto_trade")
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestJSONStoreSaveLoadDeleteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	doc := domain.Preferences{"ui": {"theme": "dark"}}
	require.NoError(t, store.Save(ctx, "hank", doc))

	loaded, err := store.Load(ctx, "hank")
	require.NoError(t, err)
	assert.Equal(t, "dark", loaded["ui"]["theme"])

	require.NoError(t, store.Delete(ctx, "hank"))
	_, err = store.Load(ctx, "hank")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
