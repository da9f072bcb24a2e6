package sqlitestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icovault/icovault/internal/domain/entity"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddIconURL_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.IconIDForIconURL(ctx, "https://example.com/favicon.ico")
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := s.AddIconURL(ctx, "https://example.com/favicon.ico")
	require.NoError(t, err)
	assert.NotZero(t, id)

	gotID, ok, err := s.IconIDForIconURL(ctx, "https://example.com/favicon.ico")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, gotID)
}

func TestWriteIconSnapshot_UpsertThenDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.WriteIconSnapshot(ctx, entity.IconSnapshot{
		IconURL:     "https://example.com/favicon.ico",
		Data:        []byte{1, 2, 3},
		DataPresent: true,
		Stamp:       1000,
	})
	require.NoError(t, err)

	data, err := s.ImageDataForIconURL(ctx, "https://example.com/favicon.ico")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	err = s.WriteIconSnapshot(ctx, entity.IconSnapshot{IconURL: "https://example.com/favicon.ico", Deleted: true})
	require.NoError(t, err)

	_, ok, err := s.IconIDForIconURL(ctx, "https://example.com/favicon.ico")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSync_AppliesPageAndIconSnapshotsTogether(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Sync(ctx,
		map[string]entity.PageURLSnapshot{
			"https://example.com/": {PageURL: "https://example.com/", IconURL: "https://example.com/favicon.ico", HasIcon: true},
		},
		map[string]entity.IconSnapshot{
			"https://example.com/favicon.ico": {IconURL: "https://example.com/favicon.ico", Data: []byte{9}, DataPresent: true, Stamp: 42},
		},
	)
	require.NoError(t, err)

	mappings, err := s.AllPageIconMappings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/favicon.ico", mappings["https://example.com/"])

	data, err := s.ImageDataForIconURL(ctx, "https://example.com/favicon.ico")
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, data)
}

func TestImportedFlag_DefaultsFalse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	imported, err := s.ImportedFlag(ctx)
	require.NoError(t, err)
	assert.False(t, imported)

	require.NoError(t, s.SetImportedFlag(ctx, true))

	imported, err = s.ImportedFlag(ctx)
	require.NoError(t, err)
	assert.True(t, imported)
}

func TestTruncateAll_RemovesEverything(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.AddIconURL(ctx, "https://example.com/favicon.ico")
	require.NoError(t, err)

	require.NoError(t, s.TruncateAll(ctx))

	mappings, err := s.AllPageIconMappings(ctx)
	require.NoError(t, err)
	assert.Empty(t, mappings)

	_, ok, err := s.IconIDForIconURL(ctx, "https://example.com/favicon.ico")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPruneUnreferenced_DeletesUnretainedPagesAndOrphanIcons(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Sync(ctx,
		map[string]entity.PageURLSnapshot{
			"https://keep.example/":   {PageURL: "https://keep.example/", IconURL: "https://keep.example/favicon.ico", HasIcon: true},
			"https://discard.example/": {PageURL: "https://discard.example/", IconURL: "https://discard.example/favicon.ico", HasIcon: true},
		},
		map[string]entity.IconSnapshot{},
	))

	err := s.PruneUnreferenced(ctx, map[string]struct{}{"https://keep.example/": {}})
	require.NoError(t, err)

	mappings, err := s.AllPageIconMappings(ctx)
	require.NoError(t, err)
	assert.Contains(t, mappings, "https://keep.example/")
	assert.NotContains(t, mappings, "https://discard.example/")

	_, ok, err := s.IconIDForIconURL(ctx, "https://discard.example/favicon.ico")
	require.NoError(t, err)
	assert.False(t, ok, "orphaned icon should have been pruned")
}

func TestIntegrityCheck_PassesOnFreshDatabase(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := s.IntegrityCheck(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
