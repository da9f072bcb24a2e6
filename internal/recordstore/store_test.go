package recordstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreatePage_CreatesOnce(t *testing.T) {
	s := New(nil)

	p1 := s.GetOrCreatePage("https://example.com/")
	p2 := s.GetOrCreatePage("https://example.com/")

	require.NotNil(t, p1)
	assert.Same(t, p1, p2)
}

func TestGetOrCreateIcon_CreatesOnce(t *testing.T) {
	s := New(nil)

	i1 := s.GetOrCreateIcon("https://example.com/favicon.ico")
	i2 := s.GetOrCreateIcon("https://example.com/favicon.ico")

	require.NotNil(t, i1)
	assert.Same(t, i1, i2)
}

func TestAssociate_SwitchesIconAndEnqueuesWrites(t *testing.T) {
	s := New(nil)
	s.MarkImportComplete()

	page := s.GetOrCreatePage("https://example.com/")
	iconA := s.GetOrCreateIcon("https://example.com/a.ico")
	iconB := s.GetOrCreateIcon("https://example.com/b.ico")

	s.Associate(page, iconA, true)
	assert.Same(t, iconA, page.Icon)
	assert.True(t, iconA.HasBackRefs())

	s.Associate(page, iconB, true)
	assert.Same(t, iconB, page.Icon)
	assert.False(t, iconA.HasBackRefs(), "old icon should lose its back-reference")

	pages, icons := s.TakePendingSync()
	assert.Contains(t, pages, "https://example.com/")
	assert.Equal(t, "https://example.com/b.ico", pages["https://example.com/"].IconURL)
	// iconA had no retained pages and no remaining back-refs, so it should
	// have been enqueued as a deletion when it was displaced.
	snap, ok := icons["https://example.com/a.ico"]
	require.True(t, ok)
	assert.True(t, snap.Deleted)
}

func TestAssociate_NoWriteWhenDisabled(t *testing.T) {
	s := New(nil)
	page := s.GetOrCreatePage("https://example.com/")
	icon := s.GetOrCreateIcon("https://example.com/a.ico")

	s.Associate(page, icon, false)

	assert.False(t, s.HasPendingSync())
}

func TestRetainAndReleasePage(t *testing.T) {
	s := New(nil)

	rec := s.RetainPage("https://example.com/")
	assert.Equal(t, 1, rec.Retain)

	rec2 := s.RetainPage("https://example.com/")
	assert.Same(t, rec, rec2)
	assert.Equal(t, 2, rec.Retain)

	assert.False(t, s.ReleasePage("https://example.com/"))
	assert.True(t, s.ReleasePage("https://example.com/"))

	retained := s.RetainedPageURLs()
	assert.NotContains(t, retained, "https://example.com/")
}

func TestReleasePage_UnretainedIsNoOp(t *testing.T) {
	s := New(nil)
	s.GetOrCreatePage("https://example.com/")

	assert.False(t, s.ReleasePage("https://example.com/"))
	assert.False(t, s.ReleasePage("https://never-retained.example/"))
}

func TestReleaseIconIfUnreferenced_SkipsDefaultIcon(t *testing.T) {
	s := New([]byte{0x1})
	def := s.DefaultIcon()

	s.ReleaseIconIfUnreferenced(def, true)

	assert.False(t, s.HasPendingSync())
}

func TestReleaseIconIfUnreferenced_EnqueuesDeletion(t *testing.T) {
	s := New(nil)
	icon := s.GetOrCreateIcon("https://example.com/a.ico")

	s.ReleaseIconIfUnreferenced(icon, true)

	_, icons := s.TakePendingSync()
	snap, ok := icons["https://example.com/a.ico"]
	require.True(t, ok)
	assert.True(t, snap.Deleted)

	_, stillThere := s.LookupIcon("https://example.com/a.ico")
	assert.False(t, stillThere)
}

func TestImportURLMapping_PopulatesBothSides(t *testing.T) {
	s := New(nil)

	s.ImportURLMapping("https://example.com/", "https://example.com/favicon.ico")

	page, ok := s.LookupPage("https://example.com/")
	require.True(t, ok)
	require.NotNil(t, page.Icon)
	assert.Equal(t, "https://example.com/favicon.ico", page.Icon.IconURL)

	icon, ok := s.LookupIcon("https://example.com/favicon.ico")
	require.True(t, ok)
	assert.Contains(t, icon.BackRefs, "https://example.com/")
}

func TestTakeInterestedPages_DrainsInterestedPages(t *testing.T) {
	s := New(nil)
	s.MarkInterestedInIcons("https://a.example/")
	s.MarkInterestedInIcons("https://b.example/")

	pages := s.TakeInterestedPages()
	assert.ElementsMatch(t, []string{"https://a.example/", "https://b.example/"}, pages)
	assert.Empty(t, s.TakeInterestedPages(), "second drain should be empty")
}

func TestClear_PreservesDefaultIcon(t *testing.T) {
	s := New([]byte{0xAA})
	def := s.DefaultIcon()
	s.GetOrCreatePage("https://example.com/")
	s.MarkImportComplete()

	s.Clear()

	assert.False(t, s.ImportComplete())
	stats := s.Stats()
	assert.Zero(t, stats.PageURLMappingCount)
	assert.Same(t, def, s.DefaultIcon())
	assert.True(t, s.DefaultIcon().DataPresent)
}

func TestStats_CountsDataPresence(t *testing.T) {
	s := New(nil)
	s.ImportIconData("https://a.example/icon.ico", []byte{1, 2, 3}, 100)
	s.ImportIconData("https://b.example/icon.ico", nil, 0)

	stats := s.Stats()
	assert.Equal(t, 2, stats.IconRecordCount)
	assert.Equal(t, 1, stats.IconRecordWithData)
}
