package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/icovault/icovault/internal/domain/entity"
	"github.com/icovault/icovault/internal/recordstore"
)

func TestEvaluate_UnknownBeforeImport(t *testing.T) {
	store := recordstore.New(nil)
	m := New(store, 4*24*time.Hour, nil)

	decision := m.Evaluate("https://example.com/favicon.ico", "https://example.com/")
	assert.Equal(t, entity.LoadUnknown, decision)

	pages := store.TakeInterestedPages()
	assert.Equal(t, []string{"https://example.com/"}, pages)
}

func TestEvaluate_YesWhenNoData(t *testing.T) {
	store := recordstore.New(nil)
	store.MarkImportComplete()
	m := New(store, 4*24*time.Hour, nil)

	decision := m.Evaluate("https://example.com/favicon.ico", "https://example.com/")
	assert.Equal(t, entity.LoadYes, decision)
}

func TestEvaluate_NoWhenFreshData(t *testing.T) {
	store := recordstore.New(nil)
	store.MarkImportComplete()

	fixedNow := time.Unix(1_000_000, 0)
	store.ImportIconData("https://example.com/favicon.ico", []byte{1, 2, 3}, fixedNow.Add(-time.Hour).Unix())

	m := New(store, 4*24*time.Hour, func() time.Time { return fixedNow })

	decision := m.Evaluate("https://example.com/favicon.ico", "https://example.com/")
	assert.Equal(t, entity.LoadNo, decision)
}

func TestEvaluate_NoWhenDefinitiveNegativeResultIsFresh(t *testing.T) {
	store := recordstore.New(nil)
	store.MarkImportComplete()

	fixedNow := time.Unix(1_000_000, 0)
	store.ImportIconData("https://example.com/favicon.ico", nil, fixedNow.Add(-time.Hour).Unix())

	m := New(store, 4*24*time.Hour, func() time.Time { return fixedNow })

	decision := m.Evaluate("https://example.com/favicon.ico", "https://example.com/")
	assert.Equal(t, entity.LoadNo, decision, "a cached known-absent result should not force an immediate re-fetch")
}

func TestEvaluate_YesWhenExpired(t *testing.T) {
	store := recordstore.New(nil)
	store.MarkImportComplete()

	fixedNow := time.Unix(1_000_000, 0)
	store.ImportIconData("https://example.com/favicon.ico", []byte{1, 2, 3}, fixedNow.Add(-5*24*time.Hour).Unix())

	m := New(store, 4*24*time.Hour, func() time.Time { return fixedNow })

	decision := m.Evaluate("https://example.com/favicon.ico", "https://example.com/")
	assert.Equal(t, entity.LoadYes, decision)
}

func TestDataKnown(t *testing.T) {
	store := recordstore.New(nil)
	m := New(store, time.Hour, nil)

	assert.False(t, m.DataKnown("https://example.com/favicon.ico"))

	store.ImportIconData("https://example.com/favicon.ico", nil, 0)
	assert.True(t, m.DataKnown("https://example.com/favicon.ico"), "a definitive negative result counts as known")
}
