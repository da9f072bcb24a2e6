package syncworker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icovault/icovault/internal/domain/entity"
	"github.com/icovault/icovault/internal/domain/service"
	"github.com/icovault/icovault/internal/recordstore"
)

// fakeStore is a hand-rolled, call-tracking repository.Store double, in the
// same style as a generic in-memory database fake: every call is recorded
// and state lives in plain maps guarded by a single mutex.
type fakeStore struct {
	mu sync.Mutex

	pageIcon map[string]string // pageURL -> iconURL
	iconData map[string][]byte
	imported bool

	truncateCalls int
	syncCalls     int
	pruneCalls    int
	integrityOK   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pageIcon:    make(map[string]string),
		iconData:    make(map[string][]byte),
		integrityOK: true,
	}
}

func (f *fakeStore) SetIconIDForPage(context.Context, string, *int64) error { return nil }
func (f *fakeStore) RemovePage(context.Context, string) error               { return nil }
func (f *fakeStore) IconIDForIconURL(context.Context, string) (int64, bool, error) {
	return 0, false, nil
}
func (f *fakeStore) AddIconURL(context.Context, string) (int64, error) { return 1, nil }

func (f *fakeStore) ImageDataForIconURL(_ context.Context, iconURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.iconData[iconURL], nil
}

func (f *fakeStore) RemoveIcon(context.Context, string) error { return nil }

func (f *fakeStore) WriteIconSnapshot(_ context.Context, snap entity.IconSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if snap.Deleted {
		delete(f.iconData, snap.IconURL)
		return nil
	}
	f.iconData[snap.IconURL] = snap.Data
	return nil
}

func (f *fakeStore) Sync(_ context.Context, pages map[string]entity.PageURLSnapshot, icons map[string]entity.IconSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
	for url, icon := range icons {
		if icon.Deleted {
			delete(f.iconData, url)
			continue
		}
		f.iconData[url] = icon.Data
	}
	for url, page := range pages {
		if page.Deleted {
			delete(f.pageIcon, url)
			continue
		}
		if page.HasIcon {
			f.pageIcon[url] = page.IconURL
		}
	}
	return nil
}

func (f *fakeStore) AllPageIconMappings(context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.pageIcon))
	for k, v := range f.pageIcon {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) SetImportedFlag(_ context.Context, imported bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imported = imported
	return nil
}

func (f *fakeStore) ImportedFlag(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.imported, nil
}

func (f *fakeStore) TruncateAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.truncateCalls++
	f.pageIcon = make(map[string]string)
	f.iconData = make(map[string][]byte)
	return nil
}

func (f *fakeStore) IntegrityCheck(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.integrityOK, nil
}

func (f *fakeStore) PruneUnreferenced(context.Context, map[string]struct{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneCalls++
	return nil
}

func (f *fakeStore) Close() error { return nil }

// fakeClient records every dispatched callback.
type fakeClient struct {
	mu               sync.Mutex
	addedIcon        []string
	importedData     []string
	removedAllCalled int
	stopImport       bool
}

func (c *fakeClient) DidAddIconForPage(pageURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addedIcon = append(c.addedIcon, pageURL)
}

func (c *fakeClient) DidImportIconDataForPage(pageURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.importedData = append(c.importedData, pageURL)
}

func (c *fakeClient) DidRemoveAllIcons() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removedAllCalled++
}

func (c *fakeClient) PerformingImportShouldStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopImport
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition was not met within %s", timeout)
}

func TestImportURLs_StopsEarlyWhenClientRequestsIt(t *testing.T) {
	store := recordstore.New(nil)
	db := newFakeStore()
	db.pageIcon["https://example.com/"] = "https://example.com/favicon.ico"
	client := &fakeClient{stopImport: true}

	w := New(store, db, service.NoopLegacyImporter{}, client, DefaultConfig())
	require.NoError(t, w.importURLs(context.Background()))

	assert.False(t, store.ImportComplete(), "import should not be marked complete when stopped early")
	_, ok := store.LookupIcon("https://example.com/favicon.ico")
	assert.False(t, ok, "no rows should have been imported once the stop signal was already set")
}

func TestRun_ImportsExistingMappingsAndNotifiesInterestedPages(t *testing.T) {
	store := recordstore.New(nil)
	db := newFakeStore()
	db.pageIcon["https://example.com/"] = "https://example.com/favicon.ico"
	db.imported = true
	client := &fakeClient{}

	store.GetOrCreatePage("https://example.com/")       // page exists pre-import
	store.MarkInterestedInIcons("https://example.com/") // records interest pre-import

	w := New(store, db, service.NoopLegacyImporter{}, client, Config{WaitTimeout: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer func() {
		w.RequestTermination()
		<-w.Done()
		cancel()
	}()

	waitFor(t, time.Second, store.ImportComplete)

	icon, ok := store.LookupIcon("https://example.com/favicon.ico")
	require.True(t, ok)
	assert.Contains(t, icon.BackRefs, "https://example.com/")

	waitFor(t, time.Second, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.addedIcon) > 0
	})
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, []string{"https://example.com/"}, client.addedIcon)
}

func TestRun_WriteToDatabasePersistsPendingSync(t *testing.T) {
	store := recordstore.New(nil)
	db := newFakeStore()
	db.imported = true
	client := &fakeClient{}

	w := New(store, db, service.NoopLegacyImporter{}, client, Config{WaitTimeout: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer func() {
		w.RequestTermination()
		<-w.Done()
		cancel()
	}()

	waitFor(t, time.Second, store.ImportComplete)

	page := store.GetOrCreatePage("https://example.com/")
	icon := store.GetOrCreateIcon("https://example.com/favicon.ico")
	store.Associate(page, icon, true)
	w.Wake()

	waitFor(t, time.Second, func() bool {
		db.mu.Lock()
		defer db.mu.Unlock()
		return db.pageIcon["https://example.com/"] == "https://example.com/favicon.ico"
	})
}

func TestRequestRemoveAll_TruncatesAndNotifies(t *testing.T) {
	store := recordstore.New(nil)
	db := newFakeStore()
	db.imported = true
	client := &fakeClient{}

	w := New(store, db, service.NoopLegacyImporter{}, client, Config{WaitTimeout: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer func() {
		w.RequestTermination()
		<-w.Done()
		cancel()
	}()

	waitFor(t, time.Second, store.ImportComplete)

	reqCtx, reqCancel := context.WithTimeout(context.Background(), time.Second)
	defer reqCancel()
	require.NoError(t, w.RequestRemoveAll(reqCtx))

	db.mu.Lock()
	truncateCalls := db.truncateCalls
	db.mu.Unlock()
	assert.Equal(t, 1, truncateCalls)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, 1, client.removedAllCalled)
}

func TestDelayDatabaseCleanup_SuppressesPruning(t *testing.T) {
	DelayDatabaseCleanup()
	defer AllowDatabaseCleanup()

	assert.True(t, cleanupDelayed())
}
