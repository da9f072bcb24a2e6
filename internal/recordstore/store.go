// Package recordstore implements the favicon core's in-memory record graph:
// the icon and page maps, the retention multiset, and the pending-sync /
// pending-read queues that shuttle work to the sync actor (spec.md section
// 4.1). All mutation happens under the lock order documented on Store:
// urlAndIconMu before pendingSyncMu before pendingReadingMu; a goroutine
// must never acquire them out of order.
package recordstore

import (
	"sync"

	"github.com/icovault/icovault/internal/domain/entity"
)

// Store holds every shared data structure described in spec.md section 3.
// The zero value is not usable; construct with New.
type Store struct {
	// urlAndIconMu guards iconByURL, pageByURL, and retainedPages. Acquire
	// first, per the mandatory lock order (spec.md section 5).
	urlAndIconMu  sync.Mutex
	iconByURL     map[string]*entity.IconRecord
	pageByURL     map[string]*entity.PageURLRecord
	retainedPages map[string]int // retention multiset: pageURL -> retain count

	// pendingSyncMu guards the two pending-sync maps. Acquire after
	// urlAndIconMu, never before.
	pendingSyncMu sync.Mutex
	pagesPending  map[string]entity.PageURLSnapshot
	iconsPending  map[string]entity.IconSnapshot

	// pendingReadingMu guards the pending-import set, the interested-pages
	// set, and the pending-read icon set. Acquire last.
	pendingReadingMu       sync.Mutex
	pagesPendingImport     map[string]struct{}
	pagesInterestedInIcons map[string]struct{}
	iconsPendingRead       map[string]struct{} // keyed by IconURL
	iconURLImportComplete  bool

	// defaultIcon is process-scoped: never persisted, never pruned, never
	// placed in any pending structure (spec.md invariant 5).
	defaultIcon *entity.IconRecord
}

// New creates an empty record store with the given default icon bytes
// (display fallback for pages with no known icon).
func New(defaultIconData []byte) *Store {
	def := entity.NewIconRecord("")
	if len(defaultIconData) > 0 {
		def.Data = defaultIconData
		def.DataPresent = true
		def.HasAttemptedData = true
	}

	return &Store{
		iconByURL:              make(map[string]*entity.IconRecord),
		pageByURL:              make(map[string]*entity.PageURLRecord),
		retainedPages:          make(map[string]int),
		pagesPending:           make(map[string]entity.PageURLSnapshot),
		iconsPending:           make(map[string]entity.IconSnapshot),
		pagesPendingImport:     make(map[string]struct{}),
		pagesInterestedInIcons: make(map[string]struct{}),
		iconsPendingRead:       make(map[string]struct{}),
		defaultIcon:            def,
	}
}

// DefaultIcon returns the process-scoped placeholder icon.
func (s *Store) DefaultIcon() *entity.IconRecord {
	return s.defaultIcon
}

// GetOrCreateIcon returns the live record for iconURL, creating an empty one
// if absent. Registers it in the pending-read set the first time it is
// created and the URL import has already completed (spec.md section 4.1).
// Callers must already hold no lock; GetOrCreateIcon manages its own.
func (s *Store) GetOrCreateIcon(iconURL string) *entity.IconRecord {
	if iconURL == "" {
		return nil
	}

	s.urlAndIconMu.Lock()
	rec, ok := s.iconByURL[iconURL]
	if !ok {
		rec = entity.NewIconRecord(iconURL)
		s.iconByURL[iconURL] = rec
	}
	s.urlAndIconMu.Unlock()

	if !ok {
		s.pendingReadingMu.Lock()
		if s.iconURLImportComplete {
			s.iconsPendingRead[iconURL] = struct{}{}
		}
		s.pendingReadingMu.Unlock()
	}

	return rec
}

// GetOrCreatePage returns the live record for pageURL, creating an empty one
// if absent. A newly created page is marked pending import only while the
// URL import has not yet completed (spec.md section 4.1).
func (s *Store) GetOrCreatePage(pageURL string) *entity.PageURLRecord {
	if pageURL == "" {
		return nil
	}

	s.urlAndIconMu.Lock()
	rec, ok := s.pageByURL[pageURL]
	if !ok {
		rec = entity.NewPageURLRecord(pageURL)
		s.pageByURL[pageURL] = rec
	}
	s.urlAndIconMu.Unlock()

	if !ok {
		s.pendingReadingMu.Lock()
		if !s.iconURLImportComplete {
			s.pagesPendingImport[pageURL] = struct{}{}
		}
		s.pendingReadingMu.Unlock()
	}

	return rec
}

// LookupPage returns the page record for pageURL without creating one.
func (s *Store) LookupPage(pageURL string) (*entity.PageURLRecord, bool) {
	s.urlAndIconMu.Lock()
	defer s.urlAndIconMu.Unlock()
	rec, ok := s.pageByURL[pageURL]
	return rec, ok
}

// LookupIcon returns the icon record for iconURL without creating one.
func (s *Store) LookupIcon(iconURL string) (*entity.IconRecord, bool) {
	s.urlAndIconMu.Lock()
	defer s.urlAndIconMu.Unlock()
	rec, ok := s.iconByURL[iconURL]
	return rec, ok
}

// Associate detaches page from its previous icon (if any) and attaches it to
// icon, enqueuing both sides for write. If the previous icon becomes
// orphaned and unretained, it is scheduled for deletion (spec.md section
// 4.1). writeEnabled controls whether pending-sync entries are appended at
// all (the "enabled"/"private browsing" write gates, spec.md section 4.2).
func (s *Store) Associate(page *entity.PageURLRecord, icon *entity.IconRecord, writeEnabled bool) {
	if page == nil || icon == nil {
		return
	}

	s.urlAndIconMu.Lock()
	prev := page.Icon
	if prev == icon {
		s.urlAndIconMu.Unlock()
		return
	}
	if prev != nil {
		prev.RemoveBackRef(page.PageURL)
	}
	icon.AddBackRef(page.PageURL)
	page.Icon = icon

	deletePrev := prev != nil && prev != s.defaultIcon && prev.IconURL != "" && !prev.HasBackRefs()
	pageSnap := page.Snapshot()
	var prevSnap entity.IconSnapshot
	if deletePrev {
		prevSnap = entity.IconSnapshot{IconURL: prev.IconURL, Deleted: true}
		delete(s.iconByURL, prev.IconURL)
	}
	s.urlAndIconMu.Unlock()

	if !writeEnabled {
		return
	}

	s.pendingSyncMu.Lock()
	s.pagesPending[page.PageURL] = pageSnap
	if deletePrev {
		s.iconsPending[prev.IconURL] = prevSnap
	}
	s.pendingSyncMu.Unlock()
}

// ReleaseIconIfUnreferenced removes icon from the in-memory map and enqueues
// a tombstone snapshot if its back-reference set is empty (spec.md section
// 4.1). The default icon is never removed (invariant 5).
func (s *Store) ReleaseIconIfUnreferenced(icon *entity.IconRecord, writeEnabled bool) {
	if icon == nil || icon == s.defaultIcon {
		return
	}

	s.urlAndIconMu.Lock()
	if icon.HasBackRefs() {
		s.urlAndIconMu.Unlock()
		return
	}
	delete(s.iconByURL, icon.IconURL)
	s.urlAndIconMu.Unlock()

	if !writeEnabled {
		return
	}

	s.pendingSyncMu.Lock()
	s.iconsPending[icon.IconURL] = entity.IconSnapshot{IconURL: icon.IconURL, Deleted: true}
	s.pendingSyncMu.Unlock()
}

// RetainPage increments pageURL's retain count, creating the page record if
// needed. Returns the record so callers can associate an icon immediately.
func (s *Store) RetainPage(pageURL string) *entity.PageURLRecord {
	rec := s.GetOrCreatePage(pageURL)
	if rec == nil {
		return nil
	}

	s.urlAndIconMu.Lock()
	rec.Retain++
	s.retainedPages[pageURL] = rec.Retain
	s.urlAndIconMu.Unlock()
	return rec
}

// ReleasePage decrements pageURL's retain count. Releasing an unretained URL
// is a no-op (spec.md section 4.2); returns true if this release dropped the
// count to zero.
func (s *Store) ReleasePage(pageURL string) (droppedToZero bool) {
	s.urlAndIconMu.Lock()
	defer s.urlAndIconMu.Unlock()

	rec, ok := s.pageByURL[pageURL]
	if !ok || rec.Retain == 0 {
		return false
	}

	rec.Retain--
	if rec.Retain == 0 {
		delete(s.retainedPages, pageURL)
		return true
	}
	s.retainedPages[pageURL] = rec.Retain
	return false
}

// EnqueuePageWrite appends a snapshot of page to the pending-sync set.
func (s *Store) EnqueuePageWrite(page *entity.PageURLRecord) {
	s.urlAndIconMu.Lock()
	snap := page.Snapshot()
	s.urlAndIconMu.Unlock()

	s.pendingSyncMu.Lock()
	s.pagesPending[page.PageURL] = snap
	s.pendingSyncMu.Unlock()
}

// EnqueuePageDelete appends a deletion marker for pageURL.
func (s *Store) EnqueuePageDelete(pageURL string) {
	s.pendingSyncMu.Lock()
	s.pagesPending[pageURL] = entity.PageURLSnapshot{PageURL: pageURL, Deleted: true}
	s.pendingSyncMu.Unlock()
}

// EnqueueIconWrite appends a snapshot of icon to the pending-sync set. The
// default icon is never enqueued (invariant 5).
func (s *Store) EnqueueIconWrite(icon *entity.IconRecord) {
	if icon == nil || icon == s.defaultIcon {
		return
	}

	s.urlAndIconMu.Lock()
	snap := icon.Snapshot()
	s.urlAndIconMu.Unlock()

	s.pendingSyncMu.Lock()
	s.iconsPending[icon.IconURL] = snap
	s.pendingSyncMu.Unlock()
}

// TakePendingSync snapshots and clears both pending-sync maps atomically,
// for the sync worker's write burst (spec.md section 4.4 step 4).
func (s *Store) TakePendingSync() (pages map[string]entity.PageURLSnapshot, icons map[string]entity.IconSnapshot) {
	s.pendingSyncMu.Lock()
	defer s.pendingSyncMu.Unlock()

	pages, s.pagesPending = s.pagesPending, make(map[string]entity.PageURLSnapshot)
	icons, s.iconsPending = s.iconsPending, make(map[string]entity.IconSnapshot)
	return pages, icons
}

// HasPendingSync reports whether either pending-sync map is non-empty,
// without clearing them.
func (s *Store) HasPendingSync() bool {
	s.pendingSyncMu.Lock()
	defer s.pendingSyncMu.Unlock()
	return len(s.pagesPending) > 0 || len(s.iconsPending) > 0
}

// TakePendingReads snapshots and clears the set of icons awaiting a disk
// read, returning their icon URLs; the sync worker populates the records
// later through ImportIconData.
func (s *Store) TakePendingReads() []string {
	s.pendingReadingMu.Lock()
	defer s.pendingReadingMu.Unlock()

	urls := make([]string, 0, len(s.iconsPendingRead))
	for url := range s.iconsPendingRead {
		urls = append(urls, url)
	}
	s.iconsPendingRead = make(map[string]struct{})
	return urls
}

// TakePendingImport snapshots and clears the set of page URLs awaiting the
// initial URL import.
func (s *Store) TakePendingImport() []string {
	s.pendingReadingMu.Lock()
	defer s.pendingReadingMu.Unlock()

	urls := make([]string, 0, len(s.pagesPendingImport))
	for url := range s.pagesPendingImport {
		urls = append(urls, url)
	}
	s.pagesPendingImport = make(map[string]struct{})
	return urls
}

// MarkInterestedInIcons records pageURL as having observed an Unknown load
// decision, so the post-import notification pass can invoke the embedder
// callback for it exactly once (spec.md section 4.3).
func (s *Store) MarkInterestedInIcons(pageURL string) {
	s.pendingReadingMu.Lock()
	s.pagesInterestedInIcons[pageURL] = struct{}{}
	s.pendingReadingMu.Unlock()
}

// TakeInterestedPages snapshots and clears the interested-pages set, for the
// post-import notification pass.
func (s *Store) TakeInterestedPages() []string {
	s.pendingReadingMu.Lock()
	defer s.pendingReadingMu.Unlock()

	pages := make([]string, 0, len(s.pagesInterestedInIcons))
	for p := range s.pagesInterestedInIcons {
		pages = append(pages, p)
	}
	s.pagesInterestedInIcons = make(map[string]struct{})
	return pages
}

// MarkImportComplete clears pagesPendingImport and flips
// iconURLImportComplete to true under one lock. After this call,
// pagesPendingImport ∩ (pages with a non-nil icon) is empty (invariant 4).
func (s *Store) MarkImportComplete() {
	s.pendingReadingMu.Lock()
	s.pagesPendingImport = make(map[string]struct{})
	s.iconURLImportComplete = true
	s.pendingReadingMu.Unlock()
}

// ImportComplete reports whether the initial URL import has finished.
func (s *Store) ImportComplete() bool {
	s.pendingReadingMu.Lock()
	defer s.pendingReadingMu.Unlock()
	return s.iconURLImportComplete
}

// Stats returns the statistics accessors named by spec.md section 4.2.
func (s *Store) Stats() entity.Stats {
	s.urlAndIconMu.Lock()
	defer s.urlAndIconMu.Unlock()

	var withData int
	for _, icon := range s.iconByURL {
		if icon.DataPresent {
			withData++
		}
	}

	return entity.Stats{
		PageURLMappingCount: len(s.pageByURL),
		RetainedPageCount:   len(s.retainedPages),
		IconRecordCount:     len(s.iconByURL),
		IconRecordWithData:  withData,
	}
}

// Clear wipes every map back to empty, for RemoveAllIcons and Close
// (spec.md section 4.2). The default icon is preserved.
func (s *Store) Clear() {
	s.urlAndIconMu.Lock()
	s.iconByURL = make(map[string]*entity.IconRecord)
	s.pageByURL = make(map[string]*entity.PageURLRecord)
	s.retainedPages = make(map[string]int)
	s.urlAndIconMu.Unlock()

	s.pendingSyncMu.Lock()
	s.pagesPending = make(map[string]entity.PageURLSnapshot)
	s.iconsPending = make(map[string]entity.IconSnapshot)
	s.pendingSyncMu.Unlock()

	s.pendingReadingMu.Lock()
	s.pagesPendingImport = make(map[string]struct{})
	s.pagesInterestedInIcons = make(map[string]struct{})
	s.iconsPendingRead = make(map[string]struct{})
	s.iconURLImportComplete = false
	s.pendingReadingMu.Unlock()
}

// RetainedPageURLs returns a snapshot of every page URL with retain count >
// 0, for the pruning pass (spec.md section 4.4 step 5).
func (s *Store) RetainedPageURLs() map[string]struct{} {
	s.urlAndIconMu.Lock()
	defer s.urlAndIconMu.Unlock()

	out := make(map[string]struct{}, len(s.retainedPages))
	for url := range s.retainedPages {
		out[url] = struct{}{}
	}
	return out
}

// ImportURLMapping populates the in-memory maps from one persisted
// (pageURL, iconURL) row, used by the initial URL import (spec.md section
// 4.4 step 3) and by the legacy v2 importer (spec.md section 9).
func (s *Store) ImportURLMapping(pageURL, iconURL string) {
	if pageURL == "" || iconURL == "" {
		return
	}

	s.urlAndIconMu.Lock()
	icon, ok := s.iconByURL[iconURL]
	if !ok {
		icon = entity.NewIconRecord(iconURL)
		s.iconByURL[iconURL] = icon
	}
	page, ok := s.pageByURL[pageURL]
	if !ok {
		page = entity.NewPageURLRecord(pageURL)
		s.pageByURL[pageURL] = page
	}
	if page.Icon != icon {
		if page.Icon != nil {
			page.Icon.RemoveBackRef(pageURL)
		}
		page.Icon = icon
		icon.AddBackRef(pageURL)
	}
	s.urlAndIconMu.Unlock()
}

// IconBackRefs returns a snapshot of the page URLs currently associated
// with iconURL, for the sync worker's post-read notification pass (spec.md
// section 4.4 step 3).
func (s *Store) IconBackRefs(iconURL string) []string {
	s.urlAndIconMu.Lock()
	defer s.urlAndIconMu.Unlock()

	icon, ok := s.iconByURL[iconURL]
	if !ok {
		return nil
	}
	refs := make([]string, 0, len(icon.BackRefs))
	for p := range icon.BackRefs {
		refs = append(refs, p)
	}
	return refs
}

// ImportIconData populates bytes for iconURL during import, without
// enqueuing a write (the data already came from disk).
func (s *Store) ImportIconData(iconURL string, data []byte, stamp int64) {
	s.urlAndIconMu.Lock()
	icon, ok := s.iconByURL[iconURL]
	if !ok {
		icon = entity.NewIconRecord(iconURL)
		s.iconByURL[iconURL] = icon
	}
	icon.HasAttemptedData = true
	icon.DataPresent = len(data) > 0
	icon.Data = data
	icon.Stamp = stamp
	s.urlAndIconMu.Unlock()
}
