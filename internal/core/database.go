// Package core wires the record store, decision machine, sync worker, and
// persistence/decoder collaborators into the public favicon database handle
// (spec.md section 4.2).
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/icovault/icovault/internal/config"
	"github.com/icovault/icovault/internal/decision"
	"github.com/icovault/icovault/internal/domain/entity"
	"github.com/icovault/icovault/internal/domain/repository"
	"github.com/icovault/icovault/internal/domain/service"
	"github.com/icovault/icovault/internal/logging"
	"github.com/icovault/icovault/internal/recordstore"
	"github.com/icovault/icovault/internal/sqlitestore"
	"github.com/icovault/icovault/internal/syncworker"
)

// DelayDatabaseCleanup and AllowDatabaseCleanup re-export the process-wide
// pruning-suppression gate (spec.md section 4.4, "Write coalescing"). They
// are package-level because the original database exposes them as static
// methods, independent of any one handle.
func DelayDatabaseCleanup() { syncworker.DelayDatabaseCleanup() }
func AllowDatabaseCleanup() { syncworker.AllowDatabaseCleanup() }

// Database is the public favicon database handle, implementing
// service.IconService. The zero value is not usable; construct with New.
type Database struct {
	opts    *config.Options
	client  service.Client
	legacy  service.LegacyImporter
	decoder service.Decoder
	dbPath  string

	// mu guards enabled/privateBrowsing/running — the "remove_lock"
	// equivalent named in spec.md section 5: the outermost gate a caller
	// crosses before touching anything else.
	mu              sync.RWMutex
	enabled         bool
	privateBrowsing bool
	running         bool

	store    *recordstore.Store
	decide   *decision.Machine
	sqlStore repository.Store
	worker   *syncworker.Worker
	cancel   context.CancelFunc

	timerMu sync.Mutex
	timer   *time.Timer
}

// New constructs a Database handle that is not yet open. Pass
// service.NoopClient{} / service.NoopLegacyImporter{} for collaborators the
// embedder does not need.
func New(opts *config.Options, client service.Client, legacy service.LegacyImporter, dec service.Decoder) *Database {
	if opts == nil {
		opts = config.DefaultOptions()
	}
	if client == nil {
		client = service.NoopClient{}
	}
	if legacy == nil {
		legacy = service.NoopLegacyImporter{}
	}

	return &Database{
		opts:            opts,
		client:          client,
		legacy:          legacy,
		decoder:         dec,
		enabled:         opts.Enabled,
		privateBrowsing: opts.PrivateBrowsing,
	}
}

// Open creates/opens the SQL store at path and starts the sync actor. It
// returns once the connection is open; spec.md section 4.4 steps 1-3 (the
// URL import) run asynchronously in the background, and load decisions stay
// Unknown until that import completes.
func (d *Database) Open(ctx context.Context, path string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return true, nil
	}

	store, err := sqlitestore.Open(ctx, path)
	if err != nil {
		return false, fmt.Errorf("open favicon database at %q: %w", path, err)
	}

	d.dbPath = path
	d.sqlStore = store
	d.store = recordstore.New(nil)
	d.decide = decision.New(d.store, d.opts.ExpirationHorizon, nil)

	workerCfg := syncworker.DefaultConfig()
	workerCfg.IntegrityCheckBeforeOpen = d.opts.IntegrityCheckBeforeOpen
	d.worker = syncworker.New(d.store, d.sqlStore, d.legacy, d.client, workerCfg)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	go d.worker.Run(runCtx)

	d.running = true
	return true, nil
}

// Close stops the sync actor, releases the SQL connection, and clears the
// in-memory record store. Safe to call on a Database that was never opened.
func (d *Database) Close() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	worker := d.worker
	cancel := d.cancel
	sqlStore := d.sqlStore
	d.running = false
	d.mu.Unlock()

	d.timerMu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timerMu.Unlock()

	worker.RequestTermination()
	<-worker.Done()
	d.store.Clear()
	cancel()
	if sqlStore != nil {
		_ = sqlStore.Close()
	}
}

// SetEnabled gates all writes. When disabled, behaves as a read-only
// freeze (spec.md section 4.2).
func (d *Database) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

// SetPrivateBrowsing gates writes without affecting reads of already
// in-memory data (spec.md section 4.2).
func (d *Database) SetPrivateBrowsing(enabled bool) {
	d.mu.Lock()
	d.privateBrowsing = enabled
	d.mu.Unlock()
}

// writeEnabled reports whether pending-sync entries should be enqueued at
// all right now.
func (d *Database) writeEnabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled && !d.privateBrowsing
}

// IconForPage returns the best decoded icon for pageURL at the requested
// size, decoding and caching it on first request, or the default icon if
// none is known or decoding fails (spec.md section 4.2, section 9 open
// question on decode failure).
func (d *Database) IconForPage(ctx context.Context, pageURL string, width, height int, cacheResult bool) (entity.DecodedImage, bool) {
	page, ok := d.store.LookupPage(pageURL)
	if !ok || page.Icon == nil {
		return d.decodedDefault(width, height)
	}

	icon := page.Icon
	if img, ok := icon.CachedImage(width, height); ok {
		return img, true
	}
	if !icon.DataPresent || len(icon.Data) == 0 {
		return d.decodedDefault(width, height)
	}

	img, ok := d.decoder.Decode(icon.Data, width, height)
	if !ok {
		return d.decodedDefault(width, height)
	}
	if cacheResult {
		icon.CacheImage(width, height, img)
	}
	return img, true
}

func (d *Database) decodedDefault(width, height int) (entity.DecodedImage, bool) {
	def := d.store.DefaultIcon()
	if def == nil || !def.DataPresent {
		return entity.DecodedImage{}, false
	}
	if img, ok := def.CachedImage(width, height); ok {
		return img, true
	}
	img, ok := d.decoder.Decode(def.Data, width, height)
	if ok {
		def.CacheImage(width, height, img)
	}
	return img, ok
}

// IconURLForPage returns the icon URL currently associated with pageURL, or
// "" if none is known.
func (d *Database) IconURLForPage(pageURL string) string {
	page, ok := d.store.LookupPage(pageURL)
	if !ok || page.Icon == nil {
		return ""
	}
	return page.Icon.IconURL
}

// RetainPage increments pageURL's retain count (spec.md section 4.2).
func (d *Database) RetainPage(pageURL string) {
	d.store.RetainPage(pageURL)
}

// ReleasePage decrements pageURL's retain count; releasing an unretained
// URL is tolerated (spec.md section 7, "Misuse").
func (d *Database) ReleasePage(pageURL string) {
	d.store.ReleasePage(pageURL)
}

// SetIconDataForIconURL refreshes bytes and timestamp for iconURL, flipping
// its load decision from Yes to No (spec.md section 4.3b), and notifies
// every page currently associated with it that icon bytes are now available
// in memory (spec.md section 4.2, section 6 "DidImportIconDataForPage"). A
// nil/empty data slice persists as a definitive "no icon known" row (spec.md
// section 9). Respects the enabled/private-browsing write gate like every
// other mutator (spec.md section 4.2).
func (d *Database) SetIconDataForIconURL(data []byte, iconURL string) {
	icon := d.store.GetOrCreateIcon(iconURL)
	if icon == nil {
		return
	}
	icon.SetData(data, time.Now())

	if d.writeEnabled() {
		d.store.EnqueueIconWrite(icon)
		d.scheduleSync()
	}

	for _, pageURL := range d.store.IconBackRefs(iconURL) {
		d.client.DidImportIconDataForPage(pageURL)
	}
}

// SetIconURLForPage associates iconURL with pageURL, creating both records
// as needed and releasing the page's previous icon if it becomes orphaned
// (spec.md section 4.1, 4.2).
func (d *Database) SetIconURLForPage(iconURL, pageURL string) {
	page := d.store.GetOrCreatePage(pageURL)
	icon := d.store.GetOrCreateIcon(iconURL)
	if page == nil || icon == nil {
		return
	}

	writeEnabled := d.writeEnabled()
	prev := page.Icon
	d.store.Associate(page, icon, writeEnabled)
	if prev != nil && prev != icon {
		d.store.ReleaseIconIfUnreferenced(prev, writeEnabled)
	}
	d.scheduleSync()
}

// LoadDecisionForIconURL consults the decision machine (spec.md section
// 4.3).
func (d *Database) LoadDecisionForIconURL(iconURL string, pageURL string) entity.LoadDecision {
	return d.decide.Evaluate(iconURL, pageURL)
}

// IconDataKnownForIconURL reports whether iconURL has cached bytes or a
// definitive negative result (spec.md section 4.2).
func (d *Database) IconDataKnownForIconURL(iconURL string) bool {
	return d.decide.DataKnown(iconURL)
}

// RemoveAllIcons clears in-memory state immediately, then blocks until the
// sync actor has truncated persistence (spec.md section 4.2, section 8
// scenario S6: "it returns only after on-disk truncation"). The wait is
// bounded by Options.QueryTimeout; if that elapses first, RemoveAllIcons
// returns without the truncation having been confirmed.
func (d *Database) RemoveAllIcons() {
	d.store.Clear()
	d.store.MarkImportComplete()

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.QueryTimeout)
	defer cancel()
	_ = d.worker.RequestRemoveAll(ctx)
}

// Stats returns the statistics accessors named by spec.md section 4.2.
func (d *Database) Stats() entity.Stats {
	return d.store.Stats()
}

// scheduleSync arms (or leaves armed) the write-coalescing timer: a single
// short delay from the first dirtying event, not extended by later events
// within the window (spec.md section 4.4, "Write coalescing").
func (d *Database) scheduleSync() {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()

	if d.timer != nil {
		return
	}
	d.timer = time.AfterFunc(d.opts.SyncCoalesceWindow, func() {
		d.timerMu.Lock()
		d.timer = nil
		d.timerMu.Unlock()
		d.worker.Wake()
	})
}

// DefaultContextLogger is a convenience for callers that construct a
// Database without already carrying a logger on their context.
func DefaultContextLogger() context.Context {
	return logging.WithContext(context.Background(), logging.NewFromEnv())
}

var _ service.IconService = (*Database)(nil)
