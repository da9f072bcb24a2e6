// Package syncworker implements the sync actor: the single goroutine that
// owns the SQL connection and drains the record store's pending-sync and
// pending-read queues (spec.md section 4.4). Every method that touches the
// database is only ever called from the goroutine started by Run; all
// cross-actor communication happens through the record store or the
// wake/remove channels below.
package syncworker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/icovault/icovault/internal/domain/entity"
	"github.com/icovault/icovault/internal/domain/repository"
	"github.com/icovault/icovault/internal/domain/service"
	"github.com/icovault/icovault/internal/logging"
	"github.com/icovault/icovault/internal/recordstore"
)

// cleanupDelayCount is process-wide, mirroring the original database's
// static delayDatabaseCleanup/allowDatabaseCleanup pair (spec.md section
// 4.4, "Write coalescing"): any caller anywhere in the process can suppress
// pruning, regardless of which Worker instance is running.
var cleanupDelayCount int32

// DelayDatabaseCleanup increments the process-wide pruning suppression
// counter. Pair with AllowDatabaseCleanup.
func DelayDatabaseCleanup() {
	atomic.AddInt32(&cleanupDelayCount, 1)
}

// AllowDatabaseCleanup decrements the process-wide pruning suppression
// counter. It is a no-op if the counter is already zero.
func AllowDatabaseCleanup() {
	for {
		cur := atomic.LoadInt32(&cleanupDelayCount)
		if cur <= 0 {
			return
		}
		if atomic.CompareAndSwapInt32(&cleanupDelayCount, cur, cur-1) {
			return
		}
	}
}

func cleanupDelayed() bool {
	return atomic.LoadInt32(&cleanupDelayCount) > 0
}

// Config carries the sync worker's tunables (spec.md section 6).
type Config struct {
	IntegrityCheckBeforeOpen bool
	WaitTimeout              time.Duration // bounded condition-variable timeout, main loop step 6
}

// DefaultConfig returns the worker defaults named in spec.md section 6.
func DefaultConfig() Config {
	return Config{WaitTimeout: 30 * time.Second}
}

// Worker is the sync actor. Construct with New, start with Run in its own
// goroutine, and stop with RequestTermination followed by <-Done().
type Worker struct {
	store  *recordstore.Store
	db     repository.Store
	legacy service.LegacyImporter
	client service.Client
	cfg    Config

	mu                   sync.Mutex // "sync_lock": guards the fields below
	terminationRequested bool
	removeRequested      bool
	removeDone           chan struct{}
	cyclesSinceOpen      int
	prunedOnce           bool

	wake chan struct{}
	done chan struct{}
}

// New constructs a Worker. db must already be open; legacy and client must
// not be nil (pass service.NoopLegacyImporter{} / service.NoopClient{} when
// the embedder has nothing to plug in).
func New(store *recordstore.Store, db repository.Store, legacy service.LegacyImporter, client service.Client, cfg Config) *Worker {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultConfig().WaitTimeout
	}
	return &Worker{
		store:      store,
		db:         db,
		legacy:     legacy,
		client:     client,
		cfg:        cfg,
		removeDone: make(chan struct{}),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Done returns a channel closed once Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Wake signals the sync actor to run another loop pass without waiting for
// the bounded timeout. Non-blocking; redundant wakeups coalesce (spec.md
// section 4.4, "Write coalescing").
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// RequestTermination asks the main loop to exit at the next opportunity.
// Callers should then wait on Done().
func (w *Worker) RequestTermination() {
	w.mu.Lock()
	w.terminationRequested = true
	w.mu.Unlock()
	w.Wake()
}

// RequestRemoveAll asks the main loop to truncate persistence, and blocks
// until that pass (including the DidRemoveAllIcons callback) completes or
// ctx is done (spec.md section 4.4 step 2, "broadcast removeCondition"). It
// does not touch the in-memory store; core.Database.RemoveAllIcons clears
// that before calling it.
func (w *Worker) RequestRemoveAll(ctx context.Context) error {
	w.mu.Lock()
	w.removeRequested = true
	waitOn := w.removeDone
	w.mu.Unlock()
	w.Wake()

	select {
	case <-waitOn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run performs the open sequence (spec.md section 4.4: integrity check, URL
// import, legacy import) and then the main loop, until ctx is cancelled or
// RequestTermination is called. It always closes Done() on return.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	logger := logging.FromContext(ctx)

	if w.cfg.IntegrityCheckBeforeOpen {
		ok, err := w.db.IntegrityCheck(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("integrity check failed to run")
		} else if !ok {
			logger.Warn().Msg("integrity check failed, truncating and recreating")
			if err := w.db.TruncateAll(ctx); err != nil {
				logger.Error().Err(err).Msg("truncate after failed integrity check")
			}
		}
	}

	if err := w.importURLs(ctx); err != nil {
		logger.Error().Err(err).Msg("url import failed")
	}

	if err := w.performLegacyImportIfNeeded(ctx); err != nil {
		logger.Error().Err(err).Msg("legacy import failed")
	}

	w.mainLoop(ctx)
}

// shouldStopImport polls the embedder's early-return signal and the
// context's cancellation, the two yield points spec.md sections 5 and 6
// require every import loop to check between rows.
func (w *Worker) shouldStopImport(ctx context.Context) bool {
	return ctx.Err() != nil || w.client.PerformingImportShouldStop()
}

// importURLs performs the one-time (pageURL, iconURL) load into memory,
// flips iconURLImportComplete, and drains the interested-pages set through
// the embedder callback (spec.md section 4.4 step 3). If the embedder
// requests an early return partway through, iconURLImportComplete is left
// unset so the import resumes from scratch on the next call.
func (w *Worker) importURLs(ctx context.Context) error {
	mappings, err := w.db.AllPageIconMappings(ctx)
	if err != nil {
		return err
	}
	for pageURL, iconURL := range mappings {
		if w.shouldStopImport(ctx) {
			return nil
		}
		w.store.ImportURLMapping(pageURL, iconURL)
	}
	w.store.MarkImportComplete()

	for _, pageURL := range w.store.TakeInterestedPages() {
		w.client.DidAddIconForPage(pageURL)
	}
	return nil
}

// performLegacyImportIfNeeded runs the legacy v2 importer once per database
// file (spec.md section 4.4 step 4, section 9). An early-return request
// leaves the imported flag unset so the import is retried on the next open.
func (w *Worker) performLegacyImportIfNeeded(ctx context.Context) error {
	imported, err := w.db.ImportedFlag(ctx)
	if err != nil {
		return err
	}
	if imported {
		return nil
	}

	urls, data, err := w.legacy.Import(ctx)
	if err != nil {
		return err
	}
	for pageURL, iconURL := range urls {
		if w.shouldStopImport(ctx) {
			return nil
		}
		w.store.ImportURLMapping(pageURL, iconURL)
	}
	for iconURL, bytes := range data {
		if w.shouldStopImport(ctx) {
			return nil
		}
		w.store.ImportIconData(iconURL, bytes, time.Now().Unix())
		if err := w.db.WriteIconSnapshot(ctx, entity.IconSnapshot{
			IconURL:     iconURL,
			Data:        bytes,
			DataPresent: len(bytes) > 0,
			Stamp:       time.Now().Unix(),
		}); err != nil {
			return err
		}
	}
	return w.db.SetImportedFlag(ctx, true)
}

// mainLoop is the sync actor's steady-state loop (spec.md section 4.4,
// "Main loop").
func (w *Worker) mainLoop(ctx context.Context) {
	logger := logging.FromContext(ctx)

	for {
		w.mu.Lock()
		terminate := w.terminationRequested
		removeRequested := w.removeRequested
		w.mu.Unlock()

		if terminate {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if removeRequested {
			w.performRemoveAll(ctx)
			continue
		}

		w.readFromDatabase(ctx)
		w.writeToDatabase(ctx)

		w.mu.Lock()
		w.cyclesSinceOpen++
		shouldPrune := w.cyclesSinceOpen >= 1 && !w.prunedOnce
		w.mu.Unlock()

		if shouldPrune && !cleanupDelayed() {
			if err := w.pruneUnretainedIcons(ctx); err != nil {
				logger.Error().Err(err).Msg("prune unretained icons")
			}
			w.mu.Lock()
			w.prunedOnce = true
			w.mu.Unlock()
		}

		w.waitForWake(ctx)
	}
}

// waitForWake blocks until Wake is called, ctx is cancelled, or the bounded
// timeout elapses (spec.md section 4.4 step 6).
func (w *Worker) waitForWake(ctx context.Context) {
	timer := time.NewTimer(w.cfg.WaitTimeout)
	defer timer.Stop()

	select {
	case <-w.wake:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// performRemoveAll truncates persistence and wakes every RequestRemoveAll
// caller. The in-memory store was already cleared synchronously by the UI
// actor before this request was made (spec.md section 4.2, 4.4 step 2).
func (w *Worker) performRemoveAll(ctx context.Context) {
	logger := logging.FromContext(ctx)
	if err := w.db.TruncateAll(ctx); err != nil {
		logger.Error().Err(err).Msg("truncate all")
	}

	w.client.DidRemoveAllIcons()

	w.mu.Lock()
	w.removeRequested = false
	close(w.removeDone)
	w.removeDone = make(chan struct{})
	w.mu.Unlock()
}

// readFromDatabase loads bytes for every icon in the pending-read set and
// notifies pages currently associated with each (spec.md section 4.4 step
// 3).
func (w *Worker) readFromDatabase(ctx context.Context) {
	logger := logging.FromContext(ctx)

	for _, iconURL := range w.store.TakePendingReads() {
		data, err := w.db.ImageDataForIconURL(ctx, iconURL)
		if err != nil {
			logger.Error().Err(err).Str("icon_url", iconURL).Msg("read icon data")
			continue
		}
		w.store.ImportIconData(iconURL, data, time.Now().Unix())

		for _, pageURL := range w.store.IconBackRefs(iconURL) {
			w.client.DidImportIconDataForPage(pageURL)
		}
	}
}

// writeToDatabase snapshots and clears the pending-sync maps and applies
// them in a single transaction (spec.md section 4.4 step 4).
func (w *Worker) writeToDatabase(ctx context.Context) {
	logger := logging.FromContext(ctx)

	pages, icons := w.store.TakePendingSync()
	if len(pages) == 0 && len(icons) == 0 {
		return
	}
	if err := w.db.Sync(ctx, pages, icons); err != nil {
		logger.Error().Err(err).Int("pages", len(pages)).Int("icons", len(icons)).Msg("sync write burst failed")
	}
}

// pruneUnretainedIcons deletes persisted pages with zero retain count and
// icons with no referring page (spec.md section 4.4 step 5).
func (w *Worker) pruneUnretainedIcons(ctx context.Context) error {
	retained := w.store.RetainedPageURLs()
	return w.db.PruneUnreferenced(ctx, retained)
}
