// Package service defines the domain-facing interfaces the favicon core
// exposes and consumes (spec.md sections 4.2 and 6).
package service

import (
	"context"

	"github.com/icovault/icovault/internal/domain/entity"
)

// Decoder is the image decoder collaborator: given bytes and a requested
// size, it returns a decoded image suitable for display, or ok=false if the
// bytes could not be decoded (spec.md section 6). The core caches at most
// one decoded image per (IconRecord, size) pair; decoding itself is left
// entirely to this collaborator.
type Decoder interface {
	Decode(data []byte, width, height int) (img entity.DecodedImage, ok bool)
}

// Client is the embedder callback interface the core consumes (spec.md
// section 6). Methods are called directly on the goroutine that triggers
// them: the sync worker's goroutine for import, read, and remove-all
// notifications, and the caller's goroutine for SetIconDataForIconURL. The
// core does not hand callbacks off to a UI goroutine.
type Client interface {
	// DidAddIconForPage is called when a previously-Unknown icon becomes
	// known (Yes or No resolved) for a page the embedder was loading.
	DidAddIconForPage(pageURL string)

	// DidImportIconDataForPage is called after icon bytes for a page become
	// available in memory.
	DidImportIconDataForPage(pageURL string)

	// DidRemoveAllIcons is called after RemoveAllIcons completes on disk.
	DidRemoveAllIcons()

	// PerformingImportShouldStop is polled during imports; a true return
	// requests early return (spec.md section 6).
	PerformingImportShouldStop() bool
}

// NoopClient is a Client that does nothing; useful for callers that only
// need polling accessors and no push notifications.
type NoopClient struct{}

func (NoopClient) DidAddIconForPage(string)         {}
func (NoopClient) DidImportIconDataForPage(string)  {}
func (NoopClient) DidRemoveAllIcons()               {}
func (NoopClient) PerformingImportShouldStop() bool { return false }

// LegacyImporter performs the one-time legacy v2 on-disk format import
// (spec.md section 4.4 step 4). New deployments may pass a no-op importer
// and set the imported flag at open (spec.md section 9).
type LegacyImporter interface {
	// Import scans whatever legacy format this importer knows about and
	// returns the (pageURL -> iconURL) associations and (iconURL -> bytes)
	// payloads it found. A nil/empty result with a nil error means there was
	// nothing to import.
	Import(ctx context.Context) (urls map[string]string, data map[string][]byte, err error)
}

// NoopLegacyImporter performs no import and reports success immediately,
// so SetImportedFlag(true) is recorded on the first open (spec.md section 9).
type NoopLegacyImporter struct{}

func (NoopLegacyImporter) Import(context.Context) (map[string]string, map[string][]byte, error) {
	return nil, nil, nil
}

// IconService is the public API contract of the favicon core (spec.md
// section 4.2), implemented by internal/core.Database.
type IconService interface {
	Open(ctx context.Context, path string) (bool, error)
	Close()

	SetEnabled(enabled bool)
	SetPrivateBrowsing(enabled bool)

	IconForPage(ctx context.Context, pageURL string, width, height int, cache bool) (entity.DecodedImage, bool)
	IconURLForPage(pageURL string) string

	RetainPage(pageURL string)
	ReleasePage(pageURL string)

	SetIconDataForIconURL(data []byte, iconURL string)
	SetIconURLForPage(iconURL, pageURL string)

	LoadDecisionForIconURL(iconURL string, pageURL string) entity.LoadDecision
	IconDataKnownForIconURL(iconURL string) bool

	RemoveAllIcons()

	Stats() entity.Stats
}
