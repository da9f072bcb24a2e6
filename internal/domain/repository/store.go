// Package repository defines the collaborator contracts the favicon core
// requires of external systems (spec.md section 4.5 and section 6).
package repository

import (
	"context"

	"github.com/icovault/icovault/internal/domain/entity"
)

// Store is the SQL adapter contract. Every operation is atomic from the
// caller's point of view; the concrete implementation (internal/sqlitestore)
// owns the connection and all prepared statements, touched only by the sync
// worker (spec.md section 4.5).
type Store interface {
	// SetIconIDForPage upserts the page's icon association. A nil iconID
	// clears the association.
	SetIconIDForPage(ctx context.Context, pageURL string, iconID *int64) error

	// RemovePage deletes the page row entirely.
	RemovePage(ctx context.Context, pageURL string) error

	// IconIDForIconURL returns the row id for iconURL, or (0, false) if absent.
	IconIDForIconURL(ctx context.Context, iconURL string) (id int64, ok bool, err error)

	// AddIconURL inserts a new icon row and returns its id.
	AddIconURL(ctx context.Context, iconURL string) (id int64, err error)

	// ImageDataForIconURL returns the stored bytes for iconURL, or nil if
	// none are stored (which is distinct from "icon unknown" — callers use
	// IconIDForIconURL first to distinguish the two).
	ImageDataForIconURL(ctx context.Context, iconURL string) ([]byte, error)

	// RemoveIcon deletes the icon row, cascading to null out any page rows
	// that referenced it.
	RemoveIcon(ctx context.Context, iconURL string) error

	// WriteIconSnapshot upserts (iconURL, bytes, timestamp) into the icon
	// tables, or deletes the row if snap.Deleted.
	WriteIconSnapshot(ctx context.Context, snap entity.IconSnapshot) error

	// Sync applies a batch of page and icon snapshots within a single
	// transaction, upserting or deleting each according to its Deleted flag
	// (spec.md section 4.4 step 4, "a write burst groups all dirty records
	// currently queued").
	Sync(ctx context.Context, pages map[string]entity.PageURLSnapshot, icons map[string]entity.IconSnapshot) error

	// AllPageIconMappings loads every (pageURL, iconURL) row, for the
	// one-time URL import performed at open (spec.md section 4.4 step 3).
	AllPageIconMappings(ctx context.Context) (map[string]string, error)

	// SetImportedFlag / ImportedFlag track whether the legacy v2 import has
	// already run for this database file.
	SetImportedFlag(ctx context.Context, imported bool) error
	ImportedFlag(ctx context.Context) (bool, error)

	// TruncateAll empties every icon and page table (remove_all_icons,
	// spec.md section 4.2); the imported flag is kept.
	TruncateAll(ctx context.Context) error

	// IntegrityCheck reports whether the underlying store passes its
	// consistency check.
	IntegrityCheck(ctx context.Context) (bool, error)

	// PruneUnreferenced deletes every persisted page whose URL is not in
	// retainedPageURLs, then every icon row with no referring page (spec.md
	// section 4.4 step 5). Only retainedPageURLs protects a page: a page
	// with a pending-sync entry but no retain count is deleted as well.
	PruneUnreferenced(ctx context.Context, retainedPageURLs map[string]struct{}) error

	// Close releases the underlying connection and prepared statements.
	Close() error
}
