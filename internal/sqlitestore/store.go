package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/icovault/icovault/internal/domain/entity"
	"github.com/icovault/icovault/internal/domain/repository"
)

var _ repository.Store = (*Store)(nil)

const importedFlagKey = "legacy_v2_imported"

// Store is the concrete repository.Store implementation. It owns the
// *sql.DB and every prepared statement; only the sync worker goroutine ever
// calls its methods (spec.md section 4.5, section 5 "Resource ownership").
type Store struct {
	db *sql.DB

	setIconIDForPage    *sql.Stmt
	insertPageURL       *sql.Stmt
	removePage          *sql.Stmt
	iconIDForIconURL    *sql.Stmt
	insertIconInfo      *sql.Stmt
	updateIconInfoStamp *sql.Stmt
	imageDataForIconURL *sql.Stmt
	upsertIconData      *sql.Stmt
	removeIconByURL     *sql.Stmt
}

// Open opens (or creates) the database at path and prepares every
// statement the adapter needs.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := newConnection(ctx, path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.prepare(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) prepare() error {
	stmts := []struct {
		dst **sql.Stmt
		sql string
	}{
		{&s.setIconIDForPage, `INSERT INTO page_url (url, icon_id) VALUES (?, ?)
			ON CONFLICT(url) DO UPDATE SET icon_id = excluded.icon_id`},
		{&s.insertPageURL, `INSERT INTO page_url (url, icon_id) VALUES (?, NULL)
			ON CONFLICT(url) DO NOTHING`},
		{&s.removePage, `DELETE FROM page_url WHERE url = ?`},
		{&s.iconIDForIconURL, `SELECT id FROM icon_info WHERE url = ?`},
		{&s.insertIconInfo, `INSERT INTO icon_info (url, stamp) VALUES (?, 0)`},
		{&s.updateIconInfoStamp, `UPDATE icon_info SET stamp = ? WHERE id = ?`},
		{&s.imageDataForIconURL, `SELECT d.data FROM icon_data d
			JOIN icon_info i ON i.id = d.icon_id WHERE i.url = ?`},
		{&s.upsertIconData, `INSERT INTO icon_data (icon_id, data) VALUES (?, ?)
			ON CONFLICT(icon_id) DO UPDATE SET data = excluded.data`},
		{&s.removeIconByURL, `DELETE FROM icon_info WHERE url = ?`},
	}

	for _, st := range stmts {
		prepared, err := s.db.Prepare(st.sql)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		*st.dst = prepared
	}
	return nil
}

// Close releases every prepared statement and the underlying connection.
func (s *Store) Close() error {
	stmts := []*sql.Stmt{
		s.setIconIDForPage, s.insertPageURL, s.removePage, s.iconIDForIconURL,
		s.insertIconInfo, s.updateIconInfoStamp, s.imageDataForIconURL,
		s.upsertIconData, s.removeIconByURL,
	}
	for _, st := range stmts {
		if st != nil {
			_ = st.Close()
		}
	}
	return s.db.Close()
}

// SetIconIDForPage upserts the page's icon association.
func (s *Store) SetIconIDForPage(ctx context.Context, pageURL string, iconID *int64) error {
	_, err := s.setIconIDForPage.ExecContext(ctx, pageURL, iconID)
	if err != nil {
		return fmt.Errorf("set icon id for page %q: %w", pageURL, err)
	}
	return nil
}

// RemovePage deletes the page row entirely.
func (s *Store) RemovePage(ctx context.Context, pageURL string) error {
	if _, err := s.removePage.ExecContext(ctx, pageURL); err != nil {
		return fmt.Errorf("remove page %q: %w", pageURL, err)
	}
	return nil
}

// IconIDForIconURL returns the row id for iconURL, or (0, false) if absent.
func (s *Store) IconIDForIconURL(ctx context.Context, iconURL string) (int64, bool, error) {
	var id int64
	err := s.iconIDForIconURL.QueryRowContext(ctx, iconURL).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("icon id for icon url %q: %w", iconURL, err)
	}
	return id, true, nil
}

// AddIconURL inserts a new icon row and returns its id.
func (s *Store) AddIconURL(ctx context.Context, iconURL string) (int64, error) {
	res, err := s.insertIconInfo.ExecContext(ctx, iconURL)
	if err != nil {
		return 0, fmt.Errorf("add icon url %q: %w", iconURL, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read inserted icon id for %q: %w", iconURL, err)
	}
	return id, nil
}

// ImageDataForIconURL returns the stored bytes for iconURL, or nil if none
// are stored.
func (s *Store) ImageDataForIconURL(ctx context.Context, iconURL string) ([]byte, error) {
	var data []byte
	err := s.imageDataForIconURL.QueryRowContext(ctx, iconURL).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("image data for icon url %q: %w", iconURL, err)
	}
	return data, nil
}

// RemoveIcon deletes the icon row; the page_url.icon_id foreign key is
// ON DELETE SET NULL, so referring pages are cleared automatically.
func (s *Store) RemoveIcon(ctx context.Context, iconURL string) error {
	if _, err := s.removeIconByURL.ExecContext(ctx, iconURL); err != nil {
		return fmt.Errorf("remove icon %q: %w", iconURL, err)
	}
	return nil
}

// WriteIconSnapshot upserts or deletes one icon's persisted bytes and
// timestamp.
func (s *Store) WriteIconSnapshot(ctx context.Context, snap entity.IconSnapshot) error {
	if snap.Deleted {
		return s.RemoveIcon(ctx, snap.IconURL)
	}

	id, ok, err := s.IconIDForIconURL(ctx, snap.IconURL)
	if err != nil {
		return err
	}
	if !ok {
		id, err = s.AddIconURL(ctx, snap.IconURL)
		if err != nil {
			return err
		}
	}

	if _, err := s.updateIconInfoStamp.ExecContext(ctx, snap.Stamp, id); err != nil {
		return fmt.Errorf("update stamp for icon %q: %w", snap.IconURL, err)
	}
	if !snap.DataPresent {
		return nil
	}
	if _, err := s.upsertIconData.ExecContext(ctx, id, snap.Data); err != nil {
		return fmt.Errorf("write icon data for %q: %w", snap.IconURL, err)
	}
	return nil
}

// Sync applies a batch of page and icon snapshots within a single
// transaction (spec.md section 4.4 step 4).
func (s *Store) Sync(ctx context.Context, pages map[string]entity.PageURLSnapshot, icons map[string]entity.IconSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sync transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, icon := range icons {
		if err := s.writeIconSnapshotTx(ctx, tx, icon); err != nil {
			return err
		}
	}
	for _, page := range pages {
		if err := s.writePageSnapshotTx(ctx, tx, page); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sync transaction: %w", err)
	}
	return nil
}

func (s *Store) writeIconSnapshotTx(ctx context.Context, tx *sql.Tx, snap entity.IconSnapshot) error {
	if snap.Deleted {
		if _, err := tx.ExecContext(ctx, `DELETE FROM icon_info WHERE url = ?`, snap.IconURL); err != nil {
			return fmt.Errorf("remove icon %q: %w", snap.IconURL, err)
		}
		return nil
	}

	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM icon_info WHERE url = ?`, snap.IconURL).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, insertErr := tx.ExecContext(ctx, `INSERT INTO icon_info (url, stamp) VALUES (?, ?)`, snap.IconURL, snap.Stamp)
		if insertErr != nil {
			return fmt.Errorf("insert icon %q: %w", snap.IconURL, insertErr)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read inserted icon id for %q: %w", snap.IconURL, err)
		}
	case err != nil:
		return fmt.Errorf("lookup icon %q: %w", snap.IconURL, err)
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE icon_info SET stamp = ? WHERE id = ?`, snap.Stamp, id); err != nil {
			return fmt.Errorf("update icon %q stamp: %w", snap.IconURL, err)
		}
	}

	if !snap.DataPresent {
		if _, err := tx.ExecContext(ctx, `DELETE FROM icon_data WHERE icon_id = ?`, id); err != nil {
			return fmt.Errorf("clear icon data for %q: %w", snap.IconURL, err)
		}
		return nil
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO icon_data (icon_id, data) VALUES (?, ?)
		ON CONFLICT(icon_id) DO UPDATE SET data = excluded.data`, id, snap.Data); err != nil {
		return fmt.Errorf("write icon data for %q: %w", snap.IconURL, err)
	}
	return nil
}

func (s *Store) writePageSnapshotTx(ctx context.Context, tx *sql.Tx, snap entity.PageURLSnapshot) error {
	if snap.Deleted {
		if _, err := tx.ExecContext(ctx, `DELETE FROM page_url WHERE url = ?`, snap.PageURL); err != nil {
			return fmt.Errorf("remove page %q: %w", snap.PageURL, err)
		}
		return nil
	}

	var iconID any
	if snap.HasIcon {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM icon_info WHERE url = ?`, snap.IconURL).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			res, insertErr := tx.ExecContext(ctx, `INSERT INTO icon_info (url, stamp) VALUES (?, 0)`, snap.IconURL)
			if insertErr != nil {
				return fmt.Errorf("insert icon %q for page %q: %w", snap.IconURL, snap.PageURL, insertErr)
			}
			id, err = res.LastInsertId()
			if err != nil {
				return fmt.Errorf("read inserted icon id for %q: %w", snap.IconURL, err)
			}
		} else if err != nil {
			return fmt.Errorf("lookup icon %q for page %q: %w", snap.IconURL, snap.PageURL, err)
		}
		iconID = id
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO page_url (url, icon_id) VALUES (?, ?)
		ON CONFLICT(url) DO UPDATE SET icon_id = excluded.icon_id`, snap.PageURL, iconID); err != nil {
		return fmt.Errorf("upsert page %q: %w", snap.PageURL, err)
	}
	return nil
}

// AllPageIconMappings loads every (pageURL, iconURL) row, for the one-time
// URL import performed at open.
func (s *Store) AllPageIconMappings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.url, i.url FROM page_url p
		JOIN icon_info i ON i.id = p.icon_id
		WHERE p.icon_id IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("load page/icon mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var pageURL, iconURL string
		if err := rows.Scan(&pageURL, &iconURL); err != nil {
			return nil, fmt.Errorf("scan page/icon mapping row: %w", err)
		}
		out[pageURL] = iconURL
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page/icon mapping rows: %w", err)
	}
	return out, nil
}

// SetImportedFlag records whether the legacy v2 import has run.
func (s *Store) SetImportedFlag(ctx context.Context, imported bool) error {
	value := "0"
	if imported {
		value = "1"
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO icon_database_info (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, importedFlagKey, value)
	if err != nil {
		return fmt.Errorf("set imported flag: %w", err)
	}
	return nil
}

// ImportedFlag reports whether the legacy v2 import has already run.
func (s *Store) ImportedFlag(ctx context.Context) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM icon_database_info WHERE key = ?`, importedFlagKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read imported flag: %w", err)
	}
	return value == "1", nil
}

// TruncateAll empties the icon_data, page_url, and icon_info tables. The
// icon_database_info table (including the imported flag) is kept.
func (s *Store) TruncateAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin truncate transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"icon_data", "page_url", "icon_info"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("truncate table %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit truncate transaction: %w", err)
	}
	return nil
}

// IntegrityCheck runs SQLite's built-in consistency check.
func (s *Store) IntegrityCheck(ctx context.Context) (bool, error) {
	var result string
	if err := s.db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return false, fmt.Errorf("integrity check: %w", err)
	}
	return result == "ok", nil
}

// PruneUnreferenced deletes persisted pages with zero retain count (not in
// retainedPageURLs) and then every icon row with no referring page.
func (s *Store) PruneUnreferenced(ctx context.Context, retainedPageURLs map[string]struct{}) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin prune transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT url FROM page_url`)
	if err != nil {
		return fmt.Errorf("list pages for prune: %w", err)
	}
	var toDelete []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan page url for prune: %w", err)
		}
		if _, retained := retainedPageURLs[url]; !retained {
			toDelete = append(toDelete, url)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("iterate pages for prune: %w", err)
	}
	_ = rows.Close()

	for _, url := range toDelete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM page_url WHERE url = ?`, url); err != nil {
			return fmt.Errorf("prune page %q: %w", url, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM icon_info WHERE id NOT IN (
			SELECT DISTINCT icon_id FROM page_url WHERE icon_id IS NOT NULL
		)`); err != nil {
		return fmt.Errorf("prune unreferenced icons: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit prune transaction: %w", err)
	}
	return nil
}
