// Package entity defines the favicon database's in-memory record graph.
package entity

import "time"

// IconRecord represents one icon identified by its IconURL, the absolute URL
// whence it was (or would be) fetched. It is created on first reference and
// destroyed once its back-reference set is empty and it has been removed from
// persistence (spec.md section 3).
type IconRecord struct {
	IconURL string

	// HasAttemptedData is true once a load (successful or not) has been
	// attempted for this icon; DataPresent is true only if that attempt
	// produced bytes. Distinguishing the two lets the core tell "unknown"
	// apart from "known absent".
	HasAttemptedData bool
	DataPresent      bool
	Data             []byte

	// Stamp is the Unix timestamp (seconds) of the last successful fetch.
	Stamp int64

	// BackRefs is the set of page URLs currently associated with this icon.
	// Maintained as a weak relation by the record store: removing a page
	// removes it from here under the same lock, with no cycle collection
	// needed (spec.md section 9).
	BackRefs map[string]struct{}

	// decodedImages caches at most one decoded image per (width, height),
	// per spec.md section 6. Owned by the record, guarded by the store's
	// url-and-icon lock like every other field here.
	decodedImages map[iconSizeKey]DecodedImage
}

// iconSizeKey is the cache key for a decoded image of a given size.
type iconSizeKey struct {
	Width, Height int
}

// DecodedImage is an opaque, display-ready icon, produced by the decoder
// collaborator (spec.md section 6).
type DecodedImage struct {
	Width, Height int
	RGBA          []byte // 8-bit RGBA, row-major, Width*Height*4 bytes
}

// NewIconRecord creates an empty icon record for the given URL.
func NewIconRecord(iconURL string) *IconRecord {
	return &IconRecord{
		IconURL:  iconURL,
		BackRefs: make(map[string]struct{}),
	}
}

// AddBackRef registers pageURL as referencing this icon.
func (r *IconRecord) AddBackRef(pageURL string) {
	r.BackRefs[pageURL] = struct{}{}
}

// RemoveBackRef removes pageURL from this icon's back-reference set.
func (r *IconRecord) RemoveBackRef(pageURL string) {
	delete(r.BackRefs, pageURL)
}

// HasBackRefs reports whether any page still references this icon.
func (r *IconRecord) HasBackRefs() bool {
	return len(r.BackRefs) > 0
}

// SetData stores fetched bytes (nil means a definitive negative result) and
// stamps the record with the given time.
func (r *IconRecord) SetData(data []byte, when time.Time) {
	r.HasAttemptedData = true
	r.DataPresent = len(data) > 0
	r.Data = data
	r.Stamp = when.Unix()
	r.decodedImages = nil
}

// CachedImage returns a previously decoded image for the given size, if any.
func (r *IconRecord) CachedImage(width, height int) (DecodedImage, bool) {
	if r.decodedImages == nil {
		return DecodedImage{}, false
	}
	img, ok := r.decodedImages[iconSizeKey{width, height}]
	return img, ok
}

// CacheImage stores a decoded image for the given size.
func (r *IconRecord) CacheImage(width, height int, img DecodedImage) {
	if r.decodedImages == nil {
		r.decodedImages = make(map[iconSizeKey]DecodedImage)
	}
	r.decodedImages[iconSizeKey{width, height}] = img
}

// Snapshot returns a value copy suitable for crossing the actor boundary;
// the sync worker touches only snapshots, never live records (spec.md
// section 5, "Resource ownership").
func (r *IconRecord) Snapshot() IconSnapshot {
	return IconSnapshot{
		IconURL:     r.IconURL,
		Data:        append([]byte(nil), r.Data...),
		DataPresent: r.DataPresent,
		Stamp:       r.Stamp,
	}
}

// IconSnapshot is a value-copy of the persistable fields of an IconRecord,
// taken under lock (spec.md section 3, "PendingSync queues").
type IconSnapshot struct {
	IconURL string
	Data    []byte
	// DataPresent distinguishes "no icon known" (false) from real bytes.
	DataPresent bool
	Stamp       int64

	// Deleted, when true, means this entry encodes a deletion rather than
	// an upsert (spec.md section 3, invariant 3).
	Deleted bool
}
