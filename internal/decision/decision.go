// Package decision implements the load-decision state machine (spec.md
// section 4.3): for a given icon URL, whether the embedder should fetch
// fresh bytes, trust cached bytes, or wait for the initial import to finish.
package decision

import (
	"time"

	"github.com/icovault/icovault/internal/domain/entity"
	"github.com/icovault/icovault/internal/recordstore"
)

// Clock abstracts time.Now so tests can control the expiration horizon
// deterministically.
type Clock func() time.Time

// Machine evaluates load decisions against a record store. It holds no
// state of its own beyond the configured horizon and clock; every durable
// bit (interested pages, import completion) lives in the store (spec.md
// section 3).
type Machine struct {
	store             *recordstore.Store
	expirationHorizon time.Duration
	now               Clock
}

// New creates a decision machine with the given expiration horizon (default
// 4 days per spec.md section 4.3) and clock.
func New(store *recordstore.Store, expirationHorizon time.Duration, now Clock) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{store: store, expirationHorizon: expirationHorizon, now: now}
}

// Evaluate returns the load decision for iconURL, recording pageURL as
// interested in the resolution if the decision is Unknown (spec.md section
// 4.3). pageURL may be empty if the caller has no associated page.
func (m *Machine) Evaluate(iconURL, pageURL string) entity.LoadDecision {
	if iconURL == "" {
		return entity.LoadNo
	}

	if !m.store.ImportComplete() {
		if pageURL != "" {
			m.store.MarkInterestedInIcons(pageURL)
		}
		return entity.LoadUnknown
	}

	icon, ok := m.store.LookupIcon(iconURL)
	if !ok || !icon.HasAttemptedData {
		return entity.LoadYes
	}

	// A definitive negative result (bytes == nil) is cached the same as real
	// bytes: it stays No until it ages past the expiration horizon, rather
	// than forcing an immediate re-fetch every time (spec.md section 8).
	age := m.now().Unix() - icon.Stamp
	if age < 0 || time.Duration(age)*time.Second > m.expirationHorizon {
		return entity.LoadYes
	}
	return entity.LoadNo
}

// DataKnown reports whether iconURL has either cached bytes or a definitive
// negative result recorded (spec.md section 4.2, icon_data_known_for_icon_url).
func (m *Machine) DataKnown(iconURL string) bool {
	icon, ok := m.store.LookupIcon(iconURL)
	return ok && icon.HasAttemptedData
}

// ResolveImportedPages returns every page URL that was recorded as
// interested while the decision machine was Unknown, so the caller can
// dispatch the embedder's DidAddIconForPage callback exactly once per page
// (spec.md section 4.3, section 4.4 step 3). It clears the interested set.
func (m *Machine) ResolveImportedPages() []string {
	return m.store.TakeInterestedPages()
}
