// Package syncstate gives watermark persistence a typed, id-safe surface
// over internal/statestore's raw sync_state rows.
package syncstate

import (
	"fmt"
	"strings"

	"github.com/steveyegge/messaged/internal/errs"
	"github.com/steveyegge/messaged/internal/model"
)

// Key identifies one sync cursor as platform:source:scope, e.g.
// "email:imap:inbox" or "signal:default:main".
type Key struct {
	Platform string
	Source   string
	Scope    string
}

// String renders the key in its persisted id form.
func (k Key) String() string {
	return k.Platform + ":" + k.Source + ":" + k.Scope
}

// ParseKey splits a persisted sync_state id back into its three parts. It
// reports false if id does not have at least three colon-separated
// components (the scope may itself contain colons, e.g. an IMAP folder
// path, so parsing stops after the second colon).
func ParseKey(id string) (Key, bool) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) < 3 {
		return Key{}, false
	}
	return Key{Platform: parts[0], Source: parts[1], Scope: parts[2]}, true
}

// store is the subset of *statestore.Store this package depends on, kept
// narrow so tests can substitute a fake without importing the sqlite driver.
type store interface {
	SaveSyncState(id string, wm model.Watermark, metadata string) error
	LoadSyncState(id string) (*model.SyncState, error)
	DeleteSyncState(id string) error
	LoadSyncStates(platform, source string) ([]model.SyncState, error)
}

// Manager is the typed watermark façade used by adapters and the
// normalizer; it never exposes raw sync_state rows to callers.
type Manager struct {
	store store
}

// New wraps store with the typed Key surface.
func New(s store) *Manager {
	return &Manager{store: s}
}

// Save persists wm under key, overwriting any prior watermark.
func (m *Manager) Save(key Key, wm model.Watermark, metadata string) error {
	if err := m.store.SaveSyncState(key.String(), wm, metadata); err != nil {
		return fmt.Errorf("syncstate save %s: %w", key, err)
	}
	return nil
}

// Load returns the watermark for key, or the zero Watermark and false if
// none has been recorded yet.
func (m *Manager) Load(key Key) (model.Watermark, bool, error) {
	st, err := m.store.LoadSyncState(key.String())
	if err != nil {
		return model.Watermark{}, false, fmt.Errorf("syncstate load %s: %w", key, err)
	}
	if st == nil {
		return model.Watermark{}, false, nil
	}
	return st.Watermark, true, nil
}

// Delete removes any persisted watermark for key.
func (m *Manager) Delete(key Key) error {
	if err := m.store.DeleteSyncState(key.String()); err != nil {
		return fmt.Errorf("syncstate delete %s: %w", key, err)
	}
	return nil
}

// ForPlatform returns every watermark recorded for platform, keyed by the
// parsed Key. Rows whose id fails to parse are skipped rather than
// surfaced, since a malformed id is itself evidence of a store written by
// a different schema version, not a caller error.
func (m *Manager) ForPlatform(platform string) (map[Key]model.SyncState, error) {
	rows, err := m.store.LoadSyncStates(platform, "")
	if err != nil {
		return nil, fmt.Errorf("%w: syncstate for platform %s: %v", errs.ErrStorage, platform, err)
	}
	out := make(map[Key]model.SyncState, len(rows))
	for _, row := range rows {
		key, ok := ParseKey(row.ID)
		if !ok {
			continue
		}
		out[key] = row
	}
	return out, nil
}

// AdvanceIfNewer persists candidate only if advance reports true when given
// the current watermark for key, avoiding a read-then-write race from
// silently regressing a cursor. advance is one of the Watermark.After*
// helpers bound to candidate's fields by the caller.
func (m *Manager) AdvanceIfNewer(key Key, candidate model.Watermark, metadata string, advance func(current model.Watermark) bool) (bool, error) {
	current, _, err := m.Load(key)
	if err != nil {
		return false, err
	}
	if !advance(current) {
		return false, nil
	}
	return true, m.Save(key, candidate, metadata)
}
