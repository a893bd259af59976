package settings

import (
	"errors"
	"sync/atomic"
	"time"
)

var errNotLoaded = errors.New("settings not loaded")

// Manager holds the active settings snapshot. Reads are lock-free.
type Manager struct {
	active atomic.Pointer[Snapshot]
}

func NewManager() *Manager { return &Manager{} }

// Set replaces the active snapshot.
func (m *Manager) Set(s Snapshot) {
	// copy so callers cannot mutate what request handlers read
	cp := new(Snapshot)
	*cp = s
	if cp.LoadedAt.IsZero() {
		cp.LoadedAt = time.Now().UTC()
	}
	m.active.Store(cp)
}

// Get returns the active snapshot and whether one has been loaded.
func (m *Manager) Get() (*Snapshot, bool) {
	s := m.active.Load()
	return s, s != nil
}

// PathsFor returns a copy of the templates for contentType from the active
// snapshot. It returns nil before the first load.
func (m *Manager) PathsFor(contentType string) []string {
	s := m.active.Load()
	if s == nil {
		return nil
	}
	return s.Settings.For(contentType)
}

// ContentTypes returns the content types present in the active snapshot.
func (m *Manager) ContentTypes() []string {
	s := m.active.Load()
	if s == nil {
		return nil
	}
	return s.Settings.ContentTypes()
}

// Hash returns the hash of the active settings document, or "".
func (m *Manager) Hash() string {
	s := m.active.Load()
	if s == nil {
		return ""
	}
	return s.Hash
}

// ReadyErr returns an error until the first snapshot has been loaded.
func (m *Manager) ReadyErr() error {
	if m.active.Load() == nil {
		return errNotLoaded
	}
	return nil
}
