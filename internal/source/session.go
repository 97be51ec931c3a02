package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/fira/internal/sqlite"
	"github.com/mesh-intelligence/fira/pkg/types"
)

// SessionBackend persists the single session record.
type SessionBackend interface {
	SaveSession(mode string, body []byte) error
	LoadSession() (*sqlite.SessionRow, error)
	ClearSession() error
}

// SessionRecord is the dataset of the last successful resolution together
// with the mode and directory it came from.
type SessionRecord struct {
	SavedAt   time.Time     `json:"savedAt"`
	Mode      types.Mode    `json:"mode"`
	FromCache bool          `json:"fromCache,omitempty"`
	Directory string        `json:"directory,omitempty"`
	Dataset   types.Dataset `json:"dataset"`
}

// SessionStore saves and restores SessionRecords younger than a TTL.
type SessionStore struct {
	backend SessionBackend
	ttl     time.Duration
	now     func() time.Time
}

// NewSessionStore wraps backend. A zero ttl uses the default session TTL.
func NewSessionStore(backend SessionBackend, ttl time.Duration, now func() time.Time) *SessionStore {
	if ttl <= 0 {
		ttl = types.DefaultSessionTTL
	}
	if now == nil {
		now = time.Now
	}
	return &SessionStore{backend: backend, ttl: ttl, now: now}
}

// Save replaces the session record.
func (s *SessionStore) Save(rec SessionRecord) error {
	if s == nil || s.backend == nil {
		return nil
	}
	rec.SavedAt = s.now().UTC()
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	return s.backend.SaveSession(string(rec.Mode), body)
}

// Load returns the session record when one exists and is younger than the
// TTL. Expired or unreadable records yield types.ErrNotFound.
func (s *SessionStore) Load() (*SessionRecord, error) {
	if s == nil || s.backend == nil {
		return nil, types.ErrNotFound
	}
	row, err := s.backend.LoadSession()
	if err != nil {
		return nil, err
	}
	var rec SessionRecord
	if err := json.Unmarshal(row.Body, &rec); err != nil {
		return nil, fmt.Errorf("session: %w", types.ErrNotFound)
	}
	if s.now().Sub(rec.SavedAt) > s.ttl {
		return nil, fmt.Errorf("session expired: %w", types.ErrNotFound)
	}
	if rec.Dataset.ProjectTasks == nil {
		rec.Dataset.ProjectTasks = map[string][]types.Task{}
	}
	rec.Dataset.RebuildAll()
	return &rec, nil
}

// Clear removes the session record.
func (s *SessionStore) Clear() error {
	if s == nil || s.backend == nil {
		return nil
	}
	err := s.backend.ClearSession()
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	return err
}

// SettingsBackend persists small key/value settings.
type SettingsBackend interface {
	SetSetting(key, value string) error
	Setting(key string) (string, bool, error)
	DeleteSetting(key string) error
}

// HandleStore remembers the directory the user granted, the Go stand-in
// for a retained directory handle.
type HandleStore struct {
	backend SettingsBackend
}

// NewHandleStore wraps backend. A nil backend remembers nothing.
func NewHandleStore(backend SettingsBackend) *HandleStore {
	return &HandleStore{backend: backend}
}

// Granted returns the remembered directory.
func (h *HandleStore) Granted() (string, bool) {
	if h == nil || h.backend == nil {
		return "", false
	}
	path, ok, err := h.backend.Setting(sqlite.SettingGrantedDir)
	if err != nil || !ok || path == "" {
		return "", false
	}
	return path, true
}

// Grant remembers path.
func (h *HandleStore) Grant(path string) error {
	if h == nil || h.backend == nil {
		return nil
	}
	return h.backend.SetSetting(sqlite.SettingGrantedDir, path)
}

// Revoke forgets the remembered directory.
func (h *HandleStore) Revoke() error {
	if h == nil || h.backend == nil {
		return nil
	}
	return h.backend.DeleteSetting(sqlite.SettingGrantedDir)
}
