package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/fira/pkg/types"
)

// Well-known rows.
const (
	SnapshotSlot      = "cache"
	SessionSlot       = "current"
	SettingGrantedDir = "granted_directory"
	SettingActiveMode = "active_mode"
)

// StoredSnapshot is a raw snapshot document with the time it was saved.
type StoredSnapshot struct {
	SavedAt time.Time
	Body    []byte
}

// SaveSnapshot replaces the cached snapshot document.
func (b *Backend) SaveSnapshot(body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.exec("snapshots",
		"INSERT OR REPLACE INTO snapshots (slot, saved_at, body) VALUES (?, ?, ?)",
		SnapshotSlot, b.timestamp(), string(body))
	return err
}

// LoadSnapshot returns the cached snapshot document or types.ErrNotFound.
func (b *Backend) LoadSnapshot() (*StoredSnapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, ErrDetached
	}
	var savedAt, body string
	err := b.db.QueryRow("SELECT saved_at, body FROM snapshots WHERE slot = ?", SnapshotSlot).Scan(&savedAt, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	at, _ := time.Parse(timeLayout, savedAt)
	return &StoredSnapshot{SavedAt: at, Body: []byte(body)}, nil
}

// AddTombstone records a deleted project id. Adding an id twice keeps the
// first deletion time.
func (b *Backend) AddTombstone(projectID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.exec("tombstones",
		"INSERT OR IGNORE INTO tombstones (project_id, deleted_at) VALUES (?, ?)",
		projectID, b.timestamp())
	return err
}

// RemoveTombstone forgets a deleted project id.
func (b *Backend) RemoveTombstone(projectID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.exec("tombstones", "DELETE FROM tombstones WHERE project_id = ?", projectID)
	return err
}

// Tombstones lists every deleted project id in deletion order.
func (b *Backend) Tombstones() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, ErrDetached
	}
	rows, err := b.db.Query("SELECT project_id FROM tombstones ORDER BY deleted_at, project_id")
	if err != nil {
		return nil, fmt.Errorf("reading tombstones: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning tombstone: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SessionRow is the persisted session record.
type SessionRow struct {
	Mode    string
	SavedAt time.Time
	Body    []byte
}

// SaveSession replaces the session record.
func (b *Backend) SaveSession(mode string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.exec("sessions",
		"INSERT OR REPLACE INTO sessions (slot, mode, saved_at, body) VALUES (?, ?, ?, ?)",
		SessionSlot, mode, b.timestamp(), string(body))
	return err
}

// LoadSession returns the session record or types.ErrNotFound.
func (b *Backend) LoadSession() (*SessionRow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, ErrDetached
	}
	var mode, savedAt, body string
	err := b.db.QueryRow("SELECT mode, saved_at, body FROM sessions WHERE slot = ?", SessionSlot).Scan(&mode, &savedAt, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	at, err := time.Parse(timeLayout, savedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing session time: %w", err)
	}
	return &SessionRow{Mode: mode, SavedAt: at, Body: []byte(body)}, nil
}

// ClearSession removes the session record.
func (b *Backend) ClearSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.exec("sessions", "DELETE FROM sessions WHERE slot = ?", SessionSlot)
	return err
}

// SetSetting stores a named setting.
func (b *Backend) SetSetting(key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.exec("settings",
		"INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)",
		key, value, b.timestamp())
	return err
}

// Setting returns a named setting and whether it exists.
func (b *Backend) Setting(key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return "", false, ErrDetached
	}
	var value string
	err := b.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, true, nil
}

// DeleteSetting removes a named setting.
func (b *Backend) DeleteSetting(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.exec("settings", "DELETE FROM settings WHERE key = ?", key)
	return err
}
