// Package sqlite implements the local durable store: the cached snapshot,
// the tombstone set, the session record and granted-directory settings.
// JSONL files in the data directory are the source of truth; SQLite is
// rebuilt from them on every Attach and serves reads.
package sqlite

// Schema DDL for all tables.
const (
	createSnapshots = `CREATE TABLE snapshots (
    slot TEXT PRIMARY KEY,
    saved_at TEXT NOT NULL,
    body TEXT NOT NULL
);`

	createTombstones = `CREATE TABLE tombstones (
    project_id TEXT PRIMARY KEY,
    deleted_at TEXT NOT NULL
);`

	createSessions = `CREATE TABLE sessions (
    slot TEXT PRIMARY KEY,
    mode TEXT NOT NULL,
    saved_at TEXT NOT NULL,
    body TEXT NOT NULL
);`

	createSettings = `CREATE TABLE settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`
)

// schemaDDL lists all CREATE TABLE statements.
var schemaDDL = []string{
	createSnapshots,
	createTombstones,
	createSessions,
	createSettings,
}

// JSONL file names, one per table.
const (
	snapshotsJSONL  = "snapshots.jsonl"
	tombstonesJSONL = "tombstones.jsonl"
	sessionsJSONL   = "sessions.jsonl"
	settingsJSONL   = "settings.jsonl"
)

// DatabaseFile is the SQLite file created in the data directory.
const DatabaseFile = "fira.db"
