package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/fira/pkg/types"
)

// Backend errors.
var (
	ErrAlreadyAttached = errors.New("store already attached")
	ErrDetached        = errors.New("store is detached")
)

// Backend is the local durable store.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	dataDir  string
	db       *sql.DB
	now      func() time.Time
}

// NewBackend creates a detached backend. Call Attach before use.
func NewBackend() *Backend {
	return &Backend{now: time.Now}
}

// Attach opens the store in config.DataDir. The data directory is created
// if needed, the database is rebuilt from scratch, and the JSONL files are
// loaded into it.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	for _, ddl := range schemaDDL {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	for _, m := range tableMapping {
		if err := ensureJSONL(filepath.Join(dataDir, m.file)); err != nil {
			db.Close()
			return err
		}
	}
	if err := loadAllJSONL(db, dataDir); err != nil {
		db.Close()
		return fmt.Errorf("load JSONL: %w", err)
	}

	b.db = db
	b.dataDir = dataDir
	b.attached = true
	return nil
}

// Detach closes the database. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	b.attached = false
	return nil
}

// Attached reports whether the backend is open.
func (b *Backend) Attached() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.attached
}

// DataDir returns the directory holding the database and JSONL files.
func (b *Backend) DataDir() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dataDir
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (b *Backend) timestamp() string {
	return b.now().UTC().Format(timeLayout)
}

// exec runs a write statement and persists the table's JSONL file.
// Callers hold b.mu.
func (b *Backend) exec(table, query string, args ...any) (sql.Result, error) {
	if !b.attached {
		return nil, ErrDetached
	}
	res, err := b.db.Exec(query, args...)
	if err != nil {
		return nil, fmt.Errorf("writing %s: %w", table, err)
	}
	if err := b.persistTable(table); err != nil {
		return nil, err
	}
	return res, nil
}

// persistTable rewrites the JSONL file of one table from its rows.
func (b *Backend) persistTable(table string) error {
	file, columns, orderBy := mappingFor(table)
	rows, err := b.db.Query(fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", strings.Join(columns, ", "), table, orderBy))
	if err != nil {
		return fmt.Errorf("reading %s for JSONL: %w", table, err)
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		values := make([]string, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scanning %s for JSONL: %w", table, err)
		}
		obj := make(map[string]string, len(columns))
		for i, col := range columns {
			obj[col] = values[i]
		}
		rec, err := json.Marshal(obj)
		if err != nil {
			return fmt.Errorf("encoding %s row: %w", table, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return writeJSONL(filepath.Join(b.dataDir, file), records)
}
