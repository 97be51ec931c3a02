// JSONL loading for startup.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// tableMapping maps each JSONL file to its table, columns and the column
// order used when persisting back.
var tableMapping = []struct {
	file    string
	table   string
	columns []string
	orderBy string
}{
	{snapshotsJSONL, "snapshots", []string{"slot", "saved_at", "body"}, "slot"},
	{tombstonesJSONL, "tombstones", []string{"project_id", "deleted_at"}, "deleted_at, project_id"},
	{sessionsJSONL, "sessions", []string{"slot", "mode", "saved_at", "body"}, "slot"},
	{settingsJSONL, "settings", []string{"key", "value", "updated_at"}, "key"},
}

func mappingFor(table string) (file string, columns []string, orderBy string) {
	for _, m := range tableMapping {
		if m.table == table {
			return m.file, m.columns, m.orderBy
		}
	}
	panic("sqlite: unknown table " + table)
}

// loadAllJSONL reads each JSONL file from dataDir into its table inside one
// transaction. Malformed lines and records that violate constraints are
// skipped; unknown fields are ignored.
func loadAllJSONL(db *sql.DB, dataDir string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range tableMapping {
		records, err := readJSONL(filepath.Join(dataDir, m.file))
		if err != nil {
			return fmt.Errorf("reading %s: %w", m.file, err)
		}
		if len(records) == 0 {
			continue
		}
		if err := insertRecords(tx, m.table, m.columns, records); err != nil {
			return fmt.Errorf("loading %s into %s: %w", m.file, m.table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing load transaction: %w", err)
	}
	return nil
}

func insertRecords(tx *sql.Tx, table string, columns []string, records []json.RawMessage) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt, err := tx.Prepare(fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders))
	if err != nil {
		return fmt.Errorf("preparing insert for %s: %w", table, err)
	}
	defer stmt.Close()

	for _, rec := range records {
		var obj map[string]any
		if err := json.Unmarshal(rec, &obj); err != nil {
			continue
		}
		args := make([]any, len(columns))
		for i, col := range columns {
			switch v := obj[col].(type) {
			case map[string]any, []any:
				b, err := json.Marshal(v)
				if err != nil {
					continue
				}
				args[i] = string(b)
			default:
				args[i] = v
			}
		}
		if _, err := stmt.Exec(args...); err != nil {
			continue
		}
	}
	return nil
}
