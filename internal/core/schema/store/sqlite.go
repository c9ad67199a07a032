// Package store persists the component schema registry to a local SQLite
// file (modernc.org/sqlite, a pure-Go driver — no cgo toolchain needed on
// the coordinator host), so a coordinator restart doesn't lose schemas
// systems registered before the crash.
package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/tickforge/ecsengine/internal/core/ecsid"
	"github.com/tickforge/ecsengine/internal/core/schema"
)

const createTable = `
CREATE TABLE IF NOT EXISTS component_schemas (
	name    TEXT PRIMARY KEY,
	type_id INTEGER NOT NULL UNIQUE,
	raw     BLOB NOT NULL
);
`

// SQLite is a schema.Store backed by a single SQLite file.
type SQLite struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite file at path and ensures
// the component_schemas table exists.
func Open(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite schema store: path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open schema store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping schema store: %w", err)
	}
	if _, err := db.Exec(createTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema store: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// Save upserts one schema entry.
func (s *SQLite) Save(e schema.Entry) error {
	_, err := s.db.Exec(
		`INSERT INTO component_schemas (name, type_id, raw) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET type_id = excluded.type_id, raw = excluded.raw`,
		e.Name, int64(e.TypeID), e.Raw,
	)
	if err != nil {
		return fmt.Errorf("save schema %q: %w", e.Name, err)
	}
	return nil
}

// LoadAll returns every persisted schema entry.
func (s *SQLite) LoadAll() ([]schema.Entry, error) {
	rows, err := s.db.Query(`SELECT name, type_id, raw FROM component_schemas`)
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	defer rows.Close()

	var out []schema.Entry
	for rows.Next() {
		var (
			name   string
			typeID int64
			raw    []byte
		)
		if err := rows.Scan(&name, &typeID, &raw); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}
		out = append(out, schema.Entry{Name: name, TypeID: ecsid.ComponentTypeID(typeID), Raw: raw})
	}
	return out, rows.Err()
}
