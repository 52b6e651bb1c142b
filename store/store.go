// Package store persists sealed artifacts in a SQLite database keyed by
// build id and unit name, so a host can ship one database per build and
// look envelopes up at startup.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is an artifact store backed by SQLite.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	build_id   TEXT NOT NULL,
	unit       TEXT NOT NULL,
	level      TEXT NOT NULL,
	envelope   BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (build_id, unit)
);
`

// Open opens (creating if needed) an artifact store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initializing schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BuildKey renders a 16-byte build id in its canonical form.
func BuildKey(buildID [16]byte) string {
	return uuid.UUID(buildID).String()
}

// Put inserts or replaces the artifact for (buildID, unit).
func (s *Store) Put(buildID [16]byte, unit, level string, env []byte) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO artifacts (build_id, unit, level, envelope, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		BuildKey(buildID), unit, level, env, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: putting %s: %w", unit, err)
	}
	return nil
}

// Get returns the envelope for (buildID, unit).
func (s *Store) Get(buildID [16]byte, unit string) ([]byte, error) {
	var env []byte
	err := s.db.QueryRow(
		`SELECT envelope FROM artifacts WHERE build_id = ? AND unit = ?`,
		BuildKey(buildID), unit,
	).Scan(&env)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: no artifact for unit %s", unit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: getting %s: %w", unit, err)
	}
	return env, nil
}

// Entry describes one stored artifact.
type Entry struct {
	Unit      string
	Level     string
	Size      int
	CreatedAt time.Time
}

// List returns the artifacts recorded for a build.
func (s *Store) List(buildID [16]byte) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT unit, level, length(envelope), created_at
		 FROM artifacts WHERE build_id = ? ORDER BY unit`,
		BuildKey(buildID),
	)
	if err != nil {
		return nil, fmt.Errorf("store: listing: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Unit, &e.Level, &e.Size, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scanning: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
