// Package store persists the pieces of controller state that must survive a
// restart: the confirmation amp threshold and the routine definitions.
// Everything else (relay positions, trigger bands, calibration) is
// re-derived from hardware at boot.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nkepah/greenhouse-controller/internal/routine"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS routines (
	id         TEXT PRIMARY KEY,
	definition TEXT NOT NULL
);`

const ampThresholdKey = "amp_threshold"

// Store is a SQLite-backed settings and routine archive.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. Use ":memory:" for
// an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AmpThreshold returns the persisted confirmation threshold, or fallback if
// none has been saved yet.
func (s *Store) AmpThreshold(fallback float64) (float64, error) {
	var v float64
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, ampThresholdKey).Scan(&v)
	if err == sql.ErrNoRows {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("reading amp threshold: %w", err)
	}
	return v, nil
}

// SaveAmpThreshold persists the confirmation threshold.
func (s *Store) SaveAmpThreshold(v float64) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		ampThresholdKey, fmt.Sprintf("%g", v))
	if err != nil {
		return fmt.Errorf("saving amp threshold: %w", err)
	}
	return nil
}

// Routines loads every persisted routine definition.
func (s *Store) Routines() ([]routine.Routine, error) {
	rows, err := s.db.Query(`SELECT definition FROM routines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loading routines: %w", err)
	}
	defer rows.Close()

	var out []routine.Routine
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, fmt.Errorf("scanning routine: %w", err)
		}
		var r routine.Routine
		if err := json.Unmarshal([]byte(def), &r); err != nil {
			return nil, fmt.Errorf("decoding routine: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveRoutine persists one routine, replacing any previous definition with
// the same id.
func (s *Store) SaveRoutine(r routine.Routine) error {
	def, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding routine %s: %w", r.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO routines (id, definition) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET definition = excluded.definition`,
		r.ID, string(def))
	if err != nil {
		return fmt.Errorf("saving routine %s: %w", r.ID, err)
	}
	return nil
}

// DeleteRoutine removes one persisted routine.
func (s *Store) DeleteRoutine(id string) error {
	_, err := s.db.Exec(`DELETE FROM routines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting routine %s: %w", id, err)
	}
	return nil
}

// ReplaceRoutines swaps the full persisted set in one transaction, matching
// the engine's Sync semantics.
func (s *Store) ReplaceRoutines(routines []routine.Routine) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("replacing routines: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM routines`); err != nil {
		return fmt.Errorf("clearing routines: %w", err)
	}
	for _, r := range routines {
		def, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encoding routine %s: %w", r.ID, err)
		}
		if _, err := tx.Exec(`INSERT INTO routines (id, definition) VALUES (?, ?)`, r.ID, string(def)); err != nil {
			return fmt.Errorf("inserting routine %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}
