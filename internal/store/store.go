// Package store provides SQLite-backed persistence for episode registers and
// aggregation results. Uses ncruces/go-sqlite3/driver, which exposes a
// database/sql interface over an embedded SQLite build.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/statkit/oetab/pkg/aggregate"
	"github.com/statkit/oetab/pkg/lexis"
)

// Store is the SQLite-backed register and result store.
// Safe for concurrent use.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// schema defines the register and the two result tables. Results are keyed
// by a caller-chosen run identifier so repeated aggregations coexist.
const schema = `
CREATE TABLE IF NOT EXISTS episodes (
    subject TEXT NOT NULL,
    cohort REAL NOT NULL DEFAULT 0,
    entry REAL NOT NULL,
    from_state TEXT NOT NULL,
    exit REAL NOT NULL,
    to_state TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_episodes_subject ON episodes(subject);
CREATE INDEX IF NOT EXISTS idx_episodes_from ON episodes(from_state);

CREATE TABLE IF NOT EXISTS oe_rows (
    run_id TEXT NOT NULL,
    from_state TEXT NOT NULL,
    to_state TEXT NOT NULL,
    interval INTEGER NOT NULL,
    x REAL NOT NULL,
    n REAL NOT NULL,
    z REAL NOT NULL,
    w REAL NOT NULL,
    p REAL NOT NULL,
    o REAL NOT NULL,
    wk REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_oe_run ON oe_rows(run_id);

CREATE TABLE IF NOT EXISTS lexis_triangles (
    run_id TEXT NOT NULL,
    from_state TEXT NOT NULL,
    to_state TEXT NOT NULL,
    cohort REAL NOT NULL,
    period REAL NOT NULL,
    age REAL NOT NULL,
    triangle INTEGER NOT NULL,
    o REAL NOT NULL,
    wk REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lexis_run ON lexis_triangles(run_id);
`

// EpisodeRow is one register row.
type EpisodeRow struct {
	Subject string
	Cohort  float64
	Entry   float64
	From    string
	Exit    float64
	To      string
}

// Open creates or opens a store at the given path; ":memory:" is accepted.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InsertEpisodes appends register rows in one transaction.
func (s *Store) InsertEpisodes(rows []EpisodeRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO episodes (subject, cohort, entry, from_state, exit, to_state)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(r.Subject, r.Cohort, r.Entry, r.From, r.Exit, r.To); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: insert episode for %s: %w", r.Subject, err)
		}
	}
	return tx.Commit()
}

// LoadEpisodes returns the full register in insertion order.
func (s *Store) LoadEpisodes() ([]EpisodeRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT subject, cohort, entry, from_state, exit, to_state
		FROM episodes ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("store: load episodes: %w", err)
	}
	defer rows.Close()

	var out []EpisodeRow
	for rows.Next() {
		var r EpisodeRow
		if err := rows.Scan(&r.Subject, &r.Cohort, &r.Entry, &r.From, &r.Exit, &r.To); err != nil {
			return nil, fmt.Errorf("store: scan episode: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountEpisodes returns the register size.
func (s *Store) CountEpisodes() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM episodes`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count episodes: %w", err)
	}
	return n, nil
}

// SaveTable persists a long-form occurrence-exposure table under a run id.
func (s *Store) SaveTable(runID string, t *aggregate.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO oe_rows (run_id, from_state, to_state, interval, x, n, z, w, p, o, wk)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range t.Rows {
		if _, err := stmt.Exec(runID, r.From, r.To, r.J, r.X, r.N, r.Z, r.W, r.P, r.O, r.Wk); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: insert row: %w", err)
		}
	}
	return tx.Commit()
}

// LoadTable reads a run's long-form table back, ordered the way the builder
// emits it.
func (s *Store) LoadTable(runID string) (*aggregate.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT from_state, to_state, interval, x, n, z, w, p, o, wk
		FROM oe_rows WHERE run_id = ?
		ORDER BY from_state, interval, to_state
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: load table: %w", err)
	}
	defer rows.Close()

	t := &aggregate.Table{}
	seen := make(map[string]bool)
	for rows.Next() {
		var r aggregate.Row
		if err := rows.Scan(&r.From, &r.To, &r.J, &r.X, &r.N, &r.Z, &r.W, &r.P, &r.O, &r.Wk); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		if !seen[r.To] {
			seen[r.To] = true
			t.Dests = append(t.Dests, r.To)
		}
		t.Rows = append(t.Rows, r)
	}
	return t, rows.Err()
}

// SaveTriangles persists a Lexis surface in long form, one row per
// (triangle, destination).
func (s *Store) SaveTriangles(runID string, surf *lexis.Surface) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO lexis_triangles (run_id, from_state, to_state, cohort, period, age, triangle, o, wk)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	for _, tri := range surf.Triangles {
		for _, to := range surf.Dests {
			if _, err := stmt.Exec(runID, tri.From, to, tri.Cohort, tri.Period, tri.Age, tri.TriangleID, tri.O, tri.To[to]); err != nil {
				tx.Rollback()
				return fmt.Errorf("store: insert triangle: %w", err)
			}
		}
	}
	return tx.Commit()
}
