// Package store is the persistence gateway: campaigns and their runs
// in a single SQLite database. Every exported call is one atomic
// write; there are no multi-row transactions across campaigns and
// runs, so denormalized campaign aggregates are eventually consistent
// with the sum of their runs.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a campaign or run id does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite handle. A single connection with WAL keeps
// per-row writes serialized without application-level locking.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open initializes the database at path, creating directories and the
// schema as needed.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	if logger != nil {
		logger.Info("store ready", zap.String("path", path))
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Stats aggregates counts across all campaigns for the stats endpoint.
type Stats struct {
	Campaigns         int     `json:"campaigns"`
	ActiveCampaigns   int     `json:"active_campaigns"`
	PausedCampaigns   int     `json:"paused_campaigns"`
	ArchivedCampaigns int     `json:"archived_campaigns"`
	Runs              int     `json:"runs"`
	TotalCost         float64 `json:"total_cost"`
}

// GetStats returns aggregate counts across the whole store.
func (s *Store) GetStats() (Stats, error) {
	var st Stats
	row := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'paused' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'archived' THEN 1 ELSE 0 END), 0)
		FROM campaigns`)
	if err := row.Scan(&st.Campaigns, &st.ActiveCampaigns, &st.PausedCampaigns, &st.ArchivedCampaigns); err != nil {
		return st, fmt.Errorf("campaign stats: %w", err)
	}
	row = s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(total_cost), 0) FROM campaign_runs`)
	if err := row.Scan(&st.Runs, &st.TotalCost); err != nil {
		return st, fmt.Errorf("run stats: %w", err)
	}
	return st, nil
}
