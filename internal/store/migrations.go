package store

import "fmt"

// Schema versions:
// v1: campaigns and campaign_runs tables with JSON config/results/errors
const currentSchemaVersion = 1

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		project_id    TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL DEFAULT 'active',
		config        TEXT NOT NULL DEFAULT '{}',
		schedule_cron TEXT NOT NULL DEFAULT '',
		last_run_at   DATETIME,
		next_run_at   DATETIME,
		total_runs    INTEGER NOT NULL DEFAULT 0,
		total_cost    REAL NOT NULL DEFAULT 0,
		created_at    DATETIME NOT NULL,
		updated_at    DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS campaign_runs (
		id              TEXT PRIMARY KEY,
		campaign_id     TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
		status          TEXT NOT NULL,
		trigger_type    TEXT NOT NULL,
		started_at      DATETIME NOT NULL,
		completed_at    DATETIME,
		steps_completed INTEGER NOT NULL DEFAULT 0,
		steps_failed    INTEGER NOT NULL DEFAULT 0,
		total_cost      REAL NOT NULL DEFAULT 0,
		results         TEXT NOT NULL DEFAULT '{}',
		errors          TEXT NOT NULL DEFAULT '[]',
		created_at      DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_campaign ON campaign_runs(campaign_id, started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_status ON campaign_runs(status)`,
}

// migrate creates the schema and records the version. Future versions
// append ALTERs keyed off the stored version number.
func (s *Store) migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case err != nil:
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case version < currentSchemaVersion:
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, currentSchemaVersion); err != nil {
			return fmt.Errorf("bump schema version: %w", err)
		}
	}
	return nil
}
