package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	if err := s.migrateV1(); err != nil {
		return err
	}
	return s.migrateV2()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leads (
		id              TEXT PRIMARY KEY,
		email           TEXT NOT NULL UNIQUE,
		first_name      TEXT NOT NULL DEFAULT '',
		source          TEXT NOT NULL DEFAULT 'exit_intent',
		capture_date    INTEGER NOT NULL,
		ip_address      TEXT,
		user_agent      TEXT,
		referrer        TEXT,
		converted       INTEGER NOT NULL DEFAULT 0,
		conversion_date INTEGER,
		tags            TEXT NOT NULL DEFAULT '[]',
		metadata        TEXT,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leads_source_capture ON leads(source, capture_date DESC);
	CREATE INDEX IF NOT EXISTS idx_leads_created ON leads(created_at DESC);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}

	return nil
}

func (s *Store) migrateV2() error {
	var version string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil || version >= "2" {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_kv_updated ON kv(updated_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v2: %w", err)
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '2')`); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}
