package store

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// migration represents a single schema migration step.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// sqliteMigrations is the ordered list of schema migrations for SQLite.
// Each migration is applied exactly once, tracked in the schema_version table.
var sqliteMigrations = []migration{
	{
		Version:     1,
		Description: "base schema: tenants, settings, sessions, messages",
		SQL: `
		CREATE TABLE IF NOT EXISTS tenants (
			id          TEXT PRIMARY KEY,
			slug        TEXT NOT NULL UNIQUE,
			name        TEXT DEFAULT '',
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS settings (
			tenant_id   TEXT NOT NULL,
			key         TEXT NOT NULL,
			value       TEXT NOT NULL,
			PRIMARY KEY (tenant_id, key)
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY,
			tenant_id     TEXT NOT NULL,
			platform      TEXT NOT NULL,
			sender_id     TEXT NOT NULL,
			display_name  TEXT DEFAULT '',
			phone         TEXT DEFAULT '',
			member_id     TEXT DEFAULT '',
			last_activity INTEGER NOT NULL,
			active        INTEGER NOT NULL DEFAULT 1,
			UNIQUE(tenant_id, platform, sender_id)
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_sender ON sessions(tenant_id, sender_id);

		CREATE TABLE IF NOT EXISTS messages (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			tenant_id   TEXT NOT NULL,
			role        TEXT NOT NULL,
			content     TEXT,
			metadata    TEXT DEFAULT '{}',
			created_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
		`,
	},
	{
		Version:     2,
		Description: "v2: members mirror of the CRM",
		SQL: `
		CREATE TABLE IF NOT EXISTS members (
			tenant_id   TEXT NOT NULL,
			id          TEXT NOT NULL,
			name        TEXT DEFAULT '',
			email       TEXT DEFAULT '',
			phone       TEXT DEFAULT '',
			phone_key   TEXT DEFAULT '',
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_members_phone ON members(tenant_id, phone_key);
		`,
	},
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range sqliteMigrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// GetSchemaVersion returns the highest applied migration version.
func GetSchemaVersion(db *sql.DB) (int, error) {
	v := 0
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}

func schemaVersion() int {
	return sqliteMigrations[len(sqliteMigrations)-1].Version
}
