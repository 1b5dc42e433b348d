// Package db owns the SQLite persistence layer: schema migrations and the
// row types and queries shared by the spooler components.
package db

import (
	"database/sql"
	"fmt"
	"sort"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens (or creates) the database at path and brings the schema up to
// date. Connections are capped at one because SQLite serializes writers
// anyway.
func Open(path string) (*sql.DB, error) {
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	database.SetMaxOpenConns(1)
	database.SetMaxIdleConns(1)

	if err := runMigrations(database); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

type Migration struct {
	Version string
	SQL     string
}

func migrations() []Migration {
	return []Migration{
		{
			Version: "001_printers",
			SQL: `
				CREATE TABLE IF NOT EXISTS printers (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE,
					host TEXT NOT NULL,
					port INTEGER NOT NULL DEFAULT 515,
					queue_name TEXT NOT NULL,
					username TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'unknown',
					last_seen_at DATETIME,
					total_jobs INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)
			`,
		},
		{
			Version: "002_print_jobs",
			SQL: `
				CREATE TABLE IF NOT EXISTS print_jobs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					printer_id INTEGER NOT NULL REFERENCES printers(id),
					document_name TEXT NOT NULL,
					payload BLOB NOT NULL,
					raw INTEGER NOT NULL DEFAULT 0,
					status TEXT NOT NULL DEFAULT 'pending',
					priority INTEGER NOT NULL DEFAULT 0,
					retry_count INTEGER NOT NULL DEFAULT 0,
					max_retries INTEGER NOT NULL DEFAULT 3,
					error_message TEXT NOT NULL DEFAULT '',
					submitted_by TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					started_at DATETIME,
					completed_at DATETIME
				);
				CREATE INDEX IF NOT EXISTS idx_print_jobs_status ON print_jobs(status);
				CREATE INDEX IF NOT EXISTS idx_print_jobs_printer ON print_jobs(printer_id)
			`,
		},
		{
			Version: "003_webhooks",
			SQL: `
				CREATE TABLE IF NOT EXISTS webhooks (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					url TEXT NOT NULL,
					secret TEXT NOT NULL DEFAULT '',
					events_json TEXT NOT NULL DEFAULT '[]',
					enabled INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)
			`,
		},
		{
			Version: "004_settings",
			SQL: `
				CREATE TABLE IF NOT EXISTS settings (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)
			`,
		},
		{
			Version: "005_archive_jobs",
			SQL: `
				CREATE TABLE IF NOT EXISTS archive_jobs (
					original_job_id INTEGER PRIMARY KEY,
					archive_file TEXT NOT NULL,
					archived_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_archive_jobs_file ON archive_jobs(archive_file)
			`,
		},
	}
}

func runMigrations(database *sql.DB) error {
	if _, err := database.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := database.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}

	pending := migrations()
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Version < pending[j].Version
	})

	for _, m := range pending {
		if applied[m.Version] {
			continue
		}

		tx, err := database.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
		}
	}

	return nil
}
