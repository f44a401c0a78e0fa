// Package db opens the SQLite database backing the usage log.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at dbPath and prepares it for the usage
// tracker. journal_mode persists in the file, but foreign_keys and
// busy_timeout are connection-scoped, so all three ride on the DSN and
// apply to every pooled connection. The busy timeout covers a CLI
// invocation and a running server sharing the file. The event schema is
// created idempotently.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping usage db: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// ensureSchema creates the query-event log and its indexes in one
// transaction.
func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS query_events (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			query_text   TEXT NOT NULL,
			document_id  TEXT NOT NULL DEFAULT '',
			result_count INTEGER NOT NULL,
			created_at   DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_query_events_text
			ON query_events(query_text)`,
		`CREATE INDEX IF NOT EXISTS idx_query_events_created_at
			ON query_events(created_at)`,
	} {
		if _, err := tx.Exec(ddl); err != nil {
			tx.Rollback()
			return fmt.Errorf("create usage schema: %w", err)
		}
	}
	return tx.Commit()
}
