package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for the queue tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		fw_id      INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT NOT NULL DEFAULT '',
		state      TEXT NOT NULL DEFAULT 'READY',
		host_id    TEXT NOT NULL DEFAULT '',
		category   TEXT NOT NULL DEFAULT '',
		priority   INTEGER NOT NULL DEFAULT 0,
		doc        TEXT NOT NULL,
		created_on TEXT NOT NULL,
		updated_on TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_host_id ON jobs(host_id)`,
	// Checkout scans READY jobs by priority.
	`CREATE INDEX IF NOT EXISTS idx_jobs_state_priority ON jobs(state, priority DESC, fw_id)`,

	`CREATE TABLE IF NOT EXISTS launches (
		launch_id  TEXT PRIMARY KEY,
		fw_id      INTEGER NOT NULL REFERENCES jobs(fw_id),
		worker     TEXT NOT NULL DEFAULT '',
		host       TEXT NOT NULL DEFAULT '',
		started_on TEXT NOT NULL,
		ended_on   TEXT,
		exit_code  INTEGER,
		error      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_launches_fw_id ON launches(fw_id)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "jobs",
		column:   "fworker",
		alterSQL: "ALTER TABLE jobs ADD COLUMN fworker TEXT NOT NULL DEFAULT ''",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_jobs_fworker ON jobs(fworker)",
	},
}

// migrate executes all schema DDL statements, alter migrations, and post-migration indexes.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}

	exists := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			rows.Close()
			return err
		}
		if strings.EqualFold(name, column) {
			exists = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
