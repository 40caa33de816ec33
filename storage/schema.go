package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{version: 1, name: "tasks", apply: migrateTasks},
	{version: 2, name: "labels", apply: migrateLabels},
	{version: 3, name: "idempotency_keys", apply: migrateIdempotencyKeys},
}

// legacyTaskColumns are added to task tables created by older releases that
// predate the column.
var legacyTaskColumns = []struct{ name, ddl string }{
	{"completed", "completed INTEGER NOT NULL DEFAULT 0"},
	{"deadline", "deadline TEXT"},
	{"category", "category TEXT"},
	{"notes", "notes TEXT"},
	{"priority", "priority TEXT"},
	{"created_at", "created_at TEXT"},
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL
		);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if err := m.apply(ctx, tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?);`,
				m.version, m.name, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		s.log.WithFields(log.Fields{"version": m.version, "name": m.name}).Info("schema migration applied")
	}
	return nil
}

func migrateTasks(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			completed INTEGER NOT NULL DEFAULT 0,
			deadline TEXT,
			category TEXT,
			notes TEXT,
			priority TEXT CHECK (priority IN ('ASAP', '1', '2', '3', '4')),
			created_at TEXT
		);`); err != nil {
		return fmt.Errorf("create tasks: %w", err)
	}
	for _, col := range legacyTaskColumns {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) > 0 FROM pragma_table_info('tasks') WHERE name = ?;`, col.name).Scan(&exists); err != nil {
			return fmt.Errorf("inspect tasks.%s: %w", col.name, err)
		}
		if exists {
			continue
		}
		if _, err := tx.ExecContext(ctx, `ALTER TABLE tasks ADD COLUMN `+col.ddl+`;`); err != nil {
			return fmt.Errorf("add tasks.%s: %w", col.name, err)
		}
	}
	return nil
}

func migrateLabels(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS labels (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			color TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS task_labels (
			task_id INTEGER NOT NULL REFERENCES tasks (id) ON DELETE CASCADE,
			label_id INTEGER NOT NULL REFERENCES labels (id) ON DELETE CASCADE,
			PRIMARY KEY (task_id, label_id)
		);`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create label tables: %w", err)
		}
	}
	return nil
}

func migrateIdempotencyKeys(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key TEXT PRIMARY KEY,
			task_id INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_idempotency_keys_created_at ON idempotency_keys (created_at);`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create idempotency_keys: %w", err)
		}
	}
	return nil
}
