package store

import (
	"database/sql"
	"fmt"
)

// Migration is one idempotent, additive schema change applied after the
// base schema.sql. Ordering matters; never reorder or remove an entry once
// released.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

// migrationsList runs after schema.sql on every open. All of schema.sql is
// itself idempotent (IF NOT EXISTS everywhere), so a brand-new database runs
// these against an already-complete schema; they are no-ops there and only
// do real work against a database created by an older build.
var migrationsList = []Migration{
	{"episode_embedding_index", migrateEpisodeEmbeddingIndex},
}

// migrateEpisodeEmbeddingIndex adds a partial index used by the extractor's
// dedup-upsert snapshot query (scope/project + non-null embedding).
func migrateEpisodeEmbeddingIndex(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_episodes_embeddable
		ON episodes(scope, project) WHERE embedding IS NOT NULL
	`)
	return err
}

// runMigrations applies schema.sql then migrationsList inside a single
// EXCLUSIVE transaction, so concurrent daemon starts against the same file
// serialize instead of racing on check-then-modify DDL (grounded on
// BeadsLog's internal/storage/sqlite/migrations.go RunMigrations).
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("store: disable foreign keys for migrations: %w", err)
	}
	defer db.Exec("PRAGMA foreign_keys = ON")

	if _, err := db.Exec("BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("store: acquire exclusive migration lock: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			db.Exec("ROLLBACK")
		}
	}()

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("store: apply base schema: %w", err)
	}

	for _, m := range migrationsList {
		if err := m.Func(db); err != nil {
			return fmt.Errorf("store: migration %s: %w", m.Name, err)
		}
	}

	if _, err := db.Exec(
		`UPDATE meta SET value = ? WHERE key = 'schema_version'`,
		fmt.Sprintf("%d", len(migrationsList)),
	); err != nil {
		return fmt.Errorf("store: record schema version: %w", err)
	}

	if _, err := db.Exec("COMMIT"); err != nil {
		return fmt.Errorf("store: commit migrations: %w", err)
	}
	committed = true
	return nil
}
