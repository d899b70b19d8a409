package project

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"strings"
)

// maxInClauseItems is the point past which an IN (...) clause risks
// hitting the engine's bound-variable limit (spec.md §4.4).
const maxInClauseItems = 100

// SQLFamilyFilter produces a WHERE fragment ("column IN (...)" or, for a
// large family, "column IN (SELECT path FROM a temp table)") plus any
// positional args, and a cleanup func that must be called once the
// fragment is no longer needed. Grounded directly on spec.md §4.4's
// sqlFamilyFilter(family, column) description.
func SQLFamilyFilter(db *sql.DB, family []string, column string) (clause string, args []interface{}, cleanup func() error, err error) {
	if len(family) == 0 {
		return "1=0", nil, func() error { return nil }, nil
	}

	if len(family) <= maxInClauseItems {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(family)), ",")
		clause = fmt.Sprintf("%s IN (%s)", column, placeholders)
		args = make([]interface{}, len(family))
		for i, f := range family {
			args[i] = f
		}
		return clause, args, func() error { return nil }, nil
	}

	tableName := fmt.Sprintf("family_filter_%s", randSuffix())
	if _, err := db.Exec(fmt.Sprintf(`CREATE TEMP TABLE %s (path TEXT PRIMARY KEY)`, tableName)); err != nil {
		return "", nil, nil, fmt.Errorf("project: create temp family table: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tableName))
		return "", nil, nil, fmt.Errorf("project: begin temp family insert: %w", err)
	}
	stmt, err := tx.Prepare(fmt.Sprintf(`INSERT INTO %s (path) VALUES (?)`, tableName))
	if err != nil {
		tx.Rollback()
		db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tableName))
		return "", nil, nil, fmt.Errorf("project: prepare temp family insert: %w", err)
	}
	for _, f := range family {
		if _, err := stmt.Exec(f); err != nil {
			stmt.Close()
			tx.Rollback()
			db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tableName))
			return "", nil, nil, fmt.Errorf("project: populate temp family table: %w", err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tableName))
		return "", nil, nil, fmt.Errorf("project: commit temp family table: %w", err)
	}

	clause = fmt.Sprintf("%s IN (SELECT path FROM %s)", column, tableName)
	cleanup = func() error {
		_, err := db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tableName))
		return err
	}
	return clause, nil, cleanup, nil
}

func randSuffix() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	return fmt.Sprintf("%x", buf)
}
