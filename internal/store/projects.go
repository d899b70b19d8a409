package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertProject inserts or updates a project row. Callers (internal/project)
// must invalidate their in-memory family cache after every call (spec.md
// §4.4).
func (s *Store) UpsertProject(p *Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.UpdatedAt = time.Now()

	_, err := s.db.Exec(`
		INSERT INTO projects (full_path, name, description, source, parent_project, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(full_path) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			source = excluded.source,
			parent_project = excluded.parent_project,
			updated_at = excluded.updated_at
	`, p.FullPath, p.Name, p.Description, string(p.Source), p.ParentProject, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert project %s: %w", p.FullPath, err)
	}
	return nil
}

// ListProjects returns every project row, used to rebuild the in-memory
// family cache at startup (spec.md §4.9) and after any upsert.
func (s *Store) ListProjects() ([]*Project, error) {
	rows, err := s.db.Query(`
		SELECT full_path, name, description, source, parent_project, created_at, updated_at
		FROM projects
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		var p Project
		var source string
		var description, parent sql.NullString
		if err := rows.Scan(&p.FullPath, &p.Name, &description, &source, &parent, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan project: %w", err)
		}
		p.Source = ProjectSource(source)
		if description.Valid {
			p.Description = &description.String
		}
		if parent.Valid {
			p.ParentProject = &parent.String
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
