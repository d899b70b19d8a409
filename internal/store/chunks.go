package store

import (
	"database/sql"
	"fmt"
)

// ReplaceChunksForPath deletes all existing chunks for path then inserts
// the given replacements inside one transaction (spec.md §3: "Chunks are
// fully replaced (delete-by-path then insert) whenever a curated file is
// indexed").
func (s *Store) ReplaceChunksForPath(path string, chunks []*Chunk) error {
	return s.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM chunks WHERE path = ?`, path); err != nil {
			return fmt.Errorf("store: delete chunks for %s: %w", path, err)
		}
		stmt, err := tx.Prepare(`
			INSERT INTO chunks (path, layer, project, start_line, end_line, hash, text, embedding, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("store: prepare chunk insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range chunks {
			if _, err := stmt.Exec(c.Path, string(c.Layer), c.Project, c.StartLine, c.EndLine, c.Hash, c.Text, EncodeEmbedding(c.Embedding), c.UpdatedAt); err != nil {
				return fmt.Errorf("store: insert chunk %s:%d: %w", c.Path, c.StartLine, err)
			}
		}
		return nil
	})
}

// GetChunk fetches one chunk by rowid.
func (s *Store) GetChunk(id int64) (*Chunk, error) {
	row := s.db.QueryRow(chunkSelect+" WHERE rowid = ?", id)
	c, err := scanChunk(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get chunk %d: %w", id, err)
	}
	return c, nil
}

// ListChunksByPath returns all chunks for a given curated-file path, in
// line order.
func (s *Store) ListChunksByPath(path string) ([]*Chunk, error) {
	rows, err := s.db.Query(chunkSelect+" WHERE path = ? ORDER BY start_line", path)
	if err != nil {
		return nil, fmt.Errorf("store: list chunks for %s: %w", path, err)
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const chunkSelect = `
	SELECT rowid, path, layer, project, start_line, end_line, hash, text, embedding, updated_at
	FROM chunks
`

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	var layer string
	var project sql.NullString
	var embedding []byte

	if err := row.Scan(&c.ID, &c.Path, &layer, &project, &c.StartLine, &c.EndLine, &c.Hash, &c.Text, &embedding, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Layer = Layer(layer)
	if project.Valid {
		c.Project = &project.String
	}
	c.Embedding = DecodeEmbedding(embedding)
	return &c, nil
}
