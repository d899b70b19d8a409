package store

import (
	"database/sql"
	"fmt"
)

// LexicalHit is one row from the lexical index, joined back to its full
// chunk (spec.md §4.3 operates over curated-file chunks: path, updated_at,
// and the evergreen-exemption logic all reference Chunk fields).
type LexicalHit struct {
	Chunk    *Chunk
	RawScore float64 // bm25(): more-negative is better
}

// SearchChunksLexical runs matchQuery (already tokenized and AND-joined by
// the caller, spec.md §4.3 step 1) against chunks_fts and returns the top
// limit rows ordered by raw bm25 score (ascending — more negative first).
func (s *Store) SearchChunksLexical(matchQuery string, limit int) ([]LexicalHit, error) {
	if matchQuery == "" || limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT c.rowid, c.path, c.layer, c.project, c.start_line, c.end_line, c.hash, c.text, c.embedding, c.updated_at,
			bm25(chunks_fts) AS score
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY score ASC
		LIMIT ?
	`, matchQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("store: lexical search: %w", err)
	}
	defer rows.Close()

	var out []LexicalHit
	for rows.Next() {
		c, score, err := scanLexicalHit(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan lexical hit: %w", err)
		}
		out = append(out, LexicalHit{Chunk: c, RawScore: score})
	}
	return out, rows.Err()
}

func scanLexicalHit(row rowScanner) (*Chunk, float64, error) {
	var c Chunk
	var layer string
	var project sql.NullString
	var embedding []byte
	var score float64

	if err := row.Scan(&c.ID, &c.Path, &layer, &project, &c.StartLine, &c.EndLine, &c.Hash, &c.Text, &embedding, &c.UpdatedAt, &score); err != nil {
		return nil, 0, err
	}
	c.Layer = Layer(layer)
	if project.Valid {
		c.Project = &project.String
	}
	c.Embedding = DecodeEmbedding(embedding)
	return &c, score, nil
}
