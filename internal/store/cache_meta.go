package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GetCachedEmbedding probes EmbeddingCache by content hash (spec.md §4.2
// step 1). A miss returns (nil, nil), not an error.
func (s *Store) GetCachedEmbedding(hash string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT embedding FROM embedding_cache WHERE hash = ?`, hash).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get cached embedding: %w", err)
	}
	// Returned copied (decode always allocates a fresh slice), per spec.md
	// §4.2: "Cache hits are returned directly (copied, since the underlying
	// store may reuse buffers)."
	return DecodeEmbedding(blob), nil
}

// PutCachedEmbedding writes back a freshly computed embedding (spec.md
// §4.2: "Results are written back to the cache").
func (s *Store) PutCachedEmbedding(hash string, v []float32) error {
	_, err := s.db.Exec(`
		INSERT INTO embedding_cache (hash, embedding, dims, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET embedding = excluded.embedding, dims = excluded.dims, updated_at = excluded.updated_at
	`, hash, EncodeEmbedding(v), len(v), time.Now())
	if err != nil {
		return fmt.Errorf("store: cache embedding %s: %w", hash, err)
	}
	return nil
}

// GetMeta reads a key/value row. A missing key returns ("", false, nil).
func (s *Store) GetMeta(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get meta %s: %w", key, err)
	}
	return value, true, nil
}

// SetMeta upserts a key/value row (schema version, consolidation
// checkpoints, migration state — spec.md §3).
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("store: set meta %s: %w", key, err)
	}
	return nil
}
