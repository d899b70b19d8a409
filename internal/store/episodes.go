package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// NewEpisodeID mints a 12-hex episode id (spec.md §3).
func NewEpisodeID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("store: generate episode id: %w", err)
	}
	return fmt.Sprintf("%x", buf), nil
}

// InsertEpisode inserts a new episode row. Callers mint the id via
// NewEpisodeID before calling this (the Extractor does so only on the
// insert branch of dedup-upsert, spec.md §4.5).
func (s *Store) InsertEpisode(e *Episode) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.AccessedAt.IsZero() {
		e.AccessedAt = e.CreatedAt
	}
	entities, err := json.Marshal(e.Entities)
	if err != nil {
		return fmt.Errorf("store: marshal entities: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO episodes (
			id, session_id, project, project_path, scope, summary, full_content,
			entities, importance, source_type, embedding,
			created_at, accessed_at, access_count, graduated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.SessionID, e.Project, e.ProjectPath, string(e.Scope), e.Summary, e.FullContent,
		string(entities), string(e.Importance), string(e.SourceType), EncodeEmbedding(e.Embedding),
		e.CreatedAt, e.AccessedAt, e.AccessCount, e.GraduatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert episode %s: %w", e.ID, err)
	}
	return nil
}

// UpdateEpisodeInPlace overwrites the mutable fields of an existing episode
// and increments access_count (the dedup-upsert "update" branch, spec.md
// §4.5 step 3).
func (s *Store) UpdateEpisodeInPlace(id string, summary string, fullContent *string, entities []string, importance Importance, embedding []float32) error {
	enc, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("store: marshal entities: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE episodes SET
			summary = ?, full_content = ?, entities = ?, importance = ?,
			embedding = ?, accessed_at = ?, access_count = access_count + 1
		WHERE id = ?
	`, summary, fullContent, string(enc), string(importance), EncodeEmbedding(embedding), time.Now(), id)
	if err != nil {
		return fmt.Errorf("store: update episode %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: update episode %s: no such row", id)
	}
	return nil
}

// GetEpisode fetches one episode by id.
func (s *Store) GetEpisode(id string) (*Episode, error) {
	row := s.db.QueryRow(episodeSelect+" WHERE id = ?", id)
	e, err := scanEpisode(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get episode %s: %w", id, err)
	}
	return e, nil
}

// ListEpisodes returns episodes matching filter. Built with the same
// incremental-WHERE-clause idiom as the teacher's GetEpisodes.
func (s *Store) ListEpisodes(f EpisodeFilter) ([]*Episode, error) {
	query := episodeSelect + " WHERE 1=1"
	var args []interface{}

	if f.Scope != "" {
		query += " AND scope = ?"
		args = append(args, string(f.Scope))
	}
	if f.Project != "" {
		query += " AND project = ?"
		args = append(args, f.Project)
	}
	if f.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, f.SessionID)
	}
	if f.ImportanceAtLeast != "" {
		query += " AND importance = ?"
		args = append(args, string(f.ImportanceAtLeast))
	}
	if f.GraduationEligible {
		query += " AND importance = 'high' AND access_count >= 3 AND graduated_at IS NULL"
	}
	if f.GraduatedBefore != nil {
		query += " AND graduated_at IS NULL AND created_at < ?"
		args = append(args, *f.GraduatedBefore)
	}
	if f.HasEmbedding {
		query += " AND embedding IS NOT NULL"
	}
	query += " ORDER BY access_count DESC, created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list episodes: %w", err)
	}
	defer rows.Close()

	var out []*Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan episode: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DedupCandidates returns the scope-eligible snapshot used by the
// Extractor's dedup-upsert: scope='global' OR project=<current>, with a
// non-null embedding (spec.md §4.5 step 2). Fetched once per batch by the
// caller and reused across candidates.
func (s *Store) DedupCandidates(project string) ([]*Episode, error) {
	rows, err := s.db.Query(episodeSelect+` WHERE embedding IS NOT NULL AND (scope = 'global' OR project = ?)`, project)
	if err != nil {
		return nil, fmt.Errorf("store: dedup candidates: %w", err)
	}
	defer rows.Close()

	var out []*Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan dedup candidate: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkGraduated sets graduated_at = now, regardless of whether the episode
// was newly appended to the curated file or already present there (spec.md
// §4.7: "every candidate processed gets graduated_at = now").
func (s *Store) MarkGraduated(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE episodes SET graduated_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("store: mark graduated %s: %w", id, err)
	}
	return nil
}

// CompressStale nulls full_content on episodes that satisfy the
// compression predicate (spec.md §4.7) and returns the count affected.
func (s *Store) CompressStale(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE episodes SET full_content = NULL
		WHERE created_at < ? AND access_count <= 0 AND importance = 'normal' AND full_content IS NOT NULL
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("store: compress stale episodes: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

const episodeSelect = `
	SELECT id, session_id, project, project_path, scope, summary, full_content,
		entities, importance, source_type, embedding,
		created_at, accessed_at, access_count, graduated_at
	FROM episodes
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEpisode(row rowScanner) (*Episode, error) {
	var e Episode
	var scope, importance, sourceType, entitiesJSON string
	var fullContent sql.NullString
	var embedding []byte
	var project, projectPath sql.NullString
	var graduatedAt sql.NullTime

	err := row.Scan(
		&e.ID, &e.SessionID, &project, &projectPath, &scope, &e.Summary, &fullContent,
		&entitiesJSON, &importance, &sourceType, &embedding,
		&e.CreatedAt, &e.AccessedAt, &e.AccessCount, &graduatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Scope = Scope(scope)
	e.Importance = Importance(importance)
	e.SourceType = SourceType(sourceType)
	if project.Valid {
		e.Project = &project.String
	}
	if projectPath.Valid {
		e.ProjectPath = &projectPath.String
	}
	if fullContent.Valid {
		e.FullContent = &fullContent.String
	}
	if graduatedAt.Valid {
		t := graduatedAt.Time
		e.GraduatedAt = &t
	}
	e.Embedding = DecodeEmbedding(embedding)
	if err := json.Unmarshal([]byte(entitiesJSON), &e.Entities); err != nil {
		e.Entities = nil
	}
	return &e, nil
}
