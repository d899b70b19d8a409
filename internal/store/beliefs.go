package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// UpsertBelief inserts a belief or, if id already exists, overwrites its
// mutable fields and bumps updated_at.
func (s *Store) UpsertBelief(b *Belief) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	b.UpdatedAt = time.Now()

	supporting, err := json.Marshal(b.SupportingEpisodes)
	if err != nil {
		return fmt.Errorf("store: marshal supporting episodes: %w", err)
	}
	contradicting, err := json.Marshal(b.ContradictingEpisodes)
	if err != nil {
		return fmt.Errorf("store: marshal contradicting episodes: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO beliefs (
			id, statement, subject, predicate, context,
			confidence_alpha, confidence_beta, evidence_count,
			supporting_episodes, contradicting_episodes,
			scope, project, project_path, status, promoted_at, demoted_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			statement = excluded.statement,
			confidence_alpha = excluded.confidence_alpha,
			confidence_beta = excluded.confidence_beta,
			evidence_count = excluded.evidence_count,
			supporting_episodes = excluded.supporting_episodes,
			contradicting_episodes = excluded.contradicting_episodes,
			status = excluded.status,
			promoted_at = excluded.promoted_at,
			demoted_at = excluded.demoted_at,
			updated_at = excluded.updated_at
	`,
		b.ID, b.Statement, b.Subject, b.Predicate, b.Context,
		b.ConfidenceAlpha, b.ConfidenceBeta, b.EvidenceCount,
		string(supporting), string(contradicting),
		string(b.Scope), b.Project, b.ProjectPath, string(b.Status), b.PromotedAt, b.DemotedAt, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert belief %s: %w", b.ID, err)
	}
	return nil
}

// SetBeliefStatus transitions status (monotonic forward: active ->
// demoted/retracted, spec.md §3).
func (s *Store) SetBeliefStatus(id string, status BeliefStatus, at time.Time) error {
	var col string
	switch status {
	case BeliefDemoted:
		col = "demoted_at"
	case BeliefActive:
		col = "promoted_at"
	}
	query := `UPDATE beliefs SET status = ?, updated_at = ?`
	args := []interface{}{string(status), at}
	if col != "" {
		query += fmt.Sprintf(", %s = ?", col)
		args = append(args, at)
	}
	query += " WHERE id = ?"
	args = append(args, id)

	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("store: set belief status %s: %w", id, err)
	}
	return nil
}

// ListActiveBeliefs returns active beliefs in scope/project, used by belief
// promotion (spec.md §4.7).
func (s *Store) ListActiveBeliefs(scope Scope, project string) ([]*Belief, error) {
	query := beliefSelect + " WHERE status = 'active' AND scope = ?"
	args := []interface{}{string(scope)}
	if scope == ScopeProject {
		query += " AND project = ?"
		args = append(args, project)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list active beliefs: %w", err)
	}
	defer rows.Close()

	var out []*Belief
	for rows.Next() {
		b, err := scanBelief(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan belief: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const beliefSelect = `
	SELECT id, statement, subject, predicate, context,
		confidence_alpha, confidence_beta, evidence_count,
		supporting_episodes, contradicting_episodes,
		scope, project, project_path, status, promoted_at, demoted_at, created_at, updated_at
	FROM beliefs
`

func scanBelief(row rowScanner) (*Belief, error) {
	var b Belief
	var scope, status, supportingJSON, contradictingJSON string
	var subject, predicate, context, project, projectPath sql.NullString
	var promotedAt, demotedAt sql.NullTime

	err := row.Scan(
		&b.ID, &b.Statement, &subject, &predicate, &context,
		&b.ConfidenceAlpha, &b.ConfidenceBeta, &b.EvidenceCount,
		&supportingJSON, &contradictingJSON,
		&scope, &project, &projectPath, &status, &promotedAt, &demotedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Scope = Scope(scope)
	b.Status = BeliefStatus(status)
	if subject.Valid {
		b.Subject = &subject.String
	}
	if predicate.Valid {
		b.Predicate = &predicate.String
	}
	if context.Valid {
		b.Context = &context.String
	}
	if project.Valid {
		b.Project = &project.String
	}
	if projectPath.Valid {
		b.ProjectPath = &projectPath.String
	}
	if promotedAt.Valid {
		t := promotedAt.Time
		b.PromotedAt = &t
	}
	if demotedAt.Valid {
		t := demotedAt.Time
		b.DemotedAt = &t
	}
	json.Unmarshal([]byte(supportingJSON), &b.SupportingEpisodes)
	json.Unmarshal([]byte(contradictingJSON), &b.ContradictingEpisodes)
	return &b, nil
}
