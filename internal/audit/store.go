// Package audit provides PostgreSQL-backed storage for moderation verdicts.
// Each row captures one moderated message: who sent it, what the pipeline
// decided, which path produced the decision, and the raw classifier payload
// (for offline review of AI behavior).
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// validSources is the set of allowed verdict sources, matching the CHECK
// constraint on the moderation_verdicts table.
var validSources = map[string]bool{
	"ai":           true,
	"heuristic":    true,
	"conservative": true,
}

// Store manages the moderation audit trail in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Record represents a single moderation verdict to be persisted.
type Record struct {
	ConversationID    string
	SessionID         string
	OriginalText      string
	ModeratedText     string
	ContainsProfanity bool
	WasModified       bool
	Source            string // ai | heuristic | conservative
	RawResponse       []byte // raw classifier payload, nil for non-AI verdicts
	LatencyMS         int64
}

// NewStore creates a new audit store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a verdict record into PostgreSQL. The raw classifier payload
// goes into a JSONB column; the source is validated against the allowed set
// before insertion.
func (s *Store) Create(ctx context.Context, rec *Record) error {
	if !validSources[rec.Source] {
		return fmt.Errorf("audit: invalid source %q", rec.Source)
	}

	// JSONB rejects empty input; store NULL instead.
	var raw interface{}
	if len(rec.RawResponse) > 0 {
		raw = rec.RawResponse
	}

	const query = `
		INSERT INTO moderation_verdicts
			(conversation_id, session_id, original_text, moderated_text,
			 contains_profanity, was_modified, source, raw_response, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ConversationID,
		rec.SessionID,
		rec.OriginalText,
		rec.ModeratedText,
		rec.ContainsProfanity,
		rec.WasModified,
		rec.Source,
		raw,
		rec.LatencyMS,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// CountRecentProfanity returns the number of profanity verdicts recorded
// against a session within the given time window. Moderation tooling uses
// this for review queues and abuse dashboards.
func (s *Store) CountRecentProfanity(ctx context.Context, sessionID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM moderation_verdicts
		WHERE session_id = $1
		  AND contains_profanity
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, sessionID, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count recent: %w", err)
	}
	return count, nil
}

// SourceBreakdown returns verdict counts grouped by source within the given
// window. Degraded-mode monitoring watches the heuristic and conservative
// shares for spikes.
func (s *Store) SourceBreakdown(ctx context.Context, window time.Duration) (map[string]int, error) {
	const query = `
		SELECT source, COUNT(*)
		FROM moderation_verdicts
		WHERE created_at >= NOW() - $1::interval
		GROUP BY source`

	rows, err := s.db.QueryContext(ctx, query, window.String())
	if err != nil {
		return nil, fmt.Errorf("audit: source breakdown: %w", err)
	}
	defer rows.Close()

	breakdown := make(map[string]int)
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("audit: source breakdown scan: %w", err)
		}
		breakdown[source] = count
	}
	return breakdown, rows.Err()
}
