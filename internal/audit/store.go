// Package audit provides PostgreSQL-backed storage for moderation
// decisions. Each row captures what was decided and why, without the
// utterance itself: the content fingerprint links a row back to a cache
// entry while keeping children's messages out of the database.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kidsafe/guardian/internal/metrics"
	"github.com/kidsafe/guardian/internal/moderation"
)

// Store manages the decision log in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Decision is one persisted moderation outcome.
type Decision struct {
	ID            int64                 `json:"id"`
	RequestID     string                `json:"request_id"`
	UserID        string                `json:"user_id,omitempty"`
	SessionID     string                `json:"session_id,omitempty"`
	Fingerprint   string                `json:"fingerprint"`
	ContentLength int                   `json:"content_length"`
	Allowed       bool                  `json:"allowed"`
	Severity      moderation.Severity   `json:"severity"`
	Categories    []moderation.Category `json:"categories,omitempty"`
	Confidence    float64               `json:"confidence"`
	Rules         []string              `json:"triggered_rules,omitempty"`
	CacheHit      bool                  `json:"cache_hit"`
	ProcessingMS  int64                 `json:"processing_ms"`
	CreatedAt     time.Time             `json:"created_at"`
}

// NewStore creates a decision store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts one decision. Categories and rules are marshalled to
// JSONB; empty slices are stored as NULL.
func (s *Store) Record(ctx context.Context, d *Decision) error {
	var categoriesJSON, rulesJSON []byte
	var err error
	if len(d.Categories) > 0 {
		if categoriesJSON, err = json.Marshal(d.Categories); err != nil {
			return fmt.Errorf("audit: marshal categories: %w", err)
		}
	}
	if len(d.Rules) > 0 {
		if rulesJSON, err = json.Marshal(d.Rules); err != nil {
			return fmt.Errorf("audit: marshal rules: %w", err)
		}
	}

	const query = `
		INSERT INTO moderation_decisions
			(request_id, user_id, session_id, fingerprint, content_length,
			 allowed, severity, categories, confidence, triggered_rules,
			 cache_hit, processing_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = s.db.ExecContext(ctx, query,
		d.RequestID,
		d.UserID,
		d.SessionID,
		d.Fingerprint,
		d.ContentLength,
		d.Allowed,
		d.Severity.String(),
		categoriesJSON,
		d.Confidence,
		rulesJSON,
		d.CacheHit,
		d.ProcessingMS,
	)
	if err != nil {
		metrics.AuditWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("audit: insert: %w", err)
	}
	metrics.AuditWrites.WithLabelValues("ok").Inc()
	return nil
}

// RecentByUser returns a user's most recent decisions, newest first.
func (s *Store) RecentByUser(ctx context.Context, userID string, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT id, request_id, user_id, session_id, fingerprint,
		       content_length, allowed, severity, categories, confidence,
		       triggered_rules, cache_hit, processing_ms, created_at
		FROM moderation_decisions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: recent by user: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var (
			d              Decision
			severityLabel  string
			categoriesJSON []byte
			rulesJSON      []byte
		)
		if err := rows.Scan(&d.ID, &d.RequestID, &d.UserID, &d.SessionID,
			&d.Fingerprint, &d.ContentLength, &d.Allowed, &severityLabel,
			&categoriesJSON, &d.Confidence, &rulesJSON, &d.CacheHit,
			&d.ProcessingMS, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}

		if d.Severity, err = moderation.ParseSeverity(severityLabel); err != nil {
			return nil, fmt.Errorf("audit: row %d: %w", d.ID, err)
		}
		if len(categoriesJSON) > 0 {
			if err := json.Unmarshal(categoriesJSON, &d.Categories); err != nil {
				return nil, fmt.Errorf("audit: row %d categories: %w", d.ID, err)
			}
		}
		if len(rulesJSON) > 0 {
			if err := json.Unmarshal(rulesJSON, &d.Rules); err != nil {
				return nil, fmt.Errorf("audit: row %d rules: %w", d.ID, err)
			}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	return out, nil
}

// CountBlocked returns how many of a user's utterances were blocked within
// the given window.
func (s *Store) CountBlocked(ctx context.Context, userID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM moderation_decisions
		WHERE user_id = $1
		  AND allowed = FALSE
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, userID, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count blocked: %w", err)
	}
	return count, nil
}
