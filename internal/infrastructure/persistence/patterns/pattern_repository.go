// Package patterns persists the learner's reinforced sequence patterns.
package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
	"github.com/AtRiskMedia/intervene/internal/domain/learning"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/persistence/database"
)

// SQLPatternRepository implements learning.PatternRepository.
type SQLPatternRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLPatternRepository creates a new instance of the repository.
func NewSQLPatternRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLPatternRepository {
	return &SQLPatternRepository{db: db, logger: logger}
}

// SavePatterns upserts patterns in one transaction.
func (r *SQLPatternRepository) SavePatterns(ctx context.Context, patterns []learning.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}
	const query = `
		INSERT INTO learned_patterns (pattern_key, tenant_id, sequence, associated_outcome, base_confidence,
			success_rate, sample_size, successes, global, last_updated, last_decayed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pattern_key) DO UPDATE SET
			base_confidence = excluded.base_confidence,
			success_rate = excluded.success_rate,
			sample_size = excluded.sample_size,
			successes = excluded.successes,
			global = excluded.global,
			last_updated = excluded.last_updated,
			last_decayed = excluded.last_decayed`

	start := time.Now()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin pattern transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare pattern upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range patterns {
		seq, err := json.Marshal(p.Sequence)
		if err != nil {
			return fmt.Errorf("failed to encode pattern sequence: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, p.SequenceKey, p.TenantID, string(seq), p.AssociatedOutcome,
			p.BaseConfidence, p.SuccessRate, p.SampleSize, p.Successes, database.BoolToInt(p.Global),
			database.FormatTime(p.LastUpdated), formatOptionalTime(p.LastDecayed)); err != nil {
			return fmt.Errorf("failed to upsert pattern %s: %w", p.SequenceKey, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit patterns: %w", err)
	}
	r.db.CheckSlow("BULK_SAVE_PATTERNS", start, "system")
	r.logger.Database().Debug("Patterns saved", "count", len(patterns), "duration", time.Since(start))
	return nil
}

// DeletePatterns removes patterns by key.
func (r *SQLPatternRepository) DeletePatterns(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	query := `DELETE FROM learned_patterns WHERE pattern_key IN (` + database.Placeholders(len(keys)) + `)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete patterns: %w", err)
	}
	return nil
}

// LoadPatterns returns every stored pattern.
func (r *SQLPatternRepository) LoadPatterns(ctx context.Context) ([]learning.Pattern, error) {
	const query = `
		SELECT pattern_key, tenant_id, sequence, associated_outcome, base_confidence,
			success_rate, sample_size, successes, global, last_updated, last_decayed
		FROM learned_patterns`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var out []learning.Pattern
	for rows.Next() {
		var (
			p                learning.Pattern
			seq, lastUpdated string
			lastDecayed      string
			global           int
		)
		if err := rows.Scan(&p.SequenceKey, &p.TenantID, &seq, &p.AssociatedOutcome, &p.BaseConfidence,
			&p.SuccessRate, &p.SampleSize, &p.Successes, &global, &lastUpdated, &lastDecayed); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		var sequence []behavior.Emotion
		if err := json.Unmarshal([]byte(seq), &sequence); err != nil {
			r.logger.Database().Warn("Skipping pattern with unreadable sequence", "patternKey", p.SequenceKey, "error", err)
			continue
		}
		p.Sequence = sequence
		p.Global = global != 0
		p.LastUpdated = database.ParseTime(lastUpdated)
		p.LastDecayed = database.ParseTime(lastDecayed)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patterns: %w", err)
	}
	return out, nil
}

func formatOptionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return database.FormatTime(t)
}
