// Package delivery persists webhook and push delivery attempts for audit.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/persistence/database"
)

// SQLAttemptRepository implements intervention.DeliveryRepository.
type SQLAttemptRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLAttemptRepository creates a new instance of the repository.
func NewSQLAttemptRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLAttemptRepository {
	return &SQLAttemptRepository{db: db, logger: logger}
}

// StoreAttempt upserts one attempt, keyed by delivery id and attempt number.
func (r *SQLAttemptRepository) StoreAttempt(ctx context.Context, a intervention.DeliveryAttempt) error {
	const query = `
		INSERT INTO delivery_attempts (delivery_id, attempt_number, directive_id, tenant_id, endpoint_id, channel,
			status, status_code, error_class, error, latency_ms, responded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(delivery_id, attempt_number) DO UPDATE SET
			status = excluded.status,
			status_code = excluded.status_code,
			error_class = excluded.error_class,
			error = excluded.error,
			latency_ms = excluded.latency_ms,
			responded_at = excluded.responded_at`

	start := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		a.DeliveryID, a.AttemptNumber, a.DirectiveID, a.TenantID, a.EndpointID, string(a.Channel),
		string(a.Status), a.StatusCode, string(a.ErrorClass), a.Error, a.Latency.Milliseconds(),
		database.FormatTime(a.RespondedAt),
	)
	if err != nil {
		r.logger.Database().Error("Delivery attempt insert failed",
			"error", err.Error(), "deliveryId", a.DeliveryID, "attempt", a.AttemptNumber, "tenantId", a.TenantID)
		return fmt.Errorf("failed to store delivery attempt: %w", err)
	}
	r.db.CheckSlow("INSERT_DELIVERY_ATTEMPT", start, a.TenantID)
	return nil
}

// FindAttempts returns every attempt for a directive in delivery, then
// attempt order.
func (r *SQLAttemptRepository) FindAttempts(ctx context.Context, directiveID string) ([]intervention.DeliveryAttempt, error) {
	const query = `
		SELECT delivery_id, attempt_number, directive_id, tenant_id, endpoint_id, channel,
			status, status_code, error_class, error, latency_ms, responded_at
		FROM delivery_attempts
		WHERE directive_id = ?
		ORDER BY delivery_id, attempt_number`

	rows, err := r.db.QueryContext(ctx, query, directiveID)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []intervention.DeliveryAttempt
	for rows.Next() {
		var (
			a                                   intervention.DeliveryAttempt
			channel, status, class, respondedAt string
			latencyMs                           int64
		)
		if err := rows.Scan(&a.DeliveryID, &a.AttemptNumber, &a.DirectiveID, &a.TenantID, &a.EndpointID, &channel,
			&status, &a.StatusCode, &class, &a.Error, &latencyMs, &respondedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery attempt: %w", err)
		}
		a.Channel = intervention.Channel(channel)
		a.Status = intervention.DeliveryStatus(status)
		a.ErrorClass = intervention.ErrorClass(class)
		a.Latency = time.Duration(latencyMs) * time.Millisecond
		a.RespondedAt = database.ParseTime(respondedAt)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate delivery attempts: %w", err)
	}
	return attempts, nil
}

// Summary counts a tenant's attempts by status since the given time.
func (r *SQLAttemptRepository) Summary(ctx context.Context, tenantID string, since time.Time) (map[intervention.DeliveryStatus]int, error) {
	const query = `
		SELECT status, COUNT(*) FROM delivery_attempts
		WHERE tenant_id = ? AND responded_at >= ?
		GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, tenantID, database.FormatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to summarize delivery attempts: %w", err)
	}
	defer rows.Close()

	out := make(map[intervention.DeliveryStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan delivery summary: %w", err)
		}
		out[intervention.DeliveryStatus(status)] = n
	}
	return out, rows.Err()
}

// Prune deletes attempts older than cutoff and reports how many went.
func (r *SQLAttemptRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	start := time.Now()
	res, err := r.db.ExecContext(ctx, `DELETE FROM delivery_attempts WHERE responded_at < ?`, database.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune delivery attempts: %w", err)
	}
	r.db.CheckSlow("BULK_PRUNE_DELIVERY_ATTEMPTS", start, "system")
	return res.RowsAffected()
}
