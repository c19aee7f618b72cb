// Package policy stores tenant policies (tier, channels, rules and webhook
// endpoints) in SQL tables and serves them as a tenant.Source.
package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/persistence/database"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/security"
)

// SQLPolicyRepository reads and writes tenant policies. Endpoint secrets are
// sealed with the cipher before they reach the table.
type SQLPolicyRepository struct {
	db     *database.DB
	cipher *security.SecretCipher
	logger *logging.ChanneledLogger
}

// NewSQLPolicyRepository creates a new instance of the repository.
func NewSQLPolicyRepository(db *database.DB, cipher *security.SecretCipher, logger *logging.ChanneledLogger) *SQLPolicyRepository {
	return &SQLPolicyRepository{db: db, cipher: cipher, logger: logger}
}

// LoadPolicy implements tenant.Source.
func (r *SQLPolicyRepository) LoadPolicy(ctx context.Context, tenantID string) (*intervention.TenantPolicy, error) {
	start := time.Now()
	p := &intervention.TenantPolicy{TenantID: tenantID}

	var tier, channels string
	err := r.db.QueryRowContext(ctx,
		`SELECT tier, enabled_channels, alert_email FROM tenants WHERE id = ?`, tenantID,
	).Scan(&tier, &channels, &p.AlertEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, intervention.ErrUnknownTenant
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	p.Tier = intervention.Tier(tier)
	if err := json.Unmarshal([]byte(channels), &p.EnabledChannels); err != nil {
		return nil, fmt.Errorf("tenant %s: bad enabled_channels: %w", tenantID, err)
	}

	if p.Rules, err = r.loadRules(ctx, tenantID); err != nil {
		return nil, err
	}
	if p.Endpoints, err = r.loadEndpoints(ctx, tenantID); err != nil {
		return nil, err
	}
	r.db.CheckSlow("LOAD_TENANT_POLICY", start, tenantID)
	return p, nil
}

func (r *SQLPolicyRepository) loadRules(ctx context.Context, tenantID string) ([]intervention.Rule, error) {
	const query = `
		SELECT id, trigger_emotion, min_confidence, priority, cooldown_seconds, max_per_day,
			action, context_filter, high_value, active, payload
		FROM rules WHERE tenant_id = ? ORDER BY priority, id`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []intervention.Rule
	for rows.Next() {
		var (
			rule                          intervention.Rule
			emotion, action, ctxTag, body string
			highValue, active             int
		)
		if err := rows.Scan(&rule.ID, &emotion, &rule.MinConfidence, &rule.Priority, &rule.CooldownSeconds,
			&rule.MaxPerTenantPerDay, &action, &ctxTag, &highValue, &active, &body); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule.TriggerEmotion = behavior.Emotion(emotion)
		rule.Action = intervention.Action(action)
		rule.ContextFilter = behavior.TargetHint(ctxTag)
		rule.HighValue = highValue != 0
		rule.Active = active != 0
		if err := json.Unmarshal([]byte(body), &rule.Payload); err != nil {
			r.logger.WithTenant(logging.ChannelDatabase, tenantID).
				Warn("Skipping rule with unreadable payload", "ruleId", rule.ID, "error", err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *SQLPolicyRepository) loadEndpoints(ctx context.Context, tenantID string) ([]intervention.WebhookEndpoint, error) {
	const query = `
		SELECT id, url, secret, event_types, active, filters, retry
		FROM webhook_endpoints WHERE tenant_id = ? ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []intervention.WebhookEndpoint
	for rows.Next() {
		var (
			ep                          intervention.WebhookEndpoint
			sealed, eventTypes, filters string
			retry                       sql.NullString
			active                      int
		)
		if err := rows.Scan(&ep.ID, &ep.URL, &sealed, &eventTypes, &active, &filters, &retry); err != nil {
			return nil, fmt.Errorf("failed to scan webhook endpoint: %w", err)
		}
		ep.TenantID = tenantID
		ep.Active = active != 0
		secret, err := r.cipher.Open(sealed)
		if err != nil {
			// An endpoint that cannot be signed must not receive deliveries.
			r.logger.WithTenant(logging.ChannelDatabase, tenantID).
				Error("Endpoint secret could not be opened, disabling endpoint", "endpointId", ep.ID, "error", err)
			ep.Active = false
		}
		ep.Secret = secret
		if err := json.Unmarshal([]byte(eventTypes), &ep.EventTypes); err != nil {
			return nil, fmt.Errorf("endpoint %s: bad event_types: %w", ep.ID, err)
		}
		if err := json.Unmarshal([]byte(filters), &ep.Filters); err != nil {
			return nil, fmt.Errorf("endpoint %s: bad filters: %w", ep.ID, err)
		}
		if retry.Valid && retry.String != "" {
			var rp intervention.RetryPolicy
			if err := json.Unmarshal([]byte(retry.String), &rp); err != nil {
				return nil, fmt.Errorf("endpoint %s: bad retry: %w", ep.ID, err)
			}
			ep.Retry = &rp
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

// SavePolicy replaces a tenant's policy (tenant row, rules and endpoints) in
// one transaction.
func (r *SQLPolicyRepository) SavePolicy(ctx context.Context, p intervention.TenantPolicy) error {
	if p.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	start := time.Now()
	channels, err := json.Marshal(nonNil(p.EnabledChannels))
	if err != nil {
		return fmt.Errorf("failed to encode channels: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin policy transaction: %w", err)
	}
	defer tx.Rollback()

	now := database.FormatTime(time.Now())
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tenants (id, tier, enabled_channels, alert_email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tier = excluded.tier,
			enabled_channels = excluded.enabled_channels,
			alert_email = excluded.alert_email,
			updated_at = excluded.updated_at`,
		p.TenantID, string(p.Tier), string(channels), p.AlertEmail, now, now); err != nil {
		return fmt.Errorf("failed to upsert tenant: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE tenant_id = ?`, p.TenantID); err != nil {
		return fmt.Errorf("failed to clear rules: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM webhook_endpoints WHERE tenant_id = ?`, p.TenantID); err != nil {
		return fmt.Errorf("failed to clear endpoints: %w", err)
	}

	for _, rule := range p.Rules {
		payload, err := json.Marshal(rule.Payload)
		if err != nil {
			return fmt.Errorf("rule %s: failed to encode payload: %w", rule.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rules (id, tenant_id, trigger_emotion, min_confidence, priority, cooldown_seconds,
				max_per_day, action, context_filter, high_value, active, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.ID, p.TenantID, string(rule.TriggerEmotion), rule.MinConfidence, rule.Priority, rule.CooldownSeconds,
			rule.MaxPerTenantPerDay, string(rule.Action), string(rule.ContextFilter), database.BoolToInt(rule.HighValue),
			database.BoolToInt(rule.Active), string(payload)); err != nil {
			return fmt.Errorf("failed to insert rule %s: %w", rule.ID, err)
		}
	}

	for _, ep := range p.Endpoints {
		sealed, err := r.cipher.Seal(ep.Secret)
		if err != nil {
			return fmt.Errorf("endpoint %s: failed to seal secret: %w", ep.ID, err)
		}
		eventTypes, _ := json.Marshal(nonNil(ep.EventTypes))
		filters, _ := json.Marshal(ep.Filters)
		var retry sql.NullString
		if ep.Retry != nil {
			b, _ := json.Marshal(ep.Retry)
			retry = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO webhook_endpoints (id, tenant_id, url, secret, event_types, active, filters, retry)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ep.ID, p.TenantID, ep.URL, sealed, string(eventTypes), database.BoolToInt(ep.Active),
			string(filters), retry); err != nil {
			return fmt.Errorf("failed to insert endpoint %s: %w", ep.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit policy: %w", err)
	}
	r.db.CheckSlow("SAVE_TENANT_POLICY", start, p.TenantID)
	r.logger.WithTenant(logging.ChannelDatabase, p.TenantID).Info("Tenant policy saved",
		"rules", len(p.Rules), "endpoints", len(p.Endpoints))
	return nil
}

// DeletePolicy removes a tenant and everything it owns.
func (r *SQLPolicyRepository) DeletePolicy(ctx context.Context, tenantID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		`DELETE FROM rules WHERE tenant_id = ?`,
		`DELETE FROM webhook_endpoints WHERE tenant_id = ?`,
		`DELETE FROM tenants WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, tenantID); err != nil {
			return fmt.Errorf("failed to delete tenant %s: %w", tenantID, err)
		}
	}
	return tx.Commit()
}

// TenantIDs lists stored tenants.
func (r *SQLPolicyRepository) TenantIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
