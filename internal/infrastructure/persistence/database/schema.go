package database

// Booleans are INTEGER 0/1, timestamps TEXT in TimeFormat, and structured
// columns (payloads, filters, lists) JSON text.
var tables = []string{
	`CREATE TABLE IF NOT EXISTS tenants (id TEXT PRIMARY KEY, tier TEXT NOT NULL DEFAULT 'free', enabled_channels TEXT NOT NULL DEFAULT '[]', alert_email TEXT NOT NULL DEFAULT '', created_at TEXT NOT NULL, updated_at TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS rules (id TEXT NOT NULL, tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE, trigger_emotion TEXT NOT NULL, min_confidence INTEGER NOT NULL DEFAULT 0, priority INTEGER NOT NULL DEFAULT 0, cooldown_seconds INTEGER NOT NULL DEFAULT 0, max_per_day INTEGER NOT NULL DEFAULT 0, action TEXT NOT NULL, context_filter TEXT NOT NULL DEFAULT '', high_value INTEGER NOT NULL DEFAULT 0, active INTEGER NOT NULL DEFAULT 1, payload TEXT NOT NULL, PRIMARY KEY (tenant_id, id))`,
	`CREATE TABLE IF NOT EXISTS webhook_endpoints (id TEXT NOT NULL, tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE, url TEXT NOT NULL, secret TEXT NOT NULL DEFAULT '', event_types TEXT NOT NULL DEFAULT '[]', active INTEGER NOT NULL DEFAULT 1, filters TEXT NOT NULL DEFAULT '{}', retry TEXT, PRIMARY KEY (tenant_id, id))`,
	`CREATE TABLE IF NOT EXISTS delivery_attempts (delivery_id TEXT NOT NULL, attempt_number INTEGER NOT NULL, directive_id TEXT NOT NULL, tenant_id TEXT NOT NULL, endpoint_id TEXT NOT NULL DEFAULT '', channel TEXT NOT NULL, status TEXT NOT NULL, status_code INTEGER NOT NULL DEFAULT 0, error_class TEXT NOT NULL DEFAULT '', error TEXT NOT NULL DEFAULT '', latency_ms INTEGER NOT NULL DEFAULT 0, responded_at TEXT NOT NULL, PRIMARY KEY (delivery_id, attempt_number))`,
	`CREATE TABLE IF NOT EXISTS learned_patterns (pattern_key TEXT PRIMARY KEY, tenant_id TEXT NOT NULL DEFAULT '', sequence TEXT NOT NULL, associated_outcome TEXT NOT NULL, base_confidence REAL NOT NULL, success_rate REAL NOT NULL, sample_size INTEGER NOT NULL, successes INTEGER NOT NULL, global INTEGER NOT NULL DEFAULT 0, last_updated TEXT NOT NULL, last_decayed TEXT NOT NULL DEFAULT '')`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_rules_tenant_id ON rules(tenant_id)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_endpoints_tenant_id ON webhook_endpoints(tenant_id)`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_directive_id ON delivery_attempts(directive_id)`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_tenant_time ON delivery_attempts(tenant_id, responded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_learned_patterns_tenant_id ON learned_patterns(tenant_id)`,
	`CREATE INDEX IF NOT EXISTS idx_learned_patterns_global ON learned_patterns(global)`,
}
