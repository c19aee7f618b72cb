package database

import (
	"strings"
	"time"

	"github.com/AtRiskMedia/intervene/pkg/config"
)

// TimeFormat is how timestamps are stored: UTC, sortable as text.
const TimeFormat = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime reads a stored timestamp. Empty or malformed values yield the
// zero time.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}

// BoolToInt maps a bool onto SQLite's integer booleans.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Placeholders returns n comma-separated "?" markers.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// CheckSlow logs an operation that took longer than the configured
// threshold. Bulk operations get three times the allowance.
func (db *DB) CheckSlow(operation string, start time.Time, tenantID string) {
	duration := time.Since(start)
	threshold := config.SlowQueryThreshold
	if strings.HasPrefix(operation, "BULK_") {
		threshold *= 3
	}
	if threshold > 0 && duration > threshold {
		db.logger.Database().Warn("Slow query",
			"operation", operation, "duration", duration, "threshold", threshold, "tenantId", tenantID)
	}
}
