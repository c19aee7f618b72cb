package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
)

func TestOpenCreatesDirectoryAndMigrates(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "intervene.db")

	db, err := Open(ctx, Options{SQLitePath: path, MaxOpenConns: 1}, logging.NewDiscardLogger())
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, DriverSQLite, db.Driver)
	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx), "migrations must be idempotent")
	require.NoError(t, db.Healthy(ctx))

	var n int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN
			('tenants','rules','webhook_endpoints','delivery_attempts','learned_patterns')`).Scan(&n))
	assert.Equal(t, 5, n)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Options{}, logging.NewDiscardLogger())
	assert.Error(t, err)
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 891, time.FixedZone("x", 3600))
	s := FormatTime(ts)
	assert.Equal(t, "2026-03-04T04:06:07.000000891Z", s)
	assert.True(t, ParseTime(s).Equal(ts))
	assert.True(t, ParseTime("").IsZero())
	assert.True(t, ParseTime("garbage").IsZero())
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", Placeholders(0))
	assert.Equal(t, "?", Placeholders(1))
	assert.Equal(t, "?,?,?", Placeholders(3))
}
