// Package database provides the core functionality for creating and managing
// the store's connection and schema.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "github.com/tursodatabase/libsql-client-go/libsql"

	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/pkg/config"
)

const (
	DriverSQLite = "sqlite3"
	DriverLibSQL = "libsql"
)

// DB wraps the standard connection with the driver it was opened with.
type DB struct {
	*sql.DB
	Driver string
	logger *logging.ChanneledLogger
}

// Options selects and tunes the backing store. A Turso URL with a token
// selects libsql; otherwise a local SQLite file is used.
type Options struct {
	SQLitePath      string
	TursoURL        string
	TursoToken      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OptionsFromConfig reads Options from pkg/config.
func OptionsFromConfig() Options {
	opts := Options{
		SQLitePath:      config.SQLitePath,
		MaxOpenConns:    config.DBMaxOpenConns,
		MaxIdleConns:    config.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(config.DBConnMaxLifetimeMinutes) * time.Minute,
	}
	if config.DatabaseDriver == DriverLibSQL {
		opts.TursoURL = config.TursoDatabaseURL
		opts.TursoToken = config.TursoAuthToken
	}
	return opts
}

// Open connects, pings and tunes the pool.
func Open(ctx context.Context, opts Options, logger *logging.ChanneledLogger) (*DB, error) {
	start := time.Now()
	driver, dsn := DriverSQLite, opts.SQLitePath
	if opts.TursoURL != "" && opts.TursoToken != "" {
		driver, dsn = DriverLibSQL, opts.TursoURL+"?authToken="+opts.TursoToken
	} else {
		if dsn == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn += "?_busy_timeout=5000&_foreign_keys=on"
	}
	logger.Database().Debug("Creating new database connection", "driverName", driver)

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		logger.Database().Error("Failed to open database connection", "error", err.Error(), "driverName", driver)
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		logger.Database().Error("Database ping failed", "error", err.Error(), "driverName", driver)
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}

	if opts.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	db := &DB{DB: conn, Driver: driver, logger: logger}
	logger.Database().Info("Database connection established", "driverName", driver, "duration", time.Since(start))
	db.CheckSlow("DATABASE_CONNECTION", start, "system")
	return db, nil
}

// Migrate creates every table and index that does not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range tables {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table for query [%s]: %w", stmt, err)
		}
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index for query [%s]: %w", stmt, err)
		}
	}
	return nil
}

// Healthy pings the connection.
func (db *DB) Healthy(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Logger returns the logger the connection was opened with.
func (db *DB) Logger() *logging.ChanneledLogger {
	return db.logger
}
