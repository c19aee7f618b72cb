package main

import (
	"context"
	"fmt"

	"github.com/AtRiskMedia/intervene/internal/application/startup"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/persistence/database"
)

// openStore opens and migrates the configured database for one-shot
// commands. The returned func closes both the database and the logger.
func openStore(ctx context.Context) (*database.DB, *logging.ChanneledLogger, func(), error) {
	logger, err := startup.NewLogger(nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	db, err := database.Open(ctx, database.OptionsFromConfig(), logger)
	if err != nil {
		logger.Close()
		return nil, nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		logger.Close()
		return nil, nil, nil, err
	}
	return db, logger, func() {
		db.Close()
		logger.Close()
	}, nil
}
