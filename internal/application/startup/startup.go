// Package startup prepares the application server
package startup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/AtRiskMedia/intervene/internal/application/container"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/presentation/http/routes"
	"github.com/AtRiskMedia/intervene/internal/presentation/http/server"
	"github.com/AtRiskMedia/intervene/pkg/config"
)

const shutdownTimeout = 30 * time.Second

// NewLogger builds the channeled logger from pkg/config. broadcaster may be
// nil.
func NewLogger(broadcaster *logging.LogBroadcaster) (*logging.ChanneledLogger, error) {
	cfg := logging.DefaultLoggerConfig()
	if level, ok := logging.ParseLevel(config.LogLevel); ok {
		cfg.DefaultLevel = level
	}
	cfg.JSONFormat = config.LogJSON
	cfg.OutputToFile = config.LogToFile
	cfg.LogDirectory = config.LogDirectory
	cfg.Broadcaster = broadcaster
	return logging.NewChanneledLogger(cfg)
}

// Initialize performs the complete startup sequence and serves until ctx is
// cancelled, then shuts down in dependency order: HTTP first so no new
// samples arrive, then the pipeline drains, then webhook retries are
// expedited, then the event bus and everything else stop.
func Initialize(ctx context.Context) error {
	setupGin()
	start := time.Now().UTC()

	fmt.Println("\033[32m" + "  intervene" + "\033[97m" + "  behavior classification & intervention delivery" + "\033[0m")

	broadcaster := logging.NewLogBroadcaster(0)
	logger, err := NewLogger(broadcaster)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	slog.SetDefault(logger.System())

	// Step 1: Build the container (store, policies, core, delivery)
	logger.Startup().Info("Initializing dependency injection container...")
	c, err := container.New(ctx, logger, broadcaster)
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Shutdown().Error("Error closing container", "error", err)
		}
	}()
	logger.Startup().Info("Container ready",
		"driver", c.DB.Driver,
		"policySource", config.PolicySource,
		"alerts", c.Alerter != nil)

	// Step 2: Background workers
	pipelineCtx, stopPipeline := context.WithCancel(context.Background())
	defer stopPipeline()
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		c.PipelineService.Run(pipelineCtx)
	}()

	var bg errgroup.Group
	bg.Go(func() error { broadcaster.Run(bgCtx); return nil })
	bg.Go(func() error { c.Bus.Run(bgCtx); return nil })
	bg.Go(func() error { c.PushHub.Run(bgCtx); return nil })
	bg.Go(func() error { c.CleanupWorker.Start(bgCtx); return nil })
	if c.Alerter != nil {
		bg.Go(func() error { c.Alerter.Run(bgCtx); return nil })
	}
	if c.PolicyWatcher != nil {
		if err := c.PolicyWatcher.Start(bgCtx); err != nil {
			logger.Startup().Warn("Policy file watcher not started", "error", err)
		} else {
			defer c.PolicyWatcher.Stop()
		}
	}
	logger.Startup().Info("Background workers started")

	// Step 3: HTTP server
	httpServer := server.New(config.Port, routes.SetupRoutes(c), logger)
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.Start() }()

	logger.Startup().Info("Application startup complete",
		"totalDuration", time.Since(start),
		"port", config.Port)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")
	case runErr = <-serveErr:
		logger.Shutdown().Error("HTTP server failed", "error", runErr)
	}

	shutdownStart := time.Now()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err)
	}

	stopPipeline()
	<-pipelineDone
	logger.Shutdown().Info("Pipeline drained")

	if err := c.Dispatcher.Close(shutdownCtx); err != nil {
		logger.Shutdown().Warn("Webhook drain incomplete", "error", err, "inFlight", c.Dispatcher.InFlight())
	}

	stopBackground()
	_ = bg.Wait()

	report := c.Learner.Sweep(shutdownCtx)
	logger.Shutdown().Info("Application shutdown complete",
		"totalUptime", time.Since(start),
		"shutdownDuration", time.Since(shutdownStart),
		"patternsPersisted", report.Persisted)

	return runErr
}

// setupGin defaults to release mode; GIN_MODE=debug restores route dumps.
func setupGin() {
	if os.Getenv("GIN_MODE") != gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
}
