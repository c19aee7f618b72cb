// Package container provides dependency injection for all singleton services
package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AtRiskMedia/intervene/internal/application/classifier"
	"github.com/AtRiskMedia/intervene/internal/application/learner"
	"github.com/AtRiskMedia/intervene/internal/application/router"
	"github.com/AtRiskMedia/intervene/internal/application/services"
	"github.com/AtRiskMedia/intervene/internal/domain/events"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/cleanup"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/clock"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/email"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/metrics"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/persistence/database"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/persistence/delivery"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/persistence/patterns"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/persistence/policy"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/security"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/tenant"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/webhook"
	"github.com/AtRiskMedia/intervene/pkg/config"
)

// Policy source names accepted by POLICY_SOURCE.
const (
	PolicySourceDatabase = "database"
	PolicySourceFile     = "file"
)

// Container holds all singleton services and infrastructure dependencies
type Container struct {
	Logger         *logging.ChanneledLogger
	LogBroadcaster *logging.LogBroadcaster
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer

	// Persistence
	DB       *database.DB
	Cipher   *security.SecretCipher
	Attempts *delivery.SQLAttemptRepository
	Patterns *patterns.SQLPatternRepository

	// Tenant policy
	PolicyRepository *policy.SQLPolicyRepository
	PolicyFile       *tenant.FileSource
	PolicyWatcher    *tenant.Watcher
	Policies         *tenant.Store

	// Core
	Classifier *classifier.Classifier
	Router     *router.Router
	Learner    *learner.Learner

	// Delivery
	Bus        *messaging.Bus
	Dispatcher *webhook.Dispatcher
	PushHub    *messaging.PushHub
	Alerter    *email.Alerter

	// Application services
	Contexts        *services.SessionContexts
	PipelineService *services.PipelineService
	IngestService   *services.IngestService
	OutcomeService  *services.OutcomeService

	CleanupWorker *cleanup.Worker
}

// New opens the store and wires every component from pkg/config. The
// returned container owns the database; call Close when done.
func New(ctx context.Context, logger *logging.ChanneledLogger, broadcaster *logging.LogBroadcaster) (*Container, error) {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	c := &Container{
		Logger:         logger,
		LogBroadcaster: broadcaster,
		Metrics:        metrics.Default(),
		Gatherer:       prometheus.DefaultGatherer,
	}

	cipher, err := security.NewSecretCipher(config.SecretEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid SECRET_ENCRYPTION_KEY: %w", err)
	}
	if !cipher.Enabled() {
		logger.Startup().Warn("SECRET_ENCRYPTION_KEY not set, webhook secrets are stored in plaintext")
	}
	c.Cipher = cipher

	db, err := database.Open(ctx, database.OptionsFromConfig(), logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	c.DB = db
	c.Attempts = delivery.NewSQLAttemptRepository(db, logger)
	c.Patterns = patterns.NewSQLPatternRepository(db, logger)

	if err := c.initPolicies(); err != nil {
		db.Close()
		return nil, err
	}

	clk := clock.Real{}
	c.Bus = messaging.NewBus(0, logger)
	c.Classifier = classifier.New(classifier.DefaultConfig(), clk, logger, c.Metrics)
	c.Router = router.New(clk, logger, c.Metrics)
	c.Learner = learner.New(learner.DefaultConfig(), c.Patterns, clk, logger, c.Metrics)
	if err := c.Learner.Restore(ctx); err != nil {
		logger.Startup().Warn("Learned patterns could not be restored", "error", err)
	}

	c.Dispatcher = webhook.NewDispatcher(webhook.Config{
		Timeout: config.WebhookTimeout,
		Retry:   tenant.DefaultRetryPolicy(),
	}, c.Bus, logger, c.Metrics, webhook.WithRepository(c.Attempts))
	c.PushHub = messaging.NewPushHub(c.Bus, logger, c.Metrics,
		messaging.WithPingInterval(config.PushPingInterval),
		messaging.WithSendBuffer(config.PushSendBuffer))

	c.Bus.Subscribe(c.Learner.HandleEvent)
	if alerter, err := email.NewAlerter(c.Policies, logger); err == nil {
		c.Alerter = alerter
		c.Bus.Subscribe(alerter.HandleEvent, events.CriticalFailure)
	} else if errors.Is(err, email.ErrNotConfigured) {
		logger.Startup().Info("Email alerts disabled", "reason", err.Error())
	} else {
		logger.Startup().Error("Email alerter failed to initialize", "error", err)
	}

	c.Contexts = services.NewSessionContexts(100_000, config.SessionIdleTimeout)
	c.PipelineService = services.NewPipelineService(c.Router, c.Policies, c.PushHub, c.Dispatcher, c.Contexts,
		config.PipelineQueueSize, config.PipelineWorkers, logger, c.Metrics)
	c.IngestService = services.NewIngestService(services.IngestConfig{
		MaxBatchSize: config.MaxBatchSize,
		RatePerSec:   config.IngestRatePerSecond,
		Burst:        config.IngestBurst,
		IdleTTL:      config.SessionIdleTimeout,
	}, c.Classifier, c.PipelineService, c.Router, c.Contexts, logger, c.Metrics)
	c.OutcomeService = services.NewOutcomeService(c.Learner, c.Attempts, logger)

	c.CleanupWorker = cleanup.NewWorker(cleanup.Deps{
		Classifier: c.Classifier,
		Router:     c.Router,
		Sessions:   []cleanup.SessionReleaser{c.IngestService},
		Sink:       c.PipelineService,
		Learner:    c.Learner,
		Attempts:   c.Attempts,
		Snapshot:   c.Snapshot,
	}, cleanup.NewConfig(), logger, nil)

	return c, nil
}

func (c *Container) initPolicies() error {
	var source tenant.Source
	switch config.PolicySource {
	case PolicySourceFile:
		fs, err := tenant.NewFileSource(config.PolicyFile, c.Logger)
		if err != nil {
			return fmt.Errorf("failed to load policy file: %w", err)
		}
		c.PolicyFile = fs
		source = fs
	case PolicySourceDatabase, "":
		c.PolicyRepository = policy.NewSQLPolicyRepository(c.DB, c.Cipher, c.Logger)
		source = c.PolicyRepository
	default:
		return fmt.Errorf("unknown POLICY_SOURCE %q", config.PolicySource)
	}
	c.Policies = tenant.NewStore(source, config.PolicyCacheSize, config.PolicyCacheTTL, c.Logger)
	if c.PolicyFile != nil {
		c.PolicyWatcher = tenant.NewWatcher(c.PolicyFile, c.Policies, 250*time.Millisecond, c.Logger)
	}
	return nil
}

// Snapshot reports live component sizes for the cleanup report.
func (c *Container) Snapshot() cleanup.Snapshot {
	return cleanup.Snapshot{
		Sessions:        c.Classifier.SessionCount(),
		PushConnections: c.PushHub.ConnectionCount(),
		PendingEvents:   c.PipelineService.Pending(),
		InFlight:        c.Dispatcher.InFlight(),
		CachedPolicies:  c.Policies.Cached(),
	}
}

// Close releases the database and log files.
func (c *Container) Close() error {
	var errs []error
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if err := c.Logger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close logs: %w", err))
	}
	return errors.Join(errs...)
}
