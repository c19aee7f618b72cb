package cleanup

import (
	"time"

	"github.com/AtRiskMedia/intervene/pkg/config"
)

// Config holds cleanup worker configuration, sourced from the central config package.
type Config struct {
	TickInterval      time.Duration
	CleanupInterval   time.Duration
	SweepInterval     time.Duration
	SessionIdleTTL    time.Duration
	DeliveryRetention time.Duration
	VerboseReporting  bool
}

// NewConfig reads the already-initialized values in pkg/config.
func NewConfig() *Config {
	return &Config{
		TickInterval:      config.ClassifierTickInterval,
		CleanupInterval:   config.CleanupInterval,
		SweepInterval:     config.LearnerSweepInterval,
		SessionIdleTTL:    config.SessionIdleTimeout,
		DeliveryRetention: config.DeliveryRetention,
		VerboseReporting:  config.CleanupVerbose,
	}
}
