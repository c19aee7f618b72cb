// Package cleanup runs the background maintenance loops: the classifier idle
// tick, idle session eviction, learner sweeps and delivery audit pruning.
package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AtRiskMedia/intervene/internal/application/classifier"
	"github.com/AtRiskMedia/intervene/internal/application/learner"
	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
)

// SessionClassifier is the part of the classifier the worker drives.
type SessionClassifier interface {
	Tick() []behavior.EmotionEvent
	EvictIdle(maxIdle time.Duration) []classifier.SessionRef
	SessionCount() int
}

// CooldownStore holds per-session router state.
type CooldownStore interface {
	EvictSession(tenantID, sessionID string)
	ExpireCooldowns() int
}

// SessionReleaser drops any other per-session state when a session is evicted.
type SessionReleaser interface {
	Forget(tenantID, sessionID string)
}

// EventSink receives events produced by the idle tick.
type EventSink interface {
	Submit(event behavior.EmotionEvent) error
}

// PatternSweeper runs learner maintenance.
type PatternSweeper interface {
	Sweep(ctx context.Context) learner.SweepReport
}

// AttemptPruner deletes old delivery audit rows.
type AttemptPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Deps are the collaborators the worker maintains. Nil members are skipped.
type Deps struct {
	Classifier SessionClassifier
	Router     CooldownStore
	Sessions   []SessionReleaser
	Sink       EventSink
	Learner    PatternSweeper
	Attempts   AttemptPruner
	Snapshot   func() Snapshot
}

// Pass summarizes one cleanup run.
type Pass struct {
	EvictedSessions  int
	ExpiredCooldowns int
	PrunedAttempts   int64
}

// Worker handles background cleanup operations.
type Worker struct {
	deps     Deps
	config   *Config
	logger   *logging.ChanneledLogger
	reporter *Reporter
}

// NewWorker creates a new cleanup worker with injected configuration.
func NewWorker(deps Deps, config *Config, logger *logging.ChanneledLogger, reporter *Reporter) *Worker {
	if config == nil {
		config = NewConfig()
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	if reporter == nil {
		reporter = NewReporter(nil)
	}
	return &Worker{deps: deps, config: config, logger: logger, reporter: reporter}
}

// Start runs every loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.System().Info("Cleanup worker started",
		"tickInterval", w.config.TickInterval,
		"cleanupInterval", w.config.CleanupInterval,
		"sweepInterval", w.config.SweepInterval,
		"sessionIdleTTL", w.config.SessionIdleTTL)

	var wg sync.WaitGroup
	w.every(ctx, &wg, w.config.TickInterval, "tick", func(context.Context) { w.TickOnce() })
	w.every(ctx, &wg, w.config.CleanupInterval, "cleanup", func(ctx context.Context) { w.CleanupOnce(ctx) })
	w.every(ctx, &wg, w.config.SweepInterval, "sweep", w.SweepOnce)
	wg.Wait()

	w.logger.System().Info("Cleanup worker stopped")
}

func (w *Worker) every(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, name string, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.guard(name, func() { fn(ctx) })
			}
		}
	}()
}

func (w *Worker) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.LogRecovered(logging.ChannelSystem, "cleanup."+name, r)
		}
	}()
	fn()
}

// TickOnce evaluates time-driven classifier signals and forwards what they
// emit. It returns the number of events produced.
func (w *Worker) TickOnce() int {
	if w.deps.Classifier == nil {
		return 0
	}
	events := w.deps.Classifier.Tick()
	if w.deps.Sink != nil {
		for _, ev := range events {
			_ = w.deps.Sink.Submit(ev)
		}
	}
	return len(events)
}

// CleanupOnce evicts idle sessions from every per-session store, expires
// router cooldowns and prunes old delivery attempts.
func (w *Worker) CleanupOnce(ctx context.Context) Pass {
	start := time.Now()
	var pass Pass

	if w.deps.Classifier != nil && w.config.SessionIdleTTL > 0 {
		evicted := w.deps.Classifier.EvictIdle(w.config.SessionIdleTTL)
		for _, ref := range evicted {
			if w.deps.Router != nil {
				w.deps.Router.EvictSession(ref.TenantID, ref.SessionID)
			}
			for _, s := range w.deps.Sessions {
				s.Forget(ref.TenantID, ref.SessionID)
			}
		}
		pass.EvictedSessions = len(evicted)
	}
	if w.deps.Router != nil {
		pass.ExpiredCooldowns = w.deps.Router.ExpireCooldowns()
	}
	if w.deps.Attempts != nil && w.config.DeliveryRetention > 0 {
		n, err := w.deps.Attempts.Prune(ctx, time.Now().Add(-w.config.DeliveryRetention))
		if err != nil {
			w.logger.Database().Error("Failed to prune delivery attempts", "error", err)
		}
		pass.PrunedAttempts = n
	}

	duration := time.Since(start)
	if pass.EvictedSessions > 0 || pass.ExpiredCooldowns > 0 || pass.PrunedAttempts > 0 {
		w.logger.System().Info("Cleanup pass finished",
			"evictedSessions", pass.EvictedSessions,
			"expiredCooldowns", pass.ExpiredCooldowns,
			"prunedAttempts", pass.PrunedAttempts,
			"duration", duration)
	}
	if w.config.VerboseReporting {
		var snap Snapshot
		if w.deps.Snapshot != nil {
			snap = w.deps.Snapshot()
		} else if w.deps.Classifier != nil {
			snap.Sessions = w.deps.Classifier.SessionCount()
		}
		fmt.Fprint(w.reporter.out, w.reporter.GenerateReport(snap, pass))
	}
	return pass
}

// SweepOnce runs a learner sweep. Sweep failures are logged by the learner.
func (w *Worker) SweepOnce(ctx context.Context) {
	if w.deps.Learner == nil {
		return
	}
	w.deps.Learner.Sweep(ctx)
}
