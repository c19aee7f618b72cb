// Package logging provides structured logging channels for the intervention
// core with multi-tenant context helpers.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Channel represents a logical logging channel for different system components
type Channel string

const (
	// System channels
	ChannelSystem   Channel = "system"
	ChannelStartup  Channel = "startup"
	ChannelShutdown Channel = "shutdown"

	// Pipeline channels
	ChannelIngest     Channel = "ingest"
	ChannelClassifier Channel = "classifier"
	ChannelRouter     Channel = "router"
	ChannelWebhook    Channel = "webhook"
	ChannelPush       Channel = "push"
	ChannelLearner    Channel = "learner"

	// Infrastructure channels
	ChannelTenant   Channel = "tenant"
	ChannelDatabase Channel = "database"
	ChannelAlert    Channel = "alert"
	ChannelDebug    Channel = "debug"
)

var allChannels = []Channel{
	ChannelSystem, ChannelStartup, ChannelShutdown,
	ChannelIngest, ChannelClassifier, ChannelRouter, ChannelWebhook, ChannelPush, ChannelLearner,
	ChannelTenant, ChannelDatabase, ChannelAlert, ChannelDebug,
}

// ChanneledLogger provides structured logging with multiple channels
type ChanneledLogger struct {
	channels map[Channel]*slog.Logger
	config   *LoggerConfig
	files    []*os.File
	mu       sync.RWMutex
}

// LoggerConfig contains configuration options for the channeled logger
type LoggerConfig struct {
	OutputToFile    bool   `json:"outputToFile"`
	OutputToConsole bool   `json:"outputToConsole"`
	LogDirectory    string `json:"logDirectory"`
	JSONFormat      bool   `json:"jsonFormat"`
	IncludeSource   bool   `json:"includeSource"`

	DefaultLevel  slog.Level             `json:"defaultLevel"`
	ChannelLevels map[Channel]slog.Level `json:"channelLevels"`

	// Writer overrides console output when set (tests use io.Discard).
	Writer io.Writer `json:"-"`

	// Broadcaster, when set, receives a copy of every line for the admin
	// log stream.
	Broadcaster *LogBroadcaster `json:"-"`
}

// DefaultLoggerConfig returns a sensible default configuration
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		OutputToFile:    false,
		OutputToConsole: true,
		LogDirectory:    "logs",
		JSONFormat:      true,
		IncludeSource:   false,
		DefaultLevel:    slog.LevelInfo,
		ChannelLevels:   make(map[Channel]slog.Level),
	}
}

// NewChanneledLogger creates a new channeled logger with the given configuration
func NewChanneledLogger(config *LoggerConfig) (*ChanneledLogger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}
	if config.ChannelLevels == nil {
		config.ChannelLevels = make(map[Channel]slog.Level)
	}

	logger := &ChanneledLogger{
		channels: make(map[Channel]*slog.Logger),
		config:   config,
	}

	if config.OutputToFile {
		if err := os.MkdirAll(config.LogDirectory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	for _, channel := range allChannels {
		channelLogger, err := logger.createChannelLogger(channel)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger for channel %s: %w", channel, err)
		}
		logger.channels[channel] = channelLogger
	}

	return logger, nil
}

// NewDiscardLogger returns a logger that drops everything. Used by tests and
// by CLI commands that print their own output.
func NewDiscardLogger() *ChanneledLogger {
	cfg := DefaultLoggerConfig()
	cfg.Writer = io.Discard
	logger, _ := NewChanneledLogger(cfg)
	return logger
}

// createChannelLogger creates a slog.Logger for a specific channel
func (cl *ChanneledLogger) createChannelLogger(channel Channel) (*slog.Logger, error) {
	level := cl.config.DefaultLevel
	if channelLevel, exists := cl.config.ChannelLevels[channel]; exists {
		level = channelLevel
	}

	var writers []io.Writer
	switch {
	case cl.config.Writer != nil:
		writers = append(writers, cl.config.Writer)
	case cl.config.OutputToConsole:
		writers = append(writers, os.Stdout)
	}

	if cl.config.OutputToFile {
		path := filepath.Join(cl.config.LogDirectory, fmt.Sprintf("%s.log", string(channel)))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		cl.files = append(cl.files, file)
		writers = append(writers, file)
	}
	if cl.config.Broadcaster != nil {
		if len(writers) == 0 {
			writers = append(writers, os.Stdout)
		}
		writers = append(writers, NewSSEWriter(cl.config.Broadcaster, channel))
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cl.config.IncludeSource,
	}

	var handler slog.Handler
	if cl.config.JSONFormat {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	} else {
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	return slog.New(handler).With(slog.String("channel", string(channel))), nil
}

func (cl *ChanneledLogger) get(channel Channel) *slog.Logger {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	if logger, ok := cl.channels[channel]; ok {
		return logger
	}
	return cl.channels[ChannelSystem]
}

func (cl *ChanneledLogger) System() *slog.Logger     { return cl.get(ChannelSystem) }
func (cl *ChanneledLogger) Startup() *slog.Logger    { return cl.get(ChannelStartup) }
func (cl *ChanneledLogger) Shutdown() *slog.Logger   { return cl.get(ChannelShutdown) }
func (cl *ChanneledLogger) Ingest() *slog.Logger     { return cl.get(ChannelIngest) }
func (cl *ChanneledLogger) Classifier() *slog.Logger { return cl.get(ChannelClassifier) }
func (cl *ChanneledLogger) Router() *slog.Logger     { return cl.get(ChannelRouter) }
func (cl *ChanneledLogger) Webhook() *slog.Logger    { return cl.get(ChannelWebhook) }
func (cl *ChanneledLogger) Push() *slog.Logger       { return cl.get(ChannelPush) }
func (cl *ChanneledLogger) Learner() *slog.Logger    { return cl.get(ChannelLearner) }
func (cl *ChanneledLogger) Tenant() *slog.Logger     { return cl.get(ChannelTenant) }
func (cl *ChanneledLogger) Database() *slog.Logger   { return cl.get(ChannelDatabase) }
func (cl *ChanneledLogger) Alert() *slog.Logger      { return cl.get(ChannelAlert) }
func (cl *ChanneledLogger) Debug() *slog.Logger      { return cl.get(ChannelDebug) }

// GetChannel returns a logger for a specific channel
func (cl *ChanneledLogger) GetChannel(channel Channel) *slog.Logger {
	return cl.get(channel)
}

// WithTenant returns a logger with tenant context
func (cl *ChanneledLogger) WithTenant(channel Channel, tenantID string) *slog.Logger {
	return cl.get(channel).With(slog.String("tenantId", tenantID))
}

// WithSession returns a logger with tenant and masked session context
func (cl *ChanneledLogger) WithSession(channel Channel, tenantID, sessionID string) *slog.Logger {
	return cl.get(channel).With(
		slog.String("tenantId", tenantID),
		slog.String("sessionId", MaskSessionID(sessionID)),
	)
}

// LogRecovered logs a recovered panic from a background goroutine.
func (cl *ChanneledLogger) LogRecovered(channel Channel, operation string, recovered any) {
	cl.get(channel).Error("Panic recovered",
		slog.String("operation", operation),
		slog.Any("panic", recovered),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	)
}

// MaskSessionID partially masks session IDs for privacy
func MaskSessionID(sessionID string) string {
	if len(sessionID) <= 8 {
		return "********"
	}
	return sessionID[:4] + "****" + sessionID[len(sessionID)-4:]
}

// SetChannelLevel dynamically sets the log level for a specific channel
func (cl *ChanneledLogger) SetChannelLevel(channel Channel, level slog.Level) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.channels[channel]; !exists {
		return fmt.Errorf("channel %s does not exist", channel)
	}
	cl.config.ChannelLevels[channel] = level

	newLogger, err := cl.createChannelLogger(channel)
	if err != nil {
		return fmt.Errorf("failed to recreate logger for channel %s: %w", channel, err)
	}
	cl.channels[channel] = newLogger
	return nil
}

// GetChannelLevels returns the current log levels for all channels.
func (cl *ChanneledLogger) GetChannelLevels() map[string]string {
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	levels := make(map[string]string, len(cl.channels))
	for channel := range cl.channels {
		if level, ok := cl.config.ChannelLevels[channel]; ok {
			levels[string(channel)] = level.String()
		} else {
			levels[string(channel)] = cl.config.DefaultLevel.String()
		}
	}
	return levels
}

// Close closes any log files opened by the logger.
func (cl *ChanneledLogger) Close() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	var firstErr error
	for _, f := range cl.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	cl.files = nil
	return firstErr
}
