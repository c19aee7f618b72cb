// Package config provides centralized default values for the intervention core.
// Every value can be overridden by an environment variable of the same name,
// by a .env file in the working directory, or by a bound CLI flag.
package config

import (
	"log"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	v        = viper.New()
	envOnce  sync.Once
	loadLock sync.Mutex
)

// Viper exposes the backing instance so the CLI can bind flags into it.
func Viper() *viper.Viper { return v }

func loadEnvFile() {
	envOnce.Do(func() {
		v.AutomaticEnv()
		v.SetConfigFile(".env")
		v.SetConfigType("dotenv")
		if err := v.ReadInConfig(); err == nil {
			log.Println("Loaded configuration overrides from .env file")
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if v.IsSet(key) {
		val := v.GetInt(key)
		if val != defaultValue {
			log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
		}
		return val
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v.IsSet(key) {
		val := v.GetFloat64(key)
		if val != defaultValue {
			log.Printf("Config override: %s=%g (default: %g)", key, val, defaultValue)
		}
		return val
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if v.IsSet(key) {
		if val := v.GetString(key); val != "" {
			return val
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v.IsSet(key) {
		return v.GetBool(key)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v.IsSet(key) {
		val := v.GetDuration(key)
		if val > 0 {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

var (
	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	AllowedOrigins     []string

	// Database
	DatabaseDriver           string
	SQLitePath               string
	TursoDatabaseURL         string
	TursoAuthToken           string
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeMinutes int
	SlowQueryThreshold       time.Duration

	// Tenant policy
	PolicySource    string
	PolicyFile      string
	PolicyCacheTTL  time.Duration
	PolicyCacheSize int

	// Ingest
	MaxBatchSize        int
	IngestRatePerSecond float64
	IngestBurst         int

	// Classifier
	ClassifierTickInterval time.Duration
	SessionIdleTimeout     time.Duration

	// Pipeline
	PipelineWorkers   int
	PipelineQueueSize int

	// Webhook delivery
	WebhookTimeout        time.Duration
	WebhookMaxRetries     int
	WebhookBackoffBase    float64
	WebhookBackoffCeiling time.Duration
	WebhookJitterRatio    float64

	// Push channel
	PushPingInterval      time.Duration
	PushSendBuffer        int
	PushReconnectAttempts int
	PushBackoffCeiling    time.Duration

	// Learner & cleanup
	LearnerSweepInterval time.Duration
	CleanupInterval      time.Duration
	CleanupVerbose       bool
	DeliveryRetention    time.Duration

	// Secrets
	SecretEncryptionKey string
	AdminToken          string

	// Alerts
	ResendAPIKey   string
	AlertFromEmail string
	AlertFromName  string

	// Logging
	LogLevel     string
	LogJSON      bool
	LogToFile    bool
	LogDirectory string
)

func init() {
	Load()
}

// Load (re)reads every setting. The CLI calls it again after binding flags.
func Load() {
	loadLock.Lock()
	defer loadLock.Unlock()
	loadEnvFile()

	// Server Configuration
	Port = getEnvString("PORT", "8080")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)
	AllowedOrigins = v.GetStringSlice("ALLOWED_ORIGINS")
	if len(AllowedOrigins) == 0 {
		AllowedOrigins = []string{"http://localhost:3000", "http://localhost:4321", "http://127.0.0.1:3000", "http://127.0.0.1:4321"}
	}

	// Database
	DatabaseDriver = getEnvString("DATABASE_DRIVER", "sqlite3")
	SQLitePath = getEnvString("SQLITE_PATH", "db/intervene.db")
	TursoDatabaseURL = getEnvString("TURSO_DATABASE_URL", "")
	TursoAuthToken = getEnvString("TURSO_AUTH_TOKEN", "")
	DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 3)
	DBConnMaxLifetimeMinutes = getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	SlowQueryThreshold = getEnvDuration("SLOW_QUERY_THRESHOLD", 500*time.Millisecond)

	// Tenant policy
	PolicySource = getEnvString("POLICY_SOURCE", "database")
	PolicyFile = getEnvString("POLICY_FILE", "config/tenants.yaml")
	PolicyCacheTTL = getEnvDuration("POLICY_CACHE_TTL", time.Minute)
	PolicyCacheSize = getEnvInt("POLICY_CACHE_SIZE", 1024)

	// Ingest
	MaxBatchSize = getEnvInt("MAX_BATCH_SIZE", 500)
	IngestRatePerSecond = getEnvFloat("INGEST_RATE_PER_SECOND", 20)
	IngestBurst = getEnvInt("INGEST_BURST", 40)

	// Classifier
	ClassifierTickInterval = getEnvDuration("CLASSIFIER_TICK_INTERVAL", time.Second)
	SessionIdleTimeout = getEnvDuration("SESSION_IDLE_TIMEOUT", 45*time.Minute)

	// Pipeline
	PipelineWorkers = getEnvInt("PIPELINE_WORKERS", 4)
	PipelineQueueSize = getEnvInt("PIPELINE_QUEUE_SIZE", 1024)

	// Webhook delivery
	WebhookTimeout = getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second)
	WebhookMaxRetries = getEnvInt("WEBHOOK_MAX_RETRIES", 5)
	WebhookBackoffBase = getEnvFloat("WEBHOOK_BACKOFF_BASE", 2)
	WebhookBackoffCeiling = getEnvDuration("WEBHOOK_BACKOFF_CEILING", 60*time.Second)
	WebhookJitterRatio = getEnvFloat("WEBHOOK_JITTER_RATIO", 0.3)

	// Push channel
	PushPingInterval = getEnvDuration("PUSH_PING_INTERVAL", 30*time.Second)
	PushSendBuffer = getEnvInt("PUSH_SEND_BUFFER", 16)
	PushReconnectAttempts = getEnvInt("PUSH_RECONNECT_ATTEMPTS", 5)
	PushBackoffCeiling = getEnvDuration("PUSH_BACKOFF_CEILING", 30*time.Second)

	// Learner & cleanup
	LearnerSweepInterval = getEnvDuration("LEARNER_SWEEP_INTERVAL", time.Hour)
	CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 5*time.Minute)
	CleanupVerbose = getEnvBool("CLEANUP_VERBOSE", false)
	DeliveryRetention = getEnvDuration("DELIVERY_RETENTION", 30*24*time.Hour)

	// Secrets
	SecretEncryptionKey = getEnvString("SECRET_ENCRYPTION_KEY", "")
	AdminToken = getEnvString("ADMIN_TOKEN", "")

	// Alerts
	ResendAPIKey = getEnvString("RESEND_API_KEY", "")
	AlertFromEmail = getEnvString("ALERT_EMAIL_FROM", "alerts@intervene.local")
	AlertFromName = getEnvString("ALERT_EMAIL_FROM_NAME", "Intervene")

	// Logging
	LogLevel = getEnvString("LOG_LEVEL", "INFO")
	LogJSON = getEnvBool("LOG_JSON", true)
	LogToFile = getEnvBool("LOG_TO_FILE", false)
	LogDirectory = getEnvString("LOG_DIRECTORY", "logs")
}
