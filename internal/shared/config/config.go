package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all configuration for the engine
type Config struct {
	// Server configuration
	Port           string        `validate:"required,numeric"`
	GinMode        string        `validate:"oneof=debug release test"`
	APIVersion     string        `validate:"required"`
	APIPrefix      string        `validate:"required,startswith=/"`
	ReadTimeout    time.Duration `validate:"gt=0"`
	WriteTimeout   time.Duration `validate:"gt=0"`
	IdleTimeout    time.Duration `validate:"gt=0"`
	MaxHeaderBytes int           `validate:"gt=0"`

	// STORE_BACKEND picks the repositories: memory or postgres
	StoreBackend string `validate:"oneof=memory postgres"`

	Database DatabaseConfig
	Redis    RedisConfig

	Engine       EngineConfig
	Lock         LockConfig
	Kafka        KafkaConfig
	Notification NotificationConfig
	Audit        AuditConfig

	RateLimit RateLimitConfig

	LogLevel string `validate:"oneof=debug info warn error"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
	DSN      string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int `validate:"gte=0"`
	Addr     string

	// SETTINGS_CACHE_TTL
	SettingsCacheTTL time.Duration `validate:"gte=0"`
}

// EngineConfig holds the capacity and waitlist tunables
type EngineConfig struct {
	OfferTTL               time.Duration `validate:"gt=0"`
	WaitlistEnabledDefault bool
	SweepInterval          time.Duration `validate:"gt=0"`
	SweepBatchSize         int           `validate:"gt=0"`
	LedgerMaxRetries       int           `validate:"gt=0"`
	ExpiryPolicy           string        `validate:"oneof=keep requeue drop"`
	AdminPromotePolicy     string        `validate:"oneof=overbook require_seat"`
}

// LockConfig selects the per-session lock implementation
type LockConfig struct {
	Backend string        `validate:"oneof=local redis"`
	TTL     time.Duration `validate:"gt=0"`
	Wait    time.Duration `validate:"gt=0"`
}

// KafkaConfig holds the notification producer settings
type KafkaConfig struct {
	Enabled           bool
	Brokers           []string `validate:"required_if=Enabled true"`
	NotificationTopic string   `validate:"required"`
}

// NotificationConfig sizes the dispatcher
type NotificationConfig struct {
	Workers int `validate:"gt=0"`
	Buffer  int `validate:"gt=0"`
}

// AuditConfig controls the invariant auditor
type AuditConfig struct {
	Enabled  bool
	Schedule string `validate:"required_if=Enabled true"`
	Repair   bool
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled                 bool          `json:"enabled"`
	WindowDuration          time.Duration `json:"window_duration" validate:"gt=0"`
	DefaultRequests         int           `json:"default_requests" validate:"gt=0"`
	PublicRequests          int           `json:"public_requests" validate:"gt=0"`
	BookingRequests         int           `json:"booking_requests" validate:"gt=0"`
	BookingCriticalRequests int           `json:"booking_critical_requests" validate:"gt=0"`
	AdminRequests           int           `json:"admin_requests" validate:"gt=0"`
	HealthRequests          int           `json:"health_requests" validate:"gt=0"`
	WhitelistedIPs          []string      `json:"whitelisted_ips" validate:"dive,ip"`
}

// Load loads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		// Server configuration
		Port:           getEnv("PORT", "8080"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		APIVersion:     getEnv("API_VERSION", "v1"),
		APIPrefix:      getEnv("API_PREFIX", "/api"),
		ReadTimeout:    getDurationEnvSeconds("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:   getDurationEnvSeconds("WRITE_TIMEOUT", 10*time.Second),
		IdleTimeout:    getDurationEnvSeconds("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes: getIntEnv("MAX_HEADER_BYTES", 1<<20),

		StoreBackend: getEnv("STORE_BACKEND", "memory"),

		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			Name:     getEnv("DB_NAME", "clubsched"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},

		Redis: RedisConfig{
			Enabled:          getBoolEnv("REDIS_ENABLED", false),
			Host:             getEnv("REDIS_HOST", "localhost"),
			Port:             getEnv("REDIS_PORT", "6379"),
			Password:         getEnv("REDIS_PASSWORD", ""),
			DB:               getIntEnv("REDIS_DB", 0),
			SettingsCacheTTL: getDurationEnv("SETTINGS_CACHE_TTL", time.Minute),
		},

		Engine: EngineConfig{
			OfferTTL:               getDurationEnv("OFFER_TTL", 15*time.Minute),
			WaitlistEnabledDefault: getBoolEnv("WAITLIST_ENABLED_DEFAULT", true),
			SweepInterval:          getDurationEnv("SWEEP_INTERVAL", 15*time.Second),
			SweepBatchSize:         getIntEnv("SWEEP_BATCH_SIZE", 100),
			LedgerMaxRetries:       getIntEnv("LEDGER_MAX_RETRIES", 8),
			ExpiryPolicy:           strings.ToLower(getEnv("EXPIRY_POLICY", "keep")),
			AdminPromotePolicy:     strings.ToLower(getEnv("ADMIN_PROMOTE_POLICY", "overbook")),
		},

		Lock: LockConfig{
			Backend: strings.ToLower(getEnv("LOCK_BACKEND", "local")),
			TTL:     getDurationEnv("LOCK_TTL", 5*time.Second),
			Wait:    getDurationEnv("LOCK_WAIT", 2*time.Second),
		},

		Kafka: KafkaConfig{
			Enabled:           getBoolEnv("KAFKA_ENABLED", false),
			Brokers:           getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
			NotificationTopic: getEnv("KAFKA_NOTIFICATION_TOPIC", "clubsched.notifications"),
		},

		Notification: NotificationConfig{
			Workers: getIntEnv("NOTIFICATION_WORKERS", 4),
			Buffer:  getIntEnv("NOTIFICATION_BUFFER", 256),
		},

		Audit: AuditConfig{
			Enabled:  getBoolEnv("AUDIT_ENABLED", true),
			Schedule: getEnv("AUDIT_SCHEDULE", "@every 10m"),
			Repair:   getBoolEnv("AUDIT_REPAIR", false),
		},

		RateLimit: RateLimitConfig{
			Enabled:                 getBoolEnv("RATE_LIMIT_ENABLED", false),
			WindowDuration:          getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
			DefaultRequests:         getIntEnv("RATE_LIMIT_DEFAULT", 100),
			PublicRequests:          getIntEnv("RATE_LIMIT_PUBLIC", 200),
			BookingRequests:         getIntEnv("RATE_LIMIT_BOOKING", 30),
			BookingCriticalRequests: getIntEnv("RATE_LIMIT_BOOKING_CRITICAL", 10),
			AdminRequests:           getIntEnv("RATE_LIMIT_ADMIN", 60),
			HealthRequests:          getIntEnv("RATE_LIMIT_HEALTH", 600),
			WhitelistedIPs:          getStringSliceEnv("RATE_LIMIT_WHITELIST", nil),
		},

		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	cfg.Database.DSN = getEnv("DATABASE_URL", buildDatabaseDSN(cfg.Database))
	cfg.Redis.Addr = cfg.Redis.Host + ":" + cfg.Redis.Port

	return cfg
}

// Validate checks the loaded values against their struct tags and the
// cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Lock.Backend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("invalid configuration: LOCK_BACKEND=redis requires REDIS_ENABLED=true")
	}
	if c.RateLimit.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("invalid configuration: RATE_LIMIT_ENABLED=true requires REDIS_ENABLED=true")
	}
	return nil
}

// buildDatabaseDSN builds the database connection string
func buildDatabaseDSN(db DatabaseConfig) string {
	return "host=" + db.Host +
		" port=" + db.Port +
		" user=" + db.User +
		" password=" + db.Password +
		" dbname=" + db.Name +
		" sslmode=" + db.SSLMode
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getIntEnv gets an integer environment variable with a fallback value
func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return fallback
}

// getDurationEnv gets a duration environment variable with a fallback value
func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return fallback
}

// getDurationEnvSeconds gets an environment variable as seconds (int) and converts to time.Duration
func getDurationEnvSeconds(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

// getBoolEnv gets a boolean environment variable with a fallback value
func getBoolEnv(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return fallback
}

// getStringSliceEnv gets a comma-separated string environment variable as a slice
func getStringSliceEnv(key string, fallback []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		var result []string
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GinMode == "release"
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GinMode == "debug"
}

// GetServerAddress returns the full server address
func (c *Config) GetServerAddress() string {
	return ":" + c.Port
}

// GetAPIBasePath returns the API base path
func (c *Config) GetAPIBasePath() string {
	return c.APIPrefix + "/" + c.APIVersion
}
