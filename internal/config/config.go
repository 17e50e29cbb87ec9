package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port               string
	LogLevel           string
	RateLimitPerMinute int
	TrustedProxies     []string

	// Database
	DataBackend  string
	SQLiteDBPath string
	DatabaseURL  string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Redis lock for worker replicas, optional
	RedisURL string

	// MTN MoMo collection API
	MomoBaseURL           string
	MomoSubscriptionKey   string
	MomoAPIUser           string
	MomoAPIKey            string
	MomoTargetEnvironment string
	GatewayTimeout        time.Duration

	// Reconcile worker
	ReconcileInterval    time.Duration
	ReconcileBatchSize   int
	ReconcileMaxAttempts int
	ReconcileBackoffBase time.Duration
	ReconcileBackoffMax  time.Duration
	ReconcileMinAge      time.Duration

	// SMS function, optional
	SMSFunctionURL   string
	SMSFunctionToken string

	// Google Sheets mirror, optional
	GoogleSpreadsheetID string
	GoogleSheetName     string

	DefaultPhoneRegion string
	SummaryCacheSize   int
	SummaryCacheTTL    time.Duration
}

var validBackends = []string{"memory", "sqlite", "postgres"}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		TrustedProxies:     getEnvList("TRUSTED_PROXIES"),

		DataBackend:  getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/akiba.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "akiba"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "akiba_events"),

		RedisURL: getEnv("REDIS_URL", ""),

		MomoBaseURL:           getEnv("MOMO_BASE_URL", "https://sandbox.momodeveloper.mtn.com"),
		MomoSubscriptionKey:   getEnv("MOMO_SUBSCRIPTION_KEY", ""),
		MomoAPIUser:           getEnv("MOMO_API_USER", ""),
		MomoAPIKey:            getEnv("MOMO_API_KEY", ""),
		MomoTargetEnvironment: getEnv("MOMO_TARGET_ENVIRONMENT", "sandbox"),
		GatewayTimeout:        getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),

		ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", 15*time.Second),
		ReconcileBatchSize:   getEnvInt("RECONCILE_BATCH_SIZE", 20),
		ReconcileMaxAttempts: getEnvInt("RECONCILE_MAX_ATTEMPTS", 5),
		ReconcileBackoffBase: getEnvDuration("RECONCILE_BACKOFF_BASE", time.Second),
		ReconcileBackoffMax:  getEnvDuration("RECONCILE_BACKOFF_MAX", 30*time.Second),
		ReconcileMinAge:      getEnvDuration("RECONCILE_MIN_AGE", 30*time.Second),

		SMSFunctionURL:   getEnv("SMS_FUNCTION_URL", ""),
		SMSFunctionToken: getEnv("SMS_FUNCTION_TOKEN", ""),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", "Savings"),

		DefaultPhoneRegion: strings.ToUpper(getEnv("DEFAULT_PHONE_REGION", "UG")),
		SummaryCacheSize:   getEnvInt("SUMMARY_CACHE_SIZE", 1000),
		SummaryCacheTTL:    getEnvDuration("SUMMARY_CACHE_TTL", 5*time.Minute),
	}

	return cfg
}

// Validate validates the configuration and returns an error listing every problem
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitPerMinute))
	}

	errors = append(errors, c.validateBackend()...)
	errors = append(errors, c.validateBroker()...)
	errors = append(errors, c.validateGateway()...)
	errors = append(errors, c.validateWorker()...)

	if c.SMSFunctionURL != "" {
		if err := checkURL(c.SMSFunctionURL, "http", "https"); err != nil {
			errors = append(errors, fmt.Sprintf("invalid SMS function URL: %v", err))
		}
	}
	if c.GoogleSpreadsheetID != "" && strings.TrimSpace(c.GoogleSheetName) == "" {
		errors = append(errors, "Google sheet name cannot be empty when a spreadsheet ID is set")
	}

	if len(c.DefaultPhoneRegion) != 2 {
		errors = append(errors, fmt.Sprintf("invalid default phone region '%s': must be a 2-letter country code", c.DefaultPhoneRegion))
	}
	if c.SummaryCacheSize < 0 {
		errors = append(errors, fmt.Sprintf("invalid summary cache size %d: must not be negative", c.SummaryCacheSize))
	}
	if c.SummaryCacheSize > 0 && c.SummaryCacheTTL <= 0 {
		errors = append(errors, "summary cache TTL must be positive when the cache is enabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func (c *Config) validateBackend() []string {
	var errors []string

	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
			break
		}
		// Check if directory exists or can be created
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		} else if err := checkURL(c.DatabaseURL, "postgres", "postgresql"); err != nil {
			errors = append(errors, fmt.Sprintf("invalid DATABASE_URL: %v", err))
		}
	}
	return errors
}

func (c *Config) validateBroker() []string {
	var errors []string
	if c.AMQPURL != "" {
		if err := checkURL(c.AMQPURL, "amqp", "amqps"); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL: %v", err))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}
	if c.RedisURL != "" {
		if err := checkURL(c.RedisURL, "redis", "rediss"); err != nil {
			errors = append(errors, fmt.Sprintf("invalid Redis URL: %v", err))
		}
	}
	return errors
}

func (c *Config) validateGateway() []string {
	var errors []string
	if err := checkURL(c.MomoBaseURL, "http", "https"); err != nil {
		errors = append(errors, fmt.Sprintf("invalid MoMo base URL: %v", err))
	}
	if c.MomoSubscriptionKey == "" {
		errors = append(errors, "MOMO_SUBSCRIPTION_KEY is required")
	}
	if c.MomoAPIUser == "" || c.MomoAPIKey == "" {
		errors = append(errors, "MOMO_API_USER and MOMO_API_KEY are required")
	}
	if c.GatewayTimeout < 100*time.Millisecond || c.GatewayTimeout > 2*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid gateway timeout %v: must be between 100ms and 2m", c.GatewayTimeout))
	}
	return errors
}

func (c *Config) validateWorker() []string {
	var errors []string
	if c.ReconcileBatchSize < 1 || c.ReconcileBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid reconcile batch size %d: must be between 1 and 1000", c.ReconcileBatchSize))
	}
	if c.ReconcileInterval < time.Second || c.ReconcileInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid reconcile interval %v: must be between 1 second and 24 hours", c.ReconcileInterval))
	}
	if c.ReconcileMaxAttempts < 1 || c.ReconcileMaxAttempts > 20 {
		errors = append(errors, fmt.Sprintf("invalid reconcile max attempts %d: must be between 1 and 20", c.ReconcileMaxAttempts))
	}
	if c.ReconcileBackoffBase <= 0 {
		errors = append(errors, fmt.Sprintf("invalid reconcile backoff base %v: must be positive", c.ReconcileBackoffBase))
	}
	if c.ReconcileBackoffMax < c.ReconcileBackoffBase {
		errors = append(errors, fmt.Sprintf("invalid reconcile backoff max %v: must be at least the base %v", c.ReconcileBackoffMax, c.ReconcileBackoffBase))
	}
	if c.ReconcileMinAge < 0 {
		errors = append(errors, fmt.Sprintf("invalid reconcile min age %v: must not be negative", c.ReconcileMinAge))
	}
	return errors
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("missing host in '%s'", redact(u))
			}
			return nil
		}
	}
	return fmt.Errorf("scheme '%s' must be one of %v", u.Scheme, schemes)
}

// redact keeps credentials out of validation messages.
func redact(u *url.URL) string {
	if u.User == nil {
		return u.String()
	}
	c := *u
	c.User = url.User("REDACTED")
	return c.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
