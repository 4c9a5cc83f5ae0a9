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
	Port string

	// Database
	SQLiteDBPath string

	// Backend selection
	DataBackend string

	// REST ledger
	LedgerBaseURL string
	LedgerTimeout time.Duration

	// Firestore
	FirestoreProjectID       string
	FirestoreUserID          string
	FirestoreCredentialsJSON string
	FirestoreCredentialsFile string

	// Memory backend delivers changes through its live feed
	MemoryLive bool

	// Alerts
	RiskServiceURL      string
	AMQPURL             string
	AMQPExchange        string
	AMQPAlertRoutingKey string
	AlertUserID         string

	// Sync
	SyncInterval      time.Duration
	SyncWorkers       int
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	SeedDefaults      bool

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		Port:         getEnv("PORT", "8081"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/finsync.db"),
		DataBackend:  getEnv("DATA_BACKEND", "memory"),

		LedgerBaseURL: getEnv("LEDGER_BASE_URL", ""),
		LedgerTimeout: getEnvDuration("LEDGER_TIMEOUT", 15*time.Second),

		FirestoreProjectID:       getEnv("FIRESTORE_PROJECT_ID", ""),
		FirestoreUserID:          getEnv("FIRESTORE_USER_ID", ""),
		FirestoreCredentialsJSON: getEnv("FIRESTORE_CREDENTIALS_JSON", ""),
		FirestoreCredentialsFile: getEnv("FIRESTORE_CREDENTIALS_FILE", ""),

		MemoryLive: getEnvBool("MEMORY_LIVE", false),

		RiskServiceURL:      getEnv("RISK_SERVICE_URL", ""),
		AMQPURL:             getEnv("AMQP_URL", ""),
		AMQPExchange:        getEnv("AMQP_EXCHANGE", "finsync"),
		AMQPAlertRoutingKey: getEnv("AMQP_ALERT_ROUTING_KEY", "budget_alerts"),
		AlertUserID:         getEnv("ALERT_USER_ID", ""),

		SyncInterval:      getEnvDuration("SYNC_INTERVAL", time.Minute),
		SyncWorkers:       getEnvInt("SYNC_WORKERS", 4),
		RetryMaxAttempts:  getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialDelay: getEnvDuration("RETRY_INITIAL_DELAY", 500*time.Millisecond),
		SeedDefaults:      getEnvBool("SEED_DEFAULTS", true),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate data backend
	validBackends := []string{"rest", "firestore", "memory"}
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

	// The local store is always SQLite
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.DataBackend == "rest" {
		if c.LedgerBaseURL == "" {
			errors = append(errors, "LEDGER_BASE_URL is required when using rest backend")
		} else if msg := checkHTTPURL("ledger", c.LedgerBaseURL); msg != "" {
			errors = append(errors, msg)
		}
		if c.LedgerTimeout <= 0 {
			errors = append(errors, fmt.Sprintf("invalid ledger timeout %v: must be positive", c.LedgerTimeout))
		}
	}

	if c.DataBackend == "firestore" {
		if c.FirestoreProjectID == "" {
			errors = append(errors, "FIRESTORE_PROJECT_ID is required when using firestore backend")
		}
		if c.FirestoreUserID == "" {
			errors = append(errors, "FIRESTORE_USER_ID is required when using firestore backend")
		}
		if c.FirestoreCredentialsFile != "" {
			if _, err := os.Stat(c.FirestoreCredentialsFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Firestore credentials file does not exist: %s", c.FirestoreCredentialsFile))
			}
		}
	}

	if c.RiskServiceURL != "" {
		if msg := checkHTTPURL("risk service", c.RiskServiceURL); msg != "" {
			errors = append(errors, msg)
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPAlertRoutingKey == "" {
			errors = append(errors, "AMQP alert routing key cannot be empty when AMQP URL is provided")
		}
	}

	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}

	if c.SyncWorkers < 1 || c.SyncWorkers > 64 {
		errors = append(errors, fmt.Sprintf("invalid sync workers %d: must be between 1 and 64", c.SyncWorkers))
	}

	if c.RetryMaxAttempts < 1 || c.RetryMaxAttempts > 10 {
		errors = append(errors, fmt.Sprintf("invalid retry max attempts %d: must be between 1 and 10", c.RetryMaxAttempts))
	}
	if c.RetryInitialDelay <= 0 || c.RetryInitialDelay > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid retry initial delay %v: must be positive and at most 1 minute", c.RetryInitialDelay))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// AlertsEnabled reports whether any alert sink is configured.
func (c *Config) AlertsEnabled() bool {
	return c.RiskServiceURL != "" || c.AMQPURL != ""
}

func checkHTTPURL(name, raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid %s URL '%s': %v", name, raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Sprintf("invalid %s URL scheme '%s': must be 'http' or 'https'", name, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Sprintf("invalid %s URL '%s': missing host", name, raw)
	}
	return ""
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
