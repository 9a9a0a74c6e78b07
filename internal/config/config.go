package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	Port                string

	// APITokens maps bearer tokens to the email of the user they authenticate.
	APITokens map[string]string

	SyncInterval time.Duration
	SyncWorkers  int
	IdleEnabled  bool

	IMAPFetchLimit int
	IMAPTimeout    time.Duration
	IMAPUseTLS     bool

	ProviderAPIURL            string
	ProviderSigningSecret     string
	ProviderRequestsPerSecond float64
	ProviderInitMaxAttempts   int
	ProviderInitBaseDelay     time.Duration
	ProviderSyncDaysWithin    int

	LogLevel string
	LogFile  string
}

func NewConfig() (*Config, error) {
	env := getEnvOrDefault("MAILSYNC_ENV", "development")

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:         env,
		EncryptionKeyBase64: os.Getenv("MAILSYNC_ENCRYPTION_KEY_BASE64"),
		DBHost:              getEnvOrDefault("MAILSYNC_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("MAILSYNC_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("MAILSYNC_DB_USER", "mailsync"),
		DBPassword:          os.Getenv("MAILSYNC_DB_PASSWORD"),
		DBName:              getEnvOrDefault("MAILSYNC_DB_NAME", "mailsync"),
		DBSSLMode:           getEnvOrDefault("MAILSYNC_DB_SSLMODE", "disable"),
		Port:                getEnvOrDefault("MAILSYNC_PORT", "8080"),

		APITokens: parseTokens(os.Getenv("MAILSYNC_API_TOKENS")),

		ProviderAPIURL:        getEnvOrDefault("MAILSYNC_PROVIDER_API_URL", "https://api.aurinko.io/v1"),
		ProviderSigningSecret: os.Getenv("MAILSYNC_PROVIDER_SIGNING_SECRET"),

		LogLevel: getEnvOrDefault("MAILSYNC_LOG_LEVEL", "info"),
		LogFile:  os.Getenv("MAILSYNC_LOG_FILE"),
	}

	var err error
	if config.SyncInterval, err = getDurationOrDefault("MAILSYNC_SYNC_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if config.SyncWorkers, err = getIntOrDefault("MAILSYNC_SYNC_WORKERS", 4); err != nil {
		return nil, err
	}
	if config.IdleEnabled, err = getBoolOrDefault("MAILSYNC_IDLE_ENABLED", false); err != nil {
		return nil, err
	}
	if config.IMAPFetchLimit, err = getIntOrDefault("MAILSYNC_IMAP_FETCH_LIMIT", 100); err != nil {
		return nil, err
	}
	if config.IMAPTimeout, err = getDurationOrDefault("MAILSYNC_IMAP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if config.IMAPUseTLS, err = getBoolOrDefault("MAILSYNC_IMAP_USE_TLS", true); err != nil {
		return nil, err
	}
	if config.ProviderRequestsPerSecond, err = getFloatOrDefault("MAILSYNC_PROVIDER_REQUESTS_PER_SECOND", 5); err != nil {
		return nil, err
	}
	if config.ProviderInitMaxAttempts, err = getIntOrDefault("MAILSYNC_PROVIDER_INIT_MAX_ATTEMPTS", 10); err != nil {
		return nil, err
	}
	if config.ProviderInitBaseDelay, err = getDurationOrDefault("MAILSYNC_PROVIDER_INIT_BASE_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if config.ProviderSyncDaysWithin, err = getIntOrDefault("MAILSYNC_PROVIDER_SYNC_DAYS_WITHIN", 2); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("MAILSYNC_ENCRYPTION_KEY_BASE64 is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("MAILSYNC_DB_PASSWORD is required")
	}

	if c.SyncWorkers < 1 {
		return fmt.Errorf("MAILSYNC_SYNC_WORKERS must be at least 1, got %d", c.SyncWorkers)
	}

	if c.SyncInterval <= 0 {
		return fmt.Errorf("MAILSYNC_SYNC_INTERVAL must be positive")
	}

	if c.IMAPFetchLimit < 1 {
		return fmt.Errorf("MAILSYNC_IMAP_FETCH_LIMIT must be at least 1, got %d", c.IMAPFetchLimit)
	}

	if c.ProviderInitMaxAttempts < 1 {
		return fmt.Errorf("MAILSYNC_PROVIDER_INIT_MAX_ATTEMPTS must be at least 1, got %d", c.ProviderInitMaxAttempts)
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getFloatOrDefault(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getBoolOrDefault(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

// parseTokens reads "token=email" pairs separated by commas.
func parseTokens(raw string) map[string]string {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		token, email, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || token == "" || email == "" {
			continue
		}
		tokens[token] = email
	}
	return tokens
}
