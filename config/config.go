package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/vibast-solutions/ms-go-apiaccess/app/entity"
)

type Config struct {
	HTTPHost    string
	HTTPPort    string
	MySQLDSN    string
	LogLevel    string
	LogFormat   string
	KeyPrefix   string
	DefaultMode string

	// Hosts that test-mode keys may call from without a matching domain
	// rule. Supports the same pattern syntax as domain rules.
	LocalhostDomains []string

	Logging LoggingConfig
}

// LoggingConfig controls what the audit trail records. Disabled categories
// are omitted from log entries entirely, not stored empty.
type LoggingConfig struct {
	Enabled          bool
	LogHeaders       bool
	LogRequestBody   bool
	LogResponses     bool
	LogResponseBody  bool
	LogQueryParams   bool
	LogExecutionTime bool
	LogUserAgent     bool
	LogIP            bool
	MaxBodySize      int
	RetentionDays    int
	CleanupEnabled   bool
	CleanupSchedule  string
	SensitiveHeaders []string
	SensitiveFields  []string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignores error if not found)
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	defaultMode := getEnv("DEFAULT_KEY_MODE", entity.ModeTest)
	if defaultMode != entity.ModeLive && defaultMode != entity.ModeTest {
		return nil, errors.New("DEFAULT_KEY_MODE must be either live or test")
	}

	return &Config{
		HTTPHost:    getEnv("HTTP_HOST", ""),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MySQLDSN:    mysqlDSN,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		KeyPrefix:   getEnv("KEY_PREFIX", "ak_"),
		DefaultMode: defaultMode,
		LocalhostDomains: getListEnv("LOCALHOST_DOMAINS", []string{
			"localhost",
			"127.0.0.1",
			"::1",
			"0.0.0.0",
			"*.test",
			"*.local",
			"*.dev",
		}),
		Logging: loadLoggingConfig(),
	}, nil
}

func (c *Config) DSN() string {
	return c.MySQLDSN
}

func loadLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Enabled:          getBoolEnv("API_LOG_ENABLED", true),
		LogHeaders:       getBoolEnv("API_LOG_HEADERS", true),
		LogRequestBody:   getBoolEnv("API_LOG_REQUEST_BODY", true),
		LogResponses:     getBoolEnv("API_LOG_RESPONSES", true),
		LogResponseBody:  getBoolEnv("API_LOG_RESPONSE_BODY", true),
		LogQueryParams:   getBoolEnv("API_LOG_QUERY_PARAMETERS", true),
		LogExecutionTime: getBoolEnv("API_LOG_EXECUTION_TIME", true),
		LogUserAgent:     getBoolEnv("API_LOG_USER_AGENT", true),
		LogIP:            getBoolEnv("API_LOG_IP_ADDRESS", true),
		MaxBodySize:      getIntEnv("API_LOG_MAX_BODY_SIZE", 10240),
		RetentionDays:    getIntEnv("API_LOG_RETENTION_DAYS", 90),
		CleanupEnabled:   getBoolEnv("API_LOG_CLEANUP_ENABLED", true),
		CleanupSchedule:  getEnv("API_LOG_CLEANUP_SCHEDULE", "0 3 * * *"),
		SensitiveHeaders: getListEnv("API_LOG_SENSITIVE_HEADERS", []string{
			"authorization",
			"x-api-key",
			"x-api-secret",
			"cookie",
			"set-cookie",
		}),
		SensitiveFields: getListEnv("API_LOG_SENSITIVE_FIELDS", []string{
			"password",
			"secret",
			"token",
			"api_key",
			"api_secret",
		}),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	list := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			list = append(list, part)
		}
	}
	if len(list) == 0 {
		return defaultValue
	}
	return list
}
