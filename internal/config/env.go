package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment represents the application environment
type Environment string

const (
	// Development environment - localhost, debug enabled
	Development Environment = "development"
	// Production environment - real domain, production settings
	Production Environment = "production"
)

// EnvConfig holds environment-specific configuration loaded from process
// environment variables (and an optional .env file via godotenv).
type EnvConfig struct {
	// Environment name (development, production)
	Env Environment

	// Feature flags
	Debug bool

	// LogLevel controls the console logger's verbosity.
	LogLevel string

	// ContentLogEnabled turns on the structured per-connection content
	// logger (request/response bytes, OCSP denials).
	ContentLogEnabled bool

	// SNIPeekRetries / SNIPeekDelayMS tune the bounded ClientHello peek
	// retry loop (§4.3, §5). Overridable for tests that want a shorter
	// bound than the default 50x100ms.
	SNIPeekRetries int
	SNIPeekDelayMS int
}

// LoadEnv loads environment configuration from environment variables.
func LoadEnv() *EnvConfig {
	env := getEnvOrDefault("APP_ENV", "development")

	cfg := &EnvConfig{
		Env:      Environment(strings.ToLower(env)),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}

	switch cfg.Env {
	case Production:
		cfg.Debug = getEnvOrDefault("DEBUG", "false") == "true"
	default:
		cfg.Env = Development // Normalize unknown envs to development
		cfg.Debug = getEnvOrDefault("DEBUG", "true") == "true"
		if cfg.LogLevel == "info" {
			cfg.LogLevel = "debug" // Dev default
		}
	}

	cfg.ContentLogEnabled = getEnvOrDefault("CONTENT_LOG", "false") == "true"
	cfg.SNIPeekRetries = parseIntOrDefault(getEnvOrDefault("SNI_PEEK_RETRIES", "50"), 50)
	cfg.SNIPeekDelayMS = parseIntOrDefault(getEnvOrDefault("SNI_PEEK_DELAY_MS", "100"), 100)

	return cfg
}

// IsDevelopment returns true if running in development mode
func (e *EnvConfig) IsDevelopment() bool {
	return e.Env == Development
}

// IsProduction returns true if running in production mode
func (e *EnvConfig) IsProduction() bool {
	return e.Env == Production
}

// String returns the environment name
func (e Environment) String() string {
	return string(e)
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntOrDefault parses a string as int, returning default on error
func parseIntOrDefault(s string, defaultValue int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return n
}
