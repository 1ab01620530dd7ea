package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Database configuration
	DatabasePath string

	// Logging configuration
	LogLevel string

	// Metrics configuration
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int

	// Fix decoder configuration
	DecoderBatchSize    int
	DecoderPollInterval time.Duration

	// Live cache worker configuration
	CachePollInterval time.Duration

	// GPX output configuration
	GPXCreator string
}

// Load reads configuration from environment variables. Every value has a
// working default so the server runs with no environment at all.
func Load() (*Config, error) {
	cfg := &Config{
		Host:         getEnv("HOST", "localhost"),
		Port:         getEnvInt("PORT", 4180),
		DatabasePath: getEnv("DATABASE_PATH", "./enduro.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", false),
		MetricsHost:    getEnv("METRICS_HOST", "localhost"),
		MetricsPort:    getEnvInt("METRICS_PORT", 4181),

		DecoderBatchSize:    getEnvInt("DECODER_BATCH_SIZE", 200),
		DecoderPollInterval: time.Duration(getEnvInt("DECODER_POLL_INTERVAL_MS", 1000)) * time.Millisecond,

		CachePollInterval: time.Duration(getEnvInt("CACHE_POLL_INTERVAL_MS", 5000)) * time.Millisecond,

		GPXCreator: getEnv("GPX_CREATOR", "enduro-tracker"),
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
