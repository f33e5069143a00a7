// Package config provides configuration for the chat relay server.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	HTTPPort int
	Env      string

	// Database. A postgres:// URL selects the Postgres store; anything
	// else is treated as a SQLite DSN.
	DatabaseURL string

	// Attachment storage
	DataDir string

	// Provider settings
	OpenAIAPIKey    string
	OpenAIAPIHost   string
	AnthropicAPIKey string
	MaxTokens       int
	LLMTimeout      time.Duration

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables. A .env file is
// loaded first if present, for development.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPPort:        getEnvInt("HTTP_PORT", 8080),
		Env:             getEnv("ENV", "development"),
		DatabaseURL:     getEnv("DATABASE_URL", "file:casperai.db?cache=shared&mode=rwc"),
		DataDir:         getEnv("DATA_DIR", "data"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIAPIHost:   getEnv("OPENAI_API_HOST", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		MaxTokens:       getEnvInt("LLM_MAX_TOKENS", 4096),
		LLMTimeout:      getEnvDuration("LLM_TIMEOUT_MS", 120000),
		PingInterval:    getEnvDuration("WS_PING_INTERVAL_MS", 30000),
		WriteTimeout:    getEnvDuration("WS_WRITE_TIMEOUT_MS", 10000),
		ReadTimeout:     getEnvDuration("WS_READ_TIMEOUT_MS", 60000),
		MaxMessageSize:  int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMs)) * time.Millisecond
}
