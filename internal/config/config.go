// Package config provides environment configuration for the triage service.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Database settings
	DatabaseURL string

	// NATS settings
	NATSURL   string
	NATSToken string

	// JWT settings
	JWTSecret string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	ClassifyModel   string
	GenerateModel   string

	// Pipeline timeouts; each external call fails independently.
	ClassifyTimeout time.Duration
	RetrieveTimeout time.Duration
	GenerateTimeout time.Duration

	// Intent registry
	IntentRefreshInterval time.Duration

	// Instruction/prompt cache
	InstructionCacheTTL time.Duration
	InstructionsFile    string

	// Retrieval tuning
	RetrievalLimit    int
	RetrievalMinScore float64

	// Draft generation
	HistoryLimit     int
	HistoryMaxChars  int
	StaleThreadAfter time.Duration

	// Order lookup collaborator
	CommerceAPIURL   string
	CommerceAPIToken string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables. A local .env file is
// honored when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),

		// NATS
		NATSURL:   getEnv("NATS_URL", "nats://localhost:4222"),
		NATSToken: getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),
		ClassifyModel:   getEnv("CLASSIFY_MODEL", ""),
		GenerateModel:   getEnv("GENERATE_MODEL", ""),

		// Pipeline timeouts
		ClassifyTimeout: getDurationEnv("CLASSIFY_TIMEOUT", 20*time.Second),
		RetrieveTimeout: getDurationEnv("RETRIEVE_TIMEOUT", 10*time.Second),
		GenerateTimeout: getDurationEnv("GENERATE_TIMEOUT", 60*time.Second),

		// Intent registry
		IntentRefreshInterval: getDurationEnv("INTENT_REFRESH_INTERVAL", 5*time.Minute),

		// Instruction cache
		InstructionCacheTTL: getDurationEnv("INSTRUCTION_CACHE_TTL", 10*time.Minute),
		InstructionsFile:    getEnv("INSTRUCTIONS_FILE", ""),

		// Retrieval
		RetrievalLimit:    getIntEnv("RETRIEVAL_LIMIT", 5),
		RetrievalMinScore: getFloatEnv("RETRIEVAL_MIN_SCORE", 0.3),

		// Draft generation
		HistoryLimit:     getIntEnv("HISTORY_LIMIT", 10),
		HistoryMaxChars:  getIntEnv("HISTORY_MAX_CHARS", 2000),
		StaleThreadAfter: getDurationEnv("STALE_THREAD_AFTER", 72*time.Hour),

		// Order lookup
		CommerceAPIURL:   getEnv("COMMERCE_API_URL", ""),
		CommerceAPIToken: getEnv("COMMERCE_API_TOKEN", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
