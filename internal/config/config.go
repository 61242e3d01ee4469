package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	ServerPort  string
	Environment string
	JWTExpiry   time.Duration

	// Ingress rate limiting (per-IP, distinct from tier quotas)
	RateLimitMaxRequests int
	RateLimitWindow      time.Duration

	// Bulk operation journal
	UndoWindow       time.Duration // how long an operation stays reversible
	JournalRetention time.Duration // physical purge horizon for journal rows
	SweepInterval    time.Duration

	// Query cache TTL tiers
	CacheTTLShort  time.Duration
	CacheTTLMedium time.Duration
	CacheTTLLong   time.Duration

	// Realtime reconnection policy (used by the Go client)
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
	BackoffMaxRetries int
	PollInterval      time.Duration
}

func Load() *Config {
	// Try to load .env file, but don't fail if it doesn't exist
	// (containers use environment variables directly)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		ServerPort:  getEnv("SERVER_PORT", ":8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		JWTExpiry:   getEnvAsDuration("JWT_EXPIRY", "24h"),

		RateLimitMaxRequests: getEnvAsInt("RATE_LIMIT_MAX_REQUESTS", 100),
		RateLimitWindow:      getEnvAsDuration("RATE_LIMIT_WINDOW", "1m"),

		UndoWindow:       getEnvAsDuration("UNDO_WINDOW", "30s"),
		JournalRetention: getEnvAsDuration("JOURNAL_RETENTION", "720h"), // 30 days
		SweepInterval:    getEnvAsDuration("SWEEP_INTERVAL", "1h"),

		CacheTTLShort:  getEnvAsDuration("CACHE_TTL_SHORT", "30s"),
		CacheTTLMedium: getEnvAsDuration("CACHE_TTL_MEDIUM", "2m"),
		CacheTTLLong:   getEnvAsDuration("CACHE_TTL_LONG", "10m"),

		BackoffBase:       getEnvAsDuration("BACKOFF_BASE", "250ms"),
		BackoffMultiplier: getEnvAsFloat("BACKOFF_MULTIPLIER", 2.0),
		BackoffMax:        getEnvAsDuration("BACKOFF_MAX", "5s"),
		BackoffMaxRetries: getEnvAsInt("BACKOFF_MAX_RETRIES", 30),
		PollInterval:      getEnvAsDuration("POLL_INTERVAL", "10s"),
	}

	return cfg
}

// getEnv retrieves environment variable with default value
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvAsInt retrieves environment variable as int with default value
func getEnvAsInt(key string, defaultVal int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		log.Printf("Invalid %s value, using default: %d", key, defaultVal)
		return defaultVal
	}
	return val
}

// getEnvAsFloat retrieves environment variable as float64 with default value
func getEnvAsFloat(key string, defaultVal float64) float64 {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		log.Printf("Invalid %s value, using default: %g", key, defaultVal)
		return defaultVal
	}
	return val
}

// getEnvAsDuration retrieves environment variable as duration with default value
func getEnvAsDuration(key string, defaultVal string) time.Duration {
	valStr := os.Getenv(key)
	if valStr == "" {
		valStr = defaultVal
	}
	duration, err := time.ParseDuration(valStr)
	if err != nil {
		log.Printf("Invalid %s value, using default: %s", key, defaultVal)
		duration, _ = time.ParseDuration(defaultVal)
	}
	return duration
}
