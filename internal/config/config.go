package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Environment string
	ServiceName string
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	// Redis configuration (read-cache invalidation)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	// OpenTelemetry
	OTLPEndpoint string
	// Reservation / reaper
	ReservationTTLSeconds int
	ReaperIntervalSeconds int
	ReaperBatchSize       int
	// Offline action queue
	OfflineQueuePath     string
	OfflineReplayBaseURL string
	OfflineMaxAttempts   int
	OfflineBackoffMs     int
	OfflineTimeoutMs     int
	OfflineRetention     int
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		ServiceName: getEnv("SERVICE_NAME", "inventory-core"),

		DBHost:     getEnv("DATABASE_HOST", "localhost"),
		DBPort:     getEnv("DATABASE_PORT", "5432"),
		DBUser:     getEnv("DATABASE_USER", "postgres"),
		DBPassword: getEnv("DATABASE_PASSWORD", "postgres"),
		DBName:     getEnv("DATABASE_NAME", "inventory_core"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),

		ReservationTTLSeconds: getEnvAsInt("RESERVATION_TTL_SECONDS", 900),
		ReaperIntervalSeconds: getEnvAsInt("REAPER_INTERVAL_SECONDS", 60),
		ReaperBatchSize:       getEnvAsInt("REAPER_BATCH_SIZE", 100),

		OfflineQueuePath:     getEnv("OFFLINE_QUEUE_PATH", "offline_queue.db"),
		OfflineReplayBaseURL: getEnv("OFFLINE_REPLAY_BASE_URL", "http://localhost:8080"),
		OfflineMaxAttempts:   getEnvAsInt("OFFLINE_MAX_ATTEMPTS", 5),
		OfflineBackoffMs:     getEnvAsInt("OFFLINE_BACKOFF_MS", 500),
		OfflineTimeoutMs:     getEnvAsInt("OFFLINE_TIMEOUT_MS", 10000),
		OfflineRetention:     getEnvAsInt("OFFLINE_COMPLETED_RETENTION", 100),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return result
}
