package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    slog.Level
	RedisURL    string
	WorkerID    string

	AIAPIURL            string
	AIAPIKey            string
	AIModel             string
	AITemperature       float64
	AIRequestsPerMinute int

	// PresetFile is watched for changes; empty uses the embedded default.
	PresetFile  string
	StickerFile string
}

// Load reads the environment, after applying an optional .env file.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	temp, err := strconv.ParseFloat(getEnv("AI_TEMPERATURE", "0.8"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid AI_TEMPERATURE: %w", err)
	}
	rpm, err := strconv.Atoi(getEnv("AI_REQUESTS_PER_MINUTE", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid AI_REQUESTS_PER_MINUTE: %w", err)
	}
	if rpm < 0 {
		return nil, fmt.Errorf("invalid AI_REQUESTS_PER_MINUTE: %d", rpm)
	}

	hostname, _ := os.Hostname()

	return &Config{
		Port:                getEnv("PORT", "8080"),
		Environment:         getEnv("ENVIRONMENT", "development"),
		LogLevel:            parseLogLevel(getEnv("LOG_LEVEL", "info")),
		RedisURL:            getEnv("REDIS_URL", "localhost:6379"),
		WorkerID:            getEnv("WORKER_ID", "worker-"+hostname),
		AIAPIURL:            os.Getenv("AI_API_URL"),
		AIAPIKey:            os.Getenv("AI_API_KEY"),
		AIModel:             os.Getenv("AI_MODEL"),
		AITemperature:       temp,
		AIRequestsPerMinute: rpm,
		PresetFile:          os.Getenv("PRESET_FILE"),
		StickerFile:         os.Getenv("STICKER_FILE"),
	}, nil
}

// AIConfigured reports whether url, key and model are all set.
func (c *Config) AIConfigured() bool {
	return c.AIAPIURL != "" && c.AIAPIKey != "" && c.AIModel != ""
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
