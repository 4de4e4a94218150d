package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string

	// Redis configuration
	RedisURL string

	// Remote authority configuration
	AuthorityBaseURL   string
	AuthorityAPISecret string
	AuthorityTimeout   int // seconds

	// Verify retry configuration
	RetryStepSeconds    int
	RetryMaxStepSeconds int

	ServiceName string
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	AppConfig = &Config{
		Port:                getEnv("PORT", "8080"),
		Mode:                getEnv("GIN_MODE", "debug"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
		AuthorityBaseURL:    getEnv("AUTHORITY_BASE_URL", "http://localhost:9090"),
		AuthorityAPISecret:  getEnv("AUTHORITY_API_SECRET", ""),
		AuthorityTimeout:    getEnvInt("AUTHORITY_TIMEOUT_SECONDS", 30),
		RetryStepSeconds:    getEnvInt("RETRY_STEP_SECONDS", 5),
		RetryMaxStepSeconds: getEnvInt("RETRY_MAX_STEP_SECONDS", 60),
		ServiceName:         getEnv("SERVICE_NAME", "Receipt Verify Service"),
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
