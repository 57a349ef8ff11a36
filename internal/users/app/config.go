package app

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/aussiebroadwan/userstore/pkg/ratelimit"
)

type Config struct {
	DatabaseDriver      string           // Optional: sqlite or postgres (default: sqlite)
	DatabaseFile        string           // Optional: path to SQLite database file (default: ./users.db)
	DatabaseURL         string           // Required for postgres: connection string
	ConnectTimeout      time.Duration    // Optional: postgres connect timeout (default: 10s)
	HashAlgorithm       string           // Optional: bcrypt or argon2id (default: bcrypt)
	BcryptCost          int              // Optional: bcrypt work factor (default: 10)
	PepperFile          string           // Optional: pepper for argon2id hashes (default: ./pepper)
	MinPasswordLength   int              // Optional: shortest accepted password (default: 4)
	MaxConcurrentHashes int              // Optional: parallel hash limit (default: number of CPUs)
	LoginLimit          ratelimit.Config // Optional: RATELIMIT_LOGIN_* (default: 5 per minute)
	Env                 string           // Environment (dev, staging, prod) (default: dev)
	LogLevel            string           // Log level (debug, info, warn, error) (default: info)
	LogFormat           string           // Log format (json, text) (default: json)
}

// LoadConfig reads the configuration from the environment. In dev a .env
// file in the working directory is loaded first, without overriding
// variables that are already set.
func LoadConfig() Config {
	if getEnvOrDefault("ENV", "dev") == "dev" {
		_ = godotenv.Load()
	}

	return Config{
		DatabaseDriver:      getEnvOrDefault("USERS_DATABASE_DRIVER", "sqlite"),
		DatabaseFile:        getEnvOrDefault("USERS_DATABASE_FILE", "users.db"),
		DatabaseURL:         os.Getenv("USERS_DATABASE_URL"),
		ConnectTimeout:      getEnvDurationOrDefault("USERS_DATABASE_CONNECT_TIMEOUT", 10*time.Second),
		HashAlgorithm:       getEnvOrDefault("USERS_HASH_ALGORITHM", "bcrypt"),
		BcryptCost:          getEnvIntOrDefault("USERS_BCRYPT_COST", 10),
		PepperFile:          getEnvOrDefault("USERS_PEPPER_FILE", "pepper"),
		MinPasswordLength:   getEnvIntOrDefault("USERS_MIN_PASSWORD_LENGTH", 4),
		MaxConcurrentHashes: getEnvIntOrDefault("USERS_MAX_CONCURRENT_HASHES", 0),
		LoginLimit:          ratelimit.ParseFromEnv("LOGIN", ratelimit.LoginLimit),
		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
