package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3Endpoint     string
	S3UsePathStyle bool
	RawBucket      string
	PublicBucket   string
	TrashBucket    string
	PublicBaseURL  string

	WorkerToken string

	MaxRetries      int
	StallAfter      time.Duration
	ZombieAfter     time.Duration
	SweepInterval   time.Duration
	TokenTTL        time.Duration
	BulkConcurrency int
}

func Load() *Config {
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_DATABASE", "videolifecycle")
	dbUser := getEnv("DB_USERNAME", "videolifecycle")
	dbPassword := getEnv("DB_PASSWORD", "")
	dbSSLMode := getEnv("DB_SSLMODE", "disable")

	// key=value form avoids URI escaping issues for special characters
	// in passwords.
	dbURL := fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s sslmode=%s",
		dbHost, dbPort, dbName, dbUser, dbSSLMode,
	)
	if dbPassword != "" {
		dbURL += fmt.Sprintf(" password=%s", dbPassword)
	}

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		DatabaseURL: getEnv("DATABASE_URL", dbURL),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		S3Region:       getEnvWithFallback("S3_REGION", "AWS_DEFAULT_REGION", "us-east-1"),
		S3AccessKey:    getEnvWithFallback("S3_KEY", "AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:    getEnvWithFallback("S3_SECRET", "AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3UsePathStyle: getEnvBool("S3_USE_PATH_STYLE_ENDPOINT", false),
		RawBucket:      getEnv("S3_RAW_BUCKET", "video-raw"),
		PublicBucket:   getEnv("S3_PUBLIC_BUCKET", "video-public"),
		TrashBucket:    getEnv("S3_TRASH_BUCKET", "video-trash"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "https://cdn.example.com"),

		WorkerToken: getEnv("WORKER_TOKEN", ""),

		MaxRetries:      getEnvInt("JOB_MAX_RETRIES", 3),
		StallAfter:      getEnvDuration("JOB_STALL_AFTER", 15*time.Minute),
		ZombieAfter:     getEnvDuration("JOB_ZOMBIE_AFTER", 2*time.Hour),
		SweepInterval:   getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		TokenTTL:        getEnvDuration("UPLOAD_TOKEN_TTL", 30*time.Minute),
		BulkConcurrency: getEnvInt("BULK_CONCURRENCY", 20),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvWithFallback(primaryKey, secondaryKey, fallback string) string {
	if value := os.Getenv(primaryKey); value != "" {
		return value
	}
	if value := os.Getenv(secondaryKey); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
