package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	CORSOrigin    string
	PolicyPath    string
	Timezone      string
	LogLevel      string
	// Redis backs the feed cache and the conflict advisory store.
	RedisURL       string
	MeiliURL       string
	MeiliMasterKey string
	// MinIO archives raw external feeds; empty endpoint disables it.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	FeedTimeout    time.Duration
}

func Load() Config {
	return Config{
		Addr:           getenv("API_ADDR", ":8787"),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		MigrationsDir:  getenv("STAYCAL_MIGRATIONS_DIR", ""),
		CORSOrigin:     getenv("STAYCAL_CORS_ORIGIN", "*"),
		PolicyPath:     getenv("STAYCAL_POLICY_PATH", "./data/policy.yaml"),
		Timezone:       getenv("TZ", ""),
		LogLevel:       getenv("STAYCAL_LOG_LEVEL", "INFO"),
		RedisURL:       getenv("REDIS_URL", ""),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "staycal-feeds"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),
		FeedTimeout:    time.Duration(getenvInt("STAYCAL_FEED_TIMEOUT_SECONDS", 15)) * time.Second,
	}
}

// Location is the zone that defines "today" for every date rule. An empty
// or unknown TZ falls back to the process local zone.
func (c Config) Location() *time.Location {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
