package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort            string
	DatabaseDSN         string
	KafkaBrokers        []string
	RedisAddress        string
	LockTTL             time.Duration
	JWTSecret           string
	LogLevel            string
	DefaultCompanyID    string
	RiskyPartnerMarkers []string
}

// Load reads .env (if present) and the process environment. An empty
// DATABASE_DSN selects the in-memory store; empty KAFKA_BROKERS and
// REDIS_ADDRESS disable publishing and distributed locking.
func Load() *Config {
	// .env is optional; the environment wins over it.
	_ = godotenv.Load()

	return &Config{
		HTTPPort:            getEnv("HTTP_PORT", "8080"),
		DatabaseDSN:         getEnv("DATABASE_DSN", ""),
		KafkaBrokers:        splitList(getEnv("KAFKA_BROKERS", "")),
		RedisAddress:        getEnv("REDIS_ADDRESS", ""),
		LockTTL:             time.Duration(intFromEnv("LOCK_TTL_SECONDS", 30)) * time.Second,
		JWTSecret:           getEnv("JWT_SECRET", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DefaultCompanyID:    getEnv("DEFAULT_COMPANY_ID", ""),
		RiskyPartnerMarkers: splitList(getEnv("RISKY_PARTNER_MARKERS", "RISK,BLACKLIST,SUSPECT,UNKNOWN")),
	}
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
