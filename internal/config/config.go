package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	RemoteBaseURL   string
	RemoteAPIKey    string
	RemoteTimeout   int // seconds
	RemoteProbePath string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Timezone string

	RateLimit RateLimitConfig
	Lock      LockConfig
}

// RateLimitConfig configures redis-backed throttling of the control API.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MutationRate  float64
	MutationBurst int
}

// LockConfig configures the optional cross-process scheduler lock.
type LockConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTLSeconds    int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "trendsync"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8087"),

		RemoteBaseURL:   strings.TrimRight(getenv("REMOTE_BASE_URL", "http://localhost:4000"), "/"),
		RemoteAPIKey:    strings.TrimSpace(getenv("REMOTE_API_KEY", "")),
		RemoteTimeout:   getenvInt("REMOTE_TIMEOUT_SECONDS", 30),
		RemoteProbePath: getenv("REMOTE_PROBE_PATH", "/api/v1/health"),

		DBType:            getenv("DATABASE_TYPE", "sqlite"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "trendsync"),
		DBUser:            getenv("DATABASE_USER", "trendsync"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "trendsync.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 2),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 10),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		Timezone: getenv("TIMEZONE", "Asia/Seoul"),

		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword: getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:       getenvInt("RATE_LIMIT_REDIS_DB", 0),
			MutationRate:  getenvFloat("RATE_LIMIT_MUTATION_RATE", 20),
			MutationBurst: getenvInt("RATE_LIMIT_MUTATION_BURST", 40),
		},
		Lock: LockConfig{
			Enabled:       getenvBool("SCHEDULER_LOCK_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("SCHEDULER_LOCK_REDIS_ADDR", "")),
			RedisPassword: getenv("SCHEDULER_LOCK_REDIS_PASSWORD", ""),
			RedisDB:       getenvInt("SCHEDULER_LOCK_REDIS_DB", 0),
			TTLSeconds:    getenvInt("SCHEDULER_LOCK_TTL_SECONDS", 60),
		},
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
