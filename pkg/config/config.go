package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port               string
	Environment        string
	DatabasePath       string
	JWTSecret          string
	CORSOrigins        string
	LogLevel           string
	Locale             string
	EditWindow         time.Duration
	InviteTTL          time.Duration
	InviteCodeAttempts int
	EventBuffer        int
	VAPIDPublicKey     string
	VAPIDPrivateKey    string
	MetricsEnabled     bool
}

// Load reads configuration from the environment. Variables found in the env
// file (GAPCHAT_ENV_FILE, default .env) fill in anything not already set.
func Load() *Config {
	envFile := getEnv("GAPCHAT_ENV_FILE", ".env")
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	return &Config{
		Port:               getEnv("PORT", "8080"),
		Environment:        getEnv("ENVIRONMENT", "development"),
		DatabasePath:       getEnv("DATABASE_PATH", "./data/gapchat.db"),
		JWTSecret:          getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		CORSOrigins:        getEnv("CORS_ORIGINS", "*"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		Locale:             getEnv("LOCALE", "en"),
		EditWindow:         parseDuration(getEnv("EDIT_WINDOW", ""), 15*time.Minute),
		InviteTTL:          parseDuration(getEnv("INVITE_TTL", ""), 24*time.Hour),
		InviteCodeAttempts: parseInt(getEnv("INVITE_CODE_ATTEMPTS", ""), 5),
		EventBuffer:        parseInt(getEnv("EVENT_BUFFER", ""), 256),
		VAPIDPublicKey:     getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey:    getEnv("VAPID_PRIVATE_KEY", ""),
		MetricsEnabled:     parseBool(getEnv("METRICS_ENABLED", ""), true),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	val, err := strconv.Atoi(s)
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}

func parseBool(s string, fallback bool) bool {
	val, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return val
}
