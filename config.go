package main

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultScoreSecret = "dev-secret-change-in-production"

// Config is the process configuration, read from the environment.
type Config struct {
	Port        string
	ScoreSecret string
	AdminKey    string
	BypassKey   string

	RedisURL    string
	DatabaseURL string

	SessionTTL     time.Duration
	AllowedOrigins []string
}

func loadConfig() Config {
	cfg := Config{
		Port:        envOr("PORT", "3000"),
		ScoreSecret: envOr("SCORE_SECRET", defaultScoreSecret),
		AdminKey:    os.Getenv("ADMIN_KEY"),
		BypassKey:   os.Getenv("RATELIMIT_BYPASS_KEY"),
		RedisURL:    os.Getenv("REDIS_URL"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SessionTTL:  time.Duration(parseEnvInt("SESSION_TTL_MINUTES", 120)) * time.Minute,
	}

	origins := envOr("ALLOWED_ORIGINS", "*")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
