package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv                   string
	Port                     string
	AllowedOrigin            string
	DatabaseURL              string
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	DashboardCacheTTLSeconds int
	AuthSecret               string
	SessionTTLMinutes        int
	SessionCookieName        string
	CookieSecure             bool
	Timezone                 string

	// SeedAdminPassword bootstraps an in-memory store with an "admin" user.
	SeedAdminPassword string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	cacheTTL, err := strconv.Atoi(getEnv("DASHBOARD_CACHE_TTL_SECONDS", "60"))
	if err != nil || cacheTTL < 1 {
		cacheTTL = 60
	}
	sessionTTL, err := strconv.Atoi(getEnv("SESSION_TTL_MINUTES", "480"))
	if err != nil || sessionTTL < 1 {
		sessionTTL = 480
	}
	secure, _ := strconv.ParseBool(getEnv("COOKIE_SECURE", "false"))

	return Config{
		AppEnv:                   strings.ToLower(getEnv("APP_ENV", "development")),
		Port:                     getEnv("PORT", "8080"),
		AllowedOrigin:            getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  redisDB,
		DashboardCacheTTLSeconds: cacheTTL,
		AuthSecret:               strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		SessionTTLMinutes:        sessionTTL,
		SessionCookieName:        getEnv("SESSION_COOKIE_NAME", "cidpos_session"),
		CookieSecure:             secure,
		Timezone:                 getEnv("APP_TIMEZONE", "UTC"),
		SeedAdminPassword:        os.Getenv("SEED_ADMIN_PASSWORD"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

func (c Config) DashboardCacheTTL() time.Duration {
	return time.Duration(c.DashboardCacheTTLSeconds) * time.Second
}

// Location resolves APP_TIMEZONE, falling back to UTC for unknown zones.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production" || c.AppEnv == "prod"
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
