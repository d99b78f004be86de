package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	AutoMigrate           bool
	SeedAdminPassword     string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	CentralStoreID        string
	OrderCacheTTLSeconds  int
	OrderLockTTLSeconds   int
	InventorySweepMinutes int
	AuthSecret            string
	AccessTokenTTLMinutes int
	LogLevel              logrus.Level
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	autoMigrate, err := strconv.ParseBool(getEnv("AUTO_MIGRATE", "true"))
	if err != nil {
		autoMigrate = true
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		AutoMigrate:           autoMigrate,
		SeedAdminPassword:     os.Getenv("SEED_ADMIN_PASSWORD"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getInt("REDIS_DB", 0, 0),
		CentralStoreID:        getEnv("CENTRAL_STORE_ID", "central-kitchen"),
		OrderCacheTTLSeconds:  getInt("ORDER_CACHE_TTL_SECONDS", 30, 1),
		OrderLockTTLSeconds:   getInt("ORDER_LOCK_TTL_SECONDS", 10, 1),
		InventorySweepMinutes: getInt("INVENTORY_SWEEP_MINUTES", 60, 0),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		LogLevel:              level,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getInt falls back when the value is missing, malformed or below min.
func getInt(key string, fallback int, min int) int {
	val, err := strconv.Atoi(strings.TrimSpace(getEnv(key, strconv.Itoa(fallback))))
	if err != nil || val < min {
		return fallback
	}
	return val
}
