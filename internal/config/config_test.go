package config

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "CENTRAL_STORE_ID", "ORDER_CACHE_TTL_SECONDS", "ORDER_LOCK_TTL_SECONDS",
		"INVENTORY_SWEEP_MINUTES", "ACCESS_TOKEN_TTL_MINUTES", "LOG_LEVEL", "AUTO_MIGRATE", "REDIS_DB",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Address() != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Address())
	}
	if cfg.CentralStoreID != "central-kitchen" {
		t.Fatalf("unexpected central store %q", cfg.CentralStoreID)
	}
	if cfg.OrderCacheTTLSeconds != 30 || cfg.OrderLockTTLSeconds != 10 || cfg.InventorySweepMinutes != 60 {
		t.Fatalf("unexpected durations %+v", cfg)
	}
	if !cfg.AutoMigrate || cfg.LogLevel != logrus.InfoLevel || cfg.RedisDB != 0 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("ORDER_LOCK_TTL_SECONDS", "soon")
	t.Setenv("ORDER_CACHE_TTL_SECONDS", "-5")
	t.Setenv("INVENTORY_SWEEP_MINUTES", "0")
	t.Setenv("LOG_LEVEL", "chatty")

	cfg := Load()
	if cfg.OrderLockTTLSeconds != 10 {
		t.Fatalf("expected fallback lock ttl, got %d", cfg.OrderLockTTLSeconds)
	}
	if cfg.OrderCacheTTLSeconds != 30 {
		t.Fatalf("expected fallback cache ttl, got %d", cfg.OrderCacheTTLSeconds)
	}
	if cfg.InventorySweepMinutes != 0 {
		t.Fatalf("expected sweep to be disabled, got %d", cfg.InventorySweepMinutes)
	}
	if cfg.LogLevel != logrus.InfoLevel {
		t.Fatalf("expected info level fallback, got %s", cfg.LogLevel)
	}
}
