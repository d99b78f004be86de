package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"kitchensupply/backend/internal/cache"
	"kitchensupply/backend/internal/config"
	"kitchensupply/backend/internal/httpapi"
	"kitchensupply/backend/internal/lock"
	"kitchensupply/backend/internal/service"
	"kitchensupply/backend/internal/store"
	"kitchensupply/backend/internal/store/memory"
	pgstore "kitchensupply/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(cfg.LogLevel)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.WithError(err).Fatal("invalid security configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.WithError(err).Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if cfg.AutoMigrate {
			if err := pg.EnsureSchema(ctx, cfg.CentralStoreID); err != nil {
				logger.WithError(err).Fatal("schema migration failed")
			}
		}
		if cfg.SeedAdminPassword != "" {
			created, err := pg.BootstrapAdmin(ctx, cfg.SeedAdminPassword)
			if err != nil {
				logger.WithError(err).Fatal("admin bootstrap failed")
			}
			if created {
				logger.Warn("created initial admin account from SEED_ADMIN_PASSWORD")
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(cfg.CentralStoreID)
		logger.Info("repository: in-memory")
	}

	orderCache := cache.OrderCache(cache.NoopOrderCache{})
	locker := lock.Locker(lock.NewLocal())
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisOrderCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unavailable, using noop cache and local locks")
		} else {
			orderCache = redisCache
			locker = lock.NewRedisLocker(redisCache.Client(), "kitchensupply:lock:", time.Duration(cfg.OrderLockTTLSeconds)*time.Second, logger)
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis, locks: redis")
		}
	} else {
		logger.Info("cache: noop, locks: local")
	}

	svc := service.New(repo, service.Options{
		CentralStoreID: cfg.CentralStoreID,
		Cache:          orderCache,
		CacheTTL:       time.Duration(cfg.OrderCacheTTLSeconds) * time.Second,
		Locker:         locker,
		Logger:         logger,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.CentralStoreID, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if cfg.InventorySweepMinutes > 0 {
		go runInventorySweep(sweepCtx, svc, time.Duration(cfg.InventorySweepMinutes)*time.Minute, logger)
	}

	go func() {
		logger.WithField("addr", cfg.Address()).Info("kitchen supply backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stopSweep()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Warn("close error")
		}
	}

	logger.Info("server stopped")
}

// runInventorySweep recomputes inventory expiry statuses once at start and
// then every interval until ctx is done.
func runInventorySweep(ctx context.Context, svc *service.Service, interval time.Duration, logger logrus.FieldLogger) {
	log := logger.WithField("component", "inventory-sweep")
	sweep := func() {
		if _, err := svc.RefreshInventoryStatuses(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("inventory status sweep failed")
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.CentralStoreID == "" {
		return fmt.Errorf("CENTRAL_STORE_ID must not be empty")
	}
	return nil
}
