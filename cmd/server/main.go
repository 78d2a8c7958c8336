package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"laybyku/backend/internal/cache"
	"laybyku/backend/internal/config"
	"laybyku/backend/internal/httpapi"
	"laybyku/backend/internal/logger"
	"laybyku/backend/internal/service"
	"laybyku/backend/internal/store"
	"laybyku/backend/internal/store/memory"
	pgstore "laybyku/backend/internal/store/postgres"
	"laybyku/backend/internal/sweeper"
)

func main() {
	if err := config.LoadDotEnv(os.Getenv("ENV_FILE")); err != nil {
		fmt.Fprintf(os.Stderr, "env file: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()

	log := logger.New(logger.Options{
		ServiceName: "laybyku-backend",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
		WarnStack:   false,
		Output:      os.Stdout,
	})
	baseCtx := context.Background()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Error(baseCtx, "invalid security configuration", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(baseCtx, 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error(baseCtx, "postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", err)
			os.Exit(1)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info(log.WithField(baseCtx, "repository", "postgres"), "repository ready")
	} else {
		mem := memory.NewSeeded()
		repo = mem
		log.Info(log.WithField(baseCtx, "repository", "memory"), "repository ready")
		if mem.UsingDefaultCredentials() {
			log.Warn(baseCtx, "seed users use the built-in dev passwords; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD")
		}
	}

	// One Redis client backs both the dashboard cache and the sweeper lock.
	var kv cache.KV
	dashboards := cache.DashboardCache(cache.NoopDashboardCache{})
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx); err != nil {
			log.Warn(log.WithField(baseCtx, "error", err.Error()), "redis unavailable, using noop cache and local sweep lock")
			_ = client.Close()
		} else {
			kv = client
			dashboards = cache.NewRedisDashboardCache(client)
			closers = append(closers, client.Close)
			log.Info(log.WithField(baseCtx, "cache", "redis"), "cache ready")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := service.New(repo, dashboards, cfg.StoreID,
		service.WithLogger(log),
		service.WithDashboardTTL(time.Duration(cfg.DashboardCacheTTLSeconds)*time.Second),
	)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, httpapi.WithLogger(log), httpapi.WithRegistry(registry))

	runCtx, stopRun := context.WithCancel(baseCtx)
	defer stopRun()

	if cfg.OverdueSweepInterval > 0 {
		sweep, err := newSweeper(cfg, log, svc, kv, registry)
		if err != nil {
			log.Error(baseCtx, "overdue sweeper setup failed", err)
			os.Exit(1)
		}
		go func() {
			if err := sweep.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(baseCtx, "overdue sweeper stopped", err)
			}
		}()
	} else {
		log.Info(baseCtx, "overdue sweeper disabled")
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info(log.WithField(baseCtx, "addr", cfg.Address()), "layby backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(baseCtx, "server error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	stopRun()

	shutdownCtx, shutdownCancel := context.WithTimeout(baseCtx, 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(baseCtx, "shutdown error", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error(baseCtx, "close error", err)
		}
	}

	log.Info(baseCtx, "server stopped")
}

// newSweeper wires the background overdue sweep. Without Redis the lock is
// process-local, which is only safe for a single instance.
func newSweeper(cfg config.Config, log *logger.Logger, svc *service.Service, kv cache.KV, reg prometheus.Registerer) (*sweeper.Sweeper, error) {
	var lock sweeper.Lock = sweeper.NoopLock{}
	if kv != nil {
		redisLock, err := sweeper.NewRedisLock(kv, sweeper.DefaultLockKey, cfg.SweepLockTTL)
		if err != nil {
			return nil, err
		}
		lock = redisLock
	}
	return sweeper.New(sweeper.Params{
		Logger:   log,
		Runner:   svc,
		Lock:     lock,
		Metrics:  sweeper.NewMetrics(reg),
		StoreIDs: []string{cfg.StoreID},
		Interval: cfg.OverdueSweepInterval,
	})
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	if cfg.OverdueSweepInterval > 0 && cfg.OverdueSweepInterval < time.Minute {
		return fmt.Errorf("OVERDUE_SWEEP_INTERVAL must be at least 1m or 0 to disable")
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit, sequential,
// or on the common list. The manager PIN authorizes refunds on cancellation.
func validatePINStrength(pin string) error {
	common := map[string]bool{
		"123456": true, "654321": true, "121212": true, "112233": true,
		"123123": true, "159753": true, "147258": true, "246810": true,
	}
	if common[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	sameDigit := true
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			sameDigit = false
		}
		switch int(pin[i]) - int(pin[i-1]) {
		case 1:
			descending = false
		case -1:
			ascending = false
		default:
			ascending, descending = false, false
		}
	}
	if sameDigit {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
