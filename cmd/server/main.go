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

	"go.uber.org/zap"

	"varejo/backend/internal/cache"
	"varejo/backend/internal/catalog"
	"varejo/backend/internal/config"
	"varejo/backend/internal/httpapi"
	"varejo/backend/internal/logger"
	"varejo/backend/internal/service"
	"varejo/backend/internal/storage"
	"varejo/backend/internal/store"
	"varejo/backend/internal/store/memory"
	pgstore "varejo/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if cfg.AutoMigrate {
			migrator, err := pgstore.NewMigrator(pg.DB(), log)
			if err != nil {
				log.Fatal("prepare migrations", zap.Error(err))
			}
			if err := migrator.Up(); err != nil {
				log.Fatal("apply migrations", zap.Error(err))
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository ready", zap.String("backend", "postgres"))
	} else {
		repo = memory.NewSeeded()
		log.Info("repository ready", zap.String("backend", "memory"))
	}

	catalogCache := cache.CatalogCache(cache.NoopCatalogCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCatalogCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, catalog cache disabled", zap.Error(err))
			_ = redisCache.Close()
		} else {
			catalogCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("catalog cache ready", zap.String("backend", "redis"))
		}
	}

	objects := storage.ObjectStorage(storage.NoopStorage{})
	if cfg.S3.Enabled() {
		s3, err := storage.NewS3Storage(ctx, storage.S3Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		}, log)
		if err != nil {
			log.Fatal("object storage unavailable", zap.Error(err))
		}
		objects = s3
		log.Info("attachment storage ready", zap.String("bucket", cfg.S3.Bucket))
	}

	loader := catalog.NewLoader(repo, catalogCache, cfg.CatalogTTL, log)
	svc := service.New(repo, loader, objects, log, service.Options{
		DefaultTenantID: cfg.DefaultTenantID,
		ReceiptHeader:   cfg.ReceiptHeader,
		ReceiptFooter:   cfg.ReceiptFooter,
	})
	auth := httpapi.NewAuthManager(httpapi.AuthOptions{
		Secret:        cfg.AuthSecret,
		TokenTTL:      time.Duration(cfg.AccessTokenTTLMinutes) * time.Minute,
		ManagerPIN:    cfg.ManagerPIN,
		DefaultTenant: cfg.DefaultTenantID,
	}, repo, log)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("order backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}
	log.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	for _, r := range cfg.ManagerPIN {
		if r < '0' || r > '9' {
			return fmt.Errorf("MANAGER_PIN must contain digits only")
		}
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects repeated, sequential and commonly used PINs.
func validatePINStrength(pin string) error {
	switch pin {
	case "121212", "112233", "123123", "102030", "696969":
		return errors.New("common PIN not allowed")
	}

	allSame, ascending, descending := true, true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 0 {
			allSame = false
		}
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	switch {
	case allSame:
		return errors.New("repeated digit PIN not allowed")
	case ascending || descending:
		return errors.New("sequential PIN not allowed")
	}
	return nil
}
