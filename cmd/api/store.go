package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/pollpulse/backend/internal/cache"
	"github.com/pollpulse/backend/internal/cache/redis"
	"github.com/pollpulse/backend/internal/storage"
	"github.com/pollpulse/backend/internal/storage/postgres"
	"github.com/pollpulse/backend/internal/storage/sqlite"
	"github.com/pollpulse/backend/pkg/config"
	appLogger "github.com/pollpulse/backend/pkg/logger"
	"github.com/pollpulse/backend/pkg/retry"
)

// openStore connects to the configured backend, waiting for it to come up,
// and makes sure the schema exists.
func openStore(ctx context.Context, cfg config.StoreConfig) (storage.Store, error) {
	driver, dsn, err := storage.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	var (
		store      storage.Store
		initSchema func(ctx context.Context) error
	)

	switch driver {
	case storage.DriverPostgres:
		client, err := postgres.NewClient(dsn, cfg.QueryTimeout())
		if err != nil {
			return nil, err
		}
		store, initSchema = client, client.InitSchema
	case storage.DriverSQLite:
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		client, err := sqlite.NewClient(dsn, cfg.QueryTimeout())
		if err != nil {
			return nil, err
		}
		store = client
		initSchema = func(context.Context) error { return client.InitSchema() }
	}

	retryCfg := retry.DefaultConfig("store-connect")
	retryCfg.MaxAttempts = cfg.ConnectAttempts
	retryCfg.Logger = appLogger.GetLogger()
	if err := retry.Do(ctx, retryCfg, store.Ping); err != nil {
		store.Close()
		return nil, fmt.Errorf("store not reachable: %w", err)
	}

	if err := initSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	appLogger.Info("Store ready", zap.String("driver", string(driver)))
	return store, nil
}

// openCache returns Redis when a valid URL is configured, otherwise the
// in-process cache. An unreachable Redis is only logged; the advisory layer
// absorbs its failures.
func openCache(ctx context.Context, cfg config.CacheConfig) cache.Cache {
	if strings.TrimSpace(cfg.URL) == "" {
		appLogger.Info("REDIS_URL not set, using in-memory cache")
		return cache.NewMemory()
	}

	client, err := redis.NewClient(cfg.URL)
	if err != nil {
		appLogger.Warn("Invalid cache url, using in-memory cache", zap.Error(err))
		return cache.NewMemory()
	}

	retryCfg := retry.DefaultConfig("cache-connect")
	retryCfg.MaxAttempts = cfg.ConnectAttempts
	retryCfg.Logger = appLogger.GetLogger()
	if err := retry.Do(ctx, retryCfg, client.Ping); err != nil {
		appLogger.Warn("Cache not reachable, continuing in degraded mode", zap.Error(err))
	}

	return client
}

func ensureDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return nil
}
