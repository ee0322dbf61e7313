// Package app opens the collaborators shared by the server and the CLI.
package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"stockroom/backend/internal/alert"
	"stockroom/backend/internal/cache"
	"stockroom/backend/internal/config"
	"stockroom/backend/internal/logger"
	"stockroom/backend/internal/restock"
	"stockroom/backend/internal/store"
	"stockroom/backend/internal/store/jsonfile"
	"stockroom/backend/internal/store/memory"
	pgstore "stockroom/backend/internal/store/postgres"
	"stockroom/backend/internal/store/sqlite"
)

// Closers runs cleanup functions in reverse order of registration.
type Closers []func() error

func (c *Closers) Add(fn func() error) {
	*c = append(*c, fn)
}

func (c *Closers) Close(log *logger.Logger) {
	for i := len(*c) - 1; i >= 0; i-- {
		if err := (*c)[i](); err != nil {
			log.Warnw("close error", "error", err)
		}
	}
}

// OpenBackend opens the record store selected by cfg.DataBackend.
func OpenBackend(ctx context.Context, cfg config.Config, log *logger.Logger, closers *Closers) (store.Backend, error) {
	switch cfg.DataBackend {
	case config.BackendMemory:
		log.Infow("repository ready", "backend", "memory")
		return memory.New(), nil
	case config.BackendJSONFile:
		fs, err := jsonfile.New(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open json data dir %s: %w", cfg.DataDir, err)
		}
		closers.Add(fs.Close)
		log.Infow("repository ready", "backend", "jsonfile", "dir", cfg.DataDir)
		return fs, nil
	case config.BackendSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "stockroom.db")
		}
		db, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", path, err)
		}
		closers.Add(db.Close)
		log.Infow("repository ready", "backend", "sqlite", "path", path)
		return db, nil
	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable: %w", err)
		}
		closers.Add(pg.Close)
		log.Infow("repository ready", "backend", "postgres")
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown data backend %q", cfg.DataBackend)
	}
}

// RestockEngine builds the recommendation engine, backed by redis when it is
// configured and reachable.
func RestockEngine(ctx context.Context, cfg config.Config, log *logger.Logger, closers *Closers) *restock.Engine {
	cacheStore := cache.RestockCache(cache.NoopRestockCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisRestockCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warnw("redis unavailable, using noop cache", "error", err)
			_ = redisCache.Close()
		} else {
			cacheStore = redisCache
			closers.Add(redisCache.Close)
			log.Infow("cache ready", "backend", "redis")
		}
	}
	return restock.NewEngine(cacheStore, time.Duration(cfg.RestockCacheTTLSeconds)*time.Second)
}

// Alerter logs every alert and also posts it to the webhook when one is set.
func Alerter(cfg config.Config, log *logger.Logger, engine *restock.Engine) alert.Alerter {
	alerters := alert.Multi{alert.NewLogAlerter(log, engine)}
	if cfg.AlertWebhookURL != "" {
		client := &http.Client{Timeout: 10 * time.Second}
		alerters = append(alerters, alert.NewWebhookAlerter(cfg.AlertWebhookURL, cfg.AlertRatePerMinute, engine, client))
		log.Infow("alert webhook enabled", "ratePerMinute", cfg.AlertRatePerMinute)
	}
	return alerters
}
