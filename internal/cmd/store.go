package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/riskledger/riskledger/internal/config"
	"github.com/riskledger/riskledger/internal/core/attack"
	"github.com/riskledger/riskledger/internal/core/engine"
	"github.com/riskledger/riskledger/internal/core/fetch"
	"github.com/riskledger/riskledger/internal/core/migrate"
	"github.com/riskledger/riskledger/internal/core/store"
	"github.com/riskledger/riskledger/internal/observability"
)

func openStore(ctx context.Context) (*store.Store, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return openStoreWith(ctx, cfg)
}

func openStoreWith(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// runtimeDeps is the object graph shared by serve and the CLI commands.
type runtimeDeps struct {
	Config   *config.Config
	Store    *store.Store
	Registry *engine.Registry
	Stats    fetch.StatsRecorder
	Fetcher  *fetch.Fetcher
	Attack   *attack.Client
	Migrator *migrate.Migrator

	closers []io.Closer
}

// buildDeps loads configuration, opens the store and wires the outbound and
// migration services over it. Close releases everything it opened.
func buildDeps(ctx context.Context, logger observability.Logger) (*runtimeDeps, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := openStoreWith(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps := &runtimeDeps{Config: cfg, Store: db, closers: []io.Closer{db}}

	registry := engine.NewRegistry(db)
	registry.ApplyOverrides(cfg.RateLimits)
	registry.ApplySafetyMargin(cfg.RateLimitMargin)
	deps.Registry = registry

	deps.Stats = fetch.NewMemoryStats()
	if url := strings.TrimSpace(cfg.Redis.URL); url != "" {
		redisStats, err := fetch.OpenRedisStats(ctx, url, fetch.WithStatsPrefix(cfg.Redis.Prefix))
		if err != nil {
			// Counters are advisory; fall back to process-local totals.
			logger.Warn("Redis unavailable, using in-memory fetch stats", zap.Error(err))
		} else {
			deps.Stats = redisStats
			deps.closers = append(deps.closers, redisStats)
		}
	}

	deps.Fetcher = &fetch.Fetcher{
		Limits:   registry,
		Client:   &http.Client{},
		Timeout:  cfg.FetchTimeout(),
		MaxBytes: cfg.Fetch.MaxBytes,
		Stats:    deps.Stats,
		Logger:   logger,
	}

	deps.Attack = &attack.Client{
		Fetcher:    deps.Fetcher,
		Cache:      db,
		CacheTTL:   cfg.Cache.AttackTTL,
		BaseURL:    cfg.Attack.BaseURL,
		Collection: cfg.Attack.Collection,
		UserAgent:  userAgent(),
		Logger:     logger,
	}

	deps.Migrator = &migrate.Migrator{
		Store:              db,
		Runs:               db,
		Logger:             logger,
		BatchSize:          cfg.Migrate.BatchSize,
		MaxWritesPerSecond: cfg.Migrate.MaxWritesPerSecond,
		SampleSize:         cfg.Migrate.SampleSize,
	}

	return deps, nil
}

// Close releases resources in reverse order of acquisition.
func (d *runtimeDeps) Close() error {
	var first error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func userAgent() string {
	name := "riskledger"
	if identity := GetAppIdentity(); identity != nil && identity.BinaryName != "" {
		name = identity.BinaryName
	}
	return name + "/" + versionInfo.Version
}
