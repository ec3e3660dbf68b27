package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/perclft/qtranspile/backend/analysis"
	"github.com/perclft/qtranspile/backend/backends"
	"github.com/perclft/qtranspile/config"
	"github.com/perclft/qtranspile/services/cache"
	"github.com/perclft/qtranspile/services/runstore"
)

// app holds the components a command needs, built from configuration.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *backends.Registry
	engine   *analysis.Engine
	store    *runstore.Store
	redis    []*redis.Client
}

func newApp(ctx context.Context, cfgPath string, discover bool) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	opts := []backends.Option{
		backends.WithLogger(logger),
		backends.WithSimulatorQubits(cfg.Registry.SimulatorQubits),
		backends.WithShots(cfg.Registry.Shots),
	}
	if cfg.Remote.Token != "" {
		opts = append(opts, backends.WithProvider(backends.NewIBMProvider(cfg.Credentials(),
			backends.WithBaseURL(cfg.Remote.BaseURL),
			backends.WithRateLimit(cfg.Remote.RateLimit, cfg.Remote.Burst),
			backends.WithHTTPClient(&http.Client{Timeout: cfg.Remote.Timeout}),
			backends.WithProviderLogger(logger))))
	}
	a.registry = backends.NewRegistry(opts...)
	a.registry.RegisterDefaultSimulators()
	if discover {
		if n := a.registry.DiscoverRemote(ctx); n > 0 {
			logger.Info("remote backends discovered", zap.Int("count", n))
		}
	}

	engineOpts := []analysis.Option{
		analysis.WithLogger(logger),
		analysis.WithWorkers(cfg.Analysis.Workers),
		analysis.WithSeed(cfg.Analysis.Seed),
		analysis.WithLimits(cfg.Limits()),
	}
	switch cfg.Cache.Kind {
	case "memory":
		mc, err := cache.NewMemoryCache(cfg.Cache.Size)
		if err != nil {
			a.Close()
			return nil, err
		}
		engineOpts = append(engineOpts, analysis.WithCache(mc))
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr, DB: cfg.Cache.RedisDB})
		a.redis = append(a.redis, rdb)
		engineOpts = append(engineOpts, analysis.WithCache(cache.NewRedisCache(rdb, cache.WithTTL(cfg.Cache.TTL), cache.WithLogger(logger))))
	}
	a.engine = analysis.NewEngine(a.registry, engineOpts...)

	if cfg.Store.Driver != "none" {
		if a.store, err = runstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) requireStore() error {
	if a.store == nil {
		return fmt.Errorf("no run store configured (set store.driver)")
	}
	return nil
}

func (a *app) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	for _, rdb := range a.redis {
		_ = rdb.Close()
	}
	if a.registry != nil {
		a.registry.Close()
	}
	_ = a.logger.Sync()
}
