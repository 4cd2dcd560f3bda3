package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wvfoia/wvfoia/internal/cache"
	"github.com/wvfoia/wvfoia/internal/corrections"
	"github.com/wvfoia/wvfoia/internal/metrics"
	"github.com/wvfoia/wvfoia/internal/stats"
	"github.com/wvfoia/wvfoia/internal/store"
)

// appEnv holds the initialized store, cache, and services shared by the
// serve/sync/status commands.
type appEnv struct {
	Overlay *corrections.Overlay
	Store   store.Store
	Cache   *cache.Cache
	Stats   *stats.Service
	Metrics *metrics.Metrics
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the correction overlay, the store for the configured
// driver, the cache backend, and the stats service. Callers should defer
// env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	overlay, err := corrections.Load()
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx, overlay)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	m := metrics.New()

	kv, err := initKV(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	c := cache.New(kv, m)

	return &appEnv{
		Overlay: overlay,
		Store:   st,
		Cache:   c,
		Stats:   stats.New(st, overlay, c),
		Metrics: m,
	}, nil
}

func initStore(ctx context.Context, overlay *corrections.Overlay) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		}, overlay)
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL, overlay)
	default:
		return nil, eris.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

// initKV picks Redis when an address is configured, otherwise the in-process
// cache. The in-process cache loses memoized results on restart but never
// serves wrong data; everything rebuilds from the store on demand.
func initKV(ctx context.Context) (cache.KV, error) {
	if cfg.Redis.Addr == "" {
		zap.L().Info("redis not configured, using in-process cache")
		return cache.NewMemoryKV(), nil
	}
	kv, err := cache.NewRedisKV(ctx, cache.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("redis cache connected", zap.String("addr", cfg.Redis.Addr))
	return kv, nil
}
