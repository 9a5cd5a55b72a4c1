package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/boq-resolver/internal/catalog"
	"github.com/sells-group/boq-resolver/internal/config"
	"github.com/sells-group/boq-resolver/internal/fetcher"
	"github.com/sells-group/boq-resolver/internal/rows"
	"github.com/sells-group/boq-resolver/internal/stagecache"
	"github.com/sells-group/boq-resolver/internal/store"
)

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "boq.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &c.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// initCatalog opens the configured catalog. The returned close func is never
// nil.
func initCatalog(ctx context.Context, c *config.Config) (catalog.Store, func(), error) {
	switch c.Catalog.Driver {
	case "memory":
		path, err := localize(ctx, c, c.Catalog.Path)
		if err != nil {
			return nil, nil, err
		}
		snapshot, err := loadSnapshot(path, c.Catalog.SkipRows)
		if err != nil {
			return nil, nil, err
		}
		zap.L().Info("catalog snapshot loaded",
			zap.String("path", c.Catalog.Path),
			zap.Int("entries", snapshot.Len()),
		)
		return snapshot, func() {}, nil
	case "postgres":
		pg, err := catalog.NewPostgresStore(ctx, catalog.PostgresConfig{
			URL:                 c.Catalog.DatabaseURL,
			SimilarityThreshold: c.Catalog.SimilarityThreshold,
		})
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		return nil, nil, eris.Errorf("unsupported catalog driver: %s", c.Catalog.Driver)
	}
}

// localize downloads src into the fetch cache when it is a URL and returns
// a readable local path.
func localize(ctx context.Context, c *config.Config, src string) (string, error) {
	if !fetcher.IsRemote(src) {
		return src, nil
	}
	path, err := fetcher.New(c.Fetch).Localize(ctx, src)
	if err != nil {
		return "", eris.Wrapf(err, "fetch %s", src)
	}
	return path, nil
}

func loadSnapshot(path string, skipRows int) (*catalog.MemoryStore, error) {
	data, err := rows.ReadFile(path, rows.Options{SkipRows: skipRows})
	if err != nil {
		return nil, eris.Wrap(err, "load catalog snapshot")
	}
	return catalog.LoadRows(data)
}

// initStageCache prefers Redis when configured and falls back to the store's
// stage table when Redis is unset or unreachable.
func initStageCache(ctx context.Context, c *config.Config, st store.Store) (stagecache.Cache, func()) {
	if c.Redis.Addr != "" {
		r, err := stagecache.NewRedis(ctx, c.Redis)
		if err == nil {
			zap.L().Info("stage cache using redis", zap.String("addr", c.Redis.Addr))
			return r, func() { _ = r.Close() }
		}
		zap.L().Warn("redis unavailable, stage cache using store", zap.Error(err))
	}
	return stagecache.NewStoreBacked(st), func() {}
}
