package storagecommon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/artifact-keeper/artifact-keeper/catalog"
	"github.com/artifact-keeper/artifact-keeper/config"
	"github.com/artifact-keeper/artifact-keeper/gc"
	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

var DevFlag = &cli.BoolFlag{
	Name:  "dev",
	Usage: "use an in-memory catalog instead of PostgreSQL (development only)",
}

var DevSeedFlag = &cli.StringFlag{
	Name:  "dev-seed",
	Usage: "YAML file of repositories and artifacts loaded into the in-memory catalog; implies --dev",
}

// OpenCatalog connects to PostgreSQL, or returns an in-memory catalog in dev
// mode, seeded from --dev-seed when given. The returned close function is
// never nil.
func OpenCatalog(cCtx *cli.Context, cfg *config.Config, log *slog.Logger) (interfaces.Catalog, func(), error) {
	if seed := cCtx.String(DevSeedFlag.Name); seed != "" {
		c, err := catalog.LoadSeedFile(seed)
		if err != nil {
			return nil, nil, err
		}
		stats, _ := c.Stats(cCtx.Context)
		log.Warn("Using seeded in-memory catalog, changes are lost on exit",
			slog.String("seed", seed),
			slog.Int64("repositories", stats.Repositories),
			slog.Int("artifacts", len(c.Artifacts())))
		return c, func() {}, nil
	}
	if cCtx.Bool(DevFlag.Name) {
		log.Warn("Using empty in-memory catalog, data is lost on exit")
		return catalog.NewMemoryCatalog(), func() {}, nil
	}

	if cfg.Database.URL == "" {
		return nil, nil, errors.New("database-url is required unless --dev is set")
	}

	pool, err := catalog.Connect(cCtx.Context, cfg.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to catalog database: %w", err)
	}
	return catalog.NewPostgresCatalog(pool), pool.Close, nil
}

// NewLocker returns a Redis lock when an address is configured, and a no-op
// lock otherwise.
func NewLocker(ctx context.Context, cfg *config.Config, log *slog.Logger) (gc.Locker, func(), error) {
	if cfg.Redis.Addr == "" {
		log.Info("No Redis address configured, storage GC runs without a distributed lock")
		return gc.NopLocker{}, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("Storage GC lock enabled", "redisAddr", cfg.Redis.Addr)
	return gc.NewRedisLocker(client, cfg.Redis.LockKey), func() { _ = client.Close() }, nil
}
