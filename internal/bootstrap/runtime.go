// Package bootstrap connects the runtime dependencies shared by the binaries.
package bootstrap

import (
	"fmt"
	"log/slog"

	"mazl/internal/cache"
	"mazl/internal/config"
	"mazl/internal/database"
	"mazl/internal/events"
	"mazl/internal/middleware"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SkipSchema opens the database without applying DB_SCHEMA_MODE.
	SkipSchema bool
	// ConnectNATS dials NATS_URL when it is set.
	ConnectNATS bool
}

// Runtime holds the connections a binary needs.
type Runtime struct {
	DB        *gorm.DB
	Redis     *redis.Client
	NATS      *nats.Conn
	Publisher events.Publisher
}

// InitRuntime connects to the database, the read replica and Redis, and
// optionally to NATS. Redis and NATS are optional: the service degrades to
// a single instance without push events when they are missing.
func InitRuntime(cfg *config.Config, opts Options) (*Runtime, error) {
	db, err := database.ConnectWithOptions(cfg, database.ConnectOptions{ApplySchema: !opts.SkipSchema})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	if _, err := database.ConnectRead(cfg); err != nil {
		// Reads fall back to the primary.
		middleware.Logger.Warn("read replica unavailable", slog.String("error", err.Error()))
	}

	cache.InitRedis(cfg.RedisURL)
	rt := &Runtime{
		DB:        db,
		Redis:     cache.GetClient(),
		Publisher: events.NoopPublisher{},
	}

	if opts.ConnectNATS && cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL)
		if err != nil {
			middleware.Logger.Warn("nats unavailable, push events disabled", slog.String("error", err.Error()))
		} else {
			rt.NATS = nc
			rt.Publisher = events.NewNatsPublisher(nc)
		}
	}

	return rt, nil
}

// Close releases every connection. It is safe on a partially built runtime.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.NATS != nil {
		if err := r.NATS.Drain(); err != nil {
			middleware.Logger.Warn("nats drain failed", slog.String("error", err.Error()))
		}
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	if r.DB != nil {
		if sqlDB, err := r.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if database.ReadDB != nil {
		if sqlDB, err := database.ReadDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
