// Package persistence selects and opens the configured subscriber store backend.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/file"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/sqlite"
)

// ══════════════════════════════════════════════════════════════════════════════
// DRIVERS
// ══════════════════════════════════════════════════════════════════════════════

// Driver names a storage backend.
type Driver string

const (
	DriverFile     Driver = "file"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverRedis    Driver = "redis"
	DriverMemory   Driver = "memory"
)

// ErrUnknownDriver is returned for an unsupported STORAGE_DRIVER value.
var ErrUnknownDriver = errors.New("persistence: unknown storage driver")

// ParseDriver normalizes a driver name.
func ParseDriver(s string) (Driver, error) {
	d := Driver(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case "":
		return DriverFile, nil
	case DriverFile, DriverSQLite, DriverPostgres, DriverRedis, DriverMemory:
		return d, nil
	case "postgresql", "pg":
		return DriverPostgres, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDriver, s)
}

// ══════════════════════════════════════════════════════════════════════════════
// BACKEND
// ══════════════════════════════════════════════════════════════════════════════

// Config selects and parameterizes the backend.
type Config struct {
	Driver      Driver
	Dir         string
	SQLitePath  string
	DatabaseURL string
	Pool        postgres.PoolConfig
	Redis       redis.Config

	// AutoMigrate applies pending postgres migrations on open.
	AutoMigrate bool

	Logger *slog.Logger
}

// Backend is an opened subscriber store with lifecycle hooks.
type Backend interface {
	subscriber.Store
	Ping(ctx context.Context) error
	Close() error
}

// Opened bundles the store with backend-specific extras.
type Opened struct {
	Backend
	Driver Driver

	// Postgres is set for the postgres driver.
	Postgres *postgres.Connection

	// Redis is set for the redis driver and can back the media file_id cache.
	Redis *redis.Cache
}

// Open connects the configured backend.
func Open(ctx context.Context, cfg Config) (*Opened, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	switch cfg.Driver {
	case DriverFile, "":
		fc := file.DefaultConfig()
		if cfg.Dir != "" {
			fc.Dir = cfg.Dir
		}
		fc.Logger = log
		store, err := file.NewStore(fc)
		if err != nil {
			return nil, err
		}
		log.Info("storage opened", slog.String("driver", string(DriverFile)), slog.String("dir", store.Dir()))
		return &Opened{Backend: store, Driver: DriverFile}, nil

	case DriverSQLite:
		store, err := sqlite.NewStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info("storage opened", slog.String("driver", string(DriverSQLite)), slog.String("path", cfg.SQLitePath))
		return &Opened{Backend: store, Driver: DriverSQLite}, nil

	case DriverPostgres:
		conn, err := postgres.NewConnectionFromURL(ctx, cfg.DatabaseURL, cfg.Pool)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				conn.Close()
				return nil, err
			}
		}
		log.Info("storage opened", slog.String("driver", string(DriverPostgres)))
		return &Opened{Backend: postgres.NewSubscriberRepository(conn), Driver: DriverPostgres, Postgres: conn}, nil

	case DriverRedis:
		cache, err := redis.NewCache(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		log.Info("storage opened", slog.String("driver", string(DriverRedis)))
		return &Opened{Backend: redis.NewSubscriberStore(cache), Driver: DriverRedis, Redis: cache}, nil

	case DriverMemory:
		log.Warn("storage is in-memory, progress is lost on restart")
		return &Opened{Backend: memory.NewStore(), Driver: DriverMemory}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}
