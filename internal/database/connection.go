package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/warden/internal/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 2 * time.Second
)

// DB holds the Postgres pool shared by every repository.
type DB struct {
	Pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewFromPool wraps an existing pool.
func NewFromPool(pool *pgxpool.Pool, logger *slog.Logger) *DB {
	return &DB{Pool: pool, logger: logger}
}

// NewConnection opens and pings the account store pool.
func NewConnection(cfg *config.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connection established",
		slog.String("host", cfg.Host),
		slog.String("database", cfg.Name),
		slog.Int("max_conns", int(cfg.MaxConns)),
	)
	return &DB{Pool: pool, logger: logger}, nil
}

// NewRedisClient opens the session store client and fails unless it answers
// a ping.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("redis connection established", slog.String("addr", cfg.Addr), slog.Int("db", cfg.DB))
	return client, nil
}

func (db *DB) Close() {
	if db.logger != nil {
		db.logger.Info("closing database connection pool")
	}
	db.Pool.Close()
}

// HealthCheck pings the pool with a short deadline.
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Dependency is one named store checked by the health endpoint.
type Dependency struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies lists the stores the service depends on. rdb is nil when sessions
// live in Postgres.
func Dependencies(db *DB, rdb redis.UniversalClient) []Dependency {
	deps := []Dependency{{Name: "database", Check: db.HealthCheck}}
	if rdb != nil {
		deps = append(deps, Dependency{Name: "redis", Check: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			return rdb.Ping(ctx).Err()
		}})
	}
	return deps
}

// CheckHealth checks every dependency and reports each as "up" or "down" under its
// name, plus an overall "status". healthy is false when any dependency is down.
func CheckHealth(ctx context.Context, deps []Dependency, logger *slog.Logger) (status map[string]string, healthy bool) {
	status = map[string]string{"status": "healthy"}
	healthy = true
	for _, d := range deps {
		if err := d.Check(ctx); err != nil {
			logger.WarnContext(ctx, "health check failed", slog.String("dependency", d.Name), slog.Any("error", err))
			status[d.Name] = "down"
			healthy = false
			continue
		}
		status[d.Name] = "up"
	}
	if !healthy {
		status["status"] = "unhealthy"
	}
	return status, healthy
}
