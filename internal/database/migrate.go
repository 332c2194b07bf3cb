package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/warden/migrations"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// Migrate applies the embedded goose migrations using dsn.
func Migrate(ctx context.Context, dsn string, logger *slog.Logger) error {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer sqlDB.Close()

	return MigrateDB(ctx, sqlDB, logger)
}

// MigrateDB applies the embedded migrations on an open database/sql handle.
func MigrateDB(ctx context.Context, sqlDB *sql.DB, logger *slog.Logger) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrations.FS)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("migration applied",
			slog.Int64("version", r.Source.Version),
			slog.Duration("duration", r.Duration),
		)
	}
	return nil
}
