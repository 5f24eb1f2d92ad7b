package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hilthontt/escrow/internal/infrastructure/logging"
	"github.com/hilthontt/escrow/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate applies every pending embedded migration to the database at dsn.
func Migrate(ctx context.Context, dsn string, logger logging.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("create goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	for _, r := range results {
		logger.Info(logging.Postgres, logging.Migration, "migration applied", map[logging.ExtraKey]any{
			logging.Path:    r.Source.Path,
			logging.Latency: r.Duration.String(),
		})
	}
	return nil
}
