// Command migrate applies the embedded goose migrations to DATABASE_URL.
//
//	migrate up | down | status | version
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/admin-auth-service/internal/logging"
	"github.com/otherjamesbrown/admin-auth-service/migrations"
)

type migrateConfig struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	var cfg migrateConfig
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New("admin-auth-migrate", cfg.LogLevel)

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		logger.Fatal().Err(err).Msg("failed to set goose dialect")
	}

	run := func(fn func(ctx context.Context, db *sql.DB) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			db, err := goose.OpenDBWithDriver("postgres", cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			return fn(cmd.Context(), db)
		}
	}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the admin auth database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: run(func(ctx context.Context, db *sql.DB) error {
				return goose.UpContext(ctx, db, migrations.Dir)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: run(func(ctx context.Context, db *sql.DB) error {
				return goose.DownContext(ctx, db, migrations.Dir)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the status of every migration",
			RunE: run(func(ctx context.Context, db *sql.DB) error {
				return goose.StatusContext(ctx, db, migrations.Dir)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: run(func(ctx context.Context, db *sql.DB) error {
				return goose.VersionContext(ctx, db, migrations.Dir)
			}),
		},
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
	logger.Info().Msg("migration command completed")
}
