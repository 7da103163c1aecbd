// Package main applies the SQL migrations under db/migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/stratalab/tradexec/db/migrator"
	"github.com/stratalab/tradexec/internal/pkg/env"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	// Load environment
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbURL := fs.String("db", "", "PostgreSQL connection URL")
	dir := fs.String("dir", "./db/migrations", "migrations directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	url := *dbURL
	if url == "" {
		url = env.Get("DATABASE_URL", "")
	}
	if url == "" {
		return fmt.Errorf("database URL not provided (use -db flag or DATABASE_URL env var)")
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	m := migrator.New(pool, *dir)
	if err := m.ApplyAll(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	applied, err := m.ListApplied(ctx)
	if err != nil {
		return fmt.Errorf("listing applied migrations: %w", err)
	}
	slog.Info("migrations up to date", "applied", len(applied))

	return nil
}
