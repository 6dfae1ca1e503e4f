package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bookshop/internal/config"
	"bookshop/internal/logger"
	"bookshop/internal/platform/postgres"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, status, create")
		name    = flag.String("name", "", "Name for 'create' command")
	)
	flag.Parse()

	log, err := logger.New(os.Getenv("LOG_LEVEL"), true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(*command, *name, log); err != nil {
		log.Error("migration failed", logger.String("command", *command), logger.Error(err))
		os.Exit(1)
	}
}

func run(command, name string, log logger.Logger) error {
	dir := migrationsDir()
	if command == "create" {
		if name == "" {
			return fmt.Errorf("name is required for 'create' command")
		}
		if err := goose.Create(nil, dir, name, "sql"); err != nil {
			return err
		}
		log.Info("migration created", logger.String("name", name))
		return nil
	}

	config.LoadEnvFiles()
	dsn := databaseDSN()

	pool, err := postgres.Open(context.Background(), dsn)
	if err != nil {
		return fmt.Errorf("%w (%s)", err, config.RedactDSN(dsn))
	}
	defer pool.Close()

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	switch command {
	case "up":
		if err := goose.Up(db, dir); err != nil {
			return err
		}
		log.Info("migrations applied")
	case "down":
		if err := goose.Down(db, dir); err != nil {
			return err
		}
		log.Info("migration rolled back")
	case "status":
		return goose.Status(db, dir)
	default:
		return fmt.Errorf("unknown command %q, use: up, down, status, create", command)
	}
	return nil
}
