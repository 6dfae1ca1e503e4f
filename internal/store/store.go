// Package store wires the configured catalog backend.
package store

import (
	"context"
	"fmt"
	"time"

	"bookshop/internal/book"
	"bookshop/internal/config"
	"bookshop/internal/logger"
	"bookshop/internal/platform/mongodb"
	"bookshop/internal/platform/postgres"
)

const disconnectTimeout = 5 * time.Second

// Open connects to the backend selected by cfg.Backend. The returned close
// func releases the connection pool.
func Open(ctx context.Context, cfg *config.Config, log logger.Logger) (book.Repository, func(), error) {
	switch cfg.Backend {
	case config.BackendMongo:
		return openMongo(ctx, cfg, log)
	case config.BackendPostgres:
		return openPostgres(ctx, cfg, log)
	default:
		return nil, nil, fmt.Errorf("unknown catalog store %q", cfg.Backend)
	}
}

func openMongo(ctx context.Context, cfg *config.Config, log logger.Logger) (book.Repository, func(), error) {
	client, err := mongodb.Connect(ctx, mongodb.DefaultOptions(cfg.MongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("%w (%s)", err, config.RedactDSN(cfg.MongoURI))
	}

	repo := book.NewMongoRepo(client.Database(cfg.MongoDB), cfg.DBTimeout)
	if err := repo.EnsureIndexes(ctx); err != nil {
		// legacy indexes may clash by name or options
		log.Warn("could not ensure catalog indexes", logger.Error(err))
	}

	log.Info("catalog store ready",
		logger.String("backend", config.BackendMongo),
		logger.String("database", cfg.MongoDB))

	closer := func() {
		if err := mongodb.Disconnect(client, disconnectTimeout); err != nil {
			log.Warn("mongodb disconnect failed", logger.Error(err))
		}
	}
	return repo, closer, nil
}

func openPostgres(ctx context.Context, cfg *config.Config, log logger.Logger) (book.Repository, func(), error) {
	pool, err := postgres.Open(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("%w (%s)", err, config.RedactDSN(cfg.DSN))
	}

	log.Info("catalog store ready",
		logger.String("backend", config.BackendPostgres),
		logger.String("dsn", config.RedactDSN(cfg.DSN)))

	return book.NewPostgresRepo(pool, cfg.DBTimeout), pool.Close, nil
}
