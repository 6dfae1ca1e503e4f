package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookshop/internal/book"
	"bookshop/internal/cache"
	"bookshop/internal/config"
	"bookshop/internal/httpx"
	"bookshop/internal/imagestore"
	"bookshop/internal/logger"
	"bookshop/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "book-service: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, cfg.PrettyLog)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeStore, err := store.Open(ctx, cfg, log)
	if err != nil {
		log.Error("cannot open catalog store", logger.String("backend", cfg.Backend), logger.Error(err))
		return err
	}
	defer closeStore()

	var bookCache book.Cache
	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cache.DefaultConnectOptions(cfg.RedisAddr, cfg.RedisUser, cfg.RedisPassword, cfg.RedisDB), log)
		if err != nil {
			log.Warn("redis unavailable, serving without cache", logger.String("addr", cfg.RedisAddr), logger.Error(err))
		} else {
			defer func() { _ = client.Close() }()
			bookCache = cache.NewRedis(client, cfg.CacheTTL, log)
		}
	}

	images, err := imagestore.NewDisk(cfg.UploadDir, cfg.MaxImageBytes)
	if err != nil {
		return err
	}

	service := book.NewService(repo, images, bookCache, log)
	handler := book.NewHTTPHandler(service, log, cfg.MaxImageBytes)

	var limiter *httpx.RateLimitMiddleware
	if cfg.RateLimitRPS > 0 {
		limiter = httpx.NewRateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer limiter.Stop()
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: newRouter(routerDeps{
			log:           log,
			books:         handler,
			store:         service,
			uploads:       images.Handler(),
			uploadsPrefix: images.URLPrefix,
			maxImageBytes: cfg.MaxImageBytes,
			corsOrigins:   cfg.CORSOrigins,
			rateLimit:     limiter,
			jwtSecret:     cfg.JWTSecret,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("book service listening",
			logger.String("addr", cfg.Addr),
			logger.String("backend", cfg.Backend),
			logger.Bool("cache", bookCache != nil),
			logger.Bool("auth", cfg.JWTSecret != ""),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			log.Error("server error", logger.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down", logger.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
