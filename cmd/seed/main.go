package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bookshop/internal/book"
	"bookshop/internal/cache"
	"bookshop/internal/config"
	"bookshop/internal/imagestore"
	"bookshop/internal/ingest"
	"bookshop/internal/logger"
	"bookshop/internal/platform/openlibrary"
	"bookshop/internal/store"
)

type options struct {
	file     string
	subjects []string
	limit    int
	rps      int
	dryRun   bool
}

func main() {
	var (
		file     = flag.String("file", "", "seed file (.yaml, .yml or .json)")
		subjects = flag.String("subjects", "", "comma separated Open Library subjects to import")
		limit    = flag.Int("limit", 20, "books per subject")
		rps      = flag.Int("rps", 2, "Open Library requests per second")
		dryRun   = flag.Bool("dry-run", false, "load and print records without writing")
	)
	flag.Parse()

	opts := options{
		file:     *file,
		subjects: splitList(*subjects),
		limit:    *limit,
		rps:      *rps,
		dryRun:   *dryRun,
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if opts.file == "" && len(opts.subjects) == 0 {
		return errors.New("nothing to import: pass -file and/or -subjects")
	}

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

	records, err := collect(ctx, opts, log)
	if err != nil {
		return err
	}
	log.Info("records loaded", logger.Int("count", len(records)))
	if opts.dryRun {
		for _, r := range records {
			fmt.Printf("%s by %s (isbn=%q)\n", r.Title, r.Author, r.ISBN)
		}
		return nil
	}

	repo, closeStore, err := store.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	images, err := imagestore.NewDisk(cfg.UploadDir, cfg.MaxImageBytes)
	if err != nil {
		return err
	}

	var bookCache book.Cache
	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cache.DefaultConnectOptions(cfg.RedisAddr, cfg.RedisUser, cfg.RedisPassword, cfg.RedisDB), log)
		if err != nil {
			log.Warn("redis unavailable, cached tags may be stale", logger.Error(err))
		} else {
			defer func() { _ = client.Close() }()
			bookCache = cache.NewRedis(client, cfg.CacheTTL, log)
		}
	}

	service := book.NewService(repo, images, bookCache, log)
	res, err := ingest.NewImporter(service, log).Import(ctx, records)
	fmt.Printf("import finished: %s\n", res)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d records failed", res.Failed)
	}
	return nil
}

func collect(ctx context.Context, opts options, log logger.Logger) ([]ingest.Record, error) {
	var records []ingest.Record
	if opts.file != "" {
		recs, err := ingest.LoadRecords(opts.file)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	if len(opts.subjects) > 0 {
		client := openlibrary.NewClient("", opts.rps, 3)
		recs, err := ingest.NewSubjectSource(client, log).Fetch(ctx, opts.subjects, opts.limit)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
