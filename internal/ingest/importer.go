package ingest

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bookshop/internal/book"
	"bookshop/internal/logger"
)

const (
	defaultRetries = 3
	defaultBackoff = 500 * time.Millisecond
)

// Creator stores new books. *book.Service implements it.
type Creator interface {
	Create(ctx context.Context, in book.Input, up *book.Upload) (book.Book, error)
}

// Result summarizes an import.
type Result struct {
	Created int
	Skipped int
	Failed  int
}

func (r Result) String() string {
	return fmt.Sprintf("created=%d skipped=%d failed=%d", r.Created, r.Skipped, r.Failed)
}

// Importer pushes records through the catalog service one by one.
type Importer struct {
	creator Creator
	log     logger.Logger
	retries int
	backoff time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewImporter(creator Creator, log logger.Logger) *Importer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Importer{
		creator: creator,
		log:     log,
		retries: defaultRetries,
		backoff: defaultBackoff,
		sleep:   sleepCtx,
	}
}

// Import creates every record. Records whose isbn already exists are skipped,
// invalid ones fail immediately and anything else is retried with backoff.
func (im *Importer) Import(ctx context.Context, records []Record) (Result, error) {
	var res Result
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		err := im.importOne(ctx, rec)
		switch {
		case err == nil:
			res.Created++
		case errors.Is(err, book.ErrDuplicateISBN):
			res.Skipped++
			im.log.Info("book already exists, skipping", logger.String("isbn", rec.ISBN), logger.String("title", rec.Title))
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return res, err
		default:
			res.Failed++
			im.log.Warn("failed to import book",
				logger.Int("index", i),
				logger.String("title", rec.Title),
				logger.Error(err),
			)
		}
	}
	return res, nil
}

func (im *Importer) importOne(ctx context.Context, rec Record) error {
	var err error
	for attempt := 0; attempt <= im.retries; attempt++ {
		if attempt > 0 {
			if serr := im.sleep(ctx, im.backoff*time.Duration(1<<uint(attempt-1))); serr != nil {
				return serr
			}
		}
		err = im.create(ctx, rec)
		if err == nil || !retryable(err) {
			return err
		}
		im.log.Debug("retrying book import", logger.String("title", rec.Title), logger.Int("attempt", attempt+1), logger.Error(err))
	}
	return err
}

func (im *Importer) create(ctx context.Context, rec Record) error {
	var up *book.Upload
	if rec.ImagePath != "" {
		f, u, err := openImage(rec.ImagePath)
		if err != nil {
			return err
		}
		defer f.Close()
		up = u
	}
	_, err := im.creator.Create(ctx, rec.Input(), up)
	return err
}

// imageError marks a local image that cannot be uploaded.
type imageError struct{ err error }

func (e imageError) Error() string { return e.err.Error() }
func (e imageError) Unwrap() error { return e.err }

func openImage(path string) (*os.File, *book.Upload, error) {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if !strings.HasPrefix(ct, "image/") {
		return nil, nil, imageError{fmt.Errorf("%s: not an image", path)}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, imageError{fmt.Errorf("open image: %w", err)}
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, imageError{fmt.Errorf("stat image: %w", err)}
	}
	return f, &book.Upload{
		Filename:    filepath.Base(path),
		ContentType: ct,
		Size:        st.Size(),
		Body:        f,
	}, nil
}

func retryable(err error) bool {
	var verr *book.ValidationError
	var ierr imageError
	switch {
	case errors.As(err, &verr), errors.As(err, &ierr):
		return false
	case errors.Is(err, book.ErrDuplicateISBN),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
