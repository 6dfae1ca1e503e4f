package book

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"bookshop/internal/logger"
)

// Service provides book-related business logic.
type Service struct {
	repo   Repository
	images ImageStore
	cache  Cache
	log    logger.Logger
}

// NewService creates a new book service. cache may be nil.
func NewService(repo Repository, images ImageStore, cache Cache, log logger.Logger) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{repo: repo, images: images, cache: cache, log: log}
}

// List returns one page of books matching the query.
func (s *Service) List(ctx context.Context, q Query) (Page, error) {
	items, total, err := s.repo.List(ctx, q)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []Book{}
	}
	return Page{
		Items:       items,
		Count:       len(items),
		Total:       total,
		TotalPages:  TotalPages(total, q.Limit),
		CurrentPage: q.Page,
	}, nil
}

// Tags returns every distinct tag in use, sorted.
func (s *Service) Tags(ctx context.Context) ([]string, error) {
	if tags, ok := s.cache.GetTags(ctx); ok {
		return tags, nil
	}
	tags, err := s.repo.Tags(ctx)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []string{}
	}
	sort.Strings(tags)
	s.cache.SetTags(ctx, tags)
	return tags, nil
}

// Get returns a book by id.
func (s *Service) Get(ctx context.Context, id string) (Book, error) {
	if b, ok := s.cache.GetBook(ctx, id); ok {
		return b, nil
	}
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return Book{}, err
	}
	s.cache.SetBook(ctx, b)
	return b, nil
}

// Create validates and stores a new book. An uploaded image is written before
// the record and becomes its imageUrl.
func (s *Service) Create(ctx context.Context, in Input, up *Upload) (Book, error) {
	var missing []FieldError
	if in.Title == nil {
		missing = append(missing, FieldError{Field: "title", Message: "title is required"})
	}
	if in.Author == nil {
		missing = append(missing, FieldError{Field: "author", Message: "author is required"})
	}
	if in.Price == nil {
		missing = append(missing, FieldError{Field: "price", Message: "price is required"})
	}

	var b Book
	if err := apply(&b, in); err != nil {
		return Book{}, mergeValidation(missing, err)
	}
	if err := Validate(b); err != nil || len(missing) > 0 {
		return Book{}, mergeValidation(missing, err)
	}

	if up == nil && in.ImageURL != nil {
		b.ImageURL = nonEmpty(*in.ImageURL)
	}
	stored, err := s.storeImage(ctx, &b, up)
	if err != nil {
		return Book{}, err
	}

	t := now()
	b.CreatedAt, b.UpdatedAt = t, t
	if err := s.repo.Create(ctx, &b); err != nil {
		s.discardImage(ctx, stored)
		return Book{}, err
	}

	s.cache.Invalidate(ctx)
	s.log.Info("book created", logger.String("id", b.ID))
	return b, nil
}

// Update merges the provided fields into an existing book. A new image
// replaces the previous stored one, which is removed after the record is saved.
func (s *Service) Update(ctx context.Context, id string, in Input, up *Upload) (Book, error) {
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return Book{}, err
	}

	b := cur
	b.Tags = append([]string(nil), cur.Tags...)
	if err := apply(&b, in); err != nil {
		return Book{}, err
	}
	if err := Validate(b); err != nil {
		return Book{}, err
	}

	if up == nil && in.ImageURL != nil && !sameURL(cur.ImageURL, in.ImageURL) {
		b.ImageURL = nonEmpty(*in.ImageURL)
	}
	stored, err := s.storeImage(ctx, &b, up)
	if err != nil {
		return Book{}, err
	}

	b.UpdatedAt = now()
	if b.UpdatedAt.Before(b.CreatedAt) {
		b.UpdatedAt = b.CreatedAt
	}
	if err := s.repo.Update(ctx, &b); err != nil {
		s.discardImage(ctx, stored)
		return Book{}, err
	}

	if stored != "" && cur.ImageURL != nil && *cur.ImageURL != stored {
		s.discardImage(ctx, *cur.ImageURL)
	}
	s.cache.Invalidate(ctx, id)
	return b, nil
}

// UpdateQuantity sets the stock level of a book.
func (s *Service) UpdateQuantity(ctx context.Context, id string, quantity *int) (Book, error) {
	if quantity == nil {
		return Book{}, newValidationError("quantity", "Quantity is required")
	}
	if *quantity < 0 {
		return Book{}, newValidationError("quantity", "Quantity cannot be negative")
	}

	b, err := s.repo.UpdateQuantity(ctx, id, *quantity, now())
	if err != nil {
		return Book{}, err
	}
	s.cache.Invalidate(ctx, id)
	return b, nil
}

// Delete removes a book and its stored image.
func (s *Service) Delete(ctx context.Context, id string) error {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if b.ImageURL != nil {
		s.discardImage(ctx, *b.ImageURL)
	}
	s.cache.Invalidate(ctx, id)
	s.log.Info("book deleted", logger.String("id", id))
	return nil
}

// Search runs a full-text query, best matches first.
func (s *Service) Search(ctx context.Context, text string) ([]Book, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, newValidationError("query", "Search query is required")
	}
	books, err := s.repo.Search(ctx, text, SearchLimit)
	if err != nil {
		return nil, err
	}
	if books == nil {
		books = []Book{}
	}
	return books, nil
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) storeImage(ctx context.Context, b *Book, up *Upload) (string, error) {
	if up == nil {
		return "", nil
	}
	if s.images == nil {
		return "", errors.New("image uploads are not configured")
	}
	url, err := s.images.Save(ctx, *up)
	switch {
	case errors.Is(err, ErrNotImage):
		return "", newValidationError("image", "Not an image! Please upload an image.")
	case errors.Is(err, ErrImageTooLarge):
		return "", newValidationError("image", "image exceeds the maximum upload size")
	case err != nil:
		return "", fmt.Errorf("store image: %w", err)
	}
	b.ImageURL = &url
	return url, nil
}

// discardImage removes a stored image; failures are logged and swallowed.
func (s *Service) discardImage(ctx context.Context, url string) {
	if url == "" || s.images == nil || !s.images.Owns(url) {
		return
	}
	if err := s.images.Delete(ctx, url); err != nil {
		s.log.Warn("failed to delete image", logger.String("url", url), logger.Error(err))
	}
}

// apply copies the present fields of in onto b, trimming strings.
func apply(b *Book, in Input) error {
	if in.Title != nil {
		b.Title = strings.TrimSpace(*in.Title)
	}
	if in.Author != nil {
		b.Author = strings.TrimSpace(*in.Author)
	}
	if in.Description != nil {
		b.Description = strings.TrimSpace(*in.Description)
	}
	if in.Price != nil {
		b.Price = *in.Price
	}
	if in.Quantity != nil {
		b.Quantity = *in.Quantity
	}
	if in.Tags != nil {
		b.Tags = normalizeTags(in.Tags)
	}
	if b.Tags == nil {
		b.Tags = []string{}
	}
	if in.ISBN != nil {
		b.ISBN = nonEmpty(*in.ISBN)
	}
	if in.PublishedDate != nil {
		d, err := ParseDate(*in.PublishedDate)
		if err != nil {
			return err
		}
		b.PublishedDate = d
	}
	return nil
}

func normalizeTags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func sameURL(cur *string, next *string) bool {
	a, b := "", strings.TrimSpace(*next)
	if cur != nil {
		a = *cur
	}
	return a == b
}

func mergeValidation(missing []FieldError, err error) error {
	var verr *ValidationError
	if err != nil && !errors.As(err, &verr) {
		return err
	}
	out := &ValidationError{Fields: missing}
	if verr != nil {
		for _, f := range verr.Fields {
			if !hasField(missing, f.Field) {
				out.Fields = append(out.Fields, f)
			}
		}
	}
	return out
}

func hasField(fields []FieldError, name string) bool {
	for _, f := range fields {
		if f.Field == name {
			return true
		}
	}
	return false
}
