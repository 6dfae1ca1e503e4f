package book

import (
	"context"
	"time"
)

//go:generate mockgen -source=ports.go -destination=mock_ports_test.go -package=book

// Repository defines the contract for book data storage.
type Repository interface {
	// List returns the window selected by q plus the filtered total.
	List(ctx context.Context, q Query) ([]Book, int64, error)
	Tags(ctx context.Context) ([]string, error)
	Get(ctx context.Context, id string) (Book, error)
	// Create assigns b.ID.
	Create(ctx context.Context, b *Book) error
	Update(ctx context.Context, b *Book) error
	UpdateQuantity(ctx context.Context, id string, quantity int, at time.Time) (Book, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, text string, limit int) ([]Book, error)
	Ping(ctx context.Context) error
}

// ImageStore persists uploaded cover images.
type ImageStore interface {
	Save(ctx context.Context, up Upload) (string, error)
	Delete(ctx context.Context, url string) error
	// Owns reports whether url points at a file kept by this store.
	Owns(url string) bool
}

// Cache is an optional read-through cache for hot lookups.
type Cache interface {
	GetBook(ctx context.Context, id string) (Book, bool)
	SetBook(ctx context.Context, b Book)
	GetTags(ctx context.Context) ([]string, bool)
	SetTags(ctx context.Context, tags []string)
	Invalidate(ctx context.Context, ids ...string)
}

// NopCache never hits.
type NopCache struct{}

func (NopCache) GetBook(context.Context, string) (Book, bool) { return Book{}, false }
func (NopCache) SetBook(context.Context, Book)                {}
func (NopCache) GetTags(context.Context) ([]string, bool)     { return nil, false }
func (NopCache) SetTags(context.Context, []string)            {}
func (NopCache) Invalidate(context.Context, ...string)        {}
