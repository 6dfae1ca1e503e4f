package book

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a book is not found. Malformed ids map to it too.
	ErrNotFound = errors.New("book not found")
	// ErrDuplicateISBN is returned when another book already carries the isbn.
	ErrDuplicateISBN = errors.New("a book with this isbn already exists")
	// ErrNotImage is returned by an ImageStore for uploads that are not image/*.
	ErrNotImage = errors.New("only image files are allowed")
	// ErrImageTooLarge is returned by an ImageStore when an upload exceeds its size limit.
	ErrImageTooLarge = errors.New("image exceeds the maximum upload size")
)

// Book represents a catalog entry.
type Book struct {
	ID            string     `json:"_id"`
	Title         string     `json:"title"`
	Author        string     `json:"author"`
	Description   string     `json:"description,omitempty"`
	Price         float64    `json:"price"`
	Quantity      int        `json:"quantity"`
	Tags          []string   `json:"tags"`
	ImageURL      *string    `json:"imageUrl"`
	ISBN          *string    `json:"isbn,omitempty"`
	PublishedDate *time.Time `json:"publishedDate,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Input carries the client supplied fields of a create or update. A nil field
// means "not provided"; a non-nil empty Tags clears the tag list.
type Input struct {
	Title         *string
	Author        *string
	Description   *string
	Price         *float64
	Quantity      *int
	Tags          []string
	ImageURL      *string
	ISBN          *string
	PublishedDate *string
}

// Upload is an image file attached to a create or update request.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Page is one window of a filtered listing.
type Page struct {
	Items       []Book
	Count       int
	Total       int64
	TotalPages  int
	CurrentPage int
}

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when input violates the book rules.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation error"
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return "validation error: " + strings.Join(msgs, "; ")
}

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: fmt.Sprintf(format, args...)}}}
}

// now is swapped in tests.
var now = func() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
