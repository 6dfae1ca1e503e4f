package book

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100

	// MaxPage keeps (page-1)*limit from overflowing.
	MaxPage = math.MaxInt32
	// SearchLimit caps full-text search results.
	SearchLimit = 20
)

// Sort selects the result ordering.
type Sort int

const (
	// SortCreatedDesc orders newest first. Used by listings.
	SortCreatedDesc Sort = iota
	// SortRelevance orders by text-search score, best first.
	SortRelevance
)

// Filter narrows the catalog. Zero-valued fields are inactive; active fields
// are ANDed together.
type Filter struct {
	Title       string
	Author      string
	ISBN        string
	Tags        []string // any-of
	MinPrice    *float64
	MaxPrice    *float64
	MinQuantity *int
	MaxQuantity *int
	// PublishedDate matches the whole UTC calendar day.
	PublishedDate *time.Time
}

// Query defines filters, ordering and pagination for listing books.
type Query struct {
	Filter Filter
	Sort   Sort
	Page   int
	Limit  int
}

// ParseQuery turns raw query string values into a Query. Malformed values
// fall back to their defaults instead of failing.
func ParseQuery(v url.Values) Query {
	q := Query{
		Filter: Filter{
			Title:  strings.TrimSpace(v.Get("title")),
			Author: strings.TrimSpace(v.Get("author")),
			ISBN:   strings.TrimSpace(v.Get("isbn")),
			Tags:   splitTags(v.Get("tags")),
		},
		Sort:  SortCreatedDesc,
		Page:  DefaultPage,
		Limit: DefaultLimit,
	}

	q.Filter.MinPrice = parseFloat(v.Get("minPrice"))
	q.Filter.MaxPrice = parseFloat(v.Get("maxPrice"))
	q.Filter.MinQuantity = parseInt(v.Get("minQuantity"))
	q.Filter.MaxQuantity = parseInt(v.Get("maxQuantity"))

	if d, err := ParseDate(v.Get("publishedDate")); err == nil && d != nil {
		day := truncateDay(*d)
		q.Filter.PublishedDate = &day
	}

	if page, err := strconv.Atoi(strings.TrimSpace(v.Get("page"))); err == nil && page >= 1 {
		q.Page = min(page, MaxPage)
	}
	if limit, err := strconv.Atoi(strings.TrimSpace(v.Get("limit"))); err == nil && limit >= 1 {
		q.Limit = min(limit, MaxLimit)
	}
	return q
}

// Skip is the number of filtered records before the current window.
func (q Query) Skip() int {
	if q.Page <= 1 || q.Limit <= 0 {
		return 0
	}
	if q.Page-1 > math.MaxInt/q.Limit {
		return math.MaxInt
	}
	return (q.Page - 1) * q.Limit
}

// TotalPages returns ceil(total / limit).
func TotalPages(total int64, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

// Matches reports whether b satisfies every active filter. Store backends
// translate the same predicate into their own query language.
func (f Filter) Matches(b Book) bool {
	if f.Title != "" && !containsFold(b.Title, f.Title) {
		return false
	}
	if f.Author != "" && !containsFold(b.Author, f.Author) {
		return false
	}
	if f.ISBN != "" && (b.ISBN == nil || !containsFold(*b.ISBN, f.ISBN)) {
		return false
	}
	if len(f.Tags) > 0 && !anyTag(b.Tags, f.Tags) {
		return false
	}
	if f.MinPrice != nil && b.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && b.Price > *f.MaxPrice {
		return false
	}
	if f.MinQuantity != nil && b.Quantity < *f.MinQuantity {
		return false
	}
	if f.MaxQuantity != nil && b.Quantity > *f.MaxQuantity {
		return false
	}
	if f.PublishedDate != nil {
		if b.PublishedDate == nil {
			return false
		}
		start, end := f.DayRange()
		if b.PublishedDate.Before(start) || !b.PublishedDate.Before(end) {
			return false
		}
	}
	return true
}

// DayRange returns the half-open [start, end) interval of the published date
// filter. Only valid when PublishedDate is set.
func (f Filter) DayRange() (time.Time, time.Time) {
	start := truncateDay(*f.PublishedDate)
	return start, start.AddDate(0, 0, 1)
}

// ParseDate accepts YYYY-MM-DD or RFC 3339. An empty string yields nil.
func ParseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, newValidationError("publishedDate", "publishedDate must be a valid date")
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func parseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return nil
	}
	return &f
}

func parseInt(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &i
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func anyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
