package ingest

import (
	"context"
	"fmt"
	"strings"

	"bookshop/internal/logger"
	"bookshop/internal/platform/openlibrary"
)

// OLClient is the part of the Open Library client the subject source needs.
type OLClient interface {
	SearchBooks(ctx context.Context, subject string, limit int) (*openlibrary.SearchResponse, error)
}

// SubjectSource turns Open Library subject searches into records.
type SubjectSource struct {
	client OLClient
	log    logger.Logger
}

func NewSubjectSource(client OLClient, log logger.Logger) *SubjectSource {
	if log == nil {
		log = logger.NewNop()
	}
	return &SubjectSource{client: client, log: log}
}

// Fetch returns up to limit records per subject. Books seen under an earlier
// subject are not repeated.
func (s *SubjectSource) Fetch(ctx context.Context, subjects []string, limit int) ([]Record, error) {
	seen := make(map[string]bool)
	out := []Record{}
	for _, subject := range subjects {
		subject = strings.TrimSpace(subject)
		if subject == "" {
			continue
		}
		res, err := s.client.SearchBooks(ctx, subject, limit)
		if err != nil {
			return out, fmt.Errorf("fetch subject %q: %w", subject, err)
		}

		kept := 0
		for _, doc := range res.Docs {
			rec, ok := fromDoc(subject, doc)
			if !ok {
				continue
			}
			key := rec.ISBN
			if key == "" {
				key = doc.Key
			}
			if key != "" && seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, rec)
			kept++
		}
		s.log.Info("fetched subject",
			logger.String("subject", subject),
			logger.Int("docs", len(res.Docs)),
			logger.Int("kept", kept),
		)
	}
	return out, nil
}

// fromDoc maps a search hit to a record. Hits without a usable title or
// author are dropped.
func fromDoc(subject string, doc openlibrary.Doc) (Record, bool) {
	title := strings.TrimSpace(doc.Title)
	if title == "" || len([]rune(title)) > maxTitleLen || len(doc.AuthorNames) == 0 {
		return Record{}, false
	}
	author := strings.TrimSpace(doc.AuthorNames[0])
	if author == "" {
		return Record{}, false
	}

	rec := Record{
		Title:    title,
		Author:   truncate(author, maxTitleLen),
		Tags:     subjectTags(subject, doc.Subjects),
		ISBN:     pickISBN(doc.ISBN),
		ImageURL: openlibrary.CoverURL(doc.CoverID),
	}
	if len(doc.Subjects) > 0 {
		rec.Description = truncate("Subjects: "+strings.Join(doc.Subjects, ", "), maxDescriptionLen)
	}
	if doc.FirstPublishYear > 0 {
		rec.PublishedDate = fmt.Sprintf("%04d-01-01", doc.FirstPublishYear)
	}
	return rec, true
}

func subjectTags(subject string, subjects []string) []string {
	tags := []string{strings.ToLower(subject)}
	seen := map[string]bool{tags[0]: true}
	for _, s := range subjects {
		if len(tags) == maxTags {
			break
		}
		t := strings.ToLower(strings.TrimSpace(s))
		if t == "" || len(t) > 50 || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	return tags
}

// pickISBN prefers an ISBN-13.
func pickISBN(isbns []string) string {
	for _, s := range isbns {
		if len(s) == 13 {
			return s
		}
	}
	if len(isbns) > 0 {
		return isbns[0]
	}
	return ""
}
