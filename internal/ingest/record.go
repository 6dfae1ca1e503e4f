package ingest

import (
	"fmt"
	"os"
	"strings"

	"bookshop/internal/book"

	"gopkg.in/yaml.v3"
)

const (
	maxTitleLen       = 100
	maxDescriptionLen = 1000
	maxTags           = 10
)

// Record is one book in a seed file or fetched from a remote source.
type Record struct {
	Title         string   `yaml:"title" json:"title"`
	Author        string   `yaml:"author" json:"author"`
	Description   string   `yaml:"description" json:"description"`
	Price         float64  `yaml:"price" json:"price"`
	Quantity      int      `yaml:"quantity" json:"quantity"`
	Tags          []string `yaml:"tags" json:"tags"`
	ISBN          string   `yaml:"isbn" json:"isbn"`
	PublishedDate string   `yaml:"publishedDate" json:"publishedDate"`
	ImageURL      string   `yaml:"imageUrl" json:"imageUrl"`
	// ImagePath is a local file uploaded as the book's image.
	ImagePath string `yaml:"imagePath" json:"imagePath"`
}

type seedFile struct {
	Books []Record `yaml:"books"`
}

// LoadRecords reads a YAML or JSON seed file. The document is either a list
// of records or a mapping with a "books" list.
func LoadRecords(path string) ([]Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	if len(node.Content) == 0 {
		return []Record{}, nil
	}

	var records []Record
	switch node.Content[0].Kind {
	case yaml.SequenceNode:
		err = node.Content[0].Decode(&records)
	case yaml.MappingNode:
		var f seedFile
		err = node.Content[0].Decode(&f)
		records = f.Books
	default:
		err = fmt.Errorf("expected a list of books")
	}
	if err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// Input converts the record into a create request. Empty optional fields are
// left unset.
func (r Record) Input() book.Input {
	in := book.Input{
		Title:       &r.Title,
		Author:      &r.Author,
		Description: &r.Description,
		Price:       &r.Price,
		Quantity:    &r.Quantity,
		Tags:        r.Tags,
	}
	if r.ISBN != "" {
		in.ISBN = &r.ISBN
	}
	if r.PublishedDate != "" {
		in.PublishedDate = &r.PublishedDate
	}
	if r.ImageURL != "" && r.ImagePath == "" {
		in.ImageURL = &r.ImageURL
	}
	return in
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max-3]) + "..."
}
