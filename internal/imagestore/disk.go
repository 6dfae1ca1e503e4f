package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"bookshop/internal/book"

	"github.com/google/uuid"
)

const DefaultURLPrefix = "/uploads"

var (
	// ErrNotImage is returned for uploads whose content type is not image/*.
	ErrNotImage = book.ErrNotImage
	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = book.ErrImageTooLarge
	// ErrInvalidPath is returned for urls that escape the upload directory.
	ErrInvalidPath = errors.New("invalid image path")
)

// Disk keeps images as files under Dir and exposes them under URLPrefix.
type Disk struct {
	Dir       string
	URLPrefix string
	MaxBytes  int64
}

// NewDisk creates the upload directory if needed.
func NewDisk(dir string, maxBytes int64) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Disk{Dir: dir, URLPrefix: DefaultURLPrefix, MaxBytes: maxBytes}, nil
}

// CheckUpload rejects uploads that are not images or are too large, before
// anything is written.
func CheckUpload(up book.Upload, maxBytes int64) error {
	if !strings.HasPrefix(strings.ToLower(up.ContentType), "image/") {
		return ErrNotImage
	}
	if maxBytes > 0 && up.Size > maxBytes {
		return ErrTooLarge
	}
	return nil
}

// Save writes the upload as book-<unixmillis>-<random><ext> and returns its url.
func (d *Disk) Save(ctx context.Context, up book.Upload) (string, error) {
	if err := CheckUpload(up, d.MaxBytes); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := fileName(up.Filename, time.Now())
	dst := filepath.Join(d.Dir, name)
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}

	src := up.Body
	if d.MaxBytes > 0 {
		src = io.LimitReader(up.Body, d.MaxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && d.MaxBytes > 0 && n > d.MaxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(dst)
		if errors.Is(err, ErrTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("write image file: %w", err)
	}
	return d.prefix() + "/" + name, nil
}

// Delete removes the file behind url. Foreign urls and missing files are not
// errors.
func (d *Disk) Delete(ctx context.Context, url string) error {
	if !d.Owns(url) {
		return nil
	}
	name, err := d.name(url)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(d.Dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove image file: %w", err)
	}
	return nil
}

// Owns reports whether url lives under the upload prefix.
func (d *Disk) Owns(url string) bool {
	return strings.HasPrefix(url, d.prefix()+"/")
}

// Handler serves the stored files. Mount it under URLPrefix.
func (d *Disk) Handler() http.Handler {
	return http.StripPrefix(d.prefix(), http.FileServer(noDirFS{http.Dir(d.Dir)}))
}

func (d *Disk) prefix() string {
	p := strings.TrimSuffix(d.URLPrefix, "/")
	if p == "" {
		return DefaultURLPrefix
	}
	return p
}

func (d *Disk) name(url string) (string, error) {
	rest := strings.TrimPrefix(url, d.prefix()+"/")
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" || strings.Contains(rest, "/") || strings.Contains(rest, `\`) || rest != path.Clean(rest) || rest == "." || rest == ".." {
		return "", ErrInvalidPath
	}
	return rest, nil
}

func fileName(original string, at time.Time) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(original)))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("book-%d-%s%s", at.UnixMilli(), suffix, ext)
}

// noDirFS hides directory listings.
type noDirFS struct {
	root http.FileSystem
}

func (n noDirFS) Open(name string) (http.File, error) {
	f, err := n.root.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
