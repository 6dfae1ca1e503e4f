package book

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success     bool            `json:"success"`
	Message     string          `json:"message"`
	Count       *int            `json:"count"`
	Total       *int64          `json:"total"`
	TotalPages  *int            `json:"totalPages"`
	CurrentPage *int            `json:"currentPage"`
	Data        json.RawMessage `json:"data"`
	Error       string          `json:"error"`
	Details     []FieldError    `json:"details"`
}

type handlerDeps struct {
	repo   *MockRepository
	images *MockImageStore
	router http.Handler
}

func newHandlerDeps(t *testing.T, guard ...func(http.Handler) http.Handler) handlerDeps {
	t.Helper()
	ctrl := gomock.NewController(t)
	repo := NewMockRepository(ctrl)
	images := NewMockImageStore(ctrl)
	handler := NewHTTPHandler(NewService(repo, images, nil, nil), nil, 1024)

	r := chi.NewRouter()
	r.Route("/api/books", func(r chi.Router) { handler.Register(r, guard...) })
	return handlerDeps{repo: repo, images: images, router: r}
}

func (d handlerDeps) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func jsonRequest(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestHTTPHandler_List(t *testing.T) {
	d := newHandlerDeps(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		d.repo.EXPECT().List(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, q Query) ([]Book, int64, error) {
			assert.Equal(t, 2, q.Page)
			assert.Equal(t, 5, q.Limit)
			assert.Equal(t, []string{"fiction", "classic"}, q.Filter.Tags)
			return []Book{{ID: "1", Title: "Test", Author: "A", Tags: []string{}, CreatedAt: created, UpdatedAt: created}}, 7, nil
		})

		w, env := d.do(t, httptest.NewRequest(http.MethodGet, "/api/books?page=2&limit=5&tags=fiction,classic", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, env.Success)
		assert.Equal(t, 1, *env.Count)
		assert.Equal(t, int64(7), *env.Total)
		assert.Equal(t, 2, *env.TotalPages)
		assert.Equal(t, 2, *env.CurrentPage)

		var books []map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &books))
		require.Len(t, books, 1)
		assert.Equal(t, "1", books[0]["_id"])
		assert.Equal(t, "2024-01-02T03:04:05Z", books[0]["createdAt"])
		assert.Contains(t, books[0], "imageUrl")
	})

	t.Run("empty", func(t *testing.T) {
		d.repo.EXPECT().List(gomock.Any(), gomock.Any()).Return(nil, int64(0), nil)

		w, env := d.do(t, httptest.NewRequest(http.MethodGet, "/api/books", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, string(env.Data))
		assert.Equal(t, 0, *env.Count)
	})

	t.Run("error", func(t *testing.T) {
		d.repo.EXPECT().List(gomock.Any(), gomock.Any()).Return(nil, int64(0), context.DeadlineExceeded)

		w, env := d.do(t, httptest.NewRequest(http.MethodGet, "/api/books", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.False(t, env.Success)
		assert.Equal(t, "Error fetching books", env.Message)
		assert.Equal(t, context.DeadlineExceeded.Error(), env.Error)
	})
}

func TestHTTPHandler_SearchAndTags(t *testing.T) {
	d := newHandlerDeps(t)

	t.Run("search requires query", func(t *testing.T) {
		w, env := d.do(t, httptest.NewRequest(http.MethodGet, "/api/books/search", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Search query is required", env.Message)
	})

	t.Run("search", func(t *testing.T) {
		d.repo.EXPECT().Search(gomock.Any(), "dune messiah", SearchLimit).Return([]Book{{ID: "1"}, {ID: "2"}}, nil)

		w, env := d.do(t, httptest.NewRequest(http.MethodGet, "/api/books/search?query=dune+messiah", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 2, *env.Count)
		assert.Nil(t, env.Total)
	})

	t.Run("tags", func(t *testing.T) {
		d.repo.EXPECT().Tags(gomock.Any()).Return([]string{"b", "a"}, nil)

		w, env := d.do(t, httptest.NewRequest(http.MethodGet, "/api/books/tags", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `["a","b"]`, string(env.Data))
		assert.Equal(t, 2, *env.Count)
	})

	t.Run("tags error", func(t *testing.T) {
		d.repo.EXPECT().Tags(gomock.Any()).Return(nil, context.Canceled)

		w, env := d.do(t, httptest.NewRequest(http.MethodGet, "/api/books/tags", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "Error fetching tags", env.Message)
	})
}

func TestHTTPHandler_Get(t *testing.T) {
	d := newHandlerDeps(t)

	t.Run("success", func(t *testing.T) {
		d.repo.EXPECT().Get(gomock.Any(), "abc").Return(Book{ID: "abc", Title: "Test"}, nil)

		w, env := d.do(t, httptest.NewRequest(http.MethodGet, "/api/books/abc", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		var b Book
		require.NoError(t, json.Unmarshal(env.Data, &b))
		assert.Equal(t, "abc", b.ID)
	})

	t.Run("not found", func(t *testing.T) {
		d.repo.EXPECT().Get(gomock.Any(), "nope").Return(Book{}, ErrNotFound)

		w, env := d.do(t, httptest.NewRequest(http.MethodGet, "/api/books/nope", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "Book not found", env.Message)
	})
}

func TestHTTPHandler_Create(t *testing.T) {
	d := newHandlerDeps(t)

	t.Run("json body", func(t *testing.T) {
		d.repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, b *Book) error {
			assert.Equal(t, "Dune", b.Title)
			assert.Equal(t, 120000.0, b.Price)
			assert.Equal(t, 3, b.Quantity)
			assert.Equal(t, []string{"sci-fi", "classic"}, b.Tags)
			require.NotNil(t, b.PublishedDate)
			b.ID = "new"
			return nil
		})

		body := `{"title":"Dune","author":"Frank Herbert","price":120000,"quantity":3,
			"tags":["sci-fi","classic"],"publishedDate":"1965-08-01"}`
		w, env := d.do(t, jsonRequest(http.MethodPost, "/api/books", body))

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "Book created successfully", env.Message)
		var b Book
		require.NoError(t, json.Unmarshal(env.Data, &b))
		assert.Equal(t, "new", b.ID)
	})

	t.Run("urlencoded body with comma tags", func(t *testing.T) {
		d.repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, b *Book) error {
			assert.Equal(t, []string{"a", "b"}, b.Tags)
			assert.Equal(t, 9.5, b.Price)
			return nil
		})

		r := httptest.NewRequest(http.MethodPost, "/api/books", strings.NewReader("title=T&author=A&price=9.5&tags=a,b"))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w, _ := d.do(t, r)
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("multipart with image", func(t *testing.T) {
		d.images.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, up Upload) (string, error) {
			assert.Equal(t, "cover.png", up.Filename)
			assert.Equal(t, "image/png", up.ContentType)
			return "/uploads/book-1.png", nil
		})
		d.repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

		r := multipartRequest(t, http.MethodPost, "/api/books",
			map[string]string{"title": "T", "author": "A", "price": "1", "tags": `["x","y"]`},
			"cover.png", "image/png", []byte("png"))
		w, env := d.do(t, r)

		require.Equal(t, http.StatusCreated, w.Code, env.Error)
		var b Book
		require.NoError(t, json.Unmarshal(env.Data, &b))
		assert.Equal(t, "/uploads/book-1.png", *b.ImageURL)
		assert.Equal(t, []string{"x", "y"}, b.Tags)
	})

	t.Run("multipart rejects non-image", func(t *testing.T) {
		r := multipartRequest(t, http.MethodPost, "/api/books",
			map[string]string{"title": "T", "author": "A", "price": "1"},
			"notes.txt", "text/plain", []byte("hello"))
		w, env := d.do(t, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Not an image! Please upload an image.", env.Error)
	})

	t.Run("multipart rejects large image", func(t *testing.T) {
		r := multipartRequest(t, http.MethodPost, "/api/books",
			map[string]string{"title": "T", "author": "A", "price": "1"},
			"big.png", "image/png", bytes.Repeat([]byte("x"), 2048))
		w, env := d.do(t, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		require.Len(t, env.Details, 1)
		assert.Equal(t, "image", env.Details[0].Field)
	})

	t.Run("validation error", func(t *testing.T) {
		w, env := d.do(t, jsonRequest(http.MethodPost, "/api/books", `{"title":"","price":"abc"}`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Validation error", env.Message)
		fields := map[string]bool{}
		for _, f := range env.Details {
			fields[f.Field] = true
		}
		assert.True(t, fields["price"])
	})

	t.Run("malformed json", func(t *testing.T) {
		w, env := d.do(t, jsonRequest(http.MethodPost, "/api/books", `{"title":`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "body", env.Details[0].Field)
	})

	t.Run("duplicate isbn", func(t *testing.T) {
		d.repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(ErrDuplicateISBN)

		w, env := d.do(t, jsonRequest(http.MethodPost, "/api/books", `{"title":"T","author":"A","price":1,"isbn":"978"}`))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "Duplicate ISBN", env.Message)
	})

	t.Run("body too large", func(t *testing.T) {
		r := jsonRequest(http.MethodPost, "/api/books", `{"title":"`+strings.Repeat("x", 64)+`"}`)
		limited := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, 16)
			d.router.ServeHTTP(w, r)
		})
		w := httptest.NewRecorder()
		limited.ServeHTTP(w, r)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestHTTPHandler_Update(t *testing.T) {
	d := newHandlerDeps(t)
	existing := Book{ID: "id-1", Title: "Old", Author: "A", Price: 1, Tags: []string{"t"}}

	t.Run("partial", func(t *testing.T) {
		d.repo.EXPECT().Get(gomock.Any(), "id-1").Return(existing, nil)
		d.repo.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, b *Book) error {
			assert.Equal(t, "Old", b.Title)
			assert.Equal(t, 2.0, b.Price)
			return nil
		})

		w, env := d.do(t, jsonRequest(http.MethodPut, "/api/books/id-1", `{"price":2}`))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Book updated successfully", env.Message)
	})

	t.Run("not found", func(t *testing.T) {
		d.repo.EXPECT().Get(gomock.Any(), "zzz").Return(Book{}, ErrNotFound)

		w, _ := d.do(t, jsonRequest(http.MethodPut, "/api/books/zzz", `{"price":2}`))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHTTPHandler_UpdateQuantity(t *testing.T) {
	d := newHandlerDeps(t)

	t.Run("success", func(t *testing.T) {
		d.repo.EXPECT().UpdateQuantity(gomock.Any(), "id-1", 0, gomock.Any()).Return(Book{ID: "id-1"}, nil)

		w, env := d.do(t, jsonRequest(http.MethodPatch, "/api/books/id-1/quantity", `{"quantity":0}`))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Book quantity updated successfully", env.Message)
	})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing", `{}`, "Quantity is required"},
		{"null", `{"quantity":null}`, "Quantity is required"},
		{"empty body", ``, "Quantity is required"},
		{"negative", `{"quantity":-3}`, "Quantity cannot be negative"},
		{"fraction", `{"quantity":1.5}`, "quantity must be an integer"},
		{"beyond int32", `{"quantity":3000000000}`, "quantity must be between -2147483648 and 2147483647"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := d.do(t, jsonRequest(http.MethodPatch, "/api/books/id-1/quantity", tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.want, env.Message)
		})
	}
}

func TestHTTPHandler_Delete(t *testing.T) {
	d := newHandlerDeps(t)

	d.repo.EXPECT().Get(gomock.Any(), "id-1").Return(Book{ID: "id-1"}, nil)
	d.repo.EXPECT().Delete(gomock.Any(), "id-1").Return(nil)

	w, env := d.do(t, httptest.NewRequest(http.MethodDelete, "/api/books/id-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Book deleted successfully", env.Message)
	assert.Empty(t, env.Data)
}

func TestHTTPHandler_Guard(t *testing.T) {
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false}`))
		})
	}
	d := newHandlerDeps(t, deny)

	for _, r := range []*http.Request{
		jsonRequest(http.MethodPost, "/api/books", `{}`),
		jsonRequest(http.MethodPut, "/api/books/id-1", `{}`),
		jsonRequest(http.MethodPatch, "/api/books/id-1/quantity", `{"quantity":1}`),
		httptest.NewRequest(http.MethodDelete, "/api/books/id-1", nil),
	} {
		w, _ := d.do(t, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code, r.Method)
	}

	d.repo.EXPECT().Get(gomock.Any(), "id-1").Return(Book{ID: "id-1"}, nil)
	w, _ := d.do(t, httptest.NewRequest(http.MethodGet, "/api/books/id-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func multipartRequest(t *testing.T, method, target string, fields map[string]string, filename, contentType string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}
