package book

import (
	"errors"
	"net/http"

	"bookshop/internal/httpx"
	"bookshop/internal/logger"

	"github.com/go-chi/chi/v5"
)

type HTTPHandler struct {
	service       *Service
	log           logger.Logger
	maxImageBytes int64
}

func NewHTTPHandler(service *Service, log logger.Logger, maxImageBytes int64) *HTTPHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &HTTPHandler{service: service, log: log, maxImageBytes: maxImageBytes}
}

// Register mounts the catalog routes on r. guard, when given, wraps the
// mutating routes.
func (h *HTTPHandler) Register(r chi.Router, guard ...func(http.Handler) http.Handler) {
	r.Get("/", h.List)
	r.Get("/search", h.Search)
	r.Get("/tags", h.Tags)
	r.Get("/{id}", h.Get)

	r.Group(func(r chi.Router) {
		r.Use(guard...)
		r.Post("/", h.Create)
		r.Put("/{id}", h.Update)
		r.Patch("/{id}/quantity", h.UpdateQuantity)
		r.Delete("/{id}", h.Delete)
	})
}

// List handles GET /
func (h *HTTPHandler) List(w http.ResponseWriter, r *http.Request) {
	q := ParseQuery(r.URL.Query())

	page, err := h.service.List(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err, "Error fetching books")
		return
	}

	httpx.JSONList(w, page.Count, page.Items, &httpx.Pagination{
		Total:       page.Total,
		TotalPages:  page.TotalPages,
		CurrentPage: page.CurrentPage,
	})
}

// Search handles GET /search?query=
func (h *HTTPHandler) Search(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.Search(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		h.writeError(w, r, err, "Error searching books")
		return
	}
	httpx.JSONList(w, len(books), books, nil)
}

// Tags handles GET /tags
func (h *HTTPHandler) Tags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.service.Tags(r.Context())
	if err != nil {
		h.writeError(w, r, err, "Error fetching tags")
		return
	}
	httpx.JSONList(w, len(tags), tags, nil)
}

// Get handles GET /{id}
func (h *HTTPHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "Error fetching book")
		return
	}
	httpx.JSONSuccess(w, http.StatusOK, "", b)
}

// Create handles POST /
func (h *HTTPHandler) Create(w http.ResponseWriter, r *http.Request) {
	in, up, cleanup, err := h.decodeInput(r)
	defer cleanup()
	if err != nil {
		h.writeError(w, r, err, "Error creating book")
		return
	}

	b, err := h.service.Create(r.Context(), in, up)
	if err != nil {
		h.writeError(w, r, err, "Error creating book")
		return
	}
	httpx.JSONSuccess(w, http.StatusCreated, "Book created successfully", b)
}

// Update handles PUT /{id}
func (h *HTTPHandler) Update(w http.ResponseWriter, r *http.Request) {
	in, up, cleanup, err := h.decodeInput(r)
	defer cleanup()
	if err != nil {
		h.writeError(w, r, err, "Error updating book")
		return
	}

	b, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in, up)
	if err != nil {
		h.writeError(w, r, err, "Error updating book")
		return
	}
	httpx.JSONSuccess(w, http.StatusOK, "Book updated successfully", b)
}

// UpdateQuantity handles PATCH /{id}/quantity
func (h *HTTPHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	quantity, err := decodeQuantity(r)
	if err != nil {
		h.writeError(w, r, err, "Error updating book quantity")
		return
	}

	b, err := h.service.UpdateQuantity(r.Context(), chi.URLParam(r, "id"), quantity)
	if err != nil {
		h.writeError(w, r, err, "Error updating book quantity")
		return
	}
	httpx.JSONSuccess(w, http.StatusOK, "Book quantity updated successfully", b)
}

// Delete handles DELETE /{id}
func (h *HTTPHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err, "Error deleting book")
		return
	}
	httpx.JSONMessage(w, "Book deleted successfully")
}

// writeError maps service errors onto the envelope. failMsg is used for
// unexpected failures.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error, failMsg string) {
	var verr *ValidationError
	var maxErr *http.MaxBytesError

	switch {
	case errors.As(err, &verr):
		details := make([]httpx.ErrorDetail, len(verr.Fields))
		for i, f := range verr.Fields {
			details[i] = httpx.ErrorDetail{Field: f.Field, Message: f.Message}
		}
		msg := "Validation error"
		if len(verr.Fields) == 1 && (verr.Fields[0].Field == "query" || verr.Fields[0].Field == "quantity") {
			msg = verr.Fields[0].Message
		}
		httpx.JSONError(w, http.StatusBadRequest, msg, firstMessage(verr), details)
	case errors.Is(err, ErrNotFound):
		httpx.JSONError(w, http.StatusNotFound, "Book not found", "", nil)
	case errors.Is(err, ErrDuplicateISBN):
		httpx.JSONError(w, http.StatusConflict, "Duplicate ISBN", err.Error(), nil)
	case errors.As(err, &maxErr):
		httpx.JSONError(w, http.StatusRequestEntityTooLarge, "Request body too large", "request body exceeds the upload limit", nil)
	default:
		h.log.Error(failMsg,
			logger.String("request_id", httpx.RequestIDFrom(r)),
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Error(err))
		httpx.JSONErrorWithRequest(r, w, http.StatusInternalServerError, failMsg, err.Error(), nil)
	}
}

func firstMessage(verr *ValidationError) string {
	if len(verr.Fields) == 0 {
		return verr.Error()
	}
	return verr.Fields[0].Message
}
