package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"bookshop/internal/book"
	"bookshop/internal/httpx"
	"bookshop/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	serviceName  = "book-service"
	readyTimeout = 500 * time.Millisecond
	// multipart overhead on top of the image cap
	bodyOverhead = 1 << 20
)

type pinger interface {
	Ping(ctx context.Context) error
}

type routerDeps struct {
	log           logger.Logger
	books         *book.HTTPHandler
	store         pinger
	uploads       http.Handler
	uploadsPrefix string
	maxImageBytes int64
	corsOrigins   []string
	rateLimit     *httpx.RateLimitMiddleware
	jwtSecret     string
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(httpx.RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(httpx.AccessLogMiddleware(d.log))
	r.Use(httpx.RecoveryMiddleware(d.log))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(httpx.CORSMiddleware(d.corsOrigins))
	r.Use(httpx.RequestSizeLimitMiddleware(d.maxImageBytes + bodyOverhead))
	if d.rateLimit != nil {
		r.Use(d.rateLimit.Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.JSONErrorWithRequest(r, w, http.StatusNotFound, "Route not found", "", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.JSONErrorWithRequest(r, w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": serviceName})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := d.store.Ping(ctx); err != nil {
			d.log.Warn("readiness check failed", logger.Error(err))
			httpx.JSONErrorWithRequest(r, w, http.StatusServiceUnavailable, "Store not ready", err.Error(), nil)
			return
		}
		httpx.JSONMessage(w, "ready")
	})

	if d.uploads != nil {
		r.Mount(d.uploadsPrefix, d.uploads)
	}

	var guard []func(http.Handler) http.Handler
	if d.jwtSecret != "" {
		guard = append(guard, httpx.AuthMiddleware(d.jwtSecret))
	}
	r.Group(func(r chi.Router) {
		d.books.Register(r, guard...)
	})

	return r
}
