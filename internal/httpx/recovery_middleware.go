package httpx

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"bookshop/internal/logger"
)

// RecoveryMiddleware turns panics into a 500 envelope.
func RecoveryMiddleware(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					log.Error("panic recovered",
						logger.String("request_id", RequestIDFrom(r)),
						logger.Any("panic", err),
						logger.String("stack", string(debug.Stack())),
					)

					var wroteHeader bool
					if rw, ok := w.(*responseWriter); ok {
						wroteHeader = rw.wroteHeader()
					}

					if !wroteHeader {
						JSONErrorWithRequest(r, w, http.StatusInternalServerError, "Internal server error", fmt.Sprint(err), nil)
					}
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
