package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/better-wallet/multikey/internal/logger"
)

// RequestID tags every request with an id, reusing X-Request-ID when an
// upstream proxy set one. The id is echoed in the response headers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
