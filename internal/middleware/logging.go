package middleware

import (
	"net/http"
	"time"

	"github.com/better-wallet/multikey/internal/logger"
	"github.com/better-wallet/multikey/internal/metrics"
)

// Logging logs every request once it completes and counts it in m
func Logging(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := NewStatusRecorder(w)

			next.ServeHTTP(rec, r)

			m.HTTPRequest(r.Method, rec.StatusCode)
			logger.Info(r.Context(), "request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.StatusCode,
				"duration", time.Since(start),
			)
		})
	}
}
