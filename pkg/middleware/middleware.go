package middleware

import (
	"net/http"
	"time"

	"github.com/FyraLabs/subatomic-ng/pkg/observability"
	"github.com/google/uuid"
)

// RequestID injects a request-scoped id into the context and response
// headers, following the teacher's WithRequestID/GetRequestID context-key
// convention.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := observability.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessLog logs one structured line per request through the given logger.
func AccessLog(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			reqLogger := logger.WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", sw.status).
				WithField("duration_ms", time.Since(start).Milliseconds())
			if id := observability.GetRequestID(r.Context()); id != "" {
				reqLogger = reqLogger.WithField("request_id", id)
			}
			reqLogger.Info("handled request")
		})
	}
}

// Recover converts panics in downstream handlers into a 500 response instead
// of crashing the listener goroutine.
func Recover(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithField("panic", rec).WithField("path", r.URL.Path).Error("panic recovered in http handler")
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
