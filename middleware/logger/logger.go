// Package logger logs and measures HTTP requests.
package logger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sweetpotato0/ai-research/middleware"
	"github.com/sweetpotato0/ai-research/pkg/logging"
	"github.com/sweetpotato0/ai-research/pkg/metrics"
)

// RouteFunc names the route a request matched, used as the metrics label.
type RouteFunc func(*http.Request) string

// RequestLogger logs every request once it completes and records the HTTP metrics.
type RequestLogger struct {
	logger *slog.Logger
	route  RouteFunc
}

// NewRequestLogger creates a request logging middleware. A nil logger uses the
// "http" component logger; a nil route labels requests by their URL path.
func NewRequestLogger(logger *slog.Logger, route RouteFunc) *RequestLogger {
	if logger == nil {
		logger = logging.WithComponent("http")
	}
	if route == nil {
		route = func(r *http.Request) string { return r.URL.Path }
	}
	return &RequestLogger{logger: logger, route: route}
}

// Name returns the middleware name
func (m *RequestLogger) Name() string {
	return "RequestLogger"
}

// Wrap implements middleware.Middleware.
func (m *RequestLogger) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := middleware.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		route := m.route(r)
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.Status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		level := slog.LevelInfo
		switch {
		case rec.Status >= 500:
			level = slog.LevelError
		case rec.Status >= 400:
			level = slog.LevelWarn
		}
		m.logger.LogAttrs(r.Context(), level, "request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.Status),
			slog.Int("bytes", rec.Bytes),
			slog.Duration("duration", elapsed),
			slog.String("request_id", middleware.RequestID(r.Context())),
		)
	})
}
