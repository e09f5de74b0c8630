// Package errorhandler turns handler panics into JSON 500 responses.
package errorhandler

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/sweetpotato0/ai-research/middleware"
	"github.com/sweetpotato0/ai-research/pkg/logging"
)

// ErrorHandlerFunc observes a recovered panic value.
type ErrorHandlerFunc func(r *http.Request, recovered any)

// ErrorHandler recovers panics from downstream handlers
type ErrorHandler struct {
	handler ErrorHandlerFunc
	logger  *slog.Logger
}

// NewErrorHandler creates an error handling middleware. handler may be nil.
func NewErrorHandler(handler ErrorHandlerFunc) *ErrorHandler {
	return &ErrorHandler{handler: handler, logger: logging.WithComponent("http")}
}

// Name returns the middleware name
func (m *ErrorHandler) Name() string {
	return "ErrorHandler"
}

// Wrap implements middleware.Middleware.
func (m *ErrorHandler) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := middleware.NewStatusRecorder(w)
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			m.logger.Error("handler panic",
				"path", r.URL.Path,
				"request_id", middleware.RequestID(r.Context()),
				"panic", fmt.Sprint(v),
				"stack", string(debug.Stack()),
			)
			if m.handler != nil {
				m.handler(r, v)
			}
			if rec.Bytes == 0 {
				middleware.WriteError(rec, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(rec, r)
	})
}
