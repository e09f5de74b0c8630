// Package enricher attaches request-scoped values before handlers run.
package enricher

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sweetpotato0/ai-research/middleware"
)

// HeaderRequestID carries the request ID in both directions.
const HeaderRequestID = "X-Request-ID"

// EnricherFunc returns the request to pass on, usually with a derived context.
// A non-nil error rejects the request with 400.
type EnricherFunc func(*http.Request) (*http.Request, error)

// ContextEnricher adds additional data to the request context
type ContextEnricher struct {
	enricher EnricherFunc
}

// NewContextEnricher creates a context enriching middleware
func NewContextEnricher(enricher EnricherFunc) *ContextEnricher {
	return &ContextEnricher{enricher: enricher}
}

// Name returns the middleware name
func (m *ContextEnricher) Name() string {
	return "ContextEnricher"
}

// Wrap enriches the request
func (m *ContextEnricher) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.enricher != nil {
			enriched, err := m.enricher(r)
			if err != nil {
				middleware.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
				return
			}
			if enriched != nil {
				r = enriched
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequestID propagates the caller's X-Request-ID or assigns a new one.
type RequestID struct {
	generate func() string
}

// NewRequestID creates the middleware. IDs are random UUIDs.
func NewRequestID() *RequestID {
	return &RequestID{generate: uuid.NewString}
}

// Name returns the middleware name
func (m *RequestID) Name() string {
	return "RequestID"
}

// Wrap implements middleware.Middleware.
func (m *RequestID) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if id == "" || len(id) > 128 {
			id = m.generate()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(middleware.WithRequestID(r.Context(), id)))
	})
}
