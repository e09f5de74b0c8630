// Package validator checks request envelopes before they are decoded.
package validator

import (
	"mime"
	"net/http"
	"strings"

	"github.com/sweetpotato0/ai-research/middleware"
)

// ValidatorFunc inspects a request and returns a message when it must be rejected.
type ValidatorFunc func(*http.Request) (status int, message string)

// InputValidator validates requests with a custom check.
type InputValidator struct {
	validator ValidatorFunc
}

// NewInputValidator creates an input validation middleware
func NewInputValidator(validator ValidatorFunc) *InputValidator {
	return &InputValidator{validator: validator}
}

// Name returns the middleware name
func (m *InputValidator) Name() string {
	return "InputValidator"
}

// Wrap implements middleware.Middleware.
func (m *InputValidator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.validator != nil {
			if status, msg := m.validator(r); status != 0 {
				middleware.WriteError(w, status, "invalid_request", msg)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// JSONBody requires a JSON content type on requests that carry a body and caps the
// body at maxBytes. Reads past the cap fail inside the handler's decoder.
func JSONBody(maxBytes int64) *InputValidator {
	return NewInputValidator(func(r *http.Request) (int, string) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			return 0, ""
		}
		if r.ContentLength > maxBytes && maxBytes > 0 {
			return http.StatusRequestEntityTooLarge, "request body too large"
		}
		if ct := r.Header.Get("Content-Type"); ct != "" {
			mt, _, err := mime.ParseMediaType(ct)
			if err != nil || !(mt == "application/json" || strings.HasSuffix(mt, "+json")) {
				return http.StatusUnsupportedMediaType, "content type must be application/json"
			}
		}
		if maxBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
		}
		return 0, ""
	})
}
