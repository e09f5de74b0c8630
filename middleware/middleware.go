// Package middleware composes net/http handlers around the research API.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
)

// Middleware defines the interface for middleware components.
// Middlewares intercept requests before they reach the API handlers.
type Middleware interface {
	// Name returns the name of the middleware for logging and debugging
	Name() string

	// Wrap returns a handler that runs the middleware logic around next
	Wrap(next http.Handler) http.Handler
}

// Func adapts a plain wrapping function to Middleware.
type Func struct {
	name string
	wrap func(http.Handler) http.Handler
}

// NewFunc creates a named middleware from a wrapping function.
func NewFunc(name string, wrap func(http.Handler) http.Handler) Func {
	return Func{name: name, wrap: wrap}
}

// Name returns the middleware name
func (f Func) Name() string { return f.name }

// Wrap implements Middleware.
func (f Func) Wrap(next http.Handler) http.Handler { return f.wrap(next) }

// Chain represents a sequence of middleware to be executed.
// The first middleware added is the outermost.
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a new middleware chain
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Add appends a middleware to the chain. Nil values are ignored.
func (c *Chain) Add(m Middleware) *Chain {
	if m != nil {
		c.middlewares = append(c.middlewares, m)
	}
	return c
}

// Names lists the middlewares in execution order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.middlewares))
	for i, m := range c.middlewares {
		names[i] = m.Name()
	}
	return names
}

// Then wraps h with every middleware in the chain.
func (c *Chain) Then(h http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i].Wrap(h)
	}
	return h
}

type requestIDKey struct{}

// WithRequestID stores the request ID on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID stored on ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ErrorBody is the JSON error envelope shared by the API and its middlewares.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes an ErrorBody with the given status.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: code, Message: message})
}

// StatusRecorder captures the status code and size written through it.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
	Bytes  int
}

// NewStatusRecorder wraps w. The status defaults to 200.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	if rec, ok := w.(*StatusRecorder); ok {
		return rec
	}
	return &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
}

// WriteHeader records the status.
func (r *StatusRecorder) WriteHeader(code int) {
	r.Status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *StatusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.Bytes += n
	return n, err
}

// Flush forwards to the underlying writer when it supports streaming.
func (r *StatusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *StatusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
