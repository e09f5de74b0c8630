// Package gateway holds what the outbound HTTP clients share: the status error they
// return and the retry policy applied to it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sweetpotato0/ai-research/retry"
)

const (
	// BackoffInitial is the first wait of the HTTP retry policy.
	BackoffInitial = 2 * time.Second
	// BackoffMax caps a single wait.
	BackoffMax = 45 * time.Second
	// Attempts is the total number of tries per request.
	Attempts = 3
)

// StatusError is returned when an upstream answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.Code)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Code, e.Body)
}

// NewStatusError reads at most 512 bytes of the body into the error.
func NewStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: string(body)}
}

// IsTransient reports whether err is worth retrying: 429, 5xx or a network failure.
// Cancellation of the caller's context is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// HTTPPolicy is the exponential policy shared by the HTTP gateways.
func HTTPPolicy(name string) retry.Policy {
	return retry.Exponential(name, BackoffInitial, BackoffMax, Attempts, IsTransient)
}
