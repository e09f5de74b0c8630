package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates that an upstream credential could not be obtained or refreshed
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoFinalState indicates that the workflow finished without producing any state
	ErrNoFinalState = errors.New("workflow produced no final state")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")
)
