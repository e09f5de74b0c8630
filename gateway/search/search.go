// Package search provides web search clients returning title/link/snippet triples.
package search

import (
	"context"

	"golang.org/x/time/rate"
)

// MaxResults is the largest page the search backends return in one call.
const MaxResults = 10

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string, count int) ([]Result, error)
}

func clampCount(count int) int {
	if count <= 0 {
		return 1
	}
	if count > MaxResults {
		return MaxResults
	}
	return count
}

// newLimiter returns nil when rps is not positive, meaning unlimited.
func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
