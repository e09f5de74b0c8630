// Package llm defines the completion contract the research stages depend on and the
// helpers shared by the provider implementations.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sweetpotato0/ai-research/retry"
)

// ErrRateLimited marks provider errors caused by quota or rate limits.
var ErrRateLimited = errors.New("llm: rate limited")

// DefaultCooldown is the wait applied between rate-limited attempts.
const DefaultCooldown = 45 * time.Second

// Completer produces text completions.
type Completer interface {
	// Complete returns free-form text for prompt.
	Complete(ctx context.Context, prompt string) (string, error)
	// CompleteJSON asks the model for a JSON document and returns it verbatim.
	CompleteJSON(ctx context.Context, prompt string) (string, error)
}

// IsRateLimited reports whether err was caused by a rate limit.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// Retrying decorates a Completer so rate-limited calls are retried after a cool-down.
type Retrying struct {
	next   Completer
	policy retry.Policy
}

// WithRateLimitRetry wraps c; attempts counts the first call.
func WithRateLimitRetry(c Completer, cooldown time.Duration, attempts int) *Retrying {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if attempts <= 0 {
		attempts = 3
	}
	return &Retrying{
		next:   c,
		policy: retry.Cooldown("llm", cooldown, attempts, IsRateLimited),
	}
}

// Complete implements Completer.
func (r *Retrying) Complete(ctx context.Context, prompt string) (string, error) {
	return retry.DoValue(ctx, r.policy, func(ctx context.Context) (string, error) {
		return r.next.Complete(ctx, prompt)
	})
}

// CompleteJSON implements Completer.
func (r *Retrying) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	return retry.DoValue(ctx, r.policy, func(ctx context.Context) (string, error) {
		return r.next.CompleteJSON(ctx, prompt)
	})
}

// StripCodeFence removes a surrounding ```json fence some models add to JSON output.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
