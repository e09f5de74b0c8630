// Package retry wraps cenkalti/backoff with the two policies used by outbound calls:
// a fixed cool-down for rate-limited model calls and capped exponential backoff for HTTP.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sweetpotato0/ai-research/pkg/logging"
	"github.com/sweetpotato0/ai-research/pkg/metrics"
)

// Policy describes how an operation is retried.
type Policy struct {
	Name       string        // label for logs and metrics
	Attempts   int           // total attempts, including the first
	Initial    time.Duration // first wait
	Max        time.Duration // upper bound for a single wait
	Multiplier float64       // 1 keeps the wait constant
	Retryable  func(error) bool
}

// Cooldown waits the same duration between attempts.
func Cooldown(name string, wait time.Duration, attempts int, retryable func(error) bool) Policy {
	return Policy{
		Name:       name,
		Attempts:   attempts,
		Initial:    wait,
		Max:        wait,
		Multiplier: 1,
		Retryable:  retryable,
	}
}

// Exponential doubles the wait after every failure, capped at max.
func Exponential(name string, initial, max time.Duration, attempts int, retryable func(error) bool) Policy {
	return Policy{
		Name:       name,
		Attempts:   attempts,
		Initial:    initial,
		Max:        max,
		Multiplier: 2,
		Retryable:  retryable,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts run out,
// or ctx is done. Waits are timer based and abort on cancellation.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	logger := logging.WithComponent("retry").With("policy", p.Name)
	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.GatewayRetries.WithLabelValues(p.Name).Inc()
		logger.Warn("retrying after failure", "attempt", attempt, "wait", wait, "error", err)
	}
	return backoff.RetryNotify(operation, p.backOff(ctx), notify)
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
