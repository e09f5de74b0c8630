package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sweetpotato0/ai-research/gateway"
	"github.com/sweetpotato0/ai-research/pkg/logging"
	"github.com/sweetpotato0/ai-research/pkg/metrics"
	"github.com/sweetpotato0/ai-research/retry"
	"golang.org/x/time/rate"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// CSEConfig configures the Google Programmable Search client.
type CSEConfig struct {
	APIKey string
	CX     string  // search engine id
	RPS    float64 // outbound requests per second, 0 for unlimited
}

// CSE searches through the Google Custom Search JSON API.
type CSE struct {
	svc     *customsearch.Service
	cx      string
	policy  retry.Policy
	limiter *rate.Limiter
}

var _ Searcher = (*CSE)(nil)

// NewCSE creates a Custom Search client. Extra options are mostly useful in tests
// (option.WithEndpoint, option.WithHTTPClient).
func NewCSE(ctx context.Context, cfg CSEConfig, opts ...option.ClientOption) (*CSE, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.CX) == "" {
		return nil, fmt.Errorf("custom search requires an api key and engine id")
	}
	clientOpts := append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	svc, err := customsearch.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create custom search service: %w", err)
	}
	return &CSE{
		svc:     svc,
		cx:      cfg.CX,
		policy:  gateway.HTTPPolicy("search"),
		limiter: newLimiter(cfg.RPS, 1),
	}, nil
}

// Search implements Searcher.
func (c *CSE) Search(ctx context.Context, query string, count int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	num := int64(clampCount(count))

	res, err := retry.DoValue(ctx, c.policy, func(ctx context.Context) (*customsearch.Search, error) {
		if err := wait(ctx, c.limiter); err != nil {
			return nil, err
		}
		out, err := c.svc.Cse.List().Q(query).Cx(c.cx).Num(num).Context(ctx).Do()
		if err != nil {
			var gerr *googleapi.Error
			if errors.As(err, &gerr) {
				return nil, &gateway.StatusError{Code: gerr.Code, Body: gerr.Message}
			}
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("search", "error").Inc()
		logging.WithComponent("search").Warn("custom search failed", "query", query, "error", err)
		return nil, fmt.Errorf("custom search: %w", err)
	}
	metrics.GatewayRequests.WithLabelValues("search", "ok").Inc()

	results := make([]Result, 0, len(res.Items))
	for _, item := range res.Items {
		if item == nil {
			continue
		}
		results = append(results, Result{Title: item.Title, Link: item.Link, Snippet: item.Snippet})
		if len(results) >= int(num) {
			break
		}
	}
	return results, nil
}
