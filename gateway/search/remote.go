package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sweetpotato0/ai-research/gateway"
	"github.com/sweetpotato0/ai-research/pkg/metrics"
	"github.com/sweetpotato0/ai-research/retry"
	"golang.org/x/time/rate"
)

// RemoteConfig configures a client for a standalone websearch service.
type RemoteConfig struct {
	URL     string // full endpoint, e.g. http://search:8000/mcp/Websearch
	CSEID   string // forwarded as cse_id when set
	Timeout time.Duration
	RPS     float64
}

// Remote calls a websearch service speaking {query,count,cse_id} -> {results:[...]}.
type Remote struct {
	cfg     RemoteConfig
	client  *http.Client
	policy  retry.Policy
	limiter *rate.Limiter
}

var _ Searcher = (*Remote)(nil)

type remoteRequest struct {
	Query string `json:"query"`
	Count int    `json:"count"`
	CSEID string `json:"cse_id,omitempty"`
}

type remoteResponse struct {
	Results []Result `json:"results"`
}

// NewRemote creates a websearch service client.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("websearch url cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Remote{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		policy:  gateway.HTTPPolicy("search"),
		limiter: newLimiter(cfg.RPS, 1),
	}, nil
}

// Search implements Searcher.
func (r *Remote) Search(ctx context.Context, query string, count int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	count = clampCount(count)
	payload, err := json.Marshal(remoteRequest{Query: query, Count: count, CSEID: r.cfg.CSEID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	out, err := retry.DoValue(ctx, r.policy, func(ctx context.Context) (*remoteResponse, error) {
		if err := wait(ctx, r.limiter); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, gateway.NewStatusError(resp)
		}
		var decoded remoteResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return nil, fmt.Errorf("failed to decode search response: %w", err)
		}
		return &decoded, nil
	})
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("search", "error").Inc()
		return nil, fmt.Errorf("websearch: %w", err)
	}
	metrics.GatewayRequests.WithLabelValues("search", "ok").Inc()

	results := out.Results
	if len(results) > count {
		results = results[:count]
	}
	return results, nil
}
