// Package rag is the client for the hosted copilot RAG service.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/sweetpotato0/ai-research/cache"
	errorskg "github.com/sweetpotato0/ai-research/errors"
	"github.com/sweetpotato0/ai-research/gateway"
	"github.com/sweetpotato0/ai-research/pkg/logging"
	"github.com/sweetpotato0/ai-research/pkg/metrics"
	"github.com/sweetpotato0/ai-research/retry"
)

// Answer is the structured part of a copilot preview response.
type Answer struct {
	OutputText         string          `json:"output_text"`
	RelevanceScores    json.RawMessage `json:"relevance_scores,omitempty"`
	SourceFiles        json.RawMessage `json:"source_files,omitempty"`
	GroundedQA         json.RawMessage `json:"grounded_qa,omitempty"`
	SuggestedFollowups json.RawMessage `json:"suggested_followups,omitempty"`
}

// Asker answers a question from the document store.
type Asker interface {
	Ask(ctx context.Context, question, endUserID string) (*Answer, error)
}

// Config configures the RAG client.
type Config struct {
	BaseURL   string
	CopilotID string
	Timeout   time.Duration
	CacheTTL  time.Duration // 0 disables answer caching
	Policy    *retry.Policy // overrides the default HTTP retry policy
}

// Client calls POST {base}/copilots/{id}/preview with a bearer token.
type Client struct {
	endpoint string
	tokens   TokenSource
	client   *http.Client
	store    cache.Store
	cacheTTL time.Duration
	policy   retry.Policy
	logger   *slog.Logger
}

var _ Asker = (*Client)(nil)

// New creates a RAG client. store may be nil to disable caching.
func New(cfg Config, tokens TokenSource, store cache.Store) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.CopilotID) == "" {
		return nil, fmt.Errorf("rag base url and copilot id are required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("rag token source is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 35 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		store = nil
	}
	policy := gateway.HTTPPolicy("rag")
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	return &Client{
		endpoint: fmt.Sprintf("%s/copilots/%s/preview", strings.TrimRight(cfg.BaseURL, "/"), cfg.CopilotID),
		tokens:   tokens,
		client:   &http.Client{Timeout: cfg.Timeout},
		store:    store,
		cacheTTL: cfg.CacheTTL,
		policy:   policy,
		logger:   logging.WithComponent("rag"),
	}, nil
}

// Ask implements Asker. Answers are cached per end user and trimmed question, since
// the end user decides which documents ground the answer.
func (c *Client) Ask(ctx context.Context, question, endUserID string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("rag question cannot be empty")
	}
	answer, err := cache.Memoize(ctx, c.store, "rag", cacheKey(endUserID, question), c.cacheTTL, func(ctx context.Context) (*Answer, error) {
		return c.ask(ctx, question, endUserID)
	})
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("rag", "error").Inc()
		return nil, err
	}
	metrics.GatewayRequests.WithLabelValues("rag", "ok").Inc()
	return answer, nil
}

func (c *Client) ask(ctx context.Context, question, endUserID string) (*Answer, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body, err := retry.DoValue(ctx, c.policy, func(ctx context.Context) ([]byte, error) {
		return c.post(ctx, token, question, endUserID)
	})

	var se *gateway.StatusError
	if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
		c.logger.Warn("rag token rejected, refreshing")
		token, err = c.tokens.Refresh(ctx)
		if err != nil {
			if errors.Is(err, errorskg.ErrUnauthorized) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: refresh rag token: %v", errorskg.ErrUnauthorized, err)
		}
		body, err = retry.DoValue(ctx, c.policy, func(ctx context.Context) ([]byte, error) {
			return c.post(ctx, token, question, endUserID)
		})
		if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: rag rejected refreshed token", errorskg.ErrUnauthorized)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("rag request: %w", err)
	}
	return parseAnswer(body)
}

// cacheKey separates end users so one user's grounding is never served to another.
func cacheKey(endUserID, question string) string {
	return "rag:" + endUserID + "\x00" + question
}

func (c *Client) post(ctx context.Context, token, question, endUserID string) ([]byte, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("query", question); err != nil {
		return nil, err
	}
	if err := form.WriteField("end_user_id", endUserID); err != nil {
		return nil, err
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, gateway.NewStatusError(resp)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode rag response: %w", err)
	}
	return raw, nil
}

// parseAnswer picks the output_* keys from the top level, falling back to the
// first entry of executions.
func parseAnswer(body []byte) (*Answer, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, fmt.Errorf("failed to decode rag response: %w", err)
	}
	var first map[string]json.RawMessage
	if raw, ok := top["executions"]; ok {
		var executions []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &executions); err == nil && len(executions) > 0 {
			first = executions[0]
		}
	}
	pick := func(key string) json.RawMessage {
		if v, ok := top[key]; ok {
			return v
		}
		if v, ok := first[key]; ok {
			return v
		}
		return nil
	}

	answer := &Answer{
		RelevanceScores:    pick("output_relevance_scores"),
		SourceFiles:        pick("output_file_names"),
		GroundedQA:         pick("output_groundings"),
		SuggestedFollowups: pick("output_next_questions"),
	}
	if raw := pick("output_text"); raw != nil {
		if err := json.Unmarshal(raw, &answer.OutputText); err != nil {
			return nil, fmt.Errorf("rag output_text is not a string: %w", err)
		}
	}
	return answer, nil
}
