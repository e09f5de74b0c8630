package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	errorskg "github.com/sweetpotato0/ai-research/errors"
	"github.com/sweetpotato0/ai-research/gateway"
	"github.com/sweetpotato0/ai-research/retry"
)

// expiryLeeway refreshes tokens slightly before they expire.
const expiryLeeway = 30 * time.Second

// TokenSource supplies bearer tokens for the RAG API.
type TokenSource interface {
	// Token returns a usable token, fetching one when none is cached.
	Token(ctx context.Context) (string, error)
	// Refresh discards the cached token and fetches a new one.
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is a fixed token that cannot be refreshed.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", fmt.Errorf("%w: no rag token configured", errorskg.ErrUnauthorized)
	}
	return string(s), nil
}

// Refresh implements TokenSource.
func (s StaticToken) Refresh(context.Context) (string, error) {
	return "", fmt.Errorf("%w: static rag token cannot be refreshed", errorskg.ErrUnauthorized)
}

// ClientCredentials exchanges a client id and secret for an access token at
// POST {base}/client/token. Tokens are cached until shortly before their JWT expiry.
type ClientCredentials struct {
	tokenURL     string
	clientID     string
	clientSecret string
	client       *http.Client
	policy       retry.Policy

	mu     sync.Mutex
	token  string
	expiry time.Time // zero when the token carries no exp claim
	now    func() time.Time
}

// NewClientCredentials creates a token source against baseURL.
func NewClientCredentials(baseURL, clientID, clientSecret string) *ClientCredentials {
	return &ClientCredentials{
		tokenURL:     strings.TrimRight(baseURL, "/") + "/client/token",
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       &http.Client{Timeout: 10 * time.Second},
		policy:       gateway.HTTPPolicy("rag-token"),
		now:          time.Now,
	}
}

// Token implements TokenSource.
func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && (c.expiry.IsZero() || c.now().Add(expiryLeeway).Before(c.expiry)) {
		return c.token, nil
	}
	return c.fetchLocked(ctx)
}

// Refresh implements TokenSource.
func (c *ClientCredentials) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	return c.fetchLocked(ctx)
}

// fetchLocked retries 429, 5xx and network failures of the token endpoint. Only a
// rejection of the credentials themselves is reported as ErrUnauthorized.
func (c *ClientCredentials) fetchLocked(ctx context.Context) (string, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return "", fmt.Errorf("%w: rag client credentials are not configured", errorskg.ErrUnauthorized)
	}
	token, err := retry.DoValue(ctx, c.policy, c.requestToken)
	if err != nil {
		var se *gateway.StatusError
		if errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden) {
			return "", fmt.Errorf("%w: rag credentials rejected: %v", errorskg.ErrUnauthorized, se)
		}
		return "", fmt.Errorf("rag token: %w", err)
	}

	c.token = token
	c.expiry = tokenExpiry(token)
	return token, nil
}

func (c *ClientCredentials) requestToken(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal token request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", gateway.NewStatusError(resp)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", errors.New("token response did not contain access_token")
	}
	return body.AccessToken, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the token is only
// inspected to schedule a refresh. Opaque tokens report no expiry.
func tokenExpiry(raw string) time.Time {
	tok, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := tok.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
