// Package fetch downloads web pages for evidence summarization.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sweetpotato0/ai-research/gateway"
	"github.com/sweetpotato0/ai-research/pkg/logging"
	"github.com/sweetpotato0/ai-research/pkg/metrics"
	"github.com/sweetpotato0/ai-research/retry"
	"golang.org/x/time/rate"
)

// ErrNotAllowed is returned for empty, malformed, non-http or off-list URLs.
var ErrNotAllowed = errors.New("url not allowed")

const (
	defaultTimeout  = 12 * time.Second
	defaultMaxBytes = 2 << 20
)

// DefaultUserAgents is the pool requests pick a User-Agent from.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
}

// Page is a fetched document.
type Page struct {
	URL         string // final URL after redirects
	ContentType string
	Body        []byte
}

// Fetcher downloads a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

// Config configures the HTTP fetcher.
type Config struct {
	AllowedDomains []string // host suffixes; empty allows every host
	UserAgents     []string
	Timeout        time.Duration // per attempt
	MaxBytes       int64
	RPS            float64 // 0 for unlimited
	Policy         *retry.Policy
}

// Client is the HTTP Fetcher.
type Client struct {
	allow      []string
	userAgents []string
	maxBytes   int64
	client     *http.Client
	policy     retry.Policy
	limiter    *rate.Limiter
}

var _ Fetcher = (*Client)(nil)

// New creates a fetcher.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	policy := gateway.HTTPPolicy("fetch")
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	allow := make([]string, 0, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		if d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "."); d != "" {
			allow = append(allow, d)
		}
	}

	return &Client{
		allow:      allow,
		userAgents: cfg.UserAgents,
		maxBytes:   cfg.MaxBytes,
		client:     &http.Client{Timeout: cfg.Timeout},
		policy:     policy,
		limiter:    limiter,
	}
}

// Allowed reports whether rawURL may be fetched. An allow entry admits the domain
// itself and its subdomains.
func (c *Client) Allowed(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if len(c.allow) == 0 {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range c.allow {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Fetch implements Fetcher. 429, 5xx and network failures are retried with capped
// exponential backoff; other 4xx statuses fail immediately.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !c.Allowed(rawURL) {
		return nil, fmt.Errorf("%w: %q", ErrNotAllowed, rawURL)
	}

	page, err := retry.DoValue(ctx, c.policy, func(ctx context.Context) (*Page, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return c.get(ctx, rawURL)
	})
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("fetch", "error").Inc()
		logging.WithComponent("fetch").Warn("page fetch failed", "url", rawURL, "error", err)
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	metrics.GatewayRequests.WithLabelValues("fetch", "ok").Inc()
	return page, nil
}

func (c *Client) get(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, gateway.NewStatusError(resp)
	}

	page := &Page{
		URL:         resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
	}
	if IsProbablyPDF(rawURL, page.ContentType) {
		return page, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes))
	if err != nil {
		return nil, err
	}
	page.Body = body
	return page, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgents[rand.IntN(len(c.userAgents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://www.google.com/")
	req.Header.Set("Cache-Control", "max-age=0")
}

// IsProbablyPDF reports whether the URL or content type points at a PDF document.
func IsProbablyPDF(rawURL, contentType string) bool {
	if u, err := url.Parse(rawURL); err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
		return true
	}
	if strings.HasSuffix(strings.ToLower(rawURL), ".pdf") {
		return true
	}
	return strings.Contains(strings.ToLower(contentType), "pdf")
}
