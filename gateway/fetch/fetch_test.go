package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sweetpotato0/ai-research/gateway"
	"github.com/sweetpotato0/ai-research/retry"
)

func fastPolicy() *retry.Policy {
	p := retry.Exponential("fetch-test", time.Millisecond, 4*time.Millisecond, 3, gateway.IsTransient)
	return &p
}

func TestAllowed(t *testing.T) {
	open := New(Config{})
	restricted := New(Config{AllowedDomains: []string{"nih.gov", " Mayoclinic.org ", ".who.int"}})

	tests := []struct {
		url        string
		open, rest bool
	}{
		{"https://www.nih.gov/health", true, true},
		{"https://mayoclinic.org/x", true, true},
		{"https://example.com/", true, false},
		{"https://NIH.gov/", true, true},
		{"https://evilnih.gov/health", true, false},
		{"https://nih.gov.attacker.net/", true, false},
		{"https://www.who.int/news", true, true},
		{"https://who.int/", true, true},
		{"ftp://nih.gov/file", false, false},
		{"", false, false},
		{"not a url", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := open.Allowed(tt.url); got != tt.open {
				t.Errorf("open.Allowed(%q) = %v, want %v", tt.url, got, tt.open)
			}
			if got := restricted.Allowed(tt.url); got != tt.rest {
				t.Errorf("restricted.Allowed(%q) = %v, want %v", tt.url, got, tt.rest)
			}
		})
	}
}

func TestFetchNotAllowed(t *testing.T) {
	c := New(Config{AllowedDomains: []string{"nih.gov"}})
	_, err := c.Fetch(context.Background(), "https://example.com")
	if !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
}

func TestFetchSetsBrowserHeaders(t *testing.T) {
	var ua, accept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		accept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html><body><p>hi</p></body></html>")
	}))
	defer srv.Close()

	c := New(Config{UserAgents: []string{"test-agent"}})
	page, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if ua != "test-agent" || !strings.Contains(accept, "text/html") {
		t.Errorf("unexpected headers ua=%q accept=%q", ua, accept)
	}
	if !strings.Contains(string(page.Body), "hi") || page.ContentType != "text/html" {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c := New(Config{Policy: fastPolicy()})
	page, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(page.Body) != "ok" || atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected success on third attempt, calls=%d body=%q", calls, page.Body)
	}
}

func TestFetchGivesUpAfterThreeAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{Policy: fastPolicy()})
	if _, err := c.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestFetchClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Config{Policy: fastPolicy()})
	_, err := c.Fetch(context.Background(), srv.URL)
	var se *gateway.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusForbidden {
		t.Fatalf("expected 403 status error, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected a single attempt, got %d", n)
	}
}

func TestFetchPDFSkipsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = io.WriteString(w, "%PDF-1.7")
	}))
	defer srv.Close()

	page, err := New(Config{}).Fetch(context.Background(), srv.URL+"/paper")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !IsProbablyPDF(page.URL, page.ContentType) || len(page.Body) != 0 {
		t.Errorf("expected pdf page without body, got %+v", page)
	}
}

func TestIsProbablyPDF(t *testing.T) {
	tests := []struct {
		url, ctype string
		want       bool
	}{
		{"https://x/doc.PDF", "", true},
		{"https://x/doc.pdf?download=1", "", true},
		{"https://x/doc", "application/pdf; charset=binary", true},
		{"https://x/doc", "text/html", false},
	}
	for _, tt := range tests {
		if got := IsProbablyPDF(tt.url, tt.ctype); got != tt.want {
			t.Errorf("IsProbablyPDF(%q, %q) = %v, want %v", tt.url, tt.ctype, got, tt.want)
		}
	}
}
