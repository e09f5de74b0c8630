package research

import (
	"fmt"
	"net/url"
	"strings"
)

var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "gclid", "msclkid",
}

// CanonicalLink normalizes a link for deduplication: lowercase scheme and host, no www.
// prefix, no fragment, no tracking parameters and no trailing slash. Unparseable links
// are returned trimmed.
func CanonicalLink(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		q := u.Query()
		for _, p := range trackingParams {
			q.Del(p)
		}
		u.RawQuery = q.Encode()
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

// DedupeByLink keeps the first record per canonical link, preserving order. Records
// without a link are dropped.
func DedupeByLink(in []WebResult) []WebResult {
	seen := make(map[string]struct{}, len(in))
	out := make([]WebResult, 0, len(in))
	for _, r := range in {
		key := CanonicalLink(r.Link)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// NumberCitations assigns N = 1..k to the first max records and clears N on the rest.
func NumberCitations(in []WebResult, max int) []WebResult {
	out := make([]WebResult, len(in))
	for i, r := range in {
		r.N = 0
		if i < max {
			r.N = i + 1
		}
		out[i] = r
	}
	return out
}

// webContext renders the first limit cited records for prompts.
func webContext(results []WebResult, limit int) string {
	var b strings.Builder
	count := 0
	for _, r := range results {
		if r.N == 0 || count >= limit {
			break
		}
		if count > 0 {
			b.WriteByte('\n')
		}
		summary := r.Summary
		if summary == "" {
			summary = "No summary"
		}
		fmt.Fprintf(&b, "[%d]\nTitle: %s\nSummary: %s", r.N, r.Title, summary)
		count++
	}
	return b.String()
}

func ragContext(st QueryState) string {
	if st.RAGAnswer == "" {
		return ""
	}
	return fmt.Sprintf("RAG Answer: %s\nRAG Summary: %s", truncateRunes(st.RAGAnswer, 500), st.RAGSummary)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// unionOrdered returns the unique non-empty entries of lists, first occurrence first.
func unionOrdered(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
