package research

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sweetpotato0/ai-research/gateway/fetch"
	"github.com/sweetpotato0/ai-research/gateway/rag"
	"github.com/sweetpotato0/ai-research/gateway/search"
)

// fakeLLM records prompts and delegates to per-mode handlers.
type fakeLLM struct {
	mu          sync.Mutex
	prompts     []string
	jsonPrompts []string
	text        func(ctx context.Context, prompt string) (string, error)
	json        func(ctx context.Context, prompt string) (string, error)
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.text == nil {
		return "", fmt.Errorf("no text handler")
	}
	return f.text(ctx, prompt)
}

func (f *fakeLLM) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.jsonPrompts = append(f.jsonPrompts, prompt)
	f.mu.Unlock()
	if f.json == nil {
		return "", fmt.Errorf("no json handler")
	}
	return f.json(ctx, prompt)
}

func (f *fakeLLM) promptsWithPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.prompts {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

// scriptedText answers every stage prompt. Successive plan prompts receive successive plans.
func scriptedText(plans ...string) func(context.Context, string) (string, error) {
	var planCalls int32
	return func(_ context.Context, prompt string) (string, error) {
		switch {
		case strings.HasPrefix(prompt, "Summarize this medical question"):
			return "- Condition: migraine\n- Core Clinical Goal: causes", nil
		case strings.HasPrefix(prompt, "Generate 3-"):
			i := int(atomic.AddInt32(&planCalls, 1)) - 1
			if i >= len(plans) {
				i = len(plans) - 1
			}
			return plans[i], nil
		case strings.HasPrefix(prompt, "Question: "):
			return "Page summary.", nil
		case strings.HasPrefix(prompt, "Provide a very concise summary"):
			return "RAG in brief.", nil
		case strings.HasPrefix(prompt, "Answer concisely"):
			return "Sub answer [1].", nil
		case strings.HasPrefix(prompt, "You are writing"):
			return "Final answer [1][2].", nil
		}
		return "", fmt.Errorf("unexpected prompt %q", prompt)
	}
}

// rubricSequence returns one rubric per evaluation with the given overall scores.
func rubricSequence(overall ...float64) func(context.Context, string) (string, error) {
	var calls int32
	return func(_ context.Context, _ string) (string, error) {
		i := int(atomic.AddInt32(&calls, 1)) - 1
		if i >= len(overall) {
			i = len(overall) - 1
		}
		return fmt.Sprintf(`{"coverage":0.6,"grounding":0.6,"coherence":0.6,"overall":%v,"replan_needed":%t,"critique":"pass %d"}`,
			overall[i], overall[i] < 0.7, i+1), nil
	}
}

type searchFunc func(ctx context.Context, query string, count int) ([]search.Result, error)

func (f searchFunc) Search(ctx context.Context, query string, count int) ([]search.Result, error) {
	return f(ctx, query, count)
}

type fetchFunc func(ctx context.Context, rawURL string) (*fetch.Page, error)

func (f fetchFunc) Fetch(ctx context.Context, rawURL string) (*fetch.Page, error) {
	return f(ctx, rawURL)
}

type ragFunc func(ctx context.Context, question, endUserID string) (*rag.Answer, error)

func (f ragFunc) Ask(ctx context.Context, question, endUserID string) (*rag.Answer, error) {
	return f(ctx, question, endUserID)
}

// overlappingSearch returns a shared link (in two spellings) plus two links unique to
// the query.
func overlappingSearch() searchFunc {
	var calls int32
	return func(_ context.Context, query string, count int) ([]search.Result, error) {
		shared := "https://www.example.com/common/"
		if atomic.AddInt32(&calls, 1)%2 == 0 {
			shared = "https://example.com/common?utm_source=feed"
		}
		slug := strings.ToLower(strings.Join(strings.Fields(query), "-"))
		results := []search.Result{
			{Title: "Common", Link: shared, Snippet: "shared snippet"},
			{Title: "A " + query, Link: "https://example.org/a/" + slug, Snippet: "snippet a"},
			{Title: "B " + query, Link: "https://example.net/b/" + slug, Snippet: "snippet b"},
		}
		if count < len(results) {
			results = results[:count]
		}
		return results, nil
	}
}

func htmlPage(rawURL string) *fetch.Page {
	body := strings.Repeat("Migraine attacks involve trigeminovascular activation and cortical spreading depression. ", 4)
	return &fetch.Page{
		URL:         rawURL,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte("<html><head><title>Migraine</title></head><body><article><p>" + body + "</p></article></body></html>"),
	}
}

func okFetch() fetchFunc {
	return func(_ context.Context, rawURL string) (*fetch.Page, error) {
		return htmlPage(rawURL), nil
	}
}
