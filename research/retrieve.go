package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	errorskg "github.com/sweetpotato0/ai-research/errors"
	"github.com/sweetpotato0/ai-research/gateway/fetch"
	"github.com/sweetpotato0/ai-research/gateway/rag"
	"github.com/sweetpotato0/ai-research/gateway/search"
	"github.com/sweetpotato0/ai-research/llm"
)

// Placeholder summaries for records that could not be summarized.
const (
	SummaryFiltered    = "Filtered or invalid URL"
	SummaryFetchFailed = "Failed to fetch page."
	SummaryPDF         = "PDF detected; skipped parsing."
	RAGSummaryFailed   = "RAG summary failed."
)

// minPageText is the shortest extracted page text preferred over the search snippet.
const minPageText = 120

type retriever struct {
	search search.Searcher
	fetch  fetch.Fetcher
	rag    rag.Asker // optional
	llm    llm.Completer
	cfg    *Config
	logger *slog.Logger
}

func (r *retriever) run(ctx context.Context, st QueryState) (QueryState, error) {
	sem := semaphore.NewWeighted(int64(r.cfg.MaxConcurrentFetches))
	groups := make([][]WebResult, len(st.Subqueries))

	var (
		g                     errgroup.Group
		ragAnswer, ragSummary string
	)
	if r.rag != nil {
		g.Go(func() error {
			var err error
			ragAnswer, ragSummary, err = r.askRAG(ctx, st.Question)
			return err
		})
	}
	for i, subq := range st.Subqueries {
		g.Go(func() error {
			groups[i] = r.collect(ctx, sem, subq)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return st, err
	}

	var aggregated []WebResult
	for _, group := range groups {
		aggregated = append(aggregated, group...)
	}
	st.WebResults = NumberCitations(DedupeByLink(aggregated), r.cfg.MaxSourcesForCitations)
	st.RAGAnswer, st.RAGSummary = ragAnswer, ragSummary

	r.logger.Info("evidence aggregated",
		"subqueries", len(st.Subqueries),
		"records", len(aggregated),
		"unique", len(st.WebResults),
		"cited", len(st.Cited()),
	)
	return st, nil
}

// askRAG only returns an error when the RAG credentials are rejected; every other
// failure is carried in the returned strings.
func (r *retriever) askRAG(ctx context.Context, question string) (answer, summary string, err error) {
	ans, err := r.rag.Ask(ctx, question, endUserFrom(ctx))
	if err != nil {
		if errors.Is(err, errorskg.ErrUnauthorized) {
			r.logger.Error("rag authentication failed", "error", err)
			return "", "", err
		}
		r.logger.Error("rag request failed", "error", err)
		return "RAG Error: " + err.Error(), RAGSummaryFailed, nil
	}

	answer = ans.OutputText
	if strings.TrimSpace(answer) == "" {
		answer = "No answer from RAG."
	}
	return answer, r.summarizeRAG(ctx, answer), nil
}

func (r *retriever) summarizeRAG(ctx context.Context, answer string) string {
	sctx, cancel := context.WithTimeout(ctx, r.cfg.RAGSummaryTimeout)
	defer cancel()

	out, err := r.llm.Complete(sctx, conciseSummaryPrompt(r.cfg.truncator.Truncate(answer, r.cfg.SourceTextLimit)))
	if err == nil {
		return strings.TrimSpace(out)
	}
	if ctx.Err() == nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
		r.logger.Warn("rag summary timed out, using truncated answer", "timeout", r.cfg.RAGSummaryTimeout)
		return truncateRunes(answer, 200) + "..."
	}
	r.logger.Error("rag summary failed", "error", err)
	return "Summary not available due to API error."
}

// collect searches one subquestion and expands every link. Workers for the subquestion
// are joined before returning so records keep search order.
func (r *retriever) collect(ctx context.Context, sem *semaphore.Weighted, subq string) []WebResult {
	links, err := r.search.Search(ctx, subq, r.cfg.SubquerySearchCount)
	if err != nil {
		r.logger.Error("websearch failed", "subquery", subq, "error", err)
		return []WebResult{{Title: subq, Subquery: subq, Summary: "Websearch error: " + err.Error()}}
	}
	if len(links) > r.cfg.SubquerySearchCount {
		links = links[:r.cfg.SubquerySearchCount]
	}

	out := make([]WebResult, len(links))
	var g errgroup.Group
	for i, link := range links {
		g.Go(func() error {
			out[i] = r.expand(ctx, sem, link, subq)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// expand fetches and summarizes one link. It always returns a record.
func (r *retriever) expand(ctx context.Context, sem *semaphore.Weighted, link search.Result, subq string) (rec WebResult) {
	rec = WebResult{
		Title:    link.Title,
		Link:     strings.TrimSpace(link.Link),
		Snippet:  link.Snippet,
		Subquery: subq,
	}
	if rec.Title == "" {
		rec.Title = "Source"
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("evidence worker panicked", "url", rec.Link, "panic", p)
			rec.Summary = fmt.Sprintf("Error: %v", p)
		}
	}()

	if rec.Link == "" {
		rec.Summary = SummaryFiltered
		return rec
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		rec.Summary = errorMarker(err)
		return rec
	}
	defer sem.Release(1)

	page, err := r.fetch.Fetch(ctx, rec.Link)
	switch {
	case errors.Is(err, fetch.ErrNotAllowed):
		rec.Summary = SummaryFiltered
		return rec
	case err != nil || page == nil:
		rec.Summary = SummaryFetchFailed
		return rec
	case fetch.IsProbablyPDF(rec.Link, page.ContentType):
		rec.Summary = SummaryPDF
		return rec
	}

	text := rec.Snippet
	pageTitle, pageText, err := fetch.ExtractText(page)
	switch {
	case err != nil:
		r.logger.Warn("page text extraction failed", "url", rec.Link, "error", err)
	case utf8.RuneCountInString(pageText) >= minPageText:
		text = pageText
	case text == "":
		text = pageTitle
	}

	out, err := r.llm.Complete(ctx, pageSummaryPrompt(subq, r.cfg.truncator.Truncate(text, r.cfg.SourceTextLimit)))
	if err != nil {
		r.logger.Error("page summary failed", "url", rec.Link, "error", err)
		rec.Summary = errorMarker(err)
		return rec
	}
	rec.Summary = strings.TrimSpace(out)
	return rec
}
