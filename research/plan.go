package research

import (
	"context"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/sweetpotato0/ai-research/llm"
)

// planWebContextSize is how many cited records the planner sees.
const planWebContextSize = 3

var listPrefix = regexp.MustCompile(`^(?:[-*•+]+\s+|#+\s*|\(?\d+[.):]+\s*|[a-zA-Z][.)]\s+)`)

type planner struct {
	llm    llm.Completer
	cfg    *Config
	logger *slog.Logger
}

func (p *planner) run(ctx context.Context, st QueryState) (QueryState, error) {
	avoid := unionOrdered(st.PreviousSubqueries, st.BadSubqueries)
	prompt := planPrompt(st, webContext(st.WebResults, planWebContextSize), ragContext(st), avoid, p.cfg.MaxSubqueries)

	out, err := p.llm.Complete(ctx, prompt)
	if err != nil {
		p.logger.Error("planning failed", "loop", st.LoopCount, "error", err)
		st.Subqueries = []string{}
		return st, nil
	}

	st.PreviousSubqueries = slices.Clone(st.Subqueries)
	st.Subqueries = ParseSubqueries(out, p.cfg.MaxSubqueries)
	p.logger.Info("plan generated", "loop", st.LoopCount, "subqueries", len(st.Subqueries), "avoided", len(avoid))
	return st, nil
}

// ParseSubqueries turns a model-written list into subquestions: list markers are
// stripped, blank and preamble lines dropped, duplicates removed and the result capped
// at max entries.
func ParseSubqueries(text string, max int) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(strings.ToLower(line), "here are") {
			continue
		}
		line = strings.TrimSpace(strings.Trim(line, "*_"))
		line = strings.TrimSpace(listPrefix.ReplaceAllString(line, ""))
		line = strings.TrimSpace(strings.Trim(line, "*_"))
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		key := strings.ToLower(line)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, line)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}
