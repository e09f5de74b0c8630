package research

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/ai-research/llm"
)

type answerer struct {
	llm    llm.Completer
	cfg    *Config
	logger *slog.Logger
}

// run answers every current subquestion in order. The answers map is rebuilt from
// scratch so keys from earlier passes never survive.
func (a *answerer) run(ctx context.Context, st QueryState) (QueryState, error) {
	webCtx := webContext(st.WebResults, a.cfg.MaxEvidenceSnippets)
	ragCtx := ragContext(st)

	answers := make(map[string]string, len(st.Subqueries))
	failed := 0
	for _, subq := range st.Subqueries {
		out, err := a.llm.Complete(ctx, answerPrompt(st.Question, subq, webCtx, ragCtx))
		if err != nil {
			a.logger.Error("subquestion answer failed", "subquery", subq, "error", err)
			answers[subq] = errorMarker(err)
			failed++
			continue
		}
		answers[subq] = strings.TrimSpace(out)
	}
	st.Answers = answers
	a.logger.Info("subquestions answered", "count", len(answers), "failed", failed)
	return st, nil
}
