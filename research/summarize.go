package research

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/ai-research/llm"
)

func errorMarker(err error) string {
	return "Error: " + err.Error()
}

type summarizer struct {
	llm    llm.Completer
	logger *slog.Logger
}

func (s *summarizer) run(ctx context.Context, st QueryState) (QueryState, error) {
	out, err := s.llm.Complete(ctx, summarizePrompt(st.Question))
	if err != nil {
		s.logger.Error("question summary failed", "error", err)
		st.Summary = errorMarker(err)
		return st, nil
	}
	st.Summary = strings.TrimSpace(out)
	return st, nil
}
