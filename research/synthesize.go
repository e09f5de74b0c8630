package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/ai-research/llm"
)

// citationSummaryLimit bounds each evidence snippet in the synthesis prompt.
const citationSummaryLimit = 500

type synthesizer struct {
	llm    llm.Completer
	cfg    *Config
	logger *slog.Logger
}

func (s *synthesizer) run(ctx context.Context, st QueryState) (QueryState, error) {
	sources := st.Cited()
	if len(sources) > s.cfg.MaxSourcesForCitations {
		sources = sources[:s.cfg.MaxSourcesForCitations]
	}

	sourceLines := make([]string, len(sources))
	for i, src := range sources {
		title := src.Title
		if title == "" {
			title = "Source"
		}
		sourceLines[i] = fmt.Sprintf("[%d] %s - %s", src.N, title, src.Link)
	}

	snippets := sources
	if len(snippets) > s.cfg.MaxEvidenceSnippets {
		snippets = snippets[:s.cfg.MaxEvidenceSnippets]
	}
	evidence := make([]string, len(snippets))
	for i, src := range snippets {
		evidence[i] = fmt.Sprintf("[%d] Summary: %s", src.N, truncateRunes(src.Summary, citationSummaryLimit))
	}

	prompt := synthesizePrompt(st.Question, strings.Join(evidence, "\n\n"), strings.Join(sourceLines, "\n"), st.RAGSummary)
	out, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		s.logger.Error("synthesis failed", "error", err)
		st.FinalAnswer = errorMarker(err)
		return st, nil
	}
	st.FinalAnswer = strings.TrimSpace(out)
	s.logger.Info("answer synthesized", "sources", len(sources), "answer_length", len(st.FinalAnswer))
	return st, nil
}
