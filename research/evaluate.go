package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/sweetpotato0/ai-research/llm"
)

// digestSummaryLimit bounds each evidence summary shown to the evaluator.
const digestSummaryLimit = 600

const defaultFeedback = "Needs improvement"

type evaluator struct {
	llm    llm.Completer
	cfg    *Config
	logger *slog.Logger
}

type digestEntry struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

// run scores the final answer. The loop counter is advanced before anything can fail.
func (e *evaluator) run(ctx context.Context, st QueryState) (QueryState, error) {
	st.LoopCount++

	rubric, err := e.score(ctx, st)
	if err != nil {
		e.logger.Error("evaluation failed", "loop", st.LoopCount, "error", err)
		rubric = &Rubric{ReplanNeeded: true, Critique: "Evaluation failed: " + err.Error()}
	}

	st.Scores = rubric
	st.EvaluationReason = rubric.Critique
	if err == nil && rubric.Overall >= e.cfg.MinOverall {
		st.Evaluation = EvaluationPass
		st.Feedback = ""
		st.BadSubqueries = nil
	} else {
		st.Evaluation = EvaluationFail
		st.Feedback = rubric.Critique
		if st.Feedback == "" {
			st.Feedback = defaultFeedback
		}
		st.BadSubqueries = slices.Clone(st.Subqueries)
	}

	e.logger.Info("answer evaluated",
		"loop", st.LoopCount,
		"evaluation", st.Evaluation,
		"overall", rubric.Overall,
		"replan_needed", rubric.ReplanNeeded,
	)
	return st, nil
}

// score requests a rubric and, when the response does not decode, asks once for a
// corrected JSON document.
func (e *evaluator) score(ctx context.Context, st QueryState) (*Rubric, error) {
	digest, err := json.Marshal(e.digest(st.WebResults))
	if err != nil {
		return nil, fmt.Errorf("encode evidence digest: %w", err)
	}

	raw, err := e.llm.CompleteJSON(ctx, evaluatePrompt(st.Question, st.FinalAnswer, string(digest)))
	if err != nil {
		return nil, err
	}
	rubric, err := ParseRubric(raw)
	if err == nil {
		return rubric, nil
	}

	e.logger.Warn("rubric did not decode, requesting repair", "error", err)
	fixed, ferr := e.llm.CompleteJSON(ctx, repairPrompt(raw))
	if ferr != nil {
		return nil, fmt.Errorf("rubric repair: %w", ferr)
	}
	return ParseRubric(fixed)
}

func (e *evaluator) digest(results []WebResult) []digestEntry {
	n := min(len(results), e.cfg.MaxEvidenceSnippets)
	out := make([]digestEntry, n)
	for i, r := range results[:n] {
		out[i] = digestEntry{
			Title:   r.Title,
			URL:     r.Link,
			Summary: truncateRunes(r.Summary, digestSummaryLimit),
		}
	}
	return out
}
