// Package research implements the iterative question answering workflow: summarize the
// question, plan subquestions, retrieve evidence, answer, synthesize and evaluate, looping
// back to planning until the rubric passes or the loop budget runs out.
package research

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Evaluation verdicts.
const (
	EvaluationPass = "yes"
	EvaluationFail = "no"
)

// WebResult is one evidence record. N is the 1-based citation index, 0 when the record
// falls outside the cited window.
type WebResult struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet,omitempty"`
	Summary  string `json:"summary"`
	Subquery string `json:"subquery,omitempty"`
	N        int    `json:"n,omitempty"`
}

// Rubric is the evaluator's score card. All scores are within [0,1].
type Rubric struct {
	Coverage     float64 `json:"coverage"`
	Grounding    float64 `json:"grounding"`
	Coherence    float64 `json:"coherence"`
	Overall      float64 `json:"overall"`
	ReplanNeeded bool    `json:"replan_needed"`
	Critique     string  `json:"critique"`
}

// QueryState is threaded through the stages. Each stage receives a copy and returns the
// next state; slices and maps are replaced rather than modified so earlier snapshots
// stay valid.
type QueryState struct {
	Question           string            `json:"question"`
	Summary            string            `json:"summary"`
	Subqueries         []string          `json:"subqueries"`
	PreviousSubqueries []string          `json:"previous_subqueries,omitempty"`
	BadSubqueries      []string          `json:"bad_subqueries,omitempty"`
	Answers            map[string]string `json:"answers"`
	WebResults         []WebResult       `json:"web_results"`
	RAGAnswer          string            `json:"rag_answer"`
	RAGSummary         string            `json:"rag_summary"`
	FinalAnswer        string            `json:"final_answer"`
	Evaluation         string            `json:"evaluation"`
	EvaluationReason   string            `json:"evaluation_reason,omitempty"`
	Feedback           string            `json:"feedback"`
	LoopCount          int               `json:"loop_count"`
	Scores             *Rubric           `json:"scores,omitempty"`
}

// NewQueryState returns the initial state for question.
func NewQueryState(question string) QueryState {
	return QueryState{Question: question}
}

// Clone returns a deep copy.
func (s QueryState) Clone() QueryState {
	out := s
	out.Subqueries = slices.Clone(s.Subqueries)
	out.PreviousSubqueries = slices.Clone(s.PreviousSubqueries)
	out.BadSubqueries = slices.Clone(s.BadSubqueries)
	out.Answers = maps.Clone(s.Answers)
	out.WebResults = slices.Clone(s.WebResults)
	if s.Scores != nil {
		scores := *s.Scores
		out.Scores = &scores
	}
	return out
}

// Cited returns the records that carry a citation index, in citation order.
func (s QueryState) Cited() []WebResult {
	out := make([]WebResult, 0, len(s.WebResults))
	for _, r := range s.WebResults {
		if r.N > 0 {
			out = append(out, r)
		}
	}
	return out
}

// Validate checks the state invariants. maxLoops <= 0 skips the loop bound check.
func (s QueryState) Validate(maxLoops int) error {
	var errs []error

	seen := make(map[string]struct{}, len(s.WebResults))
	uncited := false
	for i, r := range s.WebResults {
		if key := CanonicalLink(r.Link); key != "" {
			if _, dup := seen[key]; dup {
				errs = append(errs, fmt.Errorf("web result %d duplicates link %s", i, r.Link))
			}
			seen[key] = struct{}{}
		}
		switch {
		case r.N == 0:
			uncited = true
		case uncited || r.N != i+1:
			errs = append(errs, fmt.Errorf("web result %d has citation %d, want %d", i, r.N, i+1))
		}
	}

	if len(s.Answers) > 0 {
		current := make(map[string]struct{}, len(s.Subqueries))
		for _, q := range s.Subqueries {
			current[q] = struct{}{}
		}
		for q := range s.Answers {
			if _, ok := current[q]; !ok {
				errs = append(errs, fmt.Errorf("answer for stale subquery %q", q))
			}
		}
	}

	if s.LoopCount < 0 || (maxLoops > 0 && s.LoopCount > maxLoops) {
		errs = append(errs, fmt.Errorf("loop count %d outside [0,%d]", s.LoopCount, maxLoops))
	}

	switch s.Evaluation {
	case "":
	case EvaluationPass, EvaluationFail:
		if s.Scores == nil {
			errs = append(errs, fmt.Errorf("evaluation %q without scores", s.Evaluation))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown evaluation %q", s.Evaluation))
	}

	if s.Scores != nil {
		for name, v := range map[string]float64{
			"coverage":  s.Scores.Coverage,
			"grounding": s.Scores.Grounding,
			"coherence": s.Scores.Coherence,
			"overall":   s.Scores.Overall,
		} {
			if v < 0 || v > 1 {
				errs = append(errs, fmt.Errorf("score %s=%v outside [0,1]", name, v))
			}
		}
	}

	return errors.Join(errs...)
}
