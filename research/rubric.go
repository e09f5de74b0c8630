package research

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sweetpotato0/ai-research/llm"
)

// RubricError reports an evaluator response that is not a complete rubric.
type RubricError struct {
	Raw     string
	Missing []string
	Err     error
}

func (e *RubricError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid rubric: %v", e.Err)
	}
	return fmt.Sprintf("invalid rubric: missing %s", strings.Join(e.Missing, ", "))
}

func (e *RubricError) Unwrap() error { return e.Err }

type rawRubric struct {
	Coverage     *float64 `json:"coverage"`
	Grounding    *float64 `json:"grounding"`
	Coherence    *float64 `json:"coherence"`
	Overall      *float64 `json:"overall"`
	ReplanNeeded *bool    `json:"replan_needed"`
	Critique     *string  `json:"critique"`
}

// ParseRubric decodes an evaluator response. The four scores and replan_needed are
// required and must have the right JSON types; critique is optional. Scores are
// clamped to [0,1].
func ParseRubric(raw string) (*Rubric, error) {
	clean := llm.StripCodeFence(raw)
	if clean == "" {
		return nil, &RubricError{Raw: raw, Err: fmt.Errorf("empty response")}
	}

	var r rawRubric
	if err := json.Unmarshal([]byte(clean), &r); err != nil {
		return nil, &RubricError{Raw: raw, Err: err}
	}

	var missing []string
	check := func(name string, present bool) {
		if !present {
			missing = append(missing, name)
		}
	}
	check("coverage", r.Coverage != nil)
	check("grounding", r.Grounding != nil)
	check("coherence", r.Coherence != nil)
	check("overall", r.Overall != nil)
	check("replan_needed", r.ReplanNeeded != nil)
	if len(missing) > 0 {
		return nil, &RubricError{Raw: raw, Missing: missing}
	}

	rubric := &Rubric{
		Coverage:     clamp01(*r.Coverage),
		Grounding:    clamp01(*r.Grounding),
		Coherence:    clamp01(*r.Coherence),
		Overall:      clamp01(*r.Overall),
		ReplanNeeded: *r.ReplanNeeded,
	}
	if r.Critique != nil {
		rubric.Critique = strings.TrimSpace(*r.Critique)
	}
	return rubric, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
