package server

import (
	"encoding/json"
	"errors"
	"net/http"

	errorskg "github.com/sweetpotato0/ai-research/errors"
	"github.com/sweetpotato0/ai-research/middleware"
	"github.com/sweetpotato0/ai-research/research"
)

// Request is the body of POST /v1/research and /mcp/runLanggraph.
type Request struct {
	Query     string `json:"query"`
	EndUserID string `json:"end_user_id,omitempty"`
}

// WebResult is one evidence record as returned to API callers.
type WebResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet,omitempty"`
	Summary string `json:"summary"`
	N       int    `json:"n,omitempty"`
}

// Response is the final state of a research run.
type Response struct {
	Question        string            `json:"question"`
	Summary         string            `json:"summary"`
	RAGAnswer       string            `json:"rag_answer"`
	RAGSummary      string            `json:"rag_summary"`
	WebResults      []WebResult       `json:"web_results"`
	Subqueries      []string          `json:"subqueries"`
	SubqueryAnswers map[string]string `json:"subquery_answers"`
	FinalAnswer     string            `json:"final_answer"`
	Evaluation      string            `json:"evaluation"`
	Feedback        string            `json:"feedback"`
	Rubric          *research.Rubric  `json:"rubric,omitempty"`
}

// NewResponse projects a final state onto the API shape. Collections are never null.
func NewResponse(st research.QueryState) Response {
	resp := Response{
		Question:        st.Question,
		Summary:         st.Summary,
		RAGAnswer:       st.RAGAnswer,
		RAGSummary:      st.RAGSummary,
		WebResults:      make([]WebResult, 0, len(st.WebResults)),
		Subqueries:      append([]string{}, st.Subqueries...),
		SubqueryAnswers: make(map[string]string, len(st.Answers)),
		FinalAnswer:     st.FinalAnswer,
		Evaluation:      st.Evaluation,
		Feedback:        st.Feedback,
	}
	for _, r := range st.WebResults {
		resp.WebResults = append(resp.WebResults, WebResult{
			Title:   r.Title,
			Link:    r.Link,
			Snippet: r.Snippet,
			Summary: r.Summary,
			N:       r.N,
		})
	}
	for q, a := range st.Answers {
		resp.SubqueryAnswers[q] = a
	}
	if st.Scores != nil {
		rubric := *st.Scores
		resp.Rubric = &rubric
	}
	return resp
}

// Passed reports whether the run ended with a passing evaluation.
func (r Response) Passed() bool {
	return r.Evaluation == research.EvaluationPass
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusFor maps a run error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errorskg.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, errorskg.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errorskg.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	middleware.WriteError(w, status, code, err.Error())
}
