package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweetpotato0/ai-research/audit"
	"github.com/sweetpotato0/ai-research/cache"
	errorskg "github.com/sweetpotato0/ai-research/errors"
	"github.com/sweetpotato0/ai-research/gateway/rag"
	"github.com/sweetpotato0/ai-research/gateway/search"
	"github.com/sweetpotato0/ai-research/mcp"
	"github.com/sweetpotato0/ai-research/middleware"
	"github.com/sweetpotato0/ai-research/research"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    int
	users    []string
	states   []research.QueryState // returned in order, the last one repeats
	err      error
	deadline bool
}

func (f *fakeRunner) Run(ctx context.Context, question, endUserID string) (research.QueryState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.users = append(f.users, endUserID)
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return research.QueryState{}, f.err
	}
	st := f.states[min(f.calls, len(f.states))-1]
	st.Question = question
	return st, nil
}

func passingState() research.QueryState {
	return research.QueryState{
		Summary:     "migraine triggers",
		Subqueries:  []string{"What triggers migraines?"},
		Answers:     map[string]string{"What triggers migraines?": "Stress [1]."},
		WebResults:  []research.WebResult{{Title: "T", Link: "https://example.com", Snippet: "s", Summary: "S", N: 1}},
		FinalAnswer: "Stress is a common trigger [1].",
		Evaluation:  research.EvaluationPass,
		Feedback:    "",
		LoopCount:   1,
		Scores:      &research.Rubric{Coverage: 0.9, Grounding: 0.9, Coherence: 0.9, Overall: 0.9},
	}
}

func failingState() research.QueryState {
	return research.QueryState{FinalAnswer: "Not sure.", Evaluation: research.EvaluationFail, Feedback: "more sources", LoopCount: 3}
}

type fakeSearcher struct {
	gotCount int
	err      error
}

func (f *fakeSearcher) Search(_ context.Context, query string, count int) ([]search.Result, error) {
	f.gotCount = count
	if f.err != nil {
		return nil, f.err
	}
	return []search.Result{{Title: query, Link: "https://example.com/" + query, Snippet: "snippet"}}, nil
}

type fakeAsker struct {
	gotUser string
	err     error
}

func (f *fakeAsker) Ask(_ context.Context, question, endUserID string) (*rag.Answer, error) {
	f.gotUser = endUserID
	if f.err != nil {
		return nil, f.err
	}
	return &rag.Answer{OutputText: "doc answer to " + question, SourceFiles: json.RawMessage(`["a.pdf"]`)}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestResearchEndpoints(t *testing.T) {
	runner := &fakeRunner{states: []research.QueryState{passingState()}}
	sink := audit.NewMemorySink(10)
	h := New(runner, WithAudit(sink), WithDefaultEndUser("default@example.com"), WithRequestTimeout(time.Minute)).Handler()

	for _, path := range []string{"/v1/research", "/mcp/runLanggraph"} {
		t.Run(path, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, path, `{"query":"  What causes migraines? "}`)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("missing request id header")
			}
			var resp Response
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Question != "What causes migraines?" || resp.Evaluation != "yes" || resp.Rubric == nil || resp.Rubric.Overall != 0.9 {
				t.Errorf("unexpected response %+v", resp)
			}
			if len(resp.WebResults) != 1 || resp.WebResults[0].N != 1 || resp.SubqueryAnswers["What triggers migraines?"] != "Stress [1]." {
				t.Errorf("evidence not projected: %+v", resp)
			}
		})
	}

	if !runner.deadline {
		t.Error("expected the run context to carry the request timeout")
	}
	if runner.users[0] != "default@example.com" {
		t.Errorf("default end user not applied: %v", runner.users)
	}
	runs, _ := sink.Recent(context.Background(), 0)
	if len(runs) != 2 || runs[0].Evaluation != "yes" {
		t.Errorf("expected two audited runs, got %+v", runs)
	}

	rec := do(t, h, http.MethodPost, "/v1/research", `{"query":"q","end_user_id":"me@example.com"}`)
	if rec.Code != http.StatusOK || runner.users[len(runner.users)-1] != "me@example.com" {
		t.Errorf("explicit end user not forwarded: %v", runner.users)
	}
}

func TestResponseCollectionsAreNeverNull(t *testing.T) {
	body, err := json.Marshal(NewResponse(research.QueryState{Question: "q", Evaluation: "no"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"subqueries":[]`, `"web_results":[]`, `"subquery_answers":{}`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected %s in %s", want, body)
		}
	}
	if strings.Contains(string(body), `"rubric"`) {
		t.Errorf("rubric should be omitted when absent: %s", body)
	}
}

func TestResearchErrors(t *testing.T) {
	tests := []struct {
		name       string
		runErr     error
		body       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{name: "empty query", body: `{"query":"   "}`, wantStatus: http.StatusBadRequest, wantCode: "invalid_input"},
		{name: "missing query", body: `{}`, wantStatus: http.StatusBadRequest, wantCode: "invalid_input"},
		{name: "malformed json", body: `{"query":`, wantStatus: http.StatusBadRequest, wantCode: "invalid_input"},
		{name: "wrong content type", body: `query=x`, header: "text/plain", wantStatus: http.StatusUnsupportedMediaType, wantCode: "invalid_request"},
		{name: "unauthorized", body: `{"query":"q"}`, runErr: fmt.Errorf("rag: %w", errorskg.ErrUnauthorized), wantStatus: http.StatusUnauthorized, wantCode: "unauthorized"},
		{name: "no final state", body: `{"query":"q"}`, runErr: errorskg.ErrNoFinalState, wantStatus: http.StatusInternalServerError, wantCode: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{states: []research.QueryState{passingState()}, err: tt.runErr}
			sink := audit.NewMemorySink(10)
			h := New(runner, WithAudit(sink)).Handler()

			req := httptest.NewRequest(http.MethodPost, "/v1/research", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.header != "" {
				req.Header.Set("Content-Type", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			var body middleware.ErrorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body.Error != tt.wantCode || body.Message == "" {
				t.Errorf("unexpected error body %+v", body)
			}

			runs, _ := sink.Recent(context.Background(), 0)
			if tt.runErr != nil && (len(runs) != 1 || runs[0].Error == "") {
				t.Errorf("failed run not audited: %+v", runs)
			}
			if tt.runErr == nil && runner.calls != 0 {
				t.Errorf("runner should not be called for rejected input")
			}
		})
	}
}

func TestResponseCacheKeepsPassingAnswersOnly(t *testing.T) {
	runner := &fakeRunner{states: []research.QueryState{failingState(), passingState()}}
	store := cache.NewMemoryStore(nil)
	h := New(runner, WithResponseCache(store, time.Hour)).Handler()

	wantEval := []string{"no", "yes", "yes"}
	for i, want := range wantEval {
		rec := do(t, h, http.MethodPost, "/v1/research", `{"query":"Why is the sky blue?"}`)
		var resp Response
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("request %d: decode: %v", i, err)
		}
		if resp.Evaluation != want {
			t.Errorf("request %d: evaluation = %q, want %q", i, resp.Evaluation, want)
		}
	}
	if runner.calls != 2 {
		t.Errorf("expected the failing answer to be recomputed and the passing one cached, got %d runs", runner.calls)
	}
}

// userRunner grounds every answer in the calling end user's documents.
type userRunner struct {
	mu    sync.Mutex
	calls map[string]int
}

func (u *userRunner) Run(_ context.Context, question, endUserID string) (research.QueryState, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls[endUserID]++
	st := passingState()
	st.Question = question
	st.RAGAnswer = "docs of " + endUserID
	return st, nil
}

func TestResponseCacheIsScopedToEndUser(t *testing.T) {
	runner := &userRunner{calls: map[string]int{}}
	h := New(runner, WithResponseCache(cache.NewMemoryStore(nil), time.Hour), WithDefaultEndUser("ops")).Handler()

	tests := []struct {
		body, want string
	}{
		{`{"query":"Why is the sky blue?","end_user_id":"alice"}`, "docs of alice"},
		{`{"query":"Why is the sky blue?","end_user_id":"bob"}`, "docs of bob"},
		{`{"query":"Why is the sky blue?"}`, "docs of ops"},
		{`{"query":"Why is the sky blue?","end_user_id":"alice"}`, "docs of alice"},
	}
	for i, tt := range tests {
		rec := do(t, h, http.MethodPost, "/v1/research", tt.body)
		var resp Response
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("request %d: decode: %v", i, err)
		}
		if resp.RAGAnswer != tt.want {
			t.Errorf("request %d: rag_answer = %q, want %q", i, resp.RAGAnswer, tt.want)
		}
	}
	for user, n := range runner.calls {
		if n != 1 {
			t.Errorf("expected one run for %s, got %d", user, n)
		}
	}
	if len(runner.calls) != 3 {
		t.Errorf("expected runs for 3 users, got %v", runner.calls)
	}
}

func TestRunsEndpoint(t *testing.T) {
	runner := &fakeRunner{states: []research.QueryState{passingState()}}
	h := New(runner, WithAudit(audit.NewMemorySink(10))).Handler()

	for i := 0; i < 3; i++ {
		do(t, h, http.MethodPost, "/v1/research", fmt.Sprintf(`{"query":"question %d"}`, i))
	}

	rec := do(t, h, http.MethodGet, "/v1/runs?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Runs []audit.Run `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Runs) != 2 || body.Runs[0].Question != "question 2" {
		t.Errorf("unexpected runs %+v", body.Runs)
	}

	rec = do(t, h, http.MethodGet, "/v1/runs/"+body.Runs[1].ID, "")
	var run audit.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil || rec.Code != http.StatusOK {
		t.Fatalf("run lookup: status %d, decode %v", rec.Code, err)
	}
	if run.Question != "question 1" {
		t.Errorf("looked up the wrong run: %+v", run)
	}

	rec = do(t, h, http.MethodGet, "/v1/runs/no-such-run", "")
	var errBody middleware.ErrorBody
	_ = json.Unmarshal(rec.Body.Bytes(), &errBody)
	if rec.Code != http.StatusNotFound || errBody.Error != "not_found" {
		t.Errorf("expected 404 not_found for an unknown run, got %d %+v", rec.Code, errBody)
	}

	if rec := do(t, h, http.MethodGet, "/v1/runs?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}

	empty := New(runner).Handler()
	rec = do(t, empty, http.MethodGet, "/v1/runs", "")
	if !strings.Contains(rec.Body.String(), `"runs":[]`) {
		t.Errorf("expected empty list, got %s", rec.Body.String())
	}
}

func TestOptionalRoutes(t *testing.T) {
	runner := &fakeRunner{states: []research.QueryState{passingState()}}

	t.Run("absent when not configured", func(t *testing.T) {
		h := New(runner).Handler()
		for _, path := range []string{"/searchrag", "/mcp/Websearch"} {
			if rec := do(t, h, http.MethodPost, path, `{"query":"q"}`); rec.Code != http.StatusNotFound {
				t.Errorf("%s: expected 404, got %d", path, rec.Code)
			}
		}
	})

	t.Run("searchrag", func(t *testing.T) {
		asker := &fakeAsker{}
		h := New(runner, WithRAG(asker), WithDefaultEndUser("ops")).Handler()

		rec := do(t, h, http.MethodPost, "/searchrag", `{"query":"dosage"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
		}
		var body map[string]any
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		if body["output_text"] != "doc answer to dosage" || asker.gotUser != "ops" {
			t.Errorf("unexpected body %v user=%q", body, asker.gotUser)
		}
		if files, ok := body["output_file_names"].([]any); !ok || len(files) != 1 {
			t.Errorf("expected file names, got %v", body["output_file_names"])
		}

		asker.err = fmt.Errorf("token: %w", errorskg.ErrUnauthorized)
		if rec := do(t, h, http.MethodPost, "/searchrag", `{"query":"dosage"}`); rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("websearch", func(t *testing.T) {
		searcher := &fakeSearcher{}
		h := New(runner, WithSearch(searcher)).Handler()

		rec := do(t, h, http.MethodPost, "/mcp/Websearch", `{"query":"aspirin","cse_id":"ignored"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
		}
		var body WebsearchResponse
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		if len(body.Results) != 1 || body.Results[0].Title != "aspirin" || searcher.gotCount != search.MaxResults {
			t.Errorf("unexpected results %+v count=%d", body, searcher.gotCount)
		}

		if rec := do(t, h, http.MethodPost, "/mcp/Websearch", `{"query":""}`); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for empty query, got %d", rec.Code)
		}
		searcher.err = errors.New("engine down")
		if rec := do(t, h, http.MethodPost, "/mcp/Websearch", `{"query":"x"}`); rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})
}

func TestHealthStatusAndMetrics(t *testing.T) {
	h := New(&fakeRunner{}, WithSearch(&fakeSearcher{}), WithResponseCache(cache.NewMemoryStore(nil), time.Minute), WithVersion("1.0.0")).Handler()

	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}

	rec := do(t, h, http.MethodGet, "/status", "")
	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Version != "1.0.0" || st.RAG || !st.Websearch || !st.ResponseCache || st.RequestID == "" {
		t.Errorf("unexpected status %+v", st)
	}

	rec = do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "airesearch_http_requests_total") {
		t.Errorf("metrics endpoint missing http metrics")
	}
}

func TestRateLimitAppliesToResearch(t *testing.T) {
	runner := &fakeRunner{states: []research.QueryState{passingState()}}
	h := New(runner, WithRateLimit(0.001, 1)).Handler()

	if rec := do(t, h, http.MethodPost, "/v1/research", `{"query":"q"}`); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/v1/research", `{"query":"q"}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("health should not be limited, got %d", rec.Code)
	}
}

func TestMCPTools(t *testing.T) {
	runner := &fakeRunner{states: []research.QueryState{passingState()}}
	srv := httptest.NewServer(New(runner, WithSearch(&fakeSearcher{})).Handler())
	defer srv.Close()
	ctx := context.Background()

	client, err := mcp.NewStreamableClient(ctx, srv.URL+"/mcp", mcp.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	names, err := client.ToolNames(ctx)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	slices.Sort(names)
	if !slices.Equal(names, []string{"research", "websearch"}) {
		t.Errorf("unexpected tools %v", names)
	}

	res, err := client.CallTool(ctx, "research", map[string]any{"query": "What causes migraines?"})
	if err != nil {
		t.Fatalf("call research: %v", err)
	}
	if res.Text != passingState().FinalAnswer {
		t.Errorf("text content = %q", res.Text)
	}
	var resp Response
	if err := res.Decode(&resp); err != nil || resp.Evaluation != "yes" || len(resp.WebResults) != 1 {
		t.Errorf("unexpected structured response %+v %v", resp, err)
	}

	if _, err := client.CallTool(ctx, "research", map[string]any{"query": " "}); !errors.Is(err, mcp.ErrToolFailed) {
		t.Errorf("expected tool failure for empty query, got %v", err)
	}

	res, err = client.CallTool(ctx, "websearch", map[string]any{"query": "aspirin", "count": 2})
	if err != nil {
		t.Fatalf("call websearch: %v", err)
	}
	var ws WebsearchResponse
	if err := res.Decode(&ws); err != nil || len(ws.Results) != 1 {
		t.Errorf("unexpected websearch result %+v %v", ws, err)
	}
}
