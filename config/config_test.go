package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

// isolateEnv blanks every variable Load reads so the host environment cannot leak in,
// then sets the minimum credentials for the default backends.
func isolateEnv(t *testing.T) {
	t.Helper()
	for key, legacy := range legacyEnv {
		t.Setenv(legacy, "")
		t.Setenv(EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), "")
	}
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("GOOGLE_API_KEY", "cse-key")
	t.Setenv("GOOGLE_CSE_ID", "cse-id")
}

func TestLoadDefaults(t *testing.T) {
	isolateEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	r := cfg.Research
	if r.MinOverall != 0.7 || r.MaxLoops != 3 || r.SubquerySearchCount != 3 ||
		r.MaxSourcesForCitations != 10 || r.MaxEvidenceSnippets != 5 {
		t.Errorf("unexpected research defaults %+v", r)
	}
	if r.MaxConcurrentFetches != 8 || r.RateLimitCooldown != 45*time.Second || r.RAGSummaryTimeout != 15*time.Second {
		t.Errorf("unexpected concurrency defaults %+v", r)
	}
	if cfg.Fetch.Timeout != 12*time.Second || cfg.RAG.Timeout != 35*time.Second || cfg.Search.Timeout != 15*time.Second {
		t.Errorf("unexpected gateway timeouts")
	}
	if cfg.Cache.MaxSize != 1000 || cfg.Cache.TTL != time.Hour || cfg.Cache.ResponseTTL != 0 {
		t.Errorf("unexpected cache defaults %+v", cfg.Cache)
	}
	if cfg.LLM.APIKey != "gemini-key" || cfg.Search.Backend() != SearchCSE {
		t.Errorf("legacy credentials not applied: %+v %+v", cfg.LLM, cfg.Search)
	}
	if cfg.RAG.Enabled() {
		t.Errorf("rag should be disabled without a base url")
	}
}

func TestLoadLegacyAndPrefixedEnv(t *testing.T) {
	isolateEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("MAX_LOOPS", "5")
	t.Setenv("MIN_OVERALL", "0.8")
	t.Setenv("RATE_LIMIT_COOLDOWN", "2s")
	t.Setenv("MCP_SEARCH_URL", "http://search:8000/mcp/Websearch")
	t.Setenv("GENAI_BASE_URL", "https://genai.example.com/api")
	t.Setenv("COPILOT_ID", "copilot-1")
	t.Setenv("GENAI_RAG_TOKEN", "static-token")
	t.Setenv("END_USER_ID", "ops@example.com")
	t.Setenv("AIRESEARCH_RESEARCH_SUBQUERY_SEARCH_COUNT", "4")
	t.Setenv("AIRESEARCH_FETCH_ALLOWED_DOMAINS", "nih.gov,who.int")
	t.Setenv("AIRESEARCH_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Research.MaxLoops != 5 || cfg.Research.MinOverall != 0.8 || cfg.Research.RateLimitCooldown != 2*time.Second {
		t.Errorf("legacy research variables not applied: %+v", cfg.Research)
	}
	if cfg.Research.SubquerySearchCount != 4 {
		t.Errorf("prefixed variable not applied: %d", cfg.Research.SubquerySearchCount)
	}
	if cfg.Search.Backend() != SearchRemote {
		t.Errorf("expected remote search, got %s", cfg.Search.Backend())
	}
	if !cfg.RAG.Enabled() || cfg.RAG.Token != "static-token" || cfg.RAG.CopilotID != "copilot-1" {
		t.Errorf("unexpected rag config %+v", cfg.RAG)
	}
	if cfg.Server.DefaultEndUserID != "ops@example.com" || cfg.Log.Level != "debug" {
		t.Errorf("unexpected server/log config %+v %+v", cfg.Server, cfg.Log)
	}
	if !slices.Equal(cfg.Fetch.AllowedDomains, []string{"nih.gov", "who.int"}) {
		t.Errorf("unexpected allow list %v", cfg.Fetch.AllowedDomains)
	}
}

func TestLoadFile(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "ai-research.yaml")
	content := `
llm:
  provider: openai
  api_key: sk-test
  model: gpt-4o-mini
research:
  max_loops: 2
  rag_summary_timeout: 5s
cache:
  backend: redis
  response_ttl: 10m
  redis:
    addr: redis:6379
audit:
  backend: mongo
  mongo:
    uri: mongodb://mongo:27017
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Provider != LLMOpenAI || cfg.Research.MaxLoops != 2 || cfg.Research.RAGSummaryTimeout != 5*time.Second {
		t.Errorf("file values not applied: %+v %+v", cfg.LLM, cfg.Research)
	}
	if cfg.Cache.Backend != BackendRedis || cfg.Cache.Redis.Addr != "redis:6379" || cfg.Cache.Redis.Prefix != "ai-research:cache:" {
		t.Errorf("unexpected cache config %+v", cfg.Cache)
	}
	if cfg.Cache.ResponseTTL != 10*time.Minute {
		t.Errorf("unexpected response ttl %s", cfg.Cache.ResponseTTL)
	}
	if cfg.Audit.Mongo.Database != "ai_research" || cfg.Audit.Mongo.Collection != "runs" {
		t.Errorf("mongo defaults not merged: %+v", cfg.Audit.Mongo)
	}

	// Environment wins over the file.
	t.Setenv("MAX_LOOPS", "4")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Research.MaxLoops != 4 {
		t.Errorf("environment should override the file, got %d", cfg.Research.MaxLoops)
	}
}

func TestLoadMissingFile(t *testing.T) {
	isolateEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for an explicit missing file")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"min overall above one", map[string]string{"MIN_OVERALL": "1.5"}, "research.min_overall"},
		{"zero loops", map[string]string{"MAX_LOOPS": "0"}, "research.max_loops"},
		{"missing llm key", map[string]string{"GEMINI_API_KEY": ""}, "apiKey"},
		{"missing cse id", map[string]string{"GOOGLE_CSE_ID": ""}, "search.cse_id"},
		{"rag without credentials", map[string]string{"GENAI_BASE_URL": "https://genai.example.com", "COPILOT_ID": "c"}, "rag.client_id"},
		{"unknown audit backend", map[string]string{"AIRESEARCH_AUDIT_BACKEND": "sqlite"}, "audit.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			if err == nil || !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.field)
			}
		})
	}
}
