package research

import (
	"time"

	"github.com/sweetpotato0/ai-research/graph"
	"github.com/sweetpotato0/ai-research/llm"
	"github.com/sweetpotato0/ai-research/pkg/tokenizer"
)

// Observer receives a snapshot after every stage.
type Observer func(step graph.Step[QueryState])

// Config controls the workflow thresholds and the retrieval fan-out.
type Config struct {
	Name                   string        // Logical name for logging
	MinOverall             float64       // Rubric score that ends the loop
	MaxLoops               int           // Upper bound on evaluation passes
	SubquerySearchCount    int           // Links requested per subquestion
	MaxSourcesForCitations int           // Records that receive a citation index
	MaxEvidenceSnippets    int           // Records rendered into answer/evaluation prompts
	MaxSubqueries          int           // Cap on parsed planner output
	MaxConcurrentFetches   int           // Fetch-and-summarize workers in flight per run
	RateLimitCooldown      time.Duration // Fixed wait between rate-limited LLM attempts
	RateLimitAttempts      int
	RAGSummaryTimeout      time.Duration
	SourceTextLimit        int // Truncation applied to page and RAG text before summarizing

	truncator tokenizer.Truncator
	observers []Observer
}

// Option customises the pipeline configuration.
type Option func(*Config)

// WithName sets the pipeline name used in logs.
func WithName(name string) Option {
	return func(cfg *Config) {
		if name != "" {
			cfg.Name = name
		}
	}
}

// WithMinOverall sets the passing rubric score.
func WithMinOverall(score float64) Option {
	return func(cfg *Config) {
		if score >= 0 && score <= 1 {
			cfg.MinOverall = score
		}
	}
}

// WithMaxLoops caps the number of plan/evaluate passes.
func WithMaxLoops(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxLoops = n
		}
	}
}

// WithSubquerySearchCount sets how many links are requested per subquestion.
func WithSubquerySearchCount(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.SubquerySearchCount = n
		}
	}
}

// WithMaxSourcesForCitations sets how many deduplicated records are numbered.
func WithMaxSourcesForCitations(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxSourcesForCitations = n
		}
	}
}

// WithMaxEvidenceSnippets sets how many records are rendered as evidence.
func WithMaxEvidenceSnippets(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxEvidenceSnippets = n
		}
	}
}

// WithMaxSubqueries caps how many subquestions a plan may contain.
func WithMaxSubqueries(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxSubqueries = n
		}
	}
}

// WithMaxConcurrentFetches bounds the retrieval fan-out.
func WithMaxConcurrentFetches(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxConcurrentFetches = n
		}
	}
}

// WithRateLimitRetry configures the cool-down and attempt count for rate-limited LLM calls.
func WithRateLimitRetry(cooldown time.Duration, attempts int) Option {
	return func(cfg *Config) {
		if cooldown > 0 {
			cfg.RateLimitCooldown = cooldown
		}
		if attempts > 0 {
			cfg.RateLimitAttempts = attempts
		}
	}
}

// WithRAGSummaryTimeout bounds the wait for the RAG answer summary.
func WithRAGSummaryTimeout(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.RAGSummaryTimeout = d
		}
	}
}

// WithSourceTextLimit sets the truncation applied to text before summarization.
func WithSourceTextLimit(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.SourceTextLimit = n
		}
	}
}

// WithTruncator switches source text truncation, e.g. to model tokens.
func WithTruncator(t tokenizer.Truncator) Option {
	return func(cfg *Config) {
		if t != nil {
			cfg.truncator = t
		}
	}
}

// WithObserver registers a callback invoked after every stage.
func WithObserver(o Observer) Option {
	return func(cfg *Config) {
		if o != nil {
			cfg.observers = append(cfg.observers, o)
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		Name:                   "research",
		MinOverall:             0.7,
		MaxLoops:               3,
		SubquerySearchCount:    3,
		MaxSourcesForCitations: 10,
		MaxEvidenceSnippets:    5,
		MaxSubqueries:          5,
		MaxConcurrentFetches:   8,
		RateLimitCooldown:      llm.DefaultCooldown,
		RateLimitAttempts:      3,
		RAGSummaryTimeout:      15 * time.Second,
		SourceTextLimit:        2000,
		truncator:              tokenizer.Runes{},
	}
}

func applyOptions(cfg *Config, opts []Option) *Config {
	if cfg == nil {
		cfg = defaultConfig()
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
