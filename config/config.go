// Package config loads the service configuration from defaults, an optional file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every derived environment variable name.
const EnvPrefix = "AIRESEARCH"

// LLM providers.
const (
	LLMGemini    = "gemini"
	LLMOpenAI    = "openai"
	LLMAnthropic = "anthropic"
)

// Search backends. SearchAuto picks remote when a URL is configured and CSE otherwise.
const (
	SearchAuto   = "auto"
	SearchCSE    = "cse"
	SearchRemote = "remote"
	SearchMCP    = "mcp"
)

// Cache and audit backends.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config is the complete service configuration. It is read once at startup and not
// modified afterwards.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Research  ResearchConfig  `mapstructure:"research"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Tokenizer TokenizerConfig `mapstructure:"tokenizer"`
}

// LogConfig selects the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address          string        `mapstructure:"address"`
	DefaultEndUserID string        `mapstructure:"default_end_user_id"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes     int64         `mapstructure:"max_body_bytes"`
	MaxConcurrent    int           `mapstructure:"max_concurrent_runs"`
	RateLimitRPS     float64       `mapstructure:"rate_limit_rps"` // 0 disables request limiting
	RateLimitBurst   int           `mapstructure:"rate_limit_burst"`
}

// ResearchConfig tunes the workflow.
type ResearchConfig struct {
	MinOverall             float64       `mapstructure:"min_overall"`
	MaxLoops               int           `mapstructure:"max_loops"`
	SubquerySearchCount    int           `mapstructure:"subquery_search_count"`
	MaxSourcesForCitations int           `mapstructure:"max_sources_for_citations"`
	MaxEvidenceSnippets    int           `mapstructure:"max_evidence_snippets"`
	MaxSubqueries          int           `mapstructure:"max_subqueries"`
	MaxConcurrentFetches   int           `mapstructure:"max_concurrent_fetches"`
	RateLimitCooldown      time.Duration `mapstructure:"rate_limit_cooldown"`
	RateLimitAttempts      int           `mapstructure:"rate_limit_attempts"`
	RAGSummaryTimeout      time.Duration `mapstructure:"rag_summary_timeout"`
	SourceTextLimit        int           `mapstructure:"source_text_limit"`
}

// LLMConfig selects and configures the completion provider.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// SearchConfig configures the web search backend.
type SearchConfig struct {
	Provider string        `mapstructure:"provider"`
	APIKey   string        `mapstructure:"api_key"`
	CSEID    string        `mapstructure:"cse_id"`
	URL      string        `mapstructure:"url"` // websearch endpoint, or the MCP endpoint for SearchMCP
	Timeout  time.Duration `mapstructure:"timeout"`
	RPS      float64       `mapstructure:"rps"`
}

// Backend resolves SearchAuto.
func (s SearchConfig) Backend() string {
	if s.Provider != SearchAuto {
		return s.Provider
	}
	if strings.TrimSpace(s.URL) != "" {
		return SearchRemote
	}
	return SearchCSE
}

// FetchConfig configures page downloads.
type FetchConfig struct {
	AllowedDomains []string      `mapstructure:"allowed_domains"`
	UserAgents     []string      `mapstructure:"user_agents"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxBytes       int64         `mapstructure:"max_bytes"`
	RPS            float64       `mapstructure:"rps"`
}

// RAGConfig configures the copilot RAG service. The gateway is disabled when BaseURL is
// empty. A static Token takes precedence over client credentials.
type RAGConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	CopilotID    string        `mapstructure:"copilot_id"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Token        string        `mapstructure:"token"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// Enabled reports whether a RAG service is configured.
func (r RAGConfig) Enabled() bool {
	return strings.TrimSpace(r.BaseURL) != ""
}

// CacheConfig configures the shared cache store.
type CacheConfig struct {
	Backend     string        `mapstructure:"backend"`
	MaxSize     int           `mapstructure:"max_size"`
	TTL         time.Duration `mapstructure:"ttl"`
	ResponseTTL time.Duration `mapstructure:"response_ttl"`
	Redis       RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// AuditConfig selects where completed runs are recorded.
type AuditConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
}

// PostgresConfig holds the audit database settings.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// MongoConfig holds the audit collection settings.
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// TokenizerConfig selects the truncation strategy. An empty encoding truncates by runes.
type TokenizerConfig struct {
	Encoding string `mapstructure:"encoding"`
}

// legacyEnv maps configuration keys to the unprefixed variable names accepted for
// compatibility with existing deployments.
var legacyEnv = map[string]string{
	"research.min_overall":               "MIN_OVERALL",
	"research.max_loops":                 "MAX_LOOPS",
	"research.subquery_search_count":     "SUBQ_SEARCH_COUNT",
	"research.max_sources_for_citations": "MAX_SOURCES_FOR_CITATIONS",
	"research.max_evidence_snippets":     "MAX_EVIDENCE_SNIPPETS",
	"research.max_concurrent_fetches":    "MAX_CONCURRENT_FETCHES",
	"research.rate_limit_cooldown":       "RATE_LIMIT_COOLDOWN",
	"research.rag_summary_timeout":       "RAG_SUMMARY_TIMEOUT",
	"llm.api_key":                        "GEMINI_API_KEY",
	"search.api_key":                     "GOOGLE_API_KEY",
	"search.cse_id":                      "GOOGLE_CSE_ID",
	"search.url":                         "MCP_SEARCH_URL",
	"rag.base_url":                       "GENAI_BASE_URL",
	"rag.copilot_id":                     "COPILOT_ID",
	"rag.client_id":                      "GENAI_CLIENT_ID",
	"rag.client_secret":                  "GENAI_CLIENT_SECRET",
	"rag.token":                          "GENAI_RAG_TOKEN",
	"server.default_end_user_id":         "END_USER_ID",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.default_end_user_id", "")
	v.SetDefault("server.request_timeout", 10*time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.max_concurrent_runs", 4)
	v.SetDefault("server.rate_limit_rps", 0.0)
	v.SetDefault("server.rate_limit_burst", 5)

	v.SetDefault("research.min_overall", 0.7)
	v.SetDefault("research.max_loops", 3)
	v.SetDefault("research.subquery_search_count", 3)
	v.SetDefault("research.max_sources_for_citations", 10)
	v.SetDefault("research.max_evidence_snippets", 5)
	v.SetDefault("research.max_subqueries", 5)
	v.SetDefault("research.max_concurrent_fetches", 8)
	v.SetDefault("research.rate_limit_cooldown", 45*time.Second)
	v.SetDefault("research.rate_limit_attempts", 3)
	v.SetDefault("research.rag_summary_timeout", 15*time.Second)
	v.SetDefault("research.source_text_limit", 2000)

	v.SetDefault("llm.provider", LLMGemini)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gemini-1.5-flash")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.temperature", 0.3)

	v.SetDefault("search.provider", SearchAuto)
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.cse_id", "")
	v.SetDefault("search.url", "")
	v.SetDefault("search.timeout", 15*time.Second)
	v.SetDefault("search.rps", 0.0)

	v.SetDefault("fetch.allowed_domains", []string{})
	v.SetDefault("fetch.user_agents", []string{})
	v.SetDefault("fetch.timeout", 12*time.Second)
	v.SetDefault("fetch.max_bytes", 4<<20)
	v.SetDefault("fetch.rps", 0.0)

	v.SetDefault("rag.base_url", "")
	v.SetDefault("rag.copilot_id", "")
	v.SetDefault("rag.client_id", "")
	v.SetDefault("rag.client_secret", "")
	v.SetDefault("rag.token", "")
	v.SetDefault("rag.timeout", 35*time.Second)
	v.SetDefault("rag.cache_ttl", time.Hour)

	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.max_size", 1000)
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.response_ttl", time.Duration(0))
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.prefix", "ai-research:cache:")

	v.SetDefault("audit.backend", BackendNone)
	v.SetDefault("audit.postgres.dsn", "")
	v.SetDefault("audit.postgres.table", "research_runs")
	v.SetDefault("audit.mongo.uri", "")
	v.SetDefault("audit.mongo.database", "ai_research")
	v.SetDefault("audit.mongo.collection", "runs")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "ai-research")
	v.SetDefault("telemetry.environment", "")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("tokenizer.encoding", "")
}

// Load reads the configuration. When path is empty an "ai-research" file is looked up in
// ./config and the working directory; a missing file is not an error. Environment
// variables use the AIRESEARCH_ prefix with dots replaced by underscores
// (AIRESEARCH_RESEARCH_MAX_LOOPS), and the legacy names in legacyEnv are honoured as well.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", legacy, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("ai-research")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration. Provider credentials are only required for the
// backends that are selected.
func (c *Config) Validate() error {
	v := NewValidator()

	v.ValidateOneOf("log.format", c.Log.Format, "json", "text")
	v.ValidateAddress("server.address", c.Server.Address)
	v.RequirePositiveDuration("server.request_timeout", c.Server.RequestTimeout)
	v.RequirePositive("server.max_body_bytes", int(c.Server.MaxBodyBytes))
	v.RequirePositive("server.max_concurrent_runs", c.Server.MaxConcurrent)
	v.When(c.Server.RateLimitRPS > 0, func(v *Validator) {
		v.RequirePositive("server.rate_limit_burst", c.Server.RateLimitBurst)
	})
	v.ValidateFloatRange("telemetry.sample_ratio", c.Telemetry.SampleRatio, 0, 1)

	r := c.Research
	v.ValidateFloatRange("research.min_overall", r.MinOverall, 0, 1)
	v.RequirePositive("research.max_loops", r.MaxLoops)
	v.ValidateRange("research.subquery_search_count", r.SubquerySearchCount, 1, 10)
	v.RequirePositive("research.max_sources_for_citations", r.MaxSourcesForCitations)
	v.RequirePositive("research.max_evidence_snippets", r.MaxEvidenceSnippets)
	v.ValidateRange("research.max_subqueries", r.MaxSubqueries, 3, 10)
	v.RequirePositive("research.max_concurrent_fetches", r.MaxConcurrentFetches)
	v.RequirePositiveDuration("research.rate_limit_cooldown", r.RateLimitCooldown)
	v.RequirePositive("research.rate_limit_attempts", r.RateLimitAttempts)
	v.RequirePositiveDuration("research.rag_summary_timeout", r.RAGSummaryTimeout)
	v.RequirePositive("research.source_text_limit", r.SourceTextLimit)

	if err := ValidateLLMConfig(c.LLM.Provider, c.LLM.APIKey, c.LLM.Model, c.LLM.Temperature, c.LLM.MaxTokens); err != nil {
		v.add("llm", "%v", err)
	}
	v.ValidateURL("llm.base_url", c.LLM.BaseURL)

	v.ValidateOneOf("search.provider", c.Search.Provider, SearchAuto, SearchCSE, SearchRemote, SearchMCP)
	v.When(c.Search.Backend() == SearchCSE, func(v *Validator) {
		v.RequireNonEmpty("search.api_key", c.Search.APIKey)
		v.RequireNonEmpty("search.cse_id", c.Search.CSEID)
	})
	v.When(c.Search.Backend() == SearchRemote || c.Search.Backend() == SearchMCP, func(v *Validator) {
		v.RequireNonEmpty("search.url", c.Search.URL)
		v.ValidateURL("search.url", c.Search.URL)
	})

	v.RequirePositiveDuration("fetch.timeout", c.Fetch.Timeout)

	v.When(c.RAG.Enabled(), func(v *Validator) {
		v.ValidateURL("rag.base_url", c.RAG.BaseURL)
		v.RequireNonEmpty("rag.copilot_id", c.RAG.CopilotID)
		if c.RAG.Token == "" {
			v.RequireNonEmpty("rag.client_id", c.RAG.ClientID)
			v.RequireNonEmpty("rag.client_secret", c.RAG.ClientSecret)
		}
		v.RequireNonNegativeDuration("rag.cache_ttl", c.RAG.CacheTTL)
	})

	v.ValidateOneOf("cache.backend", c.Cache.Backend, BackendMemory, BackendRedis)
	v.RequirePositive("cache.max_size", c.Cache.MaxSize)
	v.RequireNonNegativeDuration("cache.ttl", c.Cache.TTL)
	v.RequireNonNegativeDuration("cache.response_ttl", c.Cache.ResponseTTL)
	if c.Cache.Backend == BackendRedis {
		if err := ValidateRedisConfig(c.Cache.Redis.Addr, c.Cache.Redis.DB, c.Cache.Redis.Prefix); err != nil {
			v.add("cache.redis", "%v", err)
		}
	}

	v.ValidateOneOf("audit.backend", c.Audit.Backend, BackendNone, BackendMemory, BackendPostgres, BackendMongo)
	switch c.Audit.Backend {
	case BackendPostgres:
		if err := ValidatePostgresConfig(c.Audit.Postgres.DSN, c.Audit.Postgres.Table); err != nil {
			v.add("audit.postgres", "%v", err)
		}
	case BackendMongo:
		m := c.Audit.Mongo
		if err := ValidateMongoDBConfig(m.URI, m.Database, m.Collection); err != nil {
			v.add("audit.mongo", "%v", err)
		}
	}

	return v.Error()
}
