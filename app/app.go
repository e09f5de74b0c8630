// Package app assembles the research service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sweetpotato0/ai-research/audit"
	"github.com/sweetpotato0/ai-research/cache"
	"github.com/sweetpotato0/ai-research/config"
	"github.com/sweetpotato0/ai-research/gateway/fetch"
	"github.com/sweetpotato0/ai-research/gateway/rag"
	"github.com/sweetpotato0/ai-research/gateway/search"
	"github.com/sweetpotato0/ai-research/llm"
	"github.com/sweetpotato0/ai-research/llm/anthropic"
	"github.com/sweetpotato0/ai-research/llm/gemini"
	"github.com/sweetpotato0/ai-research/llm/openai"
	"github.com/sweetpotato0/ai-research/pkg/logging"
	"github.com/sweetpotato0/ai-research/pkg/telemetry"
	"github.com/sweetpotato0/ai-research/pkg/tokenizer"
	"github.com/sweetpotato0/ai-research/research"
	"github.com/sweetpotato0/ai-research/runner"
	"github.com/sweetpotato0/ai-research/server"
)

// Version is reported by /status and the MCP handshake. Overridden at link time.
var Version = "dev"

// App owns every long-lived component built from a Config.
type App struct {
	Config   *config.Config
	Pipeline *research.Pipeline
	Runner   *runner.Runner
	Server   *server.Server
	Search   search.Searcher
	RAG      rag.Asker
	Store    cache.Store
	Audit    audit.Sink

	logger  *slog.Logger
	closers []func(context.Context) error
}

// Option adjusts how New assembles the app.
type Option func(*options)

type options struct {
	observers []research.Observer
	llm       llm.Completer
	search    search.Searcher
	fetch     fetch.Fetcher
}

// WithObserver registers a pipeline observer, used by the CLI to stream stages.
func WithObserver(o research.Observer) Option {
	return func(opts *options) {
		opts.observers = append(opts.observers, o)
	}
}

// WithLLM replaces the configured LLM provider.
func WithLLM(c llm.Completer) Option {
	return func(opts *options) { opts.llm = c }
}

// WithSearcher replaces the configured search backend.
func WithSearcher(s search.Searcher) Option {
	return func(opts *options) { opts.search = s }
}

// WithFetcher replaces the page fetcher.
func WithFetcher(f fetch.Fetcher) Option {
	return func(opts *options) { opts.fetch = f }
}

// New builds the app. On error every component built so far is closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logging.Configure(cfg.Log.Level, cfg.Log.Format)
	a := &App{Config: cfg, logger: logging.WithComponent("app")}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Telemetry.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		Disable:        !cfg.Telemetry.Enabled,
		Logger:         logging.WithComponent("telemetry"),
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	if a.Store, err = a.buildStore(ctx); err != nil {
		return nil, err
	}

	completer := o.llm
	if completer == nil {
		if completer, err = a.buildLLM(ctx); err != nil {
			return nil, err
		}
	}

	a.Search = o.search
	if a.Search == nil {
		if a.Search, err = a.buildSearch(ctx); err != nil {
			return nil, err
		}
	}

	fetcher := o.fetch
	if fetcher == nil {
		fetcher = fetch.New(fetch.Config{
			AllowedDomains: cfg.Fetch.AllowedDomains,
			UserAgents:     cfg.Fetch.UserAgents,
			Timeout:        cfg.Fetch.Timeout,
			MaxBytes:       cfg.Fetch.MaxBytes,
			RPS:            cfg.Fetch.RPS,
		})
	}

	if cfg.RAG.Enabled() {
		if a.RAG, err = a.buildRAG(); err != nil {
			return nil, err
		}
	}

	researchOpts, err := a.researchOptions(o.observers)
	if err != nil {
		return nil, err
	}
	a.Pipeline, err = research.NewPipeline(research.Dependencies{
		LLM:    completer,
		Search: a.Search,
		Fetch:  fetcher,
		RAG:    a.RAG,
	}, researchOpts...)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	a.Runner = runner.New(a.Pipeline, cfg.Server.MaxConcurrent)

	if a.Audit, err = a.buildAudit(ctx); err != nil {
		return nil, err
	}

	srvOpts := []server.Option{
		server.WithSearch(a.Search),
		server.WithAudit(a.Audit),
		server.WithDefaultEndUser(cfg.Server.DefaultEndUserID),
		server.WithRequestTimeout(cfg.Server.RequestTimeout),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithRateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		server.WithResponseCache(a.Store, cfg.Cache.ResponseTTL),
		server.WithVersion(Version),
	}
	if a.RAG != nil {
		srvOpts = append(srvOpts, server.WithRAG(a.RAG))
	}
	a.Server = server.New(a.Runner, srvOpts...)

	a.logger.Info("application assembled",
		"llm", cfg.LLM.Provider,
		"search", cfg.Search.Backend(),
		"rag", a.RAG != nil,
		"cache", cfg.Cache.Backend,
		"audit", cfg.Audit.Backend,
	)
	return a, nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func closerFunc(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}

func (a *App) buildStore(ctx context.Context) (cache.Store, error) {
	c := a.Config.Cache
	switch c.Backend {
	case config.BackendRedis:
		store := cache.NewRedisStore(&cache.RedisConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
		})
		a.onClose(closerFunc(store))
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		return store, nil
	default:
		return cache.NewMemoryStore(cache.NewTTLCache[string, []byte](
			cache.WithMaxSize(c.MaxSize),
			cache.WithDefaultTTL(c.TTL),
		)), nil
	}
}

func (a *App) buildLLM(ctx context.Context) (llm.Completer, error) {
	c := a.Config.LLM
	switch c.Provider {
	case config.LLMOpenAI:
		oc := openai.DefaultConfig()
		oc.APIKey = c.APIKey
		oc.BaseURL = c.BaseURL
		if c.Model != "" {
			oc.Model = c.Model
		}
		oc.MaxTokens = int64(c.MaxTokens)
		oc.Temperature = c.Temperature
		return openai.New(oc), nil
	case config.LLMAnthropic:
		ac := anthropic.DefaultConfig(c.APIKey)
		ac.BaseURL = c.BaseURL
		if c.Model != "" {
			ac.Model = c.Model
		}
		ac.MaxTokens = int64(c.MaxTokens)
		ac.Temperature = c.Temperature
		return anthropic.New(ac), nil
	default:
		gc := gemini.DefaultConfig(c.APIKey)
		if c.Model != "" {
			gc.Model = c.Model
		}
		gc.MaxTokens = int32(c.MaxTokens)
		gc.Temperature = float32(c.Temperature)
		p, err := gemini.New(ctx, gc)
		if err != nil {
			return nil, fmt.Errorf("create gemini provider: %w", err)
		}
		a.onClose(closerFunc(p))
		return p, nil
	}
}

func (a *App) buildSearch(ctx context.Context) (search.Searcher, error) {
	c := a.Config.Search
	switch c.Backend() {
	case config.SearchRemote:
		return search.NewRemote(search.RemoteConfig{URL: c.URL, CSEID: c.CSEID, Timeout: c.Timeout, RPS: c.RPS})
	case config.SearchMCP:
		s, err := search.NewMCP(ctx, search.MCPConfig{Endpoint: c.URL, RPS: c.RPS})
		if err != nil {
			return nil, fmt.Errorf("connect to mcp search: %w", err)
		}
		a.onClose(closerFunc(s))
		return s, nil
	default:
		s, err := search.NewCSE(ctx, search.CSEConfig{APIKey: c.APIKey, CX: c.CSEID, RPS: c.RPS})
		if err != nil {
			return nil, fmt.Errorf("create search client: %w", err)
		}
		return s, nil
	}
}

func (a *App) buildRAG() (rag.Asker, error) {
	c := a.Config.RAG
	var tokens rag.TokenSource
	if c.Token != "" {
		tokens = rag.StaticToken(c.Token)
	} else {
		tokens = rag.NewClientCredentials(c.BaseURL, c.ClientID, c.ClientSecret)
	}
	client, err := rag.New(rag.Config{
		BaseURL:   c.BaseURL,
		CopilotID: c.CopilotID,
		Timeout:   c.Timeout,
		CacheTTL:  c.CacheTTL,
	}, tokens, a.Store)
	if err != nil {
		return nil, fmt.Errorf("create rag client: %w", err)
	}
	return client, nil
}

func (a *App) buildAudit(ctx context.Context) (audit.Sink, error) {
	c := a.Config.Audit
	var (
		sink audit.Sink
		err  error
	)
	switch c.Backend {
	case config.BackendPostgres:
		sink, err = audit.NewPostgresSink(ctx, &audit.PostgresConfig{DSN: c.Postgres.DSN, Table: c.Postgres.Table})
	case config.BackendMongo:
		sink, err = audit.NewMongoSink(ctx, &audit.MongoConfig{
			URI:        c.Mongo.URI,
			Database:   c.Mongo.Database,
			Collection: c.Mongo.Collection,
		})
	case config.BackendMemory:
		sink = audit.NewMemorySink(0)
	default:
		return audit.Nop{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}
	a.onClose(sink.Close)
	return sink, nil
}

func (a *App) researchOptions(observers []research.Observer) ([]research.Option, error) {
	r := a.Config.Research
	opts := []research.Option{
		research.WithMinOverall(r.MinOverall),
		research.WithMaxLoops(r.MaxLoops),
		research.WithSubquerySearchCount(r.SubquerySearchCount),
		research.WithMaxSourcesForCitations(r.MaxSourcesForCitations),
		research.WithMaxEvidenceSnippets(r.MaxEvidenceSnippets),
		research.WithMaxSubqueries(r.MaxSubqueries),
		research.WithMaxConcurrentFetches(r.MaxConcurrentFetches),
		research.WithRateLimitRetry(r.RateLimitCooldown, r.RateLimitAttempts),
		research.WithRAGSummaryTimeout(r.RAGSummaryTimeout),
		research.WithSourceTextLimit(r.SourceTextLimit),
	}
	if enc := a.Config.Tokenizer.Encoding; enc != "" {
		t, err := tokenizer.NewTiktoken(enc)
		if err != nil {
			return nil, err
		}
		opts = append(opts, research.WithTruncator(t))
	}
	for _, o := range observers {
		opts = append(opts, research.WithObserver(o))
	}
	return opts, nil
}

// Close releases components in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
