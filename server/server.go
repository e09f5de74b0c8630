// Package server exposes the research pipeline over HTTP and MCP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweetpotato0/ai-research/audit"
	"github.com/sweetpotato0/ai-research/cache"
	"github.com/sweetpotato0/ai-research/gateway/rag"
	"github.com/sweetpotato0/ai-research/gateway/search"
	"github.com/sweetpotato0/ai-research/middleware"
	"github.com/sweetpotato0/ai-research/middleware/enricher"
	"github.com/sweetpotato0/ai-research/middleware/errorhandler"
	"github.com/sweetpotato0/ai-research/middleware/limiter"
	"github.com/sweetpotato0/ai-research/middleware/logger"
	"github.com/sweetpotato0/ai-research/middleware/validator"
	"github.com/sweetpotato0/ai-research/pkg/logging"
	"github.com/sweetpotato0/ai-research/research"
)

// Runner runs the research workflow to completion.
type Runner interface {
	Run(ctx context.Context, question, endUserID string) (research.QueryState, error)
}

var _ Runner = (*research.Pipeline)(nil)

// Server routes API and MCP traffic to a Runner.
type Server struct {
	runner         Runner
	search         search.Searcher
	rag            rag.Asker
	store          cache.Store
	responseTTL    time.Duration
	sink           audit.Sink
	defaultEndUser string
	requestTimeout time.Duration
	maxBodyBytes   int64
	limiter        *limiter.RateLimiter
	version        string
	logger         *slog.Logger
	router         *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithSearch exposes s through /mcp/Websearch and the websearch MCP tool.
func WithSearch(s search.Searcher) Option {
	return func(srv *Server) {
		srv.search = s
	}
}

// WithRAG exposes a through /searchrag.
func WithRAG(a rag.Asker) Option {
	return func(srv *Server) {
		srv.rag = a
	}
}

// WithResponseCache caches passing responses by question for ttl. ttl <= 0 disables it.
func WithResponseCache(store cache.Store, ttl time.Duration) Option {
	return func(srv *Server) {
		srv.store = store
		srv.responseTTL = ttl
	}
}

// WithAudit records every run to sink.
func WithAudit(sink audit.Sink) Option {
	return func(srv *Server) {
		if sink != nil {
			srv.sink = sink
		}
	}
}

// WithDefaultEndUser sets the end user ID used when a request carries none.
func WithDefaultEndUser(id string) Option {
	return func(srv *Server) {
		srv.defaultEndUser = strings.TrimSpace(id)
	}
}

// WithRequestTimeout bounds each research run.
func WithRequestTimeout(d time.Duration) Option {
	return func(srv *Server) {
		srv.requestTimeout = d
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(srv *Server) {
		if n > 0 {
			srv.maxBodyBytes = n
		}
	}
}

// WithRateLimit limits research requests to rps per second. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(srv *Server) {
		if rps > 0 {
			srv.limiter = limiter.NewRateLimiter(rps, burst)
		} else {
			srv.limiter = nil
		}
	}
}

// WithVersion sets the version reported by /status and the MCP handshake.
func WithVersion(v string) Option {
	return func(srv *Server) {
		srv.version = v
	}
}

// New creates a server around runner.
func New(runner Runner, opts ...Option) *Server {
	s := &Server{
		runner:       runner,
		sink:         audit.Nop{},
		maxBodyBytes: 1 << 20,
		version:      "dev",
		logger:       logging.WithComponent("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	return middleware.NewChain(
		enricher.NewRequestID(),
		errorhandler.NewErrorHandler(nil),
	).Then(s.router)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(logger.NewRequestLogger(nil, routeTemplate).Wrap)

	runChain := middleware.NewChain(validator.JSONBody(s.maxBodyBytes))
	if s.limiter != nil {
		runChain.Add(s.limiter)
	}
	runHandler := runChain.Then(http.HandlerFunc(s.handleResearch))
	r.Handle("/v1/research", runHandler).Methods(http.MethodPost)
	r.Handle("/mcp/runLanggraph", runHandler).Methods(http.MethodPost)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", s.handleRun).Methods(http.MethodGet)

	body := middleware.NewChain(validator.JSONBody(s.maxBodyBytes))
	if s.rag != nil {
		r.Handle("/searchrag", body.Then(http.HandlerFunc(s.handleSearchRAG))).Methods(http.MethodPost)
	}
	if s.search != nil {
		r.Handle("/mcp/Websearch", body.Then(http.HandlerFunc(s.handleWebsearch))).Methods(http.MethodPost)
	}

	mcpServer := s.newMCPServer()
	r.Handle("/mcp", mcpHandler(mcpServer))

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Serve listens on addr until ctx is cancelled, then shuts down within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
