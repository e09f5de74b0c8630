package research

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	errorskg "github.com/sweetpotato0/ai-research/errors"
	"github.com/sweetpotato0/ai-research/gateway/fetch"
	"github.com/sweetpotato0/ai-research/gateway/rag"
	"github.com/sweetpotato0/ai-research/gateway/search"
	"github.com/sweetpotato0/ai-research/graph"
	"github.com/sweetpotato0/ai-research/llm"
	"github.com/sweetpotato0/ai-research/pkg/logging"
	"github.com/sweetpotato0/ai-research/pkg/metrics"
	"github.com/sweetpotato0/ai-research/pkg/telemetry"
)

// Stage names as reported in steps.
const (
	StageSummarize  = "summarize"
	StagePlan       = "plan"
	StageRetrieve   = "retrieve"
	StageAnswer     = "answer_subquestions"
	StageSynthesize = "synthesize"
	StageEvaluate   = "evaluate"

	nodeRoute = "route"
	nodeEnd   = "end"

	routeReplan = "replan"
	routeEnd    = "end"
)

// Dependencies are the collaborators the stages call. RAG may be nil.
type Dependencies struct {
	LLM    llm.Completer
	Search search.Searcher
	Fetch  fetch.Fetcher
	RAG    rag.Asker
}

// Pipeline runs the summarize → plan → retrieve → answer → synthesize → evaluate loop.
type Pipeline struct {
	cfg    *Config
	graph  *graph.Graph[QueryState]
	logger *slog.Logger
}

type endUserKey struct{}

func withEndUser(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, endUserKey{}, id)
}

func endUserFrom(ctx context.Context) string {
	id, _ := ctx.Value(endUserKey{}).(string)
	return id
}

// NewPipeline wires the stages into the workflow graph. LLM calls are wrapped with the
// rate-limit retry configured through the options.
func NewPipeline(deps Dependencies, opts ...Option) (*Pipeline, error) {
	cfg := applyOptions(nil, opts)

	if deps.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if deps.Search == nil {
		return nil, fmt.Errorf("search client is required")
	}
	if deps.Fetch == nil {
		return nil, fmt.Errorf("fetch client is required")
	}

	p := &Pipeline{
		cfg:    cfg,
		logger: logging.WithComponent("research_pipeline").With("pipeline", cfg.Name),
	}

	completer := llm.WithRateLimitRetry(deps.LLM, cfg.RateLimitCooldown, cfg.RateLimitAttempts)
	stageLogger := func(stage string) *slog.Logger { return p.logger.With("stage", stage) }

	sum := &summarizer{llm: completer, logger: stageLogger(StageSummarize)}
	plan := &planner{llm: completer, cfg: cfg, logger: stageLogger(StagePlan)}
	ret := &retriever{
		search: deps.Search,
		fetch:  deps.Fetch,
		rag:    deps.RAG,
		llm:    completer,
		cfg:    cfg,
		logger: stageLogger(StageRetrieve),
	}
	ans := &answerer{llm: completer, cfg: cfg, logger: stageLogger(StageAnswer)}
	syn := &synthesizer{llm: completer, cfg: cfg, logger: stageLogger(StageSynthesize)}
	eval := &evaluator{llm: completer, cfg: cfg, logger: stageLogger(StageEvaluate)}

	g, err := graph.NewBuilder[QueryState]().
		AddNode(StageSummarize, graph.NodeTypeLLM, p.instrument(StageSummarize, sum.run)).
		AddNode(StagePlan, graph.NodeTypeLLM, p.instrument(StagePlan, plan.run)).
		AddNode(StageRetrieve, graph.NodeTypeTool, p.instrument(StageRetrieve, ret.run)).
		AddNode(StageAnswer, graph.NodeTypeLLM, p.instrument(StageAnswer, ans.run)).
		AddNode(StageSynthesize, graph.NodeTypeLLM, p.instrument(StageSynthesize, syn.run)).
		AddNode(StageEvaluate, graph.NodeTypeLLM, p.instrument(StageEvaluate, eval.run)).
		AddConditionNode(nodeRoute, p.route, map[string]string{
			routeReplan: StagePlan,
			routeEnd:    nodeEnd,
		}).
		AddNode(nodeEnd, graph.NodeTypeEnd, nil).
		AddEdge(StageSummarize, StagePlan).
		AddEdge(StagePlan, StageRetrieve).
		AddEdge(StageRetrieve, StageAnswer).
		AddEdge(StageAnswer, StageSynthesize).
		AddEdge(StageSynthesize, StageEvaluate).
		AddEdge(StageEvaluate, nodeRoute).
		SetStart(StageSummarize).
		SetEnd(nodeEnd).
		// Each stage runs at most once per loop.
		SetMaxVisits(cfg.MaxLoops).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build research graph: %w", err)
	}
	p.graph = g

	p.logger.Info("research pipeline initialised",
		"min_overall", cfg.MinOverall,
		"max_loops", cfg.MaxLoops,
		"subquery_search_count", cfg.SubquerySearchCount,
		"max_sources", cfg.MaxSourcesForCitations,
		"max_concurrent_fetches", cfg.MaxConcurrentFetches,
		"rag_enabled", deps.RAG != nil,
	)
	return p, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return *p.cfg
}

// route decides between another planning pass and termination. The loop budget is
// checked before the score.
func (p *Pipeline) route(_ context.Context, st QueryState) (string, error) {
	if st.LoopCount >= p.cfg.MaxLoops {
		return routeEnd, nil
	}
	if st.Scores != nil && st.Scores.Overall < p.cfg.MinOverall {
		return routeReplan, nil
	}
	return routeEnd, nil
}

func (p *Pipeline) instrument(stage string, fn graph.NodeFunc[QueryState]) graph.NodeFunc[QueryState] {
	return func(ctx context.Context, st QueryState) (QueryState, error) {
		ctx, span := telemetry.Start(ctx, "research."+stage,
			attribute.String("research.stage", stage),
			attribute.Int("research.loop", st.LoopCount),
		)
		start := time.Now()
		p.logger.Debug("stage started", "stage", stage, "loop", st.LoopCount)

		next, err := fn(ctx, st)

		elapsed := time.Since(start)
		metrics.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
		if err != nil {
			metrics.StageFailures.WithLabelValues(stage).Inc()
			p.logger.Error("stage aborted", "stage", stage, "loop", st.LoopCount, "error", err)
		} else {
			p.logger.Debug("stage finished", "stage", stage, "loop", next.LoopCount, "duration", elapsed)
		}
		telemetry.End(span, err)
		return next, err
	}
}

// Stream runs the workflow and yields a snapshot after every stage. Snapshots are deep
// copies and may be kept by the caller.
func (p *Pipeline) Stream(ctx context.Context, question, endUserID string) iter.Seq2[graph.Step[QueryState], error] {
	return func(yield func(graph.Step[QueryState], error) bool) {
		q := strings.TrimSpace(question)
		if q == "" {
			yield(graph.Step[QueryState]{}, fmt.Errorf("%w: question cannot be empty", errorskg.ErrInvalidInput))
			return
		}

		for step, err := range p.graph.Stream(withEndUser(ctx, endUserID), NewQueryState(q)) {
			if err != nil {
				yield(step, err)
				return
			}
			if verr := step.State.Validate(p.cfg.MaxLoops); verr != nil {
				p.logger.Warn("state invariant violated", "stage", step.Node, "error", verr)
			}
			for _, observe := range p.cfg.observers {
				observe(graph.Step[QueryState]{Node: step.Node, Index: step.Index, State: step.State.Clone()})
			}
			step.State = step.State.Clone()
			if !yield(step, nil) {
				return
			}
		}
	}
}

// Run drives the workflow to completion and returns the final state. A run that ends
// without any stage executing reports errors.ErrNoFinalState.
func (p *Pipeline) Run(ctx context.Context, question, endUserID string) (QueryState, error) {
	start := time.Now()
	p.logger.Info("pipeline run started", "question", trimForLog(question, 120))

	var (
		final QueryState
		steps int
		err   error
	)
	for step, serr := range p.Stream(ctx, question, endUserID) {
		if serr != nil {
			err = serr
			break
		}
		final = step.State
		steps++
	}
	if err == nil && steps == 0 {
		err = errorskg.ErrNoFinalState
	}

	metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PipelineRuns.WithLabelValues("error").Inc()
		p.logger.Error("pipeline run failed", "question", trimForLog(question, 120), "steps", steps, "error", err)
		return QueryState{}, err
	}

	outcome := "fail"
	if final.Evaluation == EvaluationPass {
		outcome = "pass"
	}
	metrics.PipelineRuns.WithLabelValues(outcome).Inc()
	metrics.PipelineLoops.Observe(float64(final.LoopCount))
	if final.Scores != nil {
		metrics.PipelineOverallScore.Observe(final.Scores.Overall)
	}
	p.logger.Info("pipeline run completed",
		"question", trimForLog(question, 120),
		"steps", steps,
		"loops", final.LoopCount,
		"evaluation", final.Evaluation,
		"web_results", len(final.WebResults),
		"duration", time.Since(start),
	)
	return final, nil
}

func trimForLog(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || len([]rune(text)) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "..."
}
