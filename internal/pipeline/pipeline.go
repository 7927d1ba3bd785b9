// Package pipeline deterministically walks an Opportunity through a fixed
// ordered stage list (CONSCIOUSNESS -> ANALYSIS -> DECISION -> EXECUTION ->
// LEARNING), invoking middleware after every stage, collecting metrics, and
// returning a terminal record. No stage ever aborts the run: failures are
// encoded into the record as a fallback value, never raised to the caller.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcwave/arbicore/internal/domain"
	"github.com/arcwave/arbicore/internal/mcpclient"
)

// MCP is the subset of the MCP Client Layer the pipeline's CONSCIOUSNESS and
// ANALYSIS stages call into.
type MCP interface {
	ConsciousnessStateCall(ctx context.Context) mcpclient.Result[mcpclient.ConsciousnessState]
	MarketAnalysisCall(ctx context.Context, token string) mcpclient.Result[mcpclient.MarketAnalysisRecord]
}

// Executor is the EXECUTION stage's dependency: it hands a decision off to
// whatever owns actually acting on it (the orchestrator, or a direct
// execution path), and gets back a result.
type Executor interface {
	Execute(ctx context.Context, op domain.Opportunity, decision domain.Decision) (domain.ExecutionResult, error)
}

// Metrics are the pipeline's observable running statistics.
type Metrics struct {
	Processed          int64
	Successful         int64
	Failed             int64
	AvgProcessingTime  time.Duration
	LastTimestamp      time.Time
}

// SuccessRate returns Successful/Processed, or 0 if nothing has processed
// yet.
func (m Metrics) SuccessRate() float64 {
	if m.Processed == 0 {
		return 0
	}
	return float64(m.Successful) / float64(m.Processed)
}

// Pipeline runs opportunities through the fixed stage sequence.
type Pipeline struct {
	mcp      MCP
	executor Executor
	logger   *slog.Logger

	mu          sync.Mutex
	middlewares []Middleware
	metrics     Metrics
}

// New creates a Pipeline. executor may be nil; the EXECUTION stage then
// produces a noop result for any decision that isn't execute.
func New(mcp MCP, executor Executor, logger *slog.Logger) *Pipeline {
	p := &Pipeline{mcp: mcp, executor: executor, logger: logger}
	p.Use(LoggingMiddleware(logger))
	p.Use(TimingMiddleware())
	return p
}

// Use registers a middleware, applied after every stage in registration
// order.
func (p *Pipeline) Use(mw Middleware) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.middlewares = append(p.middlewares, mw)
}

// Run walks op through CONSCIOUSNESS, ANALYSIS, DECISION, EXECUTION, and
// LEARNING in order, with middleware firing after each. It always returns
// in finite time and always returns a record whose Stage is LEARNING or
// whose Error is set.
func (p *Pipeline) Run(ctx context.Context, op domain.Opportunity) *domain.PipelineRecord {
	rec := &domain.PipelineRecord{
		ID:          uuid.NewString(),
		Opportunity: op,
		CreatedAt:   time.Now().UTC(),
		Metadata: domain.RecordMetadata{
			StageTimings: make(map[domain.Stage]time.Duration),
		},
	}

	p.runStage(ctx, rec, domain.StageConsciousness, p.runConsciousness)
	p.runStage(ctx, rec, domain.StageAnalysis, p.runAnalysis)
	p.runStage(ctx, rec, domain.StageDecision, p.runDecision)
	p.runStage(ctx, rec, domain.StageExecution, p.runExecution)
	p.runStage(ctx, rec, domain.StageLearning, p.runLearning)

	rec.Success = rec.Error == ""
	p.recordOutcome(rec)
	return rec
}

// runStage times one stage, runs it, applies every middleware in order, and
// advances rec.Stage.
func (p *Pipeline) runStage(ctx context.Context, rec *domain.PipelineRecord, stage domain.Stage, fn func(context.Context, *domain.PipelineRecord)) {
	start := time.Now()
	fn(ctx, rec)
	rec.Metadata.StageTimings[stage] = time.Since(start)
	rec.Stage = stage

	p.mu.Lock()
	mws := make([]Middleware, len(p.middlewares))
	copy(mws, p.middlewares)
	p.mu.Unlock()

	for _, mw := range mws {
		mw(rec)
	}
}

func (p *Pipeline) recordOutcome(rec *domain.PipelineRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.Processed++
	if rec.Success {
		p.metrics.Successful++
	} else {
		p.metrics.Failed++
	}
	n := float64(p.metrics.Processed)
	var total time.Duration
	for _, d := range rec.Metadata.StageTimings {
		total += d
	}
	p.metrics.AvgProcessingTime = time.Duration((float64(p.metrics.AvgProcessingTime)*(n-1) + float64(total)) / n)
	p.metrics.LastTimestamp = time.Now().UTC()
}

// Snapshot returns a copy of the pipeline's running metrics.
func (p *Pipeline) Snapshot() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}
