package core

import (
	"context"

	"github.com/arcwave/arbicore/internal/domain"
)

// ArbService is the subset of arbservice.Service the Core facade's executor
// adapters drive; any value with an ExecuteArbitrage method satisfies it.
type ArbService interface {
	ExecuteArbitrage(ctx context.Context, op domain.Opportunity, amount *float64) domain.ExecutionResult
}

// pipelineExecutor adapts the Arbitrage Service to pipeline.Executor: the
// EXECUTION stage hands it a decision, and it resolves the position size
// from the decision's parameters (falling back to the opportunity's own
// suggestion) before delegating to the service's execute path.
type pipelineExecutor struct {
	svc ArbService
}

// NewPipelineExecutor adapts svc to pipeline.Executor, for wiring into
// pipeline.New from outside this package.
func NewPipelineExecutor(svc ArbService) *pipelineExecutor {
	return &pipelineExecutor{svc: svc}
}

func (e *pipelineExecutor) Execute(ctx context.Context, op domain.Opportunity, decision domain.Decision) (domain.ExecutionResult, error) {
	return e.svc.ExecuteArbitrage(ctx, op, amountFor(op, decision)), nil
}

// taskExecutor adapts the Arbitrage Service to orchestrator.TaskExecutor:
// once a task reaches the Orchestrator no Decision is attached to it, so
// the opportunity's own suggested amount is used directly.
type taskExecutor struct {
	svc ArbService
}

// NewTaskExecutor adapts svc to orchestrator.TaskExecutor, for wiring into
// orchestrator.New from outside this package.
func NewTaskExecutor(svc ArbService) *taskExecutor {
	return &taskExecutor{svc: svc}
}

func (e *taskExecutor) Execute(ctx context.Context, task domain.Task) (domain.TaskResult, error) {
	result := e.svc.ExecuteArbitrage(ctx, task.Opportunity, task.Opportunity.SuggestedAmount)
	return domain.TaskResult{Success: result.Success, Detail: result.Error}, nil
}

func amountFor(op domain.Opportunity, decision domain.Decision) *float64 {
	if decision.Parameters.PositionSize > 0 {
		size := decision.Parameters.PositionSize
		return &size
	}
	return op.SuggestedAmount
}
