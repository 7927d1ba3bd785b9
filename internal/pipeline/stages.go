package pipeline

import (
	"context"
	"time"

	"github.com/arcwave/arbicore/internal/domain"
)

const (
	fallbackConsciousnessScore = 0.5
	confidenceMin              = 0.1
	confidenceMax              = 0.95
	defaultExecutionTimeout    = 30 * time.Second
)

// runConsciousness scores the opportunity's consciousness ∈ [0,1]. On any
// MCP failure it falls back to 0.5 and never aborts the pipeline.
func (p *Pipeline) runConsciousness(ctx context.Context, rec *domain.PipelineRecord) {
	if p.mcp == nil {
		rec.ConsciousnessScore = fallbackConsciousnessScore
		return
	}

	res := p.mcp.ConsciousnessStateCall(ctx)
	if !res.IsOk() {
		rec.ConsciousnessScore = fallbackConsciousnessScore
		return
	}

	state, _ := res.Value()
	score, ok := floatField(state, "consciousness_level", "score", "level")
	if !ok || score < 0 || score > 1 {
		rec.ConsciousnessScore = fallbackConsciousnessScore
		return
	}
	rec.ConsciousnessScore = score
}

// runAnalysis produces ai_analysis: market sentiment, risk assessment,
// confidence, and a qualitative recommendation. Falls back to a neutral
// reading on any MCP failure.
func (p *Pipeline) runAnalysis(ctx context.Context, rec *domain.PipelineRecord) {
	profitFactor := clamp(rec.Opportunity.NetProfitUSD/50.0, 0, 1)
	riskFactor := 1 - rec.Opportunity.RiskScore

	sentiment := "neutral"
	sentimentFactor := 0.5
	recommendation := domain.RecommendHold

	if p.mcp != nil {
		if res := p.mcp.MarketAnalysisCall(ctx, rec.Opportunity.TokenPair); res.IsOk() {
			analysis, _ := res.Value()
			if s, ok := stringField(analysis, "sentiment", "market_sentiment"); ok {
				sentiment = s
			}
		}
	}
	if sentiment == "bullish" {
		sentimentFactor = 0.8
	}

	confidence := clamp(mean(profitFactor, sentimentFactor, riskFactor), confidenceMin, confidenceMax)

	switch {
	case confidence >= 0.8 && sentiment == "bullish":
		recommendation = domain.RecommendStrongBuy
	case confidence >= 0.6:
		recommendation = domain.RecommendBuy
	case confidence < 0.3:
		recommendation = domain.RecommendAvoid
	}

	rec.AIAnalysis = domain.Analysis{
		MarketSentiment: sentiment,
		RiskAssessment:  riskAssessmentLabel(rec.Opportunity.RiskScore),
		ConfidenceScore: confidence,
		Recommendation:  recommendation,
	}
}

// runDecision scores the opportunity using the normative weighted formula
// and resolves a decision type from the decision-boundary table.
func (p *Pipeline) runDecision(_ context.Context, rec *domain.PipelineRecord) {
	score := 0.3*rec.ConsciousnessScore +
		0.4*rec.AIAnalysis.ConfidenceScore +
		0.3*clamp(rec.Opportunity.NetProfitUSD/100.0, 0, 1)

	var decisionType domain.DecisionType
	switch {
	case score > 0.7:
		decisionType = domain.DecisionExecute
	case score > 0.5:
		decisionType = domain.DecisionOptimize
	default:
		decisionType = domain.DecisionHold
	}

	rec.Decision = domain.Decision{
		Type:      decisionType,
		Score:     score,
		Reasoning: decisionReasoning(decisionType, score),
		Parameters: domain.DecisionParameters{
			PositionSize:      positionSizeFor(rec.Opportunity),
			SlippageTolerance: 0.01,
			Timeout:           defaultExecutionTimeout,
		},
	}
}

// runExecution hands an execute decision to the Executor. Any other
// decision type is a noop; execution errors are captured into the result
// rather than propagated.
func (p *Pipeline) runExecution(ctx context.Context, rec *domain.PipelineRecord) {
	if rec.Decision.Type != domain.DecisionExecute {
		rec.ExecutionResult = &domain.ExecutionResult{Success: false}
		return
	}
	if p.executor == nil {
		rec.ExecutionResult = &domain.ExecutionResult{Success: false, Error: "no executor configured"}
		return
	}

	result, err := p.executor.Execute(ctx, rec.Opportunity, rec.Decision)
	if err != nil {
		result = domain.ExecutionResult{Success: false, Error: err.Error()}
	}
	rec.ExecutionResult = &result
}

// runLearning compares actual to expected profit and folds the outcome into
// a learning summary. It raises no error of its own; an execution error is
// copied onto rec.Error, which marks the record unsuccessful.
func (p *Pipeline) runLearning(_ context.Context, rec *domain.PipelineRecord) {
	learning := &domain.Learning{
		ConsciousnessEffectiveness: rec.ConsciousnessScore,
		DecisionQuality:            rec.Decision.Score,
	}

	if rec.ExecutionResult != nil {
		learning.ExecutionSuccess = rec.ExecutionResult.Success
		expected := rec.Opportunity.NetProfitUSD
		if expected > 0 {
			learning.Accuracy = clamp(1-absDiff(rec.ExecutionResult.RealizedProfit, expected)/expected, 0, 1)
		}
	}

	rec.Metadata.Learning = learning

	if rec.ExecutionResult != nil && !rec.ExecutionResult.Success && rec.ExecutionResult.Error != "" {
		rec.Error = rec.ExecutionResult.Error
	}
}

func floatField(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			switch n := v.(type) {
			case float64:
				return n, true
			case int:
				return float64(n), true
			}
		}
	}
	return 0, false
}

func stringField(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

func mean(vals ...float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func absDiff(a, b float64) float64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}

func riskAssessmentLabel(risk float64) string {
	switch {
	case risk < 0.3:
		return "low"
	case risk < 0.6:
		return "moderate"
	default:
		return "high"
	}
}

func decisionReasoning(t domain.DecisionType, score float64) string {
	switch t {
	case domain.DecisionExecute:
		return "score above execute threshold"
	case domain.DecisionOptimize:
		return "score in optimize band"
	default:
		return "score below actionable threshold"
	}
}

func positionSizeFor(op domain.Opportunity) float64 {
	if op.SuggestedAmount != nil {
		return *op.SuggestedAmount
	}
	return 0
}
