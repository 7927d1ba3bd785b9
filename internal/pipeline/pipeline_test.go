package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcwave/arbicore/internal/domain"
	"github.com/arcwave/arbicore/internal/mcpclient"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubMCP struct {
	consciousness mcpclient.Result[mcpclient.ConsciousnessState]
	analysis      mcpclient.Result[mcpclient.MarketAnalysisRecord]
}

func (s stubMCP) ConsciousnessStateCall(context.Context) mcpclient.Result[mcpclient.ConsciousnessState] {
	return s.consciousness
}

func (s stubMCP) MarketAnalysisCall(context.Context, string) mcpclient.Result[mcpclient.MarketAnalysisRecord] {
	return s.analysis
}

type stubExecutor struct {
	result domain.ExecutionResult
	err    error
	calls  int
}

func (s *stubExecutor) Execute(context.Context, domain.Opportunity, domain.Decision) (domain.ExecutionResult, error) {
	s.calls++
	return s.result, s.err
}

func highProfitOpportunity() domain.Opportunity {
	return domain.Opportunity{
		TokenPair:    "USDC/WETH",
		SourceVenue:  "uniswap-v3",
		TargetVenue:  "sushiswap",
		BuyChainID:   1,
		SellChainID:  137,
		NetProfitUSD: 120,
		RiskScore:    0.1,
	}
}

func TestPipelineRunHappyPathExecutesOnHighScore(t *testing.T) {
	mcp := stubMCP{
		consciousness: mcpclient.Ok(mcpclient.ConsciousnessState{"consciousness_level": 0.9}),
		analysis:      mcpclient.Ok(mcpclient.MarketAnalysisRecord{"sentiment": "bullish"}),
	}
	exec := &stubExecutor{result: domain.ExecutionResult{Success: true, RealizedProfit: 118}}

	p := New(mcp, exec, testLogger())
	rec := p.Run(context.Background(), highProfitOpportunity())

	require.NotNil(t, rec)
	assert.Equal(t, domain.StageLearning, rec.Stage)
	assert.InDelta(t, 0.9, rec.ConsciousnessScore, 0.0001)
	assert.Equal(t, domain.DecisionExecute, rec.Decision.Type)
	assert.Greater(t, rec.Decision.Score, 0.7)
	assert.True(t, rec.Success)
	require.NotNil(t, rec.ExecutionResult)
	assert.True(t, rec.ExecutionResult.Success)
	assert.Equal(t, 1, exec.calls)
	require.NotNil(t, rec.Metadata.Learning)
	assert.True(t, rec.Metadata.Learning.ExecutionSuccess)
}

func TestPipelineRunFallsBackOnAbsentMCP(t *testing.T) {
	mcp := stubMCP{
		consciousness: mcpclient.Absent[mcpclient.ConsciousnessState](),
		analysis:      mcpclient.Absent[mcpclient.MarketAnalysisRecord](),
	}
	p := New(mcp, nil, testLogger())

	rec := p.Run(context.Background(), domain.Opportunity{TokenPair: "DAI/USDT", NetProfitUSD: 5, RiskScore: 0.4})

	assert.Equal(t, fallbackConsciousnessScore, rec.ConsciousnessScore)
	assert.Equal(t, "neutral", rec.AIAnalysis.MarketSentiment)
	assert.Equal(t, domain.DecisionHold, rec.Decision.Type)
}

func TestPipelineRunHoldDecisionSkipsExecution(t *testing.T) {
	mcp := stubMCP{
		consciousness: mcpclient.Ok(mcpclient.ConsciousnessState{"consciousness_level": 0.2}),
		analysis:      mcpclient.Ok(mcpclient.MarketAnalysisRecord{"sentiment": "bearish"}),
	}
	exec := &stubExecutor{}
	p := New(mcp, exec, testLogger())

	rec := p.Run(context.Background(), domain.Opportunity{TokenPair: "X/Y", NetProfitUSD: 1, RiskScore: 0.9})

	assert.Equal(t, domain.DecisionHold, rec.Decision.Type)
	require.NotNil(t, rec.ExecutionResult)
	assert.False(t, rec.ExecutionResult.Success)
	assert.Equal(t, 0, exec.calls)
}

func TestPipelineRunExecutionErrorIsCapturedNotRaised(t *testing.T) {
	mcp := stubMCP{
		consciousness: mcpclient.Ok(mcpclient.ConsciousnessState{"consciousness_level": 0.95}),
		analysis:      mcpclient.Ok(mcpclient.MarketAnalysisRecord{"sentiment": "bullish"}),
	}
	exec := &stubExecutor{err: assert.AnError}
	p := New(mcp, exec, testLogger())

	rec := p.Run(context.Background(), highProfitOpportunity())

	assert.Equal(t, domain.DecisionExecute, rec.Decision.Type)
	require.NotNil(t, rec.ExecutionResult)
	assert.False(t, rec.ExecutionResult.Success)
	assert.NotEmpty(t, rec.ExecutionResult.Error)
	assert.False(t, rec.Success)
}

func TestPipelineSnapshotAccumulatesAcrossRuns(t *testing.T) {
	mcp := stubMCP{
		consciousness: mcpclient.Ok(mcpclient.ConsciousnessState{"consciousness_level": 0.9}),
		analysis:      mcpclient.Ok(mcpclient.MarketAnalysisRecord{"sentiment": "bullish"}),
	}
	exec := &stubExecutor{result: domain.ExecutionResult{Success: true}}
	p := New(mcp, exec, testLogger())

	p.Run(context.Background(), highProfitOpportunity())
	p.Run(context.Background(), highProfitOpportunity())

	snap := p.Snapshot()
	assert.Equal(t, int64(2), snap.Processed)
	assert.Equal(t, int64(2), snap.Successful)
	assert.Equal(t, 1.0, snap.SuccessRate())
}

func TestDecisionScoreBoundaries(t *testing.T) {
	cases := []struct {
		name           string
		consciousness  float64
		confidence     float64
		netProfit      float64
		expectedType   domain.DecisionType
	}{
		{"execute above 0.7", 0.9, 0.9, 100, domain.DecisionExecute},
		{"optimize between 0.5 and 0.7", 0.6, 0.6, 60, domain.DecisionOptimize},
		{"hold at or below 0.5", 0.1, 0.1, 0, domain.DecisionHold},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &domain.PipelineRecord{
				ConsciousnessScore: tc.consciousness,
				AIAnalysis:         domain.Analysis{ConfidenceScore: tc.confidence},
				Opportunity:        domain.Opportunity{NetProfitUSD: tc.netProfit},
			}
			p := &Pipeline{}
			p.runDecision(context.Background(), rec)
			assert.Equal(t, tc.expectedType, rec.Decision.Type)
		})
	}
}
