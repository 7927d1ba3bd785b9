package mcpclient

import "context"

// ConsciousnessState is the /state response from the Consciousness service.
type ConsciousnessState map[string]any

// MarketEmotions is the /emotions response from the Consciousness service.
type MarketEmotions map[string]any

// MarketAnalysisRecord is the /analysis/{token} response from the Market
// Analyzer service.
type MarketAnalysisRecord map[string]any

// ReasoningRecord is the /reason response from the Reasoning service.
type ReasoningRecord map[string]any

// SpecialistStrategyRecord is the /generate-strategy response from the
// Specialist service.
type SpecialistStrategyRecord map[string]any

// PortfolioOptimizationRecord is the /optimize-portfolio response from the
// Portfolio service.
type PortfolioOptimizationRecord map[string]any

// ConsciousnessStateCall fetches the Consciousness service's current state.
func (c *Client) ConsciousnessStateCall(ctx context.Context) Result[ConsciousnessState] {
	url, ok := c.resolve(ctx, consciousnessServiceNames, "consciousness_state")
	if !ok {
		return Absent[ConsciousnessState]()
	}

	var out ConsciousnessState
	if !c.get(ctx, defaultTimeout, serviceURL(url, "/state"), &out, "consciousness_state") {
		return Absent[ConsciousnessState]()
	}
	return Ok(out)
}

// MarketEmotionsCall fetches the Consciousness service's current market
// emotions reading.
func (c *Client) MarketEmotionsCall(ctx context.Context) Result[MarketEmotions] {
	url, ok := c.resolve(ctx, consciousnessServiceNames, "market_emotions")
	if !ok {
		return Absent[MarketEmotions]()
	}

	var out MarketEmotions
	if !c.get(ctx, defaultTimeout, serviceURL(url, "/emotions"), &out, "market_emotions") {
		return Absent[MarketEmotions]()
	}
	return Ok(out)
}

// MarketAnalysisCall fetches analysis for a token from the Market Analyzer
// service.
func (c *Client) MarketAnalysisCall(ctx context.Context, token string) Result[MarketAnalysisRecord] {
	url, ok := c.resolve(ctx, marketAnalyzerServiceNames, "market_analysis")
	if !ok {
		return Absent[MarketAnalysisRecord]()
	}

	var out MarketAnalysisRecord
	if !c.get(ctx, defaultTimeout, serviceURL(url, "/analysis/"+token), &out, "market_analysis") {
		return Absent[MarketAnalysisRecord]()
	}
	return Ok(out)
}

// ReasoningRequest is the payload for a reasoning call.
type ReasoningRequest struct {
	Prompt     string `json:"prompt"`
	TaskType   string `json:"task_type"`
	Complexity string `json:"complexity"`
}

// ReasoningCall asks the Reasoning service to reason over a prompt.
func (c *Client) ReasoningCall(ctx context.Context, req ReasoningRequest) Result[ReasoningRecord] {
	url, ok := c.resolve(ctx, reasoningServiceNames, "reasoning")
	if !ok {
		return Absent[ReasoningRecord]()
	}

	var out ReasoningRecord
	if !c.post(ctx, reasoningTimeout, serviceURL(url, "/reason"), req, &out, "reasoning") {
		return Absent[ReasoningRecord]()
	}
	return Ok(out)
}

// SpecialistStrategyRequest is the payload for a strategy-generation call.
type SpecialistStrategyRequest struct {
	Token       string `json:"token"`
	Analysis    any    `json:"analysis"`
	RiskProfile string `json:"risk_profile"`
}

// SpecialistStrategyCall asks the Specialist service to generate a strategy.
func (c *Client) SpecialistStrategyCall(ctx context.Context, req SpecialistStrategyRequest) Result[SpecialistStrategyRecord] {
	url, ok := c.resolve(ctx, specialistServiceNames, "specialist_strategy")
	if !ok {
		return Absent[SpecialistStrategyRecord]()
	}

	var out SpecialistStrategyRecord
	if !c.post(ctx, defaultTimeout, serviceURL(url, "/generate-strategy"), req, &out, "specialist_strategy") {
		return Absent[SpecialistStrategyRecord]()
	}
	return Ok(out)
}

// PortfolioOptimizationRequest is the payload for a portfolio-optimization
// call.
type PortfolioOptimizationRequest struct {
	CurrentToken     string `json:"current_token"`
	RiskProfile      string `json:"risk_profile"`
	MarketConditions any    `json:"market_conditions"`
}

// PortfolioOptimizationCall asks the Portfolio service to suggest an allocation.
func (c *Client) PortfolioOptimizationCall(ctx context.Context, req PortfolioOptimizationRequest) Result[PortfolioOptimizationRecord] {
	url, ok := c.resolve(ctx, portfolioServiceNames, "portfolio_optimization")
	if !ok {
		return Absent[PortfolioOptimizationRecord]()
	}

	var out PortfolioOptimizationRecord
	if !c.post(ctx, defaultTimeout, serviceURL(url, "/optimize-portfolio"), req, &out, "portfolio_optimization") {
		return Absent[PortfolioOptimizationRecord]()
	}
	return Ok(out)
}

// resolve looks up a service URL via the registry, translating the lookup's
// Result into the (string, bool) shape the call helpers expect.
func (c *Client) resolve(ctx context.Context, names []string, contextTag string) (string, bool) {
	res := c.Lookup(ctx, names, contextTag)
	return res.Value()
}
