// Package core assembles the MCP Client Layer, Connection Hub, Arbitrage
// Service, Worker Supervisor, Pipeline, and Orchestrator behind the Core
// value. The components are constructed by the caller and passed to New.
package core

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/arcwave/arbicore/internal/arbservice"
	"github.com/arcwave/arbicore/internal/domain"
	"github.com/arcwave/arbicore/internal/hub"
	"github.com/arcwave/arbicore/internal/orchestrator"
	"github.com/arcwave/arbicore/internal/prefs"
)

// Config tunes the autonomous discovery loop and the status-logging
// cadence; everything else is owned by the components passed to New.
type Config struct {
	OpportunityPollInterval time.Duration
	StatusLogInterval       time.Duration
	MaxOpportunitiesPerToken int
	DiscoveryTokens         []string
}

// StatusSnapshot is the Facade's point-in-time health summary.
type StatusSnapshot struct {
	Orchestrator       orchestrator.Snapshot
	PipelineProcessed  int64
	PipelineSuccessful int64
	PipelineFailed     int64
	ConsciousnessScore float64
	OpportunitiesSeen  int64
	SuccessfulExecutions int64
}

// DetailedMetrics supplements StatusSnapshot with per-bot counters.
type DetailedMetrics struct {
	StatusSnapshot
	Bots map[string]domain.BotDescriptor
}

// Core is the Unified Facade over the assembled components. It owns ordered
// initialization, the autonomous discovery loop, and emergency shutdown.
type Core struct {
	logger *slog.Logger

	svc   *arbservice.Service
	hub   *hub.Hub
	orch  *orchestrator.Orchestrator
	prefs *prefs.Manager

	pollInterval      time.Duration
	statusLogInterval time.Duration
	maxOppsPerToken   int
	discoveryTokens   []string

	mu                     sync.Mutex
	opportunitiesProcessed int64
	successfulExecutions   int64
	autonomousCancel       context.CancelFunc
}

// New constructs a Core from its already-wired components. svc, hub, and
// prefs may be nil in degraded configurations; orch must not be nil.
func New(svc *arbservice.Service, h *hub.Hub, orch *orchestrator.Orchestrator, prefsMgr *prefs.Manager, cfg Config, logger *slog.Logger) *Core {
	poll := cfg.OpportunityPollInterval
	if poll <= 0 {
		poll = 30 * time.Second
	}
	statusLog := cfg.StatusLogInterval
	if statusLog <= 0 {
		statusLog = 60 * time.Second
	}
	maxOpps := cfg.MaxOpportunitiesPerToken
	if maxOpps <= 0 {
		maxOpps = 5
	}
	tokens := cfg.DiscoveryTokens
	if len(tokens) == 0 {
		tokens = []string{"ETH", "USDC", "USDT", "DAI", "WBTC"}
	}

	return &Core{
		logger:            logger.With(slog.String("component", "core")),
		svc:               svc,
		hub:               h,
		orch:              orch,
		prefs:             prefsMgr,
		pollInterval:      poll,
		statusLogInterval: statusLog,
		maxOppsPerToken:   maxOpps,
		discoveryTokens:   tokens,
	}
}

// Initialize assigns every registered bot its default operating mode,
// starts the Hub's reaper and the Orchestrator's cooperative loop, and
// begins the slow status-logging loop. It reports success as a bool, per
// the Facade's no-panic initialization contract; the only failure mode
// today is a nil Orchestrator, which would be a wiring bug.
func (c *Core) Initialize(ctx context.Context) bool {
	if c.orch == nil {
		c.logger.Error("core: initialize called with no orchestrator wired")
		return false
	}

	if c.svc != nil {
		for botID, desc := range c.svc.AllDescriptors() {
			c.svc.SetMode(botID, defaultModeFor(desc))
		}
	}

	if c.hub != nil {
		go c.hub.RunReaper(ctx)
	}
	go func() {
		if err := c.orch.Run(ctx); err != nil && c.logger != nil {
			c.logger.Info("core: orchestrator loop stopped", slog.String("reason", err.Error()))
		}
	}()
	go c.statusLoop(ctx)

	c.logger.Info("core: initialized")
	return true
}

// ProcessOpportunity delegates op to the Orchestrator's pipeline-then-
// dispatch path and folds the outcome into the Facade's running counters.
func (c *Core) ProcessOpportunity(ctx context.Context, op domain.Opportunity) orchestrator.OrchestrationResult {
	if op.CrossChain() {
		c.logger.Debug("core: cross-chain opportunity",
			slog.String("token_pair", op.TokenPair),
			slog.String("buy_chain", op.BuyChainName()),
			slog.String("sell_chain", op.SellChainName()),
		)
	}

	result := c.orch.ProcessWithRehoboam(ctx, op)

	c.mu.Lock()
	c.opportunitiesProcessed++
	if result.Record != nil && result.Record.ExecutionResult != nil && result.Record.ExecutionResult.Success {
		c.successfulExecutions++
	}
	c.mu.Unlock()

	return result
}

// Status returns a point-in-time health summary combining the
// Orchestrator's queue state with the pipeline's running metrics and the
// derived consciousness score.
func (c *Core) Status() StatusSnapshot {
	snap := c.orch.Status()

	c.mu.Lock()
	processed := c.opportunitiesProcessed
	successful := c.successfulExecutions
	c.mu.Unlock()

	out := StatusSnapshot{
		Orchestrator:         snap,
		ConsciousnessScore:   0.5,
		OpportunitiesSeen:    processed,
		SuccessfulExecutions: successful,
	}
	if pl := c.orch.Pipeline(); pl != nil {
		pm := pl.Snapshot()
		out.PipelineProcessed = pm.Processed
		out.PipelineSuccessful = pm.Successful
		out.PipelineFailed = pm.Failed
		out.ConsciousnessScore = consciousnessScore(int(pm.Processed), pm.SuccessRate())
	}
	return out
}

// DetailedMetrics supplements Status with every registered bot's
// descriptor, for operators inspecting per-bot health and error messages.
func (c *Core) DetailedMetrics() DetailedMetrics {
	dm := DetailedMetrics{StatusSnapshot: c.Status()}
	if c.svc != nil {
		dm.Bots = c.svc.AllDescriptors()
	}
	return dm
}

// ConfigureBotMode parses modeName and applies it to botID via the
// Orchestrator's bot registry. Returns false for an unknown mode or bot.
func (c *Core) ConfigureBotMode(botID, modeName string) bool {
	mode, ok := parseBotMode(modeName)
	if !ok {
		return false
	}
	return c.orch.SetBotMode(botID, mode)
}

// StartAutonomousMode promotes every registered bot to autonomous and
// spawns a discovery loop that polls the configured token set every
// OpportunityPollInterval, funneling each discovered opportunity into
// ProcessOpportunity. Calling it while already running is a no-op.
func (c *Core) StartAutonomousMode(ctx context.Context) {
	c.mu.Lock()
	if c.autonomousCancel != nil {
		c.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.autonomousCancel = cancel
	c.mu.Unlock()

	if c.svc != nil {
		for _, botID := range c.svc.RunningBotIDs() {
			c.svc.SetMode(botID, domain.ModeAutonomous)
		}
	}

	go c.discoveryLoop(loopCtx)
}

// StopAutonomousMode cancels the discovery loop started by
// StartAutonomousMode, if one is running.
func (c *Core) StopAutonomousMode() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.autonomousCancel != nil {
		c.autonomousCancel()
		c.autonomousCancel = nil
	}
}

// EmergencyStop stops every running bot and downgrades every bot's mode to
// manual, halting both automatic task assignment and the autonomous
// discovery loop.
func (c *Core) EmergencyStop(ctx context.Context) {
	c.StopAutonomousMode()

	if c.svc == nil {
		return
	}
	for botID, desc := range c.svc.AllDescriptors() {
		if desc.Status == domain.BotRunning {
			c.svc.StopBot(ctx, botID)
		}
		c.svc.SetMode(botID, domain.ModeManual)
	}
	c.logger.Warn("core: emergency stop engaged")
}

func (c *Core) discoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.svc == nil {
				continue
			}
			for _, token := range c.discoveryTokens {
				for _, op := range c.svc.GetOpportunities(ctx, token, c.maxOppsPerToken) {
					c.ProcessOpportunity(ctx, op)
				}
			}
		}
	}
}

func (c *Core) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(c.statusLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := c.Status()
			c.logger.Info("core: status",
				slog.Int("pending", snap.Orchestrator.Pending),
				slog.Int("active", snap.Orchestrator.Active),
				slog.Int("completed", snap.Orchestrator.Completed),
				slog.Float64("success_rate", snap.Orchestrator.SuccessRate),
				slog.Float64("consciousness_score", snap.ConsciousnessScore),
			)
		}
	}
}

// consciousnessScore folds the pipeline's observed success rate into the
// Facade-level score reported by Status: the success rate plus a fixed 0.2
// bonus, capped at 1, falling back to a neutral 0.5 before anything has
// processed.
func consciousnessScore(processed int, successRate float64) float64 {
	if processed == 0 {
		return 0.5
	}
	score := successRate + 0.2
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// defaultModeFor classifies a freshly registered bot by name/launch-spec
// heuristics: monitor-like bots start autonomous, executor-like bots start
// supervised, everything else starts in learning mode pending enough
// completed tasks to earn a promotion.
func defaultModeFor(desc domain.BotDescriptor) domain.BotMode {
	name := strings.ToLower(desc.Name + " " + desc.LaunchSpec)
	switch {
	case strings.Contains(name, "monitor"):
		return domain.ModeAutonomous
	case strings.Contains(name, "exec"):
		return domain.ModeSupervised
	default:
		return domain.ModeLearning
	}
}

func parseBotMode(name string) (domain.BotMode, bool) {
	switch domain.BotMode(strings.ToLower(name)) {
	case domain.ModeAutonomous:
		return domain.ModeAutonomous, true
	case domain.ModeSupervised:
		return domain.ModeSupervised, true
	case domain.ModeManual:
		return domain.ModeManual, true
	case domain.ModeLearning:
		return domain.ModeLearning, true
	default:
		return "", false
	}
}
