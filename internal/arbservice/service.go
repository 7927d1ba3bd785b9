// Package arbservice is the business layer above the raw worker bots: it
// owns the BotDescriptor registry, produces opportunities on demand, and
// performs the end-to-end arbitrage execute call, optionally delegating
// decision-making to an AI engine when one is wired in.
package arbservice

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/arcwave/arbicore/internal/domain"
)

const (
	maxOpportunities     = 100
	monitoringInterval   = 30 * time.Second
	defaultMonitorTokens = "ETH,USDC,USDT,DAI,WBTC"
)

// EventType names an event the service can emit to registered callbacks.
type EventType string

const (
	EventBotRegistered      EventType = "bot_registered"
	EventBotStarted         EventType = "bot_started"
	EventBotStopped         EventType = "bot_stopped"
	EventBotError           EventType = "bot_error"
	EventOpportunitiesFound EventType = "opportunities_found"
	EventArbitrageExecuted  EventType = "arbitrage_executed"
)

// Event is one typed notification delivered to callbacks.
type Event struct {
	Type EventType
	Data any
}

// Callback receives service events. A callback that panics is recovered and
// logged without breaking delivery to the others; callbacks run one after
// another on the emitting goroutine, so a slow one delays the rest.
type Callback func(Event)

// Supervisor is the subset of the Worker Supervisor the service drives.
type Supervisor interface {
	Start(ctx context.Context, desc domain.BotDescriptor, config map[string]string) error
	Stop(ctx context.Context, botID string) error
}

// OpportunityFeed discovers candidate opportunities for a token. The
// cross-venue price-difference routine itself lives outside this package.
type OpportunityFeed interface {
	Scan(ctx context.Context, token string, limit int) ([]domain.Opportunity, error)
}

// AIEngine is the optional present/absent dependency: when set,
// ExecuteArbitrage routes through its analyze/decide/execute/learn path
// instead of the direct basic path.
type AIEngine interface {
	Execute(ctx context.Context, op domain.Opportunity, amount *float64) (domain.ExecutionResult, error)
}

// Service is the arbitrage business layer: bot registry, opportunity ring,
// typed event bus, and the execute entrypoint.
type Service struct {
	logger     *slog.Logger
	supervisor Supervisor
	feed       OpportunityFeed
	engine     AIEngine // nil means "absent": direct basic execution path

	mu            sync.RWMutex
	bots          map[string]*domain.BotDescriptor
	opportunities []domain.Opportunity
	callbacks     []Callback

	monitorMu     sync.Mutex
	monitorCancel context.CancelFunc
}

// New constructs a Service. supervisor, feed, and engine may all be nil;
// the service degrades gracefully (registration/start calls fail cleanly,
// get_opportunities returns nothing, execute uses the basic path).
func New(supervisor Supervisor, feed OpportunityFeed, engine AIEngine, logger *slog.Logger) *Service {
	return &Service{
		logger:     logger,
		supervisor: supervisor,
		feed:       feed,
		engine:     engine,
		bots:       make(map[string]*domain.BotDescriptor),
	}
}

// SetAIEngine swaps the AI engine dependency in or out at runtime (the
// design notes call for explicit injection rather than a global lookup).
func (s *Service) SetAIEngine(engine AIEngine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = engine
}

// RegisterCallback adds a callback invoked synchronously, in registration
// order, for every event the service emits.
func (s *Service) RegisterCallback(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// notify invokes every registered callback, isolating one callback's panic
// from the others.
func (s *Service) notify(evt Event) {
	s.mu.RLock()
	cbs := make([]Callback, len(s.callbacks))
	copy(cbs, s.callbacks)
	s.mu.RUnlock()

	for _, cb := range cbs {
		s.safeInvoke(cb, evt)
	}
}

func (s *Service) safeInvoke(cb Callback, evt Event) {
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Error("arbservice: callback panicked", slog.Any("recovered", r), slog.String("event", string(evt.Type)))
		}
	}()
	cb(evt)
}

// RegisterBot registers a new bot descriptor in BotStopped status. Returns
// false if bot_id is already registered.
func (s *Service) RegisterBot(botID, name, launchSpec string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bots[botID]; exists {
		if s.logger != nil {
			s.logger.Warn("arbservice: bot already registered", slog.String("bot_id", botID))
		}
		return false
	}

	desc := &domain.BotDescriptor{
		BotID:        botID,
		Name:         name,
		LaunchSpec:   launchSpec,
		Status:       domain.BotStopped,
		Mode:         domain.ModeLearning,
		LastActivity: time.Now().UTC(),
	}
	s.bots[botID] = desc
	s.notify(Event{Type: EventBotRegistered, Data: *desc})
	return true
}

// StartBot transitions a registered bot through starting -> running via the
// Supervisor.
func (s *Service) StartBot(ctx context.Context, botID string, config map[string]string) bool {
	s.mu.Lock()
	desc, ok := s.bots[botID]
	if !ok {
		s.mu.Unlock()
		if s.logger != nil {
			s.logger.Error("arbservice: start unknown bot", slog.String("bot_id", botID))
		}
		return false
	}
	if desc.Status == domain.BotRunning {
		s.mu.Unlock()
		return true
	}
	desc.Status = domain.BotStarting
	desc.LastErrorMessage = ""
	s.mu.Unlock()

	if s.supervisor == nil {
		s.mu.Lock()
		desc.Status = domain.BotError
		desc.LastErrorMessage = "no supervisor configured"
		s.mu.Unlock()
		return false
	}

	if err := s.supervisor.Start(ctx, *desc, config); err != nil {
		s.mu.Lock()
		desc.Status = domain.BotError
		desc.LastErrorMessage = err.Error()
		s.mu.Unlock()
		s.notify(Event{Type: EventBotError, Data: map[string]any{"bot_id": botID, "error": err.Error()}})
		return false
	}

	s.mu.Lock()
	now := time.Now().UTC()
	desc.Status = domain.BotRunning
	desc.StartedAt = &now
	desc.LastActivity = now
	s.mu.Unlock()

	s.notify(Event{Type: EventBotStarted, Data: *desc})
	return true
}

// StopBot transitions a running bot back to stopped via the Supervisor.
func (s *Service) StopBot(ctx context.Context, botID string) bool {
	s.mu.Lock()
	desc, ok := s.bots[botID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if desc.Status != domain.BotRunning {
		s.mu.Unlock()
		return true
	}
	desc.Status = domain.BotStopping
	s.mu.Unlock()

	if s.supervisor != nil {
		if err := s.supervisor.Stop(ctx, botID); err != nil {
			s.mu.Lock()
			desc.Status = domain.BotError
			desc.LastErrorMessage = err.Error()
			s.mu.Unlock()
			return false
		}
	}

	s.mu.Lock()
	desc.Status = domain.BotStopped
	desc.PID = nil
	s.mu.Unlock()

	s.notify(Event{Type: EventBotStopped, Data: *desc})
	return true
}

// Descriptor returns a copy of one bot's descriptor.
func (s *Service) Descriptor(botID string) (domain.BotDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	desc, ok := s.bots[botID]
	if !ok {
		return domain.BotDescriptor{}, false
	}
	return *desc, true
}

// AllDescriptors returns a snapshot of every registered descriptor.
func (s *Service) AllDescriptors() map[string]domain.BotDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.BotDescriptor, len(s.bots))
	for id, d := range s.bots {
		out[id] = *d
	}
	return out
}

// RunningBotIDs satisfies orchestrator.BotSource: the IDs of every
// registered bot, regardless of status (the orchestrator filters further).
func (s *Service) RunningBotIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.bots))
	for id := range s.bots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetMode satisfies orchestrator.BotSource: changes a bot's operating mode.
func (s *Service) SetMode(botID string, mode domain.BotMode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	desc, ok := s.bots[botID]
	if !ok {
		return false
	}
	if desc.Mode == mode {
		return true
	}
	desc.Mode = mode
	return true
}

// GetOpportunities scans token via the configured feed, folds the result
// into the bounded ring (capped at 100, oldest dropped first), and returns
// the most recent limit entries.
func (s *Service) GetOpportunities(ctx context.Context, token string, limit int) []domain.Opportunity {
	if s.feed != nil {
		found, err := s.feed.Scan(ctx, token, limit)
		if err != nil {
			if s.logger != nil {
				s.logger.Error("arbservice: opportunity scan failed", slog.String("token", token), slog.String("error", err.Error()))
			}
		} else {
			s.appendOpportunities(found)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	n := limit
	if n <= 0 || n > len(s.opportunities) {
		n = len(s.opportunities)
	}
	out := make([]domain.Opportunity, n)
	copy(out, s.opportunities[len(s.opportunities)-n:])
	return out
}

func (s *Service) appendOpportunities(found []domain.Opportunity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opportunities = append(s.opportunities, found...)
	if len(s.opportunities) > maxOpportunities {
		s.opportunities = s.opportunities[len(s.opportunities)-maxOpportunities:]
	}
}

// ExecuteArbitrage runs an opportunity's full execute path: via the AI
// engine when one is configured, otherwise a direct basic path that simply
// realizes the opportunity's stated net profit.
func (s *Service) ExecuteArbitrage(ctx context.Context, op domain.Opportunity, amount *float64) domain.ExecutionResult {
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()

	var result domain.ExecutionResult
	if engine != nil {
		r, err := engine.Execute(ctx, op, amount)
		if err != nil {
			result = domain.ExecutionResult{Success: false, Error: err.Error()}
		} else {
			r.AIEngineUsed = true
			result = r
		}
	} else {
		result = s.basicExecute(op, amount)
	}

	s.recordExecutionStats(result)
	s.notify(Event{Type: EventArbitrageExecuted, Data: result})
	return result
}

func (s *Service) basicExecute(op domain.Opportunity, amount *float64) domain.ExecutionResult {
	factor := 1.0
	if amount != nil {
		factor = *amount
	}
	return domain.ExecutionResult{
		Success:        true,
		RealizedProfit: op.NetProfitUSD * factor,
		GasCost:        op.GasCostUSD,
		NetworksUsed:   []string{op.SourceVenue, op.TargetVenue},
		AIEngineUsed:   false,
	}
}

func (s *Service) recordExecutionStats(result domain.ExecutionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bot := range s.bots {
		if bot.Status == domain.BotRunning {
			bot.OpportunitiesFound++
			bot.TotalProfit += result.RealizedProfit
		}
	}
}

// StartMonitoring begins a 30s-cadence loop scanning a fixed token set and
// emitting EventOpportunitiesFound. Calling it while already running is a
// no-op.
func (s *Service) StartMonitoring(ctx context.Context, tokens []string) {
	s.monitorMu.Lock()
	defer s.monitorMu.Unlock()
	if s.monitorCancel != nil {
		return
	}
	if len(tokens) == 0 {
		tokens = defaultMonitorTokenSet()
	}

	ctx, cancel := context.WithCancel(ctx)
	s.monitorCancel = cancel
	go s.monitoringLoop(ctx, tokens)
}

// StopMonitoring cancels the monitoring loop if one is running.
func (s *Service) StopMonitoring() {
	s.monitorMu.Lock()
	defer s.monitorMu.Unlock()
	if s.monitorCancel != nil {
		s.monitorCancel()
		s.monitorCancel = nil
	}
}

func (s *Service) monitoringLoop(ctx context.Context, tokens []string) {
	ticker := time.NewTicker(monitoringInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, token := range tokens {
				found := s.GetOpportunities(ctx, token, 5)
				if len(found) > 0 {
					s.notify(Event{Type: EventOpportunitiesFound, Data: map[string]any{
						"token": token, "opportunities": found, "count": len(found),
					}})
				}
			}
		}
	}
}

func defaultMonitorTokenSet() []string {
	return []string{"ETH", "USDC", "USDT", "DAI", "WBTC"}
}
