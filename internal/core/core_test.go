package core

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcwave/arbicore/internal/arbservice"
	"github.com/arcwave/arbicore/internal/domain"
	"github.com/arcwave/arbicore/internal/hub"
	"github.com/arcwave/arbicore/internal/orchestrator"
	"github.com/arcwave/arbicore/internal/pipeline"
	"github.com/arcwave/arbicore/internal/prefs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSupervisor struct{}

func (stubSupervisor) Start(ctx context.Context, desc domain.BotDescriptor, config map[string]string) error {
	return nil
}

func (stubSupervisor) Stop(ctx context.Context, botID string) error { return nil }

type memPrefsStore struct {
	docs map[string]domain.Preferences
}

func newMemPrefsStore() *memPrefsStore {
	return &memPrefsStore{docs: make(map[string]domain.Preferences)}
}

func (m *memPrefsStore) Load(_ context.Context, userID string) (domain.Preferences, error) {
	doc, ok := m.docs[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *memPrefsStore) Save(_ context.Context, userID string, p domain.Preferences) error {
	m.docs[userID] = p.Clone()
	return nil
}

func (m *memPrefsStore) Delete(_ context.Context, userID string) error {
	delete(m.docs, userID)
	return nil
}

func newTestCore(t *testing.T) (*Core, *arbservice.Service) {
	t.Helper()
	logger := testLogger()

	svc := arbservice.New(stubSupervisor{}, nil, nil, logger)
	pl := pipeline.New(nil, NewPipelineExecutor(svc), logger)
	orch := orchestrator.New(pl, NewTaskExecutor(svc), svc, nil, orchestrator.Config{MaxConcurrentTasks: 2}, logger)
	var h *hub.Hub // Core tolerates a nil Hub, skipping the reaper goroutine in Initialize.
	prefsMgr := prefs.New(newMemPrefsStore())

	c := New(svc, h, orch, prefsMgr, Config{
		OpportunityPollInterval: 10 * time.Millisecond,
		StatusLogInterval:       time.Hour,
	}, logger)
	return c, svc
}

func TestInitializeFailsWithNilOrchestrator(t *testing.T) {
	c := New(nil, nil, nil, nil, Config{}, testLogger())
	assert.False(t, c.Initialize(context.Background()))
}

func TestInitializeSucceedsAndAssignsDefaultModes(t *testing.T) {
	c, svc := newTestCore(t)
	svc.RegisterBot("monitor-1", "Price Monitor", "./bots/monitor")
	svc.RegisterBot("exec-1", "Trade Executor", "./bots/exec")
	svc.RegisterBot("other-1", "Scratch Bot", "./bots/scratch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, c.Initialize(ctx))

	descs := svc.AllDescriptors()
	assert.Equal(t, domain.ModeAutonomous, descs["monitor-1"].Mode)
	assert.Equal(t, domain.ModeSupervised, descs["exec-1"].Mode)
	assert.Equal(t, domain.ModeLearning, descs["other-1"].Mode)
}

func TestProcessOpportunityUpdatesCounters(t *testing.T) {
	c, _ := newTestCore(t)

	op := domain.Opportunity{TokenPair: "ETH/USDC", NetProfitUSD: 5, RiskScore: 0.2}
	c.ProcessOpportunity(context.Background(), op)
	c.ProcessOpportunity(context.Background(), op)

	status := c.Status()
	assert.EqualValues(t, 2, status.OpportunitiesSeen)
}

func TestStatusReportsConsciousnessScoreDefault(t *testing.T) {
	c, _ := newTestCore(t)
	status := c.Status()
	assert.Equal(t, 0.5, status.ConsciousnessScore)
}

func TestDetailedMetricsIncludesBots(t *testing.T) {
	c, svc := newTestCore(t)
	svc.RegisterBot("bot-1", "Bot One", "./bots/one")

	dm := c.DetailedMetrics()
	_, found := dm.Bots["bot-1"]
	assert.True(t, found)
}

func TestConfigureBotModeRejectsUnknownMode(t *testing.T) {
	c, svc := newTestCore(t)
	svc.RegisterBot("bot-1", "Bot One", "./bots/one")

	assert.False(t, c.ConfigureBotMode("bot-1", "not-a-real-mode"))
	assert.True(t, c.ConfigureBotMode("bot-1", "supervised"))
}

func TestConfigureBotModeRejectsUnknownBot(t *testing.T) {
	c, _ := newTestCore(t)
	assert.False(t, c.ConfigureBotMode("ghost", "supervised"))
}

func TestStartAutonomousModeIsIdempotent(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	c.StartAutonomousMode(ctx)
	c.mu.Lock()
	first := c.autonomousCancel
	c.mu.Unlock()
	require.NotNil(t, first)

	c.StartAutonomousMode(ctx) // second call must be a no-op, not replace the cancel func
	c.mu.Lock()
	second := c.autonomousCancel
	c.mu.Unlock()
	assert.NotNil(t, second)

	c.StopAutonomousMode()
	c.mu.Lock()
	assert.Nil(t, c.autonomousCancel)
	c.mu.Unlock()
}

func TestEmergencyStopDowngradesAllModesToManual(t *testing.T) {
	c, svc := newTestCore(t)
	svc.RegisterBot("bot-1", "Bot One", "./bots/one")
	svc.StartBot(context.Background(), "bot-1", nil)
	c.StartAutonomousMode(context.Background())

	c.EmergencyStop(context.Background())

	desc, found := svc.Descriptor("bot-1")
	require.True(t, found)
	assert.Equal(t, domain.ModeManual, desc.Mode)
	c.mu.Lock()
	assert.Nil(t, c.autonomousCancel)
	c.mu.Unlock()
}

func TestConsciousnessScoreFormula(t *testing.T) {
	assert.Equal(t, 0.5, consciousnessScore(0, 0))
	assert.InDelta(t, 0.9, consciousnessScore(10, 0.7), 1e-9)
	assert.Equal(t, 1.0, consciousnessScore(10, 0.95))
}

func TestDefaultModeForClassifiesByNameAndLaunchSpec(t *testing.T) {
	assert.Equal(t, domain.ModeAutonomous, defaultModeFor(domain.BotDescriptor{Name: "Price Monitor"}))
	assert.Equal(t, domain.ModeSupervised, defaultModeFor(domain.BotDescriptor{Name: "Arb Executor"}))
	assert.Equal(t, domain.ModeLearning, defaultModeFor(domain.BotDescriptor{Name: "Scratch Bot"}))
}

func TestParseBotMode(t *testing.T) {
	mode, ok := parseBotMode("autonomous")
	require.True(t, ok)
	assert.Equal(t, domain.ModeAutonomous, mode)

	_, ok = parseBotMode("bogus")
	assert.False(t, ok)
}
