package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcwave/arbicore/internal/domain"
	"github.com/arcwave/arbicore/internal/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBots struct {
	descriptors map[string]domain.BotDescriptor
}

func newFakeBots(descs ...domain.BotDescriptor) *fakeBots {
	m := make(map[string]domain.BotDescriptor, len(descs))
	for _, d := range descs {
		m[d.BotID] = d
	}
	return &fakeBots{descriptors: m}
}

func (f *fakeBots) Descriptor(botID string) (domain.BotDescriptor, bool) {
	d, ok := f.descriptors[botID]
	return d, ok
}

func (f *fakeBots) RunningBotIDs() []string {
	ids := make([]string, 0, len(f.descriptors))
	for id := range f.descriptors {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeBots) SetMode(botID string, mode domain.BotMode) bool {
	d, ok := f.descriptors[botID]
	if !ok {
		return false
	}
	d.Mode = mode
	f.descriptors[botID] = d
	return true
}

type stubTaskExecutor struct {
	result domain.TaskResult
	err    error
	delay  time.Duration
}

func (s stubTaskExecutor) Execute(ctx context.Context, task domain.Task) (domain.TaskResult, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return domain.TaskResult{}, ctx.Err()
		}
	}
	return s.result, s.err
}

func newTestOrchestrator(bots BotSource, exec TaskExecutor) *Orchestrator {
	pl := pipeline.New(nil, nil, testLogger())
	return New(pl, exec, bots, nil, Config{MaxConcurrentTasks: 2}, testLogger())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestSubmitAssignsAndCompletesTask(t *testing.T) {
	bots := newFakeBots(domain.BotDescriptor{BotID: "bot-1", Status: domain.BotRunning, Mode: domain.ModeAutonomous})
	exec := stubTaskExecutor{result: domain.TaskResult{Success: true}}
	o := newTestOrchestrator(bots, exec)

	taskID := o.Submit(domain.Opportunity{TokenPair: "A/B"}, 5)
	require.NotEmpty(t, taskID)

	o.tick(context.Background())
	waitFor(t, time.Second, func() bool { return o.Status().Completed == 1 })

	snap := o.Status()
	assert.Equal(t, 0, snap.Pending)
	assert.Equal(t, 0, snap.Active)
	assert.Equal(t, 1.0, snap.SuccessRate)
}

func TestSubmitWithNoBotAvailableRequeues(t *testing.T) {
	o := newTestOrchestrator(newFakeBots(), nil)
	o.Submit(domain.Opportunity{TokenPair: "A/B"}, 5)

	o.tick(context.Background())
	assert.Equal(t, 1, o.Status().Pending)
	assert.Equal(t, 0, o.Status().Active)
}

func TestQueuePriorityThenFIFOOrdering(t *testing.T) {
	pq := newPendingQueue()
	low := &domain.Task{TaskID: "low", Priority: 3}
	high1 := &domain.Task{TaskID: "high1", Priority: 8}
	high2 := &domain.Task{TaskID: "high2", Priority: 8}

	pq.push(low)
	pq.push(high1)
	pq.push(high2)

	first, ok := pq.pop()
	require.True(t, ok)
	assert.Equal(t, "high1", first.TaskID, "equal priority resolves FIFO by submission order")

	second, ok := pq.pop()
	require.True(t, ok)
	assert.Equal(t, "high2", second.TaskID)

	third, ok := pq.pop()
	require.True(t, ok)
	assert.Equal(t, "low", third.TaskID)
}

func TestReapTimeoutsMarksOverdueTasksTimedOut(t *testing.T) {
	o := newTestOrchestrator(newFakeBots(), nil)
	overdue := &domain.Task{
		TaskID:   "overdue-1",
		Status:   domain.TaskExecuting,
		Deadline: time.Now().Add(-time.Minute),
	}
	o.mu.Lock()
	o.active[overdue.TaskID] = overdue
	o.mu.Unlock()

	o.reapTimeouts()

	snap := o.Status()
	assert.Equal(t, 0, snap.Active)
	assert.Equal(t, 1, snap.Completed)
	assert.False(t, overdue.Result.Success)
	assert.Equal(t, domain.TaskTimeout, overdue.Status)
}

func TestBotSelectionBreaksSuccessRateTiesByLexicographicID(t *testing.T) {
	bots := newFakeBots(
		domain.BotDescriptor{BotID: "bot-b", Status: domain.BotRunning, Mode: domain.ModeAutonomous},
		domain.BotDescriptor{BotID: "bot-a", Status: domain.BotRunning, Mode: domain.ModeAutonomous},
	)
	o := newTestOrchestrator(bots, stubTaskExecutor{result: domain.TaskResult{Success: true}})
	o.perf["bot-a"] = &domain.BotPerformance{SuccessRate: 0.9, TasksCompleted: 5}
	o.perf["bot-b"] = &domain.BotPerformance{SuccessRate: 0.9, TasksCompleted: 5}

	selected, ok := o.selectBot()
	require.True(t, ok)
	assert.Equal(t, "bot-a", selected, "ties break lexicographically")
}

func TestRebalancePromotesAndDemotesOnThresholds(t *testing.T) {
	bots := newFakeBots(
		domain.BotDescriptor{BotID: "rising", Status: domain.BotRunning, Mode: domain.ModeSupervised},
		domain.BotDescriptor{BotID: "failing", Status: domain.BotRunning, Mode: domain.ModeAutonomous},
	)
	o := newTestOrchestrator(bots, nil)
	o.perf["rising"] = &domain.BotPerformance{SuccessRate: 0.81, TasksCompleted: 5}
	o.perf["failing"] = &domain.BotPerformance{SuccessRate: 0.4, TasksCompleted: 5}

	o.rebalance()

	rising, _ := bots.Descriptor("rising")
	failing, _ := bots.Descriptor("failing")
	assert.Equal(t, domain.ModeAutonomous, rising.Mode)
	assert.Equal(t, domain.ModeSupervised, failing.Mode)
}

func TestRebalanceIgnoresBotsBelowMinimumCompleted(t *testing.T) {
	bots := newFakeBots(domain.BotDescriptor{BotID: "new", Status: domain.BotRunning, Mode: domain.ModeSupervised})
	o := newTestOrchestrator(bots, nil)
	o.perf["new"] = &domain.BotPerformance{SuccessRate: 1.0, TasksCompleted: 2}

	o.rebalance()

	desc, _ := bots.Descriptor("new")
	assert.Equal(t, domain.ModeSupervised, desc.Mode, "fewer than 5 completed tasks: no rebalance")
}

func TestProcessWithRehoboamDispatchesOnExecuteDecision(t *testing.T) {
	bots := newFakeBots(domain.BotDescriptor{BotID: "bot-1", Status: domain.BotRunning, Mode: domain.ModeAutonomous})
	o := newTestOrchestrator(bots, stubTaskExecutor{result: domain.TaskResult{Success: true}})

	op := domain.Opportunity{TokenPair: "A/B", NetProfitUSD: 100}
	// With no MCP client the pipeline falls back to consciousness 0.5 and a
	// neutral sentiment; profit 100 at risk 0 gives confidence ~0.833 and a
	// decision score of ~0.783, above the execute threshold.
	result := o.ProcessWithRehoboam(context.Background(), op)

	require.NotNil(t, result.Record)
	if result.Record.Decision.Type == domain.DecisionExecute {
		assert.NotEmpty(t, result.TaskID)
		assert.Equal(t, "dispatched", result.OrchestrationStatus)
	} else {
		assert.Empty(t, result.TaskID)
		assert.Equal(t, "observed", result.OrchestrationStatus)
	}
}
