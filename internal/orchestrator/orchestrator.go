// Package orchestrator owns the task queue, bot assignment, bounded
// concurrent execution, and performance-based mode rebalancing described by
// the arbitrage service's coordination layer. It never raises beyond
// ProcessWithRehoboam or Submit; failures are encoded into the returned
// result or task.
package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/arcwave/arbicore/internal/domain"
	"github.com/arcwave/arbicore/internal/pipeline"
)

const (
	defaultMaxConcurrentTasks = 5
	defaultTaskDeadline       = 10 * time.Minute
	defaultRebalanceInterval  = 30 * time.Second
	maxCompletedTasks         = 100
	rebalanceMinCompleted     = 5
	rebalancePromoteThreshold = 0.8
	rebalanceDemoteThreshold  = 0.5
	dispatchLockTTL           = 5 * time.Second
)

// TaskExecutor runs one assigned task to completion against whatever bot
// the orchestrator has selected.
type TaskExecutor interface {
	Execute(ctx context.Context, task domain.Task) (domain.TaskResult, error)
}

// BotSource is the subset of the Arbitrage Service's descriptor registry the
// orchestrator needs for bot selection and mode rebalancing.
type BotSource interface {
	Descriptor(botID string) (domain.BotDescriptor, bool)
	RunningBotIDs() []string
	SetMode(botID string, mode domain.BotMode) bool
}

// Snapshot is the orchestrator's point-in-time status.
type Snapshot struct {
	Pending    int
	Active     int
	Completed  int
	SuccessRate float64
}

// OrchestrationResult wraps a pipeline record with the dispatch outcome of
// ProcessWithRehoboam.
type OrchestrationResult struct {
	Record             *domain.PipelineRecord
	TaskID             string
	OrchestrationStatus string
}

// Config tunes the orchestrator's cadence and limits. Zero values fall back
// to conservative defaults.
type Config struct {
	MaxConcurrentTasks int
	TaskDeadline       time.Duration
	RebalanceInterval  time.Duration
}

// Orchestrator is the single owner of the pending queue, the active-task
// map, and the completed-task list; external callers post work through
// Submit/ProcessWithRehoboam rather than touching that state directly.
type Orchestrator struct {
	logger   *slog.Logger
	pipeline *pipeline.Pipeline
	executor TaskExecutor
	bots     BotSource
	lock     domain.LockManager
	store    domain.TaskStore
	archiver domain.Archiver

	maxConcurrent int
	taskDeadline  time.Duration
	rebalanceEvery time.Duration

	mu        sync.Mutex
	pending   *pendingQueue
	active    map[string]*domain.Task
	completed []domain.Task
	perf      map[string]*domain.BotPerformance

	submissions chan *domain.Task
	sem         chan struct{}
}

// New constructs an Orchestrator. executor and lock may be nil; a nil
// executor makes every dispatched task fail immediately with a captured
// error rather than panicking, and a nil lock skips distributed dispatch
// exclusion (single-process deployments).
func New(pl *pipeline.Pipeline, executor TaskExecutor, bots BotSource, lock domain.LockManager, cfg Config, logger *slog.Logger) *Orchestrator {
	maxConcurrent := cfg.MaxConcurrentTasks
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentTasks
	}
	deadline := cfg.TaskDeadline
	if deadline <= 0 {
		deadline = defaultTaskDeadline
	}
	rebalance := cfg.RebalanceInterval
	if rebalance <= 0 {
		rebalance = defaultRebalanceInterval
	}

	return &Orchestrator{
		logger:         logger,
		pipeline:       pl,
		executor:       executor,
		bots:           bots,
		lock:           lock,
		maxConcurrent:  maxConcurrent,
		taskDeadline:   deadline,
		rebalanceEvery: rebalance,
		pending:        newPendingQueue(),
		active:         make(map[string]*domain.Task),
		perf:           make(map[string]*domain.BotPerformance),
		submissions:    make(chan *domain.Task, 256),
		sem:            make(chan struct{}, maxConcurrent),
	}
}

// WithStore attaches durable task history; WithArchiver attaches cold-storage
// archiving for tasks trimmed from the completed list.
func (o *Orchestrator) WithStore(store domain.TaskStore) *Orchestrator {
	o.store = store
	return o
}

func (o *Orchestrator) WithArchiver(archiver domain.Archiver) *Orchestrator {
	o.archiver = archiver
	return o
}

// Pipeline exposes the underlying Pipeline so callers can read its running
// metrics; the Orchestrator remains the sole owner, nothing outside this
// package mutates it.
func (o *Orchestrator) Pipeline() *pipeline.Pipeline {
	return o.pipeline
}

// Submit enqueues opportunity as a Task ordered by priority descending, ties
// broken by submission time, and returns its task ID.
func (o *Orchestrator) Submit(op domain.Opportunity, priority int) string {
	if priority <= 0 {
		priority = 5
	}
	now := time.Now().UTC()
	task := &domain.Task{
		TaskID:      uuid.NewString(),
		Opportunity: op,
		Priority:    priority,
		CreatedAt:   now,
		Deadline:    now.Add(o.taskDeadline),
		Status:      domain.TaskPending,
	}

	o.mu.Lock()
	o.pending.push(task)
	o.mu.Unlock()

	select {
	case o.submissions <- task:
	default:
	}
	return task.TaskID
}

// ProcessWithRehoboam runs the pipeline on op; if the decision is to
// execute, it also submits a priority-8 task and annotates the result.
func (o *Orchestrator) ProcessWithRehoboam(ctx context.Context, op domain.Opportunity) OrchestrationResult {
	rec := o.pipeline.Run(ctx, op)
	result := OrchestrationResult{Record: rec, OrchestrationStatus: "observed"}

	if rec.Decision.Type == domain.DecisionExecute {
		result.TaskID = o.Submit(op, 8)
		result.OrchestrationStatus = "dispatched"
	}
	return result
}

// SetBotMode forwards to the bot registry; returns false if botID is
// unknown.
func (o *Orchestrator) SetBotMode(botID string, mode domain.BotMode) bool {
	if o.bots == nil {
		return false
	}
	return o.bots.SetMode(botID, mode)
}

// Status returns a point-in-time snapshot.
func (o *Orchestrator) Status() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	successes := 0
	for _, t := range o.completed {
		if t.Result != nil && t.Result.Success {
			successes++
		}
	}
	rate := 0.0
	if len(o.completed) > 0 {
		rate = float64(successes) / float64(len(o.completed))
	}
	return Snapshot{
		Pending:     o.pending.len(),
		Active:      len(o.active),
		Completed:   len(o.completed),
		SuccessRate: rate,
	}
}

// Run drives the cooperative loop: fixed-cadence assign/timeout/GC/rebalance
// passes, and event-driven wake-ups whenever Submit posts new work. It
// returns when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.rebalanceEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.tick(ctx)
		case <-o.submissions:
			o.tick(ctx)
		}
	}
}

// tick runs one pass of assign, timeout, GC, and (every call, cheaply)
// rebalance. A fixed cadence plus event-driven wakeups on submission
// collapses cleanly onto Go's select: every wakeup, timer or submission,
// runs the full pass.
func (o *Orchestrator) tick(ctx context.Context) {
	o.assign(ctx)
	o.reapTimeouts()
	o.gc()
	o.rebalance()
}

// assign pops the highest-priority task while there is spare concurrency
// capacity and a bot available for it.
func (o *Orchestrator) assign(ctx context.Context) {
	for {
		o.mu.Lock()
		if len(o.active) >= o.maxConcurrent {
			o.mu.Unlock()
			return
		}
		task, ok := o.pending.pop()
		if !ok {
			o.mu.Unlock()
			return
		}

		botID, ok := o.selectBot()
		if !ok {
			o.pending.pushFront(task)
			o.mu.Unlock()
			return
		}

		task.BotID = botID
		task.Status = domain.TaskAssigned
		o.active[task.TaskID] = task
		o.mu.Unlock()

		o.dispatch(ctx, task)
	}
}

// dispatch runs one task to completion in its own goroutine, bounded by the
// semaphore to maxConcurrent concurrent executions at a time.
func (o *Orchestrator) dispatch(ctx context.Context, task *domain.Task) {
	o.sem <- struct{}{}
	go func() {
		defer func() { <-o.sem }()

		var unlock func()
		if o.lock != nil {
			u, err := o.lock.Acquire(ctx, "task:"+task.TaskID, dispatchLockTTL)
			if err != nil {
				o.finish(task, domain.TaskFailed, domain.TaskResult{Success: false, Detail: "dispatch lock unavailable"}, 0)
				return
			}
			unlock = u
			defer unlock()
		}

		start := time.Now()
		task.Status = domain.TaskExecuting

		g, gctx := errgroup.WithContext(ctx)
		var result domain.TaskResult
		g.Go(func() error {
			r, err := o.runTask(gctx, *task)
			result = r
			return err
		})
		if err := g.Wait(); err != nil {
			result = domain.TaskResult{Success: false, Detail: err.Error()}
		}

		status := domain.TaskCompleted
		if !result.Success {
			status = domain.TaskFailed
		}
		o.finish(task, status, result, time.Since(start))
	}()
}

func (o *Orchestrator) runTask(ctx context.Context, task domain.Task) (domain.TaskResult, error) {
	if o.executor == nil {
		return domain.TaskResult{Success: false, Detail: "no executor configured"}, nil
	}
	ctx, cancel := context.WithDeadline(ctx, task.Deadline)
	defer cancel()
	return o.executor.Execute(ctx, task)
}

// finish moves a task from active to completed, updates bot performance,
// and trims the completed list.
func (o *Orchestrator) finish(task *domain.Task, status domain.TaskStatus, result domain.TaskResult, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	task.Status = status
	task.Result = &result
	delete(o.active, task.TaskID)
	o.completed = append(o.completed, *task)

	if task.BotID != "" {
		perf := o.perf[task.BotID]
		if perf == nil {
			perf = &domain.BotPerformance{}
			o.perf[task.BotID] = perf
		}
		perf.Update(result.Success, elapsed)
	}

	if o.logger != nil {
		o.logger.Info("orchestrator: task finished",
			slog.String("task_id", task.TaskID),
			slog.String("bot_id", task.BotID),
			slog.Bool("success", result.Success),
		)
	}
}

// reapTimeouts transitions any active task past its deadline to timeout
// with a failure result.
func (o *Orchestrator) reapTimeouts() {
	now := time.Now().UTC()

	o.mu.Lock()
	var overdue []*domain.Task
	for _, t := range o.active {
		if t.Overdue(now) {
			overdue = append(overdue, t)
		}
	}
	o.mu.Unlock()

	for _, t := range overdue {
		o.finish(t, domain.TaskTimeout, domain.TaskResult{Success: false, Detail: "deadline exceeded"}, 0)
	}
}

// gc trims the completed list to at most maxCompletedTasks, archiving the
// trimmed prefix if an archiver is configured.
func (o *Orchestrator) gc() {
	o.mu.Lock()
	if len(o.completed) <= maxCompletedTasks {
		o.mu.Unlock()
		return
	}
	overflow := len(o.completed) - maxCompletedTasks
	trimmed := make([]domain.Task, overflow)
	copy(trimmed, o.completed[:overflow])
	o.completed = o.completed[overflow:]
	o.mu.Unlock()

	if o.archiver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := o.archiver.ArchiveTasks(ctx, time.Now().UTC(), trimmed); err != nil && o.logger != nil {
			o.logger.Error("orchestrator: archive trimmed tasks", slog.String("error", err.Error()))
		}
	}
}

// selectBot filters to running bots in autonomous/supervised mode, scores
// each by rolling success rate (default 0.5 when unknown), and picks the
// max, tie-breaking by bot_id for determinism. Caller must hold o.mu.
func (o *Orchestrator) selectBot() (string, bool) {
	if o.bots == nil {
		return "", false
	}

	var candidates []string
	for _, id := range o.bots.RunningBotIDs() {
		desc, ok := o.bots.Descriptor(id)
		if !ok || desc.Status != domain.BotRunning {
			continue
		}
		if desc.Mode != domain.ModeAutonomous && desc.Mode != domain.ModeSupervised {
			continue
		}
		candidates = append(candidates, id)
	}
	if len(candidates) == 0 {
		return "", false
	}

	sort.Slice(candidates, func(i, j int) bool {
		si, sj := o.successRate(candidates[i]), o.successRate(candidates[j])
		if si != sj {
			return si > sj
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0], true
}

func (o *Orchestrator) successRate(botID string) float64 {
	if p, ok := o.perf[botID]; ok {
		return p.SuccessRate
	}
	return 0.5
}

// rebalance promotes bots with strong rolling success rates to autonomous
// and demotes poorly performing autonomous bots back to supervised.
func (o *Orchestrator) rebalance() {
	o.mu.Lock()
	type change struct {
		botID string
		mode  domain.BotMode
	}
	var changes []change
	for botID, perf := range o.perf {
		if perf.TasksCompleted < rebalanceMinCompleted {
			continue
		}
		desc, ok := o.bots.Descriptor(botID)
		if !ok {
			continue
		}
		switch {
		case perf.SuccessRate > rebalancePromoteThreshold && desc.Mode == domain.ModeSupervised:
			changes = append(changes, change{botID, domain.ModeAutonomous})
		case perf.SuccessRate < rebalanceDemoteThreshold && desc.Mode == domain.ModeAutonomous:
			changes = append(changes, change{botID, domain.ModeSupervised})
		}
	}
	o.mu.Unlock()

	for _, c := range changes {
		if o.bots.SetMode(c.botID, c.mode) && o.logger != nil {
			o.logger.Info("orchestrator: rebalanced bot mode",
				slog.String("bot_id", c.botID), slog.String("mode", string(c.mode)))
		}
	}
}
