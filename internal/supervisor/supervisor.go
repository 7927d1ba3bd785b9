// Package supervisor spawns each external bot program as a child in its own
// process group, monitors liveness, and cleanly stops it. A BotAdapter
// abstraction lets the same start/stop/monitor contract serve both
// subprocess-backed and in-process bots.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arcwave/arbicore/internal/arbservice"
	"github.com/arcwave/arbicore/internal/domain"
)

// Compile-time check: Supervisor satisfies the arbservice.Supervisor
// contract the service depends on.
var _ arbservice.Supervisor = (*Supervisor)(nil)

const gracefulStopWait = 5 * time.Second

// BotAdapter is the supervisor's backend-agnostic handle on one running
// bot: launch it, signal it to stop gracefully, force-kill it, and report
// whether it is still alive.
type BotAdapter interface {
	// Launch starts the bot with config surfaced however the backend
	// expects (environment variables for a subprocess, constructor
	// arguments for an in-process instance).
	Launch(ctx context.Context, desc domain.BotDescriptor, config map[string]string) error
	// Signal asks the bot to stop gracefully (SIGTERM for a subprocess; a
	// context cancellation for in-process).
	Signal() error
	// Kill forces termination.
	Kill() error
	// Wait blocks until the bot exits and reports its outcome.
	Wait() (exitErr error, stderr string)
	// Alive reports whether the bot is still running.
	Alive() bool
}

// AdapterFactory builds a fresh BotAdapter for one descriptor, chosen by
// whatever launch-spec convention the caller uses to distinguish subprocess
// bots from in-process ones.
type AdapterFactory func(desc domain.BotDescriptor) (BotAdapter, error)

// EventHandler is notified of bot lifecycle transitions the supervisor
// observes, independently of the arbservice callback bus.
type EventHandler func(botID string, status domain.BotStatus, detail string)

// Supervisor manages one supervising goroutine per bot; stopping one bot
// never blocks another.
type Supervisor struct {
	logger  *slog.Logger
	factory AdapterFactory
	onEvent EventHandler

	mu      sync.Mutex
	workers map[string]*worker
}

type worker struct {
	adapter BotAdapter
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a Supervisor. onEvent may be nil.
func New(factory AdapterFactory, onEvent EventHandler, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		logger:  logger,
		factory: factory,
		onEvent: onEvent,
		workers: make(map[string]*worker),
	}
}

// Start launches desc's bot and spawns its supervising monitor goroutine.
// Returns an error if the bot is already running or the adapter fails to
// launch.
func (s *Supervisor) Start(ctx context.Context, desc domain.BotDescriptor, config map[string]string) error {
	s.mu.Lock()
	if _, exists := s.workers[desc.BotID]; exists {
		s.mu.Unlock()
		return domain.NewError(domain.KindConfigError, "supervisor.Start", domain.ErrAlreadyExists)
	}
	s.mu.Unlock()

	adapter, err := s.factory(desc)
	if err != nil {
		return domain.NewError(domain.KindConfigError, "supervisor.Start", err)
	}
	if err := adapter.Launch(ctx, desc, config); err != nil {
		return domain.NewError(domain.KindWorkerExit, "supervisor.Start", err)
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	w := &worker{adapter: adapter, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.workers[desc.BotID] = w
	s.mu.Unlock()

	go s.monitor(monitorCtx, desc.BotID, w)
	return nil
}

// Stop signals botID's process group to stop gracefully, waits up to 5s,
// then force-kills it. Returns nil if the bot was not running.
func (s *Supervisor) Stop(ctx context.Context, botID string) error {
	s.mu.Lock()
	w, ok := s.workers[botID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if err := w.adapter.Signal(); err != nil && s.logger != nil {
		s.logger.Warn("supervisor: graceful signal failed", slog.String("bot_id", botID), slog.String("error", err.Error()))
	}

	select {
	case <-w.done:
	case <-time.After(gracefulStopWait):
		if err := w.adapter.Kill(); err != nil && s.logger != nil {
			s.logger.Error("supervisor: force kill failed", slog.String("bot_id", botID), slog.String("error", err.Error()))
		}
		<-w.done
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	delete(s.workers, botID)
	s.mu.Unlock()
	return nil
}

// monitor blocks on the adapter's Wait; on exit it reports the outcome and
// releases the worker's done channel.
func (s *Supervisor) monitor(ctx context.Context, botID string, w *worker) {
	defer close(w.done)

	exitErr, stderr := w.adapter.Wait()

	select {
	case <-ctx.Done():
	default:
	}

	status := domain.BotStopped
	detail := ""
	if exitErr != nil {
		status = domain.BotError
		detail = stderr
		if detail == "" {
			detail = exitErr.Error()
		}
		if s.logger != nil {
			s.logger.Error("supervisor: bot exited with error",
				slog.String("bot_id", botID), slog.String("error", exitErr.Error()))
		}
	} else if s.logger != nil {
		s.logger.Info("supervisor: bot exited normally", slog.String("bot_id", botID))
	}

	if s.onEvent != nil {
		s.onEvent(botID, status, detail)
	}
}
