package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arcwave/arbicore/internal/arbservice"
	s3blob "github.com/arcwave/arbicore/internal/blob/s3"
	"github.com/arcwave/arbicore/internal/cache/redis"
	"github.com/arcwave/arbicore/internal/config"
	"github.com/arcwave/arbicore/internal/core"
	"github.com/arcwave/arbicore/internal/domain"
	"github.com/arcwave/arbicore/internal/hub"
	"github.com/arcwave/arbicore/internal/mcpclient"
	"github.com/arcwave/arbicore/internal/notify"
	"github.com/arcwave/arbicore/internal/orchestrator"
	"github.com/arcwave/arbicore/internal/pipeline"
	"github.com/arcwave/arbicore/internal/prefs"
	"github.com/arcwave/arbicore/internal/store/postgres"
	"github.com/arcwave/arbicore/internal/supervisor"
)

// Dependencies bundles every wired component the application modes drive.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Core     *core.Core
	Hub      *hub.Hub
	Notifier *notify.Notifier
}

// defaultAdapterFactory launches every registered bot as a subprocess named
// by its LaunchSpec. This is the only adapter strategy the Facade needs out
// of the box; an in-process bot can still be registered directly against
// the Supervisor by a caller holding the lower-level components.
func defaultAdapterFactory(desc domain.BotDescriptor) (supervisor.BotAdapter, error) {
	return supervisor.NewSubprocessAdapter(desc.LaunchSpec), nil
}

// Wire constructs every concrete dependency from cfg and returns them along
// with a cleanup function that releases external connections in reverse
// order. Postgres, Redis, and S3 are always provisioned: the Connection Hub
// and the Orchestrator's dispatch lock need Redis regardless of mode, and
// the cold-storage archiver needs both Postgres and S3.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// --- PostgreSQL: audit trail, task/record history, optional preferences ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Supabase.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	auditStore := postgres.NewAuditStore(pool)
	historyStore := postgres.NewHistoryStore(pool)

	// --- Redis: Hub broadcast bus and Orchestrator dispatch lock ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	lockManager := redis.NewLockManager(redisClient)
	signalBus := redis.NewSignalBus(redisClient)

	// --- S3: cold-storage archive target ---
	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: s3: %w", err)
	}
	closers = append(closers, func() { _ = s3Client.Close() })

	archiver := s3blob.NewArchiver(s3blob.NewWriter(s3Client), historyStore, historyStore, auditStore)

	// --- Preferences store ---
	var prefsStore domain.PreferencesStore
	if strings.ToLower(cfg.Preferences.Backend) == "postgres" {
		prefsStore = postgres.NewPreferencesStore(pool)
	} else {
		jsonStore, err := prefs.NewJSONStore(cfg.Preferences.JSONDir)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: preferences json store: %w", err)
		}
		prefsStore = jsonStore
	}
	prefsManager := prefs.New(prefsStore)

	// --- MCP Client Layer, Connection Hub ---
	mcpClient := mcpclient.New(cfg.MCP.RegistryURL, logger)
	connHub := hub.New(signalBus, logger)

	// --- Arbitrage Service, Worker Supervisor ---
	// The cross-venue scan routine and any LLM-backed decision engine remain
	// external collaborators; both are wired in later via SetAIEngine or a
	// feed implementation supplied by the caller, never constructed here.
	sup := supervisor.New(defaultAdapterFactory, nil, logger)
	svc := arbservice.New(sup, nil, nil, logger)

	// --- Pipeline, Orchestrator ---
	pl := pipeline.New(mcpClient, core.NewPipelineExecutor(svc), logger)
	orch := orchestrator.New(pl, core.NewTaskExecutor(svc), svc, lockManager, orchestrator.Config{
		MaxConcurrentTasks: cfg.Orchestrator.MaxConcurrentTasks,
		TaskDeadline:       secondsDuration(cfg.Orchestrator.TaskTimeoutSeconds),
		RebalanceInterval:  secondsDuration(cfg.Orchestrator.RebalanceIntervalSeconds),
	}, logger).WithStore(historyStore).WithArchiver(archiver)

	// --- Unified Facade ---
	c := core.New(svc, connHub, orch, prefsManager, core.Config{
		OpportunityPollInterval:  secondsDuration(cfg.Core.OpportunityPollIntervalSeconds),
		StatusLogInterval:        secondsDuration(cfg.Core.StatusLogIntervalSeconds),
		MaxOpportunitiesPerToken: cfg.Core.MaxOpportunitiesPerToken,
		DiscoveryTokens:          cfg.Core.DiscoveryTokens,
	}, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)

	svc.RegisterCallback(func(evt arbservice.Event) {
		title, message := formatServiceEvent(evt)
		if err := notifier.Notify(ctx, string(evt.Type), title, message); err != nil {
			logger.WarnContext(ctx, "wire: notify failed", slog.String("event", string(evt.Type)), slog.String("error", err.Error()))
		}
	})

	return &Dependencies{Core: c, Hub: connHub, Notifier: notifier}, cleanup, nil
}

// formatServiceEvent renders an arbservice.Event as a notification title and
// body. Unrecognized event types still get a generic message rather than
// being dropped, since Notifier itself filters by event type.
func formatServiceEvent(evt arbservice.Event) (title, message string) {
	switch evt.Type {
	case arbservice.EventBotRegistered:
		return "Bot registered", fmt.Sprintf("%+v", evt.Data)
	case arbservice.EventBotStarted:
		return "Bot started", fmt.Sprintf("%+v", evt.Data)
	case arbservice.EventBotStopped:
		return "Bot stopped", fmt.Sprintf("%+v", evt.Data)
	case arbservice.EventBotError:
		return "Bot error", fmt.Sprintf("%+v", evt.Data)
	case arbservice.EventOpportunitiesFound:
		return "Opportunities found", fmt.Sprintf("%+v", evt.Data)
	case arbservice.EventArbitrageExecuted:
		return "Arbitrage executed", fmt.Sprintf("%+v", evt.Data)
	default:
		return string(evt.Type), fmt.Sprintf("%+v", evt.Data)
	}
}

// secondsDuration converts a config field expressed in whole seconds into a
// time.Duration. Zero stays zero so the receiving component's own default
// kicks in.
func secondsDuration(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
