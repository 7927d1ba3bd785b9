package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBICORE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBICORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Mode, "ARBICORE_MODE")
	setStr(&cfg.LogLevel, "ARBICORE_LOG_LEVEL")

	// ── MCP ──
	setStr(&cfg.MCP.RegistryURL, "ARBICORE_MCP_REGISTRY_URL")

	// ── Hub ──
	setInt(&cfg.Hub.ReapIntervalSeconds, "ARBICORE_HUB_REAP_INTERVAL_SECONDS")
	setInt(&cfg.Hub.IdleTimeoutSeconds, "ARBICORE_HUB_IDLE_TIMEOUT_SECONDS")

	// ── Supervisor ──
	setInt(&cfg.Supervisor.GracefulStopSeconds, "ARBICORE_SUPERVISOR_GRACEFUL_STOP_SECONDS")

	// ── Orchestrator ──
	setInt(&cfg.Orchestrator.MaxConcurrentTasks, "ARBICORE_ORCHESTRATOR_MAX_CONCURRENT_TASKS")
	setInt(&cfg.Orchestrator.TaskTimeoutSeconds, "ARBICORE_ORCHESTRATOR_TASK_TIMEOUT_SECONDS")
	setInt(&cfg.Orchestrator.RebalanceIntervalSeconds, "ARBICORE_ORCHESTRATOR_REBALANCE_INTERVAL_SECONDS")

	// ── Core ──
	setInt(&cfg.Core.OpportunityPollIntervalSeconds, "ARBICORE_CORE_OPPORTUNITY_POLL_INTERVAL_SECONDS")
	setInt(&cfg.Core.StatusLogIntervalSeconds, "ARBICORE_CORE_STATUS_LOG_INTERVAL_SECONDS")
	setInt(&cfg.Core.MaxOpportunitiesPerToken, "ARBICORE_CORE_MAX_OPPORTUNITIES_PER_TOKEN")
	setStringSlice(&cfg.Core.DiscoveryTokens, "ARBICORE_CORE_DISCOVERY_TOKENS")

	// ── Preferences ──
	setStr(&cfg.Preferences.Backend, "ARBICORE_PREFERENCES_BACKEND")
	setStr(&cfg.Preferences.JSONDir, "ARBICORE_PREFERENCES_JSON_DIR")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARBICORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBICORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBICORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBICORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBICORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBICORE_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "ARBICORE_REDIS_STREAM_MAX_LEN")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "ARBICORE_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "ARBICORE_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "ARBICORE_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "ARBICORE_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "ARBICORE_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "ARBICORE_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "ARBICORE_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "ARBICORE_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "ARBICORE_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "ARBICORE_SUPABASE_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ARBICORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBICORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBICORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBICORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBICORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBICORE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBICORE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "ARBICORE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBICORE_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBICORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBICORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBICORE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBICORE_NOTIFY_EVENTS")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
