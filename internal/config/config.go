// Package config defines the top-level configuration for arbicore and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBICORE_* environment
// variables.
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`

	MCP          MCPConfig          `toml:"mcp"`
	Hub          HubConfig          `toml:"hub"`
	Supervisor   SupervisorConfig   `toml:"supervisor"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Core         CoreConfig         `toml:"core"`
	Preferences  PreferencesConfig  `toml:"preferences"`
	Redis        RedisConfig        `toml:"redis"`
	Supabase     SupabaseConfig     `toml:"supabase"`
	S3           S3Config           `toml:"s3"`
	Server       ServerConfig       `toml:"server"`
	Notify       NotifyConfig       `toml:"notify"`
}

// MCPConfig points at the registry the MCP Client Layer resolves every
// downstream service call through.
type MCPConfig struct {
	RegistryURL string `toml:"registry_url"`
}

// HubConfig holds the Connection Hub's reaper settings. They are loaded from
// the config file and environment but not passed to the hub, whose reaper
// uses its own fixed 60s interval and 300s idle limit.
type HubConfig struct {
	ReapIntervalSeconds int `toml:"reap_interval_seconds"`
	IdleTimeoutSeconds  int `toml:"idle_timeout_seconds"`
}

// SupervisorConfig holds the Worker Supervisor's graceful-stop window. It is
// loaded from the config file and environment but not passed to the
// supervisor, which waits a fixed 5s before force-killing a bot.
type SupervisorConfig struct {
	GracefulStopSeconds int `toml:"graceful_stop_seconds"`
}

// OrchestratorConfig tunes task scheduling and rebalancing.
type OrchestratorConfig struct {
	MaxConcurrentTasks       int `toml:"max_concurrent_tasks"`
	TaskTimeoutSeconds       int `toml:"task_timeout_seconds"`
	RebalanceIntervalSeconds int `toml:"rebalance_interval_seconds"`
}

// CoreConfig tunes the Unified Facade's autonomous discovery loop and
// status-logging cadence.
type CoreConfig struct {
	OpportunityPollIntervalSeconds int      `toml:"opportunity_poll_interval_seconds"`
	StatusLogIntervalSeconds       int      `toml:"status_log_interval_seconds"`
	MaxOpportunitiesPerToken       int      `toml:"max_opportunities_per_token"`
	DiscoveryTokens                []string `toml:"discovery_tokens"`
}

// PreferencesConfig selects the Preferences Store backend.
type PreferencesConfig struct {
	// Backend is "json" (default) or "postgres" (optional variant).
	Backend string `toml:"backend"`
	JSONDir string `toml:"json_dir"`
}

// RedisConfig holds Redis connection parameters, backing the Hub's
// broadcast bus and the Orchestrator's distributed dispatch lock.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// SupabaseConfig holds PostgreSQL connection parameters for the audit
// trail and the optional Postgres-backed preferences store.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for the cold
// storage archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters for the WS upgrade endpoint.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder
// can parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		MCP: MCPConfig{
			RegistryURL: "http://localhost:9500",
		},
		Hub: HubConfig{
			ReapIntervalSeconds: 60,
			IdleTimeoutSeconds:  300,
		},
		Supervisor: SupervisorConfig{
			GracefulStopSeconds: 5,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentTasks:       5,
			TaskTimeoutSeconds:       600,
			RebalanceIntervalSeconds: 30,
		},
		Core: CoreConfig{
			OpportunityPollIntervalSeconds: 30,
			StatusLogIntervalSeconds:       60,
			MaxOpportunitiesPerToken:       5,
			DiscoveryTokens:                []string{"ETH", "USDC", "USDT", "DAI", "WBTC"},
		},
		Preferences: PreferencesConfig{
			Backend: "json",
			JSONDir: "./data/preferences",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			StreamMaxLen: 10000,
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbicore-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"opportunities_found", "arbitrage_executed", "bot_error"},
		},
	}
}

var validModes = map[string]bool{
	"full":       true,
	"serve":      true,
	"autonomous": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validPreferencesBackends = map[string]bool{
	"json":     true,
	"postgres": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, serve, autonomous)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.MCP.RegistryURL == "" {
		errs = append(errs, "mcp: registry_url must not be empty")
	}

	if c.Orchestrator.MaxConcurrentTasks < 1 {
		errs = append(errs, "orchestrator: max_concurrent_tasks must be >= 1")
	}
	if c.Orchestrator.TaskTimeoutSeconds < 1 {
		errs = append(errs, "orchestrator: task_timeout_seconds must be >= 1")
	}
	if c.Orchestrator.RebalanceIntervalSeconds < 1 {
		errs = append(errs, "orchestrator: rebalance_interval_seconds must be >= 1")
	}

	if c.Core.OpportunityPollIntervalSeconds < 1 {
		errs = append(errs, "core: opportunity_poll_interval_seconds must be >= 1")
	}
	if len(c.Core.DiscoveryTokens) == 0 {
		errs = append(errs, "core: discovery_tokens must not be empty")
	}

	if !validPreferencesBackends[strings.ToLower(c.Preferences.Backend)] {
		errs = append(errs, fmt.Sprintf("preferences: unknown backend %q (valid: json, postgres)", c.Preferences.Backend))
	}
	if strings.ToLower(c.Preferences.Backend) == "json" && c.Preferences.JSONDir == "" {
		errs = append(errs, "preferences: json_dir must not be empty for the json backend")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if strings.ToLower(c.Preferences.Backend) == "postgres" {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 {
			errs = append(errs, "supabase: pool_min_conns must be >= 0")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
