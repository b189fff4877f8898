// Package rtconfig loads the runtime's YAML configuration file and, on
// request, watches it for changes so a long-running process can pick
// up edits without a restart.
package rtconfig

import (
	"time"

	"github.com/fendari/agentrt/internal/mcp"
	"github.com/fendari/agentrt/internal/multiagent"
)

// Config is the runtime's top-level configuration. It intentionally
// covers only the handful of fields the agent loop, batching pipeline,
// and messaging adapters need — not a general-purpose application
// config.
type Config struct {
	Loop          LoopConfig          `yaml:"loop"`
	Batching      BatchingConfig      `yaml:"batching"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Messaging     MessagingConfig     `yaml:"messaging"`
	ApprovalStore ApprovalStoreConfig `yaml:"approval_store"`
	DedupeStore   DedupeStoreConfig   `yaml:"dedupe_store"`
	Artifacts     ArtifactsConfig     `yaml:"artifacts"`
	Logging       LoggingConfig       `yaml:"logging"`
	ContextWindow ContextWindowConfig `yaml:"context_window"`
	MultiAgent    MultiAgentConfig    `yaml:"multi_agent"`
	MCP           mcp.Config          `yaml:"mcp"`
}

// MultiAgentConfig lists specialized sub-agents the root agent can hand
// off control to (internal/multiagent.HandoffTool) or invoke as a tool
// and get a result back from (SubAgentTool), keyed by AgentDefinition.ID.
type MultiAgentConfig struct {
	Agents []multiagent.AgentDefinition `yaml:"agents"`

	// SubAgentTimeout bounds how long a delegate_to_<id> tool call may
	// run before its context is cancelled. Zero means no bound beyond
	// the caller's own context.
	SubAgentTimeout time.Duration `yaml:"subagent_timeout"`
}

// LoopConfig mirrors agent.ExecutorConfig's tunables.
type LoopConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	DefaultRetries int           `yaml:"default_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
}

// BatchingConfig mirrors batching.ServiceConfig's tunables, minus the
// callback fields (Terminal handler, processor, dedupe store, notifier)
// that only make sense wired up in code.
type BatchingConfig struct {
	BufferCapacity      int           `yaml:"buffer_capacity"`
	Backpressure        string        `yaml:"backpressure"`
	SilenceThreshold    time.Duration `yaml:"silence_threshold"`
	AdaptiveTimeout     time.Duration `yaml:"adaptive_timeout"`
	WorkerPoolSize      int           `yaml:"worker_pool_size"`
	MaintenanceSchedule string        `yaml:"maintenance_schedule"`
	IdleBufferTTL       time.Duration `yaml:"idle_buffer_ttl"`
	MaxRetries          int           `yaml:"max_retries"`
	RetryInitialDelay   time.Duration `yaml:"retry_initial_delay"`
	RetryMultiplier     float64       `yaml:"retry_multiplier"`
	RetryMaxDelay       time.Duration `yaml:"retry_max_delay"`
}

// RateLimitConfig mirrors batching.HybridLimiterConfig's tunables.
type RateLimitConfig struct {
	Capacity        int           `yaml:"capacity"`
	RefillPerMinute float64       `yaml:"refill_per_minute"`
	WindowMax       int           `yaml:"window_max"`
	WindowSeconds   time.Duration `yaml:"window_seconds"`
}

// MessagingConfig holds per-platform credentials. A platform with an
// empty config is left disabled by the caller wiring adapters up.
type MessagingConfig struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
}

type DiscordConfig struct {
	Token string `yaml:"token"`
}

type TelegramConfig struct {
	Token string `yaml:"token"`
}

type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`
}

type WhatsAppConfig struct {
	SessionDSN string `yaml:"session_dsn"`
}

// ApprovalStoreConfig configures the Postgres-backed approval store.
type ApprovalStoreConfig struct {
	DSN string `yaml:"dsn"`

	// SigningKey signs the AgentRunState token attached to a paused
	// approval request. Empty disables signing, and a run can only be
	// resumed from within the process that paused it.
	SigningKey string        `yaml:"signing_key"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
}

// DedupeStoreConfig configures the SQLite-backed dedupe store.
type DedupeStoreConfig struct {
	Path string `yaml:"path"`
}

// ArtifactsConfig selects and configures an artifact store backend.
// Backend is one of "memory" or "s3"; S3 fields are ignored otherwise.
type ArtifactsConfig struct {
	Backend string `yaml:"backend"`

	S3Bucket       string `yaml:"s3_bucket"`
	S3Region       string `yaml:"s3_region"`
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Prefix       string `yaml:"s3_prefix"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
}

// LoggingConfig configures the runtime's slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// ContextWindowConfig configures the agent.WindowStrategy the loop uses
// to reduce an interaction's history before every Responder call.
type ContextWindowConfig struct {
	// Strategy selects the reducer: "sliding" (default), "summarization",
	// or "none" to disable reduction entirely.
	Strategy string `yaml:"strategy"`

	// MaxTokens is the budget a reduced view must fit within.
	MaxTokens int `yaml:"max_tokens"`

	// PreserveDeveloperMessages keeps a leading run of developer-role
	// messages outside the budget walk.
	PreserveDeveloperMessages bool `yaml:"preserve_developer_messages"`

	// SummaryModel is the cheaper model the "summarization" strategy
	// calls to condense everything older than KeepRecent items. Required
	// when Strategy is "summarization".
	SummaryModel string `yaml:"summary_model"`

	// KeepRecent is how many trailing items the "summarization" strategy
	// keeps verbatim. Zero means its built-in default of 5.
	KeepRecent int `yaml:"keep_recent"`
}

// Default returns a Config populated with the same defaults each
// subsystem would pick on its own when unconfigured.
func Default() *Config {
	return &Config{
		Loop: LoopConfig{
			MaxConcurrency: 5,
			DefaultTimeout: 30 * time.Second,
			DefaultRetries: 2,
			RetryBackoff:   100 * time.Millisecond,
		},
		Batching: BatchingConfig{
			BufferCapacity:      50,
			Backpressure:        "drop_oldest",
			SilenceThreshold:    10 * time.Second,
			AdaptiveTimeout:     60 * time.Second,
			WorkerPoolSize:      16,
			MaintenanceSchedule: "@every 1m",
			IdleBufferTTL:       10 * time.Minute,
			MaxRetries:          3,
			RetryInitialDelay:   time.Second,
			RetryMultiplier:     2.0,
			RetryMaxDelay:       time.Minute,
		},
		RateLimit: RateLimitConfig{
			Capacity:        5,
			RefillPerMinute: 30,
			WindowMax:       20,
			WindowSeconds:   60 * time.Second,
		},
		Artifacts: ArtifactsConfig{
			Backend: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		ContextWindow: ContextWindowConfig{
			Strategy:                  "sliding",
			MaxTokens:                 100_000,
			PreserveDeveloperMessages: true,
			KeepRecent:                5,
		},
	}
}
