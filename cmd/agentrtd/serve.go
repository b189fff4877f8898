package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fendari/agentrt/internal/agent"
	"github.com/fendari/agentrt/internal/agent/providers"
	"github.com/fendari/agentrt/internal/approvalstore"
	"github.com/fendari/agentrt/internal/artifactstore"
	"github.com/fendari/agentrt/internal/batching"
	"github.com/fendari/agentrt/internal/compaction"
	agentcontext "github.com/fendari/agentrt/internal/context"
	"github.com/fendari/agentrt/internal/dedupestore"
	"github.com/fendari/agentrt/internal/mcp"
	"github.com/fendari/agentrt/internal/messaging"
	"github.com/fendari/agentrt/internal/messaging/discord"
	"github.com/fendari/agentrt/internal/messaging/slack"
	"github.com/fendari/agentrt/internal/messaging/telegram"
	"github.com/fendari/agentrt/internal/messaging/whatsapp"
	"github.com/fendari/agentrt/internal/multiagent"
	"github.com/fendari/agentrt/internal/observability"
	"github.com/fendari/agentrt/internal/planexecutor"
	"github.com/fendari/agentrt/internal/policy"
	"github.com/fendari/agentrt/internal/rtconfig"
	"github.com/fendari/agentrt/pkg/models"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the runtime: batching pipeline, messaging adapters, agentic loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			resolved := resolveConfigPath(configPath)
			cfg, err := rtconfig.Load(resolved)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			return runServe(cmd.Context(), resolved, cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

// runtime bundles the pieces runServe constructs so they can be torn
// down in reverse order on shutdown.
type runtime struct {
	dedupe       *dedupestore.Store
	artifacts    artifactstore.Store
	approvals    agent.ApprovalStore
	batcher      *batching.BatchingService
	watcher      *rtconfig.Watcher
	adapters     []messaging.Adapter
	telemetry    *observability.TelemetryBus
	mcp          *mcp.Manager
	subagentRuns *multiagent.SubagentRegistry
}

func runServe(ctx context.Context, configPath string, cfg *rtconfig.Config, logger *slog.Logger) error {
	provider, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}

	tools := agent.NewToolRegistry()
	executor := planexecutor.NewExecutor(tools)
	if err := tools.Register(planexecutor.NewPlanTool(executor)); err != nil {
		return fmt.Errorf("register plan tool: %w", err)
	}

	approvalPolicy := agent.DefaultApprovalPolicy()
	checker := agent.NewApprovalChecker(approvalPolicy)

	rt := &runtime{}
	defer rt.Close(logger)

	toolPolicy := policy.NewResolver()
	mcpManager := mcp.NewManager(&cfg.MCP, logger)
	rt.mcp = mcpManager
	if err := mcpManager.Start(ctx); err != nil {
		logger.Warn("mcp: some servers failed to start", "error", err)
	}
	if registered := mcp.RegisterToolsWithRegistrar(tools, mcpManager, toolPolicy); len(registered) > 0 {
		logger.Info("registered mcp tools", "count", len(registered))
	}

	approvalStore, err := buildApprovalStore(cfg)
	if err != nil {
		return fmt.Errorf("build approval store: %w", err)
	}
	rt.approvals = approvalStore
	checker.SetStore(approvalStore)

	signer := agent.NewRunStateSigner([]byte(cfg.ApprovalStore.SigningKey), cfg.ApprovalStore.TokenTTL)
	if cfg.ApprovalStore.SigningKey == "" {
		logger.Warn("approval_store.signing_key not set; paused runs can only be resumed from within this process")
	}

	dedupe, err := dedupestore.Open(cfg.DedupeStore.Path)
	if err != nil {
		return fmt.Errorf("open dedupe store: %w", err)
	}
	rt.dedupe = dedupe

	store, err := buildArtifactStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build artifact store: %w", err)
	}
	rt.artifacts = store

	telemetry := observability.NewTelemetryBus(observability.DefaultTelemetryQueueSize)
	telemetry.Subscribe(observability.TelemetryProcessorFunc(func(e observability.TelemetryEvent) {
		logger.Debug("telemetry",
			"kind", e.Kind,
			"session_id", e.SessionID,
			"trace_id", e.TraceID,
			"span_id", e.SpanID,
			"parent_span_id", e.ParentSpanID,
			"attributes", e.Attributes,
		)
	}))
	rt.telemetry = telemetry

	loop := agent.NewAgenticLoop(&agent.LoopConfig{
		ExecutorConfig: &agent.ExecutorConfig{
			MaxConcurrency: cfg.Loop.MaxConcurrency,
			DefaultTimeout: cfg.Loop.DefaultTimeout,
			DefaultRetries: cfg.Loop.DefaultRetries,
			RetryBackoff:   cfg.Loop.RetryBackoff,
		},
		ApprovalChecker: checker,
	})

	windowStrategy := buildWindowStrategy(cfg, provider)

	agentRegistry, subagentRuns, err := buildMultiAgent(cfg, tools, provider, loop, telemetry, windowStrategy, logger)
	if err != nil {
		return fmt.Errorf("build multi-agent registry: %w", err)
	}
	rt.subagentRuns = subagentRuns

	root := &agent.Agent{
		Name:      "root",
		Tools:     tools,
		Provider:  provider,
		MaxTokens: cfg.ContextWindow.MaxTokens,
		Counter:   agentcontext.DefaultTokenCounter{},
		Window:    windowStrategy,
		Telemetry: telemetry,
	}
	if agentRegistry != nil {
		root.Handoffs = agentRegistry
	}

	registry := newResumeRegistry()
	processor := batching.ProcessorFunc(func(ctx context.Context, userID string, msgs []models.Message, bctx batching.BatchContext) error {
		return processBatch(ctx, loop, root, userID, msgs, bctx, registry, checker, approvalStore, signer, logger)
	})

	notifier := batching.NotifierFunc(func(ctx context.Context, userID, reason string) {
		logger.Warn("batching notification", "user_id", userID, "reason", reason)
	})

	serviceCfg := batching.ServiceConfig{
		BufferCapacity:      cfg.Batching.BufferCapacity,
		Backpressure:        batching.BackpressureStrategy(cfg.Batching.Backpressure),
		SilenceThreshold:    cfg.Batching.SilenceThreshold,
		AdaptiveTimeout:     cfg.Batching.AdaptiveTimeout,
		WorkerPoolSize:      cfg.Batching.WorkerPoolSize,
		MaintenanceSchedule: cfg.Batching.MaintenanceSchedule,
		IdleBufferTTL:       cfg.Batching.IdleBufferTTL,
		ErrorHandling: batching.ErrorHandlingStrategy{
			MaxRetries:   cfg.Batching.MaxRetries,
			InitialDelay: cfg.Batching.RetryInitialDelay,
			Multiplier:   cfg.Batching.RetryMultiplier,
			MaxDelay:     cfg.Batching.RetryMaxDelay,
		},
		Limiter: batching.HybridLimiterConfig{
			Capacity:        cfg.RateLimit.Capacity,
			RefillPerMinute: cfg.RateLimit.RefillPerMinute,
			WindowMax:       cfg.RateLimit.WindowMax,
			WindowSeconds:   cfg.RateLimit.WindowSeconds,
		},
	}
	batcher := batching.NewBatchingService(serviceCfg, processor, dedupe, notifier)
	rt.batcher = batcher
	if err := batcher.Start(); err != nil {
		return fmt.Errorf("start batching service: %w", err)
	}

	adapters, err := buildAdapters(cfg, batcher, logger)
	if err != nil {
		return fmt.Errorf("build messaging adapters: %w", err)
	}
	rt.adapters = adapters
	if len(adapters) == 0 {
		logger.Warn("no messaging adapters configured; nothing will reach the batching pipeline")
	}

	watcher := rtconfig.NewWatcher(configPath, func(next *rtconfig.Config) {
		logger.Info("config reloaded; restart required to apply changes to the running service")
	}, logger)
	rt.watcher = watcher

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := watcher.Start(runCtx); err != nil {
		logger.Warn("config watcher failed to start", "error", err)
	}

	go watchApprovals(runCtx, loop, approvalStore, registry, signer, logger)

	errCh := make(chan error, len(adapters))
	for _, a := range adapters {
		a := a
		go func() {
			if err := a.Start(runCtx); err != nil {
				errCh <- err
			}
		}()
	}

	logger.Info("agentrtd started")
	select {
	case <-runCtx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("messaging adapter failed", "error", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Loop.DefaultTimeout)
	defer shutdownCancel()
	for _, a := range adapters {
		if err := a.Stop(shutdownCtx); err != nil {
			logger.Warn("adapter shutdown error", "error", err)
		}
	}
	batcher.Stop()
	return nil
}

func (rt *runtime) Close(logger *slog.Logger) {
	if rt.watcher != nil {
		_ = rt.watcher.Close()
	}
	if rt.dedupe != nil {
		if err := rt.dedupe.Close(); err != nil {
			logger.Warn("dedupe store close error", "error", err)
		}
	}
	if closer, ok := rt.approvals.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("approval store close error", "error", err)
		}
	}
	if rt.telemetry != nil {
		rt.telemetry.Flush(2 * time.Second)
		rt.telemetry.Shutdown()
	}
	if rt.subagentRuns != nil {
		rt.subagentRuns.Stop()
	}
	if rt.mcp != nil {
		if err := rt.mcp.Stop(); err != nil {
			logger.Warn("mcp manager close error", "error", err)
		}
	}
}

func buildProvider(cfg *rtconfig.Config) (agent.LLMProvider, error) {
	if key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); key != "" {
		return providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: key})
	}
	if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
		return providers.NewOpenAIProvider(key), nil
	}
	return nil, fmt.Errorf("no LLM provider configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
}

// buildWindowStrategy selects the agent.WindowStrategy the root agent
// reduces its history through before every Responder call, per
// cfg.ContextWindow.Strategy.
func buildWindowStrategy(cfg *rtconfig.Config, provider agent.LLMProvider) agent.WindowStrategy {
	sliding := agentcontext.SlidingWindow{PreserveDeveloperMessages: cfg.ContextWindow.PreserveDeveloperMessages}

	switch cfg.ContextWindow.Strategy {
	case "", "sliding":
		return sliding
	case "none":
		return nil
	case "summarization":
		return compaction.Summarization{
			Responder: provider,
			Model:     cfg.ContextWindow.SummaryModel,
			Keep:      cfg.ContextWindow.KeepRecent,
			Fallback:  sliding,
		}
	default:
		return sliding
	}
}

func buildApprovalStore(cfg *rtconfig.Config) (agent.ApprovalStore, error) {
	if strings.TrimSpace(cfg.ApprovalStore.DSN) == "" {
		return agent.NewMemoryApprovalStore(), nil
	}
	return approvalstore.NewFromDSN(cfg.ApprovalStore.DSN, approvalstore.DefaultConfig())
}

func buildArtifactStore(ctx context.Context, cfg *rtconfig.Config) (artifactstore.Store, error) {
	if cfg.Artifacts.Backend == "s3" {
		return artifactstore.NewS3Store(ctx, &artifactstore.S3Config{
			Bucket:       cfg.Artifacts.S3Bucket,
			Region:       cfg.Artifacts.S3Region,
			Endpoint:     cfg.Artifacts.S3Endpoint,
			Prefix:       cfg.Artifacts.S3Prefix,
			UsePathStyle: cfg.Artifacts.S3UsePathStyle,
		})
	}
	return artifactstore.NewMemoryStore(), nil
}

func buildAdapters(cfg *rtconfig.Config, sink messaging.Sink, logger *slog.Logger) ([]messaging.Adapter, error) {
	var adapters []messaging.Adapter

	if cfg.Messaging.Discord.Token != "" {
		a, err := discord.New(discord.Config{Token: cfg.Messaging.Discord.Token}, sink, logger)
		if err != nil {
			return nil, fmt.Errorf("discord: %w", err)
		}
		adapters = append(adapters, a)
	}
	if cfg.Messaging.Telegram.Token != "" {
		a, err := telegram.New(telegram.Config{Token: cfg.Messaging.Telegram.Token}, sink, logger)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		adapters = append(adapters, a)
	}
	if cfg.Messaging.Slack.BotToken != "" && cfg.Messaging.Slack.AppToken != "" {
		a, err := slack.New(slack.Config{
			BotToken: cfg.Messaging.Slack.BotToken,
			AppToken: cfg.Messaging.Slack.AppToken,
		}, sink, logger)
		if err != nil {
			return nil, fmt.Errorf("slack: %w", err)
		}
		adapters = append(adapters, a)
	}
	if cfg.Messaging.WhatsApp.SessionDSN != "" {
		a, err := whatsapp.New(whatsapp.Config{SessionDSN: cfg.Messaging.WhatsApp.SessionDSN}, sink, logger)
		if err != nil {
			return nil, fmt.Errorf("whatsapp: %w", err)
		}
		adapters = append(adapters, a)
	}

	return adapters, nil
}
