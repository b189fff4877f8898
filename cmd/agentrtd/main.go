// Command agentrtd is the example binary that wires the runtime's
// packages together: an Agent, an LLM provider, a tool registry, the
// message-batching pipeline, and inbound messaging adapters. It is not
// part of the runtime's public contract — every package it imports is
// independently usable without it.
//
// # Basic Usage
//
// Start the service:
//
//	agentrtd serve --config agentrt.yaml
//
// List and resolve paused tool-call approvals:
//
//	agentrtd approvals list
//	agentrtd approvals approve <id>
//	agentrtd approvals deny <id>
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fendari/agentrt/internal/rtconfig"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentrtd",
		Short: "agentrtd - agent runtime example service",
		Long: `agentrtd wires the agent runtime's packages into a running service:
an agentic loop, a tool-plan executor, context-window management, and a
message-batching/rate-limiting pipeline sitting in front of inbound
messaging adapters.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildApprovalsCmd(),
		buildStatusCmd(),
	)

	return rootCmd
}

func buildStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "messaging: discord=%t telegram=%t slack=%t whatsapp=%t\n",
				cfg.Messaging.Discord.Token != "",
				cfg.Messaging.Telegram.Token != "",
				cfg.Messaging.Slack.BotToken != "",
				cfg.Messaging.WhatsApp.SessionDSN != "",
			)
			fmt.Fprintf(out, "artifacts backend: %s\n", cfg.Artifacts.Backend)
			fmt.Fprintf(out, "approval store: %s\n", approvalStoreKind(cfg))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func approvalStoreKind(cfg *rtconfig.Config) string {
	if cfg.ApprovalStore.DSN != "" {
		return "postgres"
	}
	return "memory"
}
