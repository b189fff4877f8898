package main

import (
	"fmt"
	"log/slog"

	"github.com/fendari/agentrt/internal/agent"
	agentcontext "github.com/fendari/agentrt/internal/context"
	"github.com/fendari/agentrt/internal/multiagent"
	"github.com/fendari/agentrt/internal/observability"
	"github.com/fendari/agentrt/internal/rtconfig"
)

// buildMultiAgent constructs one agent.Agent per configured
// multiagent.AgentDefinition, registers each into a Registry, and
// registers the handoff/delegation tools the root agent (and every
// sub-agent, since they share the same registry) needs to reach them
// back into toolset. A nil registry is returned when no sub-agents are
// configured, so the caller can skip wiring root.Handoffs entirely.
func buildMultiAgent(cfg *rtconfig.Config, toolset *agent.ToolRegistry, provider agent.LLMProvider, loop *agent.AgenticLoop, telemetry *observability.TelemetryBus, window agent.WindowStrategy, logger *slog.Logger) (*multiagent.Registry, *multiagent.SubagentRegistry, error) {
	defs := cfg.MultiAgent.Agents
	if len(defs) == 0 {
		return nil, nil, nil
	}

	registry := multiagent.NewRegistry()
	for i := range defs {
		def := defs[i]
		sub := &agent.Agent{
			Name:      def.Name,
			Tools:     subAgentToolset(toolset, def.Tools),
			Provider:  provider,
			Model:     def.Model,
			MaxTokens: cfg.ContextWindow.MaxTokens,
			MaxTurns:  def.MaxIterations,
			Counter:   agentcontext.DefaultTokenCounter{},
			Window:    window,
			Telemetry: telemetry,
		}
		if def.SystemPrompt != "" {
			sub.Instructions = def.SystemPrompt
		}
		if err := registry.Register(&def, sub); err != nil {
			return nil, nil, fmt.Errorf("register agent %s: %w", def.ID, err)
		}
		logger.Info("registered sub-agent", "id", def.ID, "name", def.Name,
			"can_receive_handoffs", def.CanReceiveHandoffs, "can_be_subagent", def.CanBeSubAgent)
	}

	if err := toolset.Register(multiagent.NewHandoffTool(registry)); err != nil {
		return nil, nil, fmt.Errorf("register handoff tool: %w", err)
	}
	if err := toolset.Register(multiagent.NewReturnTool(registry)); err != nil {
		return nil, nil, fmt.Errorf("register return tool: %w", err)
	}
	if err := toolset.Register(multiagent.NewListAgentsTool(registry)); err != nil {
		return nil, nil, fmt.Errorf("register list-agents tool: %w", err)
	}

	runs := multiagent.NewSubagentRegistry(multiagent.DefaultSubagentRegistryConfig())
	for _, entry := range registry.List() {
		if !entry.Definition.CanBeSubAgent {
			continue
		}
		tool, err := multiagent.NewSubAgentTool(registry, loop, entry.Definition.ID, cfg.MultiAgent.SubAgentTimeout, runs)
		if err != nil {
			return nil, nil, fmt.Errorf("build sub-agent tool for %s: %w", entry.Definition.ID, err)
		}
		if err := toolset.Register(tool); err != nil {
			return nil, nil, fmt.Errorf("register sub-agent tool for %s: %w", entry.Definition.ID, err)
		}
	}

	return registry, runs, nil
}

// subAgentToolset restricts a sub-agent to the named tools, falling
// back to the full shared registry when none are listed.
func subAgentToolset(full *agent.ToolRegistry, names []string) *agent.ToolRegistry {
	if len(names) == 0 {
		return full
	}
	scoped := agent.NewToolRegistry()
	for _, name := range names {
		tool, ok := full.Get(name)
		if !ok {
			continue
		}
		_ = scoped.Register(tool)
	}
	return scoped
}
