package multiagent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fendari/agentrt/internal/agent"
)

// RegistryEntry pairs a runnable Agent with the metadata other agents
// need to discover and address it.
type RegistryEntry struct {
	Definition *AgentDefinition
	Agent      *agent.Agent
}

// Registry holds every agent known to a runtime, keyed by ID and name,
// and resolves handoff/delegation targets by either. It implements
// agent.Handoff so it can be plugged directly into Agent.Handoffs.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*RegistryEntry
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*RegistryEntry)}
}

// Register adds an agent to the registry. Registering a second agent
// under an ID already present returns an error.
func (r *Registry) Register(def *AgentDefinition, a *agent.Agent) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("agent definition must have a non-empty ID")
	}
	if a == nil {
		return fmt.Errorf("agent must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[def.ID]; exists {
		return fmt.Errorf("agent already registered: %s", def.ID)
	}

	r.entries[def.ID] = &RegistryEntry{Definition: def.Clone(), Agent: a}
	r.order = append(r.order, def.ID)
	return nil
}

// Get returns an agent's registry entry by ID.
func (r *Registry) Get(id string) (*RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return entry, ok
}

// List returns all registry entries in registration order.
func (r *Registry) List() []*RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*RegistryEntry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, r.entries[id])
	}
	return entries
}

// find resolves an identifier to a registry entry using a three-tier
// match: exact ID, case-insensitive ID or name, then partial name.
func (r *Registry) find(identifier string) (*RegistryEntry, bool) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.entries[identifier]; ok {
		return entry, true
	}

	lower := strings.ToLower(identifier)
	for _, id := range r.order {
		entry := r.entries[id]
		if strings.ToLower(entry.Definition.ID) == lower || strings.ToLower(entry.Definition.Name) == lower {
			return entry, true
		}
	}

	for _, id := range r.order {
		entry := r.entries[id]
		if strings.Contains(strings.ToLower(entry.Definition.Name), lower) {
			return entry, true
		}
	}

	return nil, false
}

// Resolve implements agent.Handoff: it finds an agent by name and
// refuses to hand control to one that hasn't opted into receiving it.
func (r *Registry) Resolve(name string) (*agent.Agent, bool) {
	entry, ok := r.find(name)
	if !ok || !entry.Definition.CanReceiveHandoffs {
		return nil, false
	}
	return entry.Agent, true
}
