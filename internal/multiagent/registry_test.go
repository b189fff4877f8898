package multiagent

import (
	"testing"

	"github.com/fendari/agentrt/internal/agent"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	def := &AgentDefinition{ID: "researcher", Name: "Researcher", CanReceiveHandoffs: true}
	a := &agent.Agent{Name: "researcher"}

	if err := reg.Register(def, a); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	entry, ok := reg.Get("researcher")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if entry.Agent != a {
		t.Error("Get() returned a different *agent.Agent than was registered")
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	def := &AgentDefinition{ID: "researcher", Name: "Researcher"}

	if err := reg.Register(def, &agent.Agent{}); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if err := reg.Register(def, &agent.Agent{}); err == nil {
		t.Error("second Register() with same ID should return an error")
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(&AgentDefinition{}, &agent.Agent{}); err == nil {
		t.Error("Register() with empty ID should return an error")
	}
	if err := reg.Register(&AgentDefinition{ID: "a"}, nil); err == nil {
		t.Error("Register() with nil agent should return an error")
	}
}

func TestRegistry_RegisterClonesDefinition(t *testing.T) {
	reg := NewRegistry()
	def := &AgentDefinition{ID: "researcher", Name: "Researcher", Tools: []string{"search"}}

	if err := reg.Register(def, &agent.Agent{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	def.Tools[0] = "mutated"

	entry, _ := reg.Get("researcher")
	if entry.Definition.Tools[0] != "search" {
		t.Error("Register() did not clone the definition, mutation leaked through")
	}
}

func TestRegistry_List(t *testing.T) {
	reg := NewRegistry()
	ids := []string{"a1", "a2", "a3"}
	for _, id := range ids {
		if err := reg.Register(&AgentDefinition{ID: id, Name: id}, &agent.Agent{}); err != nil {
			t.Fatalf("Register(%s) error = %v", id, err)
		}
	}

	entries := reg.List()
	if len(entries) != len(ids) {
		t.Fatalf("List() length = %d, want %d", len(entries), len(ids))
	}
	for i, id := range ids {
		if entries[i].Definition.ID != id {
			t.Errorf("List()[%d].Definition.ID = %q, want %q (registration order not preserved)", i, entries[i].Definition.ID, id)
		}
	}
}

func TestRegistry_find(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&AgentDefinition{ID: "code-agent", Name: "Code Agent"}, &agent.Agent{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		name       string
		identifier string
		wantFound  bool
	}{
		{"exact ID", "code-agent", true},
		{"case-insensitive ID", "CODE-AGENT", true},
		{"case-insensitive name", "code agent", true},
		{"partial name", "code", true},
		{"whitespace padded", "  code-agent  ", true},
		{"unknown", "nope", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := reg.find(tt.identifier)
			if ok != tt.wantFound {
				t.Errorf("find(%q) ok = %v, want %v", tt.identifier, ok, tt.wantFound)
			}
		})
	}
}

func TestRegistry_Resolve(t *testing.T) {
	reg := NewRegistry()
	receiving := &agent.Agent{Name: "receiving"}
	if err := reg.Register(&AgentDefinition{ID: "receiving", Name: "Receiving", CanReceiveHandoffs: true}, receiving); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register(&AgentDefinition{ID: "sealed", Name: "Sealed", CanReceiveHandoffs: false}, &agent.Agent{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, ok := reg.Resolve("receiving")
	if !ok || got != receiving {
		t.Errorf("Resolve(\"receiving\") = (%v, %v), want (%v, true)", got, ok, receiving)
	}

	if _, ok := reg.Resolve("sealed"); ok {
		t.Error("Resolve(\"sealed\") ok = true, want false (CanReceiveHandoffs is false)")
	}

	if _, ok := reg.Resolve("nope"); ok {
		t.Error("Resolve(\"nope\") ok = true, want false")
	}
}

// compile-time assertion that Registry satisfies agent.Handoff.
var _ agent.Handoff = (*Registry)(nil)
