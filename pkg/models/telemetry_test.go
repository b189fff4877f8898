package models

import "testing"

func TestTelemetryEvent_Struct(t *testing.T) {
	ev := TelemetryEvent{
		Kind:           ResponseStarted,
		SessionID:      "sess-1",
		TraceID:        "0123456789abcdef0123456789abcdef",
		SpanID:         "0123456789abcdef",
		TimestampNanos: 1700000000000000000,
		Attributes:     map[string]any{"model": "claude-opus-4"},
	}

	if ev.Kind != ResponseStarted {
		t.Errorf("Kind = %v, want %v", ev.Kind, ResponseStarted)
	}
	if ev.ParentSpanID != "" {
		t.Errorf("ParentSpanID = %q, want empty for a root span", ev.ParentSpanID)
	}
	if ev.Attributes["model"] != "claude-opus-4" {
		t.Errorf("Attributes[model] = %v, want claude-opus-4", ev.Attributes["model"])
	}
}

func TestTelemetryKind_Variants(t *testing.T) {
	kinds := []TelemetryKind{ResponseStarted, ResponseCompleted, ResponseFailed, AgentFailed}
	seen := make(map[TelemetryKind]bool, len(kinds))
	for _, k := range kinds {
		if seen[k] {
			t.Fatalf("duplicate telemetry kind %q", k)
		}
		seen[k] = true
	}
}
