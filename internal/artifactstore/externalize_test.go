package artifactstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/fendari/agentrt/internal/agent"
)

func TestExternalize_LeavesSmallArtifactsInline(t *testing.T) {
	store := NewMemoryStore()
	artifacts := []agent.Artifact{
		{ID: "small", MimeType: "text/plain", Data: []byte("tiny")},
	}

	out, err := Externalize(context.Background(), store, artifacts)
	if err != nil {
		t.Fatalf("Externalize() error = %v", err)
	}
	if len(out) != 1 || string(out[0].Data) != "tiny" || out[0].URL != "" {
		t.Errorf("Externalize() = %+v, want unchanged small artifact", out)
	}
}

func TestExternalize_MovesLargeArtifactsToStore(t *testing.T) {
	store := NewMemoryStore()
	big := bytes.Repeat([]byte("x"), MaxInlineDataBytes+1)
	artifacts := []agent.Artifact{
		{ID: "big", MimeType: "application/octet-stream", Data: big},
	}

	out, err := Externalize(context.Background(), store, artifacts)
	if err != nil {
		t.Fatalf("Externalize() error = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("Externalize() returned %d artifacts, want 1", len(out))
	}
	if out[0].Data != nil {
		t.Error("Externalize() should clear Data for externalized artifacts")
	}
	if out[0].URL != "mem://big" {
		t.Errorf("Externalize() URL = %q, want mem://big", out[0].URL)
	}

	exists, err := store.Exists(context.Background(), "big")
	if err != nil || !exists {
		t.Errorf("Externalize() did not persist artifact in store: exists=%v err=%v", exists, err)
	}
}

func TestExternalize_DoesNotMutateInput(t *testing.T) {
	store := NewMemoryStore()
	big := bytes.Repeat([]byte("y"), MaxInlineDataBytes+1)
	artifacts := []agent.Artifact{{ID: "big2", Data: big}}

	if _, err := Externalize(context.Background(), store, artifacts); err != nil {
		t.Fatalf("Externalize() error = %v", err)
	}
	if artifacts[0].Data == nil {
		t.Error("Externalize() mutated the caller's input slice")
	}
}

func TestInline_ResolvesURLBackToData(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Put(ctx, "ref1", bytes.NewReader([]byte("payload")), PutOptions{})

	resolved, err := Inline(ctx, store, agent.Artifact{ID: "ref1", URL: "mem://ref1"})
	if err != nil {
		t.Fatalf("Inline() error = %v", err)
	}
	if string(resolved.Data) != "payload" {
		t.Errorf("Inline() Data = %q, want payload", resolved.Data)
	}
	if resolved.URL != "" {
		t.Error("Inline() should clear URL once resolved")
	}
}

func TestInline_LeavesInlineArtifactsUnchanged(t *testing.T) {
	store := NewMemoryStore()
	a := agent.Artifact{ID: "already-inline", Data: []byte("here")}

	resolved, err := Inline(context.Background(), store, a)
	if err != nil {
		t.Fatalf("Inline() error = %v", err)
	}
	if string(resolved.Data) != "here" {
		t.Errorf("Inline() Data = %q, want here", resolved.Data)
	}
}
