package models

import (
	"testing"
	"time"
)

func TestMessage_Struct(t *testing.T) {
	now := time.Now()
	msg := Message{
		UserID:    "user-123",
		MessageID: "msg-456",
		Content:   "hello",
		Timestamp: now,
	}

	if msg.UserID != "user-123" {
		t.Errorf("UserID = %q, want %q", msg.UserID, "user-123")
	}
	if msg.MessageID != "msg-456" {
		t.Errorf("MessageID = %q, want %q", msg.MessageID, "msg-456")
	}
	if msg.Content != "hello" {
		t.Errorf("Content = %q, want %q", msg.Content, "hello")
	}
	if !msg.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", msg.Timestamp, now)
	}
}

func TestMessage_DuplicateDetectionKey(t *testing.T) {
	a := Message{UserID: "u1", MessageID: "m1", Content: "first"}
	b := Message{UserID: "u1", MessageID: "m1", Content: "second"}

	if a.MessageID != b.MessageID {
		t.Fatalf("expected equal MessageID to mark duplicates")
	}
}
