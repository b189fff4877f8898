package discord

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/fendari/agentrt/pkg/models"
)

type fakeSink struct {
	received []models.Message
}

func (s *fakeSink) ReceiveMessage(_ context.Context, msg models.Message) error {
	s.received = append(s.received, msg)
	return nil
}

func TestNew_RequiresToken(t *testing.T) {
	if _, err := New(Config{}, &fakeSink{}, nil); err == nil {
		t.Error("New() with empty token should error")
	}
}

func TestHandleMessageCreate_SkipsBotAuthors(t *testing.T) {
	sink := &fakeSink{}
	a := &Adapter{sink: sink, logger: slog.Default()}

	a.handleMessageCreate(context.Background(), &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:      "m1",
			Content: "hello",
			Author:  &discordgo.User{ID: "u1", Bot: true},
		},
	})

	if len(sink.received) != 0 {
		t.Errorf("handleMessageCreate() forwarded a bot message, got %d calls", len(sink.received))
	}
}

func TestHandleMessageCreate_SkipsEmptyContent(t *testing.T) {
	sink := &fakeSink{}
	a := &Adapter{sink: sink, logger: slog.Default()}

	a.handleMessageCreate(context.Background(), &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:      "m1",
			Content: "",
			Author:  &discordgo.User{ID: "u1"},
		},
	})

	if len(sink.received) != 0 {
		t.Errorf("handleMessageCreate() forwarded an empty message, got %d calls", len(sink.received))
	}
}

func TestHandleMessageCreate_ForwardsUserMessage(t *testing.T) {
	sink := &fakeSink{}
	a := &Adapter{sink: sink, logger: slog.Default()}

	now := time.Now()
	a.handleMessageCreate(context.Background(), &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        "m1",
			Content:   "hello",
			Author:    &discordgo.User{ID: "u1"},
			Timestamp: now,
		},
	})

	if len(sink.received) != 1 {
		t.Fatalf("handleMessageCreate() forwarded %d messages, want 1", len(sink.received))
	}
	got := sink.received[0]
	if got.UserID != "u1" || got.MessageID != "m1" || got.Content != "hello" {
		t.Errorf("handleMessageCreate() forwarded %+v, want matching user/message/content", got)
	}
}
