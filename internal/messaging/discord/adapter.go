// Package discord translates inbound Discord messages into the
// batching pipeline's narrow inbound shape.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/fendari/agentrt/internal/messaging"
	"github.com/fendari/agentrt/pkg/models"
)

// Config configures the Discord adapter.
type Config struct {
	Token string
}

// Adapter forwards Discord message-create events to a Sink. It does
// not send, edit, react, or otherwise talk back to Discord.
type Adapter struct {
	token   string
	sink    messaging.Sink
	logger  *slog.Logger
	session *discordgo.Session
}

var _ messaging.Adapter = (*Adapter)(nil)

// New creates a Discord adapter bound to sink.
func New(cfg Config, sink messaging.Sink, logger *slog.Logger) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord: token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		token:  cfg.Token,
		sink:   sink,
		logger: logger.With("adapter", "discord"),
	}, nil
}

// Start opens the Discord session and begins forwarding messages.
func (a *Adapter) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		return fmt.Errorf("discord: create session: %w", err)
	}
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessageCreate(ctx, m)
	})
	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	a.session = session
	a.logger.Info("discord adapter started")
	return nil
}

// Stop closes the Discord session.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.session == nil {
		return nil
	}
	return a.session.Close()
}

func (a *Adapter) handleMessageCreate(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.Content == "" {
		return
	}

	msg := models.Message{
		UserID:    m.Author.ID,
		MessageID: m.ID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}

	if err := a.sink.ReceiveMessage(ctx, msg); err != nil {
		a.logger.Error("receive message failed", "error", err, "message_id", m.ID)
	}
}
