// Package telegram translates inbound Telegram messages into the
// batching pipeline's narrow inbound shape.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/fendari/agentrt/internal/messaging"
	"github.com/fendari/agentrt/pkg/models"
)

// Config configures the Telegram adapter.
type Config struct {
	Token string
}

// Adapter forwards Telegram text updates to a Sink via long polling.
// It does not send, edit, or otherwise talk back to Telegram.
type Adapter struct {
	token  string
	sink   messaging.Sink
	logger *slog.Logger
	bot    *tgbot.Bot
}

var _ messaging.Adapter = (*Adapter)(nil)

// New creates a Telegram adapter bound to sink.
func New(cfg Config, sink messaging.Sink, logger *slog.Logger) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		token:  cfg.Token,
		sink:   sink,
		logger: logger.With("adapter", "telegram"),
	}, nil
}

// Start creates the bot client, registers the text handler, and begins
// long polling. It blocks until ctx is cancelled, so callers should run
// it in its own goroutine.
func (a *Adapter) Start(ctx context.Context) error {
	b, err := tgbot.New(a.token, tgbot.WithDefaultHandler(a.handleUpdate))
	if err != nil {
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	a.bot = b
	a.logger.Info("telegram adapter started")
	b.Start(ctx)
	return nil
}

// Stop is a no-op beyond context cancellation: Start already returns
// once ctx is done.
func (a *Adapter) Stop(ctx context.Context) error {
	return nil
}

func (a *Adapter) handleUpdate(ctx context.Context, _ *tgbot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.Text == "" || update.Message.From == nil {
		return
	}

	msg := models.Message{
		UserID:    strconv.FormatInt(update.Message.From.ID, 10),
		MessageID: strconv.Itoa(update.Message.ID),
		Content:   update.Message.Text,
		Timestamp: timeFromUnix(update.Message.Date),
	}

	if err := a.sink.ReceiveMessage(ctx, msg); err != nil {
		a.logger.Error("receive message failed", "error", err, "message_id", msg.MessageID)
	}
}
