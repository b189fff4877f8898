// Package whatsapp translates inbound WhatsApp messages into the
// batching pipeline's narrow inbound shape.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/fendari/agentrt/internal/messaging"
	"github.com/fendari/agentrt/pkg/models"
)

// Config configures the WhatsApp adapter.
type Config struct {
	// SessionDSN is the sqlite3 DSN backing the whatsmeow device store,
	// e.g. "file:whatsapp.db?_foreign_keys=on".
	SessionDSN string
}

// Adapter forwards inbound WhatsApp text messages to a Sink. It does
// not send, react, or otherwise talk back to WhatsApp; login QR codes
// are logged, not surfaced through any other channel.
type Adapter struct {
	cfg    Config
	sink   messaging.Sink
	logger *slog.Logger
	client *whatsmeow.Client
	cancel context.CancelFunc
}

var _ messaging.Adapter = (*Adapter)(nil)

// New creates a WhatsApp adapter bound to sink.
func New(cfg Config, sink messaging.Sink, logger *slog.Logger) (*Adapter, error) {
	if cfg.SessionDSN == "" {
		return nil, fmt.Errorf("whatsapp: session dsn is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("adapter", "whatsapp"),
	}, nil
}

// Start opens the device store, connects, and begins forwarding
// inbound text messages. If the device has never authenticated, a QR
// login code is logged rather than acted on automatically.
func (a *Adapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	container, err := sqlstore.New(runCtx, "sqlite3", a.cfg.SessionDSN, waLog.Noop)
	if err != nil {
		return fmt.Errorf("whatsapp: open device store: %w", err)
	}

	device, err := container.GetFirstDevice(runCtx)
	if err != nil {
		return fmt.Errorf("whatsapp: get device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	client.AddEventHandler(func(evt interface{}) {
		a.handleEvent(runCtx, evt)
	})
	a.client = client

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(runCtx)
		if err != nil {
			return fmt.Errorf("whatsapp: get qr channel: %w", err)
		}
		if err := client.Connect(); err != nil {
			return fmt.Errorf("whatsapp: connect: %w", err)
		}
		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					a.logger.Info("scan QR code to login", "code", evt.Code)
				}
			}
		}()
	} else if err := client.Connect(); err != nil {
		return fmt.Errorf("whatsapp: connect: %w", err)
	}

	a.logger.Info("whatsapp adapter started")
	return nil
}

// Stop disconnects the whatsmeow client.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.client != nil {
		a.client.Disconnect()
	}
	return nil
}

func (a *Adapter) handleEvent(ctx context.Context, evt interface{}) {
	m, ok := evt.(*events.Message)
	if !ok {
		return
	}
	if m.Info.Chat.Server == "broadcast" {
		return
	}

	content := extractText(m)
	if content == "" {
		return
	}

	msg := models.Message{
		UserID:    m.Info.Sender.String(),
		MessageID: m.Info.ID,
		Content:   content,
		Timestamp: m.Info.Timestamp,
	}

	if err := a.sink.ReceiveMessage(ctx, msg); err != nil {
		a.logger.Error("receive message failed", "error", err, "message_id", msg.MessageID)
	}
}

func extractText(m *events.Message) string {
	if m.Message.Conversation != nil {
		return *m.Message.Conversation
	}
	if m.Message.ExtendedTextMessage != nil {
		return m.Message.ExtendedTextMessage.GetText()
	}
	return ""
}
