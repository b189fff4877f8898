// Package slack translates inbound Slack messages into the batching
// pipeline's narrow inbound shape.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/fendari/agentrt/internal/messaging"
	"github.com/fendari/agentrt/pkg/models"
)

// Config configures the Slack adapter.
type Config struct {
	BotToken string // xoxb- token for API calls
	AppToken string // xapp- token for Socket Mode
}

// Adapter forwards Slack DM and mention events to a Sink over Socket
// Mode. It does not send, react, or otherwise talk back to Slack.
type Adapter struct {
	client       *slack.Client
	socketClient *socketmode.Client
	sink         messaging.Sink
	logger       *slog.Logger
	botUserID    string
	cancel       context.CancelFunc
}

var _ messaging.Adapter = (*Adapter)(nil)

// New creates a Slack adapter bound to sink.
func New(cfg Config, sink messaging.Sink, logger *slog.Logger) (*Adapter, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: bot token and app token are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	socketClient := socketmode.New(client)

	return &Adapter{
		client:       client,
		socketClient: socketClient,
		sink:         sink,
		logger:       logger.With("adapter", "slack"),
	}, nil
}

// Start resolves the bot's own user id, begins Socket Mode, and runs
// the event loop until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) error {
	authResp, err := a.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = authResp.UserID

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go a.handleEvents(runCtx)

	a.logger.Info("slack adapter started")
	return a.socketClient.RunContext(runCtx)
}

// Stop cancels the event loop.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

func (a *Adapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-a.socketClient.Events:
			if !ok {
				return
			}
			if event.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			a.handleEventsAPI(ctx, event)
		}
	}
}

func (a *Adapter) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if event.Request != nil {
		a.socketClient.Ack(*event.Request)
	}

	if eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		a.handleMessage(ctx, ev.User, ev.Text, ev.Channel, ev.TimeStamp, ev.ThreadTimeStamp)
	case *slackevents.MessageEvent:
		if ev.BotID != "" {
			return
		}
		if ev.SubType != "" && ev.SubType != "file_share" {
			return
		}
		a.handleMessage(ctx, ev.User, ev.Text, ev.Channel, ev.TimeStamp, ev.ThreadTimeStamp)
	}
}

func (a *Adapter) handleMessage(ctx context.Context, userID, text, channel, ts, threadTS string) {
	isDM := strings.HasPrefix(channel, "D")
	isMention := strings.Contains(text, fmt.Sprintf("<@%s>", a.botUserID))
	if !isDM && !isMention && threadTS == "" {
		return
	}
	if text == "" {
		return
	}

	msg := models.Message{
		UserID:    userID,
		MessageID: ts,
		Content:   text,
		Timestamp: timeFromSlackTS(ts),
	}

	if err := a.sink.ReceiveMessage(ctx, msg); err != nil {
		a.logger.Error("receive message failed", "error", err, "message_id", ts)
	}
}

// timeFromSlackTS parses a Slack event timestamp of the form
// "1234567890.123456" (seconds.microseconds). An unparseable
// timestamp yields the zero time.
func timeFromSlackTS(ts string) time.Time {
	seconds, fraction, found := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(seconds, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nsec int64
	if found {
		if micros, err := strconv.ParseInt(fraction, 10, 64); err == nil {
			nsec = micros * int64(time.Microsecond)
		}
	}
	return time.Unix(sec, nsec)
}
