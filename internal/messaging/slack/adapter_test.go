package slack

import (
	"context"
	"testing"

	"github.com/fendari/agentrt/pkg/models"
)

type fakeSink struct {
	received []models.Message
}

func (s *fakeSink) ReceiveMessage(_ context.Context, msg models.Message) error {
	s.received = append(s.received, msg)
	return nil
}

func TestNew_RequiresBothTokens(t *testing.T) {
	if _, err := New(Config{BotToken: "xoxb-1"}, &fakeSink{}, nil); err == nil {
		t.Error("New() without an app token should error")
	}
}

func TestHandleMessage_SkipsChannelMessages(t *testing.T) {
	sink := &fakeSink{}
	a := &Adapter{sink: sink, botUserID: "B1"}

	a.handleMessage(context.Background(), "u1", "hello channel", "C1234", "1700000000.000100", "")

	if len(sink.received) != 0 {
		t.Errorf("handleMessage() forwarded an untargeted channel message, got %d calls", len(sink.received))
	}
}

func TestHandleMessage_ForwardsDirectMessage(t *testing.T) {
	sink := &fakeSink{}
	a := &Adapter{sink: sink, botUserID: "B1"}

	a.handleMessage(context.Background(), "u1", "hello", "D1234", "1700000000.000100", "")

	if len(sink.received) != 1 {
		t.Fatalf("handleMessage() forwarded %d messages, want 1", len(sink.received))
	}
	got := sink.received[0]
	if got.UserID != "u1" || got.MessageID != "1700000000.000100" || got.Content != "hello" {
		t.Errorf("handleMessage() forwarded %+v, want matching user/message/content", got)
	}
}

func TestHandleMessage_ForwardsMention(t *testing.T) {
	sink := &fakeSink{}
	a := &Adapter{sink: sink, botUserID: "B1"}

	a.handleMessage(context.Background(), "u1", "<@B1> help me", "C1234", "1700000000.000100", "")

	if len(sink.received) != 1 {
		t.Errorf("handleMessage() did not forward a mention, got %d calls", len(sink.received))
	}
}

func TestTimeFromSlackTS(t *testing.T) {
	got := timeFromSlackTS("1700000000.000100")
	if got.Unix() != 1700000000 {
		t.Errorf("timeFromSlackTS() unix = %d, want 1700000000", got.Unix())
	}
}

func TestTimeFromSlackTS_Invalid(t *testing.T) {
	got := timeFromSlackTS("not-a-timestamp")
	if !got.IsZero() {
		t.Errorf("timeFromSlackTS() = %v, want zero time for invalid input", got)
	}
}
