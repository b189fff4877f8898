package batching

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fendari/agentrt/pkg/models"
)

func msg(id string) models.Message {
	return models.Message{UserID: "u1", MessageID: id, Content: id, Timestamp: time.Now()}
}

func TestUserBuffer_SilenceFlush(t *testing.T) {
	var mu sync.Mutex
	var got []models.Message
	flushed := make(chan struct{}, 1)

	buf := newUserBuffer("u1", UserBufferConfig{
		Capacity:         10,
		Backpressure:     DropNew,
		SilenceThreshold: 20 * time.Millisecond,
		AdaptiveTimeout:  time.Hour,
		Dispatch: func(reason FlushReason, messages []models.Message) {
			mu.Lock()
			got = messages
			mu.Unlock()
			flushed <- struct{}{}
		},
	})

	outcome, err := buf.Enqueue(context.Background(), msg("m1"))
	if err != nil || outcome != OutcomeAccepted {
		t.Fatalf("Enqueue() = (%v, %v), want (accepted, nil)", outcome, err)
	}

	select {
	case <-flushed:
	case <-time.After(time.Second):
		t.Fatal("silence timer never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].MessageID != "m1" {
		t.Errorf("flushed messages = %+v, want [m1]", got)
	}
}

func TestUserBuffer_NewMessageResetsSilenceTimer(t *testing.T) {
	flushed := make(chan []models.Message, 1)
	buf := newUserBuffer("u1", UserBufferConfig{
		Capacity:         10,
		Backpressure:     DropNew,
		SilenceThreshold: 40 * time.Millisecond,
		AdaptiveTimeout:  time.Hour,
		Dispatch: func(reason FlushReason, messages []models.Message) {
			flushed <- messages
		},
	})

	buf.Enqueue(context.Background(), msg("m1"))
	time.Sleep(20 * time.Millisecond)
	buf.Enqueue(context.Background(), msg("m2"))

	select {
	case got := <-flushed:
		if len(got) != 2 {
			t.Errorf("flushed batch = %+v, want both messages together", got)
		}
	case <-time.After(time.Second):
		t.Fatal("silence timer never fired")
	}
}

func TestUserBuffer_MaxTimeoutFiresDespiteActivity(t *testing.T) {
	flushed := make(chan []models.Message, 1)
	buf := newUserBuffer("u1", UserBufferConfig{
		Capacity:         10,
		Backpressure:     DropNew,
		SilenceThreshold: 30 * time.Millisecond,
		AdaptiveTimeout:  50 * time.Millisecond,
		Dispatch: func(reason FlushReason, messages []models.Message) {
			flushed <- messages
		},
	})

	stop := time.After(45 * time.Millisecond)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
loop:
	for i := 0; ; i++ {
		select {
		case <-stop:
			break loop
		case <-tick.C:
			buf.Enqueue(context.Background(), msg("keepalive"))
		}
	}

	select {
	case <-flushed:
	case <-time.After(time.Second):
		t.Fatal("max timeout never fired despite continuous activity")
	}
}

func TestUserBuffer_DropNew(t *testing.T) {
	buf := newUserBuffer("u1", UserBufferConfig{
		Capacity:         1,
		Backpressure:     DropNew,
		SilenceThreshold: time.Hour,
		AdaptiveTimeout:  time.Hour,
	})

	buf.Enqueue(context.Background(), msg("m1"))
	outcome, _ := buf.Enqueue(context.Background(), msg("m2"))
	if outcome != OutcomeDroppedNew {
		t.Errorf("Enqueue() over capacity with DropNew = %v, want dropped_new", outcome)
	}
	if buf.Len() != 1 {
		t.Errorf("Len() = %d, want 1", buf.Len())
	}
}

func TestUserBuffer_DropOldest(t *testing.T) {
	flushed := make(chan []models.Message, 1)
	buf := newUserBuffer("u1", UserBufferConfig{
		Capacity:         2,
		Backpressure:     DropOldest,
		SilenceThreshold: time.Hour,
		AdaptiveTimeout:  time.Hour,
		Dispatch:         func(reason FlushReason, messages []models.Message) { flushed <- messages },
	})

	buf.Enqueue(context.Background(), msg("m1"))
	buf.Enqueue(context.Background(), msg("m2"))
	outcome, _ := buf.Enqueue(context.Background(), msg("m3"))
	if outcome != OutcomeAccepted {
		t.Fatalf("Enqueue() with DropOldest over capacity = %v, want accepted", outcome)
	}

	buf.FlushNow()
	got := <-flushed
	if len(got) != 2 || got[0].MessageID != "m2" || got[1].MessageID != "m3" {
		t.Errorf("flushed = %+v, want [m2 m3] (m1 evicted)", got)
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) Notify(ctx context.Context, userID string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, reason)
}

func TestUserBuffer_RejectWithNotification(t *testing.T) {
	notifier := &recordingNotifier{}
	buf := newUserBuffer("u1", UserBufferConfig{
		Capacity:         1,
		Backpressure:     RejectWithNotification,
		SilenceThreshold: time.Hour,
		AdaptiveTimeout:  time.Hour,
		Notifier:         notifier,
	})

	buf.Enqueue(context.Background(), msg("m1"))
	outcome, _ := buf.Enqueue(context.Background(), msg("m2"))
	if outcome != OutcomeRejectedNotified {
		t.Errorf("Enqueue() = %v, want rejected_notified", outcome)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.events) != 1 {
		t.Errorf("notifier received %d events, want 1", len(notifier.events))
	}
}

func TestUserBuffer_FlushAndAccept(t *testing.T) {
	flushed := make(chan []models.Message, 1)
	buf := newUserBuffer("u1", UserBufferConfig{
		Capacity:         1,
		Backpressure:     FlushAndAccept,
		SilenceThreshold: time.Hour,
		AdaptiveTimeout:  time.Hour,
		Dispatch:         func(reason FlushReason, messages []models.Message) { flushed <- messages },
	})

	buf.Enqueue(context.Background(), msg("m1"))
	outcome, _ := buf.Enqueue(context.Background(), msg("m2"))
	if outcome != OutcomeFlushedAndAccepted {
		t.Fatalf("Enqueue() = %v, want flushed_and_accepted", outcome)
	}

	select {
	case got := <-flushed:
		if len(got) != 1 || got[0].MessageID != "m1" {
			t.Errorf("immediately-dispatched batch = %+v, want [m1]", got)
		}
	case <-time.After(time.Second):
		t.Fatal("FLUSH_AND_ACCEPT should dispatch the old buffer synchronously")
	}
	if buf.Len() != 1 {
		t.Errorf("Len() after FLUSH_AND_ACCEPT = %d, want 1 (m2 started the new buffer)", buf.Len())
	}
}

func TestUserBuffer_BlockUntilSpace(t *testing.T) {
	buf := newUserBuffer("u1", UserBufferConfig{
		Capacity:         1,
		Backpressure:     BlockUntilSpace,
		SilenceThreshold: time.Hour,
		AdaptiveTimeout:  time.Hour,
	})

	buf.Enqueue(context.Background(), msg("m1"))

	done := make(chan EnqueueOutcome, 1)
	go func() {
		outcome, _ := buf.Enqueue(context.Background(), msg("m2"))
		done <- outcome
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Enqueue() with BLOCK_UNTIL_SPACE should still be blocked")
	default:
	}

	buf.FlushNow()

	select {
	case outcome := <-done:
		if outcome != OutcomeAccepted {
			t.Errorf("Enqueue() after space freed = %v, want accepted", outcome)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Enqueue() never unblocked after FlushNow")
	}
}

func TestUserBuffer_BlockUntilSpace_ContextCancelled(t *testing.T) {
	buf := newUserBuffer("u1", UserBufferConfig{
		Capacity:         1,
		Backpressure:     BlockUntilSpace,
		SilenceThreshold: time.Hour,
		AdaptiveTimeout:  time.Hour,
	})

	buf.Enqueue(context.Background(), msg("m1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := buf.Enqueue(ctx, msg("m2"))
	if err == nil {
		t.Error("Enqueue() should return an error once its context is cancelled while blocked")
	}
}
