package batching

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fendari/agentrt/pkg/models"
)

type memDedupeStore struct {
	mu        sync.Mutex
	processed map[string]time.Time
}

func newMemDedupeStore() *memDedupeStore {
	return &memDedupeStore{processed: make(map[string]time.Time)}
}

func (s *memDedupeStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[messageID]
	return ok, nil
}

func (s *memDedupeStore) MarkProcessed(ctx context.Context, messageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range messageIDs {
		s.processed[id] = time.Now()
	}
	return nil
}

func (s *memDedupeStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, ts := range s.processed {
		if ts.Before(olderThan) {
			delete(s.processed, id)
			n++
		}
	}
	return n, nil
}

func (s *memDedupeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processed)
}

type recordingProcessor struct {
	mu      sync.Mutex
	batches [][]models.Message
	fail    int
	calls   int
	done    chan struct{}
}

func (p *recordingProcessor) Process(ctx context.Context, userID string, messages []models.Message, bctx BatchContext) error {
	p.mu.Lock()
	p.calls++
	shouldFail := p.fail > 0
	if shouldFail {
		p.fail--
	}
	p.mu.Unlock()

	if shouldFail {
		return errFake
	}

	p.mu.Lock()
	p.batches = append(p.batches, messages)
	p.mu.Unlock()
	if p.done != nil {
		p.done <- struct{}{}
	}
	return nil
}

var errFake = &fakeError{"simulated processor failure"}

type fakeError struct{ msg string }

func (e *fakeError) Error() string { return e.msg }

func TestBatchingService_ReceiveAndDispatch(t *testing.T) {
	processor := &recordingProcessor{done: make(chan struct{}, 1)}
	dedupe := newMemDedupeStore()

	svc := NewBatchingService(ServiceConfig{
		BufferCapacity:      10,
		Backpressure:        DropNew,
		SilenceThreshold:    20 * time.Millisecond,
		AdaptiveTimeout:     time.Hour,
		MaintenanceSchedule: "",
	}, processor, dedupe, nil)

	if err := svc.ReceiveMessage(context.Background(), models.Message{UserID: "u1", MessageID: "m1", Content: "hi"}); err != nil {
		t.Fatalf("ReceiveMessage() error = %v", err)
	}

	select {
	case <-processor.done:
	case <-time.After(time.Second):
		t.Fatal("batch was never processed")
	}

	if dedupe.count() != 1 {
		t.Errorf("dedupe store has %d entries, want 1", dedupe.count())
	}
}

func TestBatchingService_DedupeDropsRedelivery(t *testing.T) {
	processor := &recordingProcessor{done: make(chan struct{}, 2)}
	dedupe := newMemDedupeStore()
	dedupe.MarkProcessed(context.Background(), []string{"m1"})

	svc := NewBatchingService(ServiceConfig{
		BufferCapacity:   10,
		Backpressure:     DropNew,
		SilenceThreshold: 20 * time.Millisecond,
		AdaptiveTimeout:  time.Hour,
	}, processor, dedupe, nil)

	svc.ReceiveMessage(context.Background(), models.Message{UserID: "u1", MessageID: "m1", Content: "hi"})

	select {
	case <-processor.done:
		t.Fatal("processor should not be invoked for an already-processed message id")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBatchingService_RateLimitDeniesAndNotifies(t *testing.T) {
	processor := &recordingProcessor{}
	notifier := &recordingNotifier{}

	svc := NewBatchingService(ServiceConfig{
		BufferCapacity:   10,
		SilenceThreshold: time.Hour,
		AdaptiveTimeout:  time.Hour,
		Limiter:          HybridLimiterConfig{Capacity: 1, RefillPerMinute: 1, WindowMax: 100, WindowSeconds: 60},
	}, processor, nil, notifier)

	ctx := context.Background()
	svc.ReceiveMessage(ctx, models.Message{UserID: "u1", MessageID: "m1"})
	svc.ReceiveMessage(ctx, models.Message{UserID: "u1", MessageID: "m2"})

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.events) != 1 {
		t.Errorf("notifier received %d events, want 1 (the rate-limited second message)", len(notifier.events))
	}
}

func TestBatchingService_RetriesOnProcessorFailure(t *testing.T) {
	processor := &recordingProcessor{fail: 2, done: make(chan struct{}, 1)}

	svc := NewBatchingService(ServiceConfig{
		BufferCapacity:   10,
		SilenceThreshold: 10 * time.Millisecond,
		AdaptiveTimeout:  time.Hour,
		ErrorHandling: ErrorHandlingStrategy{
			MaxRetries:   3,
			InitialDelay: 5 * time.Millisecond,
			Multiplier:   1.0,
			MaxDelay:     20 * time.Millisecond,
		},
	}, processor, nil, nil)

	svc.ReceiveMessage(context.Background(), models.Message{UserID: "u1", MessageID: "m1"})

	select {
	case <-processor.done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch was never processed after retries")
	}

	processor.mu.Lock()
	defer processor.mu.Unlock()
	if processor.calls != 3 {
		t.Errorf("processor was called %d times, want 3 (2 failures + 1 success)", processor.calls)
	}
}

func TestBatchingService_TerminalHandlerAfterRetriesExhausted(t *testing.T) {
	terminalCalled := make(chan struct{}, 1)
	processor := &recordingProcessor{fail: 100}

	svc := NewBatchingService(ServiceConfig{
		BufferCapacity:   10,
		SilenceThreshold: 10 * time.Millisecond,
		AdaptiveTimeout:  time.Hour,
		ErrorHandling: ErrorHandlingStrategy{
			MaxRetries:   1,
			InitialDelay: 5 * time.Millisecond,
			Multiplier:   1.0,
			MaxDelay:     10 * time.Millisecond,
			Terminal: func(ctx context.Context, userID string, messages []models.Message, bctx BatchContext, err error) {
				terminalCalled <- struct{}{}
			},
		},
	}, processor, nil, nil)

	svc.ReceiveMessage(context.Background(), models.Message{UserID: "u1", MessageID: "m1"})

	select {
	case <-terminalCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("terminal handler was never invoked after retries were exhausted")
	}
}
