// Package observability provides logging, tracing, and event timeline
// capabilities. This file implements trace/span id generation and the
// TelemetryBus (§4.5): a pub/sub of immutable TelemetryEvent values where
// each subscribed processor owns a bounded FIFO and a worker.
package observability

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"
)

type spanContextKey struct{}

// SpanContext identifies one span within an interaction's trace: a
// traceId shared by every span in the interaction, this span's own
// spanId, and the spanId of whichever span started it (empty for the
// root span).
type SpanContext struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// newTraceID returns a 16-byte cryptographically-random id, hex-encoded.
func newTraceID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// newSpanID returns an 8-byte cryptographically-random id, hex-encoded.
func newSpanID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// StartRootSpan begins a new interaction: a fresh traceId and a root
// span with no parent, spanning loop-start to loop-end. Call once per
// AgenticLoop.Run/Resume invocation.
func StartRootSpan(ctx context.Context) (context.Context, *SpanContext) {
	sc := &SpanContext{TraceID: newTraceID(), SpanID: newSpanID()}
	return context.WithValue(ctx, spanContextKey{}, sc), sc
}

// StartChildSpan begins a new span under whatever span is current in
// ctx (the interaction's root span, typically), for one LLM call or one
// tool call. If ctx carries no span, the new span becomes its own root
// (a fresh traceId), so a child span is never silently orphaned.
func StartChildSpan(ctx context.Context) (context.Context, *SpanContext) {
	parent, _ := ctx.Value(spanContextKey{}).(*SpanContext)
	sc := &SpanContext{SpanID: newSpanID()}
	if parent != nil {
		sc.TraceID = parent.TraceID
		sc.ParentSpanID = parent.SpanID
	} else {
		sc.TraceID = newTraceID()
	}
	return context.WithValue(ctx, spanContextKey{}, sc), sc
}

// GetTraceID returns the current span's trace id, or "" if ctx carries
// no span.
func GetTraceID(ctx context.Context) string {
	if sc, ok := ctx.Value(spanContextKey{}).(*SpanContext); ok {
		return sc.TraceID
	}
	return ""
}

// GetSpanID returns the current span's own id, or "" if ctx carries no
// span.
func GetSpanID(ctx context.Context) string {
	if sc, ok := ctx.Value(spanContextKey{}).(*SpanContext); ok {
		return sc.SpanID
	}
	return ""
}

// GetParentSpanID returns the current span's parent id, which is empty
// for a root span or when ctx carries no span.
func GetParentSpanID(ctx context.Context) string {
	if sc, ok := ctx.Value(spanContextKey{}).(*SpanContext); ok {
		return sc.ParentSpanID
	}
	return ""
}

// TelemetryEventKind tags which variant of TelemetryEvent a value holds.
type TelemetryEventKind string

const (
	EventResponseStarted   TelemetryEventKind = "response_started"
	EventResponseCompleted TelemetryEventKind = "response_completed"
	EventResponseFailed    TelemetryEventKind = "response_failed"
	EventAgentFailed       TelemetryEventKind = "agent_failed"
)

// TelemetryEvent is the tagged variant pub/sub value (§4.5): one of
// ResponseStarted, ResponseCompleted, ResponseFailed, or AgentFailed.
// Events for a single span are published in (started, completed|failed)
// order; across spans no ordering is guaranteed.
type TelemetryEvent struct {
	Kind           TelemetryEventKind
	SessionID      string
	TraceID        string
	SpanID         string
	ParentSpanID   string
	TimestampNanos int64
	Attributes     map[string]any
}

// NewTelemetryEvent builds a TelemetryEvent stamped from sc and now,
// the shape every call site constructs before publishing.
func NewTelemetryEvent(kind TelemetryEventKind, sessionID string, sc *SpanContext, now time.Time, attributes map[string]any) TelemetryEvent {
	event := TelemetryEvent{
		Kind:           kind,
		SessionID:      sessionID,
		TimestampNanos: now.UnixNano(),
		Attributes:     attributes,
	}
	if sc != nil {
		event.TraceID = sc.TraceID
		event.SpanID = sc.SpanID
		event.ParentSpanID = sc.ParentSpanID
	}
	return event
}

// TelemetryProcessor consumes TelemetryEvents published to a
// TelemetryBus. Process runs on the processor's own dedicated worker
// goroutine, never concurrently with itself.
type TelemetryProcessor interface {
	Process(event TelemetryEvent)
}

// TelemetryProcessorFunc adapts a plain function to TelemetryProcessor.
type TelemetryProcessorFunc func(event TelemetryEvent)

func (f TelemetryProcessorFunc) Process(event TelemetryEvent) { f(event) }

// DefaultTelemetryQueueSize is the per-processor FIFO capacity a
// TelemetryBus uses when none is given.
const DefaultTelemetryQueueSize = 256

// TelemetryBus fans a published TelemetryEvent out to every subscribed
// processor. Each processor owns a bounded FIFO and a dedicated worker;
// Publish never blocks on a slow or stalled processor.
type TelemetryBus struct {
	mu         sync.Mutex
	processors []*busProcessor
	queueSize  int
}

// NewTelemetryBus creates a bus whose processors each get a FIFO of
// capacity queueSize (DefaultTelemetryQueueSize if queueSize <= 0).
func NewTelemetryBus(queueSize int) *TelemetryBus {
	if queueSize <= 0 {
		queueSize = DefaultTelemetryQueueSize
	}
	return &TelemetryBus{queueSize: queueSize}
}

// Subscribe registers processor and starts its worker goroutine. It may
// be called at any point in the bus's lifetime.
func (b *TelemetryBus) Subscribe(processor TelemetryProcessor) {
	bp := &busProcessor{
		processor: processor,
		queue:     make(chan TelemetryEvent, b.queueSize),
		stop:      make(chan struct{}),
	}
	bp.wg.Add(1)
	go bp.run()

	b.mu.Lock()
	b.processors = append(b.processors, bp)
	b.mu.Unlock()
}

// Publish enqueues event on every subscribed processor's FIFO without
// blocking. A processor whose FIFO is full drops its oldest queued
// event and increments its overflow counter to make room.
func (b *TelemetryBus) Publish(event TelemetryEvent) {
	for _, p := range b.snapshot() {
		p.publish(event)
	}
}

// Flush blocks until every processor's FIFO has drained, or timeout
// elapses, whichever comes first.
func (b *TelemetryBus) Flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for _, p := range b.snapshot() {
		p.flush(deadline)
	}
}

// Shutdown drains and stops every processor's worker, then forgets
// them; a TelemetryBus may be reused after Shutdown by Subscribing
// again.
func (b *TelemetryBus) Shutdown() {
	b.mu.Lock()
	procs := b.processors
	b.processors = nil
	b.mu.Unlock()

	for _, p := range procs {
		p.shutdown()
	}
}

func (b *TelemetryBus) snapshot() []*busProcessor {
	b.mu.Lock()
	defer b.mu.Unlock()
	procs := make([]*busProcessor, len(b.processors))
	copy(procs, b.processors)
	return procs
}

// busProcessor is one subscriber's bounded FIFO plus the worker
// goroutine draining it.
type busProcessor struct {
	processor TelemetryProcessor
	queue     chan TelemetryEvent
	overflow  atomic.Int64

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// publish enqueues event without blocking the caller. On a full queue
// it evicts the oldest queued event (incrementing overflow) and retries
// rather than dropping the new event, so Publish always eventually
// succeeds even against a stalled worker.
func (p *busProcessor) publish(event TelemetryEvent) {
	for {
		select {
		case p.queue <- event:
			return
		default:
		}
		select {
		case <-p.queue:
			p.overflow.Add(1)
		default:
		}
	}
}

// OverflowCount reports how many events this processor has dropped due
// to a full queue since it was subscribed.
func (p *busProcessor) OverflowCount() int64 {
	return p.overflow.Load()
}

func (p *busProcessor) run() {
	defer p.wg.Done()
	for {
		select {
		case event, ok := <-p.queue:
			if !ok {
				return
			}
			p.processor.Process(event)
		case <-p.stop:
			p.drain()
			return
		}
	}
}

func (p *busProcessor) drain() {
	for {
		select {
		case event, ok := <-p.queue:
			if !ok {
				return
			}
			p.processor.Process(event)
		default:
			return
		}
	}
}

func (p *busProcessor) flush(deadline time.Time) {
	for len(p.queue) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

func (p *busProcessor) shutdown() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}
