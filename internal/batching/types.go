// Package batching implements the receive-side pipeline sitting in front
// of an Agent: per-user dedupe, hybrid rate limiting, adaptive-flush
// buffering, and retrying batch dispatch to a Processor.
package batching

import (
	"context"
	"time"

	"github.com/fendari/agentrt/pkg/models"
)

// BackpressureStrategy decides what happens when a UserBuffer is full.
type BackpressureStrategy string

const (
	DropNew                BackpressureStrategy = "drop_new"
	DropOldest              BackpressureStrategy = "drop_oldest"
	RejectWithNotification  BackpressureStrategy = "reject_with_notification"
	BlockUntilSpace         BackpressureStrategy = "block_until_space"
	FlushAndAccept          BackpressureStrategy = "flush_and_accept"
)

// FlushReason records why a batch was dispatched.
type FlushReason string

const (
	ReasonSilence    FlushReason = "silence"
	ReasonMaxTimeout FlushReason = "max_timeout"
	ReasonBufferFull FlushReason = "buffer_full"
	ReasonManual     FlushReason = "manual"
)

// BatchContext is handed to a Processor alongside the batched messages.
type BatchContext struct {
	BatchID      string
	FirstID      string
	LastID       string
	Reason       FlushReason
	RetryAttempt int
}

// Processor consumes one user's batch of messages. A returned error
// triggers the service's ErrorHandlingStrategy rather than being
// swallowed.
type Processor interface {
	Process(ctx context.Context, userID string, messages []models.Message, bctx BatchContext) error
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(ctx context.Context, userID string, messages []models.Message, bctx BatchContext) error

func (f ProcessorFunc) Process(ctx context.Context, userID string, messages []models.Message, bctx BatchContext) error {
	return f(ctx, userID, messages, bctx)
}

// Notifier delivers an out-of-band message to a user, used for the
// REJECT_WITH_NOTIFICATION backpressure strategy and rate-limit denials.
type Notifier interface {
	Notify(ctx context.Context, userID string, reason string)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(ctx context.Context, userID string, reason string)

func (f NotifierFunc) Notify(ctx context.Context, userID string, reason string) {
	f(ctx, userID, reason)
}

// ErrorHandlingStrategy configures the retry-on-batch-failure behavior.
type ErrorHandlingStrategy struct {
	// MaxRetries is how many times a failed batch is rescheduled before
	// the Terminal handler is invoked. Zero disables retrying.
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// Multiplier scales InitialDelay on each subsequent retry.
	Multiplier float64
	// MaxDelay caps the computed retry delay.
	MaxDelay time.Duration
	// Terminal is invoked once retries are exhausted. It never blocks
	// dispatch of other users' batches.
	Terminal func(ctx context.Context, userID string, messages []models.Message, bctx BatchContext, err error)
}

// DefaultErrorHandlingStrategy returns a strategy with three retries and
// exponential backoff starting at one second.
func DefaultErrorHandlingStrategy() ErrorHandlingStrategy {
	return ErrorHandlingStrategy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     time.Minute,
	}
}

// DedupeStore tracks processed message ids so a redelivered webhook
// doesn't reach a UserBuffer twice.
type DedupeStore interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageIDs []string) error
}

// PruningDedupeStore is a DedupeStore that can evict entries older than
// a retention window. The maintenance job uses this when the configured
// store supports it; stores that don't grow unbounded (e.g. an in-memory
// map sized for tests) can skip implementing it.
type PruningDedupeStore interface {
	DedupeStore
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}
