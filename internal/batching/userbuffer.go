package batching

import (
	"context"
	"sync"
	"time"

	"github.com/fendari/agentrt/pkg/models"
)

// EnqueueOutcome reports what Enqueue actually did with a message.
type EnqueueOutcome string

const (
	OutcomeAccepted          EnqueueOutcome = "accepted"
	OutcomeDroppedNew        EnqueueOutcome = "dropped_new"
	OutcomeRejectedNotified  EnqueueOutcome = "rejected_notified"
	OutcomeFlushedAndAccepted EnqueueOutcome = "flushed_and_accepted"
)

// UserBuffer is one user's mailbox: an independently-synchronized queue
// of pending messages plus the silence/max timers that decide when the
// queue gets dispatched.
type UserBuffer struct {
	mu       sync.Mutex
	userID   string
	capacity int

	backpressure     BackpressureStrategy
	silenceThreshold time.Duration
	adaptiveTimeout  time.Duration

	messages     []models.Message
	silenceTimer *time.Timer
	maxTimer     *time.Timer
	stopped      bool

	notifier Notifier
	dispatch func(reason FlushReason, messages []models.Message)

	spaceCond *sync.Cond
}

// UserBufferConfig configures a new UserBuffer.
type UserBufferConfig struct {
	Capacity         int
	Backpressure     BackpressureStrategy
	SilenceThreshold time.Duration
	AdaptiveTimeout  time.Duration
	Notifier         Notifier
	// Dispatch is invoked with the drained messages whenever a timer
	// fires or FLUSH_AND_ACCEPT forces an early flush. The buffer has
	// already been cleared by the time Dispatch runs.
	Dispatch func(reason FlushReason, messages []models.Message)
}

func newUserBuffer(userID string, cfg UserBufferConfig) *UserBuffer {
	b := &UserBuffer{
		userID:           userID,
		capacity:         cfg.Capacity,
		backpressure:     cfg.Backpressure,
		silenceThreshold: cfg.SilenceThreshold,
		adaptiveTimeout:  cfg.AdaptiveTimeout,
		notifier:         cfg.Notifier,
		dispatch:         cfg.Dispatch,
	}
	b.spaceCond = sync.NewCond(&b.mu)
	return b
}

// Enqueue adds msg to the buffer, applying the configured
// BackpressureStrategy when the buffer is full, then (re)arming the
// adaptive flush timers.
func (b *UserBuffer) Enqueue(ctx context.Context, msg models.Message) (EnqueueOutcome, error) {
	b.mu.Lock()

	if b.stopped {
		b.mu.Unlock()
		return OutcomeDroppedNew, nil
	}

	if len(b.messages) >= b.capacity {
		switch b.backpressure {
		case DropOldest:
			b.messages = append(b.messages[1:], msg)
			b.armTimersLocked()
			b.mu.Unlock()
			return OutcomeAccepted, nil

		case RejectWithNotification:
			b.mu.Unlock()
			if b.notifier != nil {
				b.notifier.Notify(ctx, b.userID, "buffer full")
			}
			return OutcomeRejectedNotified, nil

		case FlushAndAccept:
			b.drainAndDispatchLocked(ReasonBufferFull)
			b.messages = append(b.messages, msg)
			b.armTimersLocked()
			b.mu.Unlock()
			return OutcomeFlushedAndAccepted, nil

		case BlockUntilSpace:
			for len(b.messages) >= b.capacity && !b.stopped {
				done := make(chan struct{})
				go func() {
					select {
					case <-ctx.Done():
						b.spaceCond.Broadcast()
					case <-done:
					}
				}()
				b.spaceCond.Wait()
				close(done)
				if ctx.Err() != nil {
					b.mu.Unlock()
					return OutcomeDroppedNew, ctx.Err()
				}
			}
			if b.stopped {
				b.mu.Unlock()
				return OutcomeDroppedNew, nil
			}
			b.messages = append(b.messages, msg)
			b.armTimersLocked()
			b.mu.Unlock()
			return OutcomeAccepted, nil

		case DropNew:
			fallthrough
		default:
			b.mu.Unlock()
			return OutcomeDroppedNew, nil
		}
	}

	b.messages = append(b.messages, msg)
	b.armTimersLocked()
	b.mu.Unlock()
	return OutcomeAccepted, nil
}

// armTimersLocked resets the silence timer and, if unset, arms the max
// timer. Must be called with b.mu held.
func (b *UserBuffer) armTimersLocked() {
	if b.silenceTimer != nil {
		b.silenceTimer.Stop()
	}
	b.silenceTimer = time.AfterFunc(b.silenceThreshold, func() {
		b.fire(ReasonSilence)
	})

	if b.maxTimer == nil {
		b.maxTimer = time.AfterFunc(b.adaptiveTimeout, func() {
			b.fire(ReasonMaxTimeout)
		})
	}
}

// fire is the timer callback; it re-validates that the buffer still has
// content (a race with a concurrent manual flush is possible) before
// dispatching.
func (b *UserBuffer) fire(reason FlushReason) {
	b.mu.Lock()
	if len(b.messages) == 0 || b.stopped {
		b.mu.Unlock()
		return
	}
	b.drainAndDispatchLocked(reason)
	b.mu.Unlock()
}

// drainAndDispatchLocked stops both timers, snapshots and clears the
// buffer, wakes any BLOCK_UNTIL_SPACE waiters, and invokes Dispatch
// outside the lock. Must be called with b.mu held; re-acquires it
// internally around the callback.
func (b *UserBuffer) drainAndDispatchLocked(reason FlushReason) {
	if b.silenceTimer != nil {
		b.silenceTimer.Stop()
		b.silenceTimer = nil
	}
	if b.maxTimer != nil {
		b.maxTimer.Stop()
		b.maxTimer = nil
	}

	messages := b.messages
	b.messages = nil
	b.spaceCond.Broadcast()

	if len(messages) == 0 || b.dispatch == nil {
		return
	}

	b.mu.Unlock()
	b.dispatch(reason, messages)
	b.mu.Lock()
}

// FlushNow manually drains and dispatches the buffer, e.g. on shutdown.
func (b *UserBuffer) FlushNow() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drainAndDispatchLocked(ReasonManual)
}

// Len reports the number of currently buffered messages.
func (b *UserBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// Stop prevents further enqueues and wakes any blocked callers.
func (b *UserBuffer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.silenceTimer != nil {
		b.silenceTimer.Stop()
	}
	if b.maxTimer != nil {
		b.maxTimer.Stop()
	}
	b.spaceCond.Broadcast()
}
