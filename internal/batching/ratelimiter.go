package batching

import (
	"sync"
	"time"

	"github.com/fendari/agentrt/internal/ratelimit"
)

// HybridLimiterConfig configures the per-user token bucket + sliding
// window pair.
type HybridLimiterConfig struct {
	// Capacity is the token bucket's burst size (starts full).
	Capacity int
	// RefillPerMinute is the token bucket's refill rate.
	RefillPerMinute float64
	// WindowMax is the maximum number of messages allowed within
	// WindowSeconds.
	WindowMax int
	// WindowSeconds is the sliding window's width.
	WindowSeconds time.Duration
}

// DefaultHybridLimiterConfig returns a conservative default: 5 burst
// tokens refilling at 30/min, capped at 20 messages per 60 seconds.
func DefaultHybridLimiterConfig() HybridLimiterConfig {
	return HybridLimiterConfig{
		Capacity:        5,
		RefillPerMinute: 30,
		WindowMax:       20,
		WindowSeconds:   60 * time.Second,
	}
}

type perUserLimiter struct {
	mu         sync.Mutex
	bucket     *ratelimit.Bucket
	timestamps []time.Time
}

// HybridLimiter enforces both a token bucket and a sliding window per
// user; tryAcquire only succeeds when both subsystems agree.
type HybridLimiter struct {
	mu     sync.Mutex
	config HybridLimiterConfig
	users  map[string]*perUserLimiter
}

// NewHybridLimiter creates a limiter using config, falling back to
// DefaultHybridLimiterConfig for zero-valued fields.
func NewHybridLimiter(config HybridLimiterConfig) *HybridLimiter {
	defaults := DefaultHybridLimiterConfig()
	if config.Capacity <= 0 {
		config.Capacity = defaults.Capacity
	}
	if config.RefillPerMinute <= 0 {
		config.RefillPerMinute = defaults.RefillPerMinute
	}
	if config.WindowMax <= 0 {
		config.WindowMax = defaults.WindowMax
	}
	if config.WindowSeconds <= 0 {
		config.WindowSeconds = defaults.WindowSeconds
	}
	return &HybridLimiter{
		config: config,
		users:  make(map[string]*perUserLimiter),
	}
}

func (h *HybridLimiter) getUser(userID string) *perUserLimiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	lim, ok := h.users[userID]
	if ok {
		return lim
	}
	lim = &perUserLimiter{
		bucket: ratelimit.NewBucket(ratelimit.Config{
			RequestsPerSecond: h.config.RefillPerMinute / 60.0,
			BurstSize:         h.config.Capacity,
			Enabled:           true,
		}),
	}
	h.users[userID] = lim
	return lim
}

// TryAcquire reports whether a message from userID should be admitted.
// Both the token bucket and the sliding window must agree; a rejection
// from either one leaves neither subsystem's state mutated for this
// call.
func (h *HybridLimiter) TryAcquire(userID string) bool {
	lim := h.getUser(userID)
	lim.mu.Lock()
	defer lim.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-h.config.WindowSeconds)
	kept := lim.timestamps[:0]
	for _, ts := range lim.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	lim.timestamps = kept

	if len(lim.timestamps) >= h.config.WindowMax {
		return false
	}
	if !lim.bucket.Allow() {
		return false
	}
	lim.timestamps = append(lim.timestamps, now)
	return true
}

// Reset clears a user's limiter state, mainly for tests and admin
// overrides.
func (h *HybridLimiter) Reset(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.users, userID)
}

// UserCount reports how many distinct users currently have limiter
// state, for the maintenance job's idle-pruning decision.
func (h *HybridLimiter) UserCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.users)
}
