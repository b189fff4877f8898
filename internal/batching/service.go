package batching

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/fendari/agentrt/internal/retry"
	"github.com/fendari/agentrt/pkg/models"
)

// ServiceConfig configures a BatchingService.
type ServiceConfig struct {
	BufferCapacity   int
	Backpressure     BackpressureStrategy
	SilenceThreshold time.Duration
	AdaptiveTimeout  time.Duration
	Limiter          HybridLimiterConfig
	ErrorHandling    ErrorHandlingStrategy
	// WorkerPoolSize bounds the number of batches processed concurrently.
	WorkerPoolSize int
	// MaintenanceSchedule is a cron expression for the periodic job that
	// prunes expired dedupe entries and idle buffers. Empty disables it.
	MaintenanceSchedule string
	// IdleBufferTTL is how long a UserBuffer may sit empty before the
	// maintenance job reclaims it.
	IdleBufferTTL time.Duration
}

// DefaultServiceConfig returns reasonable defaults: a 50-message buffer,
// drop-oldest backpressure, 10s silence / 60s max adaptive flush, and a
// maintenance sweep every minute.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		BufferCapacity:      50,
		Backpressure:        DropOldest,
		SilenceThreshold:    10 * time.Second,
		AdaptiveTimeout:     60 * time.Second,
		Limiter:             DefaultHybridLimiterConfig(),
		ErrorHandling:       DefaultErrorHandlingStrategy(),
		WorkerPoolSize:      16,
		MaintenanceSchedule: "@every 1m",
		IdleBufferTTL:       10 * time.Minute,
	}
}

// BatchingService implements the receive path and worker pool described
// for the batching pipeline: dedupe, rate limit, buffer, adaptive
// flush, dispatch with retry.
type BatchingService struct {
	config    ServiceConfig
	processor Processor
	dedupe    DedupeStore
	notifier  Notifier
	limiter   *HybridLimiter

	mu          sync.Mutex
	buffers     map[string]*UserBuffer
	lastActive  map[string]time.Time
	sem         chan struct{}
	cronJob     *cron.Cron
	stopped     bool
	bgCtx       context.Context
	bgCancel    context.CancelFunc
}

// NewBatchingService wires a Processor, DedupeStore, and Notifier behind
// the adaptive-flush/rate-limit pipeline.
func NewBatchingService(config ServiceConfig, processor Processor, dedupe DedupeStore, notifier Notifier) *BatchingService {
	defaults := DefaultServiceConfig()
	if config.BufferCapacity <= 0 {
		config.BufferCapacity = defaults.BufferCapacity
	}
	if config.Backpressure == "" {
		config.Backpressure = defaults.Backpressure
	}
	if config.SilenceThreshold <= 0 {
		config.SilenceThreshold = defaults.SilenceThreshold
	}
	if config.AdaptiveTimeout <= 0 {
		config.AdaptiveTimeout = defaults.AdaptiveTimeout
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = defaults.WorkerPoolSize
	}
	if config.IdleBufferTTL <= 0 {
		config.IdleBufferTTL = defaults.IdleBufferTTL
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())

	return &BatchingService{
		config:     config,
		processor:  processor,
		dedupe:     dedupe,
		notifier:   notifier,
		limiter:    NewHybridLimiter(config.Limiter),
		buffers:    make(map[string]*UserBuffer),
		lastActive: make(map[string]time.Time),
		sem:        make(chan struct{}, config.WorkerPoolSize),
		bgCtx:      bgCtx,
		bgCancel:   bgCancel,
	}
}

// ReceiveMessage implements the receive path: dedupe, rate limit,
// buffer enqueue with backpressure.
func (s *BatchingService) ReceiveMessage(ctx context.Context, msg models.Message) error {
	if s.dedupe != nil {
		processed, err := s.dedupe.IsProcessed(ctx, msg.MessageID)
		if err != nil {
			return fmt.Errorf("dedupe lookup: %w", err)
		}
		if processed {
			return nil
		}
	}

	if !s.limiter.TryAcquire(msg.UserID) {
		if s.notifier != nil {
			s.notifier.Notify(ctx, msg.UserID, "rate limit exceeded")
		}
		return nil
	}

	buf := s.getOrCreateBuffer(msg.UserID)
	_, err := buf.Enqueue(ctx, msg)
	return err
}

func (s *BatchingService) getOrCreateBuffer(userID string) *UserBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActive[userID] = time.Now()

	if buf, ok := s.buffers[userID]; ok {
		return buf
	}

	buf := newUserBuffer(userID, UserBufferConfig{
		Capacity:         s.config.BufferCapacity,
		Backpressure:     s.config.Backpressure,
		SilenceThreshold: s.config.SilenceThreshold,
		AdaptiveTimeout:  s.config.AdaptiveTimeout,
		Notifier:         s.notifier,
		Dispatch: func(reason FlushReason, messages []models.Message) {
			s.dispatch(userID, messages, reason, 0)
		},
	})
	s.buffers[userID] = buf
	return buf
}

// dispatch submits a batch to the worker pool, retrying according to
// the configured ErrorHandlingStrategy.
func (s *BatchingService) dispatch(userID string, messages []models.Message, reason FlushReason, attempt int) {
	if len(messages) == 0 {
		return
	}

	s.sem <- struct{}{}
	go func() {
		defer func() { <-s.sem }()
		s.processBatch(userID, messages, reason, attempt)
	}()
}

func (s *BatchingService) processBatch(userID string, messages []models.Message, reason FlushReason, attempt int) {
	bctx := BatchContext{
		BatchID:      uuid.New().String(),
		FirstID:      messages[0].MessageID,
		LastID:       messages[len(messages)-1].MessageID,
		Reason:       reason,
		RetryAttempt: attempt,
	}

	err := s.processor.Process(s.bgCtx, userID, messages, bctx)
	if err == nil {
		if s.dedupe != nil {
			ids := make([]string, len(messages))
			for i, m := range messages {
				ids[i] = m.MessageID
			}
			_ = s.dedupe.MarkProcessed(s.bgCtx, ids)
		}
		return
	}

	eh := s.config.ErrorHandling
	if attempt >= eh.MaxRetries {
		if eh.Terminal != nil {
			eh.Terminal(s.bgCtx, userID, messages, bctx, err)
		}
		return
	}

	delay := retry.Backoff(attempt+1, eh.InitialDelay, eh.MaxDelay, eh.Multiplier)
	time.AfterFunc(delay, func() {
		s.dispatch(userID, messages, reason, attempt+1)
	})
}

// Start launches the periodic maintenance job. It is a no-op if
// MaintenanceSchedule is empty.
func (s *BatchingService) Start() error {
	if s.config.MaintenanceSchedule == "" {
		return nil
	}
	s.cronJob = cron.New()
	_, err := s.cronJob.AddFunc(s.config.MaintenanceSchedule, s.runMaintenance)
	if err != nil {
		return fmt.Errorf("schedule maintenance job: %w", err)
	}
	s.cronJob.Start()
	return nil
}

func (s *BatchingService) runMaintenance() {
	now := time.Now()

	s.mu.Lock()
	var idle []string
	for userID, last := range s.lastActive {
		buf, ok := s.buffers[userID]
		if ok && buf.Len() == 0 && now.Sub(last) > s.config.IdleBufferTTL {
			idle = append(idle, userID)
		}
	}
	for _, userID := range idle {
		delete(s.buffers, userID)
		delete(s.lastActive, userID)
	}
	s.mu.Unlock()

	if pruner, ok := s.dedupe.(PruningDedupeStore); ok {
		_, _ = pruner.Prune(s.bgCtx, now.Add(-24*time.Hour))
	}
}

// FlushUser manually dispatches a user's buffer, if any.
func (s *BatchingService) FlushUser(userID string) {
	s.mu.Lock()
	buf, ok := s.buffers[userID]
	s.mu.Unlock()
	if ok {
		buf.FlushNow()
	}
}

// Stop halts the maintenance job and flushes every buffer.
func (s *BatchingService) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	buffers := make([]*UserBuffer, 0, len(s.buffers))
	for _, buf := range s.buffers {
		buffers = append(buffers, buf)
	}
	s.mu.Unlock()

	if s.cronJob != nil {
		s.cronJob.Stop()
	}
	for _, buf := range buffers {
		buf.FlushNow()
		buf.Stop()
	}
	s.bgCancel()
}
