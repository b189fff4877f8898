package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fendari/agentrt/internal/agent"
	"github.com/fendari/agentrt/internal/batching"
	"github.com/fendari/agentrt/pkg/models"
)

// pendingResume is a paused interaction waiting on an externally decided
// ApprovalRequest (see the "approvals" CLI command). The loop itself
// holds no reference to the messaging adapter the reply should reach,
// since adapters in this runtime are receive-only; a resumed run's
// final text is only logged.
//
// The paused AgentRunState itself is never kept here: it is signed into
// the ApprovalRequest's RunStateToken and persisted through the
// ApprovalStore, so a decision recorded by a separate "approvals" CLI
// invocation can be resumed correctly even if this process restarted
// in between.
type pendingResume struct {
	requestID string
	userID    string
	agentRef  *agent.Agent
}

// resumeRegistry tracks paused runs by their ApprovalRequest ID so the
// background resume watcher can pick them up once a decision lands in
// the ApprovalStore.
type resumeRegistry struct {
	mu      sync.Mutex
	pending map[string]*pendingResume
}

func newResumeRegistry() *resumeRegistry {
	return &resumeRegistry{pending: make(map[string]*pendingResume)}
}

func (r *resumeRegistry) add(p *pendingResume) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[p.requestID] = p
}

func (r *resumeRegistry) take(id string) (*pendingResume, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	return p, ok
}

func (r *resumeRegistry) snapshotIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	return ids
}

// watchApprovals polls the approval store for decisions on paused runs
// and resumes them in place. It returns once ctx is cancelled.
func watchApprovals(ctx context.Context, loop *agent.AgenticLoop, store agent.ApprovalStore, registry *resumeRegistry, signer *agent.RunStateSigner, logger *slog.Logger) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range registry.snapshotIDs() {
				req, err := store.Get(ctx, id)
				if err != nil || req == nil || req.Decision == agent.ApprovalPending {
					continue
				}
				p, ok := registry.take(id)
				if !ok {
					continue
				}
				state, err := signer.Verify(req.RunStateToken)
				if err != nil {
					logger.Error("discarding paused run: run state token invalid", "request_id", id, "error", err)
					continue
				}
				resumeRun(ctx, loop, p, state, req.Decision == agent.ApprovalAllowed, logger)
			}
		}
	}
}

func resumeRun(ctx context.Context, loop *agent.AgenticLoop, p *pendingResume, state *agent.AgentRunState, approved bool, logger *slog.Logger) {
	_, results, err := loop.Resume(ctx, p.agentRef, state, agent.ApprovalOutcome{Approved: approved})
	if err != nil {
		logger.Error("resume failed", "request_id", p.requestID, "error", err)
		return
	}
	result := <-results
	logFinalResult(logger, p.userID, result)
	if result.TerminalReason == agent.TerminalPausedForApproval && result.PausedState != nil {
		logger.Warn("run paused again after resume; approve again to continue",
			"user_id", p.userID)
	}
}

// processBatch drives one user's flushed batch through the agentic
// loop, feeding each message in as a user turn and logging the final
// result. A pause for tool-call approval persists an ApprovalRequest
// (with the paused AgentRunState signed into its RunStateToken) through
// checker's store and registers the run with registry, instead of
// treating the pause as a failure.
func processBatch(ctx context.Context, loop *agent.AgenticLoop, root *agent.Agent, userID string, msgs []models.Message, bctx batching.BatchContext, registry *resumeRegistry, checker *agent.ApprovalChecker, store agent.ApprovalStore, signer *agent.RunStateSigner, logger *slog.Logger) error {
	rtctx := agent.NewContext()
	rtctx.SessionID = userID
	for _, m := range msgs {
		rtctx.Append(agent.Message{
			Role:    agent.RoleUser,
			Content: []agent.ContentPart{agent.TextPart{Text: m.Content}},
		})
	}

	_, results, err := loop.Run(ctx, root, rtctx)
	if err != nil {
		return err
	}
	result := <-results
	logFinalResult(logger, userID, result)

	if result.TerminalReason == agent.TerminalPausedForApproval && result.PausedState != nil {
		req, err := checker.CreateApprovalRequest(ctx, root.Name, userID, result.PausedState.PendingCall, "tool call paused for approval")
		if err != nil {
			logger.Error("failed to persist approval request; paused run cannot be resumed", "user_id", userID, "error", err)
			return nil
		}

		token, err := signer.Sign(result.PausedState)
		if err != nil {
			logger.Error("failed to sign paused run state; paused run cannot be resumed", "user_id", userID, "request_id", req.ID, "error", err)
			return nil
		}
		req.RunStateToken = token
		if err := store.Update(ctx, req); err != nil {
			logger.Error("failed to persist run state token", "user_id", userID, "request_id", req.ID, "error", err)
			return nil
		}

		registry.add(&pendingResume{
			requestID: req.ID,
			userID:    userID,
			agentRef:  root,
		})
	}
	return nil
}

func logFinalResult(logger *slog.Logger, userID string, result *agent.RunResult) {
	if result == nil {
		return
	}
	logger.Info("run finished",
		"user_id", userID,
		"terminal_reason", result.TerminalReason,
		"turns_used", result.TurnsUsed,
		"final_text", result.FinalText,
	)
}
