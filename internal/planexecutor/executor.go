package planexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fendari/agentrt/internal/agent"
)

// ToolStore is the subset of agent.ToolRegistry the executor needs: the
// ability to look a tool up by name and to run it. *agent.ToolRegistry
// satisfies this directly.
type ToolStore interface {
	Get(name string) (agent.Tool, bool)
	Execute(ctx context.Context, name string, params json.RawMessage) (*agent.ToolResult, error)
}

// Executor runs a validated Plan against a ToolStore, wave by wave, with
// maximal parallelism inside each wave and fail-forward semantics across
// them.
type Executor struct {
	store ToolStore
}

// NewExecutor creates an Executor backed by the given tool store.
func NewExecutor(store ToolStore) *Executor {
	return &Executor{store: store}
}

// Run validates the plan, then executes it wave by wave. A validation
// failure returns immediately with no step executed; once execution
// starts, individual step failures do not halt the plan, they only
// cascade to their dependents.
func (e *Executor) Run(ctx context.Context, plan *Plan) (*Result, error) {
	start := time.Now()

	deps, err := validate(plan, e.toolExists)
	if err != nil {
		return nil, err
	}

	waves, cycle := waveSort(deps)
	if len(cycle) > 0 {
		return nil, newValidationError(ValidationCycle, "dependency cycle detected", cycle...)
	}

	byID := make(map[string]Step, len(plan.Steps))
	for _, step := range plan.Steps {
		byID[step.ID] = step
	}

	outputs := make(map[string]string, len(plan.Steps))
	failed := make(map[string]string, len(plan.Steps))
	results := make(map[string]StepResult, len(plan.Steps))
	var mu sync.RWMutex

	for _, wave := range waves {
		var wg sync.WaitGroup
		for _, id := range wave {
			step := byID[id]
			wg.Add(1)
			go func(step Step) {
				defer wg.Done()
				result := e.runStep(ctx, step, deps[step.ID], outputs, failed, &mu)

				mu.Lock()
				defer mu.Unlock()
				results[step.ID] = result
				if result.Success {
					outputs[step.ID] = result.Output
				} else {
					failed[step.ID] = result.Error
				}
			}(step)
		}
		wg.Wait()
	}

	return e.buildResult(plan, results, failed, time.Since(start)), nil
}

func (e *Executor) toolExists(name string) bool {
	_, ok := e.store.Get(name)
	return ok
}

// runStep resolves a step's reference-bearing arguments and invokes its
// tool, or skips it as a forwarded failure if any transitive dependency
// already failed.
func (e *Executor) runStep(ctx context.Context, step Step, deps []string, outputs map[string]string, failed map[string]string, mu *sync.RWMutex) StepResult {
	stepStart := time.Now()

	mu.RLock()
	for _, dep := range deps {
		if cause, ok := failed[dep]; ok {
			mu.RUnlock()
			return StepResult{
				ID:       step.ID,
				Success:  false,
				Error:    fmt.Sprintf("dependency %q failed: %s", dep, cause),
				Duration: time.Since(stepStart),
			}
		}
	}
	outputsSnapshot := make(map[string]string, len(outputs))
	for k, v := range outputs {
		outputsSnapshot[k] = v
	}
	mu.RUnlock()

	resolvedArgs, err := resolveRefs(step.ArgumentsJSON, outputsSnapshot)
	if err != nil {
		return StepResult{ID: step.ID, Success: false, Error: err.Error(), Duration: time.Since(stepStart)}
	}

	select {
	case <-ctx.Done():
		return StepResult{ID: step.ID, Success: false, Error: "cancelled", Duration: time.Since(stepStart)}
	default:
	}

	output, err := e.store.Execute(ctx, step.ToolName, json.RawMessage(resolvedArgs))
	if err != nil {
		return StepResult{ID: step.ID, Success: false, Error: err.Error(), Duration: time.Since(stepStart)}
	}
	if output.IsError {
		return StepResult{ID: step.ID, Success: false, Error: output.Content, Duration: time.Since(stepStart)}
	}
	return StepResult{ID: step.ID, Success: true, Output: output.Content, Duration: time.Since(stepStart)}
}

func (e *Executor) buildResult(plan *Plan, results map[string]StepResult, failed map[string]string, total time.Duration) *Result {
	stepResults := make([]StepResult, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		stepResults = append(stepResults, results[step.ID])
	}

	outputResults := stepResults
	if len(plan.OutputSteps) > 0 {
		outputResults = make([]StepResult, 0, len(plan.OutputSteps))
		for _, id := range plan.OutputSteps {
			if r, ok := results[id]; ok {
				outputResults = append(outputResults, r)
			}
		}
	}

	var errs map[string]string
	if len(failed) > 0 {
		errs = failed
	}

	return &Result{
		StepResults:   stepResults,
		OutputResults: outputResults,
		Errors:        errs,
		TotalDuration: total,
		Summary:       summarize(stepResults, total),
	}
}

func summarize(results []StepResult, total time.Duration) string {
	var b strings.Builder
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	fmt.Fprintf(&b, "%d/%d steps succeeded in %s\n", succeeded, len(results), total)
	for _, r := range results {
		if r.Success {
			fmt.Fprintf(&b, "- %s: ok\n", r.ID)
		} else {
			fmt.Fprintf(&b, "- %s: failed (%s)\n", r.ID, r.Error)
		}
	}
	return b.String()
}
