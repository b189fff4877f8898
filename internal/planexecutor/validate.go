package planexecutor

import "fmt"

// validate checks a plan's structural invariants and returns each step's
// dependency set (by stepId, derived from its $ref tokens). Any
// violation rejects the whole plan before a single step runs.
func validate(plan *Plan, toolExists func(name string) bool) (map[string][]string, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return nil, newValidationError(ValidationEmptyPlan, "plan has no steps")
	}

	ids := make(map[string]bool, len(plan.Steps))
	for _, step := range plan.Steps {
		if step.ID == "" || !stepIDPattern.MatchString(step.ID) {
			return nil, newValidationError(ValidationInvalidID, fmt.Sprintf("step id %q must be non-empty and match [A-Za-z0-9_]", step.ID))
		}
		if ids[step.ID] {
			return nil, newValidationError(ValidationDuplicateID, "duplicate step id", step.ID)
		}
		ids[step.ID] = true

		if step.ToolName == PlanToolName {
			return nil, newValidationError(ValidationRecursivePlan, "a plan step may not invoke the plan tool itself", step.ID)
		}
		if toolExists != nil && !toolExists(step.ToolName) {
			return nil, newValidationError(ValidationUnknownTool, fmt.Sprintf("unknown tool %q", step.ToolName), step.ID)
		}
	}

	deps := make(map[string][]string, len(plan.Steps))
	for _, step := range plan.Steps {
		refs, err := extractRefs(step.ArgumentsJSON)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", step.ID, err)
		}
		for _, ref := range refs {
			if ref == step.ID {
				return nil, newValidationError(ValidationSelfReference, "step references itself", step.ID)
			}
			if !ids[ref] {
				return nil, fmt.Errorf("step %q references unknown step %q", step.ID, ref)
			}
		}
		deps[step.ID] = refs
	}

	return deps, nil
}
