package planexecutor

import (
	"fmt"
	"strings"
)

// ValidationErrorKind classifies why a plan was rejected before any step
// ran.
type ValidationErrorKind string

const (
	ValidationEmptyPlan     ValidationErrorKind = "empty_plan"
	ValidationDuplicateID   ValidationErrorKind = "duplicate_id"
	ValidationInvalidID     ValidationErrorKind = "invalid_id"
	ValidationUnknownTool   ValidationErrorKind = "unknown_tool"
	ValidationRecursivePlan ValidationErrorKind = "recursive_plan"
	ValidationSelfReference ValidationErrorKind = "self_reference"
	ValidationCycle         ValidationErrorKind = "cycle"
)

// ValidationError reports a whole-plan failure: no step in the plan is
// executed when validation fails.
type ValidationError struct {
	Kind    ValidationErrorKind
	Detail  string
	StepIDs []string
}

func (e *ValidationError) Error() string {
	if len(e.StepIDs) == 0 {
		return fmt.Sprintf("plan validation failed (%s): %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("plan validation failed (%s): %s [%s]", e.Kind, e.Detail, strings.Join(e.StepIDs, ", "))
}

func newValidationError(kind ValidationErrorKind, detail string, stepIDs ...string) *ValidationError {
	return &ValidationError{Kind: kind, Detail: detail, StepIDs: stepIDs}
}
