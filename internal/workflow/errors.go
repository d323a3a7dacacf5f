package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrAllProvidersFailed is the terminal result of a cascade whose every
	// candidate action failed or was unavailable.
	ErrAllProvidersFailed = errors.New("workflow: all providers failed")

	// ErrProviderUnavailable marks an action whose prerequisite capability is
	// off. The cascade combinator skips such candidates.
	ErrProviderUnavailable = errors.New("workflow: provider unavailable")
)

// ValidationError reports a malformed spec, step, or output declaration.
type ValidationError struct {
	Spec   string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Spec == "" {
		return "workflow: " + e.Detail
	}
	return fmt.Sprintf("workflow %s: %s", e.Spec, e.Detail)
}

func validationErrorf(spec, format string, args ...any) error {
	return &ValidationError{Spec: spec, Detail: fmt.Sprintf(format, args...)}
}

// StepError wraps the terminal failure of one step after its retry budget is
// exhausted.
type StepError struct {
	StepID   string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("workflow: step %s failed after %d attempt(s): %v", e.StepID, e.Attempts, e.Err)
}

// Unwrap exposes the last attempt's error for errors.Is/As.
func (e *StepError) Unwrap() error {
	return e.Err
}
