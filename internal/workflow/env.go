package workflow

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// RunContext is the caller-supplied execution context threaded through every
// action invocation.
type RunContext struct {
	RequestID string
	Values    map[string]any
}

// Value reads a context entry; ok is false when the key is absent.
func (rc RunContext) Value(key string) (any, bool) {
	value, ok := rc.Values[key]
	return value, ok
}

// StepResult is one step's outcome inside the environment: a value on
// success, or an error marker when a continue-tolerated failure occurred.
type StepResult struct {
	Value  any
	Err    error
	Failed bool
}

// Env is the shared execution environment built incrementally during one
// execution. Steps in the same layer write concurrently, so access is
// synchronized here rather than in the engine.
type Env struct {
	input   any
	context RunContext

	mu      sync.RWMutex
	results map[string]StepResult
}

// NewEnv builds an empty environment for one execution.
func NewEnv(input any, rc RunContext) *Env {
	return &Env{
		input:   input,
		context: rc,
		results: map[string]StepResult{},
	}
}

// Input returns the caller-supplied workflow input.
func (e *Env) Input() any { return e.input }

// Context returns the execution context.
func (e *Env) Context() RunContext { return e.context }

// Result returns a step's recorded outcome.
func (e *Env) Result(stepID string) (StepResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	result, ok := e.results[stepID]
	return result, ok
}

// Value returns a successful step's value. It reports false for missing steps
// and error markers alike.
func (e *Env) Value(stepID string) (any, bool) {
	result, ok := e.Result(stepID)
	if !ok || result.Failed {
		return nil, false
	}
	return result.Value, true
}

// Record writes a step outcome. Last write wins; the engine only writes each
// step once per execution.
func (e *Env) Record(stepID string, result StepResult) {
	e.mu.Lock()
	e.results[stepID] = result
	e.mu.Unlock()
}

// Results returns a copy of every recorded outcome.
func (e *Env) Results() map[string]StepResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]StepResult, len(e.results))
	for id, result := range e.results {
		out[id] = result
	}
	return out
}

// Lookup navigates a dot path into a step's result value. An empty path
// returns the value itself.
func (e *Env) Lookup(stepID, path string) (any, error) {
	result, ok := e.Result(stepID)
	if !ok {
		return nil, fmt.Errorf("workflow: no result recorded for step %s", stepID)
	}
	if result.Failed {
		return nil, fmt.Errorf("workflow: step %s failed: %v", stepID, result.Err)
	}
	return navigatePath(result.Value, path, stepID)
}

func navigatePath(value any, path, stepID string) (any, error) {
	if strings.TrimSpace(path) == "" {
		return value, nil
	}
	current := value
	for _, segment := range strings.Split(path, ".") {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("workflow: step %s result has no path %s", stepID, path)
		}
		current, ok = asMap[segment]
		if !ok {
			return nil, fmt.Errorf("workflow: step %s result has no path %s", stepID, path)
		}
	}
	return current, nil
}

// StepStatus enumerates terminal step states inside the audit trail.
type StepStatus string

const (
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusTolerated StepStatus = "tolerated"
)

// StepAudit records per-step attempt accounting for diagnosis and snapshots.
type StepAudit struct {
	StepID     string     `json:"step_id"`
	Attempts   int        `json:"attempts"`
	Status     StepStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	DurationMs int64      `json:"duration_ms"`
	LastError  string     `json:"last_error,omitempty"`
}
