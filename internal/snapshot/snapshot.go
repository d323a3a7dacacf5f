// Package snapshot persists workflow execution state through a pluggable
// store. One snapshot corresponds to exactly one in-flight or finished
// execution, keyed uniquely by request id.
package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/oakmund/convoy/internal/workflow"
)

// ErrNotFound is returned when no snapshot exists for a request id.
var ErrNotFound = errors.New("snapshot: not found")

// Status enumerates execution states recorded in a snapshot.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StepOutcome is the serializable form of one environment entry.
type StepOutcome struct {
	Value  any    `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
	Failed bool   `json:"failed,omitempty"`
}

// Snapshot is the persisted record of one workflow execution. Re-saving the
// same request id overwrites every field except identity and creation time.
type Snapshot struct {
	RequestID   string                        `json:"request_id"`
	Spec        string                        `json:"spec"`
	SpecVersion string                        `json:"spec_version,omitempty"`
	Status      Status                        `json:"status"`
	Input       any                           `json:"input,omitempty"`
	Context     map[string]any                `json:"context,omitempty"`
	Results     map[string]StepOutcome        `json:"results,omitempty"`
	Audit       map[string]workflow.StepAudit `json:"audit,omitempty"`
	LastStepID  string                        `json:"last_step_id,omitempty"`
	LastAttempt int                           `json:"last_attempt,omitempty"`
	Error       string                        `json:"error,omitempty"`
	CreatedAt   time.Time                     `json:"created_at"`
	UpdatedAt   time.Time                     `json:"updated_at"`
}

// Store is the persistence contract the engine requires. Upsert is idempotent
// per request id: a second upsert replaces every field except identity and
// creation time.
type Store interface {
	Upsert(ctx context.Context, snap *Snapshot) error
	Get(ctx context.Context, requestID string) (*Snapshot, error)
	Delete(ctx context.Context, requestID string) error
}

// OutcomesFromEnv converts recorded environment results into their
// serializable form.
func OutcomesFromEnv(results map[string]workflow.StepResult) map[string]StepOutcome {
	if len(results) == 0 {
		return nil
	}
	out := make(map[string]StepOutcome, len(results))
	for id, result := range results {
		outcome := StepOutcome{Value: result.Value, Failed: result.Failed}
		if result.Err != nil {
			outcome.Error = result.Err.Error()
		}
		out[id] = outcome
	}
	return out
}

func (s *Snapshot) clone() *Snapshot {
	clone := *s
	if len(s.Context) > 0 {
		clone.Context = make(map[string]any, len(s.Context))
		for key, value := range s.Context {
			clone.Context[key] = value
		}
	}
	if len(s.Results) > 0 {
		clone.Results = make(map[string]StepOutcome, len(s.Results))
		for key, value := range s.Results {
			clone.Results[key] = value
		}
	}
	if len(s.Audit) > 0 {
		clone.Audit = make(map[string]workflow.StepAudit, len(s.Audit))
		for key, value := range s.Audit {
			clone.Audit[key] = value
		}
	}
	return &clone
}
