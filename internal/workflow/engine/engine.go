// Package engine executes workflow specs: layered scheduling, per-step retry
// and failure policy, snapshot persistence, and output projection.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oakmund/convoy/internal/logging"
	"github.com/oakmund/convoy/internal/snapshot"
	"github.com/oakmund/convoy/internal/telemetry"
	"github.com/oakmund/convoy/internal/workflow"
)

// Engine executes specs. It is stateless between executions and safe for
// concurrent use.
type Engine struct {
	store   snapshot.Store
	metrics *telemetry.Metrics
	logger  logging.Printer
	clock   func() time.Time
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithSnapshotStore persists an execution snapshot after every terminal
// settle. A nil store disables persistence.
func WithSnapshotStore(store snapshot.Store) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithMetrics wires step and execution collectors.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithLogger injects a logger for retry and persistence diagnostics.
func WithLogger(logger logging.Printer) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// New builds an engine.
func New(opts ...Option) *Engine {
	e := &Engine{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Result is the terminal state of one execution. On abort the engine still
// returns a non-nil Result carrying the partial environment and audit trail
// accumulated so far, alongside the error.
type Result struct {
	RequestID string
	Status    snapshot.Status
	// Outputs holds every projection that resolved.
	Outputs map[string]any
	// OutputErrors holds per-output failures; their presence is not fatal.
	OutputErrors map[string]error
	Audit        map[string]workflow.StepAudit
	Env          *workflow.Env
	// PersistErr records a snapshot store failure. Persistence trouble never
	// overrides the execution outcome.
	PersistErr error
}

// Execute runs a spec to terminal success or terminal abort. It returns only
// once every dispatched step has settled. Cancelling ctx aborts the execution
// between layers and between retry attempts.
func (e *Engine) Execute(ctx context.Context, spec *workflow.Spec, input any, rc workflow.RunContext) (*Result, error) {
	if spec == nil {
		return nil, &workflow.ValidationError{Detail: "spec is required"}
	}
	if rc.RequestID == "" {
		rc.RequestID = uuid.New().String()
	}
	layers, err := spec.Layers()
	if err != nil {
		return nil, err
	}

	env := workflow.NewEnv(input, rc)
	result := &Result{
		RequestID: rc.RequestID,
		Status:    snapshot.StatusRunning,
		Audit:     map[string]workflow.StepAudit{},
		Env:       env,
	}

	var abort *workflow.StepError
	lastStep := ""
	lastAttempt := 0

layerLoop:
	for _, layer := range layers {
		if err := ctx.Err(); err != nil {
			result.Status = snapshot.StatusFailed
			e.persist(ctx, spec, result, err.Error(), lastStep, lastAttempt)
			e.metrics.ExecutionFinished(spec.Name(), string(result.Status))
			return result, fmt.Errorf("workflow %s: %w", spec.Name(), err)
		}

		outcomes := e.runLayer(ctx, spec, layer, env)
		for _, outcome := range outcomes {
			result.Audit[outcome.audit.StepID] = outcome.audit
			lastStep = outcome.audit.StepID
			lastAttempt = outcome.audit.Attempts
			e.metrics.ObserveStep(spec.Name(), outcome.audit.StepID, float64(outcome.audit.DurationMs)/1000)
			if outcome.err == nil {
				env.Record(outcome.stepID, workflow.StepResult{Value: outcome.value})
				continue
			}
			stepErr := &workflow.StepError{StepID: outcome.stepID, Attempts: outcome.audit.Attempts, Err: outcome.err}
			env.Record(outcome.stepID, workflow.StepResult{Err: stepErr, Failed: true})
			e.metrics.StepFailed(spec.Name(), outcome.stepID, string(outcome.policy))
			if outcome.policy == workflow.OnErrorContinue {
				if e.logger != nil {
					e.logger.Printf("engine: step %s failed, continuing: %v", outcome.stepID, outcome.err)
				}
				continue
			}
			if abort == nil {
				abort = stepErr
			}
		}
		// The whole layer settles before we act on an abort, so sibling
		// results stay available for diagnosis.
		if abort != nil {
			break layerLoop
		}
	}

	if abort != nil {
		result.Status = snapshot.StatusFailed
		e.persist(ctx, spec, result, abort.Error(), abort.StepID, abort.Attempts)
		e.metrics.ExecutionFinished(spec.Name(), string(result.Status))
		return result, abort
	}

	result.Status = snapshot.StatusCompleted
	result.Outputs, result.OutputErrors = projectOutputs(spec, env)
	e.persist(ctx, spec, result, "", lastStep, lastAttempt)
	e.metrics.ExecutionFinished(spec.Name(), string(result.Status))
	return result, nil
}

type stepOutcome struct {
	stepID string
	value  any
	err    error
	policy workflow.OnError
	audit  workflow.StepAudit
}

// runLayer dispatches every step in a layer concurrently and blocks until all
// of them settle.
func (e *Engine) runLayer(ctx context.Context, spec *workflow.Spec, layer []string, env *workflow.Env) []stepOutcome {
	outcomes := make([]stepOutcome, len(layer))
	var wg sync.WaitGroup
	for idx, stepID := range layer {
		step, ok := spec.Step(stepID)
		if !ok {
			// Layers come from the spec itself, so this cannot happen.
			outcomes[idx] = stepOutcome{stepID: stepID, err: fmt.Errorf("workflow: unknown step %s", stepID)}
			continue
		}
		wg.Add(1)
		go func(idx int, step workflow.StepSpec) {
			defer wg.Done()
			outcomes[idx] = e.runStep(ctx, step, env)
		}(idx, step)
	}
	wg.Wait()
	return outcomes
}

func (e *Engine) runStep(ctx context.Context, step workflow.StepSpec, env *workflow.Env) stepOutcome {
	outcome := stepOutcome{stepID: step.ID, policy: step.OnError}
	started := e.clock()
	audit := workflow.StepAudit{StepID: step.ID, StartedAt: started}

	// Params resolve exactly once, after the barrier admitted the step, so
	// every referenced prior result exists.
	params, err := workflow.ResolveParams(step.Params, env)
	if err != nil {
		audit.Attempts = 1
		outcome.err = err
	} else {
		attempts := step.Retry.Attempts()
		for attempt := 1; attempt <= attempts; attempt++ {
			audit.Attempts = attempt
			value, runErr := step.Action.Run(ctx, params, env.Context())
			if runErr == nil {
				outcome.value = value
				outcome.err = nil
				break
			}
			outcome.err = runErr
			if attempt == attempts {
				break
			}
			if e.logger != nil {
				e.logger.Printf("engine: step %s attempt %d/%d failed, retrying: %v", step.ID, attempt, attempts, runErr)
			}
			if waitErr := sleepCtx(ctx, step.Retry.Wait(attempt)); waitErr != nil {
				outcome.err = waitErr
				break
			}
		}
	}

	finished := e.clock()
	audit.FinishedAt = finished
	audit.DurationMs = finished.Sub(started).Milliseconds()
	switch {
	case outcome.err == nil:
		audit.Status = workflow.StepStatusSucceeded
	case step.OnError == workflow.OnErrorContinue:
		audit.Status = workflow.StepStatusTolerated
		audit.LastError = outcome.err.Error()
	default:
		audit.Status = workflow.StepStatusFailed
		audit.LastError = outcome.err.Error()
	}
	outcome.audit = audit
	return outcome
}

func (e *Engine) persist(ctx context.Context, spec *workflow.Spec, result *Result, terminalErr, lastStep string, lastAttempt int) {
	if e.store == nil {
		return
	}
	// Snapshots must still land when the execution was cancelled.
	ctx = context.WithoutCancel(ctx)
	env := result.Env
	snap := &snapshot.Snapshot{
		RequestID:   result.RequestID,
		Spec:        spec.Name(),
		SpecVersion: spec.Metadata()["version"],
		Status:      result.Status,
		Input:       env.Input(),
		Context:     env.Context().Values,
		Results:     snapshot.OutcomesFromEnv(env.Results()),
		Audit:       result.Audit,
		LastStepID:  lastStep,
		LastAttempt: lastAttempt,
		Error:       terminalErr,
	}
	if err := e.store.Upsert(ctx, snap); err != nil {
		result.PersistErr = fmt.Errorf("snapshot: persist %s: %w", result.RequestID, err)
		if e.logger != nil {
			e.logger.Printf("engine: persist snapshot %s: %v", result.RequestID, err)
		}
	}
}

func projectOutputs(spec *workflow.Spec, env *workflow.Env) (map[string]any, map[string]error) {
	outputs := map[string]any{}
	outputErrs := map[string]error{}
	for _, out := range spec.Outputs() {
		value, err := env.Lookup(out.From, out.Path)
		if err != nil {
			outputErrs[out.Key] = err
			continue
		}
		outputs[out.Key] = value
	}
	return outputs, outputErrs
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
