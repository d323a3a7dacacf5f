package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/oakmund/convoy/internal/snapshot"
	"github.com/oakmund/convoy/internal/workflow"
)

// recorder tracks every action invocation so tests can assert ordering and
// attempt counts.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(id string) {
	r.mu.Lock()
	r.calls = append(r.calls, id)
	r.mu.Unlock()
}

func (r *recorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, call := range r.calls {
		if call == id {
			total++
		}
	}
	return total
}

func (r *recorder) indexOf(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for idx, call := range r.calls {
		if call == id {
			return idx
		}
	}
	return -1
}

func okAction(rec *recorder, id string, value any) workflow.Action {
	return workflow.ActionFunc(func(context.Context, map[string]any, workflow.RunContext) (any, error) {
		rec.record(id)
		return value, nil
	})
}

func failAction(rec *recorder, id string, err error) workflow.Action {
	return workflow.ActionFunc(func(context.Context, map[string]any, workflow.RunContext) (any, error) {
		rec.record(id)
		return nil, err
	})
}

func mustSpec(t *testing.T, name string, steps []workflow.StepSpec, outputs []workflow.OutputSpec) *workflow.Spec {
	t.Helper()
	spec, err := workflow.NewSpec(name, "", nil, steps, outputs)
	if err != nil {
		t.Fatalf("build spec: %v", err)
	}
	return spec
}

func TestExecuteRespectsDependencyOrder(t *testing.T) {
	rec := &recorder{}
	spec := mustSpec(t, "ordered", []workflow.StepSpec{
		{ID: "fetch", Action: okAction(rec, "fetch", "data")},
		{ID: "parse", Action: okAction(rec, "parse", "parsed"), Requires: []string{"fetch"}},
		{ID: "store", Action: okAction(rec, "store", "stored"), Requires: []string{"parse"}},
	}, nil)

	result, err := New().Execute(context.Background(), spec, nil, workflow.RunContext{RequestID: "req-1"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != snapshot.StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	for _, id := range []string{"fetch", "parse", "store"} {
		if rec.count(id) != 1 {
			t.Fatalf("expected %s to run exactly once, ran %d times", id, rec.count(id))
		}
	}
	if rec.indexOf("fetch") > rec.indexOf("parse") || rec.indexOf("parse") > rec.indexOf("store") {
		t.Fatalf("dependency order violated: %v", rec.calls)
	}
}

func TestExecuteEmptySpecSucceeds(t *testing.T) {
	spec := mustSpec(t, "empty", nil, nil)
	result, err := New().Execute(context.Background(), spec, nil, workflow.RunContext{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != snapshot.StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if len(result.Env.Results()) != 0 {
		t.Fatalf("expected empty results")
	}
	if result.RequestID == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestExecuteRetriesUpToMaxAttempts(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	spec := mustSpec(t, "retry", []workflow.StepSpec{
		{
			ID:     "flaky",
			Action: failAction(rec, "flaky", boom),
			Retry:  workflow.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
		},
	}, nil)

	result, err := New().Execute(context.Background(), spec, nil, workflow.RunContext{RequestID: "req-2"})
	if err == nil {
		t.Fatalf("expected terminal failure")
	}
	if rec.count("flaky") != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", rec.count("flaky"))
	}
	var stepErr *workflow.StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepError, got %v", err)
	}
	if stepErr.StepID != "flaky" || !errors.Is(stepErr, boom) {
		t.Fatalf("unexpected step error: %+v", stepErr)
	}
	if result.Status != snapshot.StatusFailed {
		t.Fatalf("expected failed status, got %s", result.Status)
	}
	audit := result.Audit["flaky"]
	if audit.Attempts != 3 || audit.Status != workflow.StepStatusFailed {
		t.Fatalf("unexpected audit: %+v", audit)
	}
}

func TestExecuteAbortCarriesPartialEnvironment(t *testing.T) {
	rec := &recorder{}
	spec := mustSpec(t, "abort", []workflow.StepSpec{
		{ID: "first", Action: okAction(rec, "first", 1)},
		{ID: "bad", Action: failAction(rec, "bad", errors.New("nope")), Requires: []string{"first"}},
		{ID: "never", Action: okAction(rec, "never", 2), Requires: []string{"bad"}},
	}, nil)

	result, err := New().Execute(context.Background(), spec, nil, workflow.RunContext{RequestID: "req-3"})
	if err == nil {
		t.Fatalf("expected abort")
	}
	if rec.count("never") != 0 {
		t.Fatalf("step after abort must not run")
	}
	if _, ok := result.Env.Value("first"); !ok {
		t.Fatalf("expected partial environment to keep first's result")
	}
	if _, ok := result.Audit["first"]; !ok {
		t.Fatalf("expected audit trail for settled steps")
	}
}

func TestExecuteFanOutAggregateToleratesOneFailure(t *testing.T) {
	rec := &recorder{}
	var aggregated map[string]workflow.StepResult
	spec := mustSpec(t, "fanout", []workflow.StepSpec{
		{ID: "a", Action: okAction(rec, "a", "alpha")},
		{ID: "b", Action: failAction(rec, "b", errors.New("b down")), OnError: workflow.OnErrorContinue},
		{ID: "c", Action: okAction(rec, "c", "gamma")},
		{
			ID:       "combine",
			Requires: []string{"a", "b", "c"},
			Params: workflow.ComputedParams(func(env *workflow.Env) (map[string]any, error) {
				aggregated = env.Results()
				return map[string]any{}, nil
			}),
			Action: okAction(rec, "combine", "done"),
		},
	}, nil)

	result, err := New().Execute(context.Background(), spec, nil, workflow.RunContext{RequestID: "req-4"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rec.count("combine") != 1 {
		t.Fatalf("aggregation step must still run")
	}
	if len(aggregated) != 3 {
		t.Fatalf("expected 3 settled dependencies, got %d", len(aggregated))
	}
	if !aggregated["b"].Failed {
		t.Fatalf("expected error marker for b")
	}
	if aggregated["a"].Value != "alpha" || aggregated["c"].Value != "gamma" {
		t.Fatalf("unexpected sibling values: %+v", aggregated)
	}
	if result.Audit["b"].Status != workflow.StepStatusTolerated {
		t.Fatalf("expected tolerated audit for b, got %s", result.Audit["b"].Status)
	}
}

func TestExecuteProjectsOutputs(t *testing.T) {
	rec := &recorder{}
	spec := mustSpec(t, "outputs", []workflow.StepSpec{
		{ID: "translate", Action: okAction(rec, "translate", map[string]any{
			"text":  "bonjour",
			"usage": map[string]any{"tokens": 42},
		})},
	}, []workflow.OutputSpec{
		{Key: "translation", From: "translate", Path: "text"},
		{Key: "tokens", From: "translate", Path: "usage.tokens"},
		{Key: "missing", From: "translate", Path: "usage.cost"},
	})

	result, err := New().Execute(context.Background(), spec, nil, workflow.RunContext{RequestID: "req-5"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Outputs["translation"] != "bonjour" {
		t.Fatalf("unexpected translation output: %v", result.Outputs["translation"])
	}
	if result.Outputs["tokens"] != 42 {
		t.Fatalf("unexpected tokens output: %v", result.Outputs["tokens"])
	}
	if _, ok := result.OutputErrors["missing"]; !ok {
		t.Fatalf("expected per-output error for missing path")
	}
	if _, ok := result.Outputs["missing"]; ok {
		t.Fatalf("missing output must not resolve")
	}
}

func TestExecutePersistsSnapshots(t *testing.T) {
	store := snapshot.NewMemoryStore()
	rec := &recorder{}
	spec := mustSpec(t, "persisted", []workflow.StepSpec{
		{ID: "work", Action: okAction(rec, "work", "value")},
	}, nil)

	eng := New(WithSnapshotStore(store))
	result, err := eng.Execute(context.Background(), spec, "input", workflow.RunContext{
		RequestID: "req-6",
		Values:    map[string]any{"tenant": "acme"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.PersistErr != nil {
		t.Fatalf("unexpected persist error: %v", result.PersistErr)
	}
	snap, err := store.Get(context.Background(), "req-6")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snap.Status != snapshot.StatusCompleted || snap.Spec != "persisted" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Results["work"].Value != "value" {
		t.Fatalf("expected recorded result in snapshot, got %+v", snap.Results)
	}
	if snap.Context["tenant"] != "acme" {
		t.Fatalf("expected execution context in snapshot")
	}
}

func TestExecutePersistsFailureSnapshot(t *testing.T) {
	store := snapshot.NewMemoryStore()
	rec := &recorder{}
	spec := mustSpec(t, "failing", []workflow.StepSpec{
		{ID: "bad", Action: failAction(rec, "bad", errors.New("broken"))},
	}, nil)

	if _, err := New(WithSnapshotStore(store)).Execute(context.Background(), spec, nil, workflow.RunContext{RequestID: "req-7"}); err == nil {
		t.Fatalf("expected failure")
	}
	snap, err := store.Get(context.Background(), "req-7")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snap.Status != snapshot.StatusFailed || snap.LastStepID != "bad" {
		t.Fatalf("unexpected failure snapshot: %+v", snap)
	}
	if snap.Error == "" {
		t.Fatalf("expected terminal error recorded")
	}
}

func TestExecuteHonorsCancellation(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	spec := mustSpec(t, "cancelled", []workflow.StepSpec{
		{ID: "first", Action: workflow.ActionFunc(func(context.Context, map[string]any, workflow.RunContext) (any, error) {
			rec.record("first")
			cancel()
			return "ok", nil
		})},
		{ID: "second", Action: okAction(rec, "second", nil), Requires: []string{"first"}},
	}, nil)

	result, err := New().Execute(ctx, spec, nil, workflow.RunContext{RequestID: "req-8"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if rec.count("second") != 0 {
		t.Fatalf("later layer must not start after cancellation")
	}
	if result.Status != snapshot.StatusFailed {
		t.Fatalf("expected failed status, got %s", result.Status)
	}
}

func TestExecuteCascadeFallsThrough(t *testing.T) {
	rec := &recorder{}
	unavailable := unavailableAction{}
	failing := failAction(rec, "beta", errors.New("beta down"))
	winning := okAction(rec, "gamma", "gamma says hi")
	cascade, err := workflow.Cascade(
		workflow.CascadeCandidate{Name: "alpha", Action: unavailable},
		workflow.CascadeCandidate{Name: "beta", Action: failing},
		workflow.CascadeCandidate{Name: "gamma", Action: winning},
	)
	if err != nil {
		t.Fatalf("build cascade: %v", err)
	}
	spec := mustSpec(t, "cascade", []workflow.StepSpec{
		{ID: "provider", Action: cascade},
	}, []workflow.OutputSpec{{Key: "winner", From: "provider"}})

	result, execErr := New().Execute(context.Background(), spec, nil, workflow.RunContext{RequestID: "req-9"})
	if execErr != nil {
		t.Fatalf("execute: %v", execErr)
	}
	winner, ok := result.Outputs["winner"].(workflow.CascadeResult)
	if !ok {
		t.Fatalf("expected CascadeResult, got %T", result.Outputs["winner"])
	}
	if winner.Provider != "gamma" || winner.Position != 3 || winner.Candidates != 3 {
		t.Fatalf("unexpected cascade tag: %+v", winner)
	}
}

func TestExecuteCascadeAllProvidersFailed(t *testing.T) {
	rec := &recorder{}
	cascade, err := workflow.Cascade(
		workflow.CascadeCandidate{Name: "alpha", Action: unavailableAction{}},
		workflow.CascadeCandidate{Name: "beta", Action: failAction(rec, "beta", errors.New("beta down"))},
	)
	if err != nil {
		t.Fatalf("build cascade: %v", err)
	}
	spec := mustSpec(t, "cascade-fail", []workflow.StepSpec{
		{ID: "provider", Action: cascade},
	}, nil)

	_, execErr := New().Execute(context.Background(), spec, nil, workflow.RunContext{RequestID: "req-10"})
	if !errors.Is(execErr, workflow.ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", execErr)
	}
}

// unavailableAction reports itself off via the availability probe and fails
// loudly if dispatched anyway.
type unavailableAction struct{}

func (unavailableAction) Available() bool { return false }

func (unavailableAction) Run(context.Context, map[string]any, workflow.RunContext) (any, error) {
	return nil, fmt.Errorf("dispatched an unavailable provider")
}
