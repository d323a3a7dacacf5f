package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/oakmund/convoy/internal/workflow"
)

// runStoreContract exercises the Store semantics every adapter must honor.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing snapshot, got %v", err)
	}
	if err := store.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing delete, got %v", err)
	}

	first := &Snapshot{
		RequestID: "req-1",
		Spec:      "translate",
		Status:    StatusRunning,
		Input:     "hello",
		Results: map[string]StepOutcome{
			"detect": {Value: "en"},
		},
		Audit: map[string]workflow.StepAudit{
			"detect": {StepID: "detect", Attempts: 1, Status: workflow.StepStatusSucceeded},
		},
	}
	if err := store.Upsert(ctx, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	stored, err := store.Get(ctx, "req-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusRunning || stored.Spec != "translate" {
		t.Fatalf("unexpected stored snapshot: %+v", stored)
	}
	if stored.CreatedAt.IsZero() || stored.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps stamped on upsert")
	}

	// Second upsert with a different payload: identity and creation time
	// survive, everything else is replaced.
	second := &Snapshot{
		RequestID: "req-1",
		Spec:      "translate",
		Status:    StatusCompleted,
		Results: map[string]StepOutcome{
			"detect":    {Value: "en"},
			"translate": {Value: "bonjour"},
		},
	}
	if err := store.Upsert(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	replaced, err := store.Get(ctx, "req-1")
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if replaced.Status != StatusCompleted {
		t.Fatalf("expected second payload to win, got %+v", replaced)
	}
	if len(replaced.Results) != 2 {
		t.Fatalf("expected replaced results, got %+v", replaced.Results)
	}
	if !replaced.CreatedAt.Equal(stored.CreatedAt) {
		t.Fatalf("creation time changed on overwrite: %s vs %s", replaced.CreatedAt, stored.CreatedAt)
	}

	if err := store.Delete(ctx, "req-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "req-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}
