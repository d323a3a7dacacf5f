package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Action is the uniform contract every step capability implements. Actions
// are external collaborators; the engine only ever calls Run.
type Action interface {
	Run(ctx context.Context, params map[string]any, rc RunContext) (any, error)
}

// Availability is an optional capability check consulted before dispatch by
// action-selecting workflows such as cascades.
type Availability interface {
	Available() bool
}

// ActionFunc adapts a function into an Action.
type ActionFunc func(ctx context.Context, params map[string]any, rc RunContext) (any, error)

// Run executes the function.
func (f ActionFunc) Run(ctx context.Context, params map[string]any, rc RunContext) (any, error) {
	return f(ctx, params, rc)
}

// ActionRegistry maintains named action factories so declarative workflow
// files can reference capabilities by name.
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewActionRegistry returns an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{actions: map[string]Action{}}
}

// Register installs an action. Returns an error if the name already exists.
func (r *ActionRegistry) Register(name string, action Action) error {
	if name == "" {
		return fmt.Errorf("workflow: action name is required")
	}
	if action == nil {
		return fmt.Errorf("workflow: action is required for %s", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[name]; exists {
		return fmt.Errorf("workflow: action %s already registered", name)
	}
	r.actions[name] = action
	return nil
}

// MustRegister panics if registration fails.
func (r *ActionRegistry) MustRegister(name string, action Action) {
	if err := r.Register(name, action); err != nil {
		panic(err)
	}
}

// Resolve returns a registered action by name.
func (r *ActionRegistry) Resolve(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	action, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("workflow: unknown action %s", name)
	}
	return action, nil
}

// Names returns the registered action names, sorted.
func (r *ActionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
