package agent

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrAlreadyRegistered is returned when a (bus, name) key is taken.
	ErrAlreadyRegistered = errors.New("agent: name already registered")
	// ErrNotFound is returned when a (bus, name) key has no entry.
	ErrNotFound = errors.New("agent: not found")
)

// Registry is a keyed directory of live agent handles. Keys are namespaced by
// a bus identifier so co-existing orchestrator instances (for example isolated
// test runtimes) never collide on process identity.
//
// Entry lifetime: an entry is removed exactly when its owning liveness watch
// fires or when the reconciler deliberately stops the agent.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]any
}

// NewRegistry returns an empty directory.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]any{}}
}

// Register installs a handle under the bus-scoped key.
func (r *Registry) Register(bus, name string, handle any) error {
	key, err := registryKey(bus, name)
	if err != nil {
		return err
	}
	if handle == nil {
		return fmt.Errorf("agent: handle is required for %s", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, key)
	}
	r.entries[key] = handle
	return nil
}

// Lookup returns the handle registered under the bus-scoped key.
func (r *Registry) Lookup(bus, name string) (any, error) {
	key, err := registryKey(bus, name)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return handle, nil
}

// Unregister removes the entry. Removing a missing entry is a no-op.
func (r *Registry) Unregister(bus, name string) {
	key, err := registryKey(bus, name)
	if err != nil {
		return
	}
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
}

// Names returns the registered names for one bus, sorted.
func (r *Registry) Names(bus string) []string {
	prefix := strings.TrimSpace(bus) + "/"
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for key := range r.entries {
		if strings.HasPrefix(key, prefix) {
			names = append(names, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(names)
	return names
}

func registryKey(bus, name string) (string, error) {
	bus = strings.TrimSpace(bus)
	name = strings.TrimSpace(name)
	if bus == "" {
		return "", fmt.Errorf("agent: bus identifier is required")
	}
	if name == "" {
		return "", fmt.Errorf("agent: name is required")
	}
	return bus + "/" + name, nil
}
