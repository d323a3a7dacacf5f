package signal

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Topic is one catalogue entry mapping a topic name to its wire type and
// payload schema.
type Topic struct {
	Name     string `yaml:"name" json:"name"`
	WireType string `yaml:"type" json:"type"`
	Schema   Schema `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// TopicRegistry is the mutable topic catalogue. Registrations may be added at
// runtime; once added a topic is never silently removed, so subscribers can
// rely on a topic staying publishable.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]Topic
}

// NewTopicRegistry returns an empty catalogue.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: map[string]Topic{}}
}

// RegisterTopic installs or overwrites a catalogue entry.
func (r *TopicRegistry) RegisterTopic(name, wireType string, schema Schema) error {
	name = normalizeTopic(name)
	if name == "" {
		return fmt.Errorf("signal: topic name is required")
	}
	if wireType == "" {
		return fmt.Errorf("signal: wire type is required for topic %s", name)
	}
	for _, field := range schema {
		if strings.TrimSpace(field.Name) == "" {
			return fmt.Errorf("signal: topic %s schema has a field without a name", name)
		}
	}
	entry := Topic{
		Name:     name,
		WireType: wireType,
		Schema:   append(Schema(nil), schema...),
	}
	r.mu.Lock()
	r.topics[name] = entry
	r.mu.Unlock()
	return nil
}

// Topic returns the registration for a topic name.
func (r *TopicRegistry) Topic(name string) (Topic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.topics[normalizeTopic(name)]
	return entry, ok
}

// Topics returns every registration sorted by name.
func (r *TopicRegistry) Topics() []Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Topic, 0, len(r.topics))
	for _, entry := range r.topics {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate checks a payload against the named topic's schema.
func (r *TopicRegistry) Validate(name string, data map[string]any) error {
	entry, ok := r.Topic(name)
	if !ok {
		return &InvalidTopicError{Topic: normalizeTopic(name)}
	}
	if err := entry.Schema.Validate(data); err != nil {
		if violation, ok := err.(*SchemaViolationError); ok {
			violation.Topic = entry.Name
		}
		return err
	}
	return nil
}

func normalizeTopic(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}
