package signal

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Signal is a typed event envelope. Signals are created only by the router's
// Publish and are never mutated afterwards.
type Signal struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
	Meta Meta           `json:"meta"`
}

// Meta carries envelope metadata stamped at publish time.
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	Topic     string    `json:"topic"`
}

func newSignal(topic, wireType string, data map[string]any, now time.Time) Signal {
	clone := make(map[string]any, len(data))
	for key, value := range data {
		clone[key] = value
	}
	return Signal{
		ID:   uuid.New().String(),
		Type: wireType,
		Data: clone,
		Meta: Meta{Timestamp: now.UTC(), Topic: topic},
	}
}

// FieldType enumerates the payload value types a topic schema may require.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldInt    FieldType = "int"
	FieldFloat  FieldType = "float"
	FieldBool   FieldType = "bool"
	FieldMap    FieldType = "map"
	FieldList   FieldType = "list"
	FieldAny    FieldType = "any"
)

// Field declares one schema entry. Order matters only for documentation; the
// validator treats the schema as a set.
type Field struct {
	Name     string    `yaml:"name" json:"name"`
	Type     FieldType `yaml:"type" json:"type"`
	Required bool      `yaml:"required,omitempty" json:"required,omitempty"`
}

// Schema is the ordered field list attached to a topic registration.
type Schema []Field

// Validate checks a payload against the schema. It reports every violation at
// once rather than stopping at the first.
func (s Schema) Validate(data map[string]any) error {
	var missing, mistyped []string
	for _, field := range s {
		value, ok := data[field.Name]
		if !ok {
			if field.Required {
				missing = append(missing, field.Name)
			}
			continue
		}
		if !matchesType(value, field.Type) {
			mistyped = append(mistyped, fmt.Sprintf("%s (want %s)", field.Name, field.Type))
		}
	}
	if len(missing) == 0 && len(mistyped) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(mistyped)
	return &SchemaViolationError{Missing: missing, Mistyped: mistyped}
}

func matchesType(value any, ft FieldType) bool {
	if value == nil {
		return ft == FieldAny
	}
	switch ft {
	case FieldAny:
		return true
	case FieldString:
		_, ok := value.(string)
		return ok
	case FieldBool:
		_, ok := value.(bool)
		return ok
	case FieldInt:
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
		return false
	case FieldFloat:
		switch value.(type) {
		case float32, float64, int, int32, int64:
			return true
		}
		return false
	case FieldMap:
		_, ok := value.(map[string]any)
		return ok
	case FieldList:
		switch value.(type) {
		case []any, []string, []int, []float64, []map[string]any:
			return true
		}
		return false
	}
	return false
}

// SchemaViolationError reports a publish payload that fails its topic schema.
type SchemaViolationError struct {
	Topic    string
	Missing  []string
	Mistyped []string
}

func (e *SchemaViolationError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Mistyped) > 0 {
		parts = append(parts, "mistyped fields: "+strings.Join(e.Mistyped, ", "))
	}
	topic := e.Topic
	if topic == "" {
		topic = "payload"
	}
	return fmt.Sprintf("signal: %s schema violation: %s", topic, strings.Join(parts, "; "))
}

// InvalidTopicError reports an operation against a topic that was never
// registered.
type InvalidTopicError struct {
	Topic string
}

func (e *InvalidTopicError) Error() string {
	return fmt.Sprintf("signal: topic %s is not registered", e.Topic)
}
