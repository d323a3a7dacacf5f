package signal

import (
	"errors"
	"testing"
)

func TestRegisterTopicOverwrites(t *testing.T) {
	registry := NewTopicRegistry()
	if err := registry.RegisterTopic("agent.lifecycle", "v1", Schema{{Name: "agent_id", Type: FieldString, Required: true}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.RegisterTopic("Agent.Lifecycle", "v2", Schema{{Name: "agent_id", Type: FieldString}}); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	entry, ok := registry.Topic("agent.lifecycle")
	if !ok {
		t.Fatalf("topic missing after re-register")
	}
	if entry.WireType != "v2" {
		t.Fatalf("expected overwrite to win, got wire type %s", entry.WireType)
	}
	if len(registry.Topics()) != 1 {
		t.Fatalf("expected one catalogue entry, got %d", len(registry.Topics()))
	}
}

func TestRegisterTopicRejectsBadInput(t *testing.T) {
	registry := NewTopicRegistry()
	if err := registry.RegisterTopic("", "v1", nil); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if err := registry.RegisterTopic("t", "", nil); err == nil {
		t.Fatalf("expected error for empty wire type")
	}
	if err := registry.RegisterTopic("t", "v1", Schema{{Name: "  ", Type: FieldString}}); err == nil {
		t.Fatalf("expected error for unnamed schema field")
	}
}

func TestValidateAgainstUnknownTopic(t *testing.T) {
	registry := NewTopicRegistry()
	err := registry.Validate("nope", map[string]any{})
	var invalid *InvalidTopicError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTopicError, got %v", err)
	}
}

func TestSchemaFieldTypes(t *testing.T) {
	schema := Schema{
		{Name: "name", Type: FieldString, Required: true},
		{Name: "count", Type: FieldInt, Required: true},
		{Name: "ratio", Type: FieldFloat},
		{Name: "enabled", Type: FieldBool},
		{Name: "tags", Type: FieldList},
		{Name: "extra", Type: FieldMap},
		{Name: "anything", Type: FieldAny},
	}
	ok := map[string]any{
		"name":     "alpha",
		"count":    3,
		"ratio":    0.5,
		"enabled":  true,
		"tags":     []string{"a"},
		"extra":    map[string]any{"k": "v"},
		"anything": nil,
	}
	if err := schema.Validate(ok); err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}
	bad := map[string]any{"name": 1, "count": "three"}
	err := schema.Validate(bad)
	var violation *SchemaViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected SchemaViolationError, got %v", err)
	}
	if len(violation.Mistyped) != 2 {
		t.Fatalf("expected two mistyped fields, got %+v", violation.Mistyped)
	}
}
