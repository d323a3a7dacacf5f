package workflow

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const translateYAML = `
name: translate
description: detect then translate
metadata:
  version: "2"
steps:
  - id: detect
    action: detect-language
    params:
      sample_size: 120
  - id: translate
    action: translate-text
    requires: [detect]
    on_error: continue
    retry:
      max_attempts: 3
      backoff_ms: 250
      strategy: exponential
outputs:
  - key: translation
    from: translate
    path: text
`

func loaderRegistry(t *testing.T) *ActionRegistry {
	t.Helper()
	registry := NewActionRegistry()
	registry.MustRegister("detect-language", noopAction())
	registry.MustRegister("translate-text", noopAction())
	return registry
}

func TestParseSpecYAML(t *testing.T) {
	spec, err := ParseSpecYAML([]byte(translateYAML), loaderRegistry(t))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if spec.Name() != "translate" || spec.Metadata()["version"] != "2" {
		t.Fatalf("unexpected header: name=%s metadata=%v", spec.Name(), spec.Metadata())
	}
	step, ok := spec.Step("translate")
	if !ok {
		t.Fatalf("expected translate step")
	}
	if step.OnError != OnErrorContinue {
		t.Fatalf("expected continue policy, got %s", step.OnError)
	}
	if step.Retry.MaxAttempts != 3 || step.Retry.Backoff != 250*time.Millisecond {
		t.Fatalf("unexpected retry policy: %+v", step.Retry)
	}
	if _, ok := step.Retry.Strategy.(ExponentialBackoff); !ok {
		t.Fatalf("expected exponential strategy, got %T", step.Retry.Strategy)
	}
	detect, _ := spec.Step("detect")
	params, err := ResolveParams(detect.Params, NewEnv(nil, RunContext{}))
	if err != nil {
		t.Fatalf("resolve params: %v", err)
	}
	if params["sample_size"] != 120 {
		t.Fatalf("unexpected static params: %v", params)
	}
	outputs := spec.Outputs()
	if len(outputs) != 1 || outputs[0].Key != "translation" || outputs[0].Path != "text" {
		t.Fatalf("unexpected outputs: %+v", outputs)
	}
}

func TestParseSpecYAMLUnknownAction(t *testing.T) {
	registry := NewActionRegistry()
	_, err := ParseSpecYAML([]byte(translateYAML), registry)
	if err == nil || !strings.Contains(err.Error(), "unknown action") {
		t.Fatalf("expected unknown action error, got %v", err)
	}
}

func TestParseSpecYAMLEmptyPayload(t *testing.T) {
	if _, err := ParseSpecYAML([]byte("   \n"), loaderRegistry(t)); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestParseSpecYAMLValidatesGraph(t *testing.T) {
	registry := loaderRegistry(t)
	payload := `
name: cyclic
steps:
  - id: a
    action: detect-language
    requires: [b]
  - id: b
    action: translate-text
    requires: [a]
`
	_, err := ParseSpecYAML([]byte(payload), registry)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoadSpecReader(t *testing.T) {
	spec, err := LoadSpecReader(strings.NewReader(translateYAML), loaderRegistry(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	layers, err := spec.Layers()
	if err != nil {
		t.Fatalf("layers: %v", err)
	}
	if len(layers) != 2 {
		t.Fatalf("expected 2 layers, got %v", layers)
	}
}

func TestActionRegistryDuplicate(t *testing.T) {
	registry := NewActionRegistry()
	if err := registry.Register("dup", noopAction()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register("dup", noopAction()); err == nil {
		t.Fatalf("expected duplicate rejection")
	}
	names := registry.Names()
	if len(names) != 1 || names[0] != "dup" {
		t.Fatalf("unexpected names: %v", names)
	}
}
