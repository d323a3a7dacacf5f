package workflow

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// specFile mirrors the YAML shape of a declarative workflow file. Only static
// params can be expressed in a file; computed params require code.
type specFile struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`
	Steps       []stepFile        `yaml:"steps"`
	Outputs     []outputFile      `yaml:"outputs,omitempty"`
}

type stepFile struct {
	ID       string            `yaml:"id"`
	Action   string            `yaml:"action"`
	Params   map[string]any    `yaml:"params,omitempty"`
	Requires []string          `yaml:"requires,omitempty"`
	Retry    retryFile         `yaml:"retry,omitempty"`
	OnError  string            `yaml:"on_error,omitempty"`
	Label    string            `yaml:"label,omitempty"`
	Metadata map[string]string `yaml:"metadata,omitempty"`
}

type retryFile struct {
	MaxAttempts int    `yaml:"max_attempts,omitempty"`
	BackoffMs   int    `yaml:"backoff_ms,omitempty"`
	Strategy    string `yaml:"strategy,omitempty"`
}

type outputFile struct {
	Key         string `yaml:"key"`
	From        string `yaml:"from"`
	Path        string `yaml:"path,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// ParseSpecYAML decodes a workflow file and binds its action references
// against the registry.
func ParseSpecYAML(data []byte, actions *ActionRegistry) (*Spec, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("workflow: definition payload is empty")
	}
	if actions == nil {
		return nil, fmt.Errorf("workflow: action registry is required")
	}
	var file specFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("workflow: decode definition: %w", err)
	}
	steps := make([]StepSpec, 0, len(file.Steps))
	for idx, raw := range file.Steps {
		if raw.Action == "" {
			return nil, validationErrorf(file.Name, "step[%d] is missing an action reference", idx)
		}
		action, err := actions.Resolve(raw.Action)
		if err != nil {
			return nil, err
		}
		step := StepSpec{
			ID:       raw.ID,
			Action:   action,
			Requires: raw.Requires,
			Label:    raw.Label,
			Metadata: raw.Metadata,
			OnError:  OnError(raw.OnError).normalized(),
			Retry: RetryPolicy{
				MaxAttempts: raw.Retry.MaxAttempts,
				Backoff:     time.Duration(raw.Retry.BackoffMs) * time.Millisecond,
			},
		}
		if raw.Retry.Strategy == "exponential" {
			step.Retry.Strategy = ExponentialBackoff{}
		}
		if len(raw.Params) > 0 {
			step.Params = StaticParams(raw.Params)
		}
		steps = append(steps, step)
	}
	outputs := make([]OutputSpec, 0, len(file.Outputs))
	for _, raw := range file.Outputs {
		outputs = append(outputs, OutputSpec{
			Key:         raw.Key,
			From:        raw.From,
			Path:        raw.Path,
			Description: raw.Description,
		})
	}
	return NewSpec(file.Name, file.Description, file.Metadata, steps, outputs)
}

// LoadSpecReader reads workflow definition data from an io.Reader.
func LoadSpecReader(r io.Reader, actions *ActionRegistry) (*Spec, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("workflow: read definition: %w", err)
	}
	return ParseSpecYAML(content, actions)
}

// LoadSpecFile loads a workflow definition from an explicit file path.
func LoadSpecFile(path string, actions *ActionRegistry) (*Spec, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	spec, parseErr := ParseSpecYAML(content, actions)
	if parseErr != nil {
		return nil, fmt.Errorf("workflow: %s: %w", path, parseErr)
	}
	return spec, nil
}
