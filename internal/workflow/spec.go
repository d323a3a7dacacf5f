package workflow

import (
	"sort"
	"strings"
)

// StepSpec declares one unit of work inside a Spec.
type StepSpec struct {
	ID       string
	Action   Action
	Params   Params
	Requires []string
	Retry    RetryPolicy
	OnError  OnError
	Label    string
	Metadata map[string]string
}

// OutputSpec projects one step result into the execution's final output map.
type OutputSpec struct {
	// Key names the entry in the final result.
	Key string
	// From is the source step id.
	From string
	// Path optionally navigates into the step result ("usage.tokens").
	Path string
	// Description is informational only.
	Description string
}

// Spec is an immutable declarative description of a step DAG plus its output
// projection. Construction validates the graph; accessors return clones so a
// Spec can be shared between executions.
type Spec struct {
	name        string
	description string
	metadata    map[string]string
	steps       []StepSpec
	outputs     []OutputSpec
	byID        map[string]int
}

// NewSpec validates and freezes a workflow declaration. It fails with a
// *ValidationError when a step id repeats, a requires entry names an
// undeclared step, the requires relation contains a cycle, or an output
// references an undeclared step.
func NewSpec(name, description string, metadata map[string]string, steps []StepSpec, outputs []OutputSpec) (*Spec, error) {
	if strings.TrimSpace(name) == "" {
		return nil, validationErrorf("", "name is required")
	}
	byID := make(map[string]int, len(steps))
	for idx, step := range steps {
		id := strings.TrimSpace(step.ID)
		if id == "" {
			return nil, validationErrorf(name, "step[%d] is missing an id", idx)
		}
		if step.Action == nil {
			return nil, validationErrorf(name, "step %s has no action", id)
		}
		if _, dup := byID[id]; dup {
			return nil, validationErrorf(name, "duplicate step id %s", id)
		}
		byID[id] = idx
	}
	for _, step := range steps {
		for _, dep := range step.Requires {
			if _, ok := byID[dep]; !ok {
				return nil, validationErrorf(name, "step %s requires unknown step %s", step.ID, dep)
			}
			if dep == step.ID {
				return nil, validationErrorf(name, "step %s requires itself", step.ID)
			}
		}
	}
	for _, out := range outputs {
		if strings.TrimSpace(out.Key) == "" {
			return nil, validationErrorf(name, "output is missing a key")
		}
		if _, ok := byID[out.From]; !ok {
			return nil, validationErrorf(name, "output %s references unknown step %s", out.Key, out.From)
		}
	}
	spec := &Spec{
		name:        name,
		description: description,
		metadata:    cloneStringMap(metadata),
		steps:       cloneSteps(steps),
		outputs:     append([]OutputSpec(nil), outputs...),
		byID:        byID,
	}
	if _, err := spec.Layers(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Name returns the spec's name.
func (s *Spec) Name() string { return s.name }

// Description returns the spec's description.
func (s *Spec) Description() string { return s.description }

// Metadata returns a copy of the spec metadata.
func (s *Spec) Metadata() map[string]string { return cloneStringMap(s.metadata) }

// Steps returns the declared steps in order.
func (s *Spec) Steps() []StepSpec { return cloneSteps(s.steps) }

// Outputs returns the declared output projections.
func (s *Spec) Outputs() []OutputSpec { return append([]OutputSpec(nil), s.outputs...) }

// Step returns the declaration for one id.
func (s *Spec) Step(id string) (StepSpec, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return StepSpec{}, false
	}
	return cloneStep(s.steps[idx]), true
}

// Layers partitions the step graph into ordered layers: every step in layer k
// has all of its requires satisfied by layers < k (Kahn-style topological
// layering). A cycle yields a *ValidationError; spec construction already
// rejects cycles, so hitting this at execution time is a safety net.
func (s *Spec) Layers() ([][]string, error) {
	indegree := make(map[string]int, len(s.steps))
	dependents := make(map[string][]string, len(s.steps))
	for _, step := range s.steps {
		indegree[step.ID] = len(step.Requires)
		for _, dep := range step.Requires {
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}
	current := make([]string, 0, len(s.steps))
	for _, step := range s.steps {
		if indegree[step.ID] == 0 {
			current = append(current, step.ID)
		}
	}
	var layers [][]string
	settled := 0
	for len(current) > 0 {
		sort.Strings(current)
		layers = append(layers, current)
		settled += len(current)
		var next []string
		for _, id := range current {
			for _, dependent := range dependents[id] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}
	if settled != len(s.steps) {
		remaining := make([]string, 0, len(s.steps)-settled)
		for id, degree := range indegree {
			if degree > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return nil, validationErrorf(s.name, "dependency cycle involving %s", strings.Join(remaining, ", "))
	}
	return layers, nil
}

func cloneSteps(steps []StepSpec) []StepSpec {
	if len(steps) == 0 {
		return nil
	}
	out := make([]StepSpec, len(steps))
	for i, step := range steps {
		out[i] = cloneStep(step)
	}
	return out
}

func cloneStep(step StepSpec) StepSpec {
	clone := step
	if len(step.Requires) > 0 {
		clone.Requires = append([]string(nil), step.Requires...)
	}
	clone.Metadata = cloneStringMap(step.Metadata)
	return clone
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	clone := make(map[string]string, len(values))
	for key, value := range values {
		clone[key] = value
	}
	return clone
}
