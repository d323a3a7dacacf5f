package workflow

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Params is the tagged union for per-step parameters: either a static mapping
// declared up front, or a pure function of the accumulated environment that is
// evaluated once the step's dependencies have settled.
type Params interface {
	resolve(env *Env) (map[string]any, error)
}

// StaticParams is a fixed parameter mapping.
type StaticParams map[string]any

func (p StaticParams) resolve(*Env) (map[string]any, error) {
	if len(p) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(p))
	for key, value := range p {
		out[key] = value
	}
	return out, nil
}

// ComputedParams derives the parameter mapping from prior step results. The
// function must not mutate the environment.
type ComputedParams func(env *Env) (map[string]any, error)

func (p ComputedParams) resolve(env *Env) (map[string]any, error) {
	if p == nil {
		return map[string]any{}, nil
	}
	out, err := p(env)
	if err != nil {
		return nil, fmt.Errorf("workflow: compute params: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// ResolveParams evaluates the union against the environment. A nil Params
// resolves to an empty mapping.
func ResolveParams(p Params, env *Env) (map[string]any, error) {
	if p == nil {
		return map[string]any{}, nil
	}
	return p.resolve(env)
}

// DecodeParams decodes a resolved parameter mapping into a typed struct so
// actions do not hand-check map keys.
func DecodeParams(params map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "param",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("workflow: build params decoder: %w", err)
	}
	if err := decoder.Decode(params); err != nil {
		return fmt.Errorf("workflow: decode params: %w", err)
	}
	return nil
}
